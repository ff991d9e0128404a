package protocol

const (
	MethodQuery          = "bevy/query"
	MethodGet            = "bevy/get"
	MethodSet            = "bevy/set"
	MethodSpawn          = "bevy/spawn"
	MethodDestroy        = "bevy/destroy"
	MethodListComponents = "bevy/list_components"
	MethodListEntities   = "bevy/list_entities"
	MethodScreenshot     = "bevy_debugger/screenshot"
	MethodDebugCommand   = "bevy_debugger/debug_command"
)

const (
	ResultEntities       = "entities"
	ResultEntity         = "entity"
	ResultEntityID       = "entity_id"
	ResultComponentTypes = "component_types"
	ResultSuccess        = "success"
	ResultScreenshot     = "screenshot"
	ResultDebug          = "debug"
)

const (
	CodeEntityNotFound       = "entity_not_found"
	CodeComponentNotFound    = "component_not_found"
	CodeInvalidComponentData = "invalid_component_data"
	CodeInvalidQuery         = "invalid_query"
	CodePermissionDenied     = "permission_denied"
	CodeInternalError        = "internal_error"
	CodeTimeout              = "timeout"
)

var knownResultTypes = map[string]bool{
	ResultEntities:       true,
	ResultEntity:         true,
	ResultEntityID:       true,
	ResultComponentTypes: true,
	ResultSuccess:        true,
	ResultScreenshot:     true,
	ResultDebug:          true,
}

var knownErrorCodes = map[string]bool{
	CodeEntityNotFound:       true,
	CodeComponentNotFound:    true,
	CodeInvalidComponentData: true,
	CodeInvalidQuery:         true,
	CodePermissionDenied:     true,
	CodeInternalError:        true,
	CodeTimeout:              true,
}

// Methods lists every method the remote debug protocol accepts.
func Methods() []string {
	return []string{
		MethodQuery,
		MethodGet,
		MethodSet,
		MethodSpawn,
		MethodDestroy,
		MethodListComponents,
		MethodListEntities,
		MethodScreenshot,
		MethodDebugCommand,
	}
}
