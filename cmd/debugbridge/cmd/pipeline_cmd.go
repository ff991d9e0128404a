package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"debugbridge/internal/logging"
	"debugbridge/internal/orchestrator"
	"debugbridge/internal/tools"

	"github.com/spf13/cobra"
)

func NewPipelineCmd() *cobra.Command {
	pipelineCmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Validate and run tool pipelines",
	}
	pipelineCmd.AddCommand(newPipelineValidateCmd())
	pipelineCmd.AddCommand(newPipelineRunCmd())
	pipelineCmd.AddCommand(newPipelineTemplatesCmd())
	return pipelineCmd
}

func newPipelineValidateCmd() *cobra.Command {
	var file, template string
	c := &cobra.Command{
		Use:   "validate",
		Short: "Check a pipeline file or template without running it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig("")
			if err != nil {
				return err
			}
			sub, err := readSubmission(template, file)
			if err != nil {
				return err
			}
			// Validation needs the registry and allowlist but no connection.
			orch := offlineOrchestrator(cfg.Orchestrator.AllowedTools)
			p, err := orch.Resolve(sub)
			if err != nil {
				return err
			}
			if err := orch.ValidatePipeline(p); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %s (%d steps)\n", p.Name, len(p.Steps))
			return nil
		},
	}
	c.Flags().StringVar(&file, "file", "", "pipeline file (.json, .yaml, .toml)")
	c.Flags().StringVar(&template, "template", "", "built-in template name")
	return c
}

func newPipelineRunCmd() *cobra.Command {
	var file, template string
	var noCache bool

	c := &cobra.Command{
		Use:   "run",
		Short: "Connect to the game process, run a pipeline and print its result",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := logging.FromContext(ctx)

			cfg, err := loadConfig("")
			if err != nil {
				return err
			}
			sub, err := readSubmission(template, file)
			if err != nil {
				return err
			}
			rt, err := newRuntime(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() {
				if err := rt.Close(context.WithoutCancel(ctx)); err != nil {
					logger.Warn("shutdown", "err", err)
				}
			}()

			p, err := rt.orch.Resolve(sub)
			if err != nil {
				return err
			}
			if err := rt.client.ConnectWithRetry(ctx); err != nil {
				return err
			}

			tcCfg := orchestrator.DefaultToolContextConfig()
			tcCfg.CacheResults = !noCache
			tc := orchestrator.NewToolContext(tcCfg)
			res, runErr := rt.orch.ExecutePipeline(ctx, p, tc)
			if res != nil {
				if err := writeIndentedJSON(cmd.OutOrStdout(), map[string]any{
					"pipeline_result": res,
					"context":         tc.Summary(),
				}); err != nil {
					return err
				}
			}
			return runErr
		},
	}
	c.Flags().StringVar(&file, "file", "", "pipeline file (.json, .yaml, .toml)")
	c.Flags().StringVar(&template, "template", "", "built-in template name")
	c.Flags().BoolVar(&noCache, "no-cache", false, "do not reuse cached step results")
	return c
}

func newPipelineTemplatesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "templates",
		Short: "List built-in pipeline templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSTEPS\tDESCRIPTION")
			for _, t := range offlineOrchestrator(nil).Templates() {
				fmt.Fprintf(w, "%s\t%d\t%s\n", t.Name, t.Steps, t.Description)
			}
			return w.Flush()
		},
	}
}

// readSubmission builds a submission from exactly one of template and file.
func readSubmission(template, file string) (orchestrator.Submission, error) {
	switch {
	case template != "" && file != "":
		return orchestrator.Submission{}, fmt.Errorf("use either --template or --file, not both")
	case template != "":
		return orchestrator.Submission{Template: template}, nil
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return orchestrator.Submission{}, err
		}
		p, err := orchestrator.DecodePipeline(data, orchestrator.FormatFromPath(file))
		if err != nil {
			return orchestrator.Submission{}, fmt.Errorf("%s: %w", file, err)
		}
		return orchestrator.Submission{Pipeline: p}, nil
	default:
		return orchestrator.Submission{}, fmt.Errorf("missing --template or --file")
	}
}

// offlineOrchestrator has every tool and template registered but no remote
// client, for commands that only inspect pipelines.
func offlineOrchestrator(allowed []string) *orchestrator.Orchestrator {
	orch := orchestrator.New(orchestrator.Options{AllowedTools: allowed})
	tools.Register(orch)
	orch.RegisterBuiltinTemplates()
	return orch
}
