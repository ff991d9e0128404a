// Package jobs runs pipeline submissions queued on a redis stream and stores
// their results for later lookup.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"debugbridge/internal/apperr"
	"debugbridge/internal/logging"
	"debugbridge/internal/orchestrator"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"

	readCount = 16
	readBlock = time.Second
)

// Result is stored under the job's stream message id.
type Result struct {
	ID             string                       `json:"id"`
	Status         string                       `json:"status"`
	Error          string                       `json:"error,omitempty"`
	Message        string                       `json:"message,omitempty"`
	PipelineResult *orchestrator.PipelineResult `json:"pipeline_result,omitempty"`
	FinishedAt     time.Time                    `json:"finished_at"`
}

type Options struct {
	Stream   string
	Group    string
	Consumer string
	// KeyPrefix namespaces result keys; results live at KeyPrefix+"job:"+id.
	KeyPrefix     string
	ResultTTL     time.Duration
	ContextConfig orchestrator.ToolContextConfig
	Logger        logging.Logger
}

type Consumer struct {
	redis    *redis.Client
	orch     *orchestrator.Orchestrator
	stream   string
	group    string
	consumer string
	prefix   string
	ttl      time.Duration
	ctxCfg   orchestrator.ToolContextConfig
	logger   logging.Logger
}

func NewConsumer(client *redis.Client, orch *orchestrator.Orchestrator, opts Options) *Consumer {
	c := &Consumer{
		redis:    client,
		orch:     orch,
		stream:   opts.Stream,
		group:    opts.Group,
		consumer: opts.Consumer,
		prefix:   opts.KeyPrefix,
		ttl:      opts.ResultTTL,
		ctxCfg:   opts.ContextConfig,
		logger:   opts.Logger,
	}
	if c.consumer == "" {
		c.consumer = defaultConsumerName()
	}
	if c.ttl <= 0 {
		c.ttl = time.Hour
	}
	if c.ctxCfg == (orchestrator.ToolContextConfig{}) {
		c.ctxCfg = orchestrator.DefaultToolContextConfig()
	}
	if c.logger == nil {
		c.logger = logging.Discard()
	}
	return c
}

// Enqueue appends a RunRequest body to stream and returns the job id.
func Enqueue(ctx context.Context, client *redis.Client, stream string, request []byte) (string, error) {
	return client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{"request": string(request)},
	}).Result()
}

// Run consumes the stream until ctx is done. The consumer group is created
// from the start of the stream so jobs queued while no consumer ran are
// picked up.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.ensureGroup(ctx); err != nil {
		return err
	}
	c.logger.Info("job consumer started", "stream", c.stream, "group", c.group, "consumer", c.consumer)
	for {
		if ctx.Err() != nil {
			return nil
		}
		if _, err := c.poll(ctx, readBlock); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Warn("redis xreadgroup failed", "err", err.Error())
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(readBlock):
			}
		}
	}
}

func (c *Consumer) ensureGroup(ctx context.Context) error {
	err := c.redis.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !strings.Contains(strings.ToLower(err.Error()), "busygroup") {
		return fmt.Errorf("create consumer group %s on %s: %w", c.group, c.stream, err)
	}
	return nil
}

// poll reads one batch, runs every job in it and acknowledges each message
// whether or not its job succeeded. It returns the number of jobs handled.
func (c *Consumer) poll(ctx context.Context, block time.Duration) (int, error) {
	streams, err := c.redis.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  []string{c.stream, ">"},
		Count:    readCount,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n := 0
	for _, st := range streams {
		for _, msg := range st.Messages {
			if err := c.handle(ctx, msg); err != nil {
				c.logger.Warn("store job result failed", "id", msg.ID, "err", err.Error())
			}
			if err := c.redis.XAck(context.WithoutCancel(ctx), c.stream, c.group, msg.ID).Err(); err != nil {
				c.logger.Warn("ack job failed, message stays pending", "id", msg.ID, "err", err.Error())
			}
			n++
		}
	}
	return n, nil
}

func (c *Consumer) handle(ctx context.Context, msg redis.XMessage) error {
	res := c.execute(ctx, msg)
	res.ID = msg.ID
	res.FinishedAt = time.Now().UTC()
	if res.Status == StatusFailed {
		c.logger.Warn("job failed", "id", msg.ID, "error", res.Error, "message", res.Message)
	} else {
		c.logger.Info("job completed", "id", msg.ID, "pipeline", res.PipelineResult.Name)
	}

	b, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return c.redis.Set(context.WithoutCancel(ctx), resultKey(c.prefix, msg.ID), b, c.ttl).Err()
}

func (c *Consumer) execute(ctx context.Context, msg redis.XMessage) Result {
	data, err := requestFromValues(msg.Values)
	if err != nil {
		return failed(err, nil)
	}
	sub, cfg, err := orchestrator.DecodeRunRequest(data, c.ctxCfg)
	if err != nil {
		return failed(err, nil)
	}
	p, err := c.orch.Resolve(sub)
	if err != nil {
		return failed(err, nil)
	}
	pr, err := c.orch.ExecutePipeline(ctx, p, orchestrator.NewToolContext(cfg))
	if err != nil {
		return failed(err, pr)
	}
	return Result{Status: StatusCompleted, PipelineResult: pr}
}

// Result returns the stored outcome of job id.
func (c *Consumer) Result(ctx context.Context, id string) (*Result, bool, error) {
	return LoadResult(ctx, c.redis, c.prefix, id)
}

// LoadResult reads the outcome of job id stored under keyPrefix. A job that
// has not finished, or whose result expired, reports false.
func LoadResult(ctx context.Context, client *redis.Client, keyPrefix, id string) (*Result, bool, error) {
	b, err := client.Get(ctx, resultKey(keyPrefix, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var res Result
	if err := json.Unmarshal(b, &res); err != nil {
		return nil, false, err
	}
	return &res, true, nil
}

func resultKey(prefix, id string) string {
	return prefix + "job:" + id
}

func failed(err error, pr *orchestrator.PipelineResult) Result {
	return Result{Status: StatusFailed, Error: apperr.KindOf(err), Message: err.Error(), PipelineResult: pr}
}

// requestFromValues accepts a JSON "request" field, or a bare "template"
// field for producers that only queue template runs.
func requestFromValues(values map[string]any) ([]byte, error) {
	getString := func(key string) string {
		switch v := values[key].(type) {
		case string:
			return v
		case []byte:
			return string(v)
		default:
			return ""
		}
	}
	if raw := getString("request"); raw != "" {
		return []byte(raw), nil
	}
	if name := getString("template"); name != "" {
		return json.Marshal(map[string]string{"template": name})
	}
	return nil, apperr.Validation("job", "message has neither request nor template")
}

func defaultConsumerName() string {
	h, _ := os.Hostname()
	if h == "" {
		h = "debugbridge"
	}
	return h + "-" + uuid.NewString()
}
