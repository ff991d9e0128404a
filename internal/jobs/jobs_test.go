package jobs

import (
	"bytes"
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"debugbridge/internal/logging"
	"debugbridge/internal/orchestrator"
	"debugbridge/internal/protocol"
	"debugbridge/internal/tools"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type echoRemote struct{}

func (echoRemote) SendRequest(_ context.Context, req protocol.Request) (*protocol.Response, error) {
	if req.Method == protocol.MethodGet {
		resp := protocol.Failure(req.ID, protocol.CodeEntityNotFound, "no such entity")
		return &resp, nil
	}
	resp, err := protocol.Success(req.ID, protocol.ResultSuccess, map[string]any{"method": req.Method})
	return &resp, err
}

func (e echoRemote) SendBatchedRequest(ctx context.Context, req protocol.Request) (*protocol.Response, error) {
	return e.SendRequest(ctx, req)
}

func newConsumer(t *testing.T) (*Consumer, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	o := orchestrator.New(orchestrator.Options{Client: echoRemote{}})
	tools.Register(o)
	o.RegisterBuiltinTemplates()
	c := NewConsumer(client, o, Options{Stream: "jobs", Group: "bridge", Consumer: "test", KeyPrefix: "dbg:"})
	return c, client
}

func TestPollRunsAndAcknowledgesJobs(t *testing.T) {
	ctx := context.Background()
	c, client := newConsumer(t)
	if err := c.ensureGroup(ctx); err != nil {
		t.Fatalf("ensure group: %v", err)
	}
	if err := c.ensureGroup(ctx); err != nil {
		t.Fatalf("existing group must be accepted: %v", err)
	}

	okID, err := Enqueue(ctx, client, "jobs", []byte(`{"template":"debug_performance"}`))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	bareID, err := client.XAdd(ctx, &redis.XAddArgs{Stream: "jobs", Values: map[string]any{"template": "observe_experiment_replay"}}).Result()
	if err != nil {
		t.Fatalf("xadd: %v", err)
	}
	badID, err := client.XAdd(ctx, &redis.XAddArgs{Stream: "jobs", Values: map[string]any{"something": "else"}}).Result()
	if err != nil {
		t.Fatalf("xadd: %v", err)
	}
	abortID, err := Enqueue(ctx, client, "jobs", []byte(`{"pipeline":{"name":"p","fail_fast":true,"steps":[
		{"name":"look","tool":"observe","arguments":{"entity":4}},{"name":"after","tool":"replay"}]}}`))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	n, err := c.poll(ctx, 10*time.Millisecond)
	if err != nil || n != 4 {
		t.Fatalf("expected 4 jobs handled, got %d (%v)", n, err)
	}

	for _, id := range []string{okID, bareID} {
		res, ok, err := c.Result(ctx, id)
		if err != nil || !ok {
			t.Fatalf("result %s: ok=%v err=%v", id, ok, err)
		}
		if res.Status != StatusCompleted || res.PipelineResult == nil || res.PipelineResult.State != orchestrator.StateCompleted {
			t.Fatalf("job %s: unexpected result %+v", id, res)
		}
	}

	res, ok, _ := c.Result(ctx, badID)
	if !ok || res.Status != StatusFailed || res.Error != "validation_error" {
		t.Fatalf("unexpected result for malformed job: %+v", res)
	}
	res, ok, _ = c.Result(ctx, abortID)
	if !ok || res.Status != StatusFailed || res.PipelineResult == nil || res.PipelineResult.State != orchestrator.StateAborted {
		t.Fatalf("unexpected result for aborted job: %+v", res)
	}

	pending, err := client.XPending(ctx, "jobs", "bridge").Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 0 {
		t.Fatalf("expected every message acknowledged, %d pending", pending.Count)
	}
	if ttl := client.TTL(ctx, "dbg:job:"+okID).Val(); ttl <= 0 || ttl > time.Hour {
		t.Fatalf("unexpected result ttl %v", ttl)
	}
}

func TestRunPicksUpJobsQueuedBeforeStart(t *testing.T) {
	c, client := newConsumer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id, err := Enqueue(ctx, client, "jobs", []byte(`{"template":"debug_performance"}`))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for {
		res, ok, err := c.Result(context.Background(), id)
		if err != nil {
			t.Fatalf("result: %v", err)
		}
		if ok {
			if res.Status != StatusCompleted {
				t.Fatalf("unexpected result %+v", res)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job was not processed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not stop after cancel")
	}
}

func TestMissingResult(t *testing.T) {
	c, _ := newConsumer(t)
	if _, ok, err := c.Result(context.Background(), "0-1"); ok || err != nil {
		t.Fatalf("expected a miss, got ok=%v err=%v", ok, err)
	}
}

// failAck makes every XACK fail.
type failAck struct{}

func (failAck) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (failAck) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if cmd.Name() == "xack" {
			err := errors.New("ack refused")
			cmd.SetErr(err)
			return err
		}
		return next(ctx, cmd)
	}
}

func (failAck) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func TestAckFailureIsLogged(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	var logs bytes.Buffer
	logger, err := logging.NewLogger(logging.Options{Level: "debug", Output: &logs})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	o := orchestrator.New(orchestrator.Options{Client: echoRemote{}})
	tools.Register(o)
	o.RegisterBuiltinTemplates()
	c := NewConsumer(client, o, Options{Stream: "jobs", Group: "bridge", Consumer: "test", Logger: logger})
	if err := c.ensureGroup(ctx); err != nil {
		t.Fatalf("ensure group: %v", err)
	}
	id, err := Enqueue(ctx, client, "jobs", []byte(`{"template":"debug_performance"}`))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	client.AddHook(failAck{})
	if n, err := c.poll(ctx, 10*time.Millisecond); err != nil || n != 1 {
		t.Fatalf("expected 1 job handled, got %d (%v)", n, err)
	}
	if out := logs.String(); !strings.Contains(out, "ack job failed") || !strings.Contains(out, id) {
		t.Fatalf("ack failure not logged:\n%s", out)
	}
	pending, err := client.XPending(ctx, "jobs", "bridge").Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 1 {
		t.Fatalf("expected the unacknowledged message to stay pending, got %d", pending.Count)
	}
}
