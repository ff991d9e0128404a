package events

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestHubDropsForSlowSubscriber(t *testing.T) {
	h := NewHub()
	ch, unsubscribe := h.Subscribe()
	defer unsubscribe()

	for i := 0; i < subscriberBuffer+10; i++ {
		if err := h.Publish(context.Background(), Event{Type: StepStarted, Step: "a"}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	if got := len(ch); got != subscriberBuffer {
		t.Fatalf("expected buffer to be full at %d, got %d", subscriberBuffer, got)
	}

	var ev Event
	if err := json.Unmarshal(<-ch, &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Type != StepStarted || ev.Time.IsZero() {
		t.Fatalf("unexpected event: %+v", ev)
	}

	unsubscribe()
	if h.Subscribers() != 0 {
		t.Fatalf("expected no subscribers")
	}
}

func TestHubServesSSE(t *testing.T) {
	h := NewHub()
	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	r := bufio.NewReader(resp.Body)
	readLine := func() string {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		return strings.TrimRight(line, "\n")
	}
	if line := readLine(); line != "event: ready" {
		t.Fatalf("expected ready event, got %q", line)
	}
	readLine()
	readLine()

	_ = h.Publish(ctx, Event{Type: PipelineCompleted, Pipeline: "p1"})
	if line := readLine(); line != "event: pipeline" {
		t.Fatalf("expected pipeline event, got %q", line)
	}
	data := strings.TrimPrefix(readLine(), "data: ")
	var ev Event
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		t.Fatalf("decode %q: %v", data, err)
	}
	if ev.Type != PipelineCompleted || ev.Pipeline != "p1" {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestRedisPublisherPublishesToBothChannels(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	p := NewRedisPublisher(client, "debugbridge:events")
	sub := client.Subscribe(ctx, "debugbridge:events", p.PipelineChannel("observe"))
	defer sub.Close()
	for i := 0; i < 2; i++ {
		if _, err := sub.Receive(ctx); err != nil {
			t.Fatalf("subscribe: %v", err)
		}
	}

	if err := p.Publish(ctx, Event{Type: StepCompleted, Pipeline: "observe", Step: "observe"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	seen := map[string]bool{}
	msgs := sub.Channel()
	for len(seen) < 2 {
		select {
		case msg := <-msgs:
			seen[msg.Channel] = true
			if !strings.Contains(msg.Payload, `"step_completed"`) {
				t.Fatalf("unexpected payload %s", msg.Payload)
			}
		case <-ctx.Done():
			t.Fatalf("timed out, saw %v", seen)
		}
	}
}

type failingPublisher struct{ err error }

func (f failingPublisher) Publish(context.Context, Event) error { return f.err }

func TestFanoutJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	h := NewHub()
	ch, unsubscribe := h.Subscribe()
	defer unsubscribe()

	err := Fanout{h, failingPublisher{boom}, nil, Noop{}}.Publish(context.Background(), Event{Type: StepSkipped})
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if len(ch) != 1 {
		t.Fatalf("hub should still receive the event")
	}
}
