package remote

import (
	"context"
	"time"

	"debugbridge/internal/apperr"
	"debugbridge/internal/metrics"
	"debugbridge/internal/protocol"
)

// BatchedRequest is a queued request with its own completion channel.
type BatchedRequest struct {
	Request    protocol.Request
	EnqueuedAt time.Time
	respCh     chan batchResult
}

type batchResult struct {
	resp *protocol.Response
	err  error
}

// deliver never blocks: a receiver that already gave up is ignored.
func (br *BatchedRequest) deliver(resp *protocol.Response, err error) {
	select {
	case br.respCh <- batchResult{resp: resp, err: err}:
	default:
	}
}

// SendBatchedRequest queues req for the batch processor and waits for its
// response, RequestTimeout, or ctx. A disconnected client fails immediately
// without touching the queue.
func (c *Client) SendBatchedRequest(ctx context.Context, req protocol.Request) (*protocol.Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	br := &BatchedRequest{
		Request:    req,
		EnqueuedAt: c.now(),
		respCh:     make(chan batchResult, 1),
	}

	c.mu.Lock()
	if c.state != Connected {
		c.mu.Unlock()
		metrics.RecordRemoteRequest("batch", req.Method, "connection_error", 0)
		return nil, apperr.Connection("not connected to %s", c.cfg.URL)
	}
	c.queue = append(c.queue, br)
	depth := len(c.queue)
	c.mu.Unlock()
	metrics.SetQueueDepth(depth)

	timer := time.NewTimer(c.cfg.RequestTimeout)
	defer timer.Stop()

	select {
	case res := <-br.respCh:
		return res.resp, res.err
	case <-timer.C:
		c.dequeue(br)
		return nil, apperr.Timeout("batched %s not answered within %s", req.Method, c.cfg.RequestTimeout)
	case <-ctx.Done():
		c.dequeue(br)
		if ctx.Err() == context.DeadlineExceeded {
			return nil, apperr.Timeout("batched %s", req.Method).Wrap(ctx.Err())
		}
		return nil, ctx.Err()
	}
}

func (c *Client) dequeue(br *BatchedRequest) {
	c.mu.Lock()
	for i, queued := range c.queue {
		if queued == br {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			break
		}
	}
	depth := len(c.queue)
	c.mu.Unlock()
	metrics.SetQueueDepth(depth)
}

// drain removes up to n requests from the head of the queue.
func (c *Client) drain(n int) []*BatchedRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n > len(c.queue) {
		n = len(c.queue)
	}
	if n == 0 {
		return nil
	}
	batch := make([]*BatchedRequest, n)
	copy(batch, c.queue[:n])
	rest := make([]*BatchedRequest, len(c.queue)-n)
	copy(rest, c.queue[n:])
	c.queue = rest
	metrics.SetQueueDepth(len(rest))
	return batch
}

func (c *Client) runBatches(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(c.cfg.BatchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.processBatch(ctx)
		}
	}
}

func (c *Client) processBatch(ctx context.Context) int {
	batch := c.drain(c.cfg.BatchSize)
	if len(batch) == 0 {
		return 0
	}
	metrics.RecordBatch(len(batch))

	if !c.admission.CheckRateLimit() {
		c.logger.Warn("rate limit denied batch", "size", len(batch))
		for _, br := range batch {
			metrics.RecordRemoteRequest("batch", br.Request.Method, "rate_limited", 0)
			br.deliver(nil, apperr.RateLimited("batch of %d denied by rate limiter", len(batch)))
		}
		return len(batch)
	}

	for _, br := range batch {
		if ctx.Err() != nil {
			br.deliver(nil, apperr.Connection("client disconnected"))
			continue
		}
		c.processOne(ctx, br)
	}
	return len(batch)
}

func (c *Client) processOne(ctx context.Context, br *BatchedRequest) {
	method := br.Request.Method
	if waited := c.now().Sub(br.EnqueuedAt); waited > c.cfg.RequestTimeout {
		metrics.RecordRemoteRequest("batch", method, "timeout", 0)
		br.deliver(nil, apperr.Timeout("batched %s expired after %s in queue", method, waited))
		return
	}

	permit, err := c.admission.AcquirePermit(ctx)
	if err != nil {
		metrics.RecordRemoteRequest("batch", method, "rate_limited", 0)
		br.deliver(nil, apperr.RateLimited("no permit for %s", method).Wrap(err))
		return
	}
	defer permit.Release()

	if !c.admission.ShouldSample() {
		metrics.RecordRemoteRequest("batch", method, "rate_limited", 0)
		br.deliver(nil, apperr.RateLimited("%s dropped by sampling", method))
		return
	}

	start := c.now()
	resp, err := c.roundTrip(ctx, br.Request)
	if err != nil {
		c.admission.RecordFailure()
	} else {
		c.admission.RecordSuccess()
	}
	metrics.RecordRemoteRequest("batch", method, outcome(err), c.now().Sub(start))
	br.deliver(resp, err)
}
