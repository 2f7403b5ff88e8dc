package metrics

import (
	"sync"
	"time"
)

// Collector tracks message-processing counters for the diagnostics and
// metrics endpoints. Counters are tracked manually without external
// dependencies; the exposition format lives in prometheus.go.
type Collector struct {
	mu sync.RWMutex

	// Intake
	received   int64            // deliveries accepted into the queue
	duplicates int64            // deliveries skipped as already seen
	rejected   map[string]int64 // deliveries refused before intake, by reason
	queueFull  int64            // deliveries dropped because the pool was saturated

	// Processing
	processed     map[string]int64 // completed deliveries by outcome (ok, error)
	processedDur  int64            // total processing duration in ms
	actionCharges map[string]int64 // committed paid actions by action key

	// Outbound
	repliesSent   int64
	replyFailures int64

	startTime time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		rejected:      make(map[string]int64),
		processed:     make(map[string]int64),
		actionCharges: make(map[string]int64),
		startTime:     time.Now(),
	}
}

// RecordReceived counts a delivery accepted into the worker queue.
func (c *Collector) RecordReceived() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.received++
}

// RecordDuplicate counts a delivery skipped by the idempotency guard.
func (c *Collector) RecordDuplicate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.duplicates++
}

// RecordRejected counts a delivery refused before intake, e.g. a bad
// signature or an unreadable payload.
func (c *Collector) RecordRejected(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rejected[reason]++
}

// RecordQueueFull counts a delivery dropped because the pool was saturated.
func (c *Collector) RecordQueueFull() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.queueFull++
}

// RecordProcessed counts a completed delivery and its duration.
func (c *Collector) RecordProcessed(duration time.Duration, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.processed[outcome]++
	c.processedDur += duration.Milliseconds()
}

// RecordCharge counts a committed paid action.
func (c *Collector) RecordCharge(actionKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.actionCharges[actionKey]++
}

// RecordReply counts an outbound send attempt.
func (c *Collector) RecordReply(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		c.replyFailures++
		return
	}
	c.repliesSent++
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	Uptime        int64
	Received      int64
	Duplicates    int64
	Rejected      map[string]int64
	QueueFull     int64
	Processed     map[string]int64
	ProcessedDur  int64
	ActionCharges map[string]int64
	RepliesSent   int64
	ReplyFailures int64
}

// GetSnapshot returns a snapshot of current metrics.
func (c *Collector) GetSnapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		Uptime:        int64(time.Since(c.startTime).Seconds()),
		Received:      c.received,
		Duplicates:    c.duplicates,
		Rejected:      copyMap(c.rejected),
		QueueFull:     c.queueFull,
		Processed:     copyMap(c.processed),
		ProcessedDur:  c.processedDur,
		ActionCharges: copyMap(c.actionCharges),
		RepliesSent:   c.repliesSent,
		ReplyFailures: c.replyFailures,
	}
}

func copyMap(src map[string]int64) map[string]int64 {
	dst := make(map[string]int64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
