// Package eventbus is the Event Bus half of the Event Bus & Progress
// Gateway: pub/sub over hierarchical channel names
// (job:progress:<queue>:<jobId>, job:completed:<queue>:<jobId>, ...)
// with glob-pattern subscription (job:*:*:*). Generalized from the
// teacher's flat map[string][]chan<- Event keyed by an exact event
// type string (internal/eventbus/bus.go) into a colon-segmented
// pattern match, since the Gateway needs to fan one broker-level
// subscription out to many per-job/per-queue client subscriptions.
package eventbus

import (
	"strings"
	"sync"
	"time"
)

// Event is one message published on the bus.
type Event struct {
	Channel   string
	Timestamp time.Time
	Data      interface{}
}

type subscriber struct {
	pattern string
	ch      chan<- Event
}

// Bus is an in-process, pattern-matching pub/sub bus. Safe for
// concurrent use. Satisfies the Publisher/Subscriber interfaces used
// by internal/gateway; internal/eventbus/redisbus.go implements the
// same shape over github.com/redis/go-redis/v9 when REDIS_URL is set.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscriber
	closed bool
}

func New() *Bus {
	return &Bus{}
}

// Subscribe registers a channel to receive events whose Channel name
// matches pattern. A pattern segment of "*" matches any one segment;
// an exact job/queue channel name ("job:progress:analysis-operations:42")
// is itself a valid (non-wildcard) pattern. The caller owns ch's buffer
// sizing; slow subscribers have events dropped, never block Publish.
func (b *Bus) Subscribe(pattern string, ch chan<- Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, subscriber{pattern: pattern, ch: ch})
}

// Unsubscribe removes every registration for ch (pattern or exact).
func (b *Bus) Unsubscribe(ch chan<- Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.subs[:0]
	for _, s := range b.subs {
		if s.ch != ch {
			out = append(out, s)
		}
	}
	b.subs = out
}

func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, s := range b.subs {
		if matches(s.pattern, evt.Channel) {
			select {
			case s.ch <- evt:
			default:
				// drop if subscriber is slow
			}
		}
	}
}

func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}

func matches(pattern, channel string) bool {
	if pattern == channel {
		return true
	}
	pSeg := strings.Split(pattern, ":")
	cSeg := strings.Split(channel, ":")
	if len(pSeg) != len(cSeg) {
		return false
	}
	for i := range pSeg {
		if pSeg[i] != "*" && pSeg[i] != cSeg[i] {
			return false
		}
	}
	return true
}

// Channel name builders, spec.md §4.7.
func ProgressChannel(queue, jobID string) string     { return "job:progress:" + queue + ":" + jobID }
func CompletedChannel(queue, jobID string) string    { return "job:completed:" + queue + ":" + jobID }
func FailedChannel(queue, jobID string) string       { return "job:failed:" + queue + ":" + jobID }
func QueueToStartChannel(queue, jobID string) string { return "job:queue-to-start:" + queue + ":" + jobID }

const AllPattern = "job:*:*:*"

func JobPattern(jobID string) string     { return "job:*:*:" + jobID }
func QueuePattern(queue string) string   { return "job:*:" + queue + ":*" }
