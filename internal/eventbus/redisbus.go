package eventbus

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisEvent is the wire shape published/received over Redis; Data is
// carried as raw JSON since Event.Data is an interface{} on the wire.
type redisEvent struct {
	Channel   string          `json:"channel"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// RedisBus backs the event bus with github.com/redis/go-redis/v9 pub/sub
// so progress events fan out across process boundaries, per spec.md §6's
// REDIS_URL env var. Every event is published on one shared root Redis
// channel; Subscribe still accepts glob patterns and matches them locally
// against each received event's Channel (no PSUBSCRIBE is used).
type RedisBus struct {
	client *redis.Client
	mu     sync.Mutex
	subs   map[string]*redis.PubSub // pattern -> subscription
	outs   map[string][]chan<- Event
	rootCh string
}

func NewRedis(redisURL string) (*RedisBus, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opt)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return &RedisBus{
		client: client,
		subs:   make(map[string]*redis.PubSub),
		outs:   make(map[string][]chan<- Event),
		rootCh: "events",
	}, nil
}

func (b *RedisBus) Publish(evt Event) {
	data, err := json.Marshal(evt.Data)
	if err != nil {
		log.Printf("eventbus: marshal event data for %s: %v", evt.Channel, err)
		return
	}
	payload, err := json.Marshal(redisEvent{Channel: evt.Channel, Timestamp: evt.Timestamp, Data: data})
	if err != nil {
		log.Printf("eventbus: marshal envelope for %s: %v", evt.Channel, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	backoff := 100 * time.Millisecond
	for attempt := 0; attempt < 3; attempt++ {
		if err := b.client.Publish(ctx, b.rootCh, payload).Err(); err == nil {
			return
		}
		time.Sleep(backoff)
		backoff *= 2
	}
	log.Printf("eventbus: publish failed after retries, dropping event for %s", evt.Channel)
}

// Subscribe pattern-matches locally against every message on the shared
// root Redis channel, mirroring the in-process Bus's glob semantics
// exactly so internal/gateway does not need to special-case the transport.
func (b *RedisBus) Subscribe(pattern string, ch chan<- Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[b.rootCh]; !ok {
		ps := b.client.Subscribe(context.Background(), b.rootCh)
		b.subs[b.rootCh] = ps
		go b.pump(ps)
	}
	b.outs[pattern] = append(b.outs[pattern], ch)
}

func (b *RedisBus) pump(ps *redis.PubSub) {
	for msg := range ps.Channel() {
		var re redisEvent
		if err := json.Unmarshal([]byte(msg.Payload), &re); err != nil {
			continue
		}
		var data interface{}
		_ = json.Unmarshal(re.Data, &data)
		evt := Event{Channel: re.Channel, Timestamp: re.Timestamp, Data: data}

		b.mu.Lock()
		for pattern, outs := range b.outs {
			if !matches(pattern, evt.Channel) {
				continue
			}
			for _, out := range outs {
				select {
				case out <- evt:
				default:
				}
			}
		}
		b.mu.Unlock()
	}
}

func (b *RedisBus) Unsubscribe(ch chan<- Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for pattern, outs := range b.outs {
		kept := outs[:0]
		for _, o := range outs {
			if o != ch {
				kept = append(kept, o)
			}
		}
		if len(kept) == 0 {
			delete(b.outs, pattern)
		} else {
			b.outs[pattern] = kept
		}
	}
}

func (b *RedisBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ps := range b.subs {
		_ = ps.Close()
	}
	_ = b.client.Close()
}
