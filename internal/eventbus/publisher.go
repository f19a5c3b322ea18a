package eventbus

// Publisher is the narrow interface the queue runtime and scheduler
// depend on; both Bus (in-process) and RedisBus satisfy it.
type Publisher interface {
	Publish(evt Event)
}

// Subscriber is the narrow interface internal/gateway depends on.
type Subscriber interface {
	Subscribe(pattern string, ch chan<- Event)
	Unsubscribe(ch chan<- Event)
}

// Broker is the full surface: whichever transport is active
// (in-process Bus or RedisBus, selected in cmd/analyticsd by whether
// REDIS_URL is set) implements both halves.
type Broker interface {
	Publisher
	Subscriber
	Close()
}
