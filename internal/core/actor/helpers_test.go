package actor

import (
	"sync"
)

type recordedPublishes struct {
	mu       sync.Mutex
	payloads map[string]string
}

func newRecordedPublishes() *recordedPublishes {
	return &recordedPublishes{payloads: map[string]string{}}
}

func (r *recordedPublishes) sink(topic, payload string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads[topic] = payload
}

func (r *recordedPublishes) get(topic string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payloads[topic]
	return p, ok
}

func (r *recordedPublishes) has(topic string) bool {
	_, ok := r.get(topic)
	return ok
}
