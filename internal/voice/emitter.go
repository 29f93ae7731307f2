package voice

import (
	"sync"

	"softphone/internal/softphone"
)

// emitter fans device events out to registered handlers. Handlers are copied
// before dispatch so they may register further handlers.
type emitter struct {
	mu       sync.RWMutex
	handlers map[softphone.Event][]softphone.Handler
}

func newEmitter() *emitter {
	return &emitter{handlers: make(map[softphone.Event][]softphone.Handler)}
}

func (e *emitter) on(ev softphone.Event, h softphone.Handler) {
	if h == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[ev] = append(e.handlers[ev], h)
}

func (e *emitter) emit(ev softphone.Event, pl softphone.Payload) {
	e.mu.RLock()
	handlers := make([]softphone.Handler, len(e.handlers[ev]))
	copy(handlers, e.handlers[ev])
	e.mu.RUnlock()

	for _, h := range handlers {
		h(pl)
	}
}
