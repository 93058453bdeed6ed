package eventbus

import (
	"fmt"
	"sync"
	"time"

	"tableware-inspector/internal/logger"
)

type Event struct {
	Type      string
	Timestamp time.Time
	Data      map[string]interface{}
}

type EventHandler interface {
	Handle(event Event)
	GetID() string
}

// HandlerFunc adapts a function to EventHandler.
type HandlerFunc struct {
	ID string
	Fn func(Event)
}

func (h HandlerFunc) Handle(event Event) { h.Fn(event) }
func (h HandlerFunc) GetID() string      { return h.ID }

// Bus delivers events to subscribers on a single worker goroutine, in
// publish order. Publish never blocks: events are dropped when the buffer
// is full or the bus is shut down.
type Bus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
	buffer      chan Event
	closed      bool
	dropped     uint64
	wg          sync.WaitGroup
	logger      logger.Logger
}

func NewBus(bufferSize int, log logger.Logger) *Bus {
	if log == nil {
		log = logger.NewNop()
	}
	bus := &Bus{
		subscribers: make(map[string][]EventHandler),
		buffer:      make(chan Event, bufferSize),
		logger:      log,
	}

	bus.wg.Add(1)
	go bus.run()
	return bus
}

func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		b.dropped++
		return
	}

	select {
	case b.buffer <- event:
	default:
		b.dropped++
	}
}

func (b *Bus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Dropped counts events that were not delivered.
func (b *Bus) Dropped() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}

// Shutdown stops accepting events, delivers what is buffered and waits for
// the worker to exit.
func (b *Bus) Shutdown() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.buffer)
	b.mu.Unlock()

	b.wg.Wait()
}

func (b *Bus) run() {
	defer b.wg.Done()

	for event := range b.buffer {
		b.dispatch(event)
	}
}

func (b *Bus) dispatch(event Event) {
	b.mu.RLock()
	handlers := make([]EventHandler, len(b.subscribers[event.Type]))
	copy(handlers, b.subscribers[event.Type])
	b.mu.RUnlock()

	for _, h := range handlers {
		b.deliver(h, event)
	}
}

// deliver runs one handler; a panic is logged and delivery to the remaining
// subscribers continues.
func (b *Bus) deliver(h EventHandler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("EventBus", fmt.Errorf("handler panic: %v", r), map[string]interface{}{
				"handler":    h.GetID(),
				"event_type": event.Type,
			})
		}
	}()
	h.Handle(event)
}
