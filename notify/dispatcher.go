package notify

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// Sender delivers a fully-formed event over one transport (email, push,
// websocket, export). Implementations are supplied by collaborators.
type Sender interface {
	Send(ctx context.Context, ev Event) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, ev Event) error

func (f SenderFunc) Send(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// Filter narrows a subscription by transaction or actor; zero value
// matches everything.
type Filter struct {
	TxID  string
	Actor string
}

func (f Filter) Match(ev Event) bool {
	if f.TxID != "" && f.TxID != ev.TxID {
		return false
	}
	if f.Actor != "" && f.Actor != ev.Actor {
		return false
	}
	return true
}

type subscriber struct {
	id     string
	filter Filter
	sender Sender
	ch     chan Event
}

// Dispatcher fans events out to subscribers asynchronously and
// best-effort. Each subscriber drains its own buffered channel, so
// delivery order per subscriber matches publish (commit) order; a slow or
// failing subscriber never blocks or rolls back the originating
// transition.
type Dispatcher struct {
	mu          sync.RWMutex
	subs        map[string]*subscriber
	buffer      int
	sendTimeout time.Duration
	wg          sync.WaitGroup
	closed      bool
}

func NewDispatcher(buffer int) *Dispatcher {
	if buffer <= 0 {
		buffer = 64
	}
	return &Dispatcher{
		subs:        make(map[string]*subscriber),
		buffer:      buffer,
		sendTimeout: 5 * time.Second,
	}
}

// Subscribe registers a transport under a unique id.
func (d *Dispatcher) Subscribe(id string, f Filter, s Sender) error {
	if id == "" || s == nil {
		return fmt.Errorf("notify: subscriber id and sender required")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fmt.Errorf("notify: dispatcher closed")
	}
	if _, ok := d.subs[id]; ok {
		return fmt.Errorf("notify: duplicate subscriber %q", id)
	}
	sub := &subscriber{id: id, filter: f, sender: s, ch: make(chan Event, d.buffer)}
	d.subs[id] = sub
	d.wg.Add(1)
	go d.drain(sub)
	return nil
}

// Unsubscribe removes a subscriber and stops its delivery loop.
func (d *Dispatcher) Unsubscribe(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sub, ok := d.subs[id]
	if !ok {
		return
	}
	delete(d.subs, id)
	close(sub.ch)
}

// Publish enqueues the event for every matching subscriber without
// blocking. A full buffer drops the event for that subscriber with a log
// line; the caller is never affected.
func (d *Dispatcher) Publish(ev Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	for _, sub := range d.subs {
		if !sub.filter.Match(ev) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			log.Printf("notify: subscriber %s buffer full, dropping %s for %s", sub.id, ev.Kind, ev.TxID)
		}
	}
}

// Close stops accepting events and waits for subscribers to drain.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for id, sub := range d.subs {
		delete(d.subs, id)
		close(sub.ch)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) drain(sub *subscriber) {
	defer d.wg.Done()
	for ev := range sub.ch {
		ctx, cancel := context.WithTimeout(context.Background(), d.sendTimeout)
		if err := sub.sender.Send(ctx, ev); err != nil {
			log.Printf("notify: subscriber %s: deliver %s for %s: %v", sub.id, ev.Kind, ev.TxID, err)
		}
		cancel()
	}
}
