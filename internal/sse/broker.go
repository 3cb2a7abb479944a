// Package sse streams compile events to browser clients as Server-Sent Events.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/starford/weavetex/internal/compile"
)

// Event represents an SSE event to broadcast.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type outputReq struct {
	eventType string
	jobID     string
	text      string
}

// message is either an event or an output chunk. Both travel on one channel
// so they are broadcast in the order they were published.
type message struct {
	event  *Event
	output *outputReq
}

// Broker manages SSE client connections and broadcasts events.
//
// Concurrency model: a single internal event loop (goroutine) owns mutable state
// (clients + pending output). Public methods communicate with this loop
// through channels, so no mutexes are required.
type Broker struct {
	flushEvery time.Duration

	subscribeCh   chan chan []byte
	unsubscribeCh chan chan []byte
	publishCh     chan message
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker that batches compile output for up to
// flushEvery before sending it.
func NewBroker(flushEvery time.Duration) *Broker {
	if flushEvery <= 0 {
		flushEvery = 100 * time.Millisecond
	}

	b := &Broker{
		flushEvery:    flushEvery,
		subscribeCh:   make(chan chan []byte),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan message, 1024),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]struct{})

	broadcast := func(event Event) {
		payload, err := json.Marshal(event.Data)
		if err != nil {
			return
		}
		msg := fmt.Sprintf("event: %s\ndata: %s\n\n", event.Type, payload)
		raw := []byte(msg)

		for ch := range clients {
			select {
			case ch <- raw:
			default:
				// Client buffer full; skip to avoid blocking broker loop.
			}
		}
	}

	// Output chunks of one job are merged until the timer fires or any
	// other event needs to go out, which keeps event order intact.
	var (
		pending   strings.Builder
		pendingOf outputReq
		timer     *time.Timer
		flushC    <-chan time.Time
	)
	flush := func() {
		if timer != nil {
			timer.Stop()
			timer, flushC = nil, nil
		}
		if pending.Len() == 0 {
			return
		}
		broadcast(Event{Type: pendingOf.eventType, Data: compile.Event{
			Type:  pendingOf.eventType,
			JobID: pendingOf.jobID,
			Data:  compile.OutputData{Text: pending.String()},
		}})
		pending.Reset()
	}

	for {
		select {
		case <-b.stopCh:
			flush()
			for ch := range clients {
				close(ch)
			}
			return

		case ch := <-b.subscribeCh:
			clients[ch] = struct{}{}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case msg := <-b.publishCh:
			if msg.event != nil {
				flush()
				broadcast(*msg.event)
				continue
			}
			req := *msg.output
			if pending.Len() > 0 && (req.jobID != pendingOf.jobID || req.eventType != pendingOf.eventType) {
				flush()
			}
			pendingOf = req
			pending.WriteString(req.text)
			if timer == nil {
				timer = time.NewTimer(b.flushEvery)
				flushC = timer.C
			}

		case <-flushC:
			timer, flushC = nil, nil
			flush()

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close gracefully stops broker loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a new client and returns its channel.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- ch:
	case <-b.stopped:
		close(ch)
	}
	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an event to all connected clients.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- message{event: &event}:
	case <-b.stopped:
	}
}

// PublishOutput queues a chunk of tool output for batched delivery.
func (b *Broker) PublishOutput(eventType, jobID, text string) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- message{output: &outputReq{eventType: eventType, jobID: jobID, text: text}}:
	case <-b.stopped:
	}
}

// Emit implements compile.Emitter. Output is batched; every other event is
// sent as-is with its job id.
func (b *Broker) Emit(ev compile.Event) {
	if out, ok := ev.Data.(compile.OutputData); ok {
		b.PublishOutput(ev.Type, ev.JobID, out.Text)
		return
	}
	b.Publish(Event{Type: ev.Type, Data: ev})
}

// ServeHTTP is the SSE endpoint handler (GET /api/events).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
