// Package events carries job progress from the pipeline to whoever is
// listening: an SSE response, a webhook, or a test recorder.
package events

import (
	"sync"

	"videra/pkg/models"
)

// Sink receives the events of one job in order.
type Sink interface {
	Emit(models.Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(models.Event)

func (f SinkFunc) Emit(e models.Event) { f(e) }

// Progress builds a progress event.
func Progress(value float64, text string) models.Event {
	return models.Event{Type: models.EventProgress, Value: value, Text: text}
}

// Done builds the success event.
func Done(downloadURL string) models.Event {
	return models.Event{Type: models.EventDone, DownloadURL: downloadURL}
}

// Failure builds the error event. message is shown to the user as-is.
func Failure(message string) models.Event {
	return models.Event{Type: models.EventError, Message: message}
}

// Guard wraps a sink so that nothing follows the first terminal event.
type Guard struct {
	mu     sync.Mutex
	next   Sink
	closed bool
}

func NewGuard(next Sink) *Guard {
	return &Guard{next: next}
}

// Emit forwards e unless a terminal event was already forwarded.
func (g *Guard) Emit(e models.Event) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	if e.Terminal() {
		g.closed = true
	}
	g.next.Emit(e)
}

// Closed reports whether the terminal event has been sent.
func (g *Guard) Closed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}

// Tee forwards every event to all sinks, in order.
func Tee(sinks ...Sink) Sink {
	return SinkFunc(func(e models.Event) {
		for _, s := range sinks {
			if s != nil {
				s.Emit(e)
			}
		}
	})
}

// Recorder keeps every event it receives.
type Recorder struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *Recorder) Emit(e models.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Event(nil), r.events...)
}
