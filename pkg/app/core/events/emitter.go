package events

import (
	"sync"

	"go.uber.org/zap"
)

// Emitter consumes committed events. Emit is called after the originating
// operation has fully committed, so emitters only ever see durable state.
type Emitter interface {
	Emit(ev Event)
}

// Nop discards everything.
type Nop struct{}

func (Nop) Emit(Event) {}

// Multi fans one event out to several emitters in order.
type Multi []Emitter

func (m Multi) Emit(ev Event) {
	for _, e := range m {
		e.Emit(ev)
	}
}

// LogEmitter writes events as structured log lines.
type LogEmitter struct {
	log *zap.SugaredLogger
}

func NewLogEmitter(log *zap.SugaredLogger) *LogEmitter {
	return &LogEmitter{log: log}
}

func (l *LogEmitter) Emit(ev Event) {
	l.log.Infow("event", "type", string(ev.EventType()), "payload", ev)
}

// Recorder buffers events in memory. Test helper.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Emit(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a snapshot of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns recorded events matching t, in emission order.
func (r *Recorder) OfType(t Type) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.EventType() == t {
			out = append(out, ev)
		}
	}
	return out
}

var (
	_ Emitter = Nop{}
	_ Emitter = Multi{}
	_ Emitter = (*LogEmitter)(nil)
	_ Emitter = (*Recorder)(nil)
)
