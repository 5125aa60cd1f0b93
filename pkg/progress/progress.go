// Package progress defines the progress callback shared by every long-running
// operation.
package progress

import "sync"

// Func receives a percentage in [0, 100] and a human readable message. A
// negative percentage signals an error.
type Func func(percent float64, message string)

// Error is the percentage reported when a run fails.
const Error = -1

// Report calls fn when it is non-nil.
func (fn Func) Report(percent float64, message string) {
	if fn != nil {
		fn(percent, message)
	}
}

// Scale maps child progress in [0, 100] into [from, to] of the parent, capped
// at limit when limit > 0.
func (fn Func) Scale(from, to, limit float64) Func {
	if fn == nil {
		return nil
	}
	return func(percent float64, message string) {
		if percent < 0 {
			fn(percent, message)
			return
		}
		p := from + percent*(to-from)/100
		if limit > 0 && p > limit {
			p = limit
		}
		fn(p, message)
	}
}

// Tee fans a single report out to every non-nil callback in order.
func Tee(fns ...Func) Func {
	var live []Func
	for _, fn := range fns {
		if fn != nil {
			live = append(live, fn)
		}
	}
	if len(live) == 0 {
		return nil
	}
	return func(percent float64, message string) {
		for _, fn := range live {
			fn(percent, message)
		}
	}
}

// Event is one recorded progress report.
type Event struct {
	Percent float64
	Message string
}

// Recorder collects reports. Useful for CLIs that print a summary and tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Func returns the callback feeding the recorder.
func (r *Recorder) Func() Func {
	return func(percent float64, message string) {
		r.mu.Lock()
		r.events = append(r.events, Event{Percent: percent, Message: message})
		r.mu.Unlock()
	}
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Percents returns just the percentages in report order.
func (r *Recorder) Percents() []float64 {
	events := r.Events()
	out := make([]float64, len(events))
	for i, e := range events {
		out[i] = e.Percent
	}
	return out
}

// Last returns the most recent event.
func (r *Recorder) Last() (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return Event{}, false
	}
	return r.events[len(r.events)-1], true
}
