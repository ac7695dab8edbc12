package logbook

import (
	"encoding/json"
	"io"
	"slices"
	"sync"

	"go.uber.org/zap"
)

// Synchronized wraps sink so concurrent runs can share it.
func Synchronized(sink Sink) Sink {
	if sink == nil {
		return nil
	}
	var mu sync.Mutex
	return func(e Entry) {
		mu.Lock()
		defer mu.Unlock()
		sink(e)
	}
}

// Multi delivers every entry to each non-nil sink in order.
func Multi(sinks ...Sink) Sink {
	active := slices.DeleteFunc(slices.Clone(sinks), func(s Sink) bool { return s == nil })
	if len(active) == 0 {
		return nil
	}
	return func(e Entry) {
		for _, sink := range active {
			sink(e)
		}
	}
}

// JSONLines writes each entry as one JSON line to w. Writes are serialized;
// encoding failures are dropped.
func JSONLines(w io.Writer) Sink {
	var mu sync.Mutex
	enc := json.NewEncoder(w)
	return func(e Entry) {
		mu.Lock()
		defer mu.Unlock()
		_ = enc.Encode(e)
	}
}

// ZapSink mirrors entries into an operator log at debug level.
func ZapSink(logger *zap.Logger) Sink {
	if logger == nil {
		return nil
	}
	return func(e Entry) {
		logger.Debug("logbook entry",
			zap.String("source", e.Source),
			zap.String("action", e.Action),
			zap.Int64("time", e.Time),
			zap.Any("data", e.Data),
		)
	}
}

// Recorder collects entries in emission order. It is safe for concurrent
// use.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
}

// Sink returns the sink that appends to r.
func (r *Recorder) Sink() Sink {
	return func(e Entry) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.entries = append(r.entries, e)
	}
}

// Entries returns a copy of the recorded entries.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.entries)
}

// Actions returns the action of every recorded entry, optionally limited to
// one source.
func (r *Recorder) Actions(source string) []string {
	var actions []string
	for _, e := range r.Entries() {
		if source == "" || e.Source == source {
			actions = append(actions, e.Action)
		}
	}
	return actions
}
