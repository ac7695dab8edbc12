// Package logbook records the structured, source-tagged events of a
// simulation or evaluation and hands them to a caller-supplied sink.
//
// A Logbook is threaded explicitly through every constructor and call that
// emits events. Callers that do not care about events use Nop.
//
//	lb := logbook.New("simulation", func(e logbook.Entry) {
//	    fmt.Println(e.Source, e.Action)
//	})
//	user := lb.Sub("user")
//	user.Log("generation.request", messages)
package logbook

import (
	"encoding/json"
	"time"
)

// Entry is one event. Entries are immutable once emitted.
type Entry struct {
	// Time is the emission time in milliseconds since the Unix epoch.
	Time int64 `json:"time"`

	// Source tags the emitting component, such as "simulation.user".
	Source string `json:"source"`

	// Action tags what happened, such as "generation.response".
	Action string `json:"action"`

	// Data is a string or a JSON-encodable value; it may be nil.
	Data any `json:"data,omitempty"`
}

// IsContinuationOf reports whether e continues the same (source, action)
// scope as previous. Sinks use it to merge streamed chunks.
func (e Entry) IsContinuationOf(previous Entry) bool {
	return e.Source == previous.Source && e.Action == previous.Action
}

// HasContent reports whether the entry carries data.
func (e Entry) HasContent() bool { return e.Data != nil }

// Content renders the data as text: strings unchanged, other values as
// indented JSON, and nothing for an entry without data.
func (e Entry) Content() string {
	switch data := e.Data.(type) {
	case nil:
		return ""
	case string:
		return data
	default:
		encoded, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return ""
		}
		return string(encoded)
	}
}

// Sink receives every entry of a logbook. A sink shared between concurrent
// runs must be safe for concurrent use; see Synchronized.
type Sink func(Entry)

// Logbook emits entries for one source to a sink. The zero value and a nil
// *Logbook discard everything.
type Logbook struct {
	source string
	sink   Sink
	now    func() time.Time
}

// New creates a logbook for source that delivers to sink. A nil sink
// discards entries.
func New(source string, sink Sink) *Logbook {
	return &Logbook{source: source, sink: sink, now: time.Now}
}

// Nop returns a logbook that discards every entry.
func Nop() *Logbook { return &Logbook{} }

// Source returns the source tag of this logbook.
func (l *Logbook) Source() string {
	if l == nil {
		return ""
	}
	return l.source
}

// Sub returns a logbook for a nested source that shares this logbook's
// sink. The child source is "<parent>.<source>", or source alone when the
// parent has none.
func (l *Logbook) Sub(source string) *Logbook {
	if l == nil {
		return Nop()
	}
	child := source
	if l.source != "" {
		child = l.source + "." + source
	}
	return &Logbook{source: child, sink: l.sink, now: l.now}
}

// Log emits one entry and returns it. Every call creates a fresh entry
// scoped by (source, action).
func (l *Logbook) Log(action string, data any) Entry {
	if l == nil {
		return Entry{Action: action, Data: data}
	}
	now := time.Now
	if l.now != nil {
		now = l.now
	}
	entry := Entry{
		Time:   now().UnixMilli(),
		Source: l.source,
		Action: action,
		Data:   data,
	}
	if l.sink != nil {
		l.sink(entry)
	}
	return entry
}
