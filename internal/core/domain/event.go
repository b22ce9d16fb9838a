package domain

// EventKind tags a progress event variant.
type EventKind string

// Event kinds.
const (
	EventProgress EventKind = "progress"
	EventData     EventKind = "data"
	EventError    EventKind = "error"
	EventDone     EventKind = "done"
)

// Feed-level lifecycle event names.
const (
	EventFeedStart    = "feed_start"
	EventFeedComplete = "feed_complete"
	EventFeedError    = "feed_error"
)

// Event is one progress notification pushed to the caller while a feed is
// being processed. Events are ephemeral and consumed by the transport only;
// emission order is delivery order.
type Event struct {
	Kind    EventKind
	Name    string // Event-type name on the wire, e.g. "SCORING" or "feed_start"
	Payload any
}

// DataEvent builds a data event.
func DataEvent(name string, payload any) Event {
	return Event{Kind: EventData, Name: name, Payload: payload}
}

// ProgressEvent builds a progress event.
func ProgressEvent(name string, payload any) Event {
	return Event{Kind: EventProgress, Name: name, Payload: payload}
}

// ErrorEvent builds an error event.
func ErrorEvent(name string, payload any) Event {
	return Event{Kind: EventError, Name: name, Payload: payload}
}

// DoneEvent builds a done sentinel for one logical unit of work.
func DoneEvent(name string) Event {
	return Event{Kind: EventDone, Name: name}
}
