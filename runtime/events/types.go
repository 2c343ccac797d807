package events

import "time"

// EventType identifies the type of observability event emitted by the
// runtime. These are distinct from the wire-level envelope type enum
// (request/response/event/stream:*) — they describe what the router and
// adapters are doing internally, for logging/tracing/metrics listeners.
type EventType string

const (
	EventCallStarted   EventType = "call.started"
	EventCallCompleted EventType = "call.completed"
	EventCallFailed    EventType = "call.failed"

	EventValidationStarted EventType = "validation.started"
	EventValidationPassed  EventType = "validation.passed"
	EventValidationFailed  EventType = "validation.failed"

	EventStreamStarted     EventType = "stream.started"
	EventStreamItemEmitted EventType = "stream.item_emitted"
	EventStreamEnded       EventType = "stream.ended"
	EventStreamFailed      EventType = "stream.failed"
	EventStreamCancelled   EventType = "stream.cancelled"

	EventConnectionOpened EventType = "connection.opened"
	EventConnectionClosed EventType = "connection.closed"

	EventChannelSubscribed     EventType = "channel.subscribed"
	EventChannelUnsubscribed   EventType = "channel.unsubscribed"
	EventChannelMemberAdded    EventType = "channel.member_added"
	EventChannelMemberRemoved  EventType = "channel.member_removed"
	EventChannelPublishDropped EventType = "channel.publish_dropped"
)

// EventData is a marker interface for event payloads.
type EventData interface {
	eventData()
}

// Event represents a runtime event delivered to listeners.
type Event struct {
	Type         EventType
	Timestamp    time.Time
	RequestID    string
	ConnectionID string
	Data         EventData
}

type baseEventData struct{}

func (baseEventData) eventData() {}

// CallStartedData contains data for router call-start events.
type CallStartedData struct {
	baseEventData
	Procedure string
	Kind      string // procedure, stream, event
	Transport string
}

// CallCompletedData contains data for router call-completion events.
type CallCompletedData struct {
	baseEventData
	Procedure string
	Kind      string
	Duration  time.Duration
}

// CallFailedData contains data for router call-failure events.
type CallFailedData struct {
	baseEventData
	Procedure string
	Kind      string
	Code      string
	Error     error
	Duration  time.Duration
}

// ValidationStartedData/PassedData/FailedData describe one schema validation.
type ValidationStartedData struct {
	baseEventData
	Procedure string
	Direction string // input, output
}

type ValidationPassedData struct {
	baseEventData
	Procedure string
	Direction string
	Duration  time.Duration
}

type ValidationFailedData struct {
	baseEventData
	Procedure  string
	Direction  string
	Duration   time.Duration
	Violations []string
}

// StreamStartedData/ItemEmittedData/EndedData/FailedData/CancelledData
// describe one stream invocation's lifecycle.
type StreamStartedData struct {
	baseEventData
	Procedure string
}

type StreamItemEmittedData struct {
	baseEventData
	Procedure string
	Sequence  int
}

type StreamEndedData struct {
	baseEventData
	Procedure string
	ItemCount int
	Duration  time.Duration
}

type StreamFailedData struct {
	baseEventData
	Procedure string
	Error     error
}

type StreamCancelledData struct {
	baseEventData
	Procedure string
	Reason    string
}

// ConnectionOpenedData/ClosedData describe a WS/TCP connection lifecycle.
type ConnectionOpenedData struct {
	baseEventData
	Transport string
	RemoteAddr string
}

type ConnectionClosedData struct {
	baseEventData
	Transport string
	Reason    string
}

// ChannelSubscribedData/UnsubscribedData/MemberAddedData/MemberRemovedData/
// PublishDroppedData describe the WebSocket channel engine's state changes.
type ChannelSubscribedData struct {
	baseEventData
	Channel string
}

type ChannelUnsubscribedData struct {
	baseEventData
	Channel string
}

type ChannelMemberAddedData struct {
	baseEventData
	Channel  string
	MemberID string
}

type ChannelMemberRemovedData struct {
	baseEventData
	Channel  string
	MemberID string
}

type ChannelPublishDroppedData struct {
	baseEventData
	Channel string
	Event   string
}
