package ws

import "encoding/json"

// Wire frame type discriminators, matching spec's unified JSON envelope
// protocol: client->server channel operations, envelope calls (shared with
// the HTTP/TCP adapters), and server->client replies all share one "type"
// field rather than separate namespaces.
const (
	typeSubscribe   = "subscribe"
	typeUnsubscribe = "unsubscribe"
	typePublish     = "publish"
	typePing        = "ping"

	typeSubscribed    = "subscribed"
	typeUnsubscribed  = "unsubscribed"
	typeEvent         = "event"
	typeMemberAdded   = "member_added"
	typeMemberRemoved = "member_removed"
	typeError         = "error"
	typePong          = "pong"
)

// channelOpTypes are the frame types handled by the channel engine rather
// than routed to the procedure Router.
var channelOpTypes = map[string]bool{
	typeSubscribe:   true,
	typeUnsubscribe: true,
	typePublish:     true,
	typePing:        true,
}

// inboundFrame is the wire shape of every client->server message.
type inboundFrame struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel,omitempty"`
	ID      string          `json:"id,omitempty"`
	Auth    json.RawMessage `json:"auth,omitempty"`
	Event   string          `json:"event,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`

	Procedure string            `json:"procedure,omitempty"`
	Payload   json.RawMessage   `json:"payload,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// outboundFrame is the wire shape of every server->client message.
type outboundFrame struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel,omitempty"`
	ID      string          `json:"id,omitempty"`
	Event   string          `json:"event,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Members []Member        `json:"members,omitempty"`
	Member  *Member         `json:"member,omitempty"`

	Procedure string            `json:"procedure,omitempty"`
	Payload   json.RawMessage   `json:"payload,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`

	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}
