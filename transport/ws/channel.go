// Package ws implements the WebSocket adapter and channel engine:
// subscription state, channel authorization, presence membership, and
// publish/subscribe fan-out.
package ws

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/raffel-dev/raffel/core"
	"github.com/raffel-dev/raffel/runtime/events"
)

// ChannelType classifies access control for a Channel.
type ChannelType string

const (
	ChannelPublic   ChannelType = "public"
	ChannelPrivate  ChannelType = "private"
	ChannelPresence ChannelType = "presence"
)

func typeForName(name string) ChannelType {
	switch {
	case strings.HasPrefix(name, "presence-"):
		return ChannelPresence
	case strings.HasPrefix(name, "private-"):
		return ChannelPrivate
	default:
		return ChannelPublic
	}
}

// AuthorizeFunc decides whether ctx may subscribe to a private/presence
// channel. auth is the raw "auth" field supplied in the subscribe frame,
// nil when the client omitted it.
type AuthorizeFunc func(ctx *core.Context, auth json.RawMessage) bool

// CanPublishFunc decides whether ctx may publish event/data to a channel.
// Default is deny on private/presence channels unless overridden.
type CanPublishFunc func(ctx *core.Context, channel, event string, data []byte) bool

// Member is one presence-channel participant.
type Member struct {
	ID   string         `json:"id"`
	Info map[string]any `json:"info,omitempty"`
}

// ChannelDef is the static definition of a registered channel pattern.
type ChannelDef struct {
	Name        string
	Type        ChannelType
	Authorize   AuthorizeFunc
	CanPublish  CanPublishFunc
	EventSchema map[string][]byte
}

// channelState is the runtime state of one concrete (non-templated) channel
// name: its subscriber set and, for presence channels, its member map.
type channelState struct {
	mu          sync.Mutex
	subscribers map[string]*Connection // connection id -> connection
	members     map[string]Member      // connection id -> member info, presence only
	memberOrder []string
}

func newChannelState() *channelState {
	return &channelState{
		subscribers: make(map[string]*Connection),
		members:     make(map[string]Member),
	}
}

func (s *channelState) addSubscriber(conn *Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers[conn.ID] = conn
}

func (s *channelState) removeSubscriber(connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscribers, connID)
	if _, ok := s.members[connID]; ok {
		delete(s.members, connID)
		for i, id := range s.memberOrder {
			if id == connID {
				s.memberOrder = append(s.memberOrder[:i], s.memberOrder[i+1:]...)
				break
			}
		}
	}
}

// snapshot copies the subscriber set under lock, then releases it before
// the caller fans out — never holding the lock across a send, per the
// concurrency model's per-channel mutual exclusion rule.
func (s *channelState) snapshot() []*Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Connection, 0, len(s.subscribers))
	for _, c := range s.subscribers {
		out = append(out, c)
	}
	return out
}

func (s *channelState) addMember(connID string, m Member) []Member {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[connID] = m
	s.memberOrder = append(s.memberOrder, connID)
	snapshot := make([]Member, 0, len(s.members))
	for _, id := range s.memberOrder {
		snapshot = append(snapshot, s.members[id])
	}
	return snapshot
}

// Engine owns every channel's runtime state and the set of registered
// ChannelDefs.
type Engine struct {
	mu       sync.RWMutex
	defs     map[string]ChannelDef
	channels map[string]*channelState

	// Events, if set, receives channel.* lifecycle events for every
	// subscribe/unsubscribe/membership change the engine processes.
	Events *events.EventBus
}

// NewEngine returns an empty Engine.
func NewEngine() *Engine {
	return &Engine{defs: make(map[string]ChannelDef), channels: make(map[string]*channelState)}
}

func (e *Engine) publish(t events.EventType, connID string, data events.EventData) {
	if e.Events == nil {
		return
	}
	e.Events.Publish(&events.Event{Type: t, Timestamp: time.Now(), ConnectionID: connID, Data: data})
}

// RegisterChannel adds a channel definition. name's prefix ("private-",
// "presence-", or none) must match the declared type.
func (e *Engine) RegisterChannel(def ChannelDef) error {
	if typeForName(def.Name) != def.Type {
		return errMismatchedPrefix(def.Name, def.Type)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.defs[def.Name] = def
	return nil
}

func (e *Engine) defFor(name string) (ChannelDef, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	def, ok := e.defs[name]
	if ok {
		return def, true
	}
	// Unregistered channel names are allowed as ad-hoc public channels
	// unless they use a reserved prefix without a definition.
	t := typeForName(name)
	if t != ChannelPublic {
		return ChannelDef{}, false
	}
	return ChannelDef{Name: name, Type: ChannelPublic}, true
}

func (e *Engine) stateFor(name string) *channelState {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.channels[name]
	if !ok {
		s = newChannelState()
		e.channels[name] = s
	}
	return s
}
