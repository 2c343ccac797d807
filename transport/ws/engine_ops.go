package ws

import (
	"encoding/json"

	"github.com/raffel-dev/raffel/core"
	"github.com/raffel-dev/raffel/runtime/events"
)

// SubscribeResult carries what the caller must send after a successful
// subscribe: the channel's current presence roster, if any, delivered in
// the same subscribed-ack frame as a single snapshot.
type SubscribeResult struct {
	Def     ChannelDef
	Members []Member
}

// Subscribe authorizes and registers conn on channel. Presence channels
// assign conn a member record from joinInfo and broadcast member_added to
// every other current subscriber; conn itself learns of its own membership
// through the roster snapshot in the returned SubscribeResult instead.
func (e *Engine) Subscribe(ctx *core.Context, conn *Connection, channel string, auth json.RawMessage) (SubscribeResult, error) {
	def, ok := e.defFor(channel)
	if !ok {
		return SubscribeResult{}, errUnknownChannel(channel)
	}
	if def.Type != ChannelPublic {
		if def.Authorize == nil || !def.Authorize(ctx, auth) {
			return SubscribeResult{}, errUnauthorized(channel)
		}
	}

	state := e.stateFor(channel)
	state.addSubscriber(conn)
	e.publish(events.EventChannelSubscribed, conn.ID, events.ChannelSubscribedData{Channel: channel})

	result := SubscribeResult{Def: def}
	if def.Type == ChannelPresence {
		info := map[string]any{}
		if len(auth) > 0 {
			_ = json.Unmarshal(auth, &info)
		}
		self := Member{ID: conn.ID, Info: info}
		result.Members = state.addMember(conn.ID, self)
		e.PublishMemberExcept(channel, typeMemberAdded, self, conn.ID)
		e.publish(events.EventChannelMemberAdded, conn.ID, events.ChannelMemberAddedData{Channel: channel, MemberID: conn.ID})
	}
	return result, nil
}

// Unsubscribe removes conn from channel, reporting whether it had been a
// presence member (so the caller can broadcast member_removed).
func (e *Engine) Unsubscribe(conn *Connection, channel string) bool {
	e.mu.RLock()
	state, ok := e.channels[channel]
	e.mu.RUnlock()
	if !ok {
		return false
	}
	state.mu.Lock()
	_, wasMember := state.members[conn.ID]
	state.mu.Unlock()
	state.removeSubscriber(conn.ID)
	e.publish(events.EventChannelUnsubscribed, conn.ID, events.ChannelUnsubscribedData{Channel: channel})
	return wasMember
}

// UnsubscribeAll removes conn from every channel it had joined, used on
// disconnect to guarantee the atomicity property: either all memberships
// are cleaned up and member_removed is broadcast for each, or the
// connection was never a member of any of them.
func (e *Engine) UnsubscribeAll(conn *Connection) {
	e.mu.RLock()
	names := make([]string, 0, len(e.channels))
	for name := range e.channels {
		names = append(names, name)
	}
	e.mu.RUnlock()

	for _, name := range names {
		if wasMember := e.Unsubscribe(conn, name); wasMember {
			e.PublishMember(name, typeMemberRemoved, Member{ID: conn.ID})
			e.publish(events.EventChannelMemberRemoved, conn.ID, events.ChannelMemberRemovedData{Channel: name, MemberID: conn.ID})
		}
	}
}

// Publish fans an event/data frame out to every subscriber of channel.
func (e *Engine) Publish(channel, event string, data json.RawMessage) {
	e.PublishExcept(channel, event, data, "")
}

// PublishExcept fans an event/data frame out to every subscriber of channel
// other than excludeConnID, matching the "except (configurably) the
// publisher" default. Pass "" to include every subscriber.
func (e *Engine) PublishExcept(channel, event string, data json.RawMessage, excludeConnID string) {
	e.mu.RLock()
	state, ok := e.channels[channel]
	e.mu.RUnlock()
	if !ok {
		return
	}
	for _, conn := range state.snapshot() {
		if conn.ID == excludeConnID {
			continue
		}
		if !conn.deliverEvent(channel, event, data) {
			e.publish(events.EventChannelPublishDropped, conn.ID, events.ChannelPublishDroppedData{Channel: channel, Event: event})
		}
	}
}

// PublishMember broadcasts a member_added/member_removed frame to every
// subscriber of channel.
func (e *Engine) PublishMember(channel, frameType string, member Member) {
	e.PublishMemberExcept(channel, frameType, member, "")
}

// PublishMemberExcept broadcasts a member_added/member_removed frame to
// every subscriber of channel other than excludeConnID. Pass "" to include
// every subscriber.
func (e *Engine) PublishMemberExcept(channel, frameType string, member Member, excludeConnID string) {
	e.mu.RLock()
	state, ok := e.channels[channel]
	e.mu.RUnlock()
	if !ok {
		return
	}
	for _, conn := range state.snapshot() {
		if conn.ID == excludeConnID {
			continue
		}
		conn.deliverMember(channel, frameType, member)
	}
}

// CanPublish reports whether ctx may publish event/data on channel,
// consulting the channel's CanPublishFunc when present. Public channels
// default to allow; private/presence channels default to deny.
func (e *Engine) CanPublish(ctx *core.Context, channel, event string, data []byte) bool {
	def, ok := e.defFor(channel)
	if !ok {
		return false
	}
	if def.CanPublish != nil {
		return def.CanPublish(ctx, channel, event, data)
	}
	return def.Type == ChannelPublic
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}
