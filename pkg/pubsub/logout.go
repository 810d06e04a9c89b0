package pubsub

import (
	"context"
	"time"
)

// LogoutBroadcaster is a LogoutNotifier backed by a Topic. Each
// TriggerLogout publishes one LogoutEvent.
type LogoutBroadcaster struct {
	topic *Topic[*LogoutEvent]
	now   func() time.Time
}

// NewLogoutBroadcaster creates a broadcaster on its own session.logout topic.
func NewLogoutBroadcaster() *LogoutBroadcaster {
	return &LogoutBroadcaster{
		topic: NewTopic[*LogoutEvent](TopicSessionLogout),
		now:   time.Now,
	}
}

// Topic exposes the underlying topic for subscribers that want the event.
func (b *LogoutBroadcaster) Topic() *Topic[*LogoutEvent] { return b.topic }

// OnLogout registers fn under name.
func (b *LogoutBroadcaster) OnLogout(name string, fn func(reason string)) {
	b.topic.Subscribe(name, func(_ context.Context, evt *LogoutEvent) error {
		fn(evt.Reason)
		return nil
	})
}

// TriggerLogout notifies every listener that the session has ended.
func (b *LogoutBroadcaster) TriggerLogout() {
	b.TriggerLogoutReason(LogoutRefreshFailed, nil)
}

// TriggerLogoutReason publishes a LogoutEvent with the given reason.
func (b *LogoutBroadcaster) TriggerLogoutReason(reason string, cause error) {
	evt := &LogoutEvent{
		Version:     EventVersion1,
		Reason:      reason,
		TriggeredAt: b.now(),
	}
	if cause != nil {
		evt.Error = cause.Error()
	}
	// Handlers never fail and the event is always well-formed
	_, _ = b.topic.Publish(context.Background(), evt)
}
