// Package pubsub provides topic names, event types and an in-process typed
// topic for the orchestrator's notifications.
//
// Topic Naming Convention:
//   - cache.invalidate: Cache prefixes cleared after a mutation
//   - session.logout: Session ended after a failed token refresh
//   - premium.upgrade: Upgrade prompt shown for a premium-gated request
//
// Design Notes:
//   - Topics are defined as constants to avoid typos and enable compile-time checks
//   - Version field in events enables schema evolution without breaking consumers
package pubsub

const (
	// TopicCacheInvalidate is published after every successful mutation.
	// Event type: InvalidationEvent
	// Publishers: invalidation service
	TopicCacheInvalidate = "cache.invalidate"

	// TopicSessionLogout is published when the session is torn down.
	// Event type: LogoutEvent
	// Publishers: orchestrator auth refresh
	TopicSessionLogout = "session.logout"

	// TopicPremiumUpgrade is published when an upgrade prompt is shown.
	// Event type: UpgradePromptEvent
	// Publishers: orchestrator premium gate
	TopicPremiumUpgrade = "premium.upgrade"
)

// AllTopics returns all defined topic names.
func AllTopics() []string {
	return []string{
		TopicCacheInvalidate,
		TopicSessionLogout,
		TopicPremiumUpgrade,
	}
}

// IsValidTopic reports whether topic is one of the names above.
func IsValidTopic(topic string) bool {
	for _, t := range AllTopics() {
		if t == topic {
			return true
		}
	}
	return false
}
