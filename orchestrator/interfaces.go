package orchestrator

import "context"

// TokenProvider owns the session tokens.
type TokenProvider interface {
	// GetAccessToken returns the current access token, or "" when signed out.
	GetAccessToken() string
	// RefreshTokens exchanges the refresh token for a new access token and
	// stores it before returning.
	RefreshTokens(ctx context.Context) (string, error)
	// ClearTokens forgets every token.
	ClearTokens()
}

// LogoutNotifier broadcasts the end of a session to registered listeners.
// pubsub.LogoutBroadcaster is the standard implementation.
type LogoutNotifier interface {
	OnLogout(name string, fn func(reason string))
	TriggerLogout()
}

// reasonedLogout is implemented by notifiers that record why the session ended.
type reasonedLogout interface {
	TriggerLogoutReason(reason string, cause error)
}

// ProfileRefresher re-fetches the user's entitlements from the server.
type ProfileRefresher interface {
	FetchAndUpdateProfile(ctx context.Context) error
}

// UpgradePrompter shows the premium upsell.
type UpgradePrompter interface {
	ShowUpgrade(message string)
}

// UpgradePrompterFunc adapts a function to UpgradePrompter.
type UpgradePrompterFunc func(message string)

// ShowUpgrade calls f(message).
func (f UpgradePrompterFunc) ShowUpgrade(message string) { f(message) }
