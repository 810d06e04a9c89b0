package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/budgetly/orchestrator/monitoring"
	"github.com/budgetly/orchestrator/pkg/pubsub"
	"github.com/budgetly/orchestrator/pkg/utils"
)

const refreshKey = "refresh"

var errSessionEnded = errors.New("session ended")

// refreshCoordinator guarantees at most one token refresh in progress.
// Every 401 handler that arrives while a refresh is running waits for that
// same refresh; the group forgets the result as soon as it settles.
type refreshCoordinator struct {
	group singleflight.Group
	o     *Orchestrator
}

// refresh returns a fresh access token. seen is the token the caller's
// request failed with; if the provider has moved on since, the refresh that
// moved it already happened and its result is reused. On failure the tokens
// are cleared and logout fires once, before any waiter sees the error.
func (r *refreshCoordinator) refresh(ctx context.Context, seen string) (string, error) {
	ch := r.group.DoChan(refreshKey, func() (interface{}, error) {
		o := r.o
		if current := o.tokens.GetAccessToken(); current != seen {
			if current == "" {
				return "", errSessionEnded
			}
			return current, nil
		}

		o.metrics.Record(monitoring.MetricRefresh)
		o.logger.Info().Msg("refreshing access token")

		// Detached: one caller aborting must not fail the refresh for the rest
		token, err := o.tokens.RefreshTokens(context.WithoutCancel(ctx))
		if err == nil && token == "" {
			err = fmt.Errorf("refresh returned an empty token")
		}
		if err != nil {
			o.metrics.Record(monitoring.MetricRefreshFailure)
			o.logger.Error().Err(err).Msg("token refresh failed, ending session")
			o.tokens.ClearTokens()
			o.triggerLogout(pubsub.LogoutRefreshFailed, err)
			return "", err
		}
		return token, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", fmt.Errorf("%w: %w", ErrUnauthorized, res.Err)
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", aborted(ctx.Err())
	}
}

func (o *Orchestrator) triggerLogout(reason string, cause error) {
	if o.logout == nil {
		return
	}
	if rl, ok := o.logout.(reasonedLogout); ok {
		rl.TriggerLogoutReason(reason, cause)
		return
	}
	o.logout.TriggerLogout()
}

// isAuthPath reports whether rawURL targets one of the auth endpoints.
func (o *Orchestrator) isAuthPath(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	path := strings.TrimRight(u.Path, "/")
	for _, p := range o.config.AuthPaths {
		if strings.HasSuffix(path, strings.TrimRight(p, "/")) {
			return true
		}
	}
	return false
}

// attachToken sets "Authorization: Bearer <token>" unless the caller already
// sent one or the request targets an auth endpoint.
func (o *Orchestrator) attachToken(req *Request) {
	if o.tokens == nil || o.isAuthPath(req.URL) {
		return
	}
	if _, ok := utils.HeaderValue(req.Header, "Authorization"); ok {
		return
	}
	if token := o.tokens.GetAccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// bearer returns the token a request was sent with.
func bearer(h http.Header) string {
	v, _ := utils.HeaderValue(h, "Authorization")
	if len(v) > 7 && strings.EqualFold(v[:7], "bearer ") {
		return strings.TrimSpace(v[7:])
	}
	return ""
}

// withToken returns a copy of req carrying token.
func withToken(req *Request, token string) *Request {
	out := *req
	out.Header = req.Header.Clone()
	utils.DeleteHeader(out.Header, "Authorization")
	out.Header.Set("Authorization", "Bearer "+token)
	return &out
}

// handleUnauthorized recovers a 401 on a non-auth endpoint.
//
//   - If the provider already holds a different token, the request was sent
//     with a stale one: retry with the current token, no refresh.
//   - If the provider holds no token the session is gone: ErrUnauthorized.
//   - Otherwise join (or start) the single refresh and retry once with the
//     new token. The retry's outcome is final, even another 401.
func (o *Orchestrator) handleUnauthorized(ctx context.Context, ex *exchange) (*exchange, error) {
	if o.tokens == nil {
		return nil, ErrUnauthorized
	}

	sent := bearer(ex.req.Header)
	current := o.tokens.GetAccessToken()
	if current == "" {
		return nil, ErrUnauthorized
	}
	if current != sent {
		o.logger.Debug().Str("url", ex.req.URL).Msg("retrying with current token")
		retried, err := o.send(ctx, withToken(ex.req, current))
		if err != nil || retried.snap.Status() != http.StatusUnauthorized {
			return retried, err
		}
		ex = retried
	}

	token, err := o.refresh.refresh(ctx, bearer(ex.req.Header))
	if err != nil {
		return nil, err
	}
	return o.send(ctx, withToken(ex.req, token))
}
