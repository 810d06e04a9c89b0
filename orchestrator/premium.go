package orchestrator

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/budgetly/orchestrator/monitoring"
	"github.com/budgetly/orchestrator/pkg/middleware"
	"github.com/budgetly/orchestrator/pkg/pubsub"
)

// premiumAttempts tracks, per RequestKey, whether the one silent
// profile-refresh-and-retry has been spent.
type premiumAttempts struct {
	mu       sync.Mutex
	attempts map[string]int
}

func newPremiumAttempts() *premiumAttempts {
	return &premiumAttempts{attempts: make(map[string]int)}
}

// begin claims the retry for key. It returns false if it was already spent.
func (p *premiumAttempts) begin(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.attempts[key] >= 1 {
		return false
	}
	p.attempts[key]++
	return true
}

func (p *premiumAttempts) clear(key string) {
	p.mu.Lock()
	delete(p.attempts, key)
	p.mu.Unlock()
}

func (p *premiumAttempts) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.attempts)
}

// isPremiumRequired reports a 403 whose JSON body carries the
// premium-required code at "code" or "error.code". Other 403s are genuine
// authorization failures and pass through.
func isPremiumRequired(status int, body []byte) bool {
	if status != http.StatusForbidden || !gjson.ValidBytes(body) {
		return false
	}
	for _, path := range []string{"code", "error.code"} {
		if strings.EqualFold(gjson.GetBytes(body, path).String(), PremiumRequiredCode) {
			return true
		}
	}
	return false
}

// premiumMessage extracts the upsell text from a premium 403 body.
func premiumMessage(body []byte, fallback string) string {
	for _, path := range []string{"message", "error.message"} {
		if msg := strings.TrimSpace(gjson.GetBytes(body, path).String()); msg != "" {
			return msg
		}
	}
	return fallback
}

// handlePremium runs the gate for a premium-required 403: refresh the
// profile and retry once; if that does not clear the gate, prompt the
// upgrade and return ErrUpgradePrompted. The counter for key is cleared on
// every exit so the next identical request gets its own attempt.
func (o *Orchestrator) handlePremium(ctx context.Context, key string, ex *exchange) (*exchange, error) {
	if o.premium.begin(key) {
		o.metrics.Record(monitoring.MetricPremiumRetry)

		refreshed := false
		if o.profile != nil {
			if err := o.profile.FetchAndUpdateProfile(ctx); err != nil {
				if ctx.Err() != nil {
					o.premium.clear(key)
					return nil, aborted(ctx.Err())
				}
				o.logger.Warn().Err(err).Str("key", key).Msg("profile refresh failed")
			} else {
				refreshed = true
			}
		}

		if refreshed {
			retried, err := o.send(ctx, ex.req)
			if err != nil {
				o.premium.clear(key)
				return nil, err
			}
			if !isPremiumRequired(retried.snap.Status(), retried.snap.BodyBytes()) {
				o.premium.clear(key)
				return retried, nil
			}
			ex = retried
		}
	}

	o.premium.clear(key)
	o.promptUpgrade(ctx, key, premiumMessage(ex.snap.BodyBytes(), o.config.UpgradeMessage))
	return nil, ErrUpgradePrompted
}

func (o *Orchestrator) promptUpgrade(ctx context.Context, key, message string) {
	o.metrics.Record(monitoring.MetricUpgradePrompt)
	o.logger.Warn().
		Str("request_id", middleware.RequestIDFromCtx(ctx)).
		Str("key", key).
		Str("message", message).
		Msg("premium required, prompting upgrade")

	o.promptMu.RLock()
	prompter := o.prompter
	o.promptMu.RUnlock()
	if prompter != nil {
		prompter.ShowUpgrade(message)
	}

	evt := &pubsub.UpgradePromptEvent{
		Version:     pubsub.EventVersion1,
		RequestKey:  key,
		Message:     message,
		TriggeredAt: o.clock.Now(),
		RequestID:   middleware.RequestIDFromCtx(ctx),
	}
	if _, err := o.upgrades.Publish(context.WithoutCancel(ctx), evt); err != nil {
		o.logger.Debug().Err(err).Msg("upgrade prompt event not delivered")
	}
}
