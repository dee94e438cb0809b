// Package ledger validates and records AI usage: it resolves token counts,
// estimates cost from the pricing table when none is given, and enforces
// an optional spend ceiling before anything is written.
package ledger

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/brian-mwirigi/codesession/internal/session"
	"github.com/brian-mwirigi/codesession/internal/store"
)

// UsageStore is the part of the accounting store the ledger writes through.
type UsageStore interface {
	RecordAIUsage(ctx context.Context, u session.AIUsage, opts ...store.UsageOption) (store.Totals, error)
	Spent(ctx context.Context, sessionID int64) (float64, error)
}

// BudgetHook is called after a write brings a session's spend to or past its
// ceiling. The lifecycle controller uses it to end the session.
type BudgetHook func(ctx context.Context, sessionID int64) error

// Usage is one AI call as reported by a caller. Nil pointers mean "not
// supplied"; zero is a real value.
type Usage struct {
	SessionID        int64
	Provider         string
	Model            string
	Tokens           *int64
	PromptTokens     *int64
	CompletionTokens *int64
	Cost             *float64
	Timestamp        time.Time
}

// Result reports a recorded usage event.
type Result struct {
	Usage     session.AIUsage `json:"usage"`
	Totals    store.Totals    `json:"totals"`
	Estimated bool            `json:"estimated"`
	Ceiling   *float64        `json:"ceiling,omitempty"`
	Remaining *float64        `json:"remaining,omitempty"`
	AutoEnded bool            `json:"auto_ended"`
}

// Ledger records usage against a UsageStore.
type Ledger struct {
	store   UsageStore
	pricing Pricing
	ceiling *float64
	onLimit BudgetHook
	logger  *slog.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithCeiling sets the per-session spend ceiling. A nil ceiling disables
// enforcement.
func WithCeiling(c *float64) Option {
	return func(l *Ledger) { l.ceiling = c }
}

// WithBudgetHook sets the hook run when a session reaches its ceiling.
func WithBudgetHook(h BudgetHook) Option {
	return func(l *Ledger) { l.onLimit = h }
}

// WithLogger sets the ledger's logger.
func WithLogger(lg *slog.Logger) Option {
	return func(l *Ledger) { l.logger = lg }
}

// New returns a Ledger using pricing for estimates. A nil pricing uses the
// built-in defaults.
func New(s UsageStore, pricing Pricing, opts ...Option) *Ledger {
	if pricing == nil {
		pricing = DefaultPricing()
	}
	l := &Ledger{store: s, pricing: pricing, logger: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Pricing returns the effective price table.
func (l *Ledger) Pricing() Pricing { return l.pricing }

// Ceiling returns the configured ceiling, or nil.
func (l *Ledger) Ceiling() *float64 { return l.ceiling }

// EstimateCost prices a call from its token split. It returns false when
// the model is unknown.
func (l *Ledger) EstimateCost(model string, prompt, completion int64) (float64, bool) {
	return l.pricing.Estimate(model, prompt, completion)
}

// CanAfford reports whether spending cost on top of spent stays within
// ceiling. It has no side effects; a nil ceiling always affords.
func CanAfford(spent, cost float64, ceiling *float64) bool {
	if ceiling == nil {
		return true
	}
	return session.RoundCost(spent+cost) <= session.RoundCost(*ceiling)
}

// CanAfford checks cost against the session's recorded spend and the
// configured ceiling without writing anything.
func (l *Ledger) CanAfford(ctx context.Context, sessionID int64, cost float64) (bool, error) {
	if l.ceiling == nil {
		return true, nil
	}
	spent, err := l.store.Spent(ctx, sessionID)
	if err != nil {
		return false, err
	}
	return CanAfford(spent, cost, l.ceiling), nil
}

// Resolve turns caller input into a storable event: it fills in the total
// from the split, estimates a missing cost, and reports whether it did.
func (l *Ledger) Resolve(u Usage) (session.AIUsage, bool, error) {
	model := strings.TrimSpace(u.Model)
	if model == "" {
		return session.AIUsage{}, false, session.InvalidInput("model must not be empty")
	}
	for _, v := range []*int64{u.Tokens, u.PromptTokens, u.CompletionTokens} {
		if v != nil && *v < 0 {
			return session.AIUsage{}, false, session.InvalidInput("token counts must not be negative")
		}
	}
	hasSplit := u.PromptTokens != nil || u.CompletionTokens != nil

	var tokens int64
	switch {
	case u.Tokens != nil:
		tokens = *u.Tokens
	case hasSplit:
		tokens = deref(u.PromptTokens) + deref(u.CompletionTokens)
	default:
		return session.AIUsage{}, false, &session.Error{
			Code:    session.CodeMissingTokens,
			Message: "supply a token total or a prompt/completion split",
		}
	}

	out := session.AIUsage{
		SessionID:        u.SessionID,
		Provider:         strings.TrimSpace(u.Provider),
		Model:            model,
		Tokens:           tokens,
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		Timestamp:        u.Timestamp,
	}
	if out.Provider == "" {
		out.Provider = ProviderFor(model)
	}

	if u.Cost != nil {
		if *u.Cost < 0 {
			return session.AIUsage{}, false, session.InvalidInput("cost must not be negative")
		}
		out.Cost = session.RoundCost(*u.Cost)
		return out, false, nil
	}

	if _, ok := l.pricing.Lookup(model); !ok {
		return session.AIUsage{}, false, &session.Error{
			Code:    session.CodeUnknownModel,
			Message: "unknown model " + model + "; pass an explicit cost or add it to the pricing file",
		}
	}
	if !hasSplit {
		return session.AIUsage{}, false, &session.Error{
			Code:    session.CodeMissingTokens,
			Message: "estimating cost for " + model + " needs a prompt/completion split",
		}
	}
	out.Cost, _ = l.pricing.Estimate(model, deref(u.PromptTokens), deref(u.CompletionTokens))
	return out, true, nil
}

// LogUsage records u. With a ceiling configured the budget check runs inside
// the store's write transaction before the insert, so a rejected call writes
// nothing. When the write brings spend to the ceiling the budget hook runs
// and the result reports AutoEnded.
func (l *Ledger) LogUsage(ctx context.Context, u Usage) (*Result, error) {
	ev, estimated, err := l.Resolve(u)
	if err != nil {
		return nil, err
	}

	var opts []store.UsageOption
	if l.ceiling != nil {
		opts = append(opts, store.WithCeiling(*l.ceiling))
	}
	totals, err := l.store.RecordAIUsage(ctx, ev, opts...)
	if err != nil {
		return nil, err
	}

	res := &Result{Usage: ev, Totals: totals, Estimated: estimated}
	if l.ceiling == nil {
		return res, nil
	}
	ceiling := session.RoundCost(*l.ceiling)
	remaining := session.RoundCost(ceiling - totals.Cost)
	if remaining < 0 {
		remaining = 0
	}
	res.Ceiling, res.Remaining = &ceiling, &remaining

	if totals.Cost >= ceiling && l.onLimit != nil {
		if err := l.onLimit(ctx, u.SessionID); err != nil {
			l.logger.Warn("budget reached but auto-end failed", "session_id", u.SessionID, "error", err)
		} else {
			res.AutoEnded = true
			l.logger.Info("budget reached, session ended", "session_id", u.SessionID, "spent", totals.Cost, "ceiling", ceiling)
		}
	}
	return res, nil
}

func deref(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}
