package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brian-mwirigi/codesession/internal/config"
	"github.com/brian-mwirigi/codesession/internal/ledger"
	"github.com/brian-mwirigi/codesession/internal/session"
)

func writeProjectConfig(t *testing.T, dir, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.ProjectFile), []byte(body), 0o644))
}

func TestLogAI_ExplicitCost(t *testing.T) {
	env := newTestEnv(t)
	s := env.start(t)

	var res ledger.Result
	env.runJSON(t, &res, "log-ai", "--model", "my-local-model", "--tokens", "1200", "--cost", "0.03")
	require.Equal(t, s.ID, res.Usage.SessionID)
	require.Equal(t, int64(1200), res.Usage.Tokens)
	require.InDelta(t, 0.03, res.Usage.Cost, 1e-9)
	require.False(t, res.Estimated)
	require.Nil(t, res.Ceiling)
	require.InDelta(t, 0.03, res.Totals.Cost, 1e-9)
}

func TestLogAI_EstimatesFromSplit(t *testing.T) {
	env := newTestEnv(t)
	env.start(t)

	var res ledger.Result
	env.runJSON(t, &res, "log-ai", "--model", "gpt-4o",
		"--prompt-tokens", "1000000", "--completion-tokens", "100000")
	require.True(t, res.Estimated)
	require.Equal(t, "openai", res.Usage.Provider)
	require.Equal(t, int64(1_100_000), res.Usage.Tokens)
	require.InDelta(t, 3.5, res.Usage.Cost, 1e-9)
}

func TestLogAI_Errors(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run("log-ai", "--model", "gpt-4o", "--tokens", "5", "--cost", "0.1")
	require.ErrorIs(t, err, session.ErrNotFound)

	env.start(t)
	_, err = env.run("log-ai", "--model", "gpt-4o")
	require.True(t, session.IsCode(err, session.CodeMissingTokens), "got %v", err)

	_, err = env.run("log-ai", "--model", "gpt-4o", "--tokens", "10")
	require.True(t, session.IsCode(err, session.CodeMissingTokens), "got %v", err)

	_, err = env.run("log-ai", "--model", "mystery-1", "--prompt-tokens", "10", "--completion-tokens", "10")
	require.ErrorIs(t, err, session.ErrUnknownModel)

	_, err = env.run("log-ai", "--model", "gpt-4o", "--tokens", "10", "--cost=-1")
	require.True(t, session.IsCode(err, session.CodeInvalidInput), "got %v", err)
}

func TestBudget(t *testing.T) {
	env := newTestEnv(t)
	writeProjectConfig(t, env.work, "budget = 1.0\n")
	s := env.start(t)

	var res ledger.Result
	env.runJSON(t, &res, "log-ai", "--model", "gpt-4o", "--tokens", "100", "--cost", "0.25")
	require.NotNil(t, res.Remaining)
	require.InDelta(t, 0.75, *res.Remaining, 1e-9)
	require.False(t, res.AutoEnded)

	var r budgetReport
	env.runJSON(t, &r, "budget", "--check", "0.5")
	require.Equal(t, s.ID, r.SessionID)
	require.InDelta(t, 0.25, r.Spent, 1e-9)
	require.True(t, *r.Affordable)

	_, err := env.run("budget", "--check", "0.8")
	require.ErrorIs(t, err, session.ErrBudgetExceeded)

	// A call that would cross the ceiling is rejected and writes nothing.
	_, err = env.run("log-ai", "--model", "gpt-4o", "--tokens", "100", "--cost", "0.8")
	require.ErrorIs(t, err, session.ErrBudgetExceeded)

	// Reaching the ceiling exactly ends the session.
	env.runJSON(t, &res, "log-ai", "--model", "gpt-4o", "--tokens", "100", "--cost", "0.75")
	require.True(t, res.AutoEnded)
	require.InDelta(t, 0.0, *res.Remaining, 1e-9)

	var st statusReport
	env.runJSON(t, &st, "status")
	require.False(t, st.Active)

	ended, err := env.openStore(t).GetSession(t.Context(), s.ID)
	require.NoError(t, err)
	require.Contains(t, ended.Notes, "budget ceiling reached")
	require.InDelta(t, 1.0, ended.AICost, 1e-9)
}

func TestBudget_NoCeiling(t *testing.T) {
	env := newTestEnv(t)
	env.start(t)

	out, err := env.run("budget", "--check", "1000")
	require.NoError(t, err)
	require.Contains(t, out, "no ceiling set")
}

func TestPricing(t *testing.T) {
	env := newTestEnv(t)

	var est map[string]any
	env.runJSON(t, &est, "pricing", "estimate", "gpt-4o", "--prompt", "1000000")
	require.InDelta(t, 2.5, est["cost"], 1e-9)

	_, err := env.run("pricing", "estimate", "mystery-1", "--prompt", "10")
	require.ErrorIs(t, err, session.ErrUnknownModel)

	_, err = env.run("pricing", "set", "mystery-1", "--input", "1", "--output", "2")
	require.NoError(t, err)
	env.runJSON(t, &est, "pricing", "estimate", "mystery-1", "--prompt", "1000000", "--completion", "1000000")
	require.InDelta(t, 3.0, est["cost"], 1e-9)

	var table ledger.Pricing
	env.runJSON(t, &table, "pricing", "list")
	require.Equal(t, ledger.Price{Input: 1, Output: 2}, table["mystery-1"])
	require.Contains(t, table, "gpt-4o")
}
