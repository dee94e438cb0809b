package ledger

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/brian-mwirigi/codesession/internal/session"
)

// TokensPerUnit is the token volume prices are quoted for.
const TokensPerUnit = 1_000_000

// Price is the cost of TokensPerUnit prompt (Input) and completion (Output)
// tokens.
type Price struct {
	Input  float64 `json:"input" yaml:"input" toml:"input"`
	Output float64 `json:"output" yaml:"output" toml:"output"`
}

// Pricing maps model names to prices.
type Pricing map[string]Price

// DefaultPricing returns the built-in price table.
func DefaultPricing() Pricing {
	return Pricing{
		"claude-opus-4":     {Input: 15, Output: 75},
		"claude-sonnet-4":   {Input: 3, Output: 15},
		"claude-3-7-sonnet": {Input: 3, Output: 15},
		"claude-3-5-sonnet": {Input: 3, Output: 15},
		"claude-3-5-haiku":  {Input: 0.8, Output: 4},
		"claude-haiku-4":    {Input: 1, Output: 5},
		"gpt-4o":            {Input: 2.5, Output: 10},
		"gpt-4o-mini":       {Input: 0.15, Output: 0.6},
		"gpt-4.1":           {Input: 2, Output: 8},
		"gpt-4.1-mini":      {Input: 0.4, Output: 1.6},
		"o3":                {Input: 2, Output: 8},
		"o4-mini":           {Input: 1.1, Output: 4.4},
		"gemini-2.5-pro":    {Input: 1.25, Output: 10},
		"gemini-2.5-flash":  {Input: 0.3, Output: 2.5},
	}
}

// Lookup finds the price for model: an exact (case-insensitive) match, else
// the longest known name model starts with, so dated releases such as
// "claude-sonnet-4-20250514" resolve to their family.
func (p Pricing) Lookup(model string) (Price, bool) {
	m := strings.ToLower(strings.TrimSpace(model))
	if m == "" {
		return Price{}, false
	}
	if price, ok := p[m]; ok {
		return price, true
	}
	best := ""
	for name := range p {
		n := strings.ToLower(name)
		if n == m {
			return p[name], true
		}
		if strings.HasPrefix(m, n+"-") && len(n) > len(best) {
			best = name
		}
	}
	if best == "" {
		return Price{}, false
	}
	return p[best], true
}

// Estimate returns (prompt*Input + completion*Output) / TokensPerUnit rounded
// to session.CostScale places, or false when model is unknown.
func (p Pricing) Estimate(model string, prompt, completion int64) (float64, bool) {
	price, ok := p.Lookup(model)
	if !ok {
		return 0, false
	}
	cost := (float64(prompt)*price.Input + float64(completion)*price.Output) / TokensPerUnit
	return session.RoundCost(cost), true
}

// Models returns the model names in sorted order.
func (p Pricing) Models() []string {
	out := make([]string, 0, len(p))
	for m := range p {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Merge returns a copy of p with overrides applied on top.
func (p Pricing) Merge(overrides Pricing) Pricing {
	out := make(Pricing, len(p)+len(overrides))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range overrides {
		out[strings.ToLower(k)] = v
	}
	return out
}

// LoadPricing returns the defaults merged with the override file at path.
// A missing file yields the defaults. A malformed file, or a malformed entry
// in it, is logged and ignored.
func LoadPricing(path string, logger *slog.Logger) Pricing {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultPricing()
	if path == "" {
		return defaults
	}
	overrides, err := ReadOverrides(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Warn("ignoring malformed pricing file", "path", path, "error", err)
		}
		return defaults
	}

	valid := make(Pricing, len(overrides))
	for model, price := range overrides {
		if strings.TrimSpace(model) == "" || price.Input < 0 || price.Output < 0 {
			logger.Warn("ignoring invalid pricing entry", "path", path, "model", model)
			continue
		}
		valid[model] = price
	}
	return defaults.Merge(valid)
}

// ReadOverrides decodes a pricing override file. The format follows the
// extension: .json, .yaml/.yml or .toml.
func ReadOverrides(path string) (Pricing, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var p Pricing
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(&p)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &p)
	case ".toml":
		_, err = toml.Decode(string(data), &p)
	default:
		return nil, fmt.Errorf("unsupported pricing file extension %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return p, nil
}

// SetOverride adds or replaces model's price in the override file at path,
// creating the file if needed.
func SetOverride(path, model string, price Price) error {
	if strings.TrimSpace(model) == "" {
		return session.InvalidInput("model must not be empty")
	}
	if price.Input < 0 || price.Output < 0 {
		return session.InvalidInput("prices must not be negative")
	}
	overrides, err := ReadOverrides(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if overrides == nil {
		overrides = Pricing{}
	}
	overrides[strings.ToLower(model)] = price

	var buf bytes.Buffer
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		enc := json.NewEncoder(&buf)
		enc.SetIndent("", "  ")
		err = enc.Encode(overrides)
	case ".yaml", ".yml":
		err = yaml.NewEncoder(&buf).Encode(overrides)
	case ".toml":
		err = toml.NewEncoder(&buf).Encode(overrides)
	default:
		return fmt.Errorf("unsupported pricing file extension %q", filepath.Ext(path))
	}
	if err != nil {
		return fmt.Errorf("encode pricing: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// ProviderFor guesses the provider label from a model name.
func ProviderFor(model string) string {
	m := strings.ToLower(model)
	switch {
	case strings.HasPrefix(m, "claude"):
		return "anthropic"
	case strings.HasPrefix(m, "gpt"), strings.HasPrefix(m, "o1"), strings.HasPrefix(m, "o3"), strings.HasPrefix(m, "o4"):
		return "openai"
	case strings.HasPrefix(m, "gemini"):
		return "google"
	case strings.HasPrefix(m, "mistral"), strings.HasPrefix(m, "codestral"):
		return "mistral"
	case strings.HasPrefix(m, "deepseek"):
		return "deepseek"
	}
	return "unknown"
}
