// Package router implements the adaptive model router: tier selection
// from task-text complexity heuristics, and confidence-driven escalation.
package router

import "strings"

// Tier buckets a model's cost/capability class.
type Tier int

const (
	Economy Tier = iota
	Standard
	Premium
)

func (t Tier) String() string {
	switch t {
	case Economy:
		return "Economy"
	case Standard:
		return "Standard"
	case Premium:
		return "Premium"
	default:
		return "Unknown"
	}
}

// ModelConfig is a single catalogue entry.
type ModelConfig struct {
	Name             string
	ProviderID       string
	Tier             Tier
	CostPer1kInput   float64
	CostPer1kOutput  float64
	MaxContextTokens int
	Vision           bool
	Tools            bool
}

// DefaultCatalogue is the kernel's built-in model catalogue, carried over
// from the reference implementation's default set.
func DefaultCatalogue() []ModelConfig {
	return []ModelConfig{
		{Name: "gpt4o_mini", ProviderID: "openai", Tier: Economy, CostPer1kInput: 0.00015, CostPer1kOutput: 0.0006, MaxContextTokens: 128000, Vision: true, Tools: true},
		{Name: "claude_haiku", ProviderID: "anthropic", Tier: Economy, CostPer1kInput: 0.00025, CostPer1kOutput: 0.00125, MaxContextTokens: 200000, Vision: true, Tools: true},
		{Name: "gpt4o", ProviderID: "openai", Tier: Standard, CostPer1kInput: 0.005, CostPer1kOutput: 0.015, MaxContextTokens: 128000, Vision: true, Tools: true},
		{Name: "claude_sonnet", ProviderID: "anthropic", Tier: Standard, CostPer1kInput: 0.003, CostPer1kOutput: 0.015, MaxContextTokens: 200000, Vision: true, Tools: true},
		{Name: "claude_opus", ProviderID: "anthropic", Tier: Premium, CostPer1kInput: 0.015, CostPer1kOutput: 0.075, MaxContextTokens: 200000, Vision: true, Tools: true},
	}
}

// Config is the tunable routing behaviour, matching the configuration
// defaults in the external interfaces section.
type Config struct {
	EnableCascade     bool
	EconomyThreshold  float64
	StandardThreshold float64
	MaxEscalations    int
}

func DefaultConfig() Config {
	return Config{EnableCascade: true, EconomyThreshold: 0.85, StandardThreshold: 0.70, MaxEscalations: 2}
}

var complexKeywords = []string{
	"analyze", "synthesize", "compare", "evaluate", "design", "architecture",
	"complex", "multiple", "reasoning", "step-by-step", "research",
	"comprehensive", "detailed", "expert", "advanced",
}

var simpleKeywords = []string{
	"simple", "basic", "quick", "short", "summarize", "extract", "list",
	"format", "convert", "translate",
}

var codeKeywords = []string{"code", "program", "debug"}
var mathKeywords = []string{"math", "calculate", "prove"}

// EstimateComplexity scores task text into [0,1], matching the reference
// heuristic exactly: word-count buckets, keyword tallies, and
// category bumps for code/math tasks.
func EstimateComplexity(taskText string) float64 {
	lower := strings.ToLower(taskText)
	words := len(strings.Fields(taskText))

	score := 0.0
	switch {
	case words > 100:
		score += 0.2
	case words > 50:
		score += 0.1
	}

	for _, kw := range complexKeywords {
		if strings.Contains(lower, kw) {
			score += 0.1
		}
	}
	for _, kw := range simpleKeywords {
		if strings.Contains(lower, kw) {
			score -= 0.1
		}
	}
	for _, kw := range codeKeywords {
		if strings.Contains(lower, kw) {
			score += 0.2
			break
		}
	}
	for _, kw := range mathKeywords {
		if strings.Contains(lower, kw) {
			score += 0.3
			break
		}
	}

	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score
}

// TierForComplexity buckets a complexity score into a Tier.
func TierForComplexity(score float64) Tier {
	switch {
	case score < 0.3:
		return Economy
	case score < 0.7:
		return Standard
	default:
		return Premium
	}
}

// Router picks models from a fixed catalogue under a Config.
type Router struct {
	catalogue []ModelConfig
	config    Config
}

func New(catalogue []ModelConfig, cfg Config) *Router {
	return &Router{catalogue: catalogue, config: cfg}
}

// SelectModel picks a catalogue entry for taskText: complexity score to
// tier, then cheapest model within that tier.
func (r *Router) SelectModel(taskText string) (ModelConfig, bool) {
	if !r.config.EnableCascade {
		return r.cheapestInTier(Standard)
	}
	score := EstimateComplexity(taskText)
	tier := TierForComplexity(score)
	return r.cheapestInTier(tier)
}

// SelectModelForTier returns the cheapest catalogue entry in tier,
// bypassing complexity estimation. Used when escalating to a specific
// tier rather than routing fresh task text.
func (r *Router) SelectModelForTier(tier Tier) (ModelConfig, bool) {
	return r.cheapestInTier(tier)
}

// cheapestInTier returns the lowest combined-cost model in tier, ties
// broken by catalogue (insertion) order.
func (r *Router) cheapestInTier(tier Tier) (ModelConfig, bool) {
	var best ModelConfig
	found := false
	bestCost := 0.0
	for _, m := range r.catalogue {
		if m.Tier != tier {
			continue
		}
		combined := m.CostPer1kInput + m.CostPer1kOutput
		if !found || combined < bestCost {
			best, bestCost, found = m, combined, true
		}
	}
	return best, found
}

// ShouldEscalate compares confidence against the tier's threshold.
// Premium never escalates.
func (r *Router) ShouldEscalate(confidence float64, tier Tier) bool {
	switch tier {
	case Economy:
		return confidence < r.config.EconomyThreshold
	case Standard:
		return confidence < r.config.StandardThreshold
	default:
		return false
	}
}

// EscalateTier returns the next tier up, or ok=false if tier is already
// Premium.
func (r *Router) EscalateTier(tier Tier) (Tier, bool) {
	switch tier {
	case Economy:
		return Standard, true
	case Standard:
		return Premium, true
	default:
		return Premium, false
	}
}

// MaxEscalations exposes the configured escalation budget.
func (r *Router) MaxEscalations() int { return r.config.MaxEscalations }

// EstimateCost computes dollars for an input/output token pair against a
// named model; an unknown model costs 0.
func (r *Router) EstimateCost(modelName string, inputTokens, outputTokens int) float64 {
	for _, m := range r.catalogue {
		if m.Name == modelName {
			return (float64(inputTokens)/1000)*m.CostPer1kInput + (float64(outputTokens)/1000)*m.CostPer1kOutput
		}
	}
	return 0
}

// ModelByName looks up a catalogue entry by name.
func (r *Router) ModelByName(name string) (ModelConfig, bool) {
	for _, m := range r.catalogue {
		if m.Name == name {
			return m, true
		}
	}
	return ModelConfig{}, false
}

// ModelNames returns every catalogue entry's name, in catalogue order, for
// seeding an agent pool against the routable models.
func (r *Router) ModelNames() []string {
	names := make([]string, len(r.catalogue))
	for i, m := range r.catalogue {
		names[i] = m.Name
	}
	return names
}
