package optimizer

// Mode selects how much work a session does.
type Mode string

const (
	// ModeQuick runs a single round of the three strategies and picks the
	// best of three candidates.
	ModeQuick Mode = "quick"
	// ModeAdvanced runs the configured iterations and rounds, refining from
	// the running best prompt each time.
	ModeAdvanced Mode = "advanced"
)

// Defaults for advanced mode.
const (
	DefaultIterations  = 2
	DefaultRounds      = 1
	DefaultTargetScore = 95
)

// OptimizationConfig controls one refinement run. Temperature and MaxTokens
// override the process-wide generation defaults for this session when set.
type OptimizationConfig struct {
	Mode              Mode     `json:"mode"`
	Iterations        int      `json:"iterations"`
	Rounds            int      `json:"rounds"`
	ContextDomain     string   `json:"contextDomain,omitempty"`
	GenerateIdentity  bool     `json:"generateIdentity"`
	GenerateReasoning bool     `json:"generateReasoning"`
	TargetScore       float64  `json:"targetScore"`
	Temperature       *float64 `json:"temperature,omitempty"`
	MaxTokens         *int     `json:"maxTokens,omitempty"`
}

// QuickConfig is the one-shot configuration: one iteration, one round, no
// identity conditioning.
func QuickConfig() OptimizationConfig {
	return OptimizationConfig{
		Mode:        ModeQuick,
		Iterations:  1,
		Rounds:      1,
		TargetScore: DefaultTargetScore,
	}
}

// AdvancedConfig is the multi-iteration configuration with expert identity
// and reasoning enabled.
func AdvancedConfig() OptimizationConfig {
	return OptimizationConfig{
		Mode:              ModeAdvanced,
		Iterations:        DefaultIterations,
		Rounds:            DefaultRounds,
		GenerateIdentity:  true,
		GenerateReasoning: true,
		TargetScore:       DefaultTargetScore,
	}
}

// normalized fills zero values with defaults and forces quick mode shape.
func (c OptimizationConfig) normalized() OptimizationConfig {
	if c.Mode == "" {
		c.Mode = ModeQuick
	}
	if c.Mode == ModeQuick {
		c.Iterations = 1
		c.Rounds = 1
	}
	if c.Iterations < 1 {
		c.Iterations = DefaultIterations
	}
	if c.Rounds < 1 {
		c.Rounds = DefaultRounds
	}
	if c.TargetScore <= 0 {
		c.TargetScore = DefaultTargetScore
	}
	return c
}
