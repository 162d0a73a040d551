package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"sahayak/internal/prompt"
	"sahayak/internal/retrieval"
)

// Tuning is the YAML deployment profile: the knobs that differ between
// deployments without being secrets. Everything here has a sensible
// default, so a missing profile is not an error.
type Tuning struct {
	Retrieval RetrievalTuning `yaml:"retrieval"`
	Memory    MemoryTuning    `yaml:"memory"`
	Prompt    PromptTuning    `yaml:"prompt"`
	Retry     RetryTuning     `yaml:"retry"`
	Agent     AgentTuning     `yaml:"agent"`
}

type RetrievalTuning struct {
	Weights            retrieval.Weights `yaml:"weights"`
	RecencyHalfLifeHrs float64           `yaml:"recencyHalfLifeHours"`
	TopK               int               `yaml:"topK"`
	MinScore           float64           `yaml:"minScore"`
	TokenBudget        int               `yaml:"tokenBudget"`
	Overfetch          int               `yaml:"overfetch"`
	MinFragmentTokens  int               `yaml:"minFragmentTokens"`
}

type MemoryTuning struct {
	SummarizeThreshold int     `yaml:"summarizeThreshold"`
	RecentWindow       int     `yaml:"recentWindow"`
	CapacityLimit      int     `yaml:"capacityLimit"`
	ImportanceFloor    float64 `yaml:"importanceFloor"`
	StalenessDays      int     `yaml:"stalenessDays"`
}

type PromptTuning struct {
	Ratios            prompt.Ratios `yaml:"ratios"`
	ModelContextLimit int           `yaml:"modelContextLimit"`
}

type RetryTuning struct {
	MaxAttempts    int `yaml:"maxAttempts"`
	InitialDelayMs int `yaml:"initialDelayMs"`
	MaxDelayMs     int `yaml:"maxDelayMs"`
}

type AgentTuning struct {
	ToolRoundLimit   int `yaml:"toolRoundLimit"`
	MaxResponseChars int `yaml:"maxResponseChars"`
}

func DefaultTuning() Tuning {
	return Tuning{
		Retrieval: RetrievalTuning{
			Weights:            retrieval.DefaultWeights,
			RecencyHalfLifeHrs: 72,
			TopK:               6,
			MinScore:           0.25,
			TokenBudget:        1024,
			Overfetch:          3,
		},
		Memory: MemoryTuning{
			SummarizeThreshold: 20,
			RecentWindow:       20,
			CapacityLimit:      1000,
			ImportanceFloor:    0.2,
			StalenessDays:      14,
		},
		Prompt: PromptTuning{
			Ratios:            prompt.DefaultRatios,
			ModelContextLimit: 8192,
		},
		Retry: RetryTuning{
			MaxAttempts:    3,
			InitialDelayMs: 500,
			MaxDelayMs:     10000,
		},
		Agent: AgentTuning{
			ToolRoundLimit:   5,
			MaxResponseChars: 8000,
		},
	}
}

// LoadTuning reads the YAML profile at path, layered over the defaults.
// An empty path returns the defaults unchanged.
func LoadTuning(path string) (Tuning, error) {
	t := DefaultTuning()
	if path == "" {
		return t, nil
	}
	data, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return t, fmt.Errorf("cannot read tuning profile %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &t); err != nil {
		return t, fmt.Errorf("cannot parse tuning profile %s: %w", path, err)
	}
	return t, nil
}

// RecencyHalfLife converts the profile's hours value into a duration.
func (t Tuning) RecencyHalfLife() time.Duration {
	return time.Duration(t.Retrieval.RecencyHalfLifeHrs * float64(time.Hour))
}

// StalenessHorizon converts the profile's days value into a duration.
func (t Tuning) StalenessHorizon() time.Duration {
	return time.Duration(t.Memory.StalenessDays) * 24 * time.Hour
}

// InitialDelay returns the retry backoff start as a duration.
func (t Tuning) InitialDelay() time.Duration {
	return time.Duration(t.Retry.InitialDelayMs) * time.Millisecond
}

// MaxDelay returns the retry backoff ceiling as a duration.
func (t Tuning) MaxDelay() time.Duration {
	return time.Duration(t.Retry.MaxDelayMs) * time.Millisecond
}
