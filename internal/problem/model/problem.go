package model

import (
	"sort"
	"strings"
)

// Difficulty is the problem tier shown on the contest board.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "Easy"
	DifficultyMedium Difficulty = "Medium"
	DifficultyHard   Difficulty = "Hard"
)

// Valid reports whether d is a known tier.
func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	default:
		return false
	}
}

// ParseDifficulty accepts any letter case.
func ParseDifficulty(raw string) (Difficulty, bool) {
	for _, d := range []Difficulty{DifficultyEasy, DifficultyMedium, DifficultyHard} {
		if strings.EqualFold(raw, string(d)) {
			return d, true
		}
	}
	return "", false
}

// TestCase is one input/expected-output pair. Index defines execution order.
type TestCase struct {
	Index       int    `yaml:"index" json:"index"`
	Input       string `yaml:"input" json:"input"`
	Expected    string `yaml:"expected" json:"expected"`
	Sample      bool   `yaml:"sample" json:"sample"`
	Explanation string `yaml:"explanation,omitempty" json:"explanation,omitempty"`
}

// Problem is a catalog entry. Values handed out by the catalog are copies.
type Problem struct {
	ID            string            `yaml:"id" json:"id"`
	Title         string            `yaml:"title" json:"title"`
	Difficulty    Difficulty        `yaml:"difficulty" json:"difficulty"`
	Points        int               `yaml:"points" json:"points"`
	TimeLimitMs   int64             `yaml:"timeLimitMs" json:"timeLimitMs"`
	MemoryLimitMB int64             `yaml:"memoryLimitMB" json:"memoryLimitMB"`
	Statement     string            `yaml:"statement" json:"statement"`
	Constraints   []string          `yaml:"constraints" json:"constraints"`
	StarterCode   map[string]string `yaml:"starterCode" json:"starterCode"`
	Tests         []TestCase        `yaml:"tests" json:"-"`
}

// Clone returns a deep copy.
func (p Problem) Clone() Problem {
	out := p
	if p.Constraints != nil {
		out.Constraints = append([]string(nil), p.Constraints...)
	}
	if p.StarterCode != nil {
		out.StarterCode = make(map[string]string, len(p.StarterCode))
		for k, v := range p.StarterCode {
			out.StarterCode[k] = v
		}
	}
	if p.Tests != nil {
		out.Tests = append([]TestCase(nil), p.Tests...)
	}
	return out
}

// SampleCases returns the visible cases in index order.
func (p Problem) SampleCases() []TestCase {
	samples := make([]TestCase, 0, len(p.Tests))
	for _, tc := range p.Tests {
		if tc.Sample {
			samples = append(samples, tc)
		}
	}
	return samples
}

// SortTests orders Tests by Index in place.
func (p *Problem) SortTests() {
	sort.SliceStable(p.Tests, func(i, j int) bool { return p.Tests[i].Index < p.Tests[j].Index })
}
