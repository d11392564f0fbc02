package model

// PointsPolicy assigns default points per difficulty.
type PointsPolicy struct {
	Easy   int `yaml:"easy"`
	Medium int `yaml:"medium"`
	Hard   int `yaml:"hard"`
}

// DefaultPointsPolicy returns 100/200/300.
func DefaultPointsPolicy() PointsPolicy {
	return PointsPolicy{Easy: 100, Medium: 200, Hard: 300}
}

// PointsFor returns the configured points for d, falling back to the defaults.
func (p PointsPolicy) PointsFor(d Difficulty) int {
	def := DefaultPointsPolicy()
	pick := func(v, fallback int) int {
		if v > 0 {
			return v
		}
		return fallback
	}
	switch d {
	case DifficultyEasy:
		return pick(p.Easy, def.Easy)
	case DifficultyMedium:
		return pick(p.Medium, def.Medium)
	case DifficultyHard:
		return pick(p.Hard, def.Hard)
	default:
		return 0
	}
}
