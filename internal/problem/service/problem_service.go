package service

import (
	"context"
	"sort"

	"codearena/internal/problem/model"
	appErr "codearena/pkg/errors"
)

// Catalog is the read-only problem set. It is safe for concurrent use.
type Catalog struct {
	problems map[string]model.Problem
	ordered  []string
}

// NewCatalog validates problems and fills default points from policy.
func NewCatalog(problems []model.Problem, policy model.PointsPolicy) (*Catalog, error) {
	c := &Catalog{problems: make(map[string]model.Problem, len(problems))}
	for _, raw := range problems {
		p := raw.Clone()
		if err := normalize(&p, policy); err != nil {
			return nil, err
		}
		if _, exists := c.problems[p.ID]; exists {
			return nil, appErr.Newf(appErr.CatalogInvalid, "duplicate problem id %s", p.ID)
		}
		c.problems[p.ID] = p
		c.ordered = append(c.ordered, p.ID)
	}
	sort.Strings(c.ordered)
	return c, nil
}

func normalize(p *model.Problem, policy model.PointsPolicy) error {
	if p.ID == "" {
		return appErr.New(appErr.CatalogInvalid).WithMessage("problem id is required")
	}
	diff, ok := model.ParseDifficulty(string(p.Difficulty))
	if !ok {
		return appErr.Newf(appErr.CatalogInvalid, "problem %s has unknown difficulty %q", p.ID, p.Difficulty)
	}
	p.Difficulty = diff
	if p.TimeLimitMs <= 0 || p.MemoryLimitMB <= 0 {
		return appErr.Newf(appErr.CatalogInvalid, "problem %s must have positive limits", p.ID)
	}
	if len(p.Tests) == 0 {
		return appErr.Newf(appErr.TestCaseInvalid, "problem %s has no test cases", p.ID)
	}
	if p.Points <= 0 {
		p.Points = policy.PointsFor(p.Difficulty)
	}
	seen := make(map[int]struct{}, len(p.Tests))
	for _, tc := range p.Tests {
		if _, dup := seen[tc.Index]; dup {
			return appErr.Newf(appErr.TestCaseInvalid, "problem %s has duplicate test index %d", p.ID, tc.Index)
		}
		seen[tc.Index] = struct{}{}
	}
	p.SortTests()
	return nil
}

// Get returns a copy of the problem.
func (c *Catalog) Get(ctx context.Context, id string) (model.Problem, error) {
	if id == "" {
		return model.Problem{}, appErr.ValidationError("problem_id", "required")
	}
	p, ok := c.problems[id]
	if !ok {
		return model.Problem{}, appErr.New(appErr.ProblemNotFound).WithDetail("problem_id", id)
	}
	return p.Clone(), nil
}

// List returns every problem ordered by id.
func (c *Catalog) List(ctx context.Context) []model.Problem {
	out := make([]model.Problem, 0, len(c.ordered))
	for _, id := range c.ordered {
		out = append(out, c.problems[id].Clone())
	}
	return out
}

// Samples returns the visible cases of a problem.
func (c *Catalog) Samples(ctx context.Context, id string) ([]model.TestCase, error) {
	p, err := c.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	samples := p.SampleCases()
	if len(samples) == 0 {
		return nil, appErr.New(appErr.NoSampleTestCase).WithDetail("problem_id", id)
	}
	return samples, nil
}

// Points returns the score awarded for solving id.
func (c *Catalog) Points(id string) (int, bool) {
	p, ok := c.problems[id]
	if !ok {
		return 0, false
	}
	return p.Points, true
}
