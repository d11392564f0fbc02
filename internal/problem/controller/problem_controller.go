package controller

import (
	"codearena/internal/problem/model"
	"codearena/internal/problem/service"
	"codearena/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// ProblemController serves the public view of the catalog.
type ProblemController struct {
	catalog *service.Catalog
}

// NewProblemController creates a new ProblemController.
func NewProblemController(catalog *service.Catalog) *ProblemController {
	return &ProblemController{catalog: catalog}
}

// Register mounts the problem routes.
func (h *ProblemController) Register(rg *gin.RouterGroup) {
	rg.GET("/problems", h.List)
	rg.GET("/problems/:id", h.Get)
}

// List handles the problem index.
func (h *ProblemController) List(c *gin.Context) {
	problems := h.catalog.List(c.Request.Context())
	items := make([]ProblemSummary, 0, len(problems))
	for _, p := range problems {
		items = append(items, ProblemSummary{
			ID:         p.ID,
			Title:      p.Title,
			Difficulty: string(p.Difficulty),
			Points:     p.Points,
		})
	}
	response.Success(c, items)
}

// Get handles a problem statement. Hidden cases are never included.
func (h *ProblemController) Get(c *gin.Context) {
	p, err := h.catalog.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, toDetail(p))
}

func toDetail(p model.Problem) ProblemDetail {
	detail := ProblemDetail{
		ProblemSummary: ProblemSummary{
			ID:         p.ID,
			Title:      p.Title,
			Difficulty: string(p.Difficulty),
			Points:     p.Points,
		},
		Statement:     p.Statement,
		Constraints:   p.Constraints,
		TimeLimitMs:   p.TimeLimitMs,
		MemoryLimitMB: p.MemoryLimitMB,
		StarterCode:   p.StarterCode,
	}
	for _, tc := range p.SampleCases() {
		detail.Examples = append(detail.Examples, Example{
			Index:       tc.Index,
			Input:       tc.Input,
			Output:      tc.Expected,
			Explanation: tc.Explanation,
		})
	}
	return detail
}

// ProblemSummary is one row of the problem index.
type ProblemSummary struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Difficulty string `json:"difficulty"`
	Points     int    `json:"points"`
}

// ProblemDetail is the statement view of a problem.
type ProblemDetail struct {
	ProblemSummary
	Statement     string            `json:"statement"`
	Constraints   []string          `json:"constraints"`
	TimeLimitMs   int64             `json:"time_limit_ms"`
	MemoryLimitMB int64             `json:"memory_limit_mb"`
	StarterCode   map[string]string `json:"starter_code"`
	Examples      []Example         `json:"examples"`
}

// Example is a sample case shown with the statement.
type Example struct {
	Index       int    `json:"index"`
	Input       string `json:"input"`
	Output      string `json:"output"`
	Explanation string `json:"explanation,omitempty"`
}
