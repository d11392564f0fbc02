package controller

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"codearena/internal/problem/model"
	"codearena/internal/problem/service"

	"github.com/gin-gonic/gin"
)

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	catalog, err := service.NewCatalog([]model.Problem{{
		ID:            "P1",
		Title:         "Two Sum",
		Difficulty:    model.DifficultyEasy,
		TimeLimitMs:   1000,
		MemoryLimitMB: 256,
		StarterCode:   map[string]string{"python": "pass"},
		Tests: []model.TestCase{
			{Index: 1, Input: "visible-in", Expected: "visible-out", Sample: true},
			{Index: 2, Input: "hidden-in", Expected: "hidden-out"},
		},
	}}, model.DefaultPointsPolicy())
	if err != nil {
		t.Fatalf("new catalog: %v", err)
	}
	router := gin.New()
	NewProblemController(catalog).Register(router.Group("/api/v1"))
	return router
}

func TestGetProblemHidesHiddenCases(t *testing.T) {
	t.Parallel()
	router := newRouter(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/problems/P1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if strings.Contains(body, "hidden-in") || strings.Contains(body, "hidden-out") {
		t.Fatalf("hidden case leaked: %s", body)
	}
	var resp struct {
		Data ProblemDetail `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Data.Examples) != 1 || resp.Data.Examples[0].Output != "visible-out" {
		t.Fatalf("unexpected examples: %+v", resp.Data.Examples)
	}
	if resp.Data.Points != 100 {
		t.Fatalf("expected 100 points, got %d", resp.Data.Points)
	}
}

func TestGetProblemNotFound(t *testing.T) {
	t.Parallel()
	router := newRouter(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/problems/P9", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestListProblems(t *testing.T) {
	t.Parallel()
	router := newRouter(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/problems", nil))
	var resp struct {
		Data []ProblemSummary `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Data) != 1 || resp.Data[0].Title != "Two Sum" {
		t.Fatalf("unexpected list: %+v", resp.Data)
	}
}
