package controller

import (
	"strconv"
	"strings"

	"codearena/internal/arena/service"
	"codearena/internal/common/http/middleware"
	pkgrepo "codearena/pkg/repository"
	"codearena/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// RateLimits configures per-route limits for code execution.
type RateLimits struct {
	Submit middleware.RateLimitPolicy `yaml:"submit"`
	Run    middleware.RateLimitPolicy `yaml:"run"`
}

// ArenaController handles contest, submission and leaderboard endpoints.
type ArenaController struct {
	arena   *service.Service
	limiter *middleware.RateLimiter
	limits  RateLimits
	stream  *LeaderboardStream
}

// NewArenaController creates a new ArenaController. limiter may be nil.
func NewArenaController(arena *service.Service, limiter *middleware.RateLimiter, limits RateLimits, stream *LeaderboardStream) *ArenaController {
	if stream == nil {
		stream = NewLeaderboardStream(arena, StreamConfig{})
	}
	return &ArenaController{arena: arena, limiter: limiter, limits: limits, stream: stream}
}

// Register mounts the arena routes.
func (h *ArenaController) Register(rg *gin.RouterGroup) {
	auth := SessionAuth(h.arena)

	rg.GET("/contests/:id", h.GetContest)
	rg.POST("/contests/:id/join", h.Join)
	rg.GET("/contests/:id/leaderboard", h.Leaderboard)
	rg.GET("/contests/:id/leaderboard/ws", h.stream.Serve)
	rg.POST("/contests/:id/submissions", auth,
		middleware.RateLimitMiddleware(h.limiter, "submit", h.limits.Submit), h.Submit)
	rg.POST("/problems/:id/run", auth,
		middleware.RateLimitMiddleware(h.limiter, "run", h.limits.Run), h.RunSample)
	rg.POST("/sessions/leave", h.Leave)
	rg.GET("/submissions/:id", h.GetSubmission)
	rg.GET("/users/:user/submissions", h.History)
	rg.GET("/users/:user/stats", h.Stats)
}

// GetContest returns contest metadata.
func (h *ArenaController) GetContest(c *gin.Context) {
	contest, err := h.arena.GetContest(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, contest)
}

// Join registers a user in a contest.
func (h *ArenaController) Join(c *gin.Context) {
	var req JoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	session, err := h.arena.JoinContest(c.Request.Context(), c.Param("id"), req.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, session)
}

// Leave ends the caller's session. It is allowed after the contest ended.
func (h *ArenaController) Leave(c *gin.Context) {
	token := BearerToken(c)
	if token == "" {
		response.Unauthorized(c, "missing session token")
		return
	}
	session, err := h.arena.LeaveContest(c.Request.Context(), token)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, session)
}

// Submit queues a graded submission.
func (h *ArenaController) Submit(c *gin.Context) {
	session, ok := SessionFrom(c)
	if !ok {
		response.Unauthorized(c, "missing session")
		return
	}
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	id, err := h.arena.SubmitCode(c.Request.Context(), session, service.SubmitInput{
		ContestID: c.Param("id"),
		ProblemID: req.ProblemID,
		Language:  strings.ToLower(strings.TrimSpace(req.Language)),
		Source:    req.Source,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, SubmitResponse{SubmissionID: id})
}

// RunSample runs code against the sample cases and returns every case.
func (h *ArenaController) RunSample(c *gin.Context) {
	session, ok := SessionFrom(c)
	if !ok {
		response.Unauthorized(c, "missing session")
		return
	}
	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	res, err := h.arena.RunSample(c.Request.Context(), session.UserID, c.Param("id"),
		strings.ToLower(strings.TrimSpace(req.Language)), req.Source)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// GetSubmission returns a submission's status and, once done, its verdict.
func (h *ArenaController) GetSubmission(c *gin.Context) {
	status, err := h.arena.GetSubmission(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, status)
}

// History lists a user's submissions newest first.
func (h *ArenaController) History(c *gin.Context) {
	opts, ok := listOptions(c)
	if !ok {
		response.BadRequest(c, "Invalid pagination parameters")
		return
	}
	items, err := h.arena.GetSubmissionHistory(c.Request.Context(), c.Param("user"), opts)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, items)
}

// Stats returns a user's summary statistics.
func (h *ArenaController) Stats(c *gin.Context) {
	stats, err := h.arena.GetStats(c.Request.Context(), c.Param("user"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, stats)
}

// Leaderboard returns the current ranking of a contest.
func (h *ArenaController) Leaderboard(c *gin.Context) {
	snap, err := h.arena.GetLeaderboard(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, snap)
}

// listOptions reads page and page_size query parameters. Both are optional.
func listOptions(c *gin.Context) (pkgrepo.ListOptions, bool) {
	var opts pkgrepo.ListOptions
	page, ok := queryInt(c, "page")
	if !ok {
		return opts, false
	}
	size, ok := queryInt(c, "page_size")
	if !ok {
		return opts, false
	}
	opts.SetPagination(page, size)
	return opts, true
}

func queryInt(c *gin.Context, name string) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// JoinRequest defines the join payload. Identity is an opaque user name.
type JoinRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// SubmitRequest defines the submission payload.
type SubmitRequest struct {
	ProblemID string `json:"problem_id" binding:"required"`
	Language  string `json:"language" binding:"required"`
	Source    string `json:"source" binding:"required"`
}

// SubmitResponse defines the submission response payload.
type SubmitResponse struct {
	SubmissionID string `json:"submission_id"`
}

// RunRequest defines the sample run payload.
type RunRequest struct {
	Language string `json:"language" binding:"required"`
	Source   string `json:"source" binding:"required"`
}
