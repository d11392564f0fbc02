package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"codearena/pkg/utils/contextkey"

	"github.com/gin-gonic/gin"
)

func TestTraceContextMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name      string
		traceID   string
		userID    string
		wantTrace bool
	}{
		{name: "propagates incoming trace id", traceID: "trace-abc", userID: "alice", wantTrace: true},
		{name: "generates trace id", traceID: "", userID: ""},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.Use(TraceContextMiddleware())
			var gotTrace, gotUser interface{}
			r.GET("/ping", func(c *gin.Context) {
				gotTrace = c.Request.Context().Value(contextkey.TraceID)
				gotUser = c.Request.Context().Value(contextkey.UserID)
				c.Status(http.StatusNoContent)
			})

			req := httptest.NewRequest(http.MethodGet, "/ping", nil)
			if tt.traceID != "" {
				req.Header.Set(traceIDHeader, tt.traceID)
			}
			if tt.userID != "" {
				req.Header.Set(userIDHeader, tt.userID)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			header := w.Header().Get(traceIDHeader)
			if header == "" {
				t.Fatalf("expected trace header to be written")
			}
			if gotTrace != header {
				t.Fatalf("expected context trace %s, got %v", header, gotTrace)
			}
			if tt.wantTrace && header != tt.traceID {
				t.Fatalf("expected %s, got %s", tt.traceID, header)
			}
			if tt.userID != "" && gotUser != tt.userID {
				t.Fatalf("expected user %s, got %v", tt.userID, gotUser)
			}
			if w.Header().Get(userIDHeader) != "" {
				t.Fatalf("expected user header not to be echoed")
			}
		})
	}
}
