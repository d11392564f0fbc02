package profile

import (
	"context"
	"testing"

	appErr "codearena/pkg/errors"
)

func TestRegistryResolvesDefaults(t *testing.T) {
	t.Parallel()
	reg := NewRegistry(DefaultLanguages())

	ids := reg.IDs()
	if len(ids) != 3 || ids[0] != "cpp" || ids[1] != "java" || ids[2] != "python" {
		t.Fatalf("unexpected ids: %v", ids)
	}

	tests := []struct {
		id       string
		wantCode appErr.ErrorCode
	}{
		{id: "java", wantCode: appErr.Success},
		{id: "python", wantCode: appErr.Success},
		{id: "rust", wantCode: appErr.LanguageNotSupported},
		{id: "", wantCode: appErr.ValidationFailed},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.id, func(t *testing.T) {
			t.Parallel()
			lang, err := reg.GetLanguageSpec(context.Background(), tt.id)
			if got := appErr.GetCode(err); got != tt.wantCode {
				t.Fatalf("expected code %d, got %d", tt.wantCode, got)
			}
			if err == nil && lang.ID != tt.id {
				t.Fatalf("expected %s, got %s", tt.id, lang.ID)
			}
		})
	}
}
