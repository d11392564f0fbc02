package repository

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestParseCatalog(t *testing.T) {
	t.Parallel()
	doc := `
problems:
  - id: P9
    title: Echo
    difficulty: easy
    timeLimitMs: 500
    memoryLimitMB: 64
    tests:
      - {index: 2, input: "b\n", expected: "b\n"}
      - {index: 1, sample: true, input: "a\n", expected: "a\n"}
`
	problems, err := Parse(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(problems) != 1 || problems[0].ID != "P9" {
		t.Fatalf("unexpected problems: %+v", problems)
	}
	if got := problems[0].Tests[1]; !got.Sample || got.Input != "a\n" {
		t.Fatalf("unexpected test: %+v", got)
	}
}

func TestParseRejectsUnknownField(t *testing.T) {
	t.Parallel()
	_, err := Parse(strings.NewReader("problems:\n  - id: P1\n    timeLimit: 5\n"))
	if err == nil {
		t.Fatalf("expected unknown field error")
	}
}

func TestLoadSeedCatalog(t *testing.T) {
	t.Parallel()
	_, file, _, _ := runtime.Caller(0)
	path := filepath.Join(filepath.Dir(file), "..", "..", "..", "configs", "problems.yaml")
	if _, err := os.Stat(path); err != nil {
		t.Skipf("seed catalog not found: %v", err)
	}
	problems, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(problems) != 6 {
		t.Fatalf("expected 6 problems, got %d", len(problems))
	}
	for _, p := range problems {
		if len(p.SampleCases()) == 0 {
			t.Fatalf("problem %s has no samples", p.ID)
		}
		for _, lang := range []string{"java", "python", "cpp"} {
			if p.StarterCode[lang] == "" {
				t.Fatalf("problem %s lacks %s starter code", p.ID, lang)
			}
		}
	}
}
