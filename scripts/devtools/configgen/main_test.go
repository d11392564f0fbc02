package main

import (
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestRenderMergesOverridesOverSession(t *testing.T) {
	t.Parallel()
	base := map[string]interface{}{
		"redis":   map[string]interface{}{"addr": "", "db": 0},
		"session": map[string]interface{}{"secret": "change-me", "tokenGrace": "24h"},
	}
	env := EnvironmentProfile{Overrides: map[string]interface{}{
		"redis":   map[string]interface{}{"addr": "redis:6379"},
		"session": map[string]interface{}{"issuer": "staging"},
	}}
	out, err := render(base, SessionProfile{Secret: "shared", Issuer: "codearena"}, env)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	redis := out["redis"].(map[string]interface{})
	if redis["addr"] != "redis:6379" || redis["db"] != 0 {
		t.Fatalf("unexpected redis block %v", redis)
	}
	session := out["session"].(map[string]interface{})
	if session["secret"] != "shared" || session["issuer"] != "staging" || session["tokenGrace"] != "24h" {
		t.Fatalf("unexpected session block %v", session)
	}
	if base["session"].(map[string]interface{})["secret"] != "change-me" {
		t.Fatalf("expected base to stay untouched")
	}
}

func TestRunWritesEachEnvironment(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	write := func(name, body string) {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	write("base.yaml", "server:\n  addr: \":8080\"\n")
	write("profile.yaml", `
base: base.yaml
outputDir: out
session:
  secret: dev-secret
environments:
  dev: {}
  prod:
    output: prod.yaml
    overrides:
      server:
        addr: ":80"
`)
	if err := run(filepath.Join(dir, "profile.yaml"), "", ""); err != nil {
		t.Fatalf("run: %v", err)
	}

	var prod map[string]interface{}
	data, err := os.ReadFile(filepath.Join(dir, "out", "prod.yaml"))
	if err != nil {
		t.Fatalf("read prod: %v", err)
	}
	if err := yaml.Unmarshal(data, &prod); err != nil {
		t.Fatalf("parse prod: %v", err)
	}
	if prod["server"].(map[string]interface{})["addr"] != ":80" {
		t.Fatalf("unexpected prod config %v", prod)
	}
	if _, err := os.Stat(filepath.Join(dir, "out", "arena.dev.yaml")); err != nil {
		t.Fatalf("expected dev config: %v", err)
	}
}
