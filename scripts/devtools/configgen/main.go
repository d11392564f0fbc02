// Command configgen renders one arena-service config per environment from a
// base config plus per-environment overrides.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// Profile describes the environments to render.
type Profile struct {
	Base         string                        `yaml:"base"`
	OutputDir    string                        `yaml:"outputDir"`
	Session      SessionProfile                `yaml:"session"`
	Environments map[string]EnvironmentProfile `yaml:"environments"`
}

// SessionProfile is copied into every rendered config unless an
// environment overrides it.
type SessionProfile struct {
	Secret string `yaml:"secret"`
	Issuer string `yaml:"issuer"`
}

// EnvironmentProfile holds one environment's deviations from the base.
type EnvironmentProfile struct {
	Output    string                 `yaml:"output"`
	Overrides map[string]interface{} `yaml:"overrides"`
}

func main() {
	profilePath := flag.String("profile", "configs/dev-profile.yaml", "Path to config profile")
	outputDir := flag.String("output-dir", "", "Override output directory")
	only := flag.String("env", "", "Render a single environment")
	flag.Parse()

	if err := run(*profilePath, *outputDir, *only); err != nil {
		fmt.Fprintf(os.Stderr, "configgen: %v\n", err)
		os.Exit(1)
	}
}

func run(profilePath, outputDir, only string) error {
	profilePathAbs, err := filepath.Abs(profilePath)
	if err != nil {
		return fmt.Errorf("resolve profile path failed: %w", err)
	}
	profile, err := loadProfile(profilePathAbs)
	if err != nil {
		return err
	}
	profileDir := filepath.Dir(profilePathAbs)
	if outputDir != "" {
		profile.OutputDir = outputDir
	}
	if profile.OutputDir == "" {
		return errors.New("output directory is required")
	}
	profile.OutputDir = resolve(profileDir, profile.OutputDir)
	base, err := loadYAML(resolve(profileDir, profile.Base))
	if err != nil {
		return fmt.Errorf("load base config failed: %w", err)
	}

	names := make([]string, 0, len(profile.Environments))
	for name := range profile.Environments {
		if only == "" || only == name {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return fmt.Errorf("no environment matches %q", only)
	}
	sort.Strings(names)

	for _, name := range names {
		env := profile.Environments[name]
		rendered, err := render(base, profile.Session, env)
		if err != nil {
			return fmt.Errorf("render %q failed: %w", name, err)
		}
		output := env.Output
		if output == "" {
			output = "arena." + name + ".yaml"
		}
		if err := writeYAML(resolve(profile.OutputDir, output), rendered); err != nil {
			return fmt.Errorf("write %q failed: %w", name, err)
		}
	}
	return nil
}

// render applies the shared session settings, then env overrides, to a copy of base.
func render(base interface{}, session SessionProfile, env EnvironmentProfile) (map[string]interface{}, error) {
	root, ok := normalizeValue(base).(map[string]interface{})
	if !ok {
		return nil, errors.New("base config is not a map")
	}
	root = applySession(root, session)
	if len(env.Overrides) == 0 {
		return root, nil
	}
	override, _ := normalizeValue(env.Overrides).(map[string]interface{})
	return mergeMap(root, override), nil
}

func applySession(root map[string]interface{}, session SessionProfile) map[string]interface{} {
	if session.Secret == "" && session.Issuer == "" {
		return root
	}
	out := make(map[string]interface{}, len(root))
	for k, v := range root {
		out[k] = v
	}
	block := map[string]interface{}{}
	if existing, ok := out["session"].(map[string]interface{}); ok {
		for k, v := range existing {
			block[k] = v
		}
	}
	if session.Secret != "" {
		block["secret"] = session.Secret
	}
	if session.Issuer != "" {
		block["issuer"] = session.Issuer
	}
	out["session"] = block
	return out
}

func loadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile failed: %w", err)
	}
	var profile Profile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile failed: %w", err)
	}
	if profile.Base == "" {
		return nil, errors.New("profile has no base config")
	}
	if len(profile.Environments) == 0 {
		return nil, errors.New("profile has no environments")
	}
	return &profile, nil
}

func loadYAML(path string) (interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read yaml failed: %w", err)
	}
	var value interface{}
	if err := yaml.Unmarshal(data, &value); err != nil {
		return nil, fmt.Errorf("parse yaml failed: %w", err)
	}
	return value, nil
}

func writeYAML(path string, value interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir failed: %w", err)
	}
	data, err := yaml.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal yaml failed: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func resolve(dir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

func normalizeValue(value interface{}) interface{} {
	switch typed := value.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(typed))
		for k, v := range typed {
			out[k] = normalizeValue(v)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(typed))
		for k, v := range typed {
			out[fmt.Sprintf("%v", k)] = normalizeValue(v)
		}
		return out
	case []interface{}:
		out := make([]interface{}, 0, len(typed))
		for _, item := range typed {
			out = append(out, normalizeValue(item))
		}
		return out
	default:
		return value
	}
}

// mergeMap deep-merges override into base. Lists and scalars are replaced.
func mergeMap(base, override map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(base))
	for k, v := range base {
		merged[k] = v
	}
	for key, value := range override {
		baseChild, baseIsMap := merged[key].(map[string]interface{})
		overrideChild, overrideIsMap := value.(map[string]interface{})
		if baseIsMap && overrideIsMap {
			merged[key] = mergeMap(baseChild, overrideChild)
			continue
		}
		merged[key] = value
	}
	return merged
}
