// Package profile defines the language profiles used by the sandbox.
package profile

// LanguageSpec defines how to compile and run a language.
//
// Command templates are split with shell rules after expansion of
// {src}, {bin}, {dir} and {memMB}.
type LanguageSpec struct {
	ID               string   `yaml:"id"`
	Name             string   `yaml:"name"`
	Version          string   `yaml:"version"`
	SourceFile       string   `yaml:"sourceFile"`
	BinaryFile       string   `yaml:"binaryFile"`
	CompileEnabled   bool     `yaml:"compileEnabled"`
	CompileCmdTpl    string   `yaml:"compileCmd"`
	RunCmdTpl        string   `yaml:"runCmd"`
	Env              []string `yaml:"env"`
	TimeMultiplier   float64  `yaml:"timeMultiplier"`
	MemoryMultiplier float64  `yaml:"memoryMultiplier"`
	// AddressSpaceLimit enforces memory with RLIMIT_AS when no cgroup is available.
	AddressSpaceLimit bool `yaml:"addressSpaceLimit"`
	// OOMMarkers are stderr fragments that identify an allocation failure.
	OOMMarkers []string `yaml:"oomMarkers"`
}

const defaultPath = "PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"

// DefaultLanguages returns the built in java, python and cpp profiles.
func DefaultLanguages() []LanguageSpec {
	return []LanguageSpec{
		{
			ID:               "java",
			Name:             "Java",
			Version:          "17",
			SourceFile:       "Main.java",
			BinaryFile:       "Main.class",
			CompileEnabled:   true,
			CompileCmdTpl:    "javac -encoding UTF-8 -d {dir} {src}",
			RunCmdTpl:        "java -Xmx{memMB}m -Xss64m -cp {dir} Main",
			Env:              []string{defaultPath, "JAVA_TOOL_OPTIONS=-XX:+UseSerialGC"},
			TimeMultiplier:   2,
			MemoryMultiplier: 1,
			OOMMarkers:       []string{"java.lang.OutOfMemoryError"},
		},
		{
			ID:                "python",
			Name:              "Python",
			Version:           "3",
			SourceFile:        "main.py",
			RunCmdTpl:         "python3 -S -B {src}",
			Env:               []string{defaultPath, "PYTHONIOENCODING=utf-8"},
			TimeMultiplier:    3,
			MemoryMultiplier:  1,
			AddressSpaceLimit: true,
			OOMMarkers:        []string{"MemoryError"},
		},
		{
			ID:                "cpp",
			Name:              "C++",
			Version:           "17",
			SourceFile:        "main.cpp",
			BinaryFile:        "main",
			CompileEnabled:    true,
			CompileCmdTpl:     "g++ -std=c++17 -O2 -pipe -o {bin} {src}",
			RunCmdTpl:         "{bin}",
			Env:               []string{defaultPath},
			TimeMultiplier:    1,
			MemoryMultiplier:  1,
			AddressSpaceLimit: true,
			OOMMarkers:        []string{"std::bad_alloc"},
		},
	}
}
