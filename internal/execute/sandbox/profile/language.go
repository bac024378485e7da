// Package profile defines language profiles used by the sandbox.
package profile

// LanguageSpec defines how to prepare, compile and run a language.
type LanguageSpec struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	// SourceFile receives the wrapped program when EntryFile is empty,
	// otherwise it receives the user's code unchanged.
	SourceFile string `yaml:"sourceFile"`
	// EntryFile receives the wrapper for interpreted languages.
	EntryFile      string   `yaml:"entryFile"`
	BinaryFile     string   `yaml:"binaryFile"`
	Stub           string   `yaml:"stub"`
	CompileEnabled bool     `yaml:"compileEnabled"`
	CompileCmdTpl  string   `yaml:"compileCmd"`
	RunCmdTpl      string   `yaml:"runCmd"`
	Env            []string `yaml:"env"`
	// MemoryOverheadMB is added to the address-space limit to cover the runtime
	// itself. It also leaves room for peak usage to cross the declared limit
	// before allocation fails.
	MemoryOverheadMB int64 `yaml:"memoryOverheadMB"`
}

// DefaultLanguages returns the built-in language profiles.
func DefaultLanguages() []LanguageSpec {
	return []LanguageSpec{
		{
			ID:               "cpp",
			Name:             "C++17",
			SourceFile:       "main.cpp",
			BinaryFile:       "main",
			Stub:             "stub.cpp",
			CompileEnabled:   true,
			CompileCmdTpl:    "g++ -O2 -std=c++17 -o {bin} {src}",
			RunCmdTpl:        "./{bin}",
			Env:              []string{"PATH=/usr/local/bin:/usr/bin:/bin"},
			MemoryOverheadMB: 64,
		},
		{
			ID:               "py",
			Name:             "Python 3",
			SourceFile:       "main.py",
			EntryFile:        "stub.py",
			Stub:             "stub.py",
			RunCmdTpl:        "python3 {entry}",
			Env:              []string{"PATH=/usr/local/bin:/usr/bin:/bin", "PYTHONDONTWRITEBYTECODE=1", "PYTHONUNBUFFERED=1"},
			MemoryOverheadMB: 256,
		},
	}
}
