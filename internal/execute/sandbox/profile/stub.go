package profile

import (
	"embed"
	"fmt"
	"strconv"
	"strings"
)

//go:embed stubs/*
var stubFS embed.FS

// SourceFile is a file written into the scratch directory.
type SourceFile struct {
	Name    string
	Content []byte
}

// Prepare renders the language stub for the given limits and combines it with
// the user's code. The returned files are written as-is into the scratch directory.
func Prepare(lang LanguageSpec, code string, timeLimitSec, memoryLimitMB int64) ([]SourceFile, error) {
	stub, err := renderStub(lang, timeLimitSec, memoryLimitMB)
	if err != nil {
		return nil, err
	}
	if lang.EntryFile == "" {
		// Errors in user code report their own line numbers.
		var b strings.Builder
		b.WriteString(stub)
		if !strings.HasSuffix(stub, "\n") {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "#line 1 %q\n", lang.SourceFile)
		b.WriteString(code)
		return []SourceFile{{Name: lang.SourceFile, Content: []byte(b.String())}}, nil
	}
	return []SourceFile{
		{Name: lang.EntryFile, Content: []byte(stub)},
		{Name: lang.SourceFile, Content: []byte(code)},
	}, nil
}

func renderStub(lang LanguageSpec, timeLimitSec, memoryLimitMB int64) (string, error) {
	if lang.Stub == "" {
		return "", fmt.Errorf("language %s has no stub", lang.ID)
	}
	raw, err := stubFS.ReadFile("stubs/" + lang.Stub)
	if err != nil {
		return "", fmt.Errorf("read stub %s: %w", lang.Stub, err)
	}
	replacer := strings.NewReplacer(
		"%TIME_LIMIT%", strconv.FormatInt(timeLimitSec, 10),
		"%MEMORY_LIMIT%", strconv.FormatInt(memoryLimitMB+lang.MemoryOverheadMB, 10),
		"%SOURCE_FILE%", lang.SourceFile,
		"%USAGE_FILE%", UsageFile,
	)
	return replacer.Replace(string(raw)), nil
}

// UsageFile is written by the stub on clean exit as "wall_ms,maxrss_kb".
const UsageFile = "rusage.txt"
