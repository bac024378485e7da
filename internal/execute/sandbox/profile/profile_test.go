package profile

import (
	"context"
	"strings"
	"testing"

	appErr "rexe/pkg/errors"
)

func TestLocalRepositoryLookup(t *testing.T) {
	repo := NewLocalRepository(DefaultLanguages())

	lang, err := repo.GetLanguageSpec(context.Background(), "cpp")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if !lang.CompileEnabled {
		t.Fatalf("cpp should compile")
	}
	if _, err := repo.GetLanguageSpec(context.Background(), "rust"); !appErr.Is(err, appErr.LanguageNotSupported) {
		t.Fatalf("expected LanguageNotSupported, got %v", err)
	}
	if got := repo.Languages(); len(got) != 2 || got[0] != "cpp" || got[1] != "py" {
		t.Fatalf("unexpected language order %v", got)
	}
}

func TestPrepareCompiledLanguage(t *testing.T) {
	repo := NewLocalRepository(DefaultLanguages())
	lang, _ := repo.GetLanguageSpec(context.Background(), "cpp")

	files, err := Prepare(lang, "int main() { return 0; }\n", 3, 128)
	if err != nil {
		t.Fatalf("prepare failed: %v", err)
	}
	if len(files) != 1 || files[0].Name != "main.cpp" {
		t.Fatalf("unexpected files %+v", files)
	}
	content := string(files[0].Content)
	if strings.Contains(content, "%TIME_LIMIT%") || strings.Contains(content, "%MEMORY_LIMIT%") {
		t.Fatalf("placeholders left in stub")
	}
	if !strings.Contains(content, "(rlim_t)192 * 1024 * 1024") {
		t.Fatalf("memory limit not rendered")
	}
	if !strings.Contains(content, "cpu.rlim_max = 3 + 1") {
		t.Fatalf("time limit not rendered")
	}
	if !strings.Contains(content, "std::set_new_handler(out_of_memory)") {
		t.Fatalf("allocation failure handler missing")
	}
	idx := strings.Index(content, "#line 1 \"main.cpp\"\n")
	if idx < 0 {
		t.Fatalf("line directive missing")
	}
	if !strings.HasSuffix(content, "#line 1 \"main.cpp\"\nint main() { return 0; }\n") {
		t.Fatalf("user code must directly follow the line directive")
	}
}

func TestPrepareInterpretedLanguage(t *testing.T) {
	repo := NewLocalRepository(DefaultLanguages())
	lang, _ := repo.GetLanguageSpec(context.Background(), "py")

	files, err := Prepare(lang, "print(1)\n", 2, 64)
	if err != nil {
		t.Fatalf("prepare failed: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected entry and source files, got %d", len(files))
	}
	if files[0].Name != "stub.py" || files[1].Name != "main.py" {
		t.Fatalf("unexpected file names %s %s", files[0].Name, files[1].Name)
	}
	if string(files[1].Content) != "print(1)\n" {
		t.Fatalf("user code must be written unchanged")
	}
	entry := string(files[0].Content)
	if !strings.Contains(entry, "_memory = 320 * 1024 * 1024") {
		t.Fatalf("memory overhead not applied: %s", entry)
	}
	if !strings.Contains(entry, `runpy.run_path("main.py", run_name="__main__")`) {
		t.Fatalf("entry does not run user code")
	}
}
