package profile

import (
	"testing"

	appErr "codemate/pkg/errors"
)

func TestRegistryResolveBuiltin(t *testing.T) {
	t.Parallel()

	reg, err := NewRegistry(nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	p, err := reg.Resolve("python")
	if err != nil {
		t.Fatalf("Resolve(python): %v", err)
	}
	if p.Image == "" || p.SourceFileExt != ".py" {
		t.Fatalf("unexpected python profile: %+v", p)
	}
	if p.NeedsCompile() {
		t.Fatalf("python should not have a compile phase")
	}

	cpp, err := reg.Resolve("cpp")
	if err != nil {
		t.Fatalf("Resolve(cpp): %v", err)
	}
	if !cpp.NeedsCompile() {
		t.Fatalf("cpp should have a compile phase")
	}
}

func TestRegistryResolveIsCaseInsensitive(t *testing.T) {
	t.Parallel()

	reg, err := NewRegistry(nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if _, err := reg.Resolve("  Java "); err != nil {
		t.Fatalf("Resolve with spacing/case: %v", err)
	}
}

func TestRegistryResolveUnknown(t *testing.T) {
	t.Parallel()

	reg, err := NewRegistry(nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	_, err = reg.Resolve("brainfuck")
	if !appErr.Is(err, appErr.LanguageNotSupported) {
		t.Fatalf("expected LanguageNotSupported, got %v", err)
	}
}

func TestRegistryOverrideAndExtend(t *testing.T) {
	t.Parallel()

	reg, err := NewRegistry([]LanguageProfile{
		{ID: "python", MemoryLimitMB: 1024},
		{
			ID:            "go",
			DisplayName:   "Go",
			Image:         "codemate-go:latest",
			SourceFileExt: ".go",
			CompileCmdTpl: "go build -o {bin} {src}",
			RunCmdTpl:     "{bin}",
			MemoryLimitMB: 512,
			CPUQuota:      0.5,
		},
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	py, err := reg.Resolve("python")
	if err != nil {
		t.Fatalf("Resolve(python): %v", err)
	}
	if py.MemoryLimitMB != 1024 {
		t.Fatalf("override not applied, memory = %d", py.MemoryLimitMB)
	}
	if py.RunCmdTpl == "" {
		t.Fatalf("override dropped base run command")
	}

	if !reg.Supported("go") {
		t.Fatalf("extended language not registered")
	}
}

func TestRegistryOverrideWithMixedCaseID(t *testing.T) {
	t.Parallel()

	reg, err := NewRegistry([]LanguageProfile{
		{ID: "Python", MemoryLimitMB: 2048},
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	p, err := reg.Resolve("python")
	if err != nil {
		t.Fatalf("Resolve(python): %v", err)
	}
	if p.MemoryLimitMB != 2048 {
		t.Fatalf("mixed-case override not applied, memory = %d", p.MemoryLimitMB)
	}
	if !reg.Supported("PYTHON") {
		t.Fatalf("case-insensitive lookup broken after override")
	}
}

func TestRegistryRejectsInvalidProfile(t *testing.T) {
	t.Parallel()

	_, err := NewRegistry([]LanguageProfile{
		{ID: "broken", Image: "img", SourceFileExt: "txt", RunCmdTpl: "run"},
	})
	if err == nil {
		t.Fatalf("expected validation error for extension without dot")
	}
}

func TestRegistryListIsSorted(t *testing.T) {
	t.Parallel()

	reg, err := NewRegistry(nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	list := reg.List()
	if len(list) < 4 {
		t.Fatalf("expected at least 4 builtin languages, got %d", len(list))
	}
	for i := 1; i < len(list); i++ {
		if list[i-1].ID >= list[i].ID {
			t.Fatalf("list not sorted: %s >= %s", list[i-1].ID, list[i].ID)
		}
	}
}
