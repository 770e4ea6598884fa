package profile

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	appErr "ojudge/pkg/errors"
)

func TestResolveBuiltinsAndAliases(t *testing.T) {
	r := NewDefaultRegistry()
	tests := []struct {
		id   string
		want string
	}{
		{"python", "python"},
		{"python3", "python"},
		{"PYTHON", "python"},
		{"cpp", "cpp"},
		{"c++", "cpp"},
		{"c", "c"},
		{"java", "java"},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			spec, err := r.Resolve(tt.id)
			if err != nil {
				t.Fatalf("resolve %q: %v", tt.id, err)
			}
			if spec.ID != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, spec.ID)
			}
		})
	}
}

func TestResolveUnknownLanguageIsTyped(t *testing.T) {
	r := NewDefaultRegistry()
	_, err := r.Resolve("brainfuck")
	if !appErr.Is(err, appErr.LanguageNotSupported) {
		t.Fatalf("expected LanguageNotSupported, got %v", err)
	}
	if !appErr.IsPermanent(err) {
		t.Fatal("unsupported language must be permanent")
	}
}

func TestCommandsExpandTemplates(t *testing.T) {
	r := NewDefaultRegistry()
	cpp, _ := r.Resolve("cpp")

	compile, err := cpp.CompileCommand("/sandbox")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if want := []string{"g++", "/sandbox/code.cpp", "-o", "/sandbox/program"}; !reflect.DeepEqual(compile, want) {
		t.Fatalf("expected %v, got %v", want, compile)
	}
	run, _ := cpp.RunCommand("/sandbox")
	if want := []string{"/sandbox/program"}; !reflect.DeepEqual(run, want) {
		t.Fatalf("expected %v, got %v", want, run)
	}

	py, _ := r.Resolve("python")
	if cmd, err := py.CompileCommand("/sandbox"); err != nil || cmd != nil {
		t.Fatalf("python has no compile step, got %v %v", cmd, err)
	}
	java, _ := r.Resolve("java")
	run, _ = java.RunCommand("/sandbox")
	if want := []string{"java", "-cp", "/sandbox", "Main"}; !reflect.DeepEqual(run, want) {
		t.Fatalf("expected %v, got %v", want, run)
	}
}

func TestLoadRegistryOverridesAndAdds(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "languages.yaml")
	content := `
languages:
  - id: python
    image: registry.local/python:3.12
    source_file: main.py
    run_cmd: "python3 -S {src}"
  - id: go
    aliases: [golang]
    image: golang:1.22
    source_file: main.go
    binary_file: main
    compile_enabled: true
    compile_cmd: "go build -o {bin} {src}"
    run_cmd: "{bin}"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	r, err := LoadRegistry(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	py, err := r.Resolve("python")
	if err != nil || py.Image != "registry.local/python:3.12" {
		t.Fatalf("expected override, got %+v %v", py, err)
	}
	if _, err := r.Resolve("python3"); !appErr.Is(err, appErr.LanguageNotSupported) {
		t.Fatalf("aliases of replaced spec should be dropped, got %v", err)
	}
	if spec, err := r.Resolve("golang"); err != nil || spec.ID != "go" {
		t.Fatalf("expected go via alias, got %+v %v", spec, err)
	}
}

func TestRegisterRejectsInvalidSpec(t *testing.T) {
	r := NewDefaultRegistry()
	tests := []LanguageSpec{
		{ID: "", Image: "x", SourceFile: "a", RunCmdTpl: "a"},
		{ID: "x", SourceFile: "a", RunCmdTpl: "a"},
		{ID: "x", Image: "x", SourceFile: "../a", RunCmdTpl: "a"},
		{ID: "x", Image: "x", SourceFile: "a", RunCmdTpl: "  "},
		{ID: "x", Image: "x", SourceFile: "a", RunCmdTpl: "echo 'unterminated"},
	}
	for _, spec := range tests {
		if err := r.Register(spec); err == nil {
			t.Fatalf("expected error for %+v", spec)
		}
	}
}
