package runner

import (
	"strings"
	"testing"

	"ojudge/internal/judge/sandbox/profile"
)

func TestBuildScriptCompiledLanguage(t *testing.T) {
	lang, err := profile.NewDefaultRegistry().Resolve("cpp")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	script, err := buildScript(lang, "/sandbox")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	for _, want := range []string{
		"base64 -d source.b64 > 'code.cpp'",
		"'g++' '/sandbox/code.cpp' '-o' '/sandbox/program' > compile.log 2>&1",
		": > .compile_failed",
		"exec '/sandbox/program' < input.txt",
	} {
		if !strings.Contains(script, want) {
			t.Fatalf("script missing %q:\n%s", want, script)
		}
	}
}

func TestBuildScriptInterpretedLanguageSkipsCompile(t *testing.T) {
	lang, _ := profile.NewDefaultRegistry().Resolve("python")
	script, err := buildScript(lang, "/sandbox")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if strings.Contains(script, compileLogName) {
		t.Fatalf("interpreted language should not compile:\n%s", script)
	}
}

func TestShellQuote(t *testing.T) {
	if got := shellQuote("it's"); got != `'it'\''s'` {
		t.Fatalf("unexpected quoting %s", got)
	}
}

func TestPrepareInput(t *testing.T) {
	cases := map[string]string{"": "", "1 2": "1 2\n", "1 2\n": "1 2\n", "a\nb": "a\nb\n"}
	for in, want := range cases {
		if got := prepareInput(in); got != want {
			t.Fatalf("prepareInput(%q) = %q, want %q", in, got, want)
		}
	}
}
