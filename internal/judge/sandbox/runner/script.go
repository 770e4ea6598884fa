package runner

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"

	"ojudge/internal/judge/sandbox/profile"
)

// Files inside the scratch directory.
const (
	sourceBlobName     = "source.b64"
	inputFileName      = "input.txt"
	compileLogName     = "compile.log"
	compileFailedName  = ".compile_failed"
	decodeFailedName   = ".decode_failed"
	exitCompileFailed  = 97
	exitDecodeFailed   = 96
	defaultContainerWD = "/sandbox"
)

// buildScript renders the shell program executed as the container entrypoint.
// The source travels base64 encoded so no byte of user code reaches the shell parser.
// Compile failures leave a marker in the scratch dir, which the host reads after exit.
func buildScript(lang profile.LanguageSpec, workDir string) (string, error) {
	run, err := lang.RunCommand(workDir)
	if err != nil {
		return "", err
	}
	compile, err := lang.CompileCommand(workDir)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("cd " + shellQuote(workDir) + " || exit 96\n")
	b.WriteString("base64 -d " + sourceBlobName + " > " + shellQuote(lang.SourceFile) +
		" 2>/dev/null || { : > " + decodeFailedName + "; exit 96; }\n")
	if len(compile) > 0 {
		b.WriteString(quoteArgs(compile) + " > " + compileLogName + " 2>&1 || { : > " +
			compileFailedName + "; cat " + compileLogName + " >&2; exit 97; }\n")
	}
	b.WriteString("exec " + quoteArgs(run) + " < " + inputFileName + "\n")
	return b.String(), nil
}

// prepareInput appends one trailing newline to non-empty input that lacks it.
func prepareInput(stdin string) string {
	if stdin == "" || strings.HasSuffix(stdin, "\n") {
		return stdin
	}
	return stdin + "\n"
}

func writeScratch(dir, source, stdin string) error {
	// The container drops every capability, so it needs world access to the mount.
	if err := os.Chmod(dir, 0o777); err != nil {
		return err
	}
	encoded := base64.StdEncoding.EncodeToString([]byte(source))
	if err := os.WriteFile(filepath.Join(dir, sourceBlobName), []byte(encoded), 0o644); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, inputFileName), []byte(prepareInput(stdin)), 0o644)
}

func markerExists(dir, name string) bool {
	_, err := os.Stat(filepath.Join(dir, name))
	return err == nil
}

func quoteArgs(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = shellQuote(a)
	}
	return strings.Join(quoted, " ")
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
