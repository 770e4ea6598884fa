// Package profile defines the language runner registry used by the sandbox.
package profile

import (
	"path"
	"strings"

	appErr "ojudge/pkg/errors"

	"github.com/google/shlex"
)

// LanguageSpec defines how to compile and run a language inside the sandbox.
type LanguageSpec struct {
	ID               string   `yaml:"id"`
	Name             string   `yaml:"name"`
	Aliases          []string `yaml:"aliases"`
	Image            string   `yaml:"image"`
	SourceFile       string   `yaml:"source_file"`
	BinaryFile       string   `yaml:"binary_file"`
	CompileEnabled   bool     `yaml:"compile_enabled"`
	CompileCmdTpl    string   `yaml:"compile_cmd"`
	RunCmdTpl        string   `yaml:"run_cmd"`
	Env              []string `yaml:"env"`
	TimeMultiplier   float64  `yaml:"time_multiplier"`
	MemoryMultiplier float64  `yaml:"memory_multiplier"`
}

// CompileCommand expands the compile template for sources placed in workDir.
func (l LanguageSpec) CompileCommand(workDir string) ([]string, error) {
	if !l.CompileEnabled {
		return nil, nil
	}
	return buildCommand(l.CompileCmdTpl, l, workDir)
}

// RunCommand expands the run template for sources placed in workDir.
func (l LanguageSpec) RunCommand(workDir string) ([]string, error) {
	return buildCommand(l.RunCmdTpl, l, workDir)
}

// Validate checks that the language can produce commands.
func (l LanguageSpec) Validate() error {
	if strings.TrimSpace(l.ID) == "" {
		return appErr.ValidationError("language.id", "required")
	}
	if l.Image == "" {
		return appErr.ValidationError("language.image", "required").WithDetail("language", l.ID)
	}
	if l.SourceFile == "" || strings.Contains(l.SourceFile, "/") {
		return appErr.ValidationError("language.source_file", "must be a bare file name").WithDetail("language", l.ID)
	}
	if l.CompileEnabled {
		if _, err := l.CompileCommand("/sandbox"); err != nil {
			return err
		}
	}
	_, err := l.RunCommand("/sandbox")
	return err
}

func buildCommand(tpl string, lang LanguageSpec, workDir string) ([]string, error) {
	if strings.TrimSpace(tpl) == "" {
		return nil, appErr.New(appErr.InvalidParams).WithMessagef("command template is required for %s", lang.ID)
	}
	expanded := strings.ReplaceAll(tpl, "{src}", path.Join(workDir, lang.SourceFile))
	expanded = strings.ReplaceAll(expanded, "{bin}", path.Join(workDir, lang.BinaryFile))
	expanded = strings.ReplaceAll(expanded, "{dir}", workDir)
	fields, err := shlex.Split(expanded)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.InvalidParams, "parse command template failed")
	}
	if len(fields) == 0 {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("command is empty after expansion")
	}
	return fields, nil
}
