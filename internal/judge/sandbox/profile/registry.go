package profile

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	appErr "ojudge/pkg/errors"

	"gopkg.in/yaml.v3"
)

// Registry maps language identifiers and aliases to launch recipes.
type Registry struct {
	mu        sync.RWMutex
	languages map[string]LanguageSpec
	aliases   map[string]string
}

// DefaultLanguages returns the built-in language table.
func DefaultLanguages() []LanguageSpec {
	return []LanguageSpec{
		{
			ID:         "python",
			Name:       "Python 3",
			Aliases:    []string{"python3", "py"},
			Image:      "onlinejudge-python",
			SourceFile: "code.py",
			RunCmdTpl:  "python3 {src}",
			Env:        []string{"PYTHONDONTWRITEBYTECODE=1", "PYTHONUNBUFFERED=1"},
		},
		{
			ID:             "cpp",
			Name:           "C++",
			Aliases:        []string{"c++"},
			Image:          "onlinejudge-cpp",
			SourceFile:     "code.cpp",
			BinaryFile:     "program",
			CompileEnabled: true,
			CompileCmdTpl:  "g++ {src} -o {bin}",
			RunCmdTpl:      "{bin}",
		},
		{
			ID:             "c",
			Name:           "C",
			Image:          "onlinejudge-c",
			SourceFile:     "code.c",
			BinaryFile:     "program",
			CompileEnabled: true,
			CompileCmdTpl:  "gcc {src} -o {bin}",
			RunCmdTpl:      "{bin}",
		},
		{
			ID:             "java",
			Name:           "Java",
			Image:          "onlinejudge-java",
			SourceFile:     "Main.java",
			CompileEnabled: true,
			CompileCmdTpl:  "javac -d {dir} {src}",
			RunCmdTpl:      "java -cp {dir} Main",
		},
	}
}

// NewRegistry builds a registry from specs. Invalid specs fail the whole load.
func NewRegistry(specs []LanguageSpec) (*Registry, error) {
	r := &Registry{
		languages: make(map[string]LanguageSpec, len(specs)),
		aliases:   make(map[string]string),
	}
	for _, spec := range specs {
		if err := r.Register(spec); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// NewDefaultRegistry returns a registry with the built-in languages.
func NewDefaultRegistry() *Registry {
	r, err := NewRegistry(DefaultLanguages())
	if err != nil {
		panic(fmt.Sprintf("built-in language table is invalid: %v", err))
	}
	return r
}

type languageFile struct {
	Languages []LanguageSpec `yaml:"languages"`
}

// LoadRegistry reads a YAML language table. Entries override built-ins with the same id.
func LoadRegistry(path string) (*Registry, error) {
	r := NewDefaultRegistry()
	if path == "" {
		return r, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read language table: %w", err)
	}
	var file languageFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse language table: %w", err)
	}
	for _, spec := range file.Languages {
		if err := r.Register(spec); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds or replaces a language.
func (r *Registry) Register(spec LanguageSpec) error {
	spec.ID = normalizeID(spec.ID)
	if err := spec.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.languages[spec.ID]; ok {
		for _, a := range old.Aliases {
			delete(r.aliases, normalizeID(a))
		}
	}
	r.languages[spec.ID] = spec
	for _, a := range spec.Aliases {
		r.aliases[normalizeID(a)] = spec.ID
	}
	return nil
}

// Resolve returns the language registered under id or one of its aliases.
func (r *Registry) Resolve(id string) (LanguageSpec, error) {
	key := normalizeID(id)
	if key == "" {
		return LanguageSpec{}, appErr.ValidationError("language", "required")
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if spec, ok := r.languages[key]; ok {
		return spec, nil
	}
	if canonical, ok := r.aliases[key]; ok {
		return r.languages[canonical], nil
	}
	return LanguageSpec{}, appErr.New(appErr.LanguageNotSupported).
		WithMessagef("language %q is not supported", id).
		WithDetail("language", id)
}

// List returns the registered languages ordered by id.
func (r *Registry) List() []LanguageSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]LanguageSpec, 0, len(r.languages))
	for _, spec := range r.languages {
		out = append(out, spec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Images returns the distinct images referenced by registered languages.
func (r *Registry) Images() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, spec := range r.List() {
		if _, ok := seen[spec.Image]; ok {
			continue
		}
		seen[spec.Image] = struct{}{}
		out = append(out, spec.Image)
	}
	return out
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
