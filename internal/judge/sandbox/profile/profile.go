// Package profile holds the language profile registry.
// A language is pure data here: adding one is a config edit, not a code change.
package profile

import (
	"sort"
	"strings"

	appErr "codemate/pkg/errors"
)

// LanguageProfile describes how one language is compiled and executed
// inside the sandbox. Command templates support the placeholders
// {src}, {bin}, {class} and {dir}, expanded by the runner.
type LanguageProfile struct {
	ID            string `yaml:"id"`
	DisplayName   string `yaml:"displayName"`
	Image         string `yaml:"image"`
	SourceFileExt string `yaml:"sourceFileExt"`

	// CompileCmdTpl is empty for interpreted languages.
	CompileCmdTpl string `yaml:"compileCmd"`
	RunCmdTpl     string `yaml:"runCmd"`

	MemoryLimitMB int64   `yaml:"memoryLimitMB"`
	CPUQuota      float64 `yaml:"cpuQuota"`
	PidsLimit     int64   `yaml:"pidsLimit"`
}

// NeedsCompile reports whether the profile has a compile phase.
func (p LanguageProfile) NeedsCompile() bool {
	return strings.TrimSpace(p.CompileCmdTpl) != ""
}

func (p LanguageProfile) validate() error {
	if p.ID == "" {
		return appErr.ValidationError("language_id", "required")
	}
	if p.Image == "" {
		return appErr.ValidationError("image", "required")
	}
	if p.SourceFileExt == "" || !strings.HasPrefix(p.SourceFileExt, ".") {
		return appErr.ValidationError("source_file_ext", "must start with a dot")
	}
	if strings.TrimSpace(p.RunCmdTpl) == "" {
		return appErr.ValidationError("run_cmd", "required")
	}
	return nil
}

// BuiltinProfiles returns the default language set.
// Config entries with the same ID override these; new IDs extend the set.
func BuiltinProfiles() []LanguageProfile {
	return []LanguageProfile{
		{
			ID:            "python",
			DisplayName:   "Python 3",
			Image:         "codemate-python:latest",
			SourceFileExt: ".py",
			RunCmdTpl:     "python3 {src}",
			MemoryLimitMB: 256,
			CPUQuota:      0.5,
		},
		{
			ID:            "cpp",
			DisplayName:   "C++ (g++)",
			Image:         "codemate-cpp:latest",
			SourceFileExt: ".cpp",
			CompileCmdTpl: "g++ -o {bin} {src}",
			RunCmdTpl:     "{bin}",
			MemoryLimitMB: 512,
			CPUQuota:      0.5,
		},
		{
			ID:            "java",
			DisplayName:   "Java",
			Image:         "codemate-java:latest",
			SourceFileExt: ".java",
			CompileCmdTpl: "javac {src}",
			RunCmdTpl:     "java -cp {dir} {class}",
			MemoryLimitMB: 512,
			CPUQuota:      0.5,
		},
		{
			ID:            "javascript",
			DisplayName:   "JavaScript (Node)",
			Image:         "codemate-node:latest",
			SourceFileExt: ".js",
			RunCmdTpl:     "node {src}",
			MemoryLimitMB: 256,
			CPUQuota:      0.5,
		},
	}
}

// Registry resolves language profiles by ID.
// It is built once at startup and read-only afterwards, so lookups are
// safe from any goroutine without locking.
type Registry struct {
	profiles map[string]LanguageProfile
}

// NewRegistry builds a registry from the builtin set merged with overrides.
func NewRegistry(overrides []LanguageProfile) (*Registry, error) {
	profiles := make(map[string]LanguageProfile)
	for _, p := range BuiltinProfiles() {
		profiles[p.ID] = p
	}
	for _, p := range overrides {
		// Keys are lowercased so a config entry with ID "Python" still
		// resolves through the case-insensitive lookup.
		key := strings.ToLower(strings.TrimSpace(p.ID))
		base, ok := profiles[key]
		if ok {
			profiles[key] = mergeProfile(base, p)
			continue
		}
		profiles[key] = p
	}
	for id, p := range profiles {
		if err := p.validate(); err != nil {
			return nil, appErr.Wrapf(err, appErr.InvalidValue, "invalid language profile %q", id)
		}
	}
	return &Registry{profiles: profiles}, nil
}

func mergeProfile(base, override LanguageProfile) LanguageProfile {
	if override.DisplayName != "" {
		base.DisplayName = override.DisplayName
	}
	if override.Image != "" {
		base.Image = override.Image
	}
	if override.SourceFileExt != "" {
		base.SourceFileExt = override.SourceFileExt
	}
	if override.CompileCmdTpl != "" {
		base.CompileCmdTpl = override.CompileCmdTpl
	}
	if override.RunCmdTpl != "" {
		base.RunCmdTpl = override.RunCmdTpl
	}
	if override.MemoryLimitMB > 0 {
		base.MemoryLimitMB = override.MemoryLimitMB
	}
	if override.CPUQuota > 0 {
		base.CPUQuota = override.CPUQuota
	}
	if override.PidsLimit > 0 {
		base.PidsLimit = override.PidsLimit
	}
	return base
}

// Resolve returns the profile for the given language ID.
func (r *Registry) Resolve(id string) (LanguageProfile, error) {
	p, ok := r.profiles[strings.ToLower(strings.TrimSpace(id))]
	if !ok {
		return LanguageProfile{}, appErr.Newf(appErr.LanguageNotSupported, "unsupported language: %s", id)
	}
	return p, nil
}

// Supported reports whether the language ID is registered.
func (r *Registry) Supported(id string) bool {
	_, ok := r.profiles[strings.ToLower(strings.TrimSpace(id))]
	return ok
}

// List returns all profiles sorted by ID.
func (r *Registry) List() []LanguageProfile {
	out := make([]LanguageProfile, 0, len(r.profiles))
	for _, p := range r.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
