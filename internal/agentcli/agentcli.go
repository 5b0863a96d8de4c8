// Package agentcli resolves agent model slugs and aliases to a concrete CLI
// invocation: a program name plus an argv template for read-only versus
// write-enabled dispatch.
package agentcli

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/autodrive/core/internal/stringutils"
	"github.com/autodrive/core/internal/utils"
)

// ModelSpec is one entry in the agent registry.
type ModelSpec struct {
	Slug        string   `yaml:"slug"`
	Aliases     []string `yaml:"aliases"`
	CLI         string   `yaml:"cli"`
	ReadOnlyArgs []string `yaml:"read_only_args"`
	WriteArgs   []string `yaml:"write_args"`
	Cloud       bool     `yaml:"cloud"`
}

// Registry is a loaded, lowercase-indexed set of agent model specs.
type Registry struct {
	specs []ModelSpec
	byKey map[string]*ModelSpec
}

// registryFile is the on-disk YAML shape: a flat list of model specs.
type registryFile struct {
	Models []ModelSpec `yaml:"models"`
}

// Load reads a YAML agent registry from path.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("agentcli: parsing %s: %w", path, err)
	}

	return FromSpecs(file.Models), nil
}

// FromSpecs builds a Registry directly from in-memory specs, skipping any
// entry whose slug fails basic agent-name validation or whose CLI program
// is blank.
func FromSpecs(specs []ModelSpec) *Registry {
	r := &Registry{byKey: make(map[string]*ModelSpec)}
	for _, spec := range specs {
		if !utils.IsValidAgentName(spec.Slug) || stringutils.IsEmpty(spec.CLI) {
			continue
		}
		r.specs = append(r.specs, spec)
	}
	for i := range r.specs {
		spec := &r.specs[i]
		r.byKey[strings.ToLower(spec.Slug)] = spec
		for _, alias := range spec.Aliases {
			if utils.IsValidAgentName(alias) {
				r.byKey[strings.ToLower(alias)] = spec
			}
		}
	}
	return r
}

// UnknownModelError is returned when a slug or alias has no registry entry.
type UnknownModelError struct{ Requested string }

func (e *UnknownModelError) Error() string {
	return fmt.Sprintf("agentcli: unknown model %q", e.Requested)
}

// CloudGatedError is returned when a cloud-* model is requested without the
// gating environment variable enabled.
type CloudGatedError struct{ Slug string }

func (e *CloudGatedError) Error() string {
	return fmt.Sprintf("agentcli: model %q requires CLOUD_AGENT_MODEL=1", e.Slug)
}

// Resolve looks up requested (slug or alias, case-insensitive) and enforces
// the cloud-model gate.
func (r *Registry) Resolve(requested string) (*ModelSpec, error) {
	spec, ok := r.byKey[strings.ToLower(requested)]
	if !ok {
		return nil, &UnknownModelError{Requested: requested}
	}
	if strings.HasPrefix(strings.ToLower(spec.Slug), "cloud-") && !cloudAgentModelEnabled() {
		return nil, &CloudGatedError{Slug: spec.Slug}
	}
	return spec, nil
}

func cloudAgentModelEnabled() bool {
	v := strings.TrimSpace(os.Getenv("CLOUD_AGENT_MODEL"))
	return v == "1" || strings.EqualFold(v, "true")
}

// Argv assembles the full command line for spec: its configured argv
// template (read-only or write, depending on writeAccess), plus the
// mandatory --model flag and a caller-supplied prompt.
func Argv(spec *ModelSpec, writeAccess bool, prompt string) []string {
	template := spec.ReadOnlyArgs
	if writeAccess {
		template = spec.WriteArgs
	}

	argv := make([]string, 0, len(template)+3)
	argv = append(argv, template...)
	argv = append(argv, "--model", spec.Slug)
	if prompt != "" {
		argv = append(argv, "--prompt", prompt)
	}
	return argv
}

// Command is the resolved program plus argv ready for os/exec.
type Command struct {
	Program string
	Args    []string
}

// ResolveCommand builds the full Command for requested, honoring writeAccess and
// the cloud-model gate.
func (r *Registry) ResolveCommand(requested string, writeAccess bool, prompt string) (Command, error) {
	spec, err := r.Resolve(requested)
	if err != nil {
		return Command{}, err
	}
	return Command{Program: spec.CLI, Args: Argv(spec, writeAccess, prompt)}, nil
}

// Specs returns every registered model spec.
func (r *Registry) Specs() []ModelSpec {
	out := make([]ModelSpec, len(r.specs))
	copy(out, r.specs)
	return out
}
