package config

import (
	"fmt"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/ralphx/ralphx/internal/domain"
	"github.com/ralphx/ralphx/pkg/apperrors"
)

var loopNamePattern = regexp.MustCompile(`^[a-z0-9_-]{1,100}$`)

// Loop is the declarative record of spec §3 "Loop Configuration", loaded
// from <project>/.ralphx/loops/<name>.yaml. Unlike Config, this is never
// merged from layered sources — it is a single hand-editable file per loop.
type Loop struct {
	Name          string                  `yaml:"name"`
	Type          domain.LoopType         `yaml:"type"`
	Modes         map[string]Mode         `yaml:"modes"`
	ModeSelection ModeSelection           `yaml:"mode_selection"`
	Limits        Limits                  `yaml:"limits"`
	ItemTypes     *ItemTypes              `yaml:"item_types,omitempty"`
	MultiPhase    *MultiPhase             `yaml:"multi_phase,omitempty"`
	Resources     ResourceFilter          `yaml:"resources,omitempty"`

	// ModeOrder preserves the YAML mapping's key order for modes — phase_aware
	// mode selection walks phase-1-tagged modes "in definition order" (spec
	// §4.5 step 3), which a plain Go map cannot represent. Populated by
	// UnmarshalYAML, not hand-set.
	ModeOrder []string `yaml:"-"`
}

// loopAlias lets UnmarshalYAML decode every field through the default
// decoder while still getting a shot at the raw mapping node for mode
// order extraction.
type loopAlias Loop

// UnmarshalYAML decodes a Loop normally, then walks the raw "modes"
// mapping node a second time purely to record key order into ModeOrder.
func (l *Loop) UnmarshalYAML(value *yaml.Node) error {
	var a loopAlias
	if err := value.Decode(&a); err != nil {
		return err
	}
	*l = Loop(a)

	for i := 0; i+1 < len(value.Content); i += 2 {
		if value.Content[i].Value == "modes" {
			modesNode := value.Content[i+1]
			for j := 0; j+1 < len(modesNode.Content); j += 2 {
				l.ModeOrder = append(l.ModeOrder, modesNode.Content[j].Value)
			}
		}
	}
	return nil
}

// ResourceFilter narrows the globally-enabled resource set for one loop
// (spec §4.3 step 2, "honoring inherit_default and per-loop include/exclude
// lists"). A resource with InheritDefault=false is only injected for loops
// that name it explicitly in Include.
type ResourceFilter struct {
	Include []string `yaml:"include,omitempty"`
	Exclude []string `yaml:"exclude,omitempty"`
}

// Mode is a named (model, timeout, tools, prompt template) tuple.
type Mode struct {
	Model              string   `yaml:"model"`
	Timeout            int      `yaml:"timeout"` // seconds
	Tools              *[]string `yaml:"tools,omitempty"` // nil = all defaults; empty slice = deny all
	PromptTemplatePath string   `yaml:"prompt_template_path"`
	Phase              string   `yaml:"phase,omitempty"`
}

// ModeSelection picks the strategy and its parameters.
type ModeSelection struct {
	Strategy  domain.ModeSelectionStrategy `yaml:"strategy"`
	FixedMode string                       `yaml:"fixed_mode,omitempty"`
	Weights   map[string]int               `yaml:"weights,omitempty"`
}

// Limits bounds a run. Any zero/negative value disables that limit,
// MaxConsecutiveErrors included; it has no built-in default.
type Limits struct {
	MaxIterations             int `yaml:"max_iterations"`
	MaxRuntimeSeconds         int `yaml:"max_runtime_seconds"`
	MaxConsecutiveErrors      int `yaml:"max_consecutive_errors"`
	CooldownBetweenIterations int `yaml:"cooldown_between_iterations"` // seconds
}

// ItemTypes names the singular/plural vocabulary consumer loops read and
// generator loops write.
type ItemTypes struct {
	Input  *ItemTypeInput `yaml:"input,omitempty"`
	Output ItemTypeOutput `yaml:"output"`
}

// ItemTypeInput names the upstream generator loop a consumer reads from.
type ItemTypeInput struct {
	Source              string `yaml:"source"`
	Singular            string `yaml:"singular"`
	Plural              string `yaml:"plural"`
	RespectDependencies bool   `yaml:"respect_dependencies,omitempty"`
	BatchSize           int    `yaml:"batch_size,omitempty"` // 0/1 = single-item selection; capped at 50
	Category            string `yaml:"category,omitempty"`
}

// ItemTypeOutput names the vocabulary a generator loop writes.
type ItemTypeOutput struct {
	Singular string `yaml:"singular"`
	Plural   string `yaml:"plural"`
}

// MultiPhase configures phase auto-partitioning of a consumer's dependency
// graph.
type MultiPhase struct {
	Enabled          bool              `yaml:"enabled"`
	AutoPhase        bool              `yaml:"auto_phase"`
	MaxBatchSize     int               `yaml:"max_batch_size"`
	CategoryToPhase  map[string]int    `yaml:"category_to_phase,omitempty"`
}

// Validate enforces spec §3's invariants: name shape, fixed_mode
// resolution, weight sum, and consumer source presence. It returns a
// VALIDATION AppError on the first violation found.
func (l *Loop) Validate() error {
	if !loopNamePattern.MatchString(l.Name) {
		return apperrors.NewValidationError(
			fmt.Sprintf("loop name %q must match [a-z0-9_-]{1,100}", l.Name))
	}

	switch l.Type {
	case domain.LoopTypeGenerator, domain.LoopTypeConsumer:
	default:
		return apperrors.NewValidationError(fmt.Sprintf("loop %q: unknown type %q", l.Name, l.Type))
	}

	if len(l.Modes) == 0 {
		return apperrors.NewValidationError(fmt.Sprintf("loop %q: at least one mode is required", l.Name))
	}

	switch l.ModeSelection.Strategy {
	case domain.StrategyFixed:
		if _, ok := l.Modes[l.ModeSelection.FixedMode]; !ok {
			return apperrors.NewValidationError(
				fmt.Sprintf("loop %q: fixed_mode %q is not a declared mode", l.Name, l.ModeSelection.FixedMode))
		}
	case domain.StrategyWeightedRandom:
		sum := 0
		for _, w := range l.ModeSelection.Weights {
			sum += w
		}
		if sum != 100 {
			return apperrors.NewValidationError(
				fmt.Sprintf("loop %q: weighted_random weights sum to %d, must sum to 100", l.Name, sum))
		}
	case domain.StrategyRandom, domain.StrategyPhaseAware:
	default:
		return apperrors.NewValidationError(
			fmt.Sprintf("loop %q: unknown mode_selection strategy %q", l.Name, l.ModeSelection.Strategy))
	}

	if l.Type == domain.LoopTypeConsumer {
		if l.ItemTypes == nil || l.ItemTypes.Input == nil || l.ItemTypes.Input.Source == "" {
			return apperrors.NewValidationError(
				fmt.Sprintf("loop %q: consumer loops require item_types.input.source", l.Name))
		}
	}

	return nil
}

// EffectiveLimit returns v if it is a positive limit, else "disabled"
// (zero). The executor uses it for max_iterations and max_runtime_seconds;
// max_consecutive_errors is checked separately and is likewise off when
// zero or negative.
func EffectiveLimit(v int) (limit int, disabled bool) {
	if v <= 0 {
		return 0, true
	}
	return v, false
}

// ValidateSources checks that every consumer loop's item_types.input.source
// resolves to a loop that exists in the set, and that the source-reference
// graph across all loops is acyclic (spec §3, §9 "immutable edge list +
// DFS cycle check").
func ValidateSources(loops map[string]*Loop) error {
	for name, l := range loops {
		if l.Type != domain.LoopTypeConsumer || l.ItemTypes == nil || l.ItemTypes.Input == nil {
			continue
		}
		src := l.ItemTypes.Input.Source
		if _, ok := loops[src]; !ok {
			return apperrors.NewValidationError(
				fmt.Sprintf("loop %q: source %q does not exist", name, src))
		}
	}

	visiting := map[string]bool{}
	visited := map[string]bool{}
	var visit func(name string) error
	visit = func(name string) error {
		if visited[name] {
			return nil
		}
		if visiting[name] {
			return apperrors.NewValidationError(fmt.Sprintf("cycle detected in loop source references at %q", name))
		}
		l, ok := loops[name]
		if !ok {
			return nil
		}
		visiting[name] = true
		if l.Type == domain.LoopTypeConsumer && l.ItemTypes != nil && l.ItemTypes.Input != nil {
			if err := visit(l.ItemTypes.Input.Source); err != nil {
				return err
			}
		}
		visiting[name] = false
		visited[name] = true
		return nil
	}

	for name := range loops {
		if err := visit(name); err != nil {
			return err
		}
	}
	return nil
}
