package zone

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// File is the controller definition file.
//
//	controllers:
//	  hallway:
//	    base:
//	      type: dim
//	      duration_on: 2m
//	      action_on: {service: light.turn_on, service_data: {entity_id: light.hall}}
//	      action_off: {service: light.turn_off, service_data: {entity_id: light.hall}}
//	      overrides:
//	        - condition: hour() >= 23 or hour() < 6
//	          type: simple
//	          duration_on: 30s
//	          action_on: {scene: hall_night}
//	          action_off: {service: light.turn_off, service_data: {entity_id: light.hall}}
//	enforcers:
//	  - light.hall
type File struct {
	Controllers map[string]ControllerConfig `yaml:"controllers"`

	// Enforcers lists the entity ids that get a state enforcer.
	Enforcers []string `yaml:"enforcers"`
}

// ControllerConfig is the definition of one controller.
type ControllerConfig struct {
	Base NodeConfig `yaml:"base"`
}

// NodeConfig is one node of an override tree.
type NodeConfig struct {
	// Condition is optional on the base node and required on overrides.
	Condition string `yaml:"condition"`

	// Type is the mode: simple, dim or dummy (default).
	Type string `yaml:"type"`

	ActionOn  ActionList `yaml:"action_on"`
	ActionDim ActionList `yaml:"action_dim"`
	ActionOff ActionList `yaml:"action_off"`

	DurationOn  Duration `yaml:"duration_on"`
	DurationDim Duration `yaml:"duration_dim"`

	Overrides []NodeConfig `yaml:"overrides"`
}

func (n NodeConfig) mode() string {
	if n.Type == "" {
		return ModeDummy
	}
	return n.Type
}

// Actions returns the node's action lists as a set.
func (n NodeConfig) Actions() ActionSet {
	return ActionSet{On: n.ActionOn, Dim: n.ActionDim, Off: n.ActionOff}
}

// Duration is a time.Duration that reads either a Go duration string
// ("90s", "2m") or a number of seconds from YAML.
type Duration time.Duration

// Duration returns the value as a time.Duration.
func (d Duration) Duration() time.Duration { return time.Duration(d) }

// UnmarshalYAML accepts "2m" or 120.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("%w: line %d: duration must be a scalar", ErrInvalidConfig, value.Line)
	}
	if secs, err := strconv.ParseFloat(value.Value, 64); err == nil {
		*d = Duration(secs * float64(time.Second))
		return nil
	}
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("%w: line %d: invalid duration %q", ErrInvalidConfig, value.Line, value.Value)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration in Go notation.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_\-]+$`)

// ValidName reports whether name can be used as a controller name. Names
// appear in MQTT topics and URLs, so wildcards and separators are rejected.
func ValidName(name string) bool {
	return namePattern.MatchString(name)
}

// LoadConfig reads and validates a controller definition file. Partial
// results follow ParseConfig.
func LoadConfig(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading controller file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes and validates a controller definition.
// Unknown keys are rejected.
//
// A file that cannot be decoded returns a nil File. When only some
// definitions are invalid, the returned File holds the valid ones and the
// error is a join of one *RejectedError per dropped definition, so callers
// can still apply the rest.
func ParseConfig(data []byte) (*File, error) {
	var f File

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		if errors.Is(err, ErrInvalidConfig) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	err := f.Validate()
	if err != nil {
		rejected, _ := Rejections(err)
		f.drop(rejected)
	}
	return &f, err
}

// Validate checks every controller and enforcer entry and collects all
// problems as *RejectedError values.
func (f *File) Validate() error {
	var errs []error

	for _, name := range f.Names() {
		if !ValidName(name) {
			errs = append(errs, &RejectedError{
				Name: name,
				Err:  fmt.Errorf("%w: controller name %q", ErrInvalidConfig, name),
			})
			continue
		}
		if err := f.Controllers[name].Base.validate(name, true); err != nil {
			errs = append(errs, &RejectedError{Name: name, Err: err})
		}
	}

	seen := make(map[string]bool, len(f.Enforcers))
	for i, id := range f.Enforcers {
		var err error
		switch {
		case id == "":
			err = fmt.Errorf("%w: empty enforcer entity id", ErrInvalidConfig)
		case seen[id]:
			err = fmt.Errorf("%w: duplicate enforcer %q", ErrInvalidConfig, id)
		}
		if err != nil {
			errs = append(errs, &RejectedError{Name: enforcerKey(i), Err: err})
		}
		seen[id] = true
	}

	return errors.Join(errs...)
}

func enforcerKey(i int) string {
	return fmt.Sprintf("enforcers[%d]", i)
}

// drop removes the rejected definitions. Enforcer keys cannot collide with
// controller names because brackets are not valid in names.
func (f *File) drop(rejected map[string]error) {
	for name := range rejected {
		delete(f.Controllers, name)
	}

	kept := f.Enforcers[:0]
	for i, id := range f.Enforcers {
		if _, bad := rejected[enforcerKey(i)]; !bad {
			kept = append(kept, id)
		}
	}
	f.Enforcers = kept
}

// Names returns the controller names, sorted.
func (f *File) Names() []string {
	names := make([]string, 0, len(f.Controllers))
	for name := range f.Controllers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (n NodeConfig) validate(path string, root bool) error {
	var errs []error

	if !root && n.Condition == "" {
		errs = append(errs, fmt.Errorf("%w: %s: override requires a condition", ErrInvalidConfig, path))
	}

	mode := n.mode()
	if _, ok := modes[mode]; !ok {
		errs = append(errs, fmt.Errorf("%s: %w: %w %q", path, ErrInvalidConfig, ErrUnknownMode, mode))
	}

	if n.DurationOn < 0 || n.DurationDim < 0 {
		errs = append(errs, fmt.Errorf("%w: %s: durations must be positive", ErrInvalidConfig, path))
	}
	if (mode == ModeSimple || mode == ModeDim) && n.DurationOn <= 0 {
		errs = append(errs, fmt.Errorf("%w: %s: %s mode requires duration_on", ErrInvalidConfig, path, mode))
	}

	for i, child := range n.Overrides {
		if err := child.validate(fmt.Sprintf("%s/overrides[%d]", path, i), false); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
