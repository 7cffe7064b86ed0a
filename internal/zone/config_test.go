package zone

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

const validConfig = `
controllers:
  hallway:
    base:
      type: dim
      duration_on: 2m
      duration_dim: 45
      action_on: {service: light.turn_on, service_data: {entity_id: light.hall}}
      action_dim: {service: light.turn_on, service_data: {entity_id: light.hall, brightness: 20}}
      action_off: {service: light.turn_off, service_data: {entity_id: light.hall}}
      overrides:
        - condition: hour() >= 23
          type: simple
          duration_on: 30s
          action_on: {scene: hall_night}
          action_off:
            - service: light.turn_off
              service_data: {entity_id: light.hall}
  cellar:
    base: {}
enforcers:
  - light.hall
`

func TestParseConfig_Valid(t *testing.T) {
	f, err := ParseConfig([]byte(validConfig))
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}

	if got := f.Names(); !reflect.DeepEqual(got, []string{"cellar", "hallway"}) {
		t.Errorf("Names() = %v", got)
	}

	base := f.Controllers["hallway"].Base
	if base.DurationOn.Duration() != 2*time.Minute {
		t.Errorf("duration_on = %v, want 2m", base.DurationOn.Duration())
	}
	if base.DurationDim.Duration() != 45*time.Second {
		t.Errorf("duration_dim = %v, want 45s", base.DurationDim.Duration())
	}
	if len(base.Overrides) != 1 || base.Overrides[0].ActionOn[0].Scene != "hall_night" {
		t.Errorf("overrides = %+v", base.Overrides)
	}
	if got := base.ActionDim[0].Data["brightness"]; got != 20 {
		t.Errorf("dim brightness = %v", got)
	}
	if f.Controllers["cellar"].Base.mode() != ModeDummy {
		t.Errorf("empty base mode = %q, want dummy", f.Controllers["cellar"].Base.mode())
	}
	if !reflect.DeepEqual(f.Enforcers, []string{"light.hall"}) {
		t.Errorf("Enforcers = %v", f.Enforcers)
	}
}

func TestParseConfig_Empty(t *testing.T) {
	f, err := ParseConfig(nil)
	if err != nil {
		t.Fatalf("ParseConfig(nil) error = %v", err)
	}
	if len(f.Names()) != 0 {
		t.Errorf("Names() = %v, want none", f.Names())
	}
}

func TestParseConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantMsg string
	}{
		{
			name:    "unknown top-level key",
			input:   "zones: {}",
			wantMsg: "zones",
		},
		{
			name:    "unknown node key",
			input:   "controllers:\n  a:\n    base:\n      typ: simple",
			wantMsg: "typ",
		},
		{
			name:    "unknown mode",
			input:   "controllers:\n  a:\n    base:\n      type: disco",
			wantMsg: "disco",
		},
		{
			name:    "simple mode without duration",
			input:   "controllers:\n  a:\n    base:\n      type: simple",
			wantMsg: "requires duration_on",
		},
		{
			name:    "negative duration",
			input:   "controllers:\n  a:\n    base:\n      duration_on: -5",
			wantMsg: "positive",
		},
		{
			name:    "override without condition",
			input:   "controllers:\n  a:\n    base:\n      overrides:\n        - type: dummy",
			wantMsg: "a/overrides[0]",
		},
		{
			name:    "bad controller name",
			input:   "controllers:\n  \"a/b\":\n    base: {}",
			wantMsg: "a/b",
		},
		{
			name:    "bad duration",
			input:   "controllers:\n  a:\n    base:\n      duration_on: soon",
			wantMsg: "soon",
		},
		{
			name:    "duplicate enforcer",
			input:   "enforcers: [light.a, light.a]",
			wantMsg: "duplicate",
		},
		{
			name:    "malformed yaml",
			input:   "controllers: [",
			wantMsg: "yaml",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.input))
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("ParseConfig() error = %v, want ErrInvalidConfig", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not mention %q", err, tt.wantMsg)
			}
		})
	}
}

func TestParseConfig_CollectsAllErrors(t *testing.T) {
	input := "controllers:\n  a:\n    base:\n      type: simple\n  b:\n    base:\n      type: disco"
	_, err := ParseConfig([]byte(input))
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"a: simple mode", "disco"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestParseConfig_KeepsValidDefinitions(t *testing.T) {
	input := `
controllers:
  good:
    base:
      type: simple
      duration_on: 60
      action_on: {service: light.turn_on}
      action_off: {service: light.turn_off}
  bad:
    base:
      type: bogus
enforcers: [light.a, "", light.a, light.b]
`
	f, err := ParseConfig([]byte(input))
	if f == nil {
		t.Fatalf("ParseConfig() file = nil, error = %v", err)
	}
	if !errors.Is(err, ErrInvalidConfig) || !errors.Is(err, ErrUnknownMode) {
		t.Errorf("ParseConfig() error = %v, want ErrInvalidConfig and ErrUnknownMode", err)
	}

	if got := f.Names(); !reflect.DeepEqual(got, []string{"good"}) {
		t.Errorf("Names() = %v, want [good]", got)
	}
	if !reflect.DeepEqual(f.Enforcers, []string{"light.a", "light.b"}) {
		t.Errorf("Enforcers = %v, want [light.a light.b]", f.Enforcers)
	}

	rejected, ok := Rejections(err)
	if !ok {
		t.Fatalf("Rejections(%v) not confined to definitions", err)
	}
	names := make([]string, 0, len(rejected))
	for name := range rejected {
		names = append(names, name)
	}
	sort.Strings(names)
	if want := []string{"bad", "enforcers[1]", "enforcers[2]"}; !reflect.DeepEqual(names, want) {
		t.Errorf("rejected = %v, want %v", names, want)
	}
}

func TestParseConfig_UndecodableFile(t *testing.T) {
	f, err := ParseConfig([]byte("controllers: ["))
	if f != nil {
		t.Errorf("ParseConfig() file = %+v, want nil", f)
	}
	if _, ok := Rejections(err); ok {
		t.Errorf("Rejections(%v) ok = true, want false for a decode error", err)
	}
}

func TestRejections(t *testing.T) {
	bad := &RejectedError{Name: "hall", Err: ErrInvalidConfig}
	other := &RejectedError{Name: "porch", Err: ErrUnknownMode}

	tests := []struct {
		name   string
		err    error
		wantOK bool
		want   []string
	}{
		{"nil", nil, true, nil},
		{"single", bad, true, []string{"hall"}},
		{"wrapped", fmt.Errorf("applying: %w", bad), true, []string{"hall"}},
		{"joined", errors.Join(bad, other), true, []string{"hall", "porch"}},
		{"nested join", errors.Join(errors.Join(bad), other), true, []string{"hall", "porch"}},
		{"plain error", errors.New("disk on fire"), false, nil},
		{"mixed", errors.Join(bad, errors.New("disk on fire")), false, []string{"hall"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rejected, ok := Rejections(tt.err)
			if ok != tt.wantOK {
				t.Errorf("ok = %v, want %v", ok, tt.wantOK)
			}
			var names []string
			for name := range rejected {
				names = append(names, name)
			}
			sort.Strings(names)
			if !reflect.DeepEqual(names, tt.want) {
				t.Errorf("names = %v, want %v", names, tt.want)
			}
		})
	}
}

func TestDuration_UnmarshalYAML(t *testing.T) {
	tests := []struct {
		input string
		want  time.Duration
	}{
		{"90", 90 * time.Second},
		{"1.5", 1500 * time.Millisecond},
		{"2m", 2 * time.Minute},
		{"1h30m", 90 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			var d Duration
			if err := yaml.Unmarshal([]byte(tt.input), &d); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if d.Duration() != tt.want {
				t.Errorf("Duration = %v, want %v", d.Duration(), tt.want)
			}
		})
	}
}

func TestDuration_MarshalYAML(t *testing.T) {
	out, err := yaml.Marshal(struct {
		D Duration `yaml:"d"`
	}{Duration(90 * time.Second)})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if strings.TrimSpace(string(out)) != "d: 1m30s" {
		t.Errorf("Marshal() = %q", out)
	}
}

func TestValidName(t *testing.T) {
	for name, want := range map[string]bool{
		"hallway":     true,
		"floor-1_b":   true,
		"":            false,
		"a/b":         false,
		"living room": false,
		"zone+":       false,
	} {
		if got := ValidName(name); got != want {
			t.Errorf("ValidName(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zones.yaml")
	if err := os.WriteFile(path, []byte(validConfig), 0o600); err != nil {
		t.Fatal(err)
	}

	f, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if len(f.Controllers) != 2 {
		t.Errorf("controllers = %d, want 2", len(f.Controllers))
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
