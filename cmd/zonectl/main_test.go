package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-zones/internal/auth"
	"github.com/nerrad567/gray-logic-zones/internal/zone"
)

const testSecret = "test-secret-for-development-only-0123"

const testControllers = `
controllers:
  hall:
    base:
      type: simple
      duration_on: 5m
      action_on:
        - service: light.turn_on
          service_data: {entity_id: light.hall}
      action_off:
        - service: light.turn_off
          service_data: {entity_id: light.hall}
      overrides:
        - condition: is_state("input_boolean.party", "on")
  cellar: {}
enforcers:
  - light.hall
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

// execute runs the root command with args and returns its stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

func TestGetConfigPath(t *testing.T) {
	tests := []struct {
		name string
		flag string
		env  string
		want string
	}{
		{"default", "", "", defaultConfigPath},
		{"environment", "", "/etc/graylogic/zones.yaml", "/etc/graylogic/zones.yaml"},
		{"flag wins", "/tmp/flag.yaml", "/etc/graylogic/zones.yaml", "/tmp/flag.yaml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(configEnv, tt.env)
			if got := getConfigPath(tt.flag); got != tt.want {
				t.Errorf("getConfigPath(%q) = %q, want %q", tt.flag, got, tt.want)
			}
		})
	}
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	if !strings.Contains(out, "zonectl "+version) {
		t.Errorf("output = %q", out)
	}
}

func TestValidateCmd(t *testing.T) {
	path := writeFile(t, "zones.yaml", testControllers)

	out, err := execute(t, "validate", path)
	if err != nil {
		t.Fatalf("validate command failed: %v", err)
	}
	for _, want := range []string{"zone.hall", "simple", "dummy", "2 controllers, 1 enforcers: ok"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestValidateCmd_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name:    "unknown key",
			content: "controllers:\n  hall:\n    base:\n      colour: red\n",
		},
		{
			name:    "unknown mode",
			content: "controllers:\n  hall:\n    base:\n      type: strobe\n",
		},
		{
			name:    "override without condition",
			content: "controllers:\n  hall:\n    base:\n      overrides:\n        - type: dummy\n",
		},
		{
			name:    "condition syntax error",
			content: "controllers:\n  hall:\n    base:\n      overrides:\n        - condition: is_state(\"a\",\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, "zones.yaml", tt.content)
			_, err := execute(t, "validate", path)
			if !errors.Is(err, zone.ErrInvalidConfig) {
				t.Errorf("validate error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestValidateCmd_MissingFile(t *testing.T) {
	if _, err := execute(t, "validate", filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for a missing file")
	}
}

func TestTokenCmd(t *testing.T) {
	t.Setenv("GRAYLOGIC_JWT_SECRET", "")
	cfgPath := writeFile(t, "config.yaml", "security:\n  jwt:\n    secret: \""+testSecret+"\"\n")

	out, err := execute(t, "--config", cfgPath, "token", "--subject", "panel-hall", "--role", "operator", "--ttl", "5m")
	if err != nil {
		t.Fatalf("token command failed: %v", err)
	}

	claims, err := auth.ParseToken(strings.TrimSpace(out), testSecret)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Subject != "panel-hall" || claims.Role != auth.RoleOperator {
		t.Errorf("claims = %+v", claims)
	}
	if left := time.Until(claims.ExpiresAt.Time); left > 5*time.Minute || left < 4*time.Minute {
		t.Errorf("expires in %v, want about 5m", left)
	}
}

func TestTokenCmd_Errors(t *testing.T) {
	t.Setenv("GRAYLOGIC_JWT_SECRET", "")
	cfgPath := writeFile(t, "config.yaml", "security:\n  jwt:\n    secret: \""+testSecret+"\"\n")

	if _, err := execute(t, "--config", cfgPath, "token", "--subject", "x", "--role", "root"); !errors.Is(err, auth.ErrInvalidRole) {
		t.Errorf("unknown role error = %v, want ErrInvalidRole", err)
	}
	if _, err := execute(t, "--config", cfgPath, "token"); err == nil {
		t.Error("expected error without --subject")
	}
}

func TestDBCmd(t *testing.T) {
	t.Setenv("GRAYLOGIC_JWT_SECRET", "")
	dbPath := filepath.Join(t.TempDir(), "zones.db")
	cfgPath := writeFile(t, "config.yaml", "database:\n  path: "+dbPath+"\n  busy_timeout: 1\n"+
		"security:\n  jwt:\n    secret: \""+testSecret+"\"\n")

	out, err := execute(t, "--config", cfgPath, "db", "status")
	if err != nil {
		t.Fatalf("db status failed: %v", err)
	}
	if strings.Contains(out, " applied ") || !strings.Contains(out, "pending (entity_state)") {
		t.Errorf("fresh status output:\n%s", out)
	}

	if out, err = execute(t, "--config", cfgPath, "db", "migrate"); err != nil {
		t.Fatalf("db migrate failed: %v", err)
	}
	if !strings.Contains(out, "3 migrations applied") {
		t.Errorf("migrate output = %q", out)
	}

	if out, err = execute(t, "--config", cfgPath, "db", "rollback"); err != nil {
		t.Fatalf("db rollback failed: %v", err)
	}
	if !strings.Contains(out, "rolled back 20260301_090200") {
		t.Errorf("rollback output = %q", out)
	}

	out, _ = execute(t, "--config", cfgPath, "db", "status")
	if !strings.Contains(out, "pending (audit_logs)") || strings.Contains(out, "pending (entity_state)") {
		t.Errorf("status after rollback:\n%s", out)
	}
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx, &globalOptions{configPath: "/nonexistent/path/config.yaml"})
	if err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_MissingDatabasePath verifies run fails when database path is invalid.
func TestRun_MissingDatabasePath(t *testing.T) {
	cfgPath := writeFile(t, "config.yaml", `
site:
  id: test-site
database:
  path: ""
api:
  enabled: false
`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx, &globalOptions{configPath: cfgPath})
	if err == nil || !strings.Contains(err.Error(), "database.path") {
		t.Fatalf("run() = %v, want a database.path error", err)
	}
}

func TestServeCmd_RejectsArgs(t *testing.T) {
	if _, err := execute(t, "serve", "extra"); err == nil {
		t.Error("expected error for unexpected argument")
	}
}
