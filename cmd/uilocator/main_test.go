// Copyright 2025 Joseph Cumines
//
// CLI tests over the memory backend

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/joeycumines/uilocator/internal/config"
	"github.com/joeycumines/uilocator/internal/uierr"
)

const fixture = `{
  "root": {
    "role": "desktop",
    "children": [
      {
        "id": "win", "role": "window", "name": "Login",
        "bounds": {"x": 0, "y": 0, "width": 400, "height": 300},
        "state": {"enabled": true, "visible": true},
        "children": [
          {"id": "user", "role": "edit", "name": "User", "text": "alice",
           "bounds": {"x": 10, "y": 10, "width": 200, "height": 20}, "state": {"enabled": true, "visible": true}},
          {"id": "ok", "role": "button", "name": "OK",
           "bounds": {"x": 10, "y": 40, "width": 60, "height": 20}, "state": {"enabled": true, "visible": true}}
        ]
      }
    ]
  }
}`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tree.json")
	if err := os.WriteFile(path, []byte(fixture), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	cfg.Backend = config.BackendMemory
	cfg.TreeFile = path
	return cfg
}

func run(t *testing.T, args ...string) (map[string]any, error) {
	t.Helper()
	var out bytes.Buffer
	err := runWithArgs(context.Background(), testConfig(t), args, &out)
	if err != nil {
		return nil, err
	}
	var got map[string]any
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out.String())
	}
	return got, nil
}

func TestResolve(t *testing.T) {
	got, err := run(t, "resolve", "role:window >> name:OK")
	if err != nil {
		t.Fatal(err)
	}
	if got["key"] != "memory:ok" || got["role"] != "button" {
		t.Errorf("resolve output = %v", got)
	}
}

func TestResolve_Alternative(t *testing.T) {
	got, err := run(t, "resolve", "name:Cancel", "--alt", "name:OK", "--timeout", "0")
	if err != nil {
		t.Fatal(err)
	}
	if got["key"] != "memory:ok" {
		t.Errorf("resolve output = %v", got)
	}
}

func TestResolve_InvalidSelector(t *testing.T) {
	_, err := run(t, "resolve", "role:")
	if code := uierr.Code(err); code != uierr.CodeInvalidSelector {
		t.Errorf("Code(%v) = %q, want %q", err, code, uierr.CodeInvalidSelector)
	}
}

func TestResolve_NotFound(t *testing.T) {
	_, err := run(t, "resolve", "name:Missing", "--timeout", "0")
	if !errors.Is(err, uierr.ErrElementNotFound) {
		t.Errorf("error = %v, want element not found", err)
	}
}

func TestValidate(t *testing.T) {
	got, err := run(t, "validate", "name:Missing", "--timeout", "0")
	if err != nil {
		t.Fatal(err)
	}
	if got["exists"] != false || got["error"] != nil {
		t.Errorf("validate output = %v", got)
	}
}

func TestAct_GetText(t *testing.T) {
	got, err := run(t, "act", "role:edit", "get_text")
	if err != nil {
		t.Fatal(err)
	}
	if got["text"] != "alice" || got["action"] != "get_text" {
		t.Errorf("act output = %v", got)
	}
}

func TestAct_UnknownAction(t *testing.T) {
	if _, err := run(t, "act", "role:edit", "explode"); err == nil {
		t.Error("expected error")
	}
}

func TestWait_Enabled(t *testing.T) {
	got, err := run(t, "wait", "name:OK", "--condition", "enabled", "--timeout", "0")
	if err != nil {
		t.Fatal(err)
	}
	if got["key"] != "memory:ok" {
		t.Errorf("wait output = %v", got)
	}
}

func TestPermission(t *testing.T) {
	got, err := run(t, "permission")
	if err != nil {
		t.Fatal(err)
	}
	if got["backend"] != "memory" || got["permission"] != "granted" {
		t.Errorf("permission output = %v", got)
	}
}

func TestBackendFlagValidated(t *testing.T) {
	if _, err := run(t, "--backend", "gtk", "permission"); err == nil {
		t.Error("expected error")
	}
}
