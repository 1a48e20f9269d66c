package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"settlement-crm/internal/auth"
	"settlement-crm/internal/config"
	"settlement-crm/internal/dialer"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestTokenCommandIssuesVerifiablePair(t *testing.T) {
	t.Setenv("APP_ENV", "local")
	t.Setenv("JWT_SECRET", "test-secret")

	out, err := run(t, "token", "--user", "agent-7", "--role", "agent")
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	var pair auth.TokenPair
	if err := json.Unmarshal([]byte(out), &pair); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}

	m, err := auth.NewManager(config.AuthConfig{JWTSecret: "test-secret", AccessTokenTTL: 15 * time.Minute, RefreshTokenTTL: time.Hour})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	claims, err := m.Verify(pair.AccessToken, auth.TokenTypeAccess, time.Now())
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID != "agent-7" || claims.Role != "agent" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestTokenCommandRejectsUnknownRole(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	if _, err := run(t, "token", "--user", "u", "--role", "owner"); err == nil {
		t.Fatalf("expected unknown role error")
	}
	if _, err := run(t, "token", "--role", "agent"); err == nil {
		t.Fatalf("expected missing --user error")
	}
}

func TestDispositionsCommand(t *testing.T) {
	t.Setenv("DIALER_DISPOSITIONS_FILE", "")
	out, err := run(t, "dispositions")
	if err != nil {
		t.Fatalf("dispositions: %v", err)
	}
	if !strings.Contains(out, "NO_ANSWER") || !strings.Contains(out, "max attempts: 6") {
		t.Fatalf("unexpected table:\n%s", out)
	}

	path := filepath.Join(t.TempDir(), "p.yaml")
	if err := os.WriteFile(path, []byte("dispositions:\n  PROMISE_TO_PAY:\n    outcome: complete\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	out, err = run(t, "dispositions", "--file", path, "--yaml")
	if err != nil {
		t.Fatalf("dispositions --yaml: %v", err)
	}
	p, err := dialer.ParsePolicy([]byte(out))
	if err != nil {
		t.Fatalf("printed policy must parse back: %v\n%s", err, out)
	}
	if _, ok := p.Lookup("PROMISE_TO_PAY"); !ok {
		t.Fatalf("expected custom code in output:\n%s", out)
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	_ = os.WriteFile(bad, []byte("dispositions:\n  X:\n    outcome: nope\n"), 0o600)
	if _, err := run(t, "dispositions", "-f", bad); err == nil {
		t.Fatalf("expected invalid policy error")
	}
}
