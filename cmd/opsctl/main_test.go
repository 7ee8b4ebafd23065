package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"contentflow/internal/platform/auth"
	"contentflow/internal/platform/config"

	"github.com/urfave/cli/v2"
)

func newTestApp(out *bytes.Buffer) *cli.App {
	app := newApp()
	app.Writer = out
	app.ErrWriter = out
	app.ExitErrHandler = func(*cli.Context, error) {}
	return app
}

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	body := "jwt:\n  secret: ops-secret\n  access_token_ttl: 1h\nlogging:\n  level: error\n" +
		"database:\n  global:\n    url: " + filepath.Join(dir, "global.db") + "\n  tenant:\n    base_path: " + filepath.Join(dir, "tenants") + "\n"
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestTokenCommand(t *testing.T) {
	cfgPath := writeConfig(t)

	var out bytes.Buffer
	err := newTestApp(&out).Run([]string{"opsctl", "--config", cfgPath, "token", "--org", "org_1", "--role", "editor", "--email", "ops@acme.test"})
	if err != nil {
		t.Fatalf("token: %v", err)
	}

	tokens := auth.NewTokenService(config.JWTConfig{Secret: "ops-secret", AccessTokenTTL: time.Hour})
	claims, err := tokens.ValidateToken(strings.TrimSpace(out.String()))
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if claims.OrganizationID != "org_1" || claims.Role != "editor" || claims.Actor() != "ops@acme.test" {
		t.Errorf("unexpected claims %+v", claims)
	}
}

func TestTokenCommandRejectsUnknownRole(t *testing.T) {
	var out bytes.Buffer
	err := newTestApp(&out).Run([]string{"opsctl", "--config", writeConfig(t), "token", "--org", "org_1", "--role", "root"})
	if err == nil {
		t.Fatal("expected an error for an unknown role")
	}
	if code := err.(cli.ExitCoder).ExitCode(); code != 2 {
		t.Errorf("exit code = %d, want 2", code)
	}
}

func TestCreateAndListOrgs(t *testing.T) {
	cfgPath := writeConfig(t)

	var out bytes.Buffer
	if err := newTestApp(&out).Run([]string{"opsctl", "--config", cfgPath, "orgs", "create", "--slug", "acme", "--name", "Acme"}); err != nil {
		t.Fatalf("orgs create: %v", err)
	}
	if !strings.Contains(out.String(), `"slug": "acme"`) {
		t.Errorf("unexpected output %s", out.String())
	}

	out.Reset()
	if err := newTestApp(&out).Run([]string{"opsctl", "--config", cfgPath, "orgs", "list"}); err != nil {
		t.Fatalf("orgs list: %v", err)
	}
	if strings.Count(out.String(), `"slug"`) != 1 {
		t.Errorf("expected one organization, got %s", out.String())
	}
}

func TestCreateOrgRejectsDuplicateSlug(t *testing.T) {
	cfgPath := writeConfig(t)
	args := []string{"opsctl", "--config", cfgPath, "orgs", "create", "--slug", "acme", "--name", "Acme"}

	var out bytes.Buffer
	if err := newTestApp(&out).Run(args); err != nil {
		t.Fatalf("first create: %v", err)
	}
	err := newTestApp(&out).Run(args)
	if err == nil {
		t.Fatal("expected duplicate slug to fail")
	}
	if code := err.(cli.ExitCoder).ExitCode(); code != 2 {
		t.Errorf("exit code = %d, want 2", code)
	}
}
