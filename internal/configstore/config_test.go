package configstore

import (
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"testing"
)

func isolateConfig(t *testing.T) string {
	t.Helper()
	lockEnv(t)
	testSetEnv(t, "ANSIBLE_TOOLBOX_HOME", "")
	base := t.TempDir()
	testSetEnv(t, "XDG_CONFIG_HOME", base)
	setHome(t, filepath.Join(base, "home"))
	return base
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	t.Parallel()
	isolateConfig(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Runtime != "" {
		t.Fatalf("expected empty runtime, got %q", cfg.Runtime)
	}
	if len(cfg.Packages) != 0 || len(cfg.Volumes) != 0 {
		t.Fatalf("expected no packages or volumes, got %v %v", cfg.Packages, cfg.Volumes)
	}
	if len(cfg.EnvVars) != 0 {
		t.Fatalf("expected no global env vars, got %v", cfg.EnvVars)
	}
	if len(cfg.Projects) != 0 {
		t.Fatalf("expected no projects, got %v", cfg.Projects)
	}
}

func TestLoadGlobalAndProjectSettings(t *testing.T) {
	t.Parallel()
	base := isolateConfig(t)
	project := filepath.Join(base, "infra")
	testSetEnv(t, "VAULT_HOST", "vault.internal")

	writeConfig(t, fmt.Sprintf(`
runtime = "Podman"
packages = ["jmespath", "netaddr"]
volumes = ["~/.ssh:/tmp/.ssh:ro"]

[env]
ANSIBLE_HOST_KEY_CHECKING = "False"
PRICE = "$$5"

[projects.'%s']
packages = ["hvac"]
volumes = ["/srv/keys:/keys:ro"]

[projects.'%s'.env]
VAULT_ADDR = "https://${VAULT_HOST}:8200"
ANSIBLE_HOST_KEY_CHECKING = "True"
`, project, project))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Runtime != RuntimePodman {
		t.Fatalf("runtime = %q, want %q", cfg.Runtime, RuntimePodman)
	}
	if got := cfg.EnvVars["PRICE"]; got != "$5" {
		t.Fatalf("escaped dollar = %q, want %q", got, "$5")
	}

	resolved, err := cfg.Resolve(project)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if want := []string{"jmespath", "netaddr", "hvac"}; !reflect.DeepEqual(resolved.Packages, want) {
		t.Fatalf("packages = %v, want %v", resolved.Packages, want)
	}
	if want := []string{"~/.ssh:/tmp/.ssh:ro", "/srv/keys:/keys:ro"}; !reflect.DeepEqual(resolved.Volumes, want) {
		t.Fatalf("volumes = %v, want %v", resolved.Volumes, want)
	}
	if got := resolved.Env["VAULT_ADDR"]; got.Value != "https://vault.internal:8200" || got.Scope != ScopeProject {
		t.Fatalf("VAULT_ADDR = %+v", got)
	}
	if got := resolved.Env["ANSIBLE_HOST_KEY_CHECKING"]; got.Value != "True" || got.Scope != ScopeProject {
		t.Fatalf("expected project override, got %+v", got)
	}

	other, err := cfg.Resolve(filepath.Join(base, "elsewhere"))
	if err != nil {
		t.Fatalf("Resolve(other): %v", err)
	}
	if want := []string{"jmespath", "netaddr"}; !reflect.DeepEqual(other.Packages, want) {
		t.Fatalf("other packages = %v, want %v", other.Packages, want)
	}
	if got := other.Env["ANSIBLE_HOST_KEY_CHECKING"]; got.Value != "False" || got.Scope != ScopeGlobal {
		t.Fatalf("expected global value for other project, got %+v", got)
	}
	if _, ok := other.Env["VAULT_ADDR"]; ok {
		t.Fatal("did not expect project env outside the project")
	}
}

func TestLoadRejectsUnknownRuntime(t *testing.T) {
	t.Parallel()
	isolateConfig(t)
	writeConfig(t, `runtime = "lxc"`)

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unsupported runtime")
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	t.Parallel()
	isolateConfig(t)
	writeConfig(t, `image = "custom:latest"`)

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestLoadRejectsWrongTypes(t *testing.T) {
	t.Parallel()
	isolateConfig(t)
	writeConfig(t, `packages = "jmespath"`)

	if _, err := Load(); err == nil {
		t.Fatal("expected error when packages is not an array")
	}
}

func TestLoadRejectsInvalidEnvKeys(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"whitespace":     "[env]\n\"BAD KEY\" = \"x\"",
		"equals":         "[env]\n\"A=B\" = \"c\"",
		"empty":          "[env]\n\"\" = \"x\"",
		"project equals": "[projects.'/srv/site'.env]\n\"A=B\" = \"c\"",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			isolateConfig(t)
			writeConfig(t, content)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s env key", name)
			}
		})
	}
}

func TestLoadCorruptTomlReturnsTypedError(t *testing.T) {
	t.Parallel()
	isolateConfig(t)
	writeConfig(t, "[env\nFOO = 1")

	_, err := Load()
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if parseErr.Path == "" {
		t.Fatal("ParseError.Path empty")
	}
}

func TestExpandLeadingTilde(t *testing.T) {
	t.Parallel()
	lockEnv(t)
	home := t.TempDir()
	setHome(t, home)

	cases := map[string]string{
		"~":          home,
		"~/.ssh":     filepath.Join(home, ".ssh"),
		"/abs/path":  "/abs/path",
		"relative/x": "relative/x",
	}
	for in, want := range cases {
		got, err := ExpandLeadingTilde(in)
		if err != nil {
			t.Fatalf("ExpandLeadingTilde(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("ExpandLeadingTilde(%q) = %q, want %q", in, got, want)
		}
	}
}
