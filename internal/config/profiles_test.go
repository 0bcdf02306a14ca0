package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileYieldsEmptyProfiles(t *testing.T) {
	p, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Empty(t, p.Profiles)
}

func TestLoadEmptyPathYieldsEmptyProfiles(t *testing.T) {
	p, err := Load("")
	require.NoError(t, err)
	assert.Empty(t, p.Profiles)
}

func TestLoadParsesNamedProfiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	contents := `
profiles:
  fish:
    shell: /usr/bin/fish
    args: ["--login"]
    env:
      FOO: bar
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	p, err := Load(path)
	require.NoError(t, err)
	require.Contains(t, p.Profiles, "fish")
	assert.Equal(t, "/usr/bin/fish", p.Profiles["fish"].Shell)
	assert.Equal(t, []string{"--login"}, p.Profiles["fish"].Args)
	assert.Equal(t, "bar", p.Profiles["fish"].Env["FOO"])
}

func TestResolveUnknownNameFallsBackToShellEnv(t *testing.T) {
	t.Setenv("SHELL", "/bin/zsh")
	p := &Profiles{Profiles: map[string]Profile{}}
	got := p.Resolve("missing")
	assert.Equal(t, "/bin/zsh", got.Shell)
}

func TestResolveEmptyNameFallsBackToShellEnv(t *testing.T) {
	t.Setenv("SHELL", "/bin/bash")
	p := &Profiles{Profiles: map[string]Profile{"x": {Shell: "/bin/fish"}}}
	got := p.Resolve("")
	assert.Equal(t, "/bin/bash", got.Shell)
}

func TestResolveKnownNameReturnsProfile(t *testing.T) {
	p := &Profiles{Profiles: map[string]Profile{"fish": {Shell: "/usr/bin/fish"}}}
	got := p.Resolve("fish")
	assert.Equal(t, "/usr/bin/fish", got.Shell)
}
