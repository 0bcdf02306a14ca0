// Package config loads the optional shell-profile file that lets the daemon
// start panes from a named {shell, args, env} preset instead of always
// using the bare $SHELL. Profiles live outside the wire protocol entirely:
// termixd resolves its --profile flag (default: TERMIX_PROFILE) to a
// Profile once at startup and uses it for every new pane; clients only
// ever send a plain session name over the socket.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Profile describes how to start a pane's shell.
type Profile struct {
	Shell string            `yaml:"shell"`
	Args  []string          `yaml:"args"`
	Env   map[string]string `yaml:"env"`
}

// Profiles is the parsed contents of a profiles.yaml file.
type Profiles struct {
	Profiles map[string]Profile `yaml:"profiles"`
}

// DefaultPath returns ~/.termixd/profiles.yaml, or "" if the home
// directory can't be resolved.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".termixd", "profiles.yaml")
}

// Load reads and parses a profiles.yaml file. A missing file is not an
// error: it yields an empty Profiles, since the profile file is entirely
// optional ambient configuration.
func Load(path string) (*Profiles, error) {
	if path == "" {
		return &Profiles{Profiles: map[string]Profile{}}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Profiles{Profiles: map[string]Profile{}}, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var p Profiles
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if p.Profiles == nil {
		p.Profiles = map[string]Profile{}
	}
	return &p, nil
}

// Resolve returns the named profile, or a profile built from $SHELL (with
// no extra args or env) if name is empty or unknown.
func (p *Profiles) Resolve(name string) Profile {
	if name != "" {
		if prof, ok := p.Profiles[name]; ok {
			return prof
		}
	}
	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/sh"
	}
	return Profile{Shell: shell}
}
