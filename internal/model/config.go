package model

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"

	_ "embed"
)

// Enum helpers (optional).
const (
	LogStderr  = "stderr"
	LogStdout  = "stdout"
	LogDiscard = "discard"
)

//go:embed config.cue
var cueSource []byte

var (
	cueCtx *cue.Context
	schema cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource)
	if compiled.Err() != nil {
		panic(compiled.Err())
	}

	if err := compiled.Validate(); err != nil {
		panic(err)
	}

	schema = compiled.LookupPath(cue.ParsePath("#Config"))
	if schema.Err() != nil {
		panic(schema.Err())
	}
	if err := schema.Validate(); err != nil {
		panic(err)
	}
}

type Config struct {
	Version               int        `json:"version" yaml:"version"` // fixed 0 for now
	ScriptRoot            string     `json:"script_root" yaml:"script_root"`
	DefaultTimeoutSeconds int        `json:"default_timeout_seconds" yaml:"default_timeout_seconds"`
	Directory             *Directory `json:"directory,omitempty" yaml:"directory,omitempty"`
	Notify                *Notify    `json:"notify,omitempty" yaml:"notify,omitempty"`
	History               *History   `json:"history,omitempty" yaml:"history,omitempty"`
	Service               Service    `json:"service" yaml:"service"`
}

// DefaultTimeout returns default_timeout_seconds as a duration.
func (c Config) DefaultTimeout() time.Duration {
	return time.Duration(c.DefaultTimeoutSeconds) * time.Second
}

// Directory service connection settings (LDAP/AD).
type Directory struct {
	Address      string  `json:"address" yaml:"address"` // ldap://host:389 or ldaps://host:636
	BaseDN       string  `json:"base_dn" yaml:"base_dn"`
	BindDN       *string `json:"bind_dn,omitempty" yaml:"bind_dn,omitempty"`
	BindPassword *string `json:"bind_password,omitempty" yaml:"bind_password,omitempty"`
	Domain       *string `json:"domain,omitempty" yaml:"domain,omitempty"`
}

// Notify holds failure report mail settings.
type Notify struct {
	Enabled    *bool    `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	SMTPHost   string   `json:"smtp_host" yaml:"smtp_host"`
	SMTPPort   *int     `json:"smtp_port,omitempty" yaml:"smtp_port,omitempty"` // default 25
	From       string   `json:"from" yaml:"from"`
	Recipients []string `json:"recipients,omitempty" yaml:"recipients,omitempty"`
}

// History holds run history persistence settings.
type History struct {
	Enabled *bool   `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Path    *string `json:"path,omitempty" yaml:"path,omitempty"` // sqlite file, empty => user config dir
}

// Service tunes the process itself. Output fields are flattened.
type Service struct {
	Verbose bool    `json:"verbose" yaml:"verbose"`
	Log     *string `json:"log,omitempty" yaml:"log,omitempty"`     // "stderr"|"stdout"|"discard"
	Watch   *bool   `json:"watch,omitempty" yaml:"watch,omitempty"` // refresh catalog on script dir changes
	// OutputLimitBytes bounds captured stdout/stderr per run.
	OutputLimitBytes *int `json:"output_limit_bytes,omitempty" yaml:"output_limit_bytes,omitempty"`
}

// LoadConfig validates YAML from r against CUE schema and decodes to Config.
func LoadConfig(r io.Reader) (*Config, error) {
	yamlFile, err := yaml.Extract("config.yaml", r)
	if err != nil {
		return nil, err
	}
	yamlValue := cueCtx.BuildFile(yamlFile)

	unified := schema.Unify(yamlValue)
	if err := unified.Validate(
		cue.All(),          // all constraints
		cue.Concrete(true), // no incomplete values
	); err != nil {
		return nil, err
	}

	var out Config
	if err := unified.Decode(&out); err != nil {
		return nil, err
	}

	return &out, nil
}

// DefaultConfig is written on first run when no config file exists yet.
// Scripts are expected under "scripts" next to the config file; directory
// and notify stay unset so the tool works offline out of the box.
func DefaultConfig(configDir string) Config {
	return Config{
		Version:               0,
		ScriptRoot:            filepath.Join(configDir, "scripts"),
		DefaultTimeoutSeconds: 300,
		Service:               Service{Verbose: false},
	}
}

// ValidateScriptRoot is the only startup check that is fatal: an unreadable
// script root means nothing can ever be listed or run.
func (c Config) ValidateScriptRoot() error {
	_, err := os.ReadDir(c.ScriptRoot)
	return err
}
