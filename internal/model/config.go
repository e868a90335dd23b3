package model

import (
	"io"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"

	_ "embed"
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

// Config is the validated on-disk configuration. It is read at startup and
// replaced wholesale on reload; consumers treat it as read-only.
type Config struct {
	Version int         `json:"version" yaml:"version"` // fixed 0 for now
	Output  string      `json:"output" yaml:"output"`   // capture destination directory
	Poll    *Poll       `json:"poll,omitempty" yaml:"poll,omitempty"`
	Watches []Watch     `json:"watches,omitempty" yaml:"watches,omitempty"`
	Twitch  *TwitchAuth `json:"twitch,omitempty" yaml:"twitch,omitempty"`
	Capture *Capture    `json:"capture,omitempty" yaml:"capture,omitempty"`
	Service *Service    `json:"service,omitempty" yaml:"service,omitempty"`
}

// Poll controls the detection cadence. Exactly one of Every or Cron is
// used; Cron wins when both are set. Polling is a deliberate trade-off:
// neither platform pushes go-live notifications, so the interval balances
// detection latency against rate-limit risk.
type Poll struct {
	Every string `json:"every,omitempty" yaml:"every,omitempty"` // e.g. "30s", "2m", "1h30m"
	Cron  string `json:"cron,omitempty" yaml:"cron,omitempty"`   // 5 field cron expression
}

// TwitchAuth holds Helix API credentials. Both fields fall back to the
// TWITCH_CLIENT_ID / TWITCH_CLIENT_SECRET environment variables.
type TwitchAuth struct {
	ClientID     string `json:"client_id,omitempty" yaml:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty" yaml:"client_secret,omitempty"`
}

// Capture mirrors the downloader knobs; the command sub-tree is parsed by
// the capture package. Schema validation only happens here.
type Capture struct {
	Command             *ToolCommand `json:"command,omitempty" yaml:"command,omitempty"`
	LiveFromStart       *bool        `json:"live_from_start,omitempty" yaml:"live_from_start,omitempty"`
	EmbedMetadata       *bool        `json:"embed_metadata,omitempty" yaml:"embed_metadata,omitempty"`
	EmbedThumbnail      *bool        `json:"embed_thumbnail,omitempty" yaml:"embed_thumbnail,omitempty"`
	ConcurrentFragments *int         `json:"concurrent_fragments,omitempty" yaml:"concurrent_fragments,omitempty"`
	Remux               *string      `json:"remux,omitempty" yaml:"remux,omitempty"`
	CookiesFromBrowser  *string      `json:"cookies_from_browser,omitempty" yaml:"cookies_from_browser,omitempty"`
}

// ToolCommand describes how the external downloader binary is invoked.
type ToolCommand struct {
	Path    string            `json:"path,omitempty" yaml:"path,omitempty"`
	Args    []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Timeout string            `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// Service holds daemon plumbing: logging verbosity, the ops listen address
// (empty disables the ops server) and the shutdown drain timeout
// ("0s" or empty waits for captures indefinitely).
type Service struct {
	Verbose      *bool   `json:"verbose,omitempty" yaml:"verbose,omitempty"`
	Listen       *string `json:"listen,omitempty" yaml:"listen,omitempty"`
	DrainTimeout *string `json:"drain_timeout,omitempty" yaml:"drain_timeout,omitempty"`
}

// DefaultConfig is written on the first run when no configuration exists.
func DefaultConfig() Config {
	return Config{
		Version: 0,
		Output:  ".",
		Poll:    &Poll{Every: "30s"},
	}
}

// LoadConfig validates YAML from r against the embedded CUE schema and
// decodes it into Config.
func LoadConfig(r io.Reader) (Config, error) {
	yamlFile, err := yaml.Extract("config.yaml", r)
	if err != nil {
		return Config{}, err
	}
	yamlValue := cueCtx.BuildFile(yamlFile)

	unified := schema.Unify(yamlValue)
	if err := unified.Validate(
		cue.All(),          // all constraints
		cue.Concrete(true), // no incomplete values
	); err != nil {
		return Config{}, err
	}

	var out Config
	if err := unified.Decode(&out); err != nil {
		return Config{}, err
	}
	return out, nil
}

// Get dereferences an optional config field, returning the zero value for nil.
func Get[T any](pt *T) T {
	var zero T
	if pt == nil {
		return zero
	}
	return *pt
}
