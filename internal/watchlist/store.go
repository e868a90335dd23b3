// Package watchlist owns the shared, atomically swappable configuration
// handle. The scheduler reads a consistent snapshot every tick; a reload
// re-reads and re-validates the file and swaps the snapshot in one atomic
// step, so no reader ever observes a half-applied configuration and a
// failed reload leaves the previous one in effect.
package watchlist

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/govdl/govdl/internal/model"
)

// ErrorKind classifies why a reload was rejected.
type ErrorKind string

const (
	KindRead      ErrorKind = "read"
	KindParse     ErrorKind = "parse"
	KindOutputDir ErrorKind = "output_dir"
)

// ConfigError is returned by Reload when the new configuration cannot be
// loaded or validated. The previously active configuration stays in effect.
type ConfigError struct {
	Kind   ErrorKind
	Detail string
	Err    error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s error: %s: %v", e.Kind, e.Detail, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Store holds the active configuration behind an atomic pointer.
type Store struct {
	path string
	cfg  atomic.Pointer[model.Config]
}

// NewStore wraps an already loaded configuration. The output directory is
// prepared immediately; an unusable directory at startup is fatal.
func NewStore(path string, cfg *model.Config) (*Store, error) {
	if err := prepare(cfg); err != nil {
		return nil, err
	}
	s := &Store{path: path}
	s.cfg.Store(cfg)
	return s, nil
}

// Open loads, validates and prepares the configuration at path.
func Open(path string) (*Store, error) {
	cfg, err := load(path)
	if err != nil {
		return nil, err
	}
	return NewStore(path, cfg)
}

// Current returns the presently active configuration. The returned value is
// shared and must be treated as read-only.
func (s *Store) Current() *model.Config {
	return s.cfg.Load()
}

func (s *Store) Path() string {
	return s.path
}

// Reload re-reads the backing file. On success the active configuration is
// swapped atomically; on any failure the previous configuration stays
// active and a *ConfigError is returned.
func (s *Store) Reload(ctx context.Context) error {
	cfg, err := load(s.path)
	if err != nil {
		return err
	}
	if err := prepare(cfg); err != nil {
		return err
	}
	old := s.cfg.Swap(cfg)
	slog.InfoContext(ctx, "configuration reloaded",
		"path", s.path,
		"watches", len(cfg.Watches),
		"watches_before", len(old.Watches),
	)
	return nil
}

func load(path string) (*model.Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ConfigError{Kind: KindRead, Detail: path, Err: err}
	}
	defer func() {
		_ = f.Close()
	}()

	cfg, err := model.LoadConfig(f)
	if err != nil {
		return nil, &ConfigError{Kind: KindParse, Detail: path, Err: err}
	}
	return &cfg, nil
}

// prepare makes the configuration usable: the output directory is created
// when absent. An empty watch-list is valid, the daemon simply idles.
func prepare(cfg *model.Config) error {
	if err := os.MkdirAll(cfg.Output, 0o755); err != nil {
		return &ConfigError{Kind: KindOutputDir, Detail: cfg.Output, Err: err}
	}
	return nil
}
