package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/maestro-run/maestro/internal/config"
	"github.com/maestro-run/maestro/internal/logging"
	"github.com/maestro-run/maestro/internal/state"
)

// workspace bundles everything a command needs from the current
// directory: validated config, the state store and a session logger.
type workspace struct {
	cfg   *config.Config
	store *state.Store
	log   *logging.Logger
}

func openWorkspace() (*workspace, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log := logging.NopLogger()
	if cfg.Logging.Enabled {
		if err := os.MkdirAll(cfg.Paths.SessionDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating session directory: %w", err)
		}
		log, err = logging.NewLogger(cfg.Paths.SessionDir, cfg.Logging.Level)
		if err != nil {
			return nil, fmt.Errorf("opening log: %w", err)
		}
	}

	return &workspace{
		cfg:   cfg,
		store: state.NewStore(cfg.Paths.StateFile),
		log:   log,
	}, nil
}

func (w *workspace) close() {
	_ = w.log.Close()
}

func (w *workspace) pulsePath() string {
	if filepath.IsAbs(w.cfg.Sync.PulseFile) {
		return w.cfg.Sync.PulseFile
	}
	return filepath.Join(".", w.cfg.Sync.PulseFile)
}
