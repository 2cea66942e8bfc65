package main

import (
	"fmt"
	"os"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/latchwork/latchwork/internal/config"
	"github.com/latchwork/latchwork/internal/coordinator"
)

// buildCoordinator loads a configuration snapshot (optionally overlaid
// from a YAML file at cfgFile, always overlaid from environment
// variables) and constructs a ready-to-use Coordinator from it. This is
// the one place in the module allowed to touch disk/env for config —
// the core packages only ever consume an already-built config.LockConfig.
func buildCoordinator() (*coordinator.Coordinator, error) {
	var opts config.Options

	if cfgFile != "" {
		if _, err := os.Stat(cfgFile); err != nil {
			return nil, fmt.Errorf("config file %q: %w", cfgFile, err)
		}
		if err := cleanenv.ReadConfig(cfgFile, &opts); err != nil {
			return nil, fmt.Errorf("read config %q: %w", cfgFile, err)
		}
	} else if err := cleanenv.ReadEnv(&opts); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}

	lockCfg, err := config.FromOptions(opts)
	if err != nil {
		return nil, fmt.Errorf("build lock config: %w", err)
	}

	return coordinator.New(lockCfg)
}
