// Package config loads the TOML configuration file each binary takes as its single positional argument (spec §6).
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"
)

// Timeouts holds the configured admin API, database and sink deadlines (§5). Zero fields are filled from
// defaultTimeouts by LoadAPI/LoadAgent. Neither binary passes these values on to an adapter or outbound call.
type Timeouts struct {
	AdminAPI time.Duration `toml:"admin_api"`
	Database time.Duration `toml:"database"`
	Sink     time.Duration `toml:"sink"`
}

func defaultTimeouts() Timeouts {
	return Timeouts{
		AdminAPI: 3 * time.Second,
		Database: 5 * time.Second,
		Sink:     2 * time.Second,
	}
}

func (t *Timeouts) applyDefaults() {
	d := defaultTimeouts()
	if t.AdminAPI <= 0 {
		t.AdminAPI = d.AdminAPI
	}
	if t.Database <= 0 {
		t.Database = d.Database
	}
	if t.Sink <= 0 {
		t.Sink = d.Sink
	}
}

// Bus configures the pub/sub transport (§4.3), bound to Redis/Valkey.
type Bus struct {
	URL string `toml:"url"`
}

// decodeFile reads path and unmarshals its TOML content onto dst, which should already hold defaults: go-toml only
// overwrites fields present in the file.
func decodeFile(path string, dst any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := toml.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

// errs collects validation failures so LoadAPI/LoadAgent can report all of them at once, mirroring the teacher's parser idiom.
type errs struct {
	list []error
}

func (e *errs) add(format string, args ...any) {
	e.list = append(e.list, fmt.Errorf(format, args...))
}

func (e *errs) join() error {
	return errors.Join(e.list...)
}

// parseLevel validates a log_level string against zerolog's known levels without committing to one; main wires the
// parsed level into the process-global logger.
func parseLevel(level string) (zerolog.Level, bool) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Disabled, false
	}
	return lvl, true
}
