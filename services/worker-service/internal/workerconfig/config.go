// Package workerconfig assembles worker settings from the environment and an
// optional YAML file named by WORKER_CONFIG_FILE. File values win.
package workerconfig

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/md-rashed-zaman/recipeshare/libs/config"
	"github.com/md-rashed-zaman/recipeshare/libs/jobqueue"
	"gopkg.in/yaml.v3"
)

type Backoff struct {
	Base time.Duration `yaml:"base"`
	Max  time.Duration `yaml:"max"`
}

type Retention struct {
	Schedule  string        `yaml:"schedule"`
	Succeeded time.Duration `yaml:"succeeded"`
	Failed    time.Duration `yaml:"failed"`
	Handled   time.Duration `yaml:"handled_events"`
}

type Config struct {
	// Queues in priority order.
	Queues       []string      `yaml:"queues"`
	Concurrency  int           `yaml:"concurrency"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Lease        time.Duration `yaml:"lease"`
	JobTimeout   time.Duration `yaml:"job_timeout"`
	Retries      int           `yaml:"retries"`
	Backoff      Backoff       `yaml:"backoff"`
	Retention    Retention     `yaml:"retention"`
}

func FromEnv() Config {
	return Config{
		Queues:       config.List("WORKER_QUEUES", "critical,default"),
		Concurrency:  config.Int("WORKER_CONCURRENCY", 4, 1),
		PollInterval: config.Duration("WORKER_POLL_INTERVAL", 2*time.Second),
		Lease:        config.Duration("WORKER_LEASE", 0),
		JobTimeout:   config.Duration("WORKER_JOB_TIMEOUT", 5*time.Minute),
		Retries:      config.Int("WORKER_RETRIES", jobqueue.DefaultRetries, 0),
		Backoff: Backoff{
			Base: config.Duration("WORKER_BACKOFF_BASE", 15*time.Second),
			Max:  config.Duration("WORKER_BACKOFF_MAX", 10*time.Minute),
		},
		Retention: Retention{
			Schedule:  config.String("JANITOR_SCHEDULE", "@every 1h"),
			Succeeded: config.Duration("RETENTION_SUCCEEDED", 24*time.Hour),
			Failed:    config.Duration("RETENTION_FAILED", 30*24*time.Hour),
			Handled:   config.Duration("RETENTION_HANDLED_EVENTS", 30*24*time.Hour),
		},
	}
}

// Load returns FromEnv overlaid with the file at path. An empty path skips
// the file.
func Load(path string) (Config, error) {
	cfg := FromEnv()
	path = strings.TrimSpace(path)
	if path == "" {
		return cfg, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("read worker config: %w", err)
	}
	defer f.Close()
	// Unknown keys are errors so a misspelt or retired setting is not silently ignored.
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse worker config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if len(c.Queues) == 0 {
		return fmt.Errorf("worker config: at least one queue is required")
	}
	seen := map[string]bool{}
	for _, q := range c.Queues {
		if strings.TrimSpace(q) == "" {
			return fmt.Errorf("worker config: empty queue name")
		}
		if seen[q] {
			return fmt.Errorf("worker config: queue %q listed twice", q)
		}
		seen[q] = true
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("worker config: concurrency must be at least 1")
	}
	if c.Retries < 0 {
		return fmt.Errorf("worker config: retries must not be negative")
	}
	return nil
}

// MaxAttempts is the total number of executions a job gets.
func (c Config) MaxAttempts() int {
	return c.Retries + 1
}
