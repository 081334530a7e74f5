// Package config centralizes loader configuration. Every tunable is a
// command-line flag whose default is seeded from an environment variable, so
// explicit flags win over the environment and `-help` lists every knob.
//
// For tests, use LoadFromArgs with a private FlagSet and a map-backed getenv:
//
//	fs := flag.NewFlagSet("test", flag.ContinueOnError)
//	getenv := func(k string) string { return env[k] }
//	cfg, err := config.LoadFromArgs(fs, getenv, []string{"-threads=4", "epc.zip"})
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrMissingArchive is returned when no archive path is given.
var ErrMissingArchive = errors.New("missing archive path argument")

// Config holds all process configuration. It is a plain value and is not
// mutated after loading.
type Config struct {
	// ArchivePath is the positional argument: the zip holding certificates.csv.
	ArchivePath string
	// Validate only checks the configuration and exits.
	Validate bool

	// DB describes the target store. DSN, when set, wins over the parts.
	DBDriver   string // "postgres", "mssql", "mysql" or "sqlite"
	DSN        string
	DBUser     string
	DBPassword string
	DBHost     string
	DBPort     int
	DBName     string

	ConnectRetries int           // total connection attempts
	ConnectDelay   time.Duration // fixed wait between attempts

	// Pipeline tunables.
	Threads      int           // transform workers
	MaxRecords   int           // 0 = unlimited
	QueueSize    int           // capacity of each queue
	ProcessDelay time.Duration // per-record delay in the transform stage
	PollInterval time.Duration // progress log period while draining

	// SkippedLog is a CSV path for rejected rows; empty disables it.
	SkippedLog string

	// Metrics.
	MetricsBackend string // "none", "pushgateway" or "datadog"
	PushgatewayURL string
	DogStatsDAddr  string
	JobName        string
}

// LoadFromArgs defines flags on fs, seeds each default from getenv, parses
// args and takes the archive path from the first positional argument.
//
// Precedence:
//  1. Environment values seed each flag's default.
//  2. Explicit CLI flags (in args) override the seeded defaults.
//
// A flag parse error is returned as is. A missing positional argument
// returns the parsed Config together with ErrMissingArchive.
func LoadFromArgs(fs *flag.FlagSet, getenv func(string) string, args []string) (*Config, error) {
	cfg := &Config{}

	envOr := func(d string, keys ...string) string {
		for _, k := range keys {
			if v := getenv(k); v != "" {
				return v
			}
		}
		return d
	}
	intEnvOr := func(k string, d int) int {
		if v := getenv(k); v != "" {
			if i, err := strconv.Atoi(v); err == nil {
				return i
			}
		}
		return d
	}
	// Durations accept Go syntax ("250ms") or bare seconds ("5", "0.25").
	durEnvOr := func(k string, d time.Duration) time.Duration {
		v := strings.TrimSpace(getenv(k))
		if v == "" {
			return d
		}
		if dur, err := time.ParseDuration(v); err == nil {
			return dur
		}
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			return time.Duration(secs * float64(time.Second))
		}
		return d
	}

	// Store
	fs.StringVar(&cfg.DBDriver, "db_driver", envOr("postgres", "DB_DRIVER"), "Store backend: postgres, mssql, mysql or sqlite.")
	fs.StringVar(&cfg.DSN, "dsn", getenv("DB_DSN"), "Full DSN; overrides the db_* parts.")
	fs.StringVar(&cfg.DBUser, "db_user", envOr("", "DB_USER", "POSTGRES_USER"), "DB user")
	fs.StringVar(&cfg.DBPassword, "db_password", envOr("", "DB_PASSWORD", "POSTGRES_PASSWORD"), "DB password")
	fs.StringVar(&cfg.DBHost, "db_host", envOr("db", "DB_HOST"), "DB host")
	fs.IntVar(&cfg.DBPort, "db_port", intEnvOr("DB_PORT", 0), "DB port (0 = driver default)")
	fs.StringVar(&cfg.DBName, "db_name", envOr("", "DB_NAME", "POSTGRES_DB"), "DB name (file path for sqlite)")
	fs.IntVar(&cfg.ConnectRetries, "connect_retries", intEnvOr("CONNECT_RETRIES", 10), "Total connection attempts before giving up")
	fs.DurationVar(&cfg.ConnectDelay, "connect_delay", durEnvOr("CONNECT_DELAY", 5*time.Second), "Wait between connection attempts")

	// Pipeline
	fs.IntVar(&cfg.Threads, "threads", intEnvOr("THREADS", 100), "Number of transform workers")
	fs.IntVar(&cfg.MaxRecords, "max_records", intEnvOr("MAXRECORDS", 0), "Stop after reading this many rows (0 = all)")
	fs.IntVar(&cfg.QueueSize, "queue_size", intEnvOr("QUEUE_SIZE", 4096), "Capacity of each pipeline queue")
	fs.DurationVar(&cfg.ProcessDelay, "process_delay", durEnvOr("PROCESS_DELAY", 250*time.Millisecond), "Per-record delay in the transform stage")
	fs.DurationVar(&cfg.PollInterval, "poll_interval", durEnvOr("POLL_INTERVAL", time.Second), "Queue progress log interval")
	fs.StringVar(&cfg.SkippedLog, "skipped_log", getenv("SKIPPED_LOG"), "CSV file for rejected rows (empty = off)")

	// Metrics
	fs.StringVar(&cfg.MetricsBackend, "metrics_backend", envOr("none", "METRICS_BACKEND"), "Metrics backend: none, pushgateway or datadog")
	fs.StringVar(&cfg.PushgatewayURL, "pushgateway_url", getenv("PUSHGATEWAY_URL"), "Prometheus Pushgateway base URL")
	fs.StringVar(&cfg.DogStatsDAddr, "dogstatsd_addr", envOr("127.0.0.1:8125", "DOGSTATSD_ADDR"), "DogStatsD address")
	fs.StringVar(&cfg.JobName, "job", envOr("epc_import", "JOB_NAME"), "Job name used for metrics")

	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	if args == nil {
		args = []string{}
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if cfg.DBPort == 0 {
		cfg.DBPort = DefaultPort(cfg.DBDriver)
	}
	if fs.NArg() < 1 {
		return cfg, ErrMissingArchive
	}
	cfg.ArchivePath = fs.Arg(0)
	return cfg, nil
}

// DefaultPort is the server port used for driver when db_port is unset. It
// is 0 for drivers without a network port.
func DefaultPort(driver string) int {
	switch driver {
	case "postgres":
		return 5432
	case "mssql":
		return 1433
	case "mysql":
		return 3306
	}
	return 0
}

// Load is the production entry point: the process flag set, os.Getenv and
// os.Args[1:].
func Load() (*Config, error) {
	return LoadFromArgs(flag.CommandLine, os.Getenv, os.Args[1:])
}

// String renders the configuration for the startup log with the password
// masked.
func (c *Config) String() string {
	pw := ""
	if c.DBPassword != "" {
		pw = "****"
	}
	dsn := ""
	if c.DSN != "" {
		dsn = "(set)"
	}
	return fmt.Sprintf(
		"archive=%s driver=%s dsn=%s host=%s port=%d user=%s password=%s db=%s threads=%d max_records=%d queue_size=%d process_delay=%s connect_retries=%d connect_delay=%s metrics=%s",
		c.ArchivePath, c.DBDriver, dsn, c.DBHost, c.DBPort, c.DBUser, pw, c.DBName,
		c.Threads, c.MaxRecords, c.QueueSize, c.ProcessDelay, c.ConnectRetries, c.ConnectDelay, c.MetricsBackend,
	)
}
