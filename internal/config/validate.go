package config

import (
	"fmt"
	"net/url"
	"strings"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError blocks the run.
	SeverityError IssueSeverity = "error"
	// SeverityWarning is reported but does not block the run.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation finding. Path names the flag it
// concerns.
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface so an Issue can be returned as one.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// Validate performs static checks over cfg. It does not mutate cfg and does
// not touch the network or the filesystem.
func Validate(cfg *Config) []Issue {
	var issues []Issue
	add := func(sev IssueSeverity, path, format string, args ...any) {
		issues = append(issues, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, args...)})
	}

	// A -validate run checks settings only and takes no archive.
	if strings.TrimSpace(cfg.ArchivePath) == "" && !cfg.Validate {
		add(SeverityError, "archive", "archive path must not be empty")
	}

	switch cfg.DBDriver {
	case "postgres", "mssql", "mysql":
		if cfg.DSN == "" {
			if cfg.DBHost == "" {
				add(SeverityError, "db_host", "host is required when dsn is not set")
			}
			if cfg.DBPort <= 0 || cfg.DBPort > 65535 {
				add(SeverityError, "db_port", "port %d out of range", cfg.DBPort)
			}
			if cfg.DBName == "" {
				add(SeverityWarning, "db_name", "database name is empty; the server default will be used")
			}
			if cfg.DBUser == "" {
				add(SeverityWarning, "db_user", "user is empty")
			}
		}
	case "sqlite":
		if cfg.DSN == "" && cfg.DBName == "" {
			add(SeverityError, "db_name", "sqlite needs a database file via db_name or dsn")
		}
	default:
		add(SeverityError, "db_driver", "unsupported driver %q (want postgres, mssql, mysql or sqlite)", cfg.DBDriver)
	}

	if cfg.ConnectRetries < 1 {
		add(SeverityError, "connect_retries", "must be at least 1, got %d", cfg.ConnectRetries)
	}
	if cfg.ConnectDelay < 0 {
		add(SeverityError, "connect_delay", "must not be negative")
	}

	if cfg.Threads < 1 {
		add(SeverityError, "threads", "must be at least 1, got %d", cfg.Threads)
	}
	if cfg.MaxRecords < 0 {
		add(SeverityError, "max_records", "must be 0 (unlimited) or positive, got %d", cfg.MaxRecords)
	}
	if cfg.QueueSize < 1 {
		add(SeverityError, "queue_size", "must be at least 1, got %d", cfg.QueueSize)
	}
	if cfg.ProcessDelay < 0 {
		add(SeverityError, "process_delay", "must not be negative")
	}
	if cfg.PollInterval <= 0 {
		add(SeverityError, "poll_interval", "must be positive")
	}

	switch cfg.MetricsBackend {
	case "", "none":
	case "pushgateway":
		if cfg.PushgatewayURL == "" {
			add(SeverityError, "pushgateway_url", "required when metrics_backend=pushgateway")
		} else if u, err := url.Parse(cfg.PushgatewayURL); err != nil || u.Scheme == "" || u.Host == "" {
			add(SeverityError, "pushgateway_url", "not an absolute URL: %q", cfg.PushgatewayURL)
		}
	case "datadog":
		if cfg.DogStatsDAddr == "" {
			add(SeverityError, "dogstatsd_addr", "required when metrics_backend=datadog")
		}
	default:
		add(SeverityError, "metrics_backend", "unsupported backend %q (want none, pushgateway or datadog)", cfg.MetricsBackend)
	}
	if cfg.MetricsBackend != "" && cfg.MetricsBackend != "none" && strings.TrimSpace(cfg.JobName) == "" {
		add(SeverityWarning, "job", "job name is empty; the default will be used")
	}

	return issues
}

// HasErrors reports whether any issue has SeverityError.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}
