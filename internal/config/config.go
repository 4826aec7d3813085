package config

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"time"

	"github.com/Ning0612/Sftpmirror/internal/core/checksum"
	"github.com/Ning0612/Sftpmirror/internal/domain"
	"github.com/Ning0612/Sftpmirror/internal/logger"
)

// Config represents the complete configuration for sftpmirror
type Config struct {
	// Source is the TEST endpoint that is mirrored from
	Source domain.Endpoint `mapstructure:"source"`

	// Target is the PROD endpoint that is mirrored to
	Target domain.Endpoint `mapstructure:"target"`

	Sync SyncConfig `mapstructure:"sync"`

	Scan ScanConfig `mapstructure:"scan"`

	// ConnectTimeout bounds connect plus handshake; remote backups use twice this
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`

	// KnownHosts enables host key verification when set
	KnownHosts string `mapstructure:"known_hosts"`

	// StateDir holds the run history database, lock files and the watch PID file
	StateDir string `mapstructure:"state_dir"`

	// LockStaleTimeout is when a lock taken on another host stops counting
	LockStaleTimeout time.Duration `mapstructure:"lock_stale_timeout"`

	Log LogConfig `mapstructure:"log"`
}

// SyncConfig holds defaults for the sync command
type SyncConfig struct {
	DeleteOnTarget bool              `mapstructure:"delete_on_target"`
	Backup         domain.BackupMode `mapstructure:"backup"`
	BackupDir      string            `mapstructure:"backup_dir"`
}

// ScanConfig configures the tree scanner
type ScanConfig struct {
	Fingerprint string   `mapstructure:"fingerprint"`
	Ignore      []string `mapstructure:"ignore"`
}

// LogConfig configures the global logger
type LogConfig struct {
	Level  string            `mapstructure:"level"`
	Format string            `mapstructure:"format"`
	File   logger.FileConfig `mapstructure:"file"`

	// Redact lists extra regular expressions masked in every log line
	Redact []string `mapstructure:"redact"`
}

// Logger converts the log section into a logger.Config
func (l LogConfig) Logger() logger.Config {
	file := l.File
	if file.Path != "" {
		file.Path = ExpandPath(file.Path)
	}
	return logger.Config{
		Level:  logger.ParseLevel(l.Level),
		Format: logger.ParseFormat(l.Format),
		File:   file,
		Redact: l.Redact,
	}
}

// Algorithm returns the configured fingerprint algorithm
func (c *Config) Algorithm() checksum.Algorithm {
	algo, err := checksum.ParseAlgorithm(c.Scan.Fingerprint)
	if err != nil {
		return checksum.DefaultAlgorithm
	}
	return algo
}

// Validate checks everything except credentials, which may still be
// prompted for. Endpoint.Normalize performs the full check before dialing.
func (c *Config) Validate() error {
	if err := validateEndpoint(domain.SourceLabel, c.Source); err != nil {
		return err
	}
	if err := validateEndpoint(domain.TargetLabel, c.Target); err != nil {
		return err
	}

	if !c.Sync.Backup.IsValid() {
		return fmt.Errorf("%w: sync.backup must be none, remote or local, got %q", domain.ErrConfigInvalid, c.Sync.Backup)
	}
	if c.Sync.Backup == domain.BackupLocal && c.Sync.BackupDir == "" {
		return fmt.Errorf("%w: sync.backup_dir is required for local backups", domain.ErrConfigInvalid)
	}

	if _, err := checksum.ParseAlgorithm(c.Scan.Fingerprint); err != nil {
		return fmt.Errorf("%w: scan.fingerprint: %v", domain.ErrConfigInvalid, err)
	}
	for _, p := range c.Scan.Ignore {
		if _, err := filepath.Match(p, ""); err != nil {
			return fmt.Errorf("%w: scan.ignore pattern %q: %v", domain.ErrConfigInvalid, p, err)
		}
	}

	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("%w: connect_timeout must be positive, got %v", domain.ErrConfigInvalid, c.ConnectTimeout)
	}
	if c.LockStaleTimeout <= 0 {
		return fmt.Errorf("%w: lock_stale_timeout must be positive, got %v", domain.ErrConfigInvalid, c.LockStaleTimeout)
	}

	for _, p := range c.Log.Redact {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("%w: log.redact pattern %q: %v", domain.ErrConfigInvalid, p, err)
		}
	}

	return nil
}

// An endpoint left entirely empty is allowed; commands that need it fail later.
func validateEndpoint(label string, e domain.Endpoint) error {
	if e.Host == "" && e.Username == "" && e.Root == "" {
		return nil
	}
	if e.Host == "" {
		return fmt.Errorf("%w: %s: host is required", domain.ErrConfigInvalid, label)
	}
	if e.Port < 0 || e.Port > 65535 {
		return fmt.Errorf("%w: %s: port %d out of range", domain.ErrConfigInvalid, label, e.Port)
	}
	if e.Username == "" {
		return fmt.Errorf("%w: %s: username is required", domain.ErrConfigInvalid, label)
	}
	if e.Root == "" || !path.IsAbs(domain.CleanRoot(e.Root)) {
		return fmt.Errorf("%w: %s: root %q must be an absolute path", domain.ErrConfigInvalid, label, e.Root)
	}
	return nil
}

// ExpandPath expands ~ and environment variables in a path
func ExpandPath(path string) string {
	if path == "" {
		return ""
	}
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			if len(path) > 1 && (path[1] == '/' || path[1] == filepath.Separator) {
				path = filepath.Join(home, path[2:])
			} else if len(path) == 1 {
				path = home
			}
		}
	}
	path = os.ExpandEnv(path)
	return filepath.Clean(path)
}
