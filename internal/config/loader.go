package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/Ning0612/Sftpmirror/internal/domain"
	"github.com/Ning0612/Sftpmirror/internal/lock"
)

// EnvPrefix prefixes environment overrides, e.g. SFTPMIRROR_SOURCE_PASSWORD
const EnvPrefix = "SFTPMIRROR"

// FileName is the config file base name searched in DefaultConfigPaths
const FileName = "sftpmirror"

// endpointKeys are bound for both source and target so env-only values unmarshal
var endpointKeys = []string{"name", "host", "port", "username", "password", "private_key", "root"}

// DefaultConfigPaths returns the default paths to search for config files
func DefaultConfigPaths() []string {
	paths := []string{
		".",
		"./configs",
	}

	if configDir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(configDir, "sftpmirror"))
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(homeDir, ".config", "sftpmirror"))
	}

	return paths
}

// DefaultStateDir is <user config dir>/sftpmirror
func DefaultStateDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "sftpmirror")
	}
	return ".sftpmirror"
}

func newViper() *viper.Viper {
	v := viper.New()

	v.SetDefault("source.name", domain.SourceLabel)
	v.SetDefault("source.port", domain.DefaultSSHPort)
	v.SetDefault("target.name", domain.TargetLabel)
	v.SetDefault("target.port", domain.DefaultSSHPort)
	v.SetDefault("sync.delete_on_target", false)
	v.SetDefault("sync.backup", string(domain.BackupNone))
	v.SetDefault("sync.backup_dir", "")
	v.SetDefault("scan.fingerprint", "md5")
	v.SetDefault("scan.ignore", []string{})
	v.SetDefault("connect_timeout", "10s")
	v.SetDefault("known_hosts", "")
	v.SetDefault("state_dir", DefaultStateDir())
	v.SetDefault("lock_stale_timeout", lock.DefaultStaleTimeout.String())
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file.enabled", false)
	v.SetDefault("log.file.path", "")
	v.SetDefault("log.file.max_size_mb", 10)
	v.SetDefault("log.file.max_age_days", 30)
	v.SetDefault("log.file.max_backups", 5)
	v.SetDefault("log.file.compress", true)
	v.SetDefault("log.redact", []string{})

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, side := range []string{"source", "target"} {
		for _, k := range endpointKeys {
			_ = v.BindEnv(side + "." + k)
		}
	}

	return v
}

// Load reads and parses a configuration file.
// If path is empty, searches default locations for sftpmirror.yaml; a
// missing file is not an error then, flags and environment may suffice.
func Load(path string) (*Config, error) {
	v := newViper()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		for _, p := range DefaultConfigPaths() {
			v.AddConfigPath(p)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case errors.As(err, &notFound) && path == "":
			// defaults and environment only
		case errors.As(err, &notFound), errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("%w: %s", domain.ErrConfigNotFound, path)
		default:
			return nil, fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
		}
	}

	return decode(v)
}

// LoadFromString parses configuration from a YAML string
func LoadFromString(yamlContent string) (*Config, error) {
	v := newViper()
	v.SetConfigType("yaml")

	if err := v.ReadConfig(strings.NewReader(yamlContent)); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
	}

	cfg.Sync.Backup = domain.BackupMode(strings.ToLower(string(cfg.Sync.Backup)))
	if cfg.Sync.BackupDir != "" {
		cfg.Sync.BackupDir = ExpandPath(cfg.Sync.BackupDir)
	}
	if cfg.KnownHosts != "" {
		cfg.KnownHosts = ExpandPath(cfg.KnownHosts)
	}
	cfg.StateDir = ExpandPath(cfg.StateDir)
	for _, ep := range []*domain.Endpoint{&cfg.Source, &cfg.Target} {
		if ep.PrivateKeyPath != "" {
			ep.PrivateKeyPath = ExpandPath(ep.PrivateKeyPath)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
