package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/bondar-aleksandr/cisco_backup/internal/device"
	"github.com/bondar-aleksandr/cisco_backup/internal/logger"
	"github.com/bondar-aleksandr/cisco_backup/internal/mirror"
	"github.com/bondar-aleksandr/cisco_backup/internal/storage"
	"github.com/bondar-aleksandr/cisco_backup/internal/worker"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Backuper takes backup of a single device
type Backuper interface {
	Backup(ctx context.Context, d *device.Device) worker.Result
}

type App struct {
	Logger  *zap.SugaredLogger
	Config  *Config
	Client  Backuper
	Storage *storage.Writer
	// Fs is where devices file is read from
	Fs      afero.Fs
	Mounter mirror.Mounter
	// Lookup resolves remote share settings, os.LookupEnv by default
	Lookup func(string) (string, bool)
	// SummaryFs holds SummaryDir, Fs is used when nil
	SummaryFs afero.Fs
	// SummaryDir receives summary-<date>.txt files, skipped when empty
	SummaryDir string
	// Out receives rendered summary table, skipped when nil
	Out io.Writer
	Now func() time.Time
}

// type for app-level config
type Config struct {
	Client struct {
		SSHTimeout        int64  `yaml:"ssh_timeout"`
		CommandTimeout    int64  `yaml:"command_timeout"`
		Command           string `yaml:"command"`
		TelnetPort        int    `yaml:"telnet_port"`
		LegacyKeyExchange string `yaml:"legacy_key_exchange"`
		LegacyAlgorithm   string `yaml:"legacy_algorithm"`
	} `yaml:"client"`
	Logger logger.Config `yaml:"logger"`
	Remote struct {
		KeepLocalOnFailure bool  `yaml:"keep_local_on_failure"`
		Port               int   `yaml:"port"`
		DialTimeout        int64 `yaml:"dial_timeout"`
	} `yaml:"remote"`
}

// DefaultConfig is used for every value config file doesn't set
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Client.SSHTimeout = 10
	cfg.Client.CommandTimeout = 60
	cfg.Client.Command = "show running-config"
	cfg.Client.TelnetPort = 23
	cfg.Logger.Encoding = "console"
	cfg.Logger.Dir = "logs"
	cfg.Logger.Console = true
	cfg.Remote.Port = 445
	cfg.Remote.DialTimeout = 10
	return cfg
}

var ErrNoConfig = errors.New("config file not found")

// ReadConfig Unmarshals config file content over defaults. When file is absent
// defaults are returned together with ErrNoConfig
func ReadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("%w: %s", ErrNoConfig, path)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot read app config file because of: %w", err)
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("cannot parse app config file because of: %w", err)
	}
	return cfg, nil
}

func seconds(n int64) time.Duration {
	return time.Duration(n) * time.Second
}

// NewClient builds device client with netrasp for ssh and telnet dialer, as configured
func (c *Config) NewClient(l *zap.SugaredLogger) *worker.Client {
	ssh := &worker.SSHDialer{
		Timeout:           seconds(c.Client.SSHTimeout),
		LegacyKeyExchange: c.Client.LegacyKeyExchange,
		LegacyAlgorithm:   c.Client.LegacyAlgorithm,
	}
	telnet := &worker.TelnetDialer{
		Port:    c.Client.TelnetPort,
		Timeout: seconds(c.Client.SSHTimeout),
	}
	return worker.NewClient(ssh, telnet, worker.Options{
		Command:        c.Client.Command,
		CommandTimeout: seconds(c.Client.CommandTimeout),
	}, l)
}

// NewMounter builds SMB mounter as configured
func (c *Config) NewMounter() *mirror.SMBMounter {
	return &mirror.SMBMounter{
		Port:        c.Remote.Port,
		DialTimeout: seconds(c.Remote.DialTimeout),
	}
}
