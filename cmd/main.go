// Cisco-backup saves running configuration of Cisco devices listed in a CSV file.
//
// Devices are reached over SSH or Telnet one at a time, every configuration is
// stored in a directory named by today's date next to the executable. With
// --remote the directory is then copied to an SMB share and removed locally.
//
// Usage:
//
//	cisco-backup --csv NetworkDevices.csv (--remote | --local) [--config ./config/config.yml]
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/bondar-aleksandr/cisco_backup/internal/app"
	"github.com/bondar-aleksandr/cisco_backup/internal/device"
	"github.com/bondar-aleksandr/cisco_backup/internal/logger"
	"github.com/bondar-aleksandr/cisco_backup/internal/mirror"
	"github.com/bondar-aleksandr/cisco_backup/internal/storage"
	"github.com/joho/godotenv"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

const (
	exitFatal        = 1
	exitUsage        = 2
	exitRemoteConfig = 3
)

type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

type options struct {
	csvPath    string
	remote     bool
	local      bool
	configPath string
}

const long = `This program is designed to back up Cisco devices.

The program accepts a CSV file and a switch for remote or local backup.
The CSV should be in the format below:

` + device.UsageFormat + `

Use --remote for remote copy, --local for local backup only.`

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "cisco-backup",
		Short:         "Backup Cisco devices and optionally copy to a remote server",
		Long:          long,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, opts)
		},
	}
	cmd.CompletionOptions.DisableDefaultCmd = true

	f := cmd.Flags()
	f.StringVarP(&opts.csvPath, "csv", "c", "", "CSV file with device information")
	f.BoolVarP(&opts.remote, "remote", "r", false, "Copy backup to a remote server")
	f.BoolVarP(&opts.local, "local", "l", false, "Only perform a local backup")
	f.StringVar(&opts.configPath, "config", "./config/config.yml", "App config file")

	_ = cmd.MarkFlagRequired("csv")
	cmd.MarkFlagsMutuallyExclusive("remote", "local")
	cmd.MarkFlagsOneRequired("remote", "local")
	return cmd
}

func main() {
	rootCmd := newRootCmd()
	err := rootCmd.Execute()
	if err == nil {
		return
	}
	var ee *exitError
	if errors.As(err, &ee) {
		fmt.Fprintln(os.Stderr, ee.msg)
		os.Exit(ee.code)
	}
	// flag problems, no backup attempted
	fmt.Fprintf(os.Stderr, "Error: %v\n\n%s\n\n%s", err, long, rootCmd.UsageString())
	os.Exit(exitUsage)
}

func run(cmd *cobra.Command, opts *options) error {
	start := time.Now()

	cfg, cfgErr := app.ReadConfig(opts.configPath)
	if cfg == nil {
		return &exitError{code: exitFatal, msg: cfgErr.Error()}
	}
	l, err := logger.New(cfg.Logger, start)
	if err != nil {
		return &exitError{code: exitFatal, msg: err.Error()}
	}
	defer l.Sync()
	if cfgErr != nil {
		l.Warnf("%s, using defaults", cfgErr)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		l.Warnf("Cannot read .env file because of: %s", err)
	}

	exe, err := os.Executable()
	if err != nil {
		return &exitError{code: exitFatal, msg: fmt.Sprintf("cannot locate executable: %s", err)}
	}

	//graceful shutdown setup
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		s := <-quit
		l.Errorf("Caught signal: %q, stopping after current device...", s.String())
		cancel()
	}()

	a := &app.App{
		Logger:     l,
		Config:     cfg,
		Client:     cfg.NewClient(l),
		Storage:    storage.NewWriter(filepath.Dir(exe)),
		Fs:         afero.NewOsFs(),
		SummaryFs:  afero.NewOsFs(),
		Mounter:    cfg.NewMounter(),
		SummaryDir: cfg.Logger.Dir,
		Out:        cmd.OutOrStdout(),
	}

	report, err := a.Run(ctx, app.Options{CSVPath: opts.csvPath, Remote: opts.remote})
	if err != nil {
		return exitFor(err)
	}

	l.Infof("Finished! %d of %d devices backed up, time taken: %s",
		len(report.Results)-report.Failed(), len(report.Results), time.Since(start))
	return nil
}

// exitFor maps pre-flight errors of a run to process exit code and message
func exitFor(err error) *exitError {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, app.ErrRemoteSettings):
		return &exitError{code: exitRemoteConfig, msg: fmt.Sprintf("Error: %s\n\n%s", err, mirror.Guidance)}
	case errors.Is(err, device.ErrInvalidHeader):
		return &exitError{code: exitFatal, msg: fmt.Sprintf("\nInvalid header in CSV file. Please modify to the format below:\n%s\n", device.UsageFormat)}
	}
	return &exitError{code: exitFatal, msg: fmt.Sprintf("Invalid entry. Please ensure all inputs are correct: %s", err)}
}
