package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/bondar-aleksandr/cisco_backup/internal/device"
	"github.com/bondar-aleksandr/cisco_backup/internal/mirror"
	"github.com/bondar-aleksandr/cisco_backup/internal/storage"
	"github.com/bondar-aleksandr/cisco_backup/internal/worker"
)

var (
	ErrRemoteSettings = errors.New("remote backup settings are incomplete")
	ErrDevices        = errors.New("cannot load devices")
)

// Options of a single run
type Options struct {
	CSVPath string
	Remote  bool
}

// Report summarizes what a run did
type Report struct {
	RunDir    string
	Results   []worker.Result
	Mirrored  bool
	MirrorErr error
	// LocalRemoved is set when run directory was deleted after remote copy attempt
	LocalRemoved bool
	Elapsed      time.Duration
}

// Failed returns number of devices without backup
func (r *Report) Failed() int {
	n := 0
	for _, res := range r.Results {
		if res.Status != worker.Ok {
			n++
		}
	}
	return n
}

func (a *App) now() time.Time {
	if a.Now == nil {
		return time.Now()
	}
	return a.Now()
}

func (a *App) lookup() func(string) (string, bool) {
	if a.Lookup == nil {
		return os.LookupEnv
	}
	return a.Lookup
}

// Run backs up every device from devices file one by one into dated run directory,
// then optionally mirrors that directory to remote share. A failure of single
// device never stops the run; returned errors are pre-flight ones only
func (a *App) Run(ctx context.Context, opts Options) (*Report, error) {
	start := a.now()

	var settings mirror.Settings
	if opts.Remote {
		s, err := mirror.LoadSettings(a.lookup())
		if err != nil {
			a.Logger.Errorf("Remote backup requested, but %s", err)
			return nil, fmt.Errorf("%w: %w", ErrRemoteSettings, err)
		}
		settings = s
	}

	a.Logger.Info("Decoding devices data...")
	devices, err := device.Load(a.Fs, opts.CSVPath)
	if err != nil {
		a.Logger.Errorf("Cannot load devices because of: %s", err)
		return nil, fmt.Errorf("%w: %w", ErrDevices, err)
	}
	a.Logger.Infof("Decoding devices data done, %d devices found", len(devices))

	report := &Report{RunDir: storage.RunDirName(start)}
	if err := a.Storage.PrepareRunDir(report.RunDir); err != nil {
		a.Logger.Error(err)
		return nil, err
	}

	for i, d := range devices {
		if ctx.Err() != nil {
			a.Logger.Warnf("Run canceled, %d devices skipped", len(devices)-i)
			break
		}
		res := a.Client.Backup(ctx, d)
		if res.Status == worker.Ok {
			if err := a.Storage.Write(report.RunDir, res.Hostname, res.Config); err != nil {
				res.Status = worker.WriteFailed
				res.Err = err
			}
		}
		a.logResult(res)
		report.Results = append(report.Results, res)
	}

	if opts.Remote {
		a.mirror(ctx, settings, report)
	}

	report.Elapsed = a.now().Sub(start)
	a.Logger.Infof("Elapsed time: %s", report.Elapsed)
	a.writeSummary(report)
	return report, nil
}

func (a *App) logResult(res worker.Result) {
	l := a.Logger.With("device", res.Address, "status", res.Status)
	switch res.Status {
	case worker.Ok:
		l.Infof("%s backup is complete!", res.Hostname)
	case worker.Timeout, worker.AuthFailure:
		l.Errorf("%s: %s", res.Address, res.Err)
	default:
		l.Errorf("Backup failed for device with IP: %s because of: %s", res.Address, res.Err)
	}
}

// mirror copies run directory and applies local retention policy afterwards
func (a *App) mirror(ctx context.Context, s mirror.Settings, report *Report) {
	err := mirror.Mirror(ctx, a.Mounter, s, a.Storage.Fs, report.RunDir, a.Logger)
	report.MirrorErr = err
	if err != nil {
		a.Logger.Errorf("Cannot copy backup to network share because of: %s", err)
	} else {
		report.Mirrored = true
		a.Logger.Info("Copy completed")
	}

	if err != nil && a.Config.Remote.KeepLocalOnFailure {
		a.Logger.Warnf("Keeping local backup directory %q since remote copy failed", report.RunDir)
		return
	}
	if err != nil {
		a.Logger.Warnf("Remote copy failed, removing the only copy of backups in %q", report.RunDir)
	}
	if err := a.Storage.RemoveRunDir(report.RunDir); err != nil {
		a.Logger.Error(err)
		return
	}
	report.LocalRemoved = true
	a.Logger.Info("Remove folder completed")
}
