package app

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/bondar-aleksandr/cisco_backup/internal/device"
	"github.com/bondar-aleksandr/cisco_backup/internal/mirror"
	"github.com/bondar-aleksandr/cisco_backup/internal/storage"
	"github.com/bondar-aleksandr/cisco_backup/internal/worker"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var day = time.Date(2024, time.January, 31, 9, 30, 0, 0, time.Local)

const runDir = "2024-01-31"

// simulated devices: address -> transcript, or dial error
type lab struct {
	transcripts map[string]string
	errs        map[string]error
	dialed      []string
}

type labSession struct{ out string }

func (s *labSession) Enable(context.Context, string) error { return nil }
func (s *labSession) Run(context.Context, string) (string, error) {
	return s.out, nil
}
func (s *labSession) Close(context.Context) error { return nil }

func (l *lab) Dial(_ context.Context, d *device.Device) (worker.Session, error) {
	l.dialed = append(l.dialed, d.IP)
	if err := l.errs[d.IP]; err != nil {
		return nil, err
	}
	return &labSession{out: l.transcripts[d.IP]}, nil
}

func transcript(hostname string) string {
	return "Building configuration...\n\nCurrent configuration : 99 bytes\n!\nhostname " + hostname + "\n!\nend"
}

type memHandle struct {
	fs        afero.Fs
	copyErr   error
	unmounted bool
}

func (h *memHandle) Share(string) (mirror.Share, error) {
	if h.copyErr != nil {
		return nil, h.copyErr
	}
	return shareFs{h.fs}, nil
}

func (h *memHandle) Unmount() error {
	h.unmounted = true
	return nil
}

type shareFs struct{ fs afero.Fs }

func (s shareFs) MkdirAll(path string, perm os.FileMode) error { return s.fs.MkdirAll(path, perm) }
func (s shareFs) WriteFile(name string, data []byte, perm os.FileMode) error {
	return afero.WriteFile(s.fs, name, data, perm)
}

type memMounter struct {
	handle *memHandle
	mounts int
}

func (m *memMounter) Mount(context.Context, string, string, string) (mirror.Handle, error) {
	m.mounts++
	return m.handle, nil
}

type fixture struct {
	app     *App
	lab     *lab
	mounter *memMounter
	logs    *observer.ObservedLogs
	out     *bytes.Buffer
}

var remoteEnv = map[string]string{
	mirror.EnvHost:     "fs01",
	mirror.EnvPath:     "Backups",
	mirror.EnvUser:     "svc",
	mirror.EnvPassword: "pw",
}

func newFixture(t *testing.T, csv string, env map[string]string) *fixture {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	l := zap.New(core).Sugar()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "devices.csv", []byte(csv), 0o644))

	lb := &lab{transcripts: map[string]string{}, errs: map[string]error{}}
	m := &memMounter{handle: &memHandle{fs: afero.NewMemMapFs()}}
	out := &bytes.Buffer{}
	a := &App{
		Logger:     l,
		Config:     DefaultConfig(),
		Client:     worker.NewClient(lb, lb, worker.Options{}, l),
		Storage:    &storage.Writer{Fs: afero.NewMemMapFs()},
		Fs:         fs,
		SummaryFs:  afero.NewMemMapFs(),
		Mounter:    m,
		SummaryDir: "logs",
		Out:        out,
		Now:        func() time.Time { return day },
		Lookup: func(k string) (string, bool) {
			v, ok := env[k]
			return v, ok
		},
	}
	return &fixture{app: a, lab: lb, mounter: m, logs: logs, out: out}
}

const threeDevices = "ip,username,password,secret,ssh\n" +
	"10.0.0.1,admin,pw,en,TRUE\n" +
	"10.0.0.2,admin,pw,en,FALSE\n" +
	"10.0.0.3,admin,pw,en,TRUE\n"

func (f *fixture) backup(t *testing.T, name string) (string, bool) {
	t.Helper()
	data, err := afero.ReadFile(f.app.Storage.Fs, runDir+"/"+name)
	if err != nil {
		return "", false
	}
	return string(data), true
}

func TestRun_WritesFileNamedByHostname(t *testing.T) {
	f := newFixture(t, threeDevices, nil)
	f.lab.transcripts["10.0.0.1"] = transcript("FOO")
	f.lab.transcripts["10.0.0.2"] = transcript("BAR")
	f.lab.transcripts["10.0.0.3"] = transcript("BAZ")

	report, err := f.app.Run(context.Background(), Options{CSVPath: "devices.csv"})
	require.NoError(t, err)

	assert.Equal(t, runDir, report.RunDir)
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"}, f.lab.dialed)
	assert.Zero(t, report.Failed())
	for _, name := range []string{"FOO", "BAR", "BAZ"} {
		got, ok := f.backup(t, name)
		require.True(t, ok, name)
		want := strings.Join(strings.Split(transcript(name), "\n")[3:], "\n")
		assert.Equal(t, want, got)
	}
	assert.Len(t, f.logs.FilterMessage("FOO backup is complete!").All(), 1)
}

func TestRun_NoHostnameWritesNothing(t *testing.T) {
	f := newFixture(t, threeDevices, nil)
	f.lab.transcripts["10.0.0.1"] = "a\nb\nc\n!\nend"
	f.lab.transcripts["10.0.0.2"] = transcript("R2")
	f.lab.transcripts["10.0.0.3"] = transcript("R3")

	report, err := f.app.Run(context.Background(), Options{CSVPath: "devices.csv"})
	require.NoError(t, err)

	require.Len(t, report.Results, 3)
	assert.Equal(t, worker.NoHostname, report.Results[0].Status)
	files, err := afero.ReadDir(f.app.Storage.Fs, runDir)
	require.NoError(t, err)
	var names []string
	for _, fi := range files {
		names = append(names, fi.Name())
	}
	assert.ElementsMatch(t, []string{"R2", "R3"}, names)

	failures := f.logs.FilterLevelExact(zapcore.ErrorLevel).FilterField(zap.String("device", "10.0.0.1")).All()
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0].Message, "Backup failed for device with IP: 10.0.0.1")
}

func TestRun_DeviceFailureDoesNotAbort(t *testing.T) {
	f := newFixture(t, threeDevices, nil)
	f.lab.errs["10.0.0.1"] = errors.New("ssh: handshake failed: ssh: unable to authenticate")
	f.lab.errs["10.0.0.2"] = context.DeadlineExceeded
	f.lab.transcripts["10.0.0.3"] = transcript("R3")

	report, err := f.app.Run(context.Background(), Options{CSVPath: "devices.csv"})
	require.NoError(t, err)

	require.Len(t, report.Results, 3)
	assert.Equal(t, worker.AuthFailure, report.Results[0].Status)
	assert.Equal(t, worker.Timeout, report.Results[1].Status)
	assert.Equal(t, worker.Ok, report.Results[2].Status)
	assert.Equal(t, 2, report.Failed())
	_, ok := f.backup(t, "R3")
	assert.True(t, ok)

	errs := f.logs.FilterLevelExact(zapcore.ErrorLevel).All()
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0].Message, "10.0.0.1")
	assert.Contains(t, errs[0].Message, "unable to authenticate")
}

func TestRun_WriteFailureIsPerDevice(t *testing.T) {
	f := newFixture(t, threeDevices, nil)
	f.lab.transcripts["10.0.0.1"] = transcript("../escape")
	f.lab.transcripts["10.0.0.2"] = transcript("R2")
	f.lab.transcripts["10.0.0.3"] = transcript("R3")

	report, err := f.app.Run(context.Background(), Options{CSVPath: "devices.csv"})
	require.NoError(t, err)

	assert.Equal(t, worker.WriteFailed, report.Results[0].Status)
	assert.ErrorIs(t, report.Results[0].Err, storage.ErrBadName)
	assert.Equal(t, 1, report.Failed())
}

func TestRun_SameDayRunDiscardsPreviousOutputs(t *testing.T) {
	f := newFixture(t, threeDevices, nil)
	f.lab.transcripts["10.0.0.1"] = transcript("FIRST")
	_, err := f.app.Run(context.Background(), Options{CSVPath: "devices.csv"})
	require.NoError(t, err)
	_, ok := f.backup(t, "FIRST")
	require.True(t, ok)

	f.lab.transcripts["10.0.0.1"] = transcript("SECOND")
	_, err = f.app.Run(context.Background(), Options{CSVPath: "devices.csv"})
	require.NoError(t, err)

	_, ok = f.backup(t, "FIRST")
	assert.False(t, ok)
	_, ok = f.backup(t, "SECOND")
	assert.True(t, ok)
}

func TestRun_BadHeaderContactsNoDevice(t *testing.T) {
	f := newFixture(t, "ip,username,password,ssh\n10.0.0.1,admin,pw,TRUE\n", nil)

	report, err := f.app.Run(context.Background(), Options{CSVPath: "devices.csv"})
	require.ErrorIs(t, err, ErrDevices)
	require.ErrorIs(t, err, device.ErrInvalidHeader)
	assert.Nil(t, report)
	assert.Empty(t, f.lab.dialed)
}

func TestRun_RemoteWithoutSettingsContactsNoDevice(t *testing.T) {
	f := newFixture(t, threeDevices, map[string]string{mirror.EnvHost: "fs01"})

	report, err := f.app.Run(context.Background(), Options{CSVPath: "devices.csv", Remote: true})
	require.ErrorIs(t, err, ErrRemoteSettings)
	require.ErrorIs(t, err, mirror.ErrMissingSetting)
	assert.Nil(t, report)
	assert.Empty(t, f.lab.dialed)
	assert.Zero(t, f.mounter.mounts)
	assert.False(t, f.app.Storage.Exists(runDir))
}

func TestRun_RemoteSuccessRemovesLocalDir(t *testing.T) {
	f := newFixture(t, threeDevices, remoteEnv)
	f.lab.transcripts["10.0.0.1"] = transcript("R1")

	report, err := f.app.Run(context.Background(), Options{CSVPath: "devices.csv", Remote: true})
	require.NoError(t, err)

	assert.True(t, report.Mirrored)
	assert.True(t, report.LocalRemoved)
	assert.False(t, f.app.Storage.Exists(runDir))
	assert.True(t, f.mounter.handle.unmounted)
	data, err := afero.ReadFile(f.mounter.handle.fs, runDir+"/R1")
	require.NoError(t, err)
	assert.Contains(t, string(data), "hostname R1")
}

// Deleting the only local copy after a failed remote copy is the default policy.
func TestRun_RemoteFailureStillRemovesLocalDir(t *testing.T) {
	f := newFixture(t, threeDevices, remoteEnv)
	f.lab.transcripts["10.0.0.1"] = transcript("R1")
	f.mounter.handle.copyErr = errors.New("access denied")

	report, err := f.app.Run(context.Background(), Options{CSVPath: "devices.csv", Remote: true})
	require.NoError(t, err)

	assert.False(t, report.Mirrored)
	require.Error(t, report.MirrorErr)
	assert.True(t, report.LocalRemoved)
	assert.False(t, f.app.Storage.Exists(runDir))
	assert.True(t, f.mounter.handle.unmounted)
	assert.Len(t, f.logs.FilterMessageSnippet("removing the only copy").All(), 1)
}

func TestRun_RemoteFailureKeepsLocalDirWhenConfigured(t *testing.T) {
	f := newFixture(t, threeDevices, remoteEnv)
	f.app.Config.Remote.KeepLocalOnFailure = true
	f.lab.transcripts["10.0.0.1"] = transcript("R1")
	f.mounter.handle.copyErr = errors.New("access denied")

	report, err := f.app.Run(context.Background(), Options{CSVPath: "devices.csv", Remote: true})
	require.NoError(t, err)

	assert.False(t, report.LocalRemoved)
	assert.True(t, f.app.Storage.Exists(runDir))
	_, ok := f.backup(t, "R1")
	assert.True(t, ok)
}

func TestRun_CanceledContextStopsLoop(t *testing.T) {
	f := newFixture(t, threeDevices, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := f.app.Run(ctx, Options{CSVPath: "devices.csv"})
	require.NoError(t, err)
	assert.Empty(t, report.Results)
	assert.Empty(t, f.lab.dialed)
}

func TestRun_WritesSummary(t *testing.T) {
	f := newFixture(t, threeDevices, nil)
	f.lab.transcripts["10.0.0.1"] = transcript("R1")

	_, err := f.app.Run(context.Background(), Options{CSVPath: "devices.csv"})
	require.NoError(t, err)

	assert.Contains(t, f.out.String(), "10.0.0.1")
	assert.Contains(t, f.out.String(), "R1")
	data, err := afero.ReadFile(f.app.SummaryFs, "logs/summary-2024-01-31.txt")
	require.NoError(t, err)
	summary := strings.ToUpper(string(data))
	assert.Contains(t, summary, "HOSTNAME")
	assert.Contains(t, summary, "2 FAILED")

	exists, err := afero.Exists(f.app.Fs, "logs/summary-2024-01-31.txt")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRun_SummaryFallsBackToDevicesFs(t *testing.T) {
	f := newFixture(t, threeDevices, nil)
	f.app.SummaryFs = nil

	_, err := f.app.Run(context.Background(), Options{CSVPath: "devices.csv"})
	require.NoError(t, err)

	exists, err := afero.Exists(f.app.Fs, "logs/summary-2024-01-31.txt")
	require.NoError(t, err)
	assert.True(t, exists)
}
