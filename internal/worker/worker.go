package worker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/bondar-aleksandr/cisco_backup/internal/device"
	"go.uber.org/zap"
)

// Status describes how backup of a single device ended
type Status string

const (
	Ok          Status = "Success"
	Timeout     Status = "Timeout"
	AuthFailure Status = "Authentication failure"
	NoHostname  Status = "Hostname not found"
	WriteFailed Status = "Cannot create backup"
	Failed      Status = "Failed"
)

// Result of a single device backup. Hostname and Config are set only when Status is Ok
type Result struct {
	Address   string
	Transport device.Transport
	Hostname  string
	Config    string
	Status    Status
	Err       error
}

// Session is an established CLI session to a device
type Session interface {
	// Enable switches session to privileged mode
	Enable(ctx context.Context, secret string) error
	// Run executes command and returns its output without echo and trailing prompt
	Run(ctx context.Context, cmd string) (string, error)
	Close(ctx context.Context) error
}

// Dialer opens sessions over one transport
type Dialer interface {
	Dial(ctx context.Context, d *device.Device) (Session, error)
}

// Options tunes device interaction
type Options struct {
	Command        string
	CommandTimeout time.Duration
}

// Client takes running configuration backups, one device at a time
type Client struct {
	dialers map[device.Transport]Dialer
	opts    Options
	logger  *zap.SugaredLogger
}

// constructor for Client
func NewClient(ssh, telnet Dialer, opts Options, logger *zap.SugaredLogger) *Client {
	if opts.Command == "" {
		opts.Command = "show running-config"
	}
	return &Client{
		dialers: map[device.Transport]Dialer{
			device.SSH:    ssh,
			device.Telnet: telnet,
		},
		opts:   opts,
		logger: logger,
	}
}

// Backup connects to device, enters privileged mode and gets configuration. It never
// panics on device problems, failure reason is reported with Result.Status
func (c *Client) Backup(ctx context.Context, d *device.Device) Result {
	res := Result{Address: d.IP, Transport: d.Transport()}
	log := c.logger.With("device", d.IP, "transport", res.Transport)

	dialer, ok := c.dialers[res.Transport]
	if !ok || dialer == nil {
		return res.fail(Failed, fmt.Errorf("no dialer for transport %q", res.Transport))
	}

	log.Infof("Connecting to device %s...", d.IP)
	s, err := dialer.Dial(ctx, d)
	if err != nil {
		if strings.Contains(err.Error(), "no common algorithm") {
			log.Warn("Need to lower SSH ciphers for the device, set legacy_key_exchange/legacy_algorithm in config.yml!")
		}
		return res.fail(classify(err), fmt.Errorf("unable to connect to device %s: %w", d.IP, err))
	}
	defer func() {
		if err := s.Close(ctx); err != nil {
			log.Debugf("Closing session failed: %v", err)
		}
	}()
	log.Infof("Connected to device %s successfully", d.IP)

	cmdCtx := ctx
	if c.opts.CommandTimeout > 0 {
		var cancel context.CancelFunc
		cmdCtx, cancel = context.WithTimeout(ctx, c.opts.CommandTimeout)
		defer cancel()
	}

	if err := s.Enable(cmdCtx, d.Secret); err != nil {
		return res.fail(classify(err), fmt.Errorf("unable to enter privileged mode on device %s: %w", d.IP, err))
	}

	out, err := s.Run(cmdCtx, c.opts.Command)
	if err != nil {
		return res.fail(classify(err), fmt.Errorf("unable to run command %q on device %s: %w", c.opts.Command, d.IP, err))
	}

	config, hostname, ok := device.ParseBackup(out)
	if !ok {
		return res.fail(NoHostname, fmt.Errorf("no hostname line in output of %q from device %s", c.opts.Command, d.IP))
	}
	res.Hostname = hostname
	res.Config = config
	res.Status = Ok
	return res
}

func (r Result) fail(s Status, err error) Result {
	r.Status = s
	r.Err = err
	return r
}

// ErrAuth is returned by sessions when device rejects credentials
var ErrAuth = errors.New("unable to authenticate")

func classify(err error) Status {
	var netErr net.Error
	switch {
	case errors.Is(err, ErrAuth):
		return AuthFailure
	case errors.Is(err, context.DeadlineExceeded):
		return Timeout
	case errors.As(err, &netErr) && netErr.Timeout():
		return Timeout
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "unable to authenticate"):
		return AuthFailure
	case strings.Contains(msg, "i/o timeout"), strings.Contains(msg, "timed out"):
		return Timeout
	}
	return Failed
}
