package worker

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/bondar-aleksandr/cisco_backup/internal/device"
	"github.com/bondar-aleksandr/netrasp/pkg/netrasp"
)

// SSHDialer opens SSH sessions with netrasp ios driver
type SSHDialer struct {
	Timeout           time.Duration
	LegacyKeyExchange string
	LegacyAlgorithm   string
}

// Dial connects to the device with credentials from record
func (sd *SSHDialer) Dial(ctx context.Context, d *device.Device) (Session, error) {
	opts := []netrasp.ConfigOpt{
		netrasp.WithUsernamePassword(d.Username, d.Password),
		netrasp.WithDriver("ios"), netrasp.WithInsecureIgnoreHostKey(),
		netrasp.WithDialTimeout(sd.Timeout),
	}
	if sd.LegacyKeyExchange != "" {
		opts = append(opts, netrasp.WithSSHKeyExchange(sd.LegacyKeyExchange))
	}
	if sd.LegacyAlgorithm != "" {
		opts = append(opts, netrasp.WithSSHCipher(sd.LegacyAlgorithm))
	}

	p, err := netrasp.New(d.IP, opts...)
	if err != nil {
		return nil, err
	}
	if err := p.Dial(ctx); err != nil {
		return nil, err
	}
	return &sshSession{p: p}, nil
}

type sshSession struct {
	p netrasp.Platform
}

var (
	enablePasswordRe = regexp.MustCompile(`(?i)password:\s*$`)
	// devices without enable secret answer with privileged prompt right away
	enableReplyRe    = regexp.MustCompile(`(?i)(password:|#)\s*$`)
	privilegeRe      = regexp.MustCompile(`privilege level is (\d+)`)
	deniedRe         = regexp.MustCompile(`(?i)access denied|bad secrets`)
)

// Enable skips elevation when session already at level 15, otherwise answers
// "enable" password prompt with secret
func (s *sshSession) Enable(ctx context.Context, secret string) error {
	out, err := s.p.Run(ctx, "show privilege")
	if err != nil {
		return err
	}
	if m := privilegeRe.FindStringSubmatch(out); m != nil && m[1] == "15" {
		return nil
	}
	out, err = s.p.RunUntil(ctx, "enable", enableReplyRe)
	if err != nil {
		return err
	}
	if !enablePasswordRe.MatchString(lastLine(out)) {
		return nil
	}
	out, err = s.p.Run(ctx, secret)
	if err != nil {
		return err
	}
	if deniedRe.MatchString(out) {
		return fmt.Errorf("%w: enable secret rejected", ErrAuth)
	}
	return nil
}

func (s *sshSession) Run(ctx context.Context, cmd string) (string, error) {
	out, err := s.p.Run(ctx, cmd)
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(out, "\r\n", "\n"), nil
}

func (s *sshSession) Close(ctx context.Context) error {
	return s.p.Close(ctx)
}
