package worker

import (
	"context"
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/bondar-aleksandr/cisco_backup/internal/device"
	"github.com/ziutek/telnet"
)

// TelnetDialer opens telnet sessions and logs in using classic IOS prompts
type TelnetDialer struct {
	Port    int
	Timeout time.Duration
}

var (
	loginPrompts = []string{"sername:", "ogin:", "assword:"}
	// order matters: indexes below 2 mean the device accepted login
	afterLogin = []string{">", "#", "sername:", "ogin:", "assword:", "failed", "invalid"}
	// banners may carry > or #, prompt is the whole last line
	promptRe = regexp.MustCompile(`^[A-Za-z0-9_.-]+[>#]$`)
)

func (td *TelnetDialer) Dial(ctx context.Context, d *device.Device) (Session, error) {
	port := td.Port
	if port == 0 {
		port = 23
	}
	timeout := td.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	conn, err := telnet.DialTimeout("tcp", net.JoinHostPort(d.IP, fmt.Sprint(port)), timeout)
	if err != nil {
		return nil, err
	}
	conn.SetUnixWriteMode(true)

	s := &telnetSession{conn: conn, timeout: timeout}
	if err := s.login(ctx, d.Username, d.Password); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

type telnetSession struct {
	conn    *telnet.Conn
	timeout time.Duration
	// prompt without trailing > or #
	base       string
	privileged bool
}

func (s *telnetSession) deadline(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d := time.Now().Add(s.timeout)
	if cd, ok := ctx.Deadline(); ok && cd.Before(d) {
		d = cd
	}
	return s.conn.SetDeadline(d)
}

func (s *telnetSession) send(line string) error {
	_, err := s.conn.Write([]byte(line + "\n"))
	return err
}

func (s *telnetSession) expect(ctx context.Context, delims ...string) ([]byte, int, error) {
	if err := s.deadline(ctx); err != nil {
		return nil, -1, err
	}
	return s.conn.ReadUntilIndex(delims...)
}

func (s *telnetSession) login(ctx context.Context, user, password string) error {
	_, idx, err := s.expect(ctx, loginPrompts...)
	if err != nil {
		return err
	}
	// some devices only ask for line password
	if idx != 2 {
		if err := s.send(user); err != nil {
			return err
		}
		if _, _, err := s.expect(ctx, "assword:"); err != nil {
			return err
		}
	}
	if err := s.send(password); err != nil {
		return err
	}

	if err := s.readPrompt(ctx); err != nil {
		return err
	}

	if err := s.send("terminal length 0"); err != nil {
		return err
	}
	_, _, err = s.expect(ctx, s.prompt())
	return err
}

// readPrompt reads past login banner up to the first prompt-shaped line
func (s *telnetSession) readPrompt(ctx context.Context) error {
	var seen strings.Builder
	for {
		data, idx, err := s.expect(ctx, afterLogin...)
		if err != nil {
			return err
		}
		if idx > 1 {
			return fmt.Errorf("%w: login rejected by device", ErrAuth)
		}
		seen.Write(data)
		line := lastLine(seen.String())
		if promptRe.MatchString(line) {
			s.base = line[:len(line)-1]
			s.privileged = line[len(line)-1] == '#'
			return nil
		}
	}
}

func (s *telnetSession) prompt() string {
	if s.privileged {
		return s.base + "#"
	}
	return s.base + ">"
}

func (s *telnetSession) Enable(ctx context.Context, secret string) error {
	if s.privileged {
		return nil
	}
	if err := s.send("enable"); err != nil {
		return err
	}
	_, idx, err := s.expect(ctx, "assword:", s.base+"#")
	if err != nil {
		return err
	}
	if idx == 0 {
		if err := s.send(secret); err != nil {
			return err
		}
		_, idx, err = s.expect(ctx, s.base+"#", "assword:", s.base+">")
		if err != nil {
			return err
		}
		if idx != 0 {
			return fmt.Errorf("%w: enable secret rejected", ErrAuth)
		}
	}
	s.privileged = true
	return nil
}

// Run sends cmd and reads output up to the next prompt. Command echo and prompt
// are removed, line endings normalized to \n
func (s *telnetSession) Run(ctx context.Context, cmd string) (string, error) {
	if err := s.send(cmd); err != nil {
		return "", err
	}
	prompt := "\n" + s.prompt()
	data, _, err := s.expect(ctx, prompt)
	if err != nil {
		return "", err
	}
	out := strings.ReplaceAll(strings.TrimSuffix(string(data), prompt), "\r\n", "\n")
	out = strings.TrimSuffix(out, "\r")
	// drop echoed command
	if _, rest, ok := strings.Cut(out, "\n"); ok {
		return rest, nil
	}
	return "", nil
}

func (s *telnetSession) Close(_ context.Context) error {
	_ = s.send("exit")
	return s.conn.Close()
}

func lastLine(s string) string {
	s = strings.TrimRight(s, "\r\n")
	if i := strings.LastIndexAny(s, "\r\n"); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(s)
}
