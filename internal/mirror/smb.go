package mirror

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/hirochachacha/go-smb2"
)

// SMBMounter connects to SMB file servers with NTLM credentials
type SMBMounter struct {
	Port        int
	DialTimeout time.Duration
}

// Mount dials host and authenticates, shares are mounted on demand via Handle.Share
func (m *SMBMounter) Mount(ctx context.Context, host, user, password string) (Handle, error) {
	port := m.Port
	if port == 0 {
		port = 445
	}
	dialer := net.Dialer{Timeout: m.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}

	d := &smb2.Dialer{
		Initiator: &smb2.NTLMInitiator{
			User:     user,
			Password: password,
		},
	}
	session, err := d.DialContext(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &smbHandle{
		host:    host,
		conn:    conn,
		session: session,
		shares:  make(map[string]*smb2.Share),
	}, nil
}

type smbHandle struct {
	host    string
	conn    net.Conn
	session *smb2.Session

	mu     sync.Mutex
	shares map[string]*smb2.Share
}

func (h *smbHandle) Share(name string) (Share, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.shares[name]; ok {
		return s, nil
	}
	s, err := h.session.Mount(fmt.Sprintf(`\\%s\%s`, h.host, name))
	if err != nil {
		return nil, err
	}
	h.shares[name] = s
	return s, nil
}

// Unmount releases every mounted share, logs session off and closes connection
func (h *smbHandle) Unmount() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	var errs []error
	for name, s := range h.shares {
		if err := s.Umount(); err != nil {
			errs = append(errs, fmt.Errorf("umount %s: %w", name, err))
		}
		delete(h.shares, name)
	}
	if err := h.session.Logoff(); err != nil {
		errs = append(errs, fmt.Errorf("logoff: %w", err))
	}
	// Logoff may already have closed the transport
	if err := h.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
