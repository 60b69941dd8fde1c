// Package relay provides a scoped SSH session to the relay host: one
// connection that uploads files over SFTP and runs bridge commands.
package relay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/devicelab-dev/buildpilot/pkg/core"
	"github.com/devicelab-dev/buildpilot/pkg/device"
	"github.com/devicelab-dev/buildpilot/pkg/logger"
)

// Config describes how to reach the relay host.
type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	KeyFile         string
	KnownHosts      string // known_hosts path; empty uses ~/.ssh/known_hosts
	InsecureHostKey bool
	ConnectTimeout  time.Duration
}

// Addr returns host:port.
func (c Config) Addr() string {
	port := c.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// Session is one SSH connection. It is safe to Close more than once.
type Session struct {
	client *ssh.Client
	addr   string

	mu        sync.Mutex
	sftp      *sftp.Client
	closeOnce sync.Once
	closeErr  error
}

// Dial connects and authenticates within cfg.ConnectTimeout.
func Dial(ctx context.Context, cfg Config) (*Session, error) {
	auth, err := authMethods(cfg)
	if err != nil {
		return nil, core.ErrConnectionFailed.WithMessage("relay credentials").WithCause(err)
	}
	hostKey, err := hostKeyCallback(cfg)
	if err != nil {
		return nil, core.ErrConnectionFailed.WithMessage("relay host key").WithCause(err)
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	addr := cfg.Addr()
	var d net.Dialer
	conn, err := d.DialContext(dctx, "tcp", addr)
	if err != nil {
		return nil, core.ErrConnectionFailed.WithMessage(fmt.Sprintf("connect %s", addr)).WithCause(err)
	}

	// The handshake has no context; bound it with the same deadline.
	if deadline, ok := dctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         timeout,
	})
	if err != nil {
		conn.Close()
		return nil, core.ErrConnectionFailed.WithMessage(fmt.Sprintf("ssh handshake with %s", addr)).WithCause(err)
	}
	_ = conn.SetDeadline(time.Time{})

	logger.Debug("relay session open: %s@%s", cfg.User, addr)
	return &Session{client: ssh.NewClient(sshConn, chans, reqs), addr: addr}, nil
}

func authMethods(cfg Config) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	if cfg.KeyFile != "" {
		pem, err := os.ReadFile(cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("read key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			return nil, fmt.Errorf("parse key %s: %w", cfg.KeyFile, err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if cfg.Password != "" {
		pw := cfg.Password
		methods = append(methods,
			ssh.Password(pw),
			ssh.KeyboardInteractive(func(user, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = pw
				}
				return answers, nil
			}),
		)
	}
	if len(methods) == 0 {
		return nil, errors.New("no password or key configured")
	}
	return methods, nil
}

func hostKeyCallback(cfg Config) (ssh.HostKeyCallback, error) {
	if cfg.InsecureHostKey {
		return ssh.InsecureIgnoreHostKey(), nil //#nosec G106 -- explicit opt-in
	}
	file := cfg.KnownHosts
	if file == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		file = filepath.Join(home, ".ssh", "known_hosts")
	}
	return knownhosts.New(file)
}

// Addr returns the connected host:port.
func (s *Session) Addr() string {
	return s.addr
}

func (s *Session) sftpClient() (*sftp.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sftp != nil {
		return s.sftp, nil
	}
	c, err := sftp.NewClient(s.client)
	if err != nil {
		return nil, fmt.Errorf("start sftp: %w", err)
	}
	s.sftp = c
	return c, nil
}

// Upload copies local to remote, creating the remote directory and
// truncating any existing file. It returns the number of bytes written.
func (s *Session) Upload(ctx context.Context, local, remote string) (int64, error) {
	src, err := os.Open(local) //#nosec G304 -- artifact path from config
	if err != nil {
		return 0, err
	}
	defer src.Close()

	sc, err := s.sftpClient()
	if err != nil {
		return 0, err
	}
	if dir := path.Dir(remote); dir != "." && dir != "/" {
		if err := sc.MkdirAll(dir); err != nil {
			return 0, fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}

	type result struct {
		n   int64
		err error
	}
	done := make(chan result, 1)
	go func() {
		dst, err := sc.OpenFile(remote, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
		if err != nil {
			done <- result{err: fmt.Errorf("create %s: %w", remote, err)}
			return
		}
		n, err := dst.ReadFrom(src)
		if cerr := dst.Close(); err == nil {
			err = cerr
		}
		done <- result{n: n, err: err}
	}()

	select {
	case <-ctx.Done():
		// Tear down the subsystem to unblock the copy.
		s.mu.Lock()
		if s.sftp != nil {
			s.sftp.Close()
			s.sftp = nil
		}
		s.mu.Unlock()
		<-done
		return 0, context.Cause(ctx)
	case r := <-done:
		return r.n, r.err
	}
}

// Run executes argv on the relay host. A non-zero exit is reported in
// Output.ExitCode; cancellation kills the remote command.
func (s *Session) Run(ctx context.Context, argv []string) (device.Output, error) {
	sess, err := s.client.NewSession()
	if err != nil {
		return device.Output{}, core.ErrConnectionFailed.WithMessage("open ssh channel").WithCause(err)
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	cmd := device.Join(argv)
	logger.Debug("relay exec: %s", cmd)
	if err := sess.Start(cmd); err != nil {
		return device.Output{}, fmt.Errorf("start %q: %w", cmd, err)
	}

	err = wait(ctx, sess)
	out := device.Output{Stdout: stdout.String(), Stderr: stderr.String()}
	if ctx.Err() != nil {
		out.ExitCode = -1
		return out, context.Cause(ctx)
	}

	var exitErr *ssh.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		out.ExitCode = exitErr.ExitStatus()
	default:
		out.ExitCode = -1
		return out, fmt.Errorf("%q: %w", cmd, err)
	}
	return out, nil
}

// Stream runs argv and copies its output to w until it exits or ctx is done.
func (s *Session) Stream(ctx context.Context, argv []string, w io.Writer) error {
	sess, err := s.client.NewSession()
	if err != nil {
		return core.ErrConnectionFailed.WithMessage("open ssh channel").WithCause(err)
	}
	defer sess.Close()

	lw := &lockedWriter{w: w}
	sess.Stdout = lw
	sess.Stderr = lw
	cmd := device.Join(argv)
	if err := sess.Start(cmd); err != nil {
		return fmt.Errorf("start %q: %w", cmd, err)
	}
	if err := wait(ctx, sess); err != nil && ctx.Err() == nil {
		return fmt.Errorf("%q: %w", cmd, err)
	}
	return nil
}

// lockedWriter serializes writes from the stdout and stderr copiers.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

func wait(ctx context.Context, sess *ssh.Session) error {
	done := make(chan error, 1)
	go func() { done <- sess.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		_ = sess.Signal(ssh.SIGKILL)
		sess.Close()
		<-done
		return ctx.Err()
	}
}

// Close releases the SFTP subsystem and the connection.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		if s.sftp != nil {
			s.sftp.Close()
			s.sftp = nil
		}
		s.mu.Unlock()
		s.closeErr = s.client.Close()
		logger.Debug("relay session closed: %s", s.addr)
	})
	return s.closeErr
}
