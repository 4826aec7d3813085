package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/Ning0612/Sftpmirror/internal/adapter"
	"github.com/Ning0612/Sftpmirror/internal/domain"
	"github.com/Ning0612/Sftpmirror/internal/logger"
)

// Connection timeouts
const (
	DefaultConnectTimeout = 10 * time.Second
	BackupConnectTimeout  = 20 * time.Second
)

// Options configures how sessions are opened
type Options struct {
	// ConnectTimeout bounds TCP connect plus SSH handshake. Transfers are not bounded.
	ConnectTimeout time.Duration

	// KnownHostsFile enables host key verification when set
	KnownHostsFile string

	// MaxConcurrentRequests per file for pkg/sftp reads and writes
	MaxConcurrentRequests int
}

// DefaultOptions returns the default dial options
func DefaultOptions() Options {
	return Options{
		ConnectTimeout:        DefaultConnectTimeout,
		MaxConcurrentRequests: 64,
	}
}

// Dialer opens SSH connections and wraps them in SFTP sessions
type Dialer struct {
	opts Options
}

// NewDialer creates a dialer with the given options
func NewDialer(opts Options) *Dialer {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.MaxConcurrentRequests <= 0 {
		opts.MaxConcurrentRequests = DefaultOptions().MaxConcurrentRequests
	}
	return &Dialer{opts: opts}
}

// WithTimeout returns a copy of the dialer using a different connect timeout
func (d *Dialer) WithTimeout(timeout time.Duration) *Dialer {
	opts := d.opts
	opts.ConnectTimeout = timeout
	return NewDialer(opts)
}

// Dial connects to the endpoint. Errors are *domain.ConnectionError.
func (d *Dialer) Dial(ctx context.Context, ep domain.Endpoint) (adapter.Session, error) {
	connErr := func(err error) error {
		return &domain.ConnectionError{Endpoint: ep.Label(), Host: ep.Host, Port: ep.Port, Err: err}
	}

	ep, err := ep.Normalize()
	if err != nil {
		return nil, connErr(err)
	}

	cfg, err := d.clientConfig(ep)
	if err != nil {
		return nil, connErr(err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, d.opts.ConnectTimeout)
	defer cancel()

	var nd net.Dialer
	conn, err := nd.DialContext(dialCtx, "tcp", ep.Addr())
	if err != nil {
		return nil, connErr(timeoutErr(err))
	}

	// Bound the handshake with the same deadline.
	if deadline, ok := dialCtx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, ep.Addr(), cfg)
	if err != nil {
		conn.Close()
		return nil, connErr(timeoutErr(err))
	}
	_ = conn.SetDeadline(time.Time{})
	client := ssh.NewClient(c, chans, reqs)

	sc, err := sftp.NewClient(client,
		sftp.MaxConcurrentRequestsPerFile(d.opts.MaxConcurrentRequests),
		sftp.UseConcurrentReads(true),
		sftp.UseConcurrentWrites(true),
	)
	if err != nil {
		client.Close()
		return nil, connErr(fmt.Errorf("start sftp subsystem: %w", err))
	}

	logger.Get().Info("Connected",
		"endpoint", ep.Label(),
		"host", ep.Host,
		"port", ep.Port,
		"user", ep.Username)

	return newSession(ep.Label(), client, sc), nil
}

func (d *Dialer) clientConfig(ep domain.Endpoint) (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod

	if ep.PrivateKeyPath != "" {
		signer, err := loadSigner(ep.PrivateKeyPath, ep.Password)
		if err != nil {
			return nil, err
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if ep.Password != "" {
		password := ep.Password
		auth = append(auth,
			ssh.Password(password),
			ssh.KeyboardInteractive(func(user, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		)
	}

	hostKeyCallback, err := d.hostKeyCallback(ep)
	if err != nil {
		return nil, err
	}

	return &ssh.ClientConfig{
		User:            ep.Username,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         d.opts.ConnectTimeout,
	}, nil
}

func (d *Dialer) hostKeyCallback(ep domain.Endpoint) (ssh.HostKeyCallback, error) {
	if d.opts.KnownHostsFile == "" {
		logger.Get().Warn("Host key verification disabled, accepting any key",
			"endpoint", ep.Label(),
			"host", ep.Host)
		return ssh.InsecureIgnoreHostKey(), nil
	}
	cb, err := knownhosts.New(d.opts.KnownHostsFile)
	if err != nil {
		return nil, fmt.Errorf("load known_hosts %s: %w", d.opts.KnownHostsFile, err)
	}
	return cb, nil
}

// loadSigner parses a private key, using passphrase for encrypted keys.
func loadSigner(path, passphrase string) (ssh.Signer, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	var missing *ssh.PassphraseMissingError
	if errors.As(err, &missing) && passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(key, []byte(passphrase))
	}
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return signer, nil
}

func timeoutErr(err error) error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", domain.ErrTimeout, err)
	}
	return err
}
