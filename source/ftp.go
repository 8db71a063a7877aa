package source

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/olegkotsar/ncbi-sync/config"
	"golang.org/x/time/rate"
)

var _ Transport = (*FTPTransport)(nil)

// FTPTransport reads the archive from an FTP server (anonymous by default)
type FTPTransport struct {
	config     *config.FTPConfig
	common     *config.CommonTransportConfig
	connPool   chan *ftp.ServerConn
	limiter    *rate.Limiter
	dialConfig *ftp.DialOption
	mu         sync.Mutex // guards closed and sends on connPool
	closed     bool
}

// NewFTPTransport creates the transport and verifies that the server is reachable
func NewFTPTransport(cfg *config.FTPConfig, common *config.CommonTransportConfig) (*FTPTransport, error) {
	cfg.ApplyDefaults()
	common.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ftp config: %w", err)
	}
	if err := common.Validate(); err != nil {
		return nil, fmt.Errorf("invalid common config: %w", err)
	}

	var dialConfig *ftp.DialOption
	if cfg.UseTLS {
		opt := ftp.DialWithExplicitTLS(&tls.Config{ServerName: cfg.Host})
		dialConfig = &opt
	}

	t := &FTPTransport{
		config:     cfg,
		common:     common,
		connPool:   make(chan *ftp.ServerConn, common.MaxConnections),
		limiter:    newLimiter(common.MaxRPS),
		dialConfig: dialConfig,
	}

	conn, err := t.createConnection(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to FTP server: %w", err)
	}
	t.returnConnection(conn)

	return t, nil
}

func (f *FTPTransport) Name() string { return "ftp" }

func (f *FTPTransport) createConnection(ctx context.Context) (*ftp.ServerConn, error) {
	addr := fmt.Sprintf("%s:%d", f.config.Host, f.config.Port)

	opts := []ftp.DialOption{
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(time.Duration(f.common.TimeoutSeconds) * time.Second),
	}
	if f.dialConfig != nil {
		opts = append(opts, *f.dialConfig)
	}

	conn, err := ftp.Dial(addr, opts...)
	if err != nil {
		return nil, &Error{Op: "dial", Path: addr, Temporary: true, Err: err}
	}

	if err := conn.Login(f.config.Username, f.config.Password); err != nil {
		conn.Quit()
		return nil, &Error{Op: "login", Path: addr, Err: err}
	}

	return conn, nil
}

// getConnection retrieves a live connection from the pool or dials a new one
func (f *FTPTransport) getConnection(ctx context.Context) (*ftp.ServerConn, error) {
	select {
	case conn, ok := <-f.connPool:
		if !ok {
			return nil, fmt.Errorf("ftp transport is closed")
		}
		if err := conn.NoOp(); err != nil {
			conn.Quit()
			return f.createConnection(ctx)
		}
		return conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
		return f.createConnection(ctx)
	}
}

// returnConnection puts a connection back, closing it if the pool is full
func (f *FTPTransport) returnConnection(conn *ftp.ServerConn) {
	if conn == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		conn.Quit()
		return
	}
	select {
	case f.connPool <- conn:
	default:
		conn.Quit()
	}
}

// Open retrieves remotePath. The connection is busy until the returned
// reader is closed, then goes back to the pool.
func (f *FTPTransport) Open(ctx context.Context, remotePath string) (io.ReadCloser, error) {
	if err := waitLimiter(ctx, f.limiter); err != nil {
		return nil, err
	}

	conn, err := f.getConnection(ctx)
	if err != nil {
		return nil, classify("connect", remotePath, err)
	}

	resp, err := conn.Retr("/" + cleanPath(remotePath))
	if err != nil {
		if isFTPNotFound(err) {
			f.returnConnection(conn)
			return nil, notFound("retr", remotePath, err)
		}
		// The control connection state is unknown after a failed RETR
		conn.Quit()
		return nil, &Error{Op: "retr", Path: remotePath, Temporary: true, Err: err}
	}

	return &ftpReader{resp: resp, conn: conn, owner: f}, nil
}

type ftpReader struct {
	resp  *ftp.Response
	conn  *ftp.ServerConn
	owner *FTPTransport
	once  sync.Once
	err   error
}

func (r *ftpReader) Read(p []byte) (int, error) {
	return r.resp.Read(p)
}

func (r *ftpReader) Close() error {
	r.once.Do(func() {
		r.err = r.resp.Close()
		if r.err != nil {
			r.conn.Quit()
			return
		}
		r.owner.returnConnection(r.conn)
	})
	return r.err
}

func isFTPNotFound(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "550") || strings.Contains(strings.ToLower(msg), "not found")
}

// Close closes all pooled connections. Safe to call more than once.
func (f *FTPTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	close(f.connPool)
	for conn := range f.connPool {
		conn.Quit()
	}
	return nil
}
