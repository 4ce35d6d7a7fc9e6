// Package urldownloader copies a remote file to local disk.
//
// Sources are opened by URI scheme: http and https through net/http, ftp
// through an anonymous (or URI-credentialed) FTP session, and file for local
// paths. Bytes are copied unchanged in fixed-size chunks. Each read must
// return within the read timeout or the source is closed and the transfer
// fails with ErrReadTimeout.
package urldownloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/proteome-exchange/pxget/internal/bufferpool"
)

// DefaultChunkSize is the size of each read from the source.
const DefaultChunkSize = 64 * 1024

var (
	// ErrReadTimeout is returned when the source does not produce data within the read timeout.
	ErrReadTimeout = errors.New("read timeout")
	// ErrUnsupportedScheme is returned for source URIs that cannot be opened.
	ErrUnsupportedScheme = errors.New("unsupported uri scheme")
)

// Options for URLDownloader.
type Options struct {
	// ChunkSize is the maximum number of bytes read from the source at once.
	ChunkSize int
	// ReadTimeout is the longest time a single read may block. Zero disables it.
	ReadTimeout time.Duration
	// ConnectTimeout applies to TCP dials for HTTP and FTP sources.
	ConnectTimeout time.Duration
	// Client is used for HTTP sources. A client built from ConnectTimeout is used if nil.
	Client *http.Client
}

// URLDownloader downloads files from HTTP, FTP and file sources.
// It is safe for concurrent use; chunk buffers are shared between transfers.
type URLDownloader struct {
	client         *http.Client
	chunks         *bufferpool.Pool
	readTimeout    time.Duration
	connectTimeout time.Duration
}

// New returns a new URLDownloader.
func New(opts Options) *URLDownloader {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				DialContext:           (&net.Dialer{Timeout: opts.ConnectTimeout}).DialContext,
				TLSHandshakeTimeout:   opts.ConnectTimeout,
				ResponseHeaderTimeout: opts.ReadTimeout,
			},
		}
	}
	return &URLDownloader{
		client:         client,
		chunks:         bufferpool.New(opts.ChunkSize),
		readTimeout:    opts.ReadTimeout,
		connectTimeout: opts.ConnectTimeout,
	}
}

// Fetch downloads source into the file at dest, creating or truncating it.
// The directory of dest must exist. A partially written file is left in place on error.
func (d *URLDownloader) Fetch(ctx context.Context, source, dest string) (int64, error) {
	src, err := d.Open(ctx, source)
	if err != nil {
		return 0, err
	}
	f, err := os.Create(dest)
	if err != nil {
		src.Close()
		return 0, err
	}
	return d.Copy(ctx, f, src)
}

// Open opens source for reading.
func (d *URLDownloader) Open(ctx context.Context, source string) (io.ReadCloser, error) {
	u, err := url.Parse(source)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "http", "https":
		return d.openHTTP(ctx, source)
	case "ftp":
		return d.openFTP(ctx, u)
	case "file":
		return os.Open(u.Path)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
}

// Copy streams src into dst in chunks until src is exhausted.
// src is closed when ctx is done, which interrupts a blocked read.
// Both src and dst are closed before Copy returns.
func (d *URLDownloader) Copy(ctx context.Context, dst io.WriteCloser, src io.ReadCloser) (n int64, err error) {
	var timedOut int32
	var timer *time.Timer
	if d.readTimeout > 0 {
		timer = time.AfterFunc(d.readTimeout, func() {
			atomic.StoreInt32(&timedOut, 1)
			src.Close()
		})
	}
	stopCancel := context.AfterFunc(ctx, func() { src.Close() })
	defer func() {
		stopCancel()
		if timer != nil {
			timer.Stop()
		}
		src.Close()
		if cerr := dst.Close(); err == nil {
			err = cerr
		}
		switch {
		case err == nil:
		case ctx.Err() != nil:
			err = ctx.Err()
		case atomic.LoadInt32(&timedOut) == 1:
			err = fmt.Errorf("%w: no data received in %s", ErrReadTimeout, d.readTimeout)
		}
	}()
	buf := d.chunks.Get()
	defer buf.Release()
	for {
		if err = ctx.Err(); err != nil {
			return n, err
		}
		m, rerr := src.Read(buf.Data)
		if timer != nil {
			timer.Reset(d.readTimeout)
		}
		if m > 0 {
			if _, werr := dst.Write(buf.Data[:m]); werr != nil {
				return n, werr
			}
			n += int64(m)
		}
		if rerr == io.EOF {
			return n, nil
		}
		if rerr != nil {
			return n, rerr
		}
	}
}

func (d *URLDownloader) openHTTP(ctx context.Context, source string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	err = checkStatus(resp)
	if err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp.Body, nil
}

func (d *URLDownloader) openFTP(ctx context.Context, u *url.URL) (io.ReadCloser, error) {
	addr := u.Host
	if u.Port() == "" {
		addr = net.JoinHostPort(u.Hostname(), "21")
	}
	opts := []ftp.DialOption{ftp.DialWithContext(ctx)}
	if d.connectTimeout > 0 {
		opts = append(opts, ftp.DialWithTimeout(d.connectTimeout))
	}
	conn, err := ftp.Dial(addr, opts...)
	if err != nil {
		return nil, err
	}
	user, pass := "anonymous", "anonymous"
	if u.User != nil {
		user = u.User.Username()
		if p, ok := u.User.Password(); ok {
			pass = p
		}
	}
	if err = conn.Login(user, pass); err != nil {
		conn.Quit()
		return nil, err
	}
	resp, err := conn.Retr(u.Path)
	if err != nil {
		conn.Quit()
		return nil, err
	}
	return &ftpReader{resp: resp, conn: conn}, nil
}

// ftpReader ends the FTP session when the transfer is closed.
type ftpReader struct {
	resp *ftp.Response
	conn *ftp.ServerConn
	once sync.Once
	err  error
}

func (r *ftpReader) Read(p []byte) (int, error) {
	return r.resp.Read(p)
}

func (r *ftpReader) Close() error {
	r.once.Do(func() {
		r.err = r.resp.Close()
		r.conn.Quit()
	})
	return r.err
}

func checkStatus(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	default:
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
}
