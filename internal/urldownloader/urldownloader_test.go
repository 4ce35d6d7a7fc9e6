package urldownloader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomBytes(n int) []byte {
	b := make([]byte, n)
	rand.New(rand.NewSource(1)).Read(b)
	return b
}

func TestFetchHTTP(t *testing.T) {
	data := randomBytes(3*DefaultChunkSize + 123)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(data)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "out.raw")
	d := New(Options{ReadTimeout: 5 * time.Second})
	n, err := d.Fetch(context.Background(), srv.URL+"/out.raw", dest)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), n)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, got))
}

func TestFetchHTTPStatus(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "missing.raw")
	_, err := New(Options{}).Fetch(context.Background(), srv.URL+"/missing.raw", dest)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")

	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr), "destination must not be created when the source cannot be opened")
}

func TestFetchConnectionDropLeavesPartialFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, buf, err := w.(http.Hijacker).Hijack()
		if err != nil {
			return
		}
		buf.WriteString("HTTP/1.1 200 OK\r\nContent-Length: 1000\r\n\r\npartial")
		buf.Flush()
		conn.Close()
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "partial.raw")
	_, err := New(Options{}).Fetch(context.Background(), srv.URL, dest)
	require.Error(t, err)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "partial", string(got))
}

func TestFetchReadTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100")
		w.Write([]byte("head"))
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "slow.raw")
	_, err := New(Options{ReadTimeout: 50 * time.Millisecond}).Fetch(context.Background(), srv.URL, dest)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrReadTimeout), err.Error())
}

func TestFetchFileSource(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.mzML")
	require.NoError(t, os.WriteFile(src, []byte("<mzML/>"), 0644))

	dest := filepath.Join(dir, "dst.mzML")
	n, err := New(Options{ChunkSize: 2}).Fetch(context.Background(), "file://"+src, dest)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "<mzML/>", string(got))
}

func TestFetchMissingDestinationDir(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0644))

	_, err := New(Options{}).Fetch(context.Background(), "file://"+src, filepath.Join(dir, "nope", "dst"))
	assert.Error(t, err)
}

func TestOpenUnsupportedScheme(t *testing.T) {
	_, err := New(Options{}).Open(context.Background(), "gopher://example.org/file")
	assert.True(t, errors.Is(err, ErrUnsupportedScheme))
}

func TestCopyStopsOnCancel(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	go pw.Write([]byte("first chunk"))

	dest, err := os.Create(filepath.Join(t.TempDir(), "mirror.raw"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)
	done := make(chan error, 1)
	go func() {
		_, err := New(Options{}).Copy(ctx, dest, pr)
		done <- err
	}()
	select {
	case err = <-done:
		assert.True(t, errors.Is(err, context.Canceled), "%v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("copy did not return after cancel")
	}
}

func TestFetchFileSourceCanceled(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.raw")
	require.NoError(t, os.WriteFile(src, randomBytes(4*DefaultChunkSize), 0644))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(Options{}).Fetch(ctx, "file://"+src, filepath.Join(dir, "dst.raw"))
	assert.True(t, errors.Is(err, context.Canceled), "%v", err)
}

// ftpServer serves files over a minimal FTP control connection with EPSV data connections.
type ftpServer struct {
	ln    net.Listener
	files map[string][]byte
	wg    sync.WaitGroup
	once  sync.Once

	mu       sync.Mutex
	commands []string
}

func newFTPServer(t *testing.T, files map[string][]byte) *ftpServer {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &ftpServer{ln: ln, files: files}
	s.wg.Add(1)
	go s.serve()
	t.Cleanup(s.close)
	return s
}

func (s *ftpServer) url(userinfo, path string) string {
	return fmt.Sprintf("ftp://%s%s%s", userinfo, s.ln.Addr(), path)
}

// close stops the server and waits for all sessions to end.
func (s *ftpServer) close() {
	s.once.Do(func() {
		s.ln.Close()
		s.wg.Wait()
	})
}

func (s *ftpServer) received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

func (s *ftpServer) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go s.session(conn)
	}
}

func (s *ftpServer) session(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()
	c := textproto.NewConn(conn)
	var dataLn net.Listener
	defer func() {
		if dataLn != nil {
			dataLn.Close()
		}
	}()
	c.PrintfLine("220 ready")
	for {
		line, err := c.ReadLine()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.commands = append(s.commands, line)
		s.mu.Unlock()
		cmd, arg, _ := strings.Cut(line, " ")
		switch cmd {
		case "USER":
			c.PrintfLine("331 password required")
		case "PASS":
			c.PrintfLine("230 logged in")
		case "TYPE":
			c.PrintfLine("200 type set to %s", arg)
		case "EPSV":
			if dataLn != nil {
				dataLn.Close()
			}
			dataLn, err = net.Listen("tcp", "127.0.0.1:0")
			if err != nil {
				c.PrintfLine("425 cannot open data connection")
				continue
			}
			c.PrintfLine("229 Entering Extended Passive Mode (|||%d|)", dataLn.Addr().(*net.TCPAddr).Port)
		case "RETR":
			data, ok := s.files[arg]
			if !ok || dataLn == nil {
				c.PrintfLine("550 %s: no such file", arg)
				continue
			}
			dc, err := dataLn.Accept()
			if err != nil {
				c.PrintfLine("425 cannot open data connection")
				continue
			}
			c.PrintfLine("150 opening data connection")
			dc.Write(data)
			dc.Close()
			c.PrintfLine("226 transfer complete")
		case "QUIT":
			c.PrintfLine("221 bye")
			return
		default:
			c.PrintfLine("502 %s not implemented", cmd)
		}
	}
}

func TestFetchFTPAnonymous(t *testing.T) {
	data := randomBytes(2*DefaultChunkSize + 7)
	srv := newFTPServer(t, map[string][]byte{"/pride/data/PXD1/a.raw": data})

	dest := filepath.Join(t.TempDir(), "a.raw")
	n, err := New(Options{ConnectTimeout: 5 * time.Second}).Fetch(context.Background(), srv.url("", "/pride/data/PXD1/a.raw"), dest)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), n)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, got))

	srv.close()
	cmds := srv.received()
	assert.Contains(t, cmds, "USER anonymous")
	assert.Contains(t, cmds, "PASS anonymous")
	assert.Contains(t, cmds, "TYPE I")
	assert.Contains(t, cmds, "RETR /pride/data/PXD1/a.raw")
	assert.Equal(t, "QUIT", cmds[len(cmds)-1])
}

func TestFetchFTPCredentials(t *testing.T) {
	srv := newFTPServer(t, map[string][]byte{"/private/b.raw": []byte("secret data")})

	dest := filepath.Join(t.TempDir(), "b.raw")
	_, err := New(Options{}).Fetch(context.Background(), srv.url("alice:s3cret@", "/private/b.raw"), dest)
	require.NoError(t, err)

	srv.close()
	cmds := srv.received()
	assert.Contains(t, cmds, "USER alice")
	assert.Contains(t, cmds, "PASS s3cret")
	assert.NotContains(t, cmds, "USER anonymous")
}

func TestFetchFTPMissingFile(t *testing.T) {
	srv := newFTPServer(t, nil)

	dest := filepath.Join(t.TempDir(), "missing.raw")
	_, err := New(Options{}).Fetch(context.Background(), srv.url("", "/missing.raw"), dest)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "550")

	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr), "destination must not be created when the source cannot be opened")

	srv.close()
	cmds := srv.received()
	assert.Equal(t, "QUIT", cmds[len(cmds)-1])
}

func TestFTPReaderCloseOnce(t *testing.T) {
	srv := newFTPServer(t, map[string][]byte{"/c.raw": []byte("c")})

	r, err := New(Options{}).Open(context.Background(), srv.url("", "/c.raw"))
	require.NoError(t, err)
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "c", string(b))
	assert.NoError(t, r.Close())
	assert.NoError(t, r.Close())

	srv.close()
	var quits int
	for _, cmd := range srv.received() {
		if cmd == "QUIT" {
			quits++
		}
	}
	assert.Equal(t, 1, quits)
}
