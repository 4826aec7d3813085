package remote

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pkg/sftp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ning0612/Sftpmirror/internal/domain"
)

// newPipeSession runs a pkg/sftp server over in-process pipes, serving the
// local filesystem, and returns a Session talking to it.
func newPipeSession(t *testing.T) *Session {
	t.Helper()

	clientRead, serverWrite := io.Pipe()
	serverRead, clientWrite := io.Pipe()

	server, err := sftp.NewServer(struct {
		io.Reader
		io.WriteCloser
	}{serverRead, serverWrite})
	require.NoError(t, err)
	go func() { _ = server.Serve() }()

	client, err := sftp.NewClientPipe(clientRead, clientWrite)
	require.NoError(t, err)

	s := newSession("TEST", nil, client)
	t.Cleanup(func() {
		_ = server.Close()
		_ = s.Close()
	})
	return s
}

func TestSession_ReadDirReportsOwnership(t *testing.T) {
	s := newPipeSession(t)
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello"), 0o640))
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0o755))

	entries, err := s.ReadDir(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	byName := map[string]domain.FileInfo{}
	for _, e := range entries {
		byName[e.Name] = e
	}

	file := byName["a.txt"]
	assert.True(t, file.IsFile())
	assert.Equal(t, int64(5), file.Size)
	assert.Equal(t, root+"/a.txt", file.Path)
	assert.Equal(t, "640", domain.FormatOctal(file.Mode))
	assert.Equal(t, uint32(os.Getuid()), file.UID)
	assert.Equal(t, uint32(os.Getgid()), file.GID)

	assert.True(t, byName["sub"].IsDir())
}

func TestSession_CreateAndOpen(t *testing.T) {
	s := newPipeSession(t)
	ctx := context.Background()
	p := t.TempDir() + "/out.txt"

	n, err := s.Create(ctx, p, strings.NewReader("first version"))
	require.NoError(t, err)
	assert.Equal(t, int64(13), n)

	// Overwrite truncates
	_, err = s.Create(ctx, p, strings.NewReader("v2"))
	require.NoError(t, err)

	rc, err := s.Open(ctx, p)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "v2", string(data))
}

func TestSession_MetadataAndRemoval(t *testing.T) {
	s := newPipeSession(t)
	ctx := context.Background()
	root := t.TempDir()

	dir := root + "/d"
	require.NoError(t, s.Mkdir(ctx, dir))
	_, err := s.Create(ctx, dir+"/f", strings.NewReader("x"))
	require.NoError(t, err)

	require.NoError(t, s.Chmod(ctx, dir+"/f", 0o600))
	info, err := s.Stat(ctx, dir+"/f")
	require.NoError(t, err)
	assert.Equal(t, "600", domain.FormatOctal(info.Mode))

	require.NoError(t, s.Chown(ctx, dir+"/f", os.Getuid(), os.Getgid()))

	require.NoError(t, s.Remove(ctx, dir+"/f"))
	require.NoError(t, s.Rmdir(ctx, dir))

	_, err = s.Stat(ctx, dir)
	assert.True(t, errors.Is(err, domain.ErrNotFound), "got %v", err)
}

func TestSession_ChmodKeepsSpecialBits(t *testing.T) {
	s := newPipeSession(t)
	dir := filepath.Join(t.TempDir(), "shared")
	require.NoError(t, os.Mkdir(dir, 0o755))

	require.NoError(t, s.Chmod(context.Background(), dir, os.ModeSticky|0o777))

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&os.ModeSticky)
	assert.Equal(t, os.FileMode(0o777), info.Mode().Perm())
}

func TestSession_OpenMissing(t *testing.T) {
	s := newPipeSession(t)
	_, err := s.Open(context.Background(), t.TempDir()+"/nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSession_ExecWithoutSSH(t *testing.T) {
	s := newPipeSession(t)
	_, err := s.Exec(context.Background(), "true")
	assert.ErrorIs(t, err, errExecUnsupported)
}

func TestSession_CancelledContext(t *testing.T) {
	s := newPipeSession(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.ReadDir(ctx, t.TempDir())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDialer_RefusedIsConnectionError(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().(*net.TCPAddr)
	require.NoError(t, l.Close())

	d := NewDialer(Options{ConnectTimeout: time.Second})
	_, err = d.Dial(context.Background(), domain.Endpoint{
		Name: "PROD", Host: "127.0.0.1", Port: addr.Port, Username: "u", Password: "p", Root: "/srv",
	})

	var ce *domain.ConnectionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "PROD", ce.Endpoint)
	assert.Equal(t, addr.Port, ce.Port)
}

func TestDialer_HandshakeTimeout(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	// Accept and never speak SSH.
	done := make(chan struct{})
	defer close(done)
	go func() {
		c, err := l.Accept()
		if err != nil {
			return
		}
		<-done
		c.Close()
	}()

	d := NewDialer(Options{ConnectTimeout: 200 * time.Millisecond})
	start := time.Now()
	_, err = d.Dial(context.Background(), domain.Endpoint{
		Host: "127.0.0.1", Port: l.Addr().(*net.TCPAddr).Port, Username: "u", Password: "p", Root: "/srv",
	})

	var ce *domain.ConnectionError
	require.ErrorAs(t, err, &ce)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestDialer_InvalidEndpoint(t *testing.T) {
	_, err := NewDialer(DefaultOptions()).Dial(context.Background(), domain.Endpoint{Host: "h", Username: "u"})

	var ce *domain.ConnectionError
	require.ErrorAs(t, err, &ce)
	assert.ErrorIs(t, err, domain.ErrConfigInvalid)
}
