package testutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Ning0612/Sftpmirror/internal/adapter"
	"github.com/Ning0612/Sftpmirror/internal/domain"
)

type memNode struct {
	dir   bool
	data  []byte
	mode  fs.FileMode
	uid   uint32
	gid   uint32
	mtime time.Time
}

// MemFS is an in-memory remote host. Sessions obtained from it share state.
type MemFS struct {
	mu    sync.Mutex
	nodes map[string]*memNode
	fails map[string]error
	execs []string

	// ExecFunc handles Exec; nil means exit code 0
	ExecFunc func(cmd string) (adapter.ExecResult, error)

	// DefaultUID and DefaultGID own newly created entries
	DefaultUID uint32
	DefaultGID uint32
}

// NewMemFS returns a host with an empty root directory
func NewMemFS() *MemFS {
	return &MemFS{
		nodes: map[string]*memNode{"/": {dir: true, mode: fs.ModeDir | 0o755}},
		fails: make(map[string]error),
	}
}

// NewHost returns a MemFS holding the standard /etc/passwd and /etc/group
func NewHost() *MemFS {
	m := NewMemFS()
	m.WriteFile("/etc/passwd", []byte(Passwd), 0o644, 0, 0)
	m.WriteFile("/etc/group", []byte(Group), 0o644, 0, 0)
	return m
}

// MkdirAll creates p and its parents
func (m *MemFS) MkdirAll(p string, perm fs.FileMode, uid, gid uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mkdirAllLocked(path.Clean(p), perm, uid, gid)
}

func (m *MemFS) mkdirAllLocked(p string, perm fs.FileMode, uid, gid uint32) {
	if n, ok := m.nodes[p]; ok && n.dir {
		return
	}
	if p != "/" {
		m.mkdirAllLocked(path.Dir(p), 0o755, uid, gid)
	}
	m.nodes[p] = &memNode{dir: true, mode: fs.ModeDir | perm&domain.PermMask, uid: uid, gid: gid, mtime: time.Now()}
}

// WriteFile stores a file, creating parent directories
func (m *MemFS) WriteFile(p string, data []byte, perm fs.FileMode, uid, gid uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = path.Clean(p)
	m.mkdirAllLocked(path.Dir(p), 0o755, uid, gid)
	m.nodes[p] = &memNode{data: append([]byte(nil), data...), mode: perm & domain.PermMask, uid: uid, gid: gid, mtime: time.Now()}
}

// ReadFile returns a copy of a file's content
func (m *MemFS) ReadFile(p string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[path.Clean(p)]
	if !ok || n.dir {
		return nil, false
	}
	return append([]byte(nil), n.data...), true
}

// Attr returns permission bits, including setuid, setgid and sticky, and
// ownership of p
func (m *MemFS) Attr(p string) (perm fs.FileMode, uid, gid uint32, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[path.Clean(p)]
	if !ok {
		return 0, 0, 0, false
	}
	return n.mode & domain.ChmodMask, n.uid, n.gid, true
}

// Exists reports whether p exists
func (m *MemFS) Exists(p string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.nodes[path.Clean(p)]
	return ok
}

// IsDir reports whether p is a directory
func (m *MemFS) IsDir(p string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[path.Clean(p)]
	return ok && n.dir
}

// RemoveAll deletes p and everything below it
func (m *MemFS) RemoveAll(p string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = path.Clean(p)
	for k := range m.nodes {
		if k == p || strings.HasPrefix(k, p+"/") {
			delete(m.nodes, k)
		}
	}
}

// Paths lists every path below root (exclusive), sorted
func (m *MemFS) Paths(root string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	root = path.Clean(root)
	prefix := root + "/"
	if root == "/" {
		prefix = "/"
	}
	var out []string
	for k := range m.nodes {
		if k != root && strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// FailOn makes op on p return err. op is one of readdir, open, create,
// stat, chmod, chown, remove, mkdir, rmdir, exec ("exec" matches any command).
func (m *MemFS) FailOn(op, p string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if op != "exec" {
		p = path.Clean(p)
	}
	m.fails[op+" "+p] = err
}

// Execs returns the commands run so far
func (m *MemFS) Execs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.execs...)
}

// Session returns a new handle on this host
func (m *MemFS) Session() *MemSession {
	return &MemSession{fs: m}
}

func (m *MemFS) failure(op, p string) error {
	if op != "exec" {
		p = path.Clean(p)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fails[op+" "+p]
}

// MemSession implements adapter.Session over a MemFS
type MemSession struct {
	fs      *MemFS
	mu      sync.Mutex
	closed  bool
	onClose func()
}

var _ adapter.Session = (*MemSession)(nil)

func (s *MemSession) check(ctx context.Context, op, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return domain.ErrSessionClosed
	}
	if err := s.fs.failure(op, p); err != nil {
		return fmt.Errorf("%s %s: %w", op, p, err)
	}
	return nil
}

func notFound(op, p string) error {
	return fmt.Errorf("%s %s: %w", op, p, domain.ErrNotFound)
}

func (s *MemSession) ReadDir(ctx context.Context, dir string) ([]domain.FileInfo, error) {
	if err := s.check(ctx, "readdir", dir); err != nil {
		return nil, err
	}
	m := s.fs
	m.mu.Lock()
	defer m.mu.Unlock()

	dir = path.Clean(dir)
	n, ok := m.nodes[dir]
	if !ok {
		return nil, notFound("readdir", dir)
	}
	if !n.dir {
		return nil, fmt.Errorf("readdir %s: %w", dir, domain.ErrNotDirectory)
	}

	var out []domain.FileInfo
	for p, child := range m.nodes {
		if p == "/" || path.Dir(p) != dir {
			continue
		}
		out = append(out, infoOf(p, child))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemSession) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	if err := s.check(ctx, "open", p); err != nil {
		return nil, err
	}
	data, ok := s.fs.ReadFile(p)
	if !ok {
		if s.fs.IsDir(p) {
			return nil, fmt.Errorf("open %s: %w", p, domain.ErrNotFile)
		}
		return nil, notFound("open", p)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *MemSession) Create(ctx context.Context, p string, r io.Reader) (int64, error) {
	if err := s.check(ctx, "create", p); err != nil {
		return 0, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}

	m := s.fs
	m.mu.Lock()
	defer m.mu.Unlock()

	p = path.Clean(p)
	parent, ok := m.nodes[path.Dir(p)]
	if !ok || !parent.dir {
		return 0, notFound("create", p)
	}
	if n, ok := m.nodes[p]; ok {
		if n.dir {
			return 0, fmt.Errorf("create %s: %w", p, domain.ErrNotFile)
		}
		n.data = data
		n.mtime = time.Now()
		return int64(len(data)), nil
	}
	m.nodes[p] = &memNode{data: data, mode: 0o644, uid: m.DefaultUID, gid: m.DefaultGID, mtime: time.Now()}
	return int64(len(data)), nil
}

func (s *MemSession) Stat(ctx context.Context, p string) (domain.FileInfo, error) {
	if err := s.check(ctx, "stat", p); err != nil {
		return domain.FileInfo{}, err
	}
	m := s.fs
	m.mu.Lock()
	defer m.mu.Unlock()
	p = path.Clean(p)
	n, ok := m.nodes[p]
	if !ok {
		return domain.FileInfo{}, notFound("stat", p)
	}
	return infoOf(p, n), nil
}

func (s *MemSession) Chmod(ctx context.Context, p string, mode fs.FileMode) error {
	if err := s.check(ctx, "chmod", p); err != nil {
		return err
	}
	return s.fs.update(p, "chmod", func(n *memNode) {
		n.mode = n.mode.Type() | mode&domain.ChmodMask
	})
}

func (s *MemSession) Chown(ctx context.Context, p string, uid, gid int) error {
	if err := s.check(ctx, "chown", p); err != nil {
		return err
	}
	return s.fs.update(p, "chown", func(n *memNode) {
		n.uid, n.gid = uint32(uid), uint32(gid)
	})
}

func (m *MemFS) update(p, op string, fn func(*memNode)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[path.Clean(p)]
	if !ok {
		return notFound(op, p)
	}
	fn(n)
	return nil
}

func (s *MemSession) Remove(ctx context.Context, p string) error {
	if err := s.check(ctx, "remove", p); err != nil {
		return err
	}
	m := s.fs
	m.mu.Lock()
	defer m.mu.Unlock()
	p = path.Clean(p)
	n, ok := m.nodes[p]
	if !ok {
		return notFound("remove", p)
	}
	if n.dir {
		return fmt.Errorf("remove %s: %w", p, domain.ErrNotFile)
	}
	delete(m.nodes, p)
	return nil
}

func (s *MemSession) Mkdir(ctx context.Context, p string) error {
	if err := s.check(ctx, "mkdir", p); err != nil {
		return err
	}
	m := s.fs
	m.mu.Lock()
	defer m.mu.Unlock()
	p = path.Clean(p)
	if _, ok := m.nodes[p]; ok {
		return fmt.Errorf("mkdir %s: %w", p, domain.ErrAlreadyExists)
	}
	parent, ok := m.nodes[path.Dir(p)]
	if !ok || !parent.dir {
		return notFound("mkdir", p)
	}
	m.nodes[p] = &memNode{dir: true, mode: fs.ModeDir | 0o755, uid: m.DefaultUID, gid: m.DefaultGID, mtime: time.Now()}
	return nil
}

func (s *MemSession) Rmdir(ctx context.Context, p string) error {
	if err := s.check(ctx, "rmdir", p); err != nil {
		return err
	}
	m := s.fs
	m.mu.Lock()
	defer m.mu.Unlock()
	p = path.Clean(p)
	n, ok := m.nodes[p]
	if !ok {
		return notFound("rmdir", p)
	}
	if !n.dir {
		return fmt.Errorf("rmdir %s: %w", p, domain.ErrNotDirectory)
	}
	for k := range m.nodes {
		if strings.HasPrefix(k, p+"/") {
			return fmt.Errorf("rmdir %s: directory not empty", p)
		}
	}
	delete(m.nodes, p)
	return nil
}

func (s *MemSession) Exec(ctx context.Context, cmd string) (adapter.ExecResult, error) {
	if err := s.check(ctx, "exec", ""); err != nil {
		return adapter.ExecResult{}, err
	}
	m := s.fs
	m.mu.Lock()
	m.execs = append(m.execs, cmd)
	fn := m.ExecFunc
	m.mu.Unlock()

	if fn == nil {
		return adapter.ExecResult{}, nil
	}
	return fn(cmd)
}

// Close marks the handle closed; later calls fail with ErrSessionClosed
func (s *MemSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.onClose != nil {
		s.onClose()
	}
	return nil
}

func infoOf(p string, n *memNode) domain.FileInfo {
	info := domain.FileInfo{
		Name:    path.Base(p),
		Path:    p,
		Mode:    n.mode,
		ModTime: n.mtime,
		UID:     n.uid,
		GID:     n.gid,
		Type:    domain.FileTypeOf(n.mode),
	}
	if !n.dir {
		info.Size = int64(len(n.data))
	}
	return info
}

// MemDialer hands out sessions on registered hosts and tracks open sessions
type MemDialer struct {
	mu       sync.Mutex
	hosts    map[string]*MemFS
	dialErrs map[string]error
	dials    int
	open     int
}

// NewMemDialer returns a dialer with no hosts
func NewMemDialer() *MemDialer {
	return &MemDialer{hosts: make(map[string]*MemFS), dialErrs: make(map[string]error)}
}

// Add registers m under host
func (d *MemDialer) Add(host string, m *MemFS) *MemDialer {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hosts[host] = m
	return d
}

// FailDial makes dials to host fail with err
func (d *MemDialer) FailDial(host string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dialErrs[host] = err
}

// Dial implements adapter.Dialer
func (d *MemDialer) Dial(ctx context.Context, ep domain.Endpoint) (adapter.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	connErr := func(err error) error {
		return &domain.ConnectionError{Endpoint: ep.Label(), Host: ep.Host, Port: ep.Port, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, connErr(err)
	}
	if err := d.dialErrs[ep.Host]; err != nil {
		return nil, connErr(err)
	}
	host, ok := d.hosts[ep.Host]
	if !ok {
		return nil, connErr(fmt.Errorf("no route to host %s", ep.Host))
	}

	d.dials++
	d.open++
	s := host.Session()
	s.onClose = func() {
		d.mu.Lock()
		d.open--
		d.mu.Unlock()
	}
	return s, nil
}

// Dials returns the number of successful dials
func (d *MemDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// OpenSessions returns dialed sessions that were not closed
func (d *MemDialer) OpenSessions() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}
