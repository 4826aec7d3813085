package identity

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/Ning0612/Sftpmirror/internal/adapter"
)

// Remote identity databases
const (
	PasswdPath = "/etc/passwd"
	GroupPath  = "/etc/group"
)

// Table is one direction-paired id/name table
type Table struct {
	ByID   map[int]string
	ByName map[string]int
}

// ParseTable parses colon separated records: name:x:id:...
// Blank lines, '#' comments, records with fewer than three fields and
// records with a non-numeric id are skipped.
func ParseTable(r io.Reader) (Table, error) {
	t := Table{ByID: make(map[int]string), ByName: make(map[string]int)}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ":")
		if len(fields) < 3 || fields[0] == "" {
			continue
		}
		id, err := strconv.Atoi(fields[2])
		if err != nil {
			continue
		}
		// First record wins for duplicate ids, matching getpwuid
		if _, dup := t.ByID[id]; !dup {
			t.ByID[id] = fields[0]
		}
		t.ByName[fields[0]] = id
	}
	if err := sc.Err(); err != nil {
		return t, err
	}
	return t, nil
}

// Maps holds the user and group tables of one endpoint.
// Built per task and never cached across tasks.
type Maps struct {
	Users  Table
	Groups Table
}

// Empty returns maps with no entries; every lookup falls back to numbers
func Empty() *Maps {
	return &Maps{
		Users:  Table{ByID: map[int]string{}, ByName: map[string]int{}},
		Groups: Table{ByID: map[int]string{}, ByName: map[string]int{}},
	}
}

// TableError reports an identity file that could not be read or parsed
type TableError struct {
	Path string
	Err  error
}

func (e *TableError) Error() string {
	return fmt.Sprintf("read %s: %v", e.Path, e.Err)
}

func (e *TableError) Unwrap() error {
	return e.Err
}

// Resolve reads both identity files through the session. The maps are never
// nil: a table that cannot be read stays empty, the other is kept, and the
// error joins one *TableError per failed file.
func Resolve(ctx context.Context, s adapter.Session) (*Maps, error) {
	m := Empty()
	var errs []error
	if t, err := readTable(ctx, s, PasswdPath); err != nil {
		errs = append(errs, err)
	} else {
		m.Users = t
	}
	if t, err := readTable(ctx, s, GroupPath); err != nil {
		errs = append(errs, err)
	} else {
		m.Groups = t
	}
	return m, errors.Join(errs...)
}

// Failed reports whether err records a failure to read path
func Failed(err error, path string) bool {
	if err == nil {
		return false
	}
	if te, ok := err.(*TableError); ok {
		return te.Path == path
	}
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range j.Unwrap() {
			if Failed(e, path) {
				return true
			}
		}
	}
	return false
}

func readTable(ctx context.Context, s adapter.Session, path string) (Table, error) {
	rc, err := s.Open(ctx, path)
	if err != nil {
		return Table{}, &TableError{Path: path, Err: err}
	}
	defer rc.Close()

	t, err := ParseTable(rc)
	if err != nil {
		return Table{}, &TableError{Path: path, Err: err}
	}
	return t, nil
}

// OwnerName returns the user name for uid, or the decimal uid
func (m *Maps) OwnerName(uid int) string {
	if name, ok := m.Users.ByID[uid]; ok {
		return name
	}
	return strconv.Itoa(uid)
}

// GroupName returns the group name for gid, or the decimal gid
func (m *Maps) GroupName(gid int) string {
	if name, ok := m.Groups.ByID[gid]; ok {
		return name
	}
	return strconv.Itoa(gid)
}

// UID looks up a user name
func (m *Maps) UID(name string) (int, bool) {
	id, ok := m.Users.ByName[name]
	return id, ok
}

// GID looks up a group name
func (m *Maps) GID(name string) (int, bool) {
	id, ok := m.Groups.ByName[name]
	return id, ok
}

// UserNames returns all user names, sorted
func (m *Maps) UserNames() []string {
	return sortedNames(m.Users.ByName)
}

// GroupNames returns all group names, sorted
func (m *Maps) GroupNames() []string {
	return sortedNames(m.Groups.ByName)
}

func sortedNames(byName map[string]int) []string {
	names := make([]string, 0, len(byName))
	for n := range byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
