package domain

import (
	"errors"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndpoint_Normalize(t *testing.T) {
	ep, err := Endpoint{Name: "TEST", Host: " example.com ", Username: "deploy", Password: "x", Root: "/var/www/"}.Normalize()
	require.NoError(t, err)

	assert.Equal(t, "example.com", ep.Host)
	assert.Equal(t, 22, ep.Port)
	assert.Equal(t, "/var/www", ep.Root)
	assert.Equal(t, "example.com:22", ep.Addr())
	assert.Equal(t, "/var/www/a/b.txt", ep.RemotePath("a/b.txt"))
}

func TestEndpoint_NormalizeSlashRoot(t *testing.T) {
	ep, err := Endpoint{Host: "h", Username: "u", PrivateKeyPath: "/k", Root: "//"}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, "/", ep.Root)
	assert.Equal(t, "/etc/passwd", ep.RemotePath("etc/passwd"))
}

func TestEndpoint_CanonicalSkipsValidation(t *testing.T) {
	ep := Endpoint{Host: " prod ", Username: "deploy", Root: "/var/www//"}.Canonical()
	assert.Equal(t, "prod", ep.Host)
	assert.Equal(t, DefaultSSHPort, ep.Port)
	assert.Equal(t, "/var/www", ep.Root)
	assert.Error(t, ep.Validate())

	assert.Empty(t, Endpoint{Root: "  "}.Canonical().Root)
}

func TestEndpoint_Validate(t *testing.T) {
	base := Endpoint{Host: "h", Port: 22, Username: "u", Password: "p", Root: "/srv"}

	cases := map[string]func(e *Endpoint){
		"no host":     func(e *Endpoint) { e.Host = "" },
		"bad port":    func(e *Endpoint) { e.Port = 70000 },
		"no user":     func(e *Endpoint) { e.Username = "" },
		"no secret":   func(e *Endpoint) { e.Password = "" },
		"no root":     func(e *Endpoint) { e.Root = "" },
		"relative":    func(e *Endpoint) { e.Root = "srv" },
		"negative pt": func(e *Endpoint) { e.Port = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			e := base
			mutate(&e)
			err := e.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrConfigInvalid))
		})
	}

	require.NoError(t, base.Validate())
}

func TestEndpoint_StringHidesPassword(t *testing.T) {
	e := Endpoint{Name: "PROD", Host: "h", Port: 2222, Username: "u", Password: "hunter2", Root: "/srv"}
	assert.NotContains(t, e.String(), "hunter2")
	assert.Contains(t, e.String(), "h:2222")
}

func TestRelPath(t *testing.T) {
	tests := []struct {
		root, full, want string
		escapes          bool
	}{
		{"/srv/app", "/srv/app/a.txt", "a.txt", false},
		{"/srv/app", "/srv/app/sub/b.txt", "sub/b.txt", false},
		{"/srv/app", "/srv/app", ".", false},
		{"/srv/app/", "/srv/app//sub/", "sub", false},
		{"/", "/etc/passwd", "etc/passwd", false},
		{"/srv/app", "/srv/application/x", "", true},
		{"/srv/app", "/srv/other", "", true},
	}
	for _, tt := range tests {
		got, err := RelPath(tt.root, tt.full)
		if tt.escapes {
			assert.ErrorIs(t, err, ErrPathEscapesRoot, "%s under %s", tt.full, tt.root)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestCleanRel(t *testing.T) {
	got, err := CleanRel("/a/./b/../c.txt")
	require.NoError(t, err)
	assert.Equal(t, "a/c.txt", got)

	_, err = CleanRel("../etc/passwd")
	assert.ErrorIs(t, err, ErrPathEscapesRoot)

	_, err = CleanRel("")
	assert.ErrorIs(t, err, ErrPathEscapesRoot)
}

func TestPermissions(t *testing.T) {
	assert.Equal(t, "755", FormatOctal(0o755))
	assert.Equal(t, "644", FormatOctal(fs.ModeDir|0o644))
	assert.Equal(t, "000", FormatOctal(0))
	assert.Equal(t, "007", FormatOctal(0o7))

	m, err := ParseOctal("0640")
	require.NoError(t, err)
	assert.Equal(t, fs.FileMode(0o640), m)

	m, err = ParseOctal("0o600")
	require.NoError(t, err)
	assert.Equal(t, fs.FileMode(0o600), m)

	m, err = ParseOctal("4755")
	require.NoError(t, err)
	assert.Equal(t, fs.ModeSetuid|0o755, m)

	m, err = ParseOctal("1777")
	require.NoError(t, err)
	assert.Equal(t, fs.ModeSticky|0o777, m)

	m, err = ParseOctal("07777")
	require.NoError(t, err)
	assert.Equal(t, fs.ModeSetuid|fs.ModeSetgid|fs.ModeSticky|0o777, m)
	assert.Equal(t, "777", FormatOctal(m))

	for _, bad := range []string{"", "rwx", "888", "17777", "-1"} {
		_, err := ParseOctal(bad)
		assert.ErrorIs(t, err, ErrInvalidPermissions, bad)
	}

	assert.Equal(t, "-rwxr-xr-x", SymbolicMode(0o755))
	assert.Equal(t, "drwx------", SymbolicMode(fs.ModeDir|0o700))
}

func TestBackupError_Is(t *testing.T) {
	err := error(&BackupError{Mode: BackupRemote, Path: "/srv-backup", Err: errors.New("exit 1")})
	assert.ErrorIs(t, err, ErrBackupFailed)

	var be *BackupError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, BackupRemote, be.Mode)
}
