package backup

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ning0612/Sftpmirror/internal/adapter"
	"github.com/Ning0612/Sftpmirror/internal/domain"
	"github.com/Ning0612/Sftpmirror/internal/testutil"
)

var stamp = time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)

func prodHost() *testutil.MemFS {
	host := testutil.NewHost()
	host.WriteFile("/var/www/html/index.php", []byte("<?php echo 1;"), 0o644, 33, 33)
	host.WriteFile("/var/www/html/assets/app.css", []byte("body{}"), 0o644, 33, 33)
	host.MkdirAll("/var/www/html/empty", 0o755, 33, 33)
	return host
}

func TestNames(t *testing.T) {
	assert.Equal(t, "-backup-20240309-140507", Suffix(stamp))
	assert.Equal(t, "/var/www/html-backup-20240309-140507", RemotePath("/var/www/html/", stamp))
	assert.Equal(t, "html-backup-20240309-140507", LocalDirName("/var/www/html", stamp))
	assert.Equal(t, "root-backup-20240309-140507", LocalDirName("/", stamp))
}

func TestRemote_Success(t *testing.T) {
	host := prodHost()
	var lines []string

	dest, err := Remote(context.Background(), host.Session(), "/var/www/html", stamp, func(s string) { lines = append(lines, s) })
	require.NoError(t, err)

	assert.Equal(t, "/var/www/html-backup-20240309-140507", dest)
	assert.Equal(t, []string{"cp -r /var/www/html /var/www/html-backup-20240309-140507"}, host.Execs())
	assert.Contains(t, lines, "Remote backup completed successfully to "+dest)
}

func TestRemote_QuotesPaths(t *testing.T) {
	host := prodHost()
	_, err := Remote(context.Background(), host.Session(), "/srv/my site", stamp, nil)
	require.NoError(t, err)
	assert.Equal(t, `cp -r '/srv/my site' '/srv/my site-backup-20240309-140507'`, host.Execs()[0])
}

func TestRemote_NonZeroExit(t *testing.T) {
	host := prodHost()
	host.ExecFunc = func(cmd string) (adapter.ExecResult, error) {
		return adapter.ExecResult{ExitCode: 1, Stderr: "cp: cannot create directory: Permission denied\n"}, nil
	}

	_, err := Remote(context.Background(), host.Session(), "/var/www/html", stamp, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrBackupFailed)

	var be *domain.BackupError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, domain.BackupRemote, be.Mode)
	assert.Equal(t, "cp: cannot create directory: Permission denied", be.Stderr)
	assert.Contains(t, err.Error(), "status 1")
}

func TestRemote_ExecError(t *testing.T) {
	host := prodHost()
	host.FailOn("exec", "", errors.New("session closed by peer"))

	_, err := Remote(context.Background(), host.Session(), "/var/www/html", stamp, nil)
	assert.ErrorIs(t, err, domain.ErrBackupFailed)
	assert.ErrorContains(t, err, "session closed by peer")
}

func TestRemote_RefusesFilesystemRoot(t *testing.T) {
	host := prodHost()
	_, err := Remote(context.Background(), host.Session(), "/", stamp, nil)
	assert.ErrorIs(t, err, domain.ErrBackupFailed)
	assert.Empty(t, host.Execs())
}

func TestLocal_DownloadsTree(t *testing.T) {
	fs := afero.NewMemMapFs()
	host := prodHost()

	dest, err := NewLocal(fs).Run(context.Background(), host.Session(), "/var/www/html", "/backups", stamp, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/backups", "html-backup-20240309-140507"), dest)

	got, err := afero.ReadFile(fs, filepath.Join(dest, "index.php"))
	require.NoError(t, err)
	assert.Equal(t, "<?php echo 1;", string(got))

	got, err = afero.ReadFile(fs, filepath.Join(dest, "assets", "app.css"))
	require.NoError(t, err)
	assert.Equal(t, "body{}", string(got))

	isDir, err := afero.IsDir(fs, filepath.Join(dest, "empty"))
	require.NoError(t, err)
	assert.True(t, isDir)
}

func TestLocal_AnyFailureIsFatal(t *testing.T) {
	fs := afero.NewMemMapFs()
	host := prodHost()
	host.FailOn("open", "/var/www/html/assets/app.css", domain.ErrPermissionDenied)

	_, err := NewLocal(fs).Run(context.Background(), host.Session(), "/var/www/html", "/backups", stamp, nil, nil)
	require.Error(t, err)

	var be *domain.BackupError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, domain.BackupLocal, be.Mode)
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)
	assert.Contains(t, err.Error(), "/var/www/html/assets/app.css")
}

func TestLocal_ListingFailureIsFatal(t *testing.T) {
	host := prodHost()
	host.FailOn("readdir", "/var/www/html", domain.ErrPermissionDenied)

	_, err := NewLocal(afero.NewMemMapFs()).Run(context.Background(), host.Session(), "/var/www/html", "/backups", stamp, nil, nil)
	assert.ErrorIs(t, err, domain.ErrBackupFailed)
}

func TestLocal_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewLocal(afero.NewMemMapFs()).Run(ctx, prodHost().Session(), "/var/www/html", "/backups", stamp, nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, domain.ErrBackupFailed)
}
