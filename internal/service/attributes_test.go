package service

import (
	"context"
	"io/fs"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ning0612/Sftpmirror/internal/domain"
	"github.com/Ning0612/Sftpmirror/internal/identity"
	"github.com/Ning0612/Sftpmirror/internal/testutil"
)

func TestParseSide(t *testing.T) {
	for in, want := range map[string]Side{"source": SideSource, "PROD": SideTarget, "": SideBoth, "both": SideBoth} {
		got, err := ParseSide(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseSide("middle")
	assert.Error(t, err)
}

func TestSetAttributes(t *testing.T) {
	f := newFixture(t)

	_, _, err := wait[AttributeComplete](t, f.svc.SetAttributes(context.Background(), f.tgtEp,
		AttributeChange{Path: "same.txt", Owner: "www-data", Perms: "640"}))
	require.NoError(t, err)

	perm, uid, gid, _ := f.tgt.Attr("/var/www/same.txt")
	assert.EqualValues(t, 33, uid)
	assert.EqualValues(t, 0, gid, "unspecified group keeps the current id")
	assert.Equal(t, "640", domain.FormatOctal(perm))
	assert.Equal(t, 0, f.dialer.OpenSessions())
}

func TestSetAttributes_SpecialBits(t *testing.T) {
	f := newFixture(t)

	_, _, err := wait[AttributeComplete](t, f.svc.SetAttributes(context.Background(), f.srcEp,
		AttributeChange{Path: "sub/added.sh", Perms: "4755"}))
	require.NoError(t, err)

	perm, _, _, _ := f.src.Attr("/srv/app/sub/added.sh")
	assert.Equal(t, fs.ModeSetuid|0o755, perm)
	assert.Equal(t, "755", domain.FormatOctal(perm))
}

func TestSetAttributes_Errors(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		change AttributeChange
		want   error
	}{
		{AttributeChange{Path: "same.txt", Owner: "ghost"}, domain.ErrUnknownOwner},
		{AttributeChange{Path: "same.txt", Group: "ghosts"}, domain.ErrUnknownGroup},
		{AttributeChange{Path: "same.txt", Perms: "999"}, domain.ErrInvalidPermissions},
		{AttributeChange{Path: "nope.txt", Perms: "644"}, domain.ErrNotFound},
	}
	for _, tc := range cases {
		_, _, err := wait[AttributeComplete](t, f.svc.SetAttributes(context.Background(), f.tgtEp, tc.change))
		var ae *domain.AttributeError
		require.ErrorAs(t, err, &ae, tc.change)
		assert.Equal(t, "PROD", ae.Endpoint)
		assert.ErrorIs(t, err, tc.want)
	}

	// a rejected owner leaves the file untouched
	_, uid, _, _ := f.tgt.Attr("/var/www/same.txt")
	assert.EqualValues(t, 0, uid)
}

func TestSetAttributesBatch_IndependentChanges(t *testing.T) {
	f := newFixture(t)

	res, _, err := wait[AttributeBatchResult](t, f.svc.SetAttributesBatch(context.Background(), f.srcEp, f.tgtEp, nil,
		[]AttributeRequest{
			{AttributeChange: AttributeChange{Path: "same.txt", Owner: "ghost"}, Side: SideTarget},
			{AttributeChange: AttributeChange{Path: "changed.txt", Owner: "root", Perms: "600"}, Side: SideBoth},
		}))
	require.NoError(t, err)

	require.Len(t, res.Errors, 1)
	assert.ErrorIs(t, res.Errors[0], domain.ErrUnknownOwner)
	assert.Len(t, res.Applied, 2)
	assert.Equal(t, "2 applied, 1 failed", res.String())

	perm, uid, _, _ := f.src.Attr("/srv/app/changed.txt")
	assert.Equal(t, "600", domain.FormatOctal(perm))
	assert.EqualValues(t, 0, uid)
	perm, uid, _, _ = f.tgt.Attr("/var/www/changed.txt")
	assert.Equal(t, "600", domain.FormatOctal(perm))
	assert.EqualValues(t, 0, uid)

	assert.Equal(t, 2, f.dialer.Dials(), "one session per side")
	assert.Equal(t, 0, f.dialer.OpenSessions())
}

func TestSetAttributesBatch_RespectsPresence(t *testing.T) {
	f := newFixture(t)
	rec, _, err := wait[*domain.Reconciliation](t, f.svc.Compare(context.Background(), f.srcEp, f.tgtEp))
	require.NoError(t, err)

	res, _, err := wait[AttributeBatchResult](t, f.svc.SetAttributesBatch(context.Background(), f.srcEp, f.tgtEp, rec,
		[]AttributeRequest{
			{AttributeChange: AttributeChange{Path: "sub/added.sh", Perms: "700"}, Side: SideBoth},
			{AttributeChange: AttributeChange{Path: "stale/removed.txt", Perms: "600"}, Side: SideBoth},
			{AttributeChange: AttributeChange{Path: "stale", Perms: "750"}, Side: SideSource},
		}))
	require.NoError(t, err)
	assert.Empty(t, res.Errors)
	require.Len(t, res.Applied, 2)
	assert.Equal(t, AttributeComplete{Endpoint: "TEST", Path: "sub/added.sh"}, res.Applied[0])
	assert.Equal(t, AttributeComplete{Endpoint: "PROD", Path: "stale/removed.txt"}, res.Applied[1])

	perm, _, _, _ := f.src.Attr("/srv/app/sub/added.sh")
	assert.Equal(t, "700", domain.FormatOctal(perm))
	assert.False(t, f.tgt.Exists("/var/www/sub/added.sh"))
	perm, _, _, _ = f.tgt.Attr("/var/www/stale/removed.txt")
	assert.Equal(t, "600", domain.FormatOctal(perm))
	perm, _, _, _ = f.tgt.Attr("/var/www/stale")
	assert.Equal(t, "755", domain.FormatOctal(perm), "source-only request never touches the target")
}

func TestSetAttributesBatch_UnknownPath(t *testing.T) {
	f := newFixture(t)
	rec, _, err := wait[*domain.Reconciliation](t, f.svc.Compare(context.Background(), f.srcEp, f.tgtEp))
	require.NoError(t, err)

	res, _, err := wait[AttributeBatchResult](t, f.svc.SetAttributesBatch(context.Background(), f.srcEp, f.tgtEp, rec,
		[]AttributeRequest{{AttributeChange: AttributeChange{Path: "ghost.txt", Perms: "644"}, Side: SideBoth}}))
	require.NoError(t, err)
	require.Len(t, res.Errors, 1)
	assert.ErrorIs(t, res.Errors[0], domain.ErrNotFound)
}

func TestListUsersAndGroups(t *testing.T) {
	f := newFixture(t)

	users, _, err := wait[NameList](t, f.svc.ListUsers(context.Background(), f.srcEp))
	require.NoError(t, err)
	assert.Equal(t, []string{"deploy", "root", "www-data"}, users.Names)
	assert.Equal(t, "users", users.Kind)

	groups, _, err := wait[NameList](t, f.svc.ListGroups(context.Background(), f.tgtEp))
	require.NoError(t, err)
	assert.Equal(t, "PROD", groups.Endpoint)
	assert.Equal(t, []string{"deploy", "root", "www-data"}, groups.Names)
}

func TestListNames_OneTableUnreadable(t *testing.T) {
	f := newFixture(t)
	f.tgt.FailOn("open", identity.GroupPath, domain.ErrPermissionDenied)

	users, _, err := wait[NameList](t, f.svc.ListUsers(context.Background(), f.tgtEp))
	require.NoError(t, err)
	assert.Equal(t, []string{"deploy", "root", "www-data"}, users.Names)

	_, _, err = wait[NameList](t, f.svc.ListGroups(context.Background(), f.tgtEp))
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)
}

func TestSetAttributes_OwnerWithGroupTableUnreadable(t *testing.T) {
	f := newFixture(t)
	f.tgt.FailOn("open", identity.GroupPath, domain.ErrPermissionDenied)

	_, lines, err := wait[AttributeComplete](t, f.svc.SetAttributes(context.Background(), f.tgtEp,
		AttributeChange{Path: "same.txt", Owner: "deploy"}))
	require.NoError(t, err)
	assert.Contains(t, strings.Join(lines, "\n"), "identity lookup failed")

	_, uid, _, _ := f.tgt.Attr("/var/www/same.txt")
	assert.EqualValues(t, 1000, uid)
}

func TestListUsers_Concurrent(t *testing.T) {
	f := newFixture(t)

	a := f.svc.ListUsers(context.Background(), f.srcEp)
	b := f.svc.ListUsers(context.Background(), f.tgtEp)
	_, _, errA := wait[NameList](t, a)
	_, _, errB := wait[NameList](t, b)
	require.NoError(t, errA)
	require.NoError(t, errB)

	testutil.AssertEventually(t, time.Second, func() bool { return f.dialer.OpenSessions() == 0 })
}
