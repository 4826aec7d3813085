package domain

import (
	"fmt"
	"io/fs"
	"strconv"
	"strings"
)

// PermMask selects the nine rwx permission bits
const PermMask fs.FileMode = 0o777

// ChmodMask is what a chmod applies: rwx plus setuid, setgid and sticky
const ChmodMask = PermMask | fs.ModeSetuid | fs.ModeSetgid | fs.ModeSticky

// FormatOctal renders the permission bits as three base 8 digits, e.g. "644".
func FormatOctal(mode fs.FileMode) string {
	return fmt.Sprintf("%03o", uint32(mode&PermMask))
}

// ParseOctal parses a permission string such as "644", "0755", "4755" or
// "0o600". The 4000, 2000 and 1000 bits become ModeSetuid, ModeSetgid and
// ModeSticky.
func ParseOctal(s string) (fs.FileMode, error) {
	t := strings.TrimSpace(s)
	t = strings.TrimPrefix(strings.TrimPrefix(t, "0o"), "0O")
	if t == "" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPermissions, s)
	}
	v, err := strconv.ParseUint(t, 8, 32)
	if err != nil || v > 0o7777 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPermissions, s)
	}

	mode := fs.FileMode(v) & PermMask
	if v&0o4000 != 0 {
		mode |= fs.ModeSetuid
	}
	if v&0o2000 != 0 {
		mode |= fs.ModeSetgid
	}
	if v&0o1000 != 0 {
		mode |= fs.ModeSticky
	}
	return mode, nil
}

// SymbolicMode renders a mode for display, e.g. "-rw-r--r--" or "drwxr-xr-x".
func SymbolicMode(mode fs.FileMode) string {
	return (mode.Type() | mode&PermMask).String()
}
