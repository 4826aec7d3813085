package domain

import (
	"fmt"
	"net"
	"path"
	"strconv"
	"strings"
)

// DefaultSSHPort is used when an endpoint leaves the port unset
const DefaultSSHPort = 22

// Standard endpoint labels
const (
	SourceLabel = "TEST"
	TargetLabel = "PROD"
)

// Endpoint describes one remote SFTP tree.
// Endpoints are passed by value; use Normalize to obtain a validated copy.
type Endpoint struct {
	// Name is a display label such as TEST or PROD
	Name string `mapstructure:"name" yaml:"name,omitempty"`

	Host string `mapstructure:"host" yaml:"host"`

	Port int `mapstructure:"port" yaml:"port"`

	Username string `mapstructure:"username" yaml:"username"`

	// Password is never logged and only persisted on explicit request
	Password string `mapstructure:"password" yaml:"password,omitempty"`

	// PrivateKeyPath is an optional OpenSSH private key
	PrivateKeyPath string `mapstructure:"private_key" yaml:"private_key,omitempty"`

	// Root is the absolute remote directory that is mirrored
	Root string `mapstructure:"root" yaml:"root"`
}

// Canonical returns a copy with trimmed fields, a default port and a cleaned
// root without trailing slash ("/" stays "/"). Nothing is validated.
func (e Endpoint) Canonical() Endpoint {
	e.Host = strings.TrimSpace(e.Host)
	e.Username = strings.TrimSpace(e.Username)
	if e.Port == 0 {
		e.Port = DefaultSSHPort
	}
	if root := strings.TrimSpace(e.Root); root != "" {
		e.Root = CleanRoot(root)
	} else {
		e.Root = ""
	}
	return e
}

// Normalize returns the Canonical form after checking it with Validate
func (e Endpoint) Normalize() (Endpoint, error) {
	e = e.Canonical()
	if err := e.Validate(); err != nil {
		return Endpoint{}, err
	}
	return e, nil
}

// Validate checks that the endpoint can be dialed and scanned
func (e Endpoint) Validate() error {
	label := e.Label()
	if e.Host == "" {
		return fmt.Errorf("%w: %s: host is required", ErrConfigInvalid, label)
	}
	if e.Port < 1 || e.Port > 65535 {
		return fmt.Errorf("%w: %s: port %d out of range", ErrConfigInvalid, label, e.Port)
	}
	if e.Username == "" {
		return fmt.Errorf("%w: %s: username is required", ErrConfigInvalid, label)
	}
	if e.Password == "" && e.PrivateKeyPath == "" {
		return fmt.Errorf("%w: %s: password or private_key is required", ErrConfigInvalid, label)
	}
	if e.Root == "" {
		return fmt.Errorf("%w: %s: root is required", ErrConfigInvalid, label)
	}
	if !path.IsAbs(e.Root) {
		return fmt.Errorf("%w: %s: root %q must be absolute", ErrConfigInvalid, label, e.Root)
	}
	return nil
}

// Label returns Name, or host when no name was given
func (e Endpoint) Label() string {
	if e.Name != "" {
		return e.Name
	}
	return e.Host
}

// Addr returns host:port
func (e Endpoint) Addr() string {
	port := e.Port
	if port == 0 {
		port = DefaultSSHPort
	}
	return net.JoinHostPort(e.Host, strconv.Itoa(port))
}

// RemotePath joins a root-relative path onto the root
func (e Endpoint) RemotePath(rel string) string {
	return JoinRemote(e.Root, rel)
}

// String never includes the password
func (e Endpoint) String() string {
	return fmt.Sprintf("%s (%s@%s:%s)", e.Label(), e.Username, e.Addr(), e.Root)
}

// CleanRoot normalizes a remote root to a clean POSIX path without trailing slash.
func CleanRoot(p string) string {
	return path.Clean(strings.ReplaceAll(p, "\\", "/"))
}

// JoinRemote joins remote path segments with forward slashes.
func JoinRemote(base string, elem ...string) string {
	parts := append([]string{base}, elem...)
	return path.Join(parts...)
}

// RelPath returns full relative to root. The result never has a leading slash.
// Paths outside root yield ErrPathEscapesRoot; root itself yields ".".
func RelPath(root, full string) (string, error) {
	root = path.Clean(root)
	full = path.Clean(full)
	if full == root {
		return ".", nil
	}
	prefix := root
	if prefix != "/" {
		prefix += "/"
	}
	rel, ok := strings.CutPrefix(full, prefix)
	if !ok || rel == "" {
		return "", fmt.Errorf("%w: %s not under %s", ErrPathEscapesRoot, full, root)
	}
	return rel, nil
}

// CleanRel normalizes a user supplied relative path and rejects escapes.
func CleanRel(rel string) (string, error) {
	rel = strings.ReplaceAll(strings.TrimSpace(rel), "\\", "/")
	c := path.Clean("/" + rel)
	if c == "/" {
		return "", fmt.Errorf("%w: empty relative path", ErrPathEscapesRoot)
	}
	c = strings.TrimPrefix(c, "/")
	if strings.HasPrefix(path.Clean(rel), "..") {
		return "", fmt.Errorf("%w: %s", ErrPathEscapesRoot, rel)
	}
	return c, nil
}
