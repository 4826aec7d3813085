package testutil

import (
	"math/rand"
	"testing"
	"time"

	"github.com/Ning0612/Sftpmirror/internal/domain"
)

// Standard identity files used by the in-memory hosts
const (
	Passwd = "root:x:0:0:root:/root:/bin/bash\n" +
		"# service accounts\n" +
		"www-data:x:33:33:www-data:/var/www:/usr/sbin/nologin\n" +
		"deploy:x:1000:1000::/home/deploy:/bin/bash\n"
	Group = "root:x:0:\n" +
		"www-data:x:33:\n" +
		"deploy:x:1000:\n"
)

// Endpoint returns a valid endpoint for host with the given root
func Endpoint(name, host, root string) domain.Endpoint {
	return domain.Endpoint{
		Name:     name,
		Host:     host,
		Port:     22,
		Username: "deploy",
		Password: "secret",
		Root:     root,
	}
}

// WaitForCondition waits for a condition to be true with timeout
func WaitForCondition(timeout time.Duration, condition func() bool) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if condition() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		<-ticker.C
	}
}

// AssertEventually asserts that a condition becomes true within timeout
func AssertEventually(t *testing.T, timeout time.Duration, condition func() bool, msgAndArgs ...interface{}) {
	t.Helper()

	if !WaitForCondition(timeout, condition) {
		if len(msgAndArgs) > 0 {
			t.Fatalf("condition not met within %v: %v", timeout, msgAndArgs[0])
		} else {
			t.Fatalf("condition not met within %v", timeout)
		}
	}
}

// RandomBytes returns n pseudo random bytes
func RandomBytes(n int) []byte {
	b := make([]byte, n)
	rand.Read(b)
	return b
}

// RandomString generates a random string of the given length
func RandomString(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, length)
	for i := range b {
		b[i] = charset[rand.Intn(len(charset))]
	}
	return string(b)
}
