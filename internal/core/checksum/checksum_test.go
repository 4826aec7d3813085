package checksum

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/Ning0612/Sftpmirror/internal/testutil"
)

func TestMD5Calculation(t *testing.T) {
	calc := NewDefaultCalculator()

	result, err := calc.Calculate(context.Background(), strings.NewReader("hello world"), MD5)
	if err != nil {
		t.Fatalf("Calculate failed: %v", err)
	}

	if result != "5eb63bbbe01eeed093cb22bb8f5acdc3" {
		t.Errorf("MD5 mismatch: got %s", result)
	}
	if len(result) != 32 {
		t.Errorf("MD5 fingerprint should be 128 bits (32 hex chars), got %d", len(result))
	}
}

func TestSHA256Calculation(t *testing.T) {
	calc := NewDefaultCalculator()

	result, err := calc.Calculate(context.Background(), strings.NewReader("hello world"), SHA256)
	if err != nil {
		t.Fatalf("Calculate failed: %v", err)
	}

	if result != "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9" {
		t.Errorf("SHA256 mismatch: got %s", result)
	}
}

func TestXXHashCalculation(t *testing.T) {
	calc := NewDefaultCalculator()
	ctx := context.Background()

	a, err := calc.Calculate(ctx, strings.NewReader("hello world"), XXHash)
	if err != nil {
		t.Fatalf("Calculate failed: %v", err)
	}
	b, _ := calc.Calculate(ctx, strings.NewReader("hello world"), XXHash)
	c, _ := calc.Calculate(ctx, strings.NewReader("hello worle"), XXHash)

	if len(a) != 16 {
		t.Errorf("xxhash fingerprint should be 64 bits (16 hex chars), got %q", a)
	}
	if a != b {
		t.Errorf("xxhash not deterministic: %s != %s", a, b)
	}
	if a == c {
		t.Error("different content produced the same xxhash")
	}
}

func TestEmptyFile(t *testing.T) {
	calc := NewDefaultCalculator()
	ctx := context.Background()

	result, err := calc.Calculate(ctx, strings.NewReader(""), MD5)
	if err != nil {
		t.Fatalf("MD5 Calculate failed: %v", err)
	}
	if result != "d41d8cd98f00b204e9800998ecf8427e" {
		t.Errorf("MD5 empty file mismatch: got %s", result)
	}
}

func TestDefaultOptions_Unlimited(t *testing.T) {
	if DefaultOptions().MaxSize != 0 {
		t.Error("default must fingerprint the complete content")
	}
}

func TestMaxSizeLimit(t *testing.T) {
	calc := NewCalculator(Options{MaxSize: 10, BufferSize: 4096})

	_, err := calc.Calculate(context.Background(), strings.NewReader("this is a long string that exceeds 10 bytes"), MD5)
	if err == nil {
		t.Fatal("Expected error for file exceeding MaxSize, got nil")
	}
	if !strings.Contains(err.Error(), "exceeds maximum") {
		t.Errorf("Expected 'exceeds maximum' error, got: %v", err)
	}

	// Exactly MaxSize is fine
	if _, err := calc.Calculate(context.Background(), strings.NewReader("0123456789"), MD5); err != nil {
		t.Errorf("Expected content of exactly MaxSize to pass, got %v", err)
	}
}

func TestContextCancellation(t *testing.T) {
	calc := NewDefaultCalculator()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := calc.Calculate(ctx, strings.NewReader("some data"), SHA256)
	if err != context.Canceled {
		t.Errorf("Expected context.Canceled, got: %v", err)
	}
}

func TestContextTimeout(t *testing.T) {
	calc := NewCalculator(Options{BufferSize: 1})

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(2 * time.Millisecond)

	_, err := calc.Calculate(ctx, strings.NewReader(strings.Repeat("a", 10000)), MD5)
	if err != context.DeadlineExceeded {
		t.Errorf("Expected DeadlineExceeded, got %v", err)
	}
}

func TestUnsupportedAlgorithm(t *testing.T) {
	calc := NewDefaultCalculator()

	_, err := calc.Calculate(context.Background(), strings.NewReader("test"), Algorithm("invalid"))
	if err == nil || !strings.Contains(err.Error(), "unsupported algorithm") {
		t.Errorf("Expected 'unsupported algorithm' error, got: %v", err)
	}
}

func TestParseAlgorithm(t *testing.T) {
	tests := []struct {
		in      string
		want    Algorithm
		wantErr bool
	}{
		{"", MD5, false},
		{"MD5", MD5, false},
		{" sha256 ", SHA256, false},
		{"xxhash", XXHash, false},
		{"sha1", "", true},
	}
	for _, tt := range tests {
		got, err := ParseAlgorithm(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseAlgorithm(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseAlgorithm(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestLargeFileStreaming(t *testing.T) {
	calc := NewDefaultCalculator()
	ctx := context.Background()

	largeContent := testutil.RandomBytes(1024 * 1024)

	result, err := calc.Calculate(ctx, bytes.NewReader(largeContent), MD5)
	if err != nil {
		t.Fatalf("Calculate failed for large file: %v", err)
	}
	result2, err := calc.Calculate(ctx, bytes.NewReader(largeContent), MD5)
	if err != nil {
		t.Fatalf("Second calculate failed: %v", err)
	}
	if result != result2 {
		t.Errorf("Checksums should be identical: %s != %s", result, result2)
	}
}
