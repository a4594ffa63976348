package content_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"hyper-go/internal/content"
)

func TestNewHasher(t *testing.T) {
	tests := []struct {
		name      string
		algorithm string
		want      string
		wantErr   bool
	}{
		{"default", "", content.SHA256, false},
		{"sha256", "sha256", content.SHA256, false},
		{"blake3", "blake3", content.BLAKE3, false},
		{"unknown", "md5", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := content.NewHasher(tt.algorithm)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewHasher() error = %v", err)
			}
			if h.Algorithm() != tt.want {
				t.Errorf("Algorithm() = %q, want %q", h.Algorithm(), tt.want)
			}
		})
	}
}

func TestHasher_Sum(t *testing.T) {
	t.Run("sha256 known digest", func(t *testing.T) {
		h, _ := content.NewHasher(content.SHA256)
		sum, n, err := h.Sum(strings.NewReader("hello"))
		if err != nil {
			t.Fatalf("Sum() error = %v", err)
		}
		want := "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
		if sum != want {
			t.Errorf("Sum() = %s, want %s", sum, want)
		}
		if n != 5 {
			t.Errorf("Sum() n = %d, want 5", n)
		}
	})

	t.Run("blake3 empty input", func(t *testing.T) {
		h, _ := content.NewHasher(content.BLAKE3)
		sum, _, err := h.Sum(bytes.NewReader(nil))
		if err != nil {
			t.Fatalf("Sum() error = %v", err)
		}
		want := "af1349b9f5f9a1a6a0404dea36dcc9499bcb25c9adc112b7cc9a93cae41f3262"
		if sum != want {
			t.Errorf("Sum() = %s, want %s", sum, want)
		}
	})

	t.Run("streaming matches in-memory across chunk boundaries", func(t *testing.T) {
		h, _ := content.NewHasher(content.SHA256)
		data := bytes.Repeat([]byte("0123456789"), content.ChunkSize/5+3)
		sum, n, err := h.Sum(bytes.NewReader(data))
		if err != nil {
			t.Fatalf("Sum() error = %v", err)
		}
		if sum != h.SumBytes(data) {
			t.Error("streamed digest differs from SumBytes")
		}
		if n != int64(len(data)) {
			t.Errorf("n = %d, want %d", n, len(data))
		}
	})
}

func TestHasher_File(t *testing.T) {
	openPath := func(p string) func() (io.ReadCloser, error) {
		return func() (io.ReadCloser, error) { return os.Open(p) }
	}

	t.Run("checksum is stable across rename", func(t *testing.T) {
		dir := t.TempDir()
		before := filepath.Join(dir, "clip.mp4")
		after := filepath.Join(dir, "renamed.mp4")
		if err := os.WriteFile(before, []byte("frame data"), 0644); err != nil {
			t.Fatal(err)
		}

		h, _ := content.NewHasher("")
		first, _, err := h.File(context.Background(), openPath(before))
		if err != nil {
			t.Fatalf("File() error = %v", err)
		}
		if err := os.Rename(before, after); err != nil {
			t.Fatal(err)
		}
		second, _, err := h.File(context.Background(), openPath(after))
		if err != nil {
			t.Fatalf("File() error = %v", err)
		}
		if first != second {
			t.Errorf("checksum changed across rename: %s != %s", first, second)
		}
	})

	t.Run("open failure is returned", func(t *testing.T) {
		h, _ := content.NewHasher("")
		_, _, err := h.File(context.Background(), openPath(filepath.Join(t.TempDir(), "missing")))
		if !errors.Is(err, os.ErrNotExist) {
			t.Errorf("File() error = %v, want ErrNotExist", err)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		p := filepath.Join(t.TempDir(), "f")
		if err := os.WriteFile(p, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		h, _ := content.NewHasher("")
		_, _, err := h.File(ctx, openPath(p))
		if !errors.Is(err, context.Canceled) {
			t.Errorf("File() error = %v, want context.Canceled", err)
		}
	})
}
