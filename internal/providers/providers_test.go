package providers

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLocalUploaderUploadBytes(t *testing.T) {
	tmpDir := t.TempDir()
	uploader := NewLocalUploader(tmpDir)

	url, err := uploader.UploadBytes(context.Background(), "runs/1/summary.json", "application/json", []byte(`{"passed":1}`))
	if err != nil {
		t.Fatalf("UploadBytes failed: %v", err)
	}
	if !strings.HasPrefix(url, "file://") || !strings.HasSuffix(url, "runs/1/summary.json") {
		t.Fatalf("unexpected url %q", url)
	}

	content, err := os.ReadFile(filepath.Join(tmpDir, "runs", "1", "summary.json"))
	if err != nil {
		t.Fatalf("Failed to read uploaded file: %v", err)
	}
	if string(content) != `{"passed":1}` {
		t.Errorf("unexpected content %s", content)
	}

	entries, _ := os.ReadDir(filepath.Join(tmpDir, "runs", "1"))
	if len(entries) != 1 {
		t.Errorf("expected temporary files to be cleaned up, got %d entries", len(entries))
	}
}

func TestLocalUploaderOverwrites(t *testing.T) {
	tmpDir := t.TempDir()
	uploader := NewLocalUploader(tmpDir)
	ctx := context.Background()

	for _, body := range []string{"first", "second"} {
		if _, err := uploader.UploadBytes(ctx, "summary.json", "application/json", []byte(body)); err != nil {
			t.Fatalf("UploadBytes failed: %v", err)
		}
	}
	content, _ := os.ReadFile(filepath.Join(tmpDir, "summary.json"))
	if string(content) != "second" {
		t.Errorf("expected overwrite, got %s", content)
	}
}

func TestLocalUploaderRejectsEscapes(t *testing.T) {
	uploader := NewLocalUploader(t.TempDir())
	for _, p := range []string{"../x.json", "..", ".", "/etc/passwd"} {
		if _, err := uploader.UploadBytes(context.Background(), p, "text/plain", nil); err == nil {
			t.Errorf("expected %q to be rejected", p)
		}
	}
}

func TestNewEmbeddedRedis(t *testing.T) {
	mr, client, err := NewEmbeddedRedis()
	if err != nil {
		t.Fatalf("NewEmbeddedRedis: %v", err)
	}
	defer mr.Close()
	defer client.Close()

	if err := client.Set(context.Background(), "k", "v", 0).Err(); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got, _ := mr.Get("k"); got != "v" {
		t.Fatalf("expected value in embedded redis, got %q", got)
	}
}
