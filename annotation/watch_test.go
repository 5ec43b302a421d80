package annotation

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestHashFile(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "a.txt")
	os.WriteFile(filename, []byte("abc"), 0644)
	hash, err := HashFile(filename)
	if err != nil {
		t.Fatal(err)
	}
	if hash != "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad" {
		t.Errorf("HashFile() = %s", hash)
	}
	if _, err := HashFile(filename + ".missing"); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestWatchConfig(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "config.yaml")
	if err := WriteSampleConfig(filename, "", ""); err != nil {
		t.Fatal(err)
	}
	original, _ := os.ReadFile(filename)

	ctx, cancel := context.WithCancel(context.Background())
	changes := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- WatchConfig(ctx, filename, func(cfg *Config) { changes <- cfg })
	}()
	defer func() {
		cancel()
		<-done
	}()
	time.Sleep(200 * time.Millisecond)

	// same contents
	os.WriteFile(filename, original, 0644)
	select {
	case <-changes:
		t.Fatal("reload for unchanged contents")
	case <-time.After(3 * configReloadDelay):
	}

	updated := bytes.Replace(original, []byte("Sample keypoint project."), []byte("Swing 2."), 1)
	os.WriteFile(filename, updated, 0644)
	select {
	case cfg := <-changes:
		if !strings.HasPrefix(cfg.Meta.Description, "Swing 2.") {
			t.Errorf("description = %q", cfg.Meta.Description)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("config change not reported")
	}
}
