package attach

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func okSource(data []byte, ext string) Source {
	return func(ctx context.Context) (Payload, bool, error) {
		return Payload{Data: data, Ext: ext}, true, nil
	}
}

func TestFetch_WritesDestination(t *testing.T) {
	dir := t.TempDir()
	f := NewFetcher(nil)

	res, path, err := f.Fetch(context.Background(), dir, "42", okSource([]byte("crash log text"), "ips"))
	if err != nil {
		t.Fatalf("Fetch() failed: %v", err)
	}
	if res != Downloaded {
		t.Fatalf("result = %v, want Downloaded", res)
	}
	if path != filepath.Join(dir, "42.ips") {
		t.Errorf("path = %q, want %q", path, filepath.Join(dir, "42.ips"))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading destination: %v", err)
	}
	if string(data) != "crash log text" {
		t.Errorf("content = %q, want full payload", data)
	}
}

func TestFetch_SkipsExistingFile(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "7.png")
	if err := os.WriteFile(existing, []byte("already here"), 0644); err != nil {
		t.Fatal(err)
	}

	f := NewFetcher(nil)
	called := false
	src := func(ctx context.Context) (Payload, bool, error) {
		called = true
		return Payload{}, false, nil
	}

	res, path, err := f.Fetch(context.Background(), dir, "7", src)
	if err != nil {
		t.Fatalf("Fetch() failed: %v", err)
	}
	if res != Downloaded || path != existing {
		t.Errorf("got (%v, %q), want (Downloaded, %q)", res, path, existing)
	}
	if called {
		t.Error("source was contacted despite an existing non-empty file")
	}
}

func TestFetch_UnavailableAndTransient(t *testing.T) {
	dir := t.TempDir()
	f := NewFetcher(nil)

	res, _, err := f.Fetch(context.Background(), dir, "1", func(ctx context.Context) (Payload, bool, error) {
		return Payload{}, false, nil
	})
	if err != nil || res != Unavailable {
		t.Errorf("got (%v, %v), want (Unavailable, nil)", res, err)
	}

	wantErr := errors.New("connection reset")
	res, _, err = f.Fetch(context.Background(), dir, "2", func(ctx context.Context) (Payload, bool, error) {
		return Payload{}, false, wantErr
	})
	if res != Transient || !errors.Is(err, wantErr) {
		t.Errorf("got (%v, %v), want (Transient, wrapped source error)", res, err)
	}
}

// A failed write must never leave a file at the destination path.
func TestFetch_NoPartialFileOnFailure(t *testing.T) {
	dir := t.TempDir()
	f := NewFetcher(nil)

	_, _, err := f.Fetch(context.Background(), dir, "3", func(ctx context.Context) (Payload, bool, error) {
		return Payload{}, false, errors.New("interrupted mid-transfer")
	})
	if err == nil {
		t.Fatal("expected source error")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("destination dir not empty after failed fetch: %v", entries)
	}
}

func TestFetch_EmptyExtFallsBackToBin(t *testing.T) {
	dir := t.TempDir()
	f := NewFetcher(nil)

	_, path, err := f.Fetch(context.Background(), dir, "9", okSource([]byte{1, 2, 3}, ""))
	if err != nil {
		t.Fatalf("Fetch() failed: %v", err)
	}
	if filepath.Ext(path) != ".bin" {
		t.Errorf("path = %q, want .bin extension", path)
	}
}

func TestWithinRetention(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	if !WithinRetention(now.Add(-24*time.Hour), now) {
		t.Error("1 day old should be within retention")
	}
	if !WithinRetention(now.Add(-119*24*time.Hour), now) {
		t.Error("119 days old should be within retention")
	}
	if WithinRetention(now.Add(-121*24*time.Hour), now) {
		t.Error("121 days old should be past retention")
	}
}

func TestExt(t *testing.T) {
	cases := map[string]string{
		"image/png":       "png",
		"image/jpeg":      "jpg",
		"image/gif":       "gif",
		"image/heic":      "heic",
		"video/quicktime": "mov",
		"video/mp4":       "mp4",
		"application/x":   "bin",
	}
	for mime, want := range cases {
		if got := Ext(mime); got != want {
			t.Errorf("Ext(%q) = %q, want %q", mime, got, want)
		}
	}
}
