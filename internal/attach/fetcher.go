// Package attach downloads record attachments (crash logs, screenshots)
// to stable on-disk paths.
//
// Downloads are written to a temporary file and renamed into place only
// once complete, so an interrupted download never leaves a partial file
// at the destination. A destination that already holds a non-empty file
// is treated as done and never re-fetched.
package attach

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RetentionWindow is how long the remote source keeps attachments after a
// submission is first seen. Past it, a still-missing attachment is
// considered permanently gone.
const RetentionWindow = 120 * 24 * time.Hour

// Result classifies one fetch attempt.
type Result int

const (
	// Downloaded means the attachment is present at the destination path,
	// either freshly written or already there from an earlier run.
	Downloaded Result = iota
	// Unavailable means the remote side has no attachment for the record
	// (not ready yet, or expired). Retried on later runs while the record
	// is within the retention window.
	Unavailable
	// Transient means a retryable failure (network, server error, local
	// I/O). Retried on the next run.
	Transient
)

// Payload is one downloaded attachment body plus the file extension it
// should be stored under (without the dot).
type Payload struct {
	Data []byte
	Ext  string
}

// Source retrieves the attachment body for one record. ok reports whether
// the remote side has the attachment at all.
type Source func(ctx context.Context) (p Payload, ok bool, err error)

// Fetcher writes attachments under a base directory.
type Fetcher struct {
	logger *slog.Logger
}

// NewFetcher returns a Fetcher. A nil logger disables logging.
func NewFetcher(logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Fetcher{logger: logger}
}

// Fetch ensures the attachment for one record exists at
// dir/<base>.<ext>, where ext comes from the downloaded payload.
// Returns the classification and, for Downloaded, the final path.
//
// If any non-empty file named <base>.* already exists in dir, Fetch
// reports it Downloaded without contacting the source.
func (f *Fetcher) Fetch(ctx context.Context, dir, base string, src Source) (Result, string, error) {
	if existing := findExisting(dir, base); existing != "" {
		return Downloaded, existing, nil
	}

	payload, ok, err := src(ctx)
	if err != nil {
		return Transient, "", err
	}
	if !ok {
		return Unavailable, "", nil
	}
	if payload.Ext == "" {
		payload.Ext = "bin"
	}

	dest := filepath.Join(dir, base+"."+payload.Ext)
	if err := writeAtomic(dest, payload.Data); err != nil {
		return Transient, "", err
	}

	f.logger.Debug("attachment saved", "path", dest, "bytes", len(payload.Data))
	return Downloaded, dest, nil
}

// writeAtomic writes data to a unique temporary file in the destination
// directory and renames it into place. The temporary file is removed on
// failure.
func writeAtomic(dest string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("failed to create attachment directory: %w", err)
	}

	tmp := dest + ".tmp-" + uuid.NewString()
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write attachment: %w", err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to move attachment into place: %w", err)
	}
	return nil
}

// findExisting returns the path of a non-empty <base>.* file in dir, or "".
// Leftover temporary files are not counted.
func findExisting(dir, base string) string {
	matches, err := filepath.Glob(filepath.Join(dir, base+".*"))
	if err != nil {
		return ""
	}
	for _, m := range matches {
		if isTempName(m) {
			continue
		}
		if info, err := os.Stat(m); err == nil && info.Mode().IsRegular() && info.Size() > 0 {
			return m
		}
	}
	return ""
}

func isTempName(path string) bool {
	return strings.Contains(filepath.Base(path), ".tmp-")
}

// WithinRetention reports whether an attachment first seen at firstSeen
// may still exist remotely at now.
func WithinRetention(firstSeen, now time.Time) bool {
	return now.Sub(firstSeen) <= RetentionWindow
}

// Ext maps a screenshot/video MIME type to a file extension.
func Ext(mimeType string) string {
	switch mimeType {
	case "image/png":
		return "png"
	case "image/jpeg":
		return "jpg"
	case "image/gif":
		return "gif"
	case "image/heic":
		return "heic"
	case "video/quicktime":
		return "mov"
	case "video/mp4":
		return "mp4"
	default:
		return "bin"
	}
}
