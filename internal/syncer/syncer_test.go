package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mschirtzinger/ascsync/internal/asc"
	"github.com/mschirtzinger/ascsync/internal/attach"
	"github.com/mschirtzinger/ascsync/internal/store"
)

type staticTokens string

func (s staticTokens) Token() (string, error) { return string(s), nil }

// fakeRecord is one remote submission served by the fake API.
type fakeRecord struct {
	id        string
	createdAt string
	device    string
	// log and screenshot hold the attachment body; empty means the
	// attachment endpoint answers 404.
	log        string
	screenshot []byte
	screenMIME string
}

// fakeAPI serves just enough of the remote API for a sync run: app
// lookup, the two submission listings, and the attachment endpoints.
type fakeAPI struct {
	mu sync.Mutex
	// apps maps bundle id to remote app id. A bundle id mapped to "" is
	// answered with HTTP 403.
	apps      map[string]string
	crashes   map[string][]fakeRecord // keyed by remote app id
	feedbacks map[string][]fakeRecord
}

func (f *fakeAPI) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		path := r.URL.Path
		switch {
		case path == "/v1/apps":
			bundleID := r.URL.Query().Get("filter[bundleId]")
			remoteID, ok := f.apps[bundleID]
			if ok && remoteID == "" {
				w.WriteHeader(http.StatusForbidden)
				fmt.Fprint(w, `{"errors":[{"status":"403","detail":"key lacks access"}]}`)
				return
			}
			data := []map[string]any{}
			if ok {
				data = append(data, map[string]any{
					"id":         remoteID,
					"attributes": map[string]any{"bundleId": bundleID, "name": "Fake App"},
				})
			}
			json.NewEncoder(w).Encode(map[string]any{"data": data})

		case strings.HasSuffix(path, "/betaFeedbackCrashSubmissions"):
			appID := strings.TrimSuffix(strings.TrimPrefix(path, "/v1/apps/"), "/betaFeedbackCrashSubmissions")
			f.writePage(w, f.crashes[appID])

		case strings.HasSuffix(path, "/betaFeedbackScreenshotSubmissions"):
			appID := strings.TrimSuffix(strings.TrimPrefix(path, "/v1/apps/"), "/betaFeedbackScreenshotSubmissions")
			f.writePage(w, f.feedbacks[appID])

		case strings.HasPrefix(path, "/v1/betaFeedbackCrashSubmissions/") && strings.HasSuffix(path, "/crashLog"):
			subID := strings.TrimSuffix(strings.TrimPrefix(path, "/v1/betaFeedbackCrashSubmissions/"), "/crashLog")
			if rec := findRecord(f.crashes, subID); rec != nil && rec.log != "" {
				json.NewEncoder(w).Encode(map[string]any{
					"data": map[string]any{"attributes": map[string]any{"logText": rec.log}},
				})
				return
			}
			w.WriteHeader(http.StatusNotFound)

		case strings.HasPrefix(path, "/v1/betaFeedbackScreenshotSubmissions/") && strings.HasSuffix(path, "/screenshotImage"):
			subID := strings.TrimSuffix(strings.TrimPrefix(path, "/v1/betaFeedbackScreenshotSubmissions/"), "/screenshotImage")
			if rec := findRecord(f.feedbacks, subID); rec != nil && len(rec.screenshot) > 0 {
				w.Header().Set("Content-Type", rec.screenMIME)
				w.Write(rec.screenshot)
				return
			}
			w.WriteHeader(http.StatusNotFound)

		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func (f *fakeAPI) writePage(w http.ResponseWriter, records []fakeRecord) {
	data := []map[string]any{}
	for _, rec := range records {
		data = append(data, map[string]any{
			"id": rec.id,
			"attributes": map[string]any{
				"createdDate": rec.createdAt,
				"deviceModel": rec.device,
				"osVersion":   "17.4",
			},
		})
	}
	json.NewEncoder(w).Encode(map[string]any{"data": data, "links": map[string]any{}})
}

func findRecord(byApp map[string][]fakeRecord, subID string) *fakeRecord {
	for _, records := range byApp {
		for i := range records {
			if records[i].id == subID {
				return &records[i]
			}
		}
	}
	return nil
}

func newTestSyncer(t *testing.T, api *fakeAPI) (*Syncer, *store.Store, Options) {
	t.Helper()
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)

	st, err := store.Open(filepath.Join(t.TempDir(), "ascsync.db"))
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	client := asc.New(staticTokens("tok"), asc.Config{BaseURL: srv.URL})
	s := New(client, st, attach.NewFetcher(nil), nil)

	dataDir := t.TempDir()
	opts := Options{
		Crashes:        true,
		Feedback:       true,
		LogsDir:        filepath.Join(dataDir, "logs"),
		ScreenshotsDir: filepath.Join(dataDir, "screenshots"),
	}
	return s, st, opts
}

func recentDate() string {
	return time.Now().UTC().Add(-24 * time.Hour).Format(time.RFC3339)
}

func TestRunPendingThenRecovered(t *testing.T) {
	api := &fakeAPI{
		apps: map[string]string{"com.example.app": "app-1"},
		crashes: map[string][]fakeRecord{
			"app-1": {
				{id: "crash-1", createdAt: recentDate(), device: "iPhone15,2"},
				{id: "crash-2", createdAt: recentDate(), device: "iPad13,1"},
			},
		},
	}
	s, st, opts := newTestSyncer(t, api)
	opts.Apps = []ConfiguredApp{{BundleID: "com.example.app"}}
	ctx := context.Background()

	// First run: records land, but no logs are available yet.
	report, err := s.Run(ctx, opts)
	if err != nil {
		t.Fatalf("first Run failed: %v", err)
	}
	if len(report.NewCrashes) != 2 {
		t.Fatalf("new crashes = %d, want 2", len(report.NewCrashes))
	}
	if report.NewCrashes[0].DeviceModel != "iPhone15,2" {
		t.Errorf("new crash record missing attributes: %+v", report.NewCrashes[0])
	}
	if len(report.RecoveredLogs) != 0 {
		t.Errorf("recovered logs = %d, want 0", len(report.RecoveredLogs))
	}
	pending, err := st.MissingAttachments(ctx, store.KindCrash, 0)
	if err != nil {
		t.Fatalf("MissingAttachments failed: %v", err)
	}
	if len(pending) != 2 {
		t.Errorf("pending attachments = %d, want 2", len(pending))
	}

	// Logs appear remotely; the next run recovers them.
	api.mu.Lock()
	records := api.crashes["app-1"]
	records[0].log = "Thread 0 crashed"
	records[1].log = "Thread 7 crashed"
	api.mu.Unlock()

	report, err = s.Run(ctx, opts)
	if err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	if len(report.NewCrashes) != 0 {
		t.Errorf("new crashes on second run = %d, want 0", len(report.NewCrashes))
	}
	if len(report.RecoveredLogs) != 2 {
		t.Fatalf("recovered logs = %d, want 2", len(report.RecoveredLogs))
	}
	for _, rec := range report.RecoveredLogs {
		// Files are named after the local row id.
		want := fmt.Sprintf("%d.ips", rec.ID)
		if filepath.Base(rec.Path) != want {
			t.Errorf("recovered log path = %q, want basename %q", rec.Path, want)
		}
		body, err := os.ReadFile(rec.Path)
		if err != nil {
			t.Errorf("reading recovered log: %v", err)
			continue
		}
		if !strings.Contains(string(body), "crashed") {
			t.Errorf("unexpected log body %q", body)
		}
	}
	pending, _ = st.MissingAttachments(ctx, store.KindCrash, 0)
	if len(pending) != 0 {
		t.Errorf("pending after recovery = %d, want 0", len(pending))
	}
}

func TestRunIsIdempotent(t *testing.T) {
	api := &fakeAPI{
		apps: map[string]string{"com.example.app": "app-1"},
		crashes: map[string][]fakeRecord{
			"app-1": {{id: "crash-1", createdAt: recentDate(), device: "iPhone15,2", log: "boom"}},
		},
		feedbacks: map[string][]fakeRecord{
			"app-1": {{id: "fb-1", createdAt: recentDate(), screenshot: []byte{0x89, 'P', 'N', 'G'}, screenMIME: "image/png"}},
		},
	}
	s, st, opts := newTestSyncer(t, api)
	opts.Apps = []ConfiguredApp{{BundleID: "com.example.app"}}
	ctx := context.Background()

	report, err := s.Run(ctx, opts)
	if err != nil {
		t.Fatalf("first Run failed: %v", err)
	}
	if len(report.NewCrashes) != 1 || len(report.NewFeedbacks) != 1 {
		t.Errorf("first run: crashes=%d feedbacks=%d, want 1/1", len(report.NewCrashes), len(report.NewFeedbacks))
	}
	// Attachments downloaded together with the fresh records are not
	// recoveries.
	if len(report.RecoveredLogs) != 0 || len(report.RecoveredScreenshots) != 0 {
		t.Errorf("first run reported recoveries: %v %v", report.RecoveredLogs, report.RecoveredScreenshots)
	}

	report, err = s.Run(ctx, opts)
	if err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	if len(report.NewCrashes) != 0 || len(report.NewFeedbacks) != 0 {
		t.Errorf("second run: crashes=%d feedbacks=%d, want 0/0", len(report.NewCrashes), len(report.NewFeedbacks))
	}
	if report.CrashTotal != 1 || report.FeedbackTotal != 1 {
		t.Errorf("totals = %d/%d, want 1/1", report.CrashTotal, report.FeedbackTotal)
	}

	sub, err := st.GetSubmission(ctx, store.KindFeedback, 1)
	if err != nil {
		t.Fatalf("GetSubmission failed: %v", err)
	}
	if sub.AttachmentState != store.AttachmentDownloaded {
		t.Errorf("screenshot state = %s, want downloaded", sub.AttachmentState)
	}
	if sub.MimeType != "image/png" {
		t.Errorf("mime type = %q, want image/png", sub.MimeType)
	}
	if filepath.Base(sub.AttachmentPath) != "1.png" {
		t.Errorf("screenshot path = %q, want basename 1.png", sub.AttachmentPath)
	}
}

func TestRunContainsPerAppErrors(t *testing.T) {
	api := &fakeAPI{
		apps: map[string]string{
			"com.example.good": "app-1",
			"com.example.bad":  "", // answered with 403
		},
		crashes: map[string][]fakeRecord{
			"app-1": {{id: "crash-1", createdAt: recentDate(), device: "iPhone15,2"}},
		},
	}
	s, _, opts := newTestSyncer(t, api)
	opts.Apps = []ConfiguredApp{
		{BundleID: "com.example.bad"},
		{BundleID: "com.example.good"},
	}

	report, err := s.Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(report.NewCrashes) != 1 {
		t.Errorf("new crashes = %d, want 1", len(report.NewCrashes))
	}
	if len(report.AppErrors) != 1 {
		t.Fatalf("app errors = %d, want 1", len(report.AppErrors))
	}
	if report.AppErrors[0].BundleID != "com.example.bad" {
		t.Errorf("app error for %q", report.AppErrors[0].BundleID)
	}
	if !strings.Contains(report.AppErrors[0].Message, "403") {
		t.Errorf("app error message %q", report.AppErrors[0].Message)
	}
}

func TestRunUnknownAppReported(t *testing.T) {
	api := &fakeAPI{apps: map[string]string{}}
	s, _, opts := newTestSyncer(t, api)
	opts.Apps = []ConfiguredApp{{BundleID: "com.example.missing"}}

	report, err := s.Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(report.AppErrors) != 1 {
		t.Fatalf("app errors = %d, want 1", len(report.AppErrors))
	}
}

func TestRunMarksExpiredAttachmentsUnavailable(t *testing.T) {
	old := time.Now().UTC().Add(-130 * 24 * time.Hour).Format(time.RFC3339)
	api := &fakeAPI{
		apps: map[string]string{"com.example.app": "app-1"},
		crashes: map[string][]fakeRecord{
			"app-1": {{id: "crash-old", createdAt: old, device: "iPhone12,1", log: "should never be fetched"}},
		},
	}
	s, st, opts := newTestSyncer(t, api)
	opts.Apps = []ConfiguredApp{{BundleID: "com.example.app"}}
	ctx := context.Background()

	if _, err := s.Run(ctx, opts); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	sub, err := st.GetSubmission(ctx, store.KindCrash, 1)
	if err != nil {
		t.Fatalf("GetSubmission failed: %v", err)
	}
	if sub.AttachmentState != store.AttachmentUnavailable {
		t.Errorf("state = %s, want unavailable", sub.AttachmentState)
	}

	entries, err := os.ReadDir(opts.LogsDir)
	if err == nil && len(entries) != 0 {
		t.Errorf("expired attachment was written: %v", entries)
	}
}

func TestRunKindToggles(t *testing.T) {
	api := &fakeAPI{
		apps: map[string]string{"com.example.app": "app-1"},
		crashes: map[string][]fakeRecord{
			"app-1": {{id: "crash-1", createdAt: recentDate(), device: "iPhone15,2"}},
		},
		feedbacks: map[string][]fakeRecord{
			"app-1": {{id: "fb-1", createdAt: recentDate()}},
		},
	}
	s, _, opts := newTestSyncer(t, api)
	opts.Apps = []ConfiguredApp{{BundleID: "com.example.app"}}
	opts.Feedback = false

	report, err := s.Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(report.NewCrashes) != 1 {
		t.Errorf("new crashes = %d, want 1", len(report.NewCrashes))
	}
	if len(report.NewFeedbacks) != 0 || report.FeedbackTotal != 0 {
		t.Errorf("feedback synced despite toggle: new=%d total=%d", len(report.NewFeedbacks), report.FeedbackTotal)
	}
}

// pagedCrashServer serves one crash per page with next links, so the
// page cap can be exercised without huge payloads.
func pagedCrashServer(t *testing.T, total int) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/v1/apps":
			fmt.Fprint(w, `{"data":[{"id":"app-1","attributes":{"bundleId":"com.example.app","name":"Fake App"}}]}`)
		case strings.HasSuffix(r.URL.Path, "/betaFeedbackCrashSubmissions"):
			page := 0
			if p := r.URL.Query().Get("page"); p != "" {
				fmt.Sscanf(p, "%d", &page)
			}
			doc := map[string]any{
				"data": []map[string]any{{
					"id":         fmt.Sprintf("crash-%03d", page),
					"attributes": map[string]any{"createdDate": recentDate()},
				}},
			}
			if page+1 < total {
				doc["links"] = map[string]any{
					"next": fmt.Sprintf("%s%s?page=%d", srv.URL, r.URL.Path, page+1),
				}
			}
			json.NewEncoder(w).Encode(doc)
		case strings.HasSuffix(r.URL.Path, "/crashLog"):
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRunPageCapPersistsCursorAndResumes(t *testing.T) {
	srv := pagedCrashServer(t, 60)

	st, err := store.Open(filepath.Join(t.TempDir(), "ascsync.db"))
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	defer st.Close()

	client := asc.New(staticTokens("tok"), asc.Config{BaseURL: srv.URL})
	s := New(client, st, attach.NewFetcher(nil), nil)
	opts := Options{
		Apps:    []ConfiguredApp{{BundleID: "com.example.app"}},
		Crashes: true,
		LogsDir: t.TempDir(),
	}
	ctx := context.Background()

	report, err := s.Run(ctx, opts)
	if err != nil {
		t.Fatalf("first Run failed: %v", err)
	}
	if len(report.NewCrashes) != 50 {
		t.Errorf("first run crashes = %d, want 50", len(report.NewCrashes))
	}

	cursor, err := st.Cursor(ctx, 1, store.KindCrash)
	if err != nil {
		t.Fatalf("Cursor failed: %v", err)
	}
	if !strings.Contains(cursor, "page=50") {
		t.Errorf("cursor = %q, want a page=50 link", cursor)
	}

	// The resumed run walks the remaining pages. Each page holds only
	// already-unseen records, so the all-known early stop must not fire
	// before the listing is exhausted.
	report, err = s.Run(ctx, opts)
	if err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	if len(report.NewCrashes) != 10 {
		t.Errorf("second run crashes = %d, want 10", len(report.NewCrashes))
	}
	if report.CrashTotal != 60 {
		t.Errorf("total = %d, want 60", report.CrashTotal)
	}

	cursor, err = st.Cursor(ctx, 1, store.KindCrash)
	if err != nil {
		t.Fatalf("Cursor after resume failed: %v", err)
	}
	if cursor != "" {
		t.Errorf("cursor not cleared after exhaustion: %q", cursor)
	}
}
