// Package syncer orchestrates a sync run: pulling crash and feedback
// submissions per app, reconciling them into the store, and downloading
// the attachments that are still pending.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mschirtzinger/ascsync/internal/asc"
	"github.com/mschirtzinger/ascsync/internal/attach"
	"github.com/mschirtzinger/ascsync/internal/auth"
	"github.com/mschirtzinger/ascsync/internal/store"
)

// maxPagesPerPull bounds one pull so a single run cannot walk an
// unbounded listing. The resume cursor persisted at the cap lets the
// next run continue where this one stopped.
const maxPagesPerPull = 50

// maxConcurrentApps bounds the per-app fan-out.
const maxConcurrentApps = 4

// Options selects what a run covers.
type Options struct {
	// Apps restricts the run to these bundle ids (empty = all configured).
	Apps []ConfiguredApp
	// Crashes and Feedback toggle the two submission kinds.
	Crashes  bool
	Feedback bool
	// LogsDir and ScreenshotsDir are the attachment destinations.
	LogsDir        string
	ScreenshotsDir string
}

// ConfiguredApp names one app to sync.
type ConfiguredApp struct {
	BundleID string
	Name     string
}

// Recovered identifies an attachment downloaded for a previously known
// record.
type Recovered struct {
	ID   int64  `json:"id"`
	Path string `json:"path"`
}

// AppError is a per-app failure that did not abort the run.
type AppError struct {
	BundleID string `json:"bundle_id"`
	Err      error  `json:"-"`
	Message  string `json:"error"`
}

// Report summarizes a completed run. NewCrashes and NewFeedbacks carry
// the full records discovered by this run, in local id order.
type Report struct {
	NewCrashes           []*store.Submission `json:"new_crashes"`
	NewFeedbacks         []*store.Submission `json:"new_feedbacks"`
	RecoveredLogs        []Recovered         `json:"recovered_logs,omitempty"`
	RecoveredScreenshots []Recovered         `json:"recovered_screenshots,omitempty"`
	CrashTotal           int64               `json:"crash_total"`
	CrashUnfixed         int64               `json:"crash_unfixed"`
	FeedbackTotal        int64               `json:"feedback_total"`
	FeedbackUnfixed      int64               `json:"feedback_unfixed"`
	AppErrors            []AppError          `json:"app_errors,omitempty"`
}

// Syncer wires the API client, the store, and the attachment fetcher.
type Syncer struct {
	client  *asc.Client
	store   *store.Store
	fetcher *attach.Fetcher
	logger  *slog.Logger
	now     func() time.Time
}

// New returns a Syncer. logger may be nil.
func New(client *asc.Client, st *store.Store, fetcher *attach.Fetcher, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Syncer{
		client:  client,
		store:   st,
		fetcher: fetcher,
		logger:  logger,
		now:     time.Now,
	}
}

// appResult carries one app's contribution to the report.
type appResult struct {
	newCrashes           []*store.Submission
	newFeedbacks         []*store.Submission
	recoveredLogs        []Recovered
	recoveredScreenshots []Recovered
}

// Run executes one sync pass over the selected apps.
//
// Credential and store failures abort the whole run. API failures scoped
// to one app are contained: the app is skipped, recorded in
// Report.AppErrors, and the rest of the run proceeds. Attachment
// download failures never fail anything; the record simply stays
// pending for the next run.
func (s *Syncer) Run(ctx context.Context, opts Options) (*Report, error) {
	report := &Report{
		NewCrashes:   []*store.Submission{},
		NewFeedbacks: []*store.Submission{},
	}
	results := make([]*appResult, len(opts.Apps))
	appErrs := make([]*AppError, len(opts.Apps))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentApps)
	for i, app := range opts.Apps {
		g.Go(func() error {
			res, err := s.syncApp(gctx, app, opts)
			if err != nil {
				if isFatal(err) {
					return fmt.Errorf("%s: %w", app.BundleID, err)
				}
				s.logger.Warn("app sync failed", "app", app.BundleID, "error", err)
				appErrs[i] = &AppError{BundleID: app.BundleID, Err: err, Message: err.Error()}
				return nil
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, res := range results {
		if res == nil {
			continue
		}
		report.NewCrashes = append(report.NewCrashes, res.newCrashes...)
		report.NewFeedbacks = append(report.NewFeedbacks, res.newFeedbacks...)
		report.RecoveredLogs = append(report.RecoveredLogs, res.recoveredLogs...)
		report.RecoveredScreenshots = append(report.RecoveredScreenshots, res.recoveredScreenshots...)
	}
	for _, ae := range appErrs {
		if ae != nil {
			report.AppErrors = append(report.AppErrors, *ae)
		}
	}

	var err error
	if report.CrashTotal, report.CrashUnfixed, err = s.store.Counts(ctx, store.KindCrash); err != nil {
		return nil, err
	}
	if report.FeedbackTotal, report.FeedbackUnfixed, err = s.store.Counts(ctx, store.KindFeedback); err != nil {
		return nil, err
	}
	return report, nil
}

// isFatal reports whether an error must abort the whole run rather than
// just the current app. Bad credentials poison every app equally, and a
// broken store cannot record anything.
func isFatal(err error) bool {
	var credErr *auth.CredentialError
	if errors.As(err, &credErr) {
		return true
	}
	var apiErr *asc.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == 401 {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var storeErr *storeFailure
	return errors.As(err, &storeErr)
}

// storeFailure tags store write errors so isFatal can route them.
type storeFailure struct{ err error }

func (e *storeFailure) Error() string { return e.err.Error() }
func (e *storeFailure) Unwrap() error { return e.err }

func (s *Syncer) syncApp(ctx context.Context, app ConfiguredApp, opts Options) (*appResult, error) {
	remote, err := s.client.FindApp(ctx, app.BundleID)
	if err != nil {
		return nil, err
	}

	appID, err := s.store.UpsertApp(ctx, app.BundleID, remote.ID, firstNonEmpty(app.Name, remote.Attributes.Name))
	if err != nil {
		return nil, &storeFailure{err}
	}

	res := &appResult{}

	if opts.Crashes {
		createdIDs, err := s.pull(ctx, appID, remote.ID, store.KindCrash)
		if err != nil {
			return nil, err
		}
		res.recoveredLogs, err = s.downloadCrashLogs(ctx, appID, opts.LogsDir, createdIDs)
		if err != nil {
			return nil, err
		}
		// Loaded after the download pass so attachment state is final.
		res.newCrashes, err = s.loadRecords(ctx, store.KindCrash, createdIDs)
		if err != nil {
			return nil, err
		}
	}
	if opts.Feedback {
		createdIDs, err := s.pull(ctx, appID, remote.ID, store.KindFeedback)
		if err != nil {
			return nil, err
		}
		res.recoveredScreenshots, err = s.downloadScreenshots(ctx, appID, opts.ScreenshotsDir, createdIDs)
		if err != nil {
			return nil, err
		}
		res.newFeedbacks, err = s.loadRecords(ctx, store.KindFeedback, createdIDs)
		if err != nil {
			return nil, err
		}
	}

	return res, nil
}

// loadRecords fetches the given records in ascending id order.
func (s *Syncer) loadRecords(ctx context.Context, kind store.Kind, ids map[int64]bool) ([]*store.Submission, error) {
	ordered := make([]int64, 0, len(ids))
	for id := range ids {
		ordered = append(ordered, id)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })

	subs := make([]*store.Submission, 0, len(ordered))
	for _, id := range ordered {
		sub, err := s.store.GetSubmission(ctx, kind, id)
		if err != nil {
			return nil, &storeFailure{err}
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// pull walks one app's submission listing, reconciling each record into
// the store. It resumes from a persisted cursor when one exists, stops
// early when an entire page is already known (newest-first ordering
// means everything deeper is known too), and persists a fresh cursor if
// the page cap interrupts the walk.
func (s *Syncer) pull(ctx context.Context, appID int64, remoteAppID string, kind store.Kind) (map[int64]bool, error) {
	startURL := s.listURL(remoteAppID, kind)
	cursor, err := s.store.Cursor(ctx, appID, kind)
	if err != nil {
		return nil, &storeFailure{err}
	}
	resuming := cursor != ""
	if resuming {
		s.logger.Debug("resuming interrupted pull", "kind", kind, "cursor", cursor)
		startURL = cursor
	}

	created := make(map[int64]bool)
	var pages int
	var capCursor string
	var pullErr error

	next, err := s.client.Pages(ctx, startURL, func(page *asc.SubmissionPage) (bool, error) {
		pages++
		createdInPage := 0
		for i := range page.Data {
			id, wasNew, err := s.reconcile(ctx, appID, kind, &page.Data[i])
			if err != nil {
				pullErr = err
				return false, err
			}
			if wasNew {
				createdInPage++
				created[id] = true
			}
		}

		// A page with no new records means we have caught up with the
		// mirror, unless we resumed mid-listing and the earlier pages
		// were never compared.
		if createdInPage == 0 && len(page.Data) > 0 && !resuming {
			s.logger.Debug("page fully known, stopping", "kind", kind, "page", pages)
			return false, nil
		}
		if pages >= maxPagesPerPull {
			capCursor = page.Links.Next
			return false, nil
		}
		return true, nil
	})
	if pullErr != nil {
		return created, pullErr
	}
	if err != nil {
		// Persist where we stopped so the next run picks up there.
		if next != "" {
			if serr := s.store.SetCursor(ctx, appID, kind, next); serr != nil {
				s.logger.Warn("failed to save resume cursor", "kind", kind, "error", serr)
			}
		}
		return created, err
	}

	if capCursor != "" {
		s.logger.Info("page cap reached, saving resume cursor", "kind", kind, "pages", pages)
		if err := s.store.SetCursor(ctx, appID, kind, capCursor); err != nil {
			return created, &storeFailure{err}
		}
		return created, nil
	}

	if err := s.store.ClearCursor(ctx, appID, kind); err != nil {
		return created, &storeFailure{err}
	}
	return created, nil
}

func (s *Syncer) listURL(remoteAppID string, kind store.Kind) string {
	if kind == store.KindCrash {
		return s.client.CrashListURL(remoteAppID)
	}
	return s.client.FeedbackListURL(remoteAppID)
}

// reconcile maps a remote submission into the store, reporting the
// local id and whether it was newly created.
func (s *Syncer) reconcile(ctx context.Context, appID int64, kind store.Kind, sub *asc.Submission) (int64, bool, error) {
	attrs := &sub.Attributes

	createdAt := s.now().UTC()
	if attrs.CreatedDate != nil {
		createdAt = attrs.CreatedDate.UTC()
	}

	var batteryPct *int64
	if attrs.BatteryPercentage != nil {
		v := int64(*attrs.BatteryPercentage)
		batteryPct = &v
	}

	id, created, err := s.store.FindOrCreateSubmission(ctx, kind, &store.NewSubmission{
		AppID:          appID,
		SubmissionID:   sub.ID,
		CreatedAt:      createdAt,
		DeviceModel:    attrs.DeviceModel,
		OSVersion:      attrs.OSVersion,
		AppPlatform:    attrs.AppPlatform,
		Architecture:   attrs.Architecture,
		TesterEmail:    attrs.Email,
		TesterComment:  attrs.Comment,
		BuildBundleID:  attrs.BuildBundleID,
		BuildID:        sub.BuildID(),
		AppUptimeMS:    attrs.AppUptimeInMilliseconds,
		BatteryPct:     batteryPct,
		ConnectionType: attrs.ConnectionType,
	})
	if err != nil {
		var verr *store.ValidationError
		if errors.As(err, &verr) {
			// A malformed remote record is skipped, not fatal.
			s.logger.Warn("skipping malformed submission", "kind", kind, "error", err)
			return 0, false, nil
		}
		return 0, false, &storeFailure{err}
	}
	return id, created, nil
}

// downloadCrashLogs fetches pending crash logs for one app. Recovered
// lists records known from an earlier run whose log only now arrived;
// createdIDs marks this run's fresh records, which are excluded.
// Failures leave the record pending.
func (s *Syncer) downloadCrashLogs(ctx context.Context, appID int64, dir string, createdIDs map[int64]bool) ([]Recovered, error) {
	pending, err := s.store.MissingAttachments(ctx, store.KindCrash, appID)
	if err != nil {
		return nil, &storeFailure{err}
	}

	var recovered []Recovered
	for _, sub := range pending {
		mimeType := "text/plain"
		src := func(ctx context.Context) (attach.Payload, bool, error) {
			text, ok, err := s.client.CrashLog(ctx, sub.SubmissionID)
			return attach.Payload{Data: []byte(text), Ext: "ips"}, ok, err
		}
		path, downloaded, err := s.fetchOne(ctx, store.KindCrash, sub, dir, &mimeType, src)
		if err != nil {
			return nil, err
		}
		if downloaded && !createdIDs[sub.ID] {
			recovered = append(recovered, Recovered{ID: sub.ID, Path: path})
		}
	}
	return recovered, nil
}

// downloadScreenshots is the feedback counterpart of downloadCrashLogs.
func (s *Syncer) downloadScreenshots(ctx context.Context, appID int64, dir string, createdIDs map[int64]bool) ([]Recovered, error) {
	pending, err := s.store.MissingAttachments(ctx, store.KindFeedback, appID)
	if err != nil {
		return nil, &storeFailure{err}
	}

	var recovered []Recovered
	for _, sub := range pending {
		var mimeType string
		src := func(ctx context.Context) (attach.Payload, bool, error) {
			data, mt, ok, err := s.client.Screenshot(ctx, sub.SubmissionID)
			mimeType = mt
			return attach.Payload{Data: data, Ext: attach.Ext(mt)}, ok, err
		}
		path, downloaded, err := s.fetchOne(ctx, store.KindFeedback, sub, dir, &mimeType, src)
		if err != nil {
			return nil, err
		}
		if downloaded && !createdIDs[sub.ID] {
			recovered = append(recovered, Recovered{ID: sub.ID, Path: path})
		}
	}
	return recovered, nil
}

// fetchOne runs the fetcher for a single pending record and records the
// outcome. mimeType points at a value the source may fill in during the
// fetch. A record past the remote retention window is marked unavailable
// without contacting the API.
func (s *Syncer) fetchOne(ctx context.Context, kind store.Kind, sub *store.Submission, dir string, mimeType *string, src attach.Source) (path string, downloaded bool, err error) {
	if !attach.WithinRetention(sub.CreatedAt, s.now()) {
		s.logger.Info("attachment past retention window", "kind", kind, "id", sub.ID)
		if err := s.store.SetAttachment(ctx, kind, sub.ID, store.AttachmentUnavailable, "", ""); err != nil {
			return "", false, &storeFailure{err}
		}
		return "", false, nil
	}

	// Destination paths are keyed on the local row id, not the remote
	// submission id, so they stay stable across listings.
	result, path, err := s.fetcher.Fetch(ctx, dir, strconv.FormatInt(sub.ID, 10), src)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", false, err
		}
		s.logger.Warn("attachment download failed, will retry next run",
			"kind", kind, "id", sub.ID, "error", err)
		return "", false, nil
	}

	if result == attach.Downloaded {
		if err := s.store.SetAttachment(ctx, kind, sub.ID, store.AttachmentDownloaded, path, *mimeType); err != nil {
			return "", false, &storeFailure{err}
		}
		return path, true, nil
	}
	// Unavailable or Transient: the record stays pending and is retried
	// on later runs until the retention window closes.
	return "", false, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
