// Package store is the durable local mirror of crash and feedback
// submissions.
//
// The database is embedded SQLite (ncruces/go-sqlite3) opened in WAL
// mode for concurrent reads during writes. Schema lives in forward-only
// goose migrations applied idempotently at Open. The store owns all
// entity state: the sync engine and the triage commands read and mutate
// exclusively through its operations, each of which is atomic with
// respect to a single record.
//
// Reconciliation rests on the UNIQUE(app_id, submission_id) constraint:
// FindOrCreateSubmission inserts with ON CONFLICT DO NOTHING and falls
// back to a lookup, so concurrent discovery of the same remote record
// can never mint two local ids.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mschirtzinger/ascsync/internal/store/migrations"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/pressly/goose/v3"
)

// Kind selects the submission table a query operates on.
type Kind string

const (
	KindCrash    Kind = "crash"
	KindFeedback Kind = "feedback"
)

// Kinds lists both submission kinds.
var Kinds = []Kind{KindCrash, KindFeedback}

// table maps a kind to its table name. Kind is a closed enum, so this is
// safe to splice into SQL.
func (k Kind) table() string {
	switch k {
	case KindCrash:
		return "crashes"
	case KindFeedback:
		return "feedbacks"
	default:
		panic(fmt.Sprintf("unknown submission kind %q", string(k)))
	}
}

// ErrNotFound is returned when a referenced record does not exist.
var ErrNotFound = errors.New("record not found")

// Store wraps the SQLite database holding apps, submissions, and sync
// cursors.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if necessary) the database at path and applies
// pending migrations. Safe to call against an already-current schema.
//
// The caller must Close the store when done.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{db: conn, path: path}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := s.db.Exec(pragma); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to apply %s: %w", pragma, err)
		}
	}

	if err := s.migrate(context.Background()); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

// migrate applies pending schema migrations (forward-only, idempotent).
func (s *Store) migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations.Files)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, s.db, "."); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// Close checkpoints the WAL and closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.db = nil
	return nil
}

// App is one monitored bundle identifier.
type App struct {
	ID       int64  `json:"id"`
	RemoteID string `json:"remote_id,omitempty"`
	BundleID string `json:"bundle_id"`
	Name     string `json:"name,omitempty"`
}

// UpsertApp inserts or updates an app by bundle id, returning its local id.
// Remote id and name only overwrite when non-empty.
func (s *Store) UpsertApp(ctx context.Context, bundleID, remoteID, name string) (int64, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO apps (bundle_id, remote_id, name) VALUES (?, ?, ?)
		ON CONFLICT(bundle_id) DO UPDATE SET
			remote_id = COALESCE(NULLIF(excluded.remote_id, ''), remote_id),
			name      = COALESCE(NULLIF(excluded.name, ''), name)`,
		bundleID, nullIfEmpty(remoteID), nullIfEmpty(name))
	if err != nil {
		return 0, fmt.Errorf("failed to upsert app %s: %w", bundleID, err)
	}

	var id int64
	err = s.db.QueryRowContext(ctx, `SELECT id FROM apps WHERE bundle_id = ?`, bundleID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to look up app %s: %w", bundleID, err)
	}
	return id, nil
}

// NewSubmission carries the remote attributes for reconciliation.
type NewSubmission struct {
	AppID          int64
	SubmissionID   string
	CreatedAt      time.Time
	DeviceModel    string
	OSVersion      string
	AppPlatform    string
	Architecture   string
	TesterEmail    string
	TesterComment  string
	BuildBundleID  string
	BuildID        string
	AppUptimeMS    *int64
	BatteryPct     *int64
	ConnectionType string
}

// Submission is one locally mirrored crash or feedback record.
type Submission struct {
	ID              int64           `json:"id"`
	AppID           int64           `json:"app_id"`
	SubmissionID    string          `json:"submission_id"`
	CreatedAt       time.Time       `json:"created_at"`
	SyncedAt        time.Time       `json:"synced_at"`
	DeviceModel     string          `json:"device_model,omitempty"`
	OSVersion       string          `json:"os_version,omitempty"`
	AppPlatform     string          `json:"app_platform,omitempty"`
	Architecture    string          `json:"architecture,omitempty"`
	TesterEmail     string          `json:"tester_email,omitempty"`
	TesterComment   string          `json:"tester_comment,omitempty"`
	BuildBundleID   string          `json:"build_bundle_id,omitempty"`
	BuildID         string          `json:"build_id,omitempty"`
	AppUptimeMS     *int64          `json:"app_uptime_ms,omitempty"`
	BatteryPct      *int64          `json:"battery_pct,omitempty"`
	ConnectionType  string          `json:"connection_type,omitempty"`
	AttachmentState AttachmentState `json:"attachment_state"`
	AttachmentPath  string          `json:"attachment_path,omitempty"`
	MimeType        string          `json:"mime_type,omitempty"`
	Status          Status          `json:"status"`
	FixedAt         *time.Time      `json:"fixed_at,omitempty"`
	Notes           string          `json:"notes,omitempty"`
	DuplicateOf     *int64          `json:"duplicate_of,omitempty"`
	AppBundleID     string          `json:"app_bundle_id"`
	AppName         string          `json:"app_name,omitempty"`
}

const submissionColumns = `
	t.id, t.app_id, t.submission_id, t.created_at, t.synced_at,
	t.device_model, t.os_version, t.app_platform, t.architecture,
	t.tester_email, t.tester_comment, t.build_bundle_id, t.build_id,
	t.app_uptime_ms, t.battery_pct, t.connection_type,
	t.attachment_state, t.attachment_path, t.mime_type,
	t.status, t.fixed_at, t.notes, t.duplicate_of,
	a.bundle_id, a.name`

func submissionSelect(kind Kind) string {
	return "SELECT" + submissionColumns + "\nFROM " + kind.table() + " t\nJOIN apps a ON a.id = t.app_id"
}

// FindOrCreateSubmission is the reconciliation primitive. Given a remote
// record it returns the existing local id for its (app, submission id)
// pair, or inserts a fresh record with status 'new' and attachment state
// 'pending'. created reports which case occurred.
//
// A unique-constraint race with a concurrent insert resolves to the
// existing record via the fallback lookup.
func (s *Store) FindOrCreateSubmission(ctx context.Context, kind Kind, sub *NewSubmission) (id int64, created bool, err error) {
	if sub.SubmissionID == "" {
		return 0, false, &ValidationError{Msg: "submission id is required"}
	}

	query := `
		INSERT INTO ` + kind.table() + ` (
			app_id, submission_id, created_at, device_model, os_version,
			app_platform, architecture, tester_email, tester_comment,
			build_bundle_id, build_id, app_uptime_ms, battery_pct, connection_type
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(app_id, submission_id) DO NOTHING`

	res, err := s.db.ExecContext(ctx, query,
		sub.AppID,
		sub.SubmissionID,
		sub.CreatedAt.UTC().Format(time.RFC3339),
		nullIfEmpty(sub.DeviceModel),
		nullIfEmpty(sub.OSVersion),
		nullIfEmpty(sub.AppPlatform),
		nullIfEmpty(sub.Architecture),
		nullIfEmpty(sub.TesterEmail),
		nullIfEmpty(sub.TesterComment),
		nullIfEmpty(sub.BuildBundleID),
		nullIfEmpty(sub.BuildID),
		sub.AppUptimeMS,
		sub.BatteryPct,
		nullIfEmpty(sub.ConnectionType),
	)
	if err != nil {
		return 0, false, fmt.Errorf("failed to insert %s submission: %w", kind, err)
	}

	if n, err := res.RowsAffected(); err == nil && n > 0 {
		id, err := res.LastInsertId()
		if err != nil {
			return 0, false, fmt.Errorf("failed to read new submission id: %w", err)
		}
		return id, true, nil
	}

	// Already known: fall back to a lookup.
	err = s.db.QueryRowContext(ctx,
		`SELECT id FROM `+kind.table()+` WHERE app_id = ? AND submission_id = ?`,
		sub.AppID, sub.SubmissionID).Scan(&id)
	if err != nil {
		return 0, false, fmt.Errorf("failed to look up submission %s: %w", sub.SubmissionID, err)
	}
	return id, false, nil
}

// GetSubmission returns one record by local id, or ErrNotFound.
func (s *Store) GetSubmission(ctx context.Context, kind Kind, id int64) (*Submission, error) {
	row := s.db.QueryRowContext(ctx, submissionSelect(kind)+"\nWHERE t.id = ?", id)
	sub, err := scanSubmission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s #%d: %w", kind, id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s #%d: %w", kind, id, err)
	}
	return sub, nil
}

// Filter narrows ListSubmissions results.
type Filter struct {
	// Statuses restricts to the given statuses (empty = all).
	Statuses []Status
	// Since restricts to records created at or after this time.
	Since time.Time
	// AppBundleID restricts to one app.
	AppBundleID string
	// Limit caps the result count (0 = default 50).
	Limit int
}

// ListSubmissions returns records matching the filter, newest first.
func (s *Store) ListSubmissions(ctx context.Context, kind Kind, f Filter) ([]*Submission, error) {
	var conditions []string
	var args []any

	if len(f.Statuses) > 0 {
		placeholders := strings.Repeat("?,", len(f.Statuses))
		conditions = append(conditions, "t.status IN ("+placeholders[:len(placeholders)-1]+")")
		for _, st := range f.Statuses {
			args = append(args, string(st))
		}
	}
	if !f.Since.IsZero() {
		conditions = append(conditions, "t.created_at >= ?")
		args = append(args, f.Since.UTC().Format(time.RFC3339))
	}
	if f.AppBundleID != "" {
		conditions = append(conditions, "a.bundle_id = ?")
		args = append(args, f.AppBundleID)
	}

	query := submissionSelect(kind)
	if len(conditions) > 0 {
		query += "\nWHERE " + strings.Join(conditions, " AND ")
	}
	query += "\nORDER BY t.created_at DESC LIMIT ?"

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s submissions: %w", kind, err)
	}
	defer rows.Close()

	return scanSubmissions(rows)
}

// MissingAttachments returns an app's records whose attachment has not
// been downloaded yet. appID 0 means all apps.
func (s *Store) MissingAttachments(ctx context.Context, kind Kind, appID int64) ([]*Submission, error) {
	query := submissionSelect(kind) + "\nWHERE t.attachment_state = ?"
	args := []any{string(AttachmentPending)}
	if appID != 0 {
		query += " AND t.app_id = ?"
		args = append(args, appID)
	}
	query += "\nORDER BY t.created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending attachments: %w", err)
	}
	defer rows.Close()

	return scanSubmissions(rows)
}

// SetAttachment records an attachment download outcome.
func (s *Store) SetAttachment(ctx context.Context, kind Kind, id int64, state AttachmentState, path, mimeType string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE `+kind.table()+` SET attachment_state = ?, attachment_path = ?, mime_type = COALESCE(NULLIF(?, ''), mime_type) WHERE id = ?`,
		string(state), nullIfEmpty(path), mimeType, id)
	if err != nil {
		return fmt.Errorf("failed to update attachment for %s #%d: %w", kind, id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%s #%d: %w", kind, id, ErrNotFound)
	}
	return nil
}

// SetStatus applies a triage command. For StatusDuplicate, duplicateOf
// must reference an existing record of the same kind, must not be the
// record itself, and must not introduce a duplicate-of cycle; violations
// return a *ValidationError. Any other status clears a stale duplicate-of
// reference, keeping duplicate and fixed/wontfix mutually exclusive.
// Non-empty notes replace the stored notes; empty notes preserve them,
// except that StatusFixed requires notes describing the fix.
func (s *Store) SetStatus(ctx context.Context, kind Kind, id int64, status Status, notes string, duplicateOf *int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM `+kind.table()+` WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s #%d: %w", kind, id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to look up %s #%d: %w", kind, id, err)
	}

	if status == StatusDuplicate {
		if duplicateOf == nil {
			return &ValidationError{Msg: "duplicate requires a duplicate-of reference"}
		}
		if err := validateDuplicateOf(ctx, tx, kind, id, *duplicateOf); err != nil {
			return err
		}
	} else {
		duplicateOf = nil
	}

	if status == StatusFixed && notes == "" {
		return &ValidationError{Msg: "fixed requires notes describing the fix"}
	}

	var fixedAt any
	if status == StatusFixed {
		fixedAt = time.Now().UTC().Format(time.RFC3339)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE `+kind.table()+` SET
			status       = ?,
			notes        = COALESCE(NULLIF(?, ''), notes),
			fixed_at     = ?,
			duplicate_of = ?
		WHERE id = ?`,
		string(status), notes, fixedAt, duplicateOf, id)
	if err != nil {
		return fmt.Errorf("failed to set status on %s #%d: %w", kind, id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit status change: %w", err)
	}
	return nil
}

// validateDuplicateOf checks a duplicate-of target within the transaction:
// it must exist, differ from id, and the chain starting at it must not
// lead back to id.
func validateDuplicateOf(ctx context.Context, tx *sql.Tx, kind Kind, id, target int64) error {
	if target == id {
		return &ValidationError{Msg: fmt.Sprintf("%s #%d cannot be a duplicate of itself", kind, id)}
	}

	var cur = target
	seen := 0
	for {
		var next sql.NullInt64
		err := tx.QueryRowContext(ctx,
			`SELECT duplicate_of FROM `+kind.table()+` WHERE id = ?`, cur).Scan(&next)
		if errors.Is(err, sql.ErrNoRows) {
			if cur == target {
				return &ValidationError{Msg: fmt.Sprintf("duplicate-of target %s #%d does not exist", kind, target)}
			}
			// Dangling reference mid-chain; treat as end of chain.
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to walk duplicate chain: %w", err)
		}
		if !next.Valid {
			return nil
		}
		if next.Int64 == id {
			return &ValidationError{Msg: fmt.Sprintf("marking %s #%d as duplicate of #%d would create a cycle", kind, id, target)}
		}
		cur = next.Int64

		seen++
		if seen > 10000 {
			return &ValidationError{Msg: "duplicate chain too long"}
		}
	}
}

// Reopen returns a record to status 'new', clearing its duplicate-of
// reference and fixed timestamp. Notes are preserved as history.
func (s *Store) Reopen(ctx context.Context, kind Kind, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE `+kind.table()+` SET status = ?, duplicate_of = NULL, fixed_at = NULL WHERE id = ?`,
		string(StatusNew), id)
	if err != nil {
		return fmt.Errorf("failed to reopen %s #%d: %w", kind, id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%s #%d: %w", kind, id, ErrNotFound)
	}
	return nil
}

// GroupCount is one bucket of a grouped statistic.
type GroupCount struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

// Stats summarizes one submission kind, optionally scoped to one app.
type Stats struct {
	Total    int64            `json:"total"`
	ByStatus map[Status]int64 `json:"by_status"`
	ByDevice []GroupCount     `json:"by_device"`
	ByOS     []GroupCount     `json:"by_os"`
	Unfixed  int64            `json:"unfixed"`
}

// Stats computes totals by status plus the top devices and OS versions.
func (s *Store) Stats(ctx context.Context, kind Kind, appBundleID string) (*Stats, error) {
	base := "FROM " + kind.table() + " t JOIN apps a ON a.id = t.app_id"
	var args []any
	if appBundleID != "" {
		base += " WHERE a.bundle_id = ?"
		args = append(args, appBundleID)
	}

	st := &Stats{ByStatus: make(map[Status]int64)}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) "+base, args...).Scan(&st.Total); err != nil {
		return nil, fmt.Errorf("failed to count %s submissions: %w", kind, err)
	}

	rows, err := s.db.QueryContext(ctx, "SELECT t.status, COUNT(*) "+base+" GROUP BY t.status", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to group by status: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		st.ByStatus[Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating status counts: %w", err)
	}

	st.Unfixed = st.Total - st.ByStatus[StatusFixed] - st.ByStatus[StatusWontfix] - st.ByStatus[StatusDuplicate]

	st.ByDevice, err = s.topGroup(ctx, "t.device_model", base, args)
	if err != nil {
		return nil, err
	}
	st.ByOS, err = s.topGroup(ctx, "t.os_version", base, args)
	if err != nil {
		return nil, err
	}

	return st, nil
}

func (s *Store) topGroup(ctx context.Context, column, base string, args []any) ([]GroupCount, error) {
	clause := " AND "
	if !strings.Contains(base, "WHERE") {
		clause = " WHERE "
	}
	query := "SELECT " + column + ", COUNT(*) " + base + clause + column + " IS NOT NULL GROUP BY " +
		column + " ORDER BY COUNT(*) DESC LIMIT 15"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to group by %s: %w", column, err)
	}
	defer rows.Close()

	var out []GroupCount
	for rows.Next() {
		var g GroupCount
		if err := rows.Scan(&g.Name, &g.Count); err != nil {
			return nil, fmt.Errorf("failed to scan group count: %w", err)
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating group counts: %w", err)
	}
	return out, nil
}

// Counts returns the total and unfixed (new or investigating) record
// counts for a kind.
func (s *Store) Counts(ctx context.Context, kind Kind) (total, unfixed int64, err error) {
	err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+kind.table()).Scan(&total)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count %s submissions: %w", kind, err)
	}
	err = s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM "+kind.table()+" WHERE status IN (?, ?)",
		string(StatusNew), string(StatusInvestigating)).Scan(&unfixed)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count unfixed %s submissions: %w", kind, err)
	}
	return total, unfixed, nil
}

// Cursor returns the persisted resume URL for (app, kind), or "".
func (s *Store) Cursor(ctx context.Context, appID int64, kind Kind) (string, error) {
	var url string
	err := s.db.QueryRowContext(ctx,
		`SELECT next_url FROM sync_cursors WHERE app_id = ? AND kind = ?`,
		appID, string(kind)).Scan(&url)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read sync cursor: %w", err)
	}
	return url, nil
}

// SetCursor persists the resume URL for an interrupted pull.
func (s *Store) SetCursor(ctx context.Context, appID int64, kind Kind, nextURL string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_cursors (app_id, kind, next_url, updated_at)
		VALUES (?, ?, ?, datetime('now'))
		ON CONFLICT(app_id, kind) DO UPDATE SET
			next_url = excluded.next_url,
			updated_at = excluded.updated_at`,
		appID, string(kind), nextURL)
	if err != nil {
		return fmt.Errorf("failed to save sync cursor: %w", err)
	}
	return nil
}

// ClearCursor removes the resume URL after an exhausted pull.
func (s *Store) ClearCursor(ctx context.Context, appID int64, kind Kind) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM sync_cursors WHERE app_id = ? AND kind = ?`, appID, string(kind))
	if err != nil {
		return fmt.Errorf("failed to clear sync cursor: %w", err)
	}
	return nil
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSubmission(row scanner) (*Submission, error) {
	var sub Submission
	var createdAt, syncedAt string
	var deviceModel, osVersion, appPlatform, architecture sql.NullString
	var testerEmail, testerComment, buildBundleID, buildID sql.NullString
	var uptime, battery, duplicateOf sql.NullInt64
	var connectionType, attachmentPath, mimeType, fixedAt, notes sql.NullString
	var appName sql.NullString

	err := row.Scan(
		&sub.ID, &sub.AppID, &sub.SubmissionID, &createdAt, &syncedAt,
		&deviceModel, &osVersion, &appPlatform, &architecture,
		&testerEmail, &testerComment, &buildBundleID, &buildID,
		&uptime, &battery, &connectionType,
		&sub.AttachmentState, &attachmentPath, &mimeType,
		&sub.Status, &fixedAt, &notes, &duplicateOf,
		&sub.AppBundleID, &appName,
	)
	if err != nil {
		return nil, err
	}

	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		sub.CreatedAt = t
	}
	if t, err := parseStoredTime(syncedAt); err == nil {
		sub.SyncedAt = t
	}

	sub.DeviceModel = deviceModel.String
	sub.OSVersion = osVersion.String
	sub.AppPlatform = appPlatform.String
	sub.Architecture = architecture.String
	sub.TesterEmail = testerEmail.String
	sub.TesterComment = testerComment.String
	sub.BuildBundleID = buildBundleID.String
	sub.BuildID = buildID.String
	sub.ConnectionType = connectionType.String
	sub.AttachmentPath = attachmentPath.String
	sub.MimeType = mimeType.String
	sub.Notes = notes.String
	sub.AppName = appName.String

	if uptime.Valid {
		sub.AppUptimeMS = &uptime.Int64
	}
	if battery.Valid {
		sub.BatteryPct = &battery.Int64
	}
	if duplicateOf.Valid {
		sub.DuplicateOf = &duplicateOf.Int64
	}
	if fixedAt.Valid {
		if t, err := time.Parse(time.RFC3339, fixedAt.String); err == nil {
			sub.FixedAt = &t
		}
	}

	return &sub, nil
}

func scanSubmissions(rows *sql.Rows) ([]*Submission, error) {
	var subs []*Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan submission: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating submissions: %w", err)
	}
	return subs, nil
}

// parseStoredTime handles both RFC3339 values written by Go and the
// "YYYY-MM-DD HH:MM:SS" values SQLite's datetime('now') default writes.
func parseStoredTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", s)
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
