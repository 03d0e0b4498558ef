package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/neomorfeo/registriq/internal/domain"
	"github.com/pressly/goose/v3"

	_ "modernc.org/sqlite" // Register SQLite driver.
)

//go:embed migrations/*.sql
var migrations embed.FS

// PollEnqueuer schedules delivery of a poll message inside the commit
// transaction, so a message is only ever dispatched if the mutation that
// produced it actually persisted.
type PollEnqueuer interface {
	EnqueueTx(ctx context.Context, tx *sql.Tx, msg domain.PollMessage) error
}

// Store implements domain.ResourceStore backed by SQLite. Every resource
// revision is retained in resource_versions, so point-in-time reads replay
// straight from storage instead of reconstructing state.
type Store struct {
	db       *sql.DB
	enqueuer PollEnqueuer
}

// New opens a SQLite database, runs migrations, and returns a ready store.
func New(dataSourceName string) (*Store, error) {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	// Enable foreign keys (off by default in SQLite).
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	// A single writer avoids SQLITE_BUSY under concurrent commits; conflicts
	// surface through the revision guard instead.
	db.SetMaxOpenConns(1)

	return NewFromDB(db, nil)
}

// NewFromDB wraps an existing database connection, runs migrations, and
// returns a ready store. Use this when the *sql.DB has been pre-configured
// (e.g., with otelsql instrumentation). The enqueuer may be nil, in which
// case poll messages are persisted but no delivery job is scheduled.
func NewFromDB(db *sql.DB, enqueuer PollEnqueuer) (*Store, error) {
	if err := runMigrations(db); err != nil {
		return nil, err
	}

	return &Store{db: db, enqueuer: enqueuer}, nil
}

// SetPollEnqueuer installs the enqueuer after construction. The store and
// the job client are built over the same database handle, so one of them has
// to come first; call this during wiring, before the store serves commits.
func (s *Store) SetPollEnqueuer(enqueuer PollEnqueuer) {
	s.enqueuer = enqueuer
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection for use by other adapters (e.g., river).
func (s *Store) DB() *sql.DB {
	return s.db
}

func runMigrations(db *sql.DB) error {
	goose.SetBaseFS(migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	return nil
}

// Timestamps are stored as microseconds since the Unix epoch so that SQL
// comparisons and ordering match time.Time semantics exactly. The far-future
// deletion sentinel (year 9999) still fits comfortably in an int64.
func toMicros(t time.Time) int64 {
	return t.UTC().UnixMicro()
}

func fromMicros(us int64) time.Time {
	return time.UnixMicro(us).UTC()
}

const resourceColumns = `repo_id, kind, foreign_key, tld, creation_time, deletion_time,
	sponsoring_client, auth_info, statuses, expiration_time, transfer,
	autorenew_billing_event_id, autorenew_poll_message_id, revision`

// ReadCurrent returns the latest revision of the resource with the given repo id.
func (s *Store) ReadCurrent(ctx context.Context, repoID string) (domain.Resource, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+resourceColumns+` FROM resources WHERE repo_id = ?`, repoID)

	res, err := scanResource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Resource{}, fmt.Errorf("resource %s: %w", repoID, err)
	}
	if err != nil {
		return domain.Resource{}, fmt.Errorf("reading resource %s: %w", repoID, err)
	}

	return res, nil
}

// ReadAt returns the revision of the resource that was current at the given
// point in time.
func (s *Store) ReadAt(ctx context.Context, repoID string, at time.Time) (domain.Resource, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM resource_versions
		 WHERE repo_id = ? AND valid_from <= ?
		 ORDER BY revision DESC LIMIT 1`,
		repoID, toMicros(at)).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Resource{}, fmt.Errorf("resource %s at %s: %w", repoID, at.Format(time.RFC3339), err)
	}
	if err != nil {
		return domain.Resource{}, fmt.Errorf("reading resource %s at %s: %w", repoID, at.Format(time.RFC3339), err)
	}

	var rec resourceRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return domain.Resource{}, fmt.Errorf("decoding resource %s: %w", repoID, err)
	}

	return rec.toDomain(), nil
}

// Commit persists the whole write set in a single transaction. The resource
// row is guarded by its expected revision: a concurrent commit that advanced
// the revision first makes this one fail with domain.ErrTransactionConflict
// and nothing is written.
func (s *Store) Commit(ctx context.Context, ws domain.WriteSet) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning commit transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	if err := s.writeResource(ctx, tx, ws); err != nil {
		return err
	}
	if err := s.writeHistory(ctx, tx, ws.History); err != nil {
		return err
	}
	if err := s.writeBilling(ctx, tx, ws); err != nil {
		return err
	}
	if err := s.writePolls(ctx, tx, ws.PollMessages); err != nil {
		return err
	}
	if ws.IndexSnapshot != nil {
		if err := writeIndexEntry(ctx, tx, *ws.IndexSnapshot); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing write set: %w", err)
	}

	return nil
}

func (s *Store) writeResource(ctx context.Context, tx *sql.Tx, ws domain.WriteSet) error {
	res := ws.Resource
	rec := toRecord(res)

	if ws.ExpectedRevision == 0 {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO resources (`+resourceColumns+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.args()...)
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE constraint failed") {
				return domain.ErrTransactionConflict
			}
			return fmt.Errorf("inserting resource %s: %w", res.RepoID, err)
		}
	} else {
		result, err := tx.ExecContext(ctx,
			`UPDATE resources SET
				kind = ?, foreign_key = ?, tld = ?, creation_time = ?, deletion_time = ?,
				sponsoring_client = ?, auth_info = ?, statuses = ?, expiration_time = ?,
				transfer = ?, autorenew_billing_event_id = ?, autorenew_poll_message_id = ?,
				revision = ?
			 WHERE repo_id = ? AND revision = ?`,
			append(rec.args()[1:], res.RepoID, ws.ExpectedRevision)...)
		if err != nil {
			return fmt.Errorf("updating resource %s: %w", res.RepoID, err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("checking resource update: %w", err)
		}
		if affected == 0 {
			return domain.ErrTransactionConflict
		}
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding resource %s: %w", res.RepoID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO resource_versions (repo_id, revision, valid_from, payload)
		 VALUES (?, ?, ?, ?)`,
		res.RepoID, res.Revision, toMicros(ws.History.Time), string(payload)); err != nil {
		return fmt.Errorf("inserting resource version %s/%d: %w", res.RepoID, res.Revision, err)
	}

	return nil
}

func (s *Store) writeHistory(ctx context.Context, tx *sql.Tx, h domain.HistoryEntry) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO history_entries (id, type, repo_id, actor_id, time)
		 VALUES (?, ?, ?, ?, ?)`,
		h.ID, string(h.Type), h.RepoID, h.ActorID, toMicros(h.Time)); err != nil {
		return fmt.Errorf("inserting history entry %s: %w", h.ID, err)
	}

	return nil
}

func (s *Store) writeBilling(ctx context.Context, tx *sql.Tx, ws domain.WriteSet) error {
	for _, id := range ws.DeleteEntityIDs {
		if _, err := tx.ExecContext(ctx, `DELETE FROM billing_events WHERE id = ?`, id); err != nil {
			return fmt.Errorf("deleting billing event %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM poll_messages WHERE id = ?`, id); err != nil {
			return fmt.Errorf("deleting poll message %s: %w", id, err)
		}
	}

	for _, cl := range ws.CloseRecurrences {
		if _, err := tx.ExecContext(ctx,
			`UPDATE billing_events SET recurrence_end = ? WHERE id = ?`,
			toMicros(cl.End), cl.BillingEventID); err != nil {
			return fmt.Errorf("closing recurrence %s: %w", cl.BillingEventID, err)
		}
	}

	for _, ev := range ws.BillingEvents {
		var recurrenceEnd int64
		if !ev.RecurrenceEnd.IsZero() {
			recurrenceEnd = toMicros(ev.RecurrenceEnd)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO billing_events (id, kind, reason, repo_id, target_name, client_id,
				years, cost_amount, cost_currency, event_time, billing_time, recurrence_end, history_id)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ev.ID, string(ev.Kind), string(ev.Reason), ev.RepoID, ev.TargetName, ev.ClientID,
			ev.Years, ev.Cost.Amount, ev.Cost.Currency, toMicros(ev.EventTime),
			toMicros(ev.BillingTime), recurrenceEnd, ev.HistoryID); err != nil {
			return fmt.Errorf("inserting billing event %s: %w", ev.ID, err)
		}
	}

	return nil
}

func (s *Store) writePolls(ctx context.Context, tx *sql.Tx, polls []domain.PollMessage) error {
	for _, msg := range polls {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO poll_messages (id, client_id, repo_id, target_name, kind, event_time, message, history_id)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			msg.ID, msg.ClientID, msg.RepoID, msg.TargetName, string(msg.Kind),
			toMicros(msg.EventTime), msg.Message, msg.HistoryID); err != nil {
			return fmt.Errorf("inserting poll message %s: %w", msg.ID, err)
		}
		if s.enqueuer != nil {
			if err := s.enqueuer.EnqueueTx(ctx, tx, msg); err != nil {
				return fmt.Errorf("enqueueing poll message %s: %w", msg.ID, err)
			}
		}
	}

	return nil
}

func writeIndexEntry(ctx context.Context, tx *sql.Tx, entry domain.ForeignKeyEntry) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO foreign_key_index (repo_id, kind, foreign_key, creation_time, deletion_time)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(repo_id) DO UPDATE SET deletion_time = excluded.deletion_time`,
		entry.RepoID, string(entry.Kind), entry.ForeignKey,
		toMicros(entry.CreationTime), toMicros(entry.DeletionTime)); err != nil {
		// The live-uniqueness index trips when a racing create of the same
		// name committed first: its availability check passed before our
		// transaction serialized behind the winner's.
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return domain.ErrTransactionConflict
		}
		return fmt.Errorf("writing index entry %s: %w", entry.RepoID, err)
	}

	return nil
}

// MarkPollDelivered records that a poll message left the queue. Used by the
// delivery worker; delivered messages stay on file for audit.
func (s *Store) MarkPollDelivered(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE poll_messages SET delivered = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("marking poll message %s delivered: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking poll message update: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("poll message %s: %w", id, sql.ErrNoRows)
	}

	return nil
}

// resourceRecord is the storage shape of a resource, shared between the
// resources table and the JSON payload in resource_versions.
type resourceRecord struct {
	RepoID                  string              `json:"repo_id"`
	Kind                    string              `json:"kind"`
	ForeignKey              string              `json:"foreign_key"`
	TLD                     string              `json:"tld,omitempty"`
	CreationTime            int64               `json:"creation_time"`
	DeletionTime            int64               `json:"deletion_time"`
	SponsoringClient        string              `json:"sponsoring_client"`
	AuthInfo                string              `json:"auth_info,omitempty"`
	Statuses                []string            `json:"statuses"`
	ExpirationTime          int64               `json:"expiration_time,omitempty"`
	Transfer                domain.TransferData `json:"transfer"`
	AutorenewBillingEventID string              `json:"autorenew_billing_event_id,omitempty"`
	AutorenewPollMessageID  string              `json:"autorenew_poll_message_id,omitempty"`
	Revision                int64               `json:"revision"`
}

func toRecord(res domain.Resource) resourceRecord {
	statuses := make([]string, 0, len(res.Statuses))
	for _, st := range res.Statuses.Sorted() {
		statuses = append(statuses, string(st))
	}

	var expiration int64
	if !res.ExpirationTime.IsZero() {
		expiration = toMicros(res.ExpirationTime)
	}

	return resourceRecord{
		RepoID:                  res.RepoID,
		Kind:                    string(res.Kind),
		ForeignKey:              res.ForeignKey,
		TLD:                     res.TLD,
		CreationTime:            toMicros(res.CreationTime),
		DeletionTime:            toMicros(res.DeletionTime),
		SponsoringClient:        res.SponsoringClient,
		AuthInfo:                res.AuthInfo,
		Statuses:                statuses,
		ExpirationTime:          expiration,
		Transfer:                res.Transfer,
		AutorenewBillingEventID: res.AutorenewBillingEventID,
		AutorenewPollMessageID:  res.AutorenewPollMessageID,
		Revision:                res.Revision,
	}
}

func (rec resourceRecord) toDomain() domain.Resource {
	statuses := domain.StatusSet{}
	for _, st := range rec.Statuses {
		statuses[domain.Status(st)] = struct{}{}
	}

	var expiration time.Time
	if rec.ExpirationTime != 0 {
		expiration = fromMicros(rec.ExpirationTime)
	}

	return domain.Resource{
		RepoID:                  rec.RepoID,
		Kind:                    domain.Kind(rec.Kind),
		ForeignKey:              rec.ForeignKey,
		TLD:                     rec.TLD,
		CreationTime:            fromMicros(rec.CreationTime),
		DeletionTime:            fromMicros(rec.DeletionTime),
		SponsoringClient:        rec.SponsoringClient,
		AuthInfo:                rec.AuthInfo,
		Statuses:                statuses,
		ExpirationTime:          expiration,
		Transfer:                rec.Transfer,
		AutorenewBillingEventID: rec.AutorenewBillingEventID,
		AutorenewPollMessageID:  rec.AutorenewPollMessageID,
		Revision:                rec.Revision,
	}
}

func (rec resourceRecord) args() []any {
	statuses, _ := json.Marshal(rec.Statuses)
	transfer, _ := json.Marshal(rec.Transfer)

	return []any{
		rec.RepoID, rec.Kind, rec.ForeignKey, rec.TLD, rec.CreationTime, rec.DeletionTime,
		rec.SponsoringClient, rec.AuthInfo, string(statuses), rec.ExpirationTime, string(transfer),
		rec.AutorenewBillingEventID, rec.AutorenewPollMessageID, rec.Revision,
	}
}

func scanResource(row *sql.Row) (domain.Resource, error) {
	var rec resourceRecord
	var statuses, transfer string

	err := row.Scan(&rec.RepoID, &rec.Kind, &rec.ForeignKey, &rec.TLD,
		&rec.CreationTime, &rec.DeletionTime, &rec.SponsoringClient, &rec.AuthInfo,
		&statuses, &rec.ExpirationTime, &transfer,
		&rec.AutorenewBillingEventID, &rec.AutorenewPollMessageID, &rec.Revision)
	if err != nil {
		return domain.Resource{}, err
	}

	if err := json.Unmarshal([]byte(statuses), &rec.Statuses); err != nil {
		return domain.Resource{}, fmt.Errorf("decoding statuses: %w", err)
	}
	if err := json.Unmarshal([]byte(transfer), &rec.Transfer); err != nil {
		return domain.Resource{}, fmt.Errorf("decoding transfer data: %w", err)
	}

	return rec.toDomain(), nil
}
