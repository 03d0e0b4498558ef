package river_test

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"testing"
	"time"

	goriver "github.com/riverqueue/river"

	_ "modernc.org/sqlite"

	riveradapter "github.com/neomorfeo/registriq/internal/adapter/river"
	"github.com/neomorfeo/registriq/internal/domain"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dbPath := t.TempDir() + "/river_test.db"
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		t.Fatalf("setting WAL: %v", err)
	}

	return db
}

// memRecorder records delivered poll ids in memory.
type memRecorder struct {
	mu        sync.Mutex
	delivered []string
	missing   bool
}

func (r *memRecorder) MarkPollDelivered(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.missing {
		return sql.ErrNoRows
	}
	r.delivered = append(r.delivered, id)
	return nil
}

func setupClient(t *testing.T, db *sql.DB, recorder riveradapter.DeliveryRecorder) *riveradapter.Client {
	t.Helper()

	client, err := riveradapter.Setup(context.Background(), db, recorder)
	if err != nil {
		t.Fatalf("river setup: %v", err)
	}

	return client
}

func startClient(t *testing.T, ctx context.Context, client *riveradapter.Client) {
	t.Helper()

	if err := client.Start(ctx); err != nil {
		t.Fatalf("river start: %v", err)
	}
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Stop(stopCtx); err != nil {
			t.Errorf("river stop: %v", err)
		}
	})
}

func enqueueInTx(t *testing.T, db *sql.DB, enq *riveradapter.Enqueuer, msg domain.PollMessage) {
	t.Helper()

	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	if err := enq.EnqueueTx(context.Background(), tx, msg); err != nil {
		t.Fatalf("EnqueueTx failed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit tx: %v", err)
	}
}

func TestEnqueuer_DispatchMarksDelivered(t *testing.T) {
	db := setupTestDB(t)
	recorder := &memRecorder{}
	client := setupClient(t, db, recorder)
	ctx := context.Background()

	// Subscribe to job completions before starting so we don't miss events.
	subscribeChan, subscribeCancel := client.Subscribe(goriver.EventKindJobCompleted)
	defer subscribeCancel()

	startClient(t, ctx, client)

	enq := riveradapter.NewEnqueuer(client)
	enqueueInTx(t, db, enq, domain.PollMessage{
		ID:         "p-1",
		ClientID:   "reg-2",
		RepoID:     "d-1",
		TargetName: "example.tld",
		Kind:       domain.KindDomain,
		EventTime:  time.Now().Add(-time.Minute),
		Message:    "Transfer requested.",
	})

	select {
	case event := <-subscribeChan:
		if event.Job.Kind != "poll.dispatch" {
			t.Errorf("job kind = %q, want %q", event.Job.Kind, "poll.dispatch")
		}
		args := string(event.Job.EncodedArgs)
		for _, want := range []string{`"poll_id":"p-1"`, `"client_id":"reg-2"`, `"target_name":"example.tld"`} {
			if !strings.Contains(args, want) {
				t.Errorf("encoded args missing %s, got: %s", want, args)
			}
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for job completion")
	}

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	if len(recorder.delivered) != 1 || recorder.delivered[0] != "p-1" {
		t.Errorf("delivered = %v, want [p-1]", recorder.delivered)
	}
}

func TestEnqueuer_WithdrawnMessageCompletesQuietly(t *testing.T) {
	db := setupTestDB(t)
	recorder := &memRecorder{missing: true}
	client := setupClient(t, db, recorder)
	ctx := context.Background()

	subscribeChan, subscribeCancel := client.Subscribe(goriver.EventKindJobCompleted)
	defer subscribeCancel()

	startClient(t, ctx, client)

	enq := riveradapter.NewEnqueuer(client)
	enqueueInTx(t, db, enq, domain.PollMessage{
		ID:        "p-gone",
		ClientID:  "reg-2",
		EventTime: time.Now().Add(-time.Minute),
	})

	// A message deleted before its job fires must complete, not error into
	// River's retry loop.
	select {
	case event := <-subscribeChan:
		if event.Job.Kind != "poll.dispatch" {
			t.Errorf("job kind = %q, want %q", event.Job.Kind, "poll.dispatch")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for job completion")
	}
}

func TestEnqueuer_FutureMessageIsScheduled(t *testing.T) {
	db := setupTestDB(t)
	recorder := &memRecorder{}
	client := setupClient(t, db, recorder)

	enq := riveradapter.NewEnqueuer(client)
	future := time.Now().Add(24 * time.Hour)
	enqueueInTx(t, db, enq, domain.PollMessage{
		ID:        "p-future",
		ClientID:  "reg-1",
		EventTime: future,
	})

	// The job must sit in the scheduled state until the event time, not be
	// available for immediate work.
	var state string
	row := db.QueryRow(`SELECT state FROM river_job WHERE kind = 'poll.dispatch'`)
	if err := row.Scan(&state); err != nil {
		t.Fatalf("reading scheduled job: %v", err)
	}
	if state != "scheduled" {
		t.Errorf("job state = %q, want %q (event time %v is in the future)", state, "scheduled", future)
	}
}
