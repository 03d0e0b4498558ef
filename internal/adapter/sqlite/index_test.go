package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/neomorfeo/registriq/internal/adapter/sqlite"
	"github.com/neomorfeo/registriq/internal/domain"
)

func mustIndexEntry(t *testing.T, store *sqlite.Store, entry domain.ForeignKeyEntry) {
	t.Helper()
	res := domain.Resource{
		RepoID:           entry.RepoID,
		Kind:             entry.Kind,
		ForeignKey:       entry.ForeignKey,
		CreationTime:     entry.CreationTime,
		DeletionTime:     entry.DeletionTime,
		SponsoringClient: "reg-1",
		Statuses:         domain.StatusSet{domain.StatusOK: {}},
		Revision:         1,
	}
	ws := domain.WriteSet{
		Resource: res,
		History: domain.HistoryEntry{
			ID: entry.RepoID + "-h1", Type: domain.HistoryCreate,
			RepoID: entry.RepoID, ActorID: "reg-1", Time: entry.CreationTime,
		},
		IndexSnapshot: &entry,
	}
	if err := store.Commit(context.Background(), ws); err != nil {
		t.Fatalf("mustIndexEntry failed: %v", err)
	}
}

func hostEntry(repoID, name string, created, deleted time.Time) domain.ForeignKeyEntry {
	return domain.ForeignKeyEntry{
		Kind:         domain.KindHost,
		ForeignKey:   name,
		RepoID:       repoID,
		CreationTime: created,
		DeletionTime: deleted,
	}
}

func TestIndexLoad_LiveEntry(t *testing.T) {
	store := newTestStore(t)
	idx := sqlite.NewIndex(store.DB())

	mustIndexEntry(t, store, hostEntry("h-1", "ns1.example.tld", testEpoch, domain.EndOfTime))

	got, err := idx.Load(context.Background(), domain.KindHost, "ns1.example.tld", testEpoch.Add(time.Hour))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.RepoID != "h-1" {
		t.Errorf("RepoID = %q, want %q", got.RepoID, "h-1")
	}
}

func TestIndexLoad_UnknownName_NotFound(t *testing.T) {
	store := newTestStore(t)
	idx := sqlite.NewIndex(store.DB())

	_, err := idx.Load(context.Background(), domain.KindHost, "nowhere.example.tld", testEpoch)
	var nf *domain.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("Load error = %v, want NotFoundError", err)
	}
	if nf.Name != "nowhere.example.tld" {
		t.Errorf("NotFoundError.Name = %q, want the looked-up name", nf.Name)
	}
}

func TestIndexLoad_BeforeCreation_NotFound(t *testing.T) {
	store := newTestStore(t)
	idx := sqlite.NewIndex(store.DB())

	mustIndexEntry(t, store, hostEntry("h-1", "ns1.example.tld", testEpoch, domain.EndOfTime))

	_, err := idx.Load(context.Background(), domain.KindHost, "ns1.example.tld", testEpoch.Add(-time.Second))
	var nf *domain.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("Load error = %v, want NotFoundError", err)
	}
}

func TestIndexLoad_AtOrAfterDeletion_NotFound(t *testing.T) {
	store := newTestStore(t)
	idx := sqlite.NewIndex(store.DB())

	deleted := testEpoch.AddDate(1, 0, 0)
	mustIndexEntry(t, store, hostEntry("h-1", "ns1.example.tld", testEpoch, deleted))

	// Still visible just before the deletion snapshot.
	if _, err := idx.Load(context.Background(), domain.KindHost, "ns1.example.tld", deleted.Add(-time.Second)); err != nil {
		t.Fatalf("Load just before deletion failed: %v", err)
	}

	// Invisible exactly at and after the deletion snapshot.
	for _, at := range []time.Time{deleted, deleted.Add(time.Hour)} {
		_, err := idx.Load(context.Background(), domain.KindHost, "ns1.example.tld", at)
		var nf *domain.NotFoundError
		if !errors.As(err, &nf) {
			t.Fatalf("Load at %v error = %v, want NotFoundError", at, err)
		}
	}
}

func TestIndexLoad_NewestGenerationWins(t *testing.T) {
	store := newTestStore(t)
	idx := sqlite.NewIndex(store.DB())

	// First generation lived and died; a successor reused the name.
	died := testEpoch.AddDate(0, 6, 0)
	reborn := testEpoch.AddDate(1, 0, 0)
	mustIndexEntry(t, store, hostEntry("h-1", "ns1.example.tld", testEpoch, died))
	mustIndexEntry(t, store, hostEntry("h-2", "ns1.example.tld", reborn, domain.EndOfTime))

	got, err := idx.Load(context.Background(), domain.KindHost, "ns1.example.tld", reborn.Add(time.Hour))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.RepoID != "h-2" {
		t.Errorf("RepoID = %q, want successor %q", got.RepoID, "h-2")
	}

	// Between the generations the name does not resolve: the newest
	// generation had not been created yet, and only the newest counts.
	_, err = idx.Load(context.Background(), domain.KindHost, "ns1.example.tld", died.Add(time.Hour))
	var nf *domain.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("Load between generations error = %v, want NotFoundError", err)
	}
}

func TestIndexLoad_EqualCreationTimes_HighestRepoIDWins(t *testing.T) {
	store := newTestStore(t)
	idx := sqlite.NewIndex(store.DB())

	// Two generations sharing a creation instant, both resolvable at the
	// lookup time. Only one can be live (the store enforces that), and the
	// ordering picks the highest repo id as the newest generation.
	died := testEpoch.AddDate(0, 3, 0)
	mustIndexEntry(t, store, hostEntry("h-1", "ns1.example.tld", testEpoch, died))
	mustIndexEntry(t, store, hostEntry("h-9", "ns1.example.tld", testEpoch, domain.EndOfTime))

	got, err := idx.Load(context.Background(), domain.KindHost, "ns1.example.tld", testEpoch.Add(time.Hour))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.RepoID != "h-9" {
		t.Errorf("RepoID = %q, want tiebreak winner %q", got.RepoID, "h-9")
	}
}

func TestIndexLoadBatch_SkipsMissingAndDeadNames(t *testing.T) {
	store := newTestStore(t)
	idx := sqlite.NewIndex(store.DB())

	deleted := testEpoch.AddDate(0, 1, 0)
	mustIndexEntry(t, store, hostEntry("h-1", "ns1.example.tld", testEpoch, domain.EndOfTime))
	mustIndexEntry(t, store, hostEntry("h-2", "ns2.example.tld", testEpoch, deleted))

	names := []string{"ns1.example.tld", "ns2.example.tld", "ns3.example.tld"}
	got, err := idx.LoadBatch(context.Background(), domain.KindHost, names, deleted.Add(time.Hour))
	if err != nil {
		t.Fatalf("LoadBatch failed: %v", err)
	}

	if len(got) != 1 {
		t.Fatalf("LoadBatch returned %d entries, want 1: %v", len(got), got)
	}
	entry, ok := got["ns1.example.tld"]
	if !ok {
		t.Fatal("live name missing from batch result")
	}
	if entry.RepoID != "h-1" {
		t.Errorf("RepoID = %q, want %q", entry.RepoID, "h-1")
	}
}

func TestIndexLoadBatch_EmptyInput(t *testing.T) {
	store := newTestStore(t)
	idx := sqlite.NewIndex(store.DB())

	got, err := idx.LoadBatch(context.Background(), domain.KindHost, nil, testEpoch)
	if err != nil {
		t.Fatalf("LoadBatch failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("LoadBatch returned %d entries, want 0", len(got))
	}
}
