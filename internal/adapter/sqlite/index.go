package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/neomorfeo/registriq/internal/domain"
)

// Index implements domain.ForeignKeyIndex over the foreign_key_index table.
// Each resource generation owns one row; lookups pick the newest generation
// and then test it against the caller's clock, so historical generations
// never shadow a live successor and a deleted generation stays invisible.
type Index struct {
	db *sql.DB
}

// NewIndex returns an index reading from the given database connection.
func NewIndex(db *sql.DB) *Index {
	return &Index{db: db}
}

// Newest generation first. Two generations sharing a creation timestamp are
// broken by repo id, highest first, so lookups stay deterministic.
const indexOrder = `ORDER BY creation_time DESC, repo_id DESC`

// Load returns the index entry for the generation of (kind, name) that is
// live at the given time. A name that was never created, is not yet created,
// or whose newest generation is already deleted yields NotFoundError.
func (i *Index) Load(ctx context.Context, kind domain.Kind, name string, now time.Time) (domain.ForeignKeyEntry, error) {
	row := i.db.QueryRowContext(ctx,
		`SELECT repo_id, kind, foreign_key, creation_time, deletion_time
		 FROM foreign_key_index
		 WHERE kind = ? AND foreign_key = ? `+indexOrder+` LIMIT 1`,
		string(kind), name)

	entry, err := scanIndexEntry(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ForeignKeyEntry{}, &domain.NotFoundError{Kind: kind, Name: name}
	}
	if err != nil {
		return domain.ForeignKeyEntry{}, fmt.Errorf("loading index entry for %s %q: %w", kind, name, err)
	}

	if !entryLive(entry, now) {
		return domain.ForeignKeyEntry{}, &domain.NotFoundError{Kind: kind, Name: name}
	}

	return entry, nil
}

// LoadBatch returns the live index entries for the given names in one query.
// Names with no live generation are simply absent from the result.
func (i *Index) LoadBatch(ctx context.Context, kind domain.Kind, names []string, now time.Time) (map[string]domain.ForeignKeyEntry, error) {
	if len(names) == 0 {
		return map[string]domain.ForeignKeyEntry{}, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", ")
	args := make([]any, 0, len(names)+1)
	args = append(args, string(kind))
	for _, name := range names {
		args = append(args, name)
	}

	// Ascending order means the newest generation per name is scanned last
	// and wins the map slot.
	rows, err := i.db.QueryContext(ctx,
		`SELECT repo_id, kind, foreign_key, creation_time, deletion_time
		 FROM foreign_key_index
		 WHERE kind = ? AND foreign_key IN (`+placeholders+`)
		 ORDER BY creation_time ASC, repo_id ASC`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("loading index entries for %s: %w", kind, err)
	}
	defer rows.Close()

	newest := make(map[string]domain.ForeignKeyEntry, len(names))
	for rows.Next() {
		entry, err := scanIndexEntry(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning index entry: %w", err)
		}
		newest[entry.ForeignKey] = entry
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating index entries: %w", err)
	}

	result := make(map[string]domain.ForeignKeyEntry, len(newest))
	for name, entry := range newest {
		if entryLive(entry, now) {
			result[name] = entry
		}
	}

	return result, nil
}

func entryLive(entry domain.ForeignKeyEntry, now time.Time) bool {
	return !now.Before(entry.CreationTime) && now.Before(entry.DeletionTime)
}

func scanIndexEntry(scan func(...any) error) (domain.ForeignKeyEntry, error) {
	var entry domain.ForeignKeyEntry
	var kind string
	var creation, deletion int64

	if err := scan(&entry.RepoID, &kind, &entry.ForeignKey, &creation, &deletion); err != nil {
		return domain.ForeignKeyEntry{}, err
	}

	entry.Kind = domain.Kind(kind)
	entry.CreationTime = fromMicros(creation)
	entry.DeletionTime = fromMicros(deletion)

	return entry, nil
}
