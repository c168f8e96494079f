package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/vitalhome/syncengine/internal/database"
	apperrors "github.com/vitalhome/syncengine/internal/errors"
	"github.com/vitalhome/syncengine/internal/sync/domain"
)

// SQLiteJournalRepository persists crash-recovery journal entries. Each
// entry holds its ordered steps as a JSON array in one row, so a step
// append is a single row update.
type SQLiteJournalRepository struct {
	db *sql.DB
}

// NewSQLiteJournalRepository creates a new SQLiteJournalRepository.
func NewSQLiteJournalRepository(db *sql.DB) *SQLiteJournalRepository {
	return &SQLiteJournalRepository{db: db}
}

// Create inserts a fresh journal entry.
func (r *SQLiteJournalRepository) Create(ctx context.Context, entry *domain.JournalEntry) error {
	querier := database.GetTx(ctx, r.db)

	steps, err := json.Marshal(entry.Steps)
	if err != nil {
		return apperrors.Wrap(err, "failed to encode journal steps")
	}

	query := `INSERT INTO journal_entries (id, steps, committed, created_at)
			  VALUES (?, ?, ?, ?)`

	_, err = querier.ExecContext(ctx, query, entry.ID.String(), string(steps), boolToInt(entry.Committed), entry.CreatedAt)
	if err != nil {
		return apperrors.Wrap(err, "failed to create journal entry")
	}
	return nil
}

// Get retrieves one journal entry by id.
func (r *SQLiteJournalRepository) Get(ctx context.Context, id uuid.UUID) (*domain.JournalEntry, error) {
	querier := database.GetTx(ctx, r.db)

	query := `SELECT id, steps, committed, created_at FROM journal_entries WHERE id = ?`

	entry, err := scanJournalEntry(querier.QueryRowContext(ctx, query, id.String()))
	if err == sql.ErrNoRows {
		return nil, domain.ErrJournalNotFound
	}
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to get journal entry")
	}
	return entry, nil
}

// SetSteps replaces the step list of an entry.
func (r *SQLiteJournalRepository) SetSteps(ctx context.Context, id uuid.UUID, steps []domain.JournalStep) error {
	querier := database.GetTx(ctx, r.db)

	encoded, err := json.Marshal(steps)
	if err != nil {
		return apperrors.Wrap(err, "failed to encode journal steps")
	}

	_, err = querier.ExecContext(ctx, `UPDATE journal_entries SET steps = ? WHERE id = ?`, string(encoded), id.String())
	if err != nil {
		return apperrors.Wrap(err, "failed to update journal steps")
	}
	return nil
}

// MarkCommitted flags an entry as fully recorded and eligible for replay.
func (r *SQLiteJournalRepository) MarkCommitted(ctx context.Context, id uuid.UUID) error {
	querier := database.GetTx(ctx, r.db)

	_, err := querier.ExecContext(ctx, `UPDATE journal_entries SET committed = 1 WHERE id = ?`, id.String())
	if err != nil {
		return apperrors.Wrap(err, "failed to commit journal entry")
	}
	return nil
}

// List returns all journal entries in creation order, oldest first.
func (r *SQLiteJournalRepository) List(ctx context.Context) ([]*domain.JournalEntry, error) {
	querier := database.GetTx(ctx, r.db)

	query := `SELECT id, steps, committed, created_at FROM journal_entries ORDER BY created_at ASC`

	rows, err := querier.QueryContext(ctx, query)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list journal entries")
	}
	defer rows.Close() //nolint:errcheck

	var entries []*domain.JournalEntry
	for rows.Next() {
		entry, err := scanJournalEntry(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to scan journal entry")
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to iterate journal entries")
	}
	return entries, nil
}

// Delete removes a replayed or discarded journal entry.
func (r *SQLiteJournalRepository) Delete(ctx context.Context, id uuid.UUID) error {
	querier := database.GetTx(ctx, r.db)

	_, err := querier.ExecContext(ctx, `DELETE FROM journal_entries WHERE id = ?`, id.String())
	if err != nil {
		return apperrors.Wrap(err, "failed to delete journal entry")
	}
	return nil
}

func scanJournalEntry(row rowScanner) (*domain.JournalEntry, error) {
	var (
		entry     domain.JournalEntry
		id        string
		steps     string
		committed int
	)

	err := row.Scan(&id, &steps, &committed, &entry.CreatedAt)
	if err != nil {
		return nil, err
	}

	if entry.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(steps), &entry.Steps); err != nil {
		return nil, err
	}
	entry.Committed = committed != 0
	entry.CreatedAt = entry.CreatedAt.UTC()

	return &entry, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
