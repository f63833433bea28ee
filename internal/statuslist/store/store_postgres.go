package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"vcbridge/internal/sentinel"
	"vcbridge/internal/statuslist/models"
)

// PostgresStore persists status lists in PostgreSQL. Index allocation is a
// single conditional UPDATE so concurrent issuers racing the same list are
// ordered by the database, not by an application read-then-write.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed status list store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Save(ctx context.Context, list *models.StatusList) error {
	query := `
		INSERT INTO status_lists (id, issuer_id, owner_id, purpose, size, last_index, encoded_list, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.db.ExecContext(ctx, query,
		list.ID,
		list.IssuerID,
		list.OwnerID,
		string(list.Purpose),
		list.Size,
		list.LastIndex,
		list.EncodedList,
		list.CreatedAt,
		list.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save status list: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*models.StatusList, error) {
	query := `
		SELECT id, issuer_id, owner_id, purpose, size, last_index, encoded_list, created_at, updated_at
		FROM status_lists
		WHERE id = $1
	`
	return s.scanOne(s.db.QueryRowContext(ctx, query, id))
}

func (s *PostgresStore) FindActive(ctx context.Context, issuerID string, purpose models.Purpose) (*models.StatusList, error) {
	query := `
		SELECT id, issuer_id, owner_id, purpose, size, last_index, encoded_list, created_at, updated_at
		FROM status_lists
		WHERE issuer_id = $1 AND purpose = $2 AND last_index < size
		ORDER BY created_at ASC
		LIMIT 1
	`
	return s.scanOne(s.db.QueryRowContext(ctx, query, issuerID, string(purpose)))
}

// AllocateIndex increments last_index only while capacity remains, returning
// the index that was assigned. The WHERE clause makes the increment-and-compare
// atomic at the engine.
func (s *PostgresStore) AllocateIndex(ctx context.Context, listID string) (int, error) {
	query := `
		UPDATE status_lists
		SET last_index = last_index + 1, updated_at = NOW()
		WHERE id = $1 AND last_index < size
		RETURNING last_index - 1
	`
	var index int
	err := s.db.QueryRowContext(ctx, query, listID).Scan(&index)
	if errors.Is(err, sql.ErrNoRows) {
		// Either the list is unknown or it is full; look once to tell them apart.
		if _, getErr := s.Get(ctx, listID); getErr != nil {
			return 0, getErr
		}
		return 0, sentinel.ErrExhausted
	}
	if err != nil {
		return 0, fmt.Errorf("allocate status list index: %w", err)
	}
	return index, nil
}

func (s *PostgresStore) UpdateEncodedList(ctx context.Context, listID, encoded string) error {
	query := `
		UPDATE status_lists
		SET encoded_list = $2, updated_at = NOW()
		WHERE id = $1
	`
	res, err := s.db.ExecContext(ctx, query, listID, encoded)
	if err != nil {
		return fmt.Errorf("update encoded list: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update encoded list: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) scanOne(row *sql.Row) (*models.StatusList, error) {
	var list models.StatusList
	var purpose string
	err := row.Scan(
		&list.ID,
		&list.IssuerID,
		&list.OwnerID,
		&purpose,
		&list.Size,
		&list.LastIndex,
		&list.EncodedList,
		&list.CreatedAt,
		&list.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan status list: %w", err)
	}
	list.Purpose = models.Purpose(purpose)
	return &list, nil
}
