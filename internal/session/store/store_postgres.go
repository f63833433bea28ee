package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"vcbridge/internal/sentinel"
	"vcbridge/internal/session/models"
	statusmodels "vcbridge/internal/statuslist/models"
)

// PostgresStore persists sessions in PostgreSQL. The state column carries the
// compare-and-swap; correlation identifiers live in a JSONB column with a
// partial unique index over active sessions (see migrations).
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed session store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const sessionColumns = `id, kind, protocol, template_id, state, reason, correlation, claims, status_ref, presented_refs, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, session *models.Session) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create session: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	// Reject correlation values already bound to an active session.
	for k, v := range session.Correlation {
		var exists bool
		err := tx.QueryRowContext(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM sessions
				WHERE correlation ->> $1 = $2
				  AND state NOT IN ('done', 'error', 'abandoned', 'response-verified')
			)
		`, k, v).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check correlation uniqueness: %w", err)
		}
		if exists {
			return sentinel.ErrConflict
		}
	}

	correlation, claims, statusRef, presentedRefs, err := marshalSessionFields(session)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		session.ID,
		string(session.Kind),
		string(session.Protocol),
		session.TemplateID,
		string(session.State),
		session.Reason,
		correlation,
		claims,
		statusRef,
		presentedRefs,
		session.CreatedAt,
		session.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return tx.Commit()
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	return scanSession(row)
}

func (s *PostgresStore) FindByCorrelation(ctx context.Context, key, value string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE correlation ->> $1 = $2
		ORDER BY created_at DESC
		LIMIT 1
	`, key, value)
	return scanSession(row)
}

func (s *PostgresStore) Transition(ctx context.Context, id string, expected, next models.State, patch *models.Patch) (*models.Session, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.State.Terminal() {
		return nil, sentinel.ErrInvalidState
	}

	updated := current.Clone()
	updated.State = next
	patch.Apply(updated)
	updated.UpdatedAt = time.Now()

	correlation, claims, statusRef, presentedRefs, err := marshalSessionFields(updated)
	if err != nil {
		return nil, err
	}

	// The WHERE clause carries the compare-and-swap; a lost race affects
	// zero rows and leaves the stored session untouched.
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET state = $3, reason = $4, correlation = $5, claims = $6,
		    status_ref = $7, presented_refs = $8, updated_at = $9
		WHERE id = $1 AND state = $2
	`,
		id,
		string(expected),
		string(next),
		updated.Reason,
		correlation,
		claims,
		statusRef,
		presentedRefs,
		updated.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("transition session: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("transition session: %w", err)
	}
	if rows == 0 {
		return nil, sentinel.ErrStaleState
	}
	return updated, nil
}

func (s *PostgresStore) ListIdle(ctx context.Context, idleSince time.Time) ([]*models.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE state NOT IN ('done', 'error', 'abandoned', 'response-verified')
		  AND updated_at < $1
	`, idleSince)
	if err != nil {
		return nil, fmt.Errorf("list idle sessions: %w", err)
	}
	defer rows.Close()

	var idle []*models.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		idle = append(idle, session)
	}
	return idle, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	var session models.Session
	var kind, protocol, state string
	var correlation, claims, statusRef, presentedRefs []byte
	err := row.Scan(
		&session.ID,
		&kind,
		&protocol,
		&session.TemplateID,
		&state,
		&session.Reason,
		&correlation,
		&claims,
		&statusRef,
		&presentedRefs,
		&session.CreatedAt,
		&session.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	session.Kind = models.Kind(kind)
	session.Protocol = models.Protocol(protocol)
	session.State = models.State(state)
	if err := json.Unmarshal(correlation, &session.Correlation); err != nil {
		return nil, fmt.Errorf("decode session correlation: %w", err)
	}
	if err := json.Unmarshal(claims, &session.Claims); err != nil {
		return nil, fmt.Errorf("decode session claims: %w", err)
	}
	if len(statusRef) > 0 && string(statusRef) != "null" {
		var ref statusmodels.EntryRef
		if err := json.Unmarshal(statusRef, &ref); err != nil {
			return nil, fmt.Errorf("decode session status ref: %w", err)
		}
		session.StatusRef = &ref
	}
	if len(presentedRefs) > 0 && string(presentedRefs) != "null" {
		if err := json.Unmarshal(presentedRefs, &session.PresentedRefs); err != nil {
			return nil, fmt.Errorf("decode presented refs: %w", err)
		}
	}
	return &session, nil
}

func marshalSessionFields(session *models.Session) (correlation, claims, statusRef, presentedRefs []byte, err error) {
	if correlation, err = json.Marshal(session.Correlation); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("encode session correlation: %w", err)
	}
	if claims, err = json.Marshal(session.Claims); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("encode session claims: %w", err)
	}
	if statusRef, err = json.Marshal(session.StatusRef); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("encode session status ref: %w", err)
	}
	if presentedRefs, err = json.Marshal(session.PresentedRefs); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("encode presented refs: %w", err)
	}
	return correlation, claims, statusRef, presentedRefs, nil
}
