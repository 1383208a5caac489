package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/LeventeLantos/sms-mailing/internal/model"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS sms_mailings (
	id         TEXT PRIMARY KEY,
	text       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS sms_recipients (
	mailing_id TEXT NOT NULL REFERENCES sms_mailings(id) ON DELETE CASCADE,
	phone      TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'pending',
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (mailing_id, phone)
);
`

type PostgresMailingStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewPostgresMailingStore(pool *pgxpool.Pool) *PostgresMailingStore {
	return &PostgresMailingStore{pool: pool, now: time.Now}
}

// Migrate creates the tables when they do not exist yet.
func (s *PostgresMailingStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresSchema)
	return err
}

func (s *PostgresMailingStore) Create(ctx context.Context, id string, phones []string, text string) error {
	phones = dedupePhones(phones)
	if err := validateCreate(id, phones, text); err != nil {
		return err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := s.now().UTC()
	tag, err := tx.Exec(ctx, `
		INSERT INTO sms_mailings (id, text, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING
	`, id, text, now)
	if err != nil {
		return fmt.Errorf("create mailing %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mailing %s: %w", id, ErrDuplicateMailing)
	}

	rows := make([][]any, 0, len(phones))
	for _, p := range phones {
		rows = append(rows, []any{id, p, string(model.Pending), now})
	}
	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"sms_recipients"},
		[]string{"mailing_id", "phone", "status", "updated_at"},
		pgx.CopyFromRows(rows),
	); err != nil {
		return fmt.Errorf("create recipients of mailing %s: %w", id, err)
	}

	return tx.Commit(ctx)
}

func (s *PostgresMailingStore) UpdateRecipientStatus(ctx context.Context, id, phone string, status model.RecipientStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%q: %w", status, ErrInvalidStatus)
	}

	if status != model.Pending {
		tag, err := s.pool.Exec(ctx, `
			UPDATE sms_recipients
			SET status = $3, updated_at = $4
			WHERE mailing_id = $1 AND phone = $2 AND status = 'pending'
		`, id, phone, string(status), s.now().UTC())
		if err != nil {
			return fmt.Errorf("update recipient %s of mailing %s: %w", phone, id, err)
		}
		if tag.RowsAffected() == 1 {
			return nil
		}
	}

	var current string
	err := s.pool.QueryRow(ctx, `
		SELECT status FROM sms_recipients WHERE mailing_id = $1 AND phone = $2
	`, id, phone).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err := s.pool.QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM sms_mailings WHERE id = $1)
		`, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("mailing %s: %w", id, ErrUnknownMailing)
		}
		return fmt.Errorf("mailing %s phone %s: %w", id, phone, ErrUnknownRecipient)
	}
	if err != nil {
		return err
	}

	if model.RecipientStatus(current) == status {
		return nil
	}
	return fmt.Errorf("mailing %s phone %s to %s: %w", id, phone, status, ErrInvalidTransition)
}

func (s *PostgresMailingStore) ListMailingIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM sms_mailings ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (s *PostgresMailingStore) GetMailings(ctx context.Context, ids ...string) ([]model.Mailing, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	// single statement, so every mailing is read from one snapshot
	rows, err := s.pool.Query(ctx, `
		SELECT m.id, m.text, m.created_at, r.phone, r.status
		FROM sms_mailings m
		LEFT JOIN sms_recipients r ON r.mailing_id = m.id
		WHERE m.id = ANY($1)
		ORDER BY m.created_at ASC, m.id ASC
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Mailing
	index := make(map[string]int)
	for rows.Next() {
		var (
			id, text  string
			createdAt time.Time
			phone     *string
			status    *string
		)
		if err := rows.Scan(&id, &text, &createdAt, &phone, &status); err != nil {
			return nil, err
		}

		i, ok := index[id]
		if !ok {
			i = len(out)
			index[id] = i
			out = append(out, model.Mailing{
				ID:         id,
				Text:       text,
				CreatedAt:  createdAt.UTC(),
				Recipients: make(map[string]model.RecipientStatus),
			})
		}
		if phone != nil && status != nil {
			out[i].Recipients[*phone] = model.RecipientStatus(*status)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sortMailings(out)
	return out, nil
}
