package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/catalog-enricher/internal/db"
	"github.com/sells-group/catalog-enricher/internal/model"
	"github.com/sells-group/catalog-enricher/internal/review"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// Pool returns the underlying database pool for subsystems needing
// direct query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS items (
	id            TEXT PRIMARY KEY,
	raw_input     TEXT NOT NULL,
	identifier    TEXT NOT NULL DEFAULT '',
	fields        JSONB NOT NULL DEFAULT '{}',
	attempts      INTEGER NOT NULL DEFAULT 0,
	errors        JSONB NOT NULL DEFAULT '[]',
	next_retry_at TIMESTAMPTZ,
	status        TEXT NOT NULL DEFAULT 'pending',
	reason        TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS known_identifiers (
	identifier TEXT PRIMARY KEY,
	item_id    TEXT NOT NULL,
	added_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS claims (
	item_id    TEXT NOT NULL,
	field      TEXT NOT NULL,
	value      JSONB NOT NULL,
	normalized TEXT NOT NULL DEFAULT '',
	confidence DOUBLE PRECISION NOT NULL,
	source     TEXT NOT NULL DEFAULT '',
	accepted   BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS review_queue (
	item_id    TEXT PRIMARY KEY,
	entry      JSONB NOT NULL,
	priority   INTEGER NOT NULL DEFAULT 1,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_items_status ON items(status);
CREATE INDEX IF NOT EXISTS idx_items_next_retry ON items(next_retry_at);
CREATE INDEX IF NOT EXISTS idx_claims_item_field ON claims(item_id, field);
CREATE INDEX IF NOT EXISTS idx_review_priority ON review_queue(priority);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) UpsertItem(ctx context.Context, item *model.CandidateItem) error {
	fieldsJSON, errsJSON, err := marshalItem(item)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO items (id, raw_input, identifier, fields, attempts, errors, next_retry_at, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO UPDATE SET
			identifier = EXCLUDED.identifier,
			fields = EXCLUDED.fields,
			attempts = EXCLUDED.attempts,
			errors = EXCLUDED.errors,
			next_retry_at = EXCLUDED.next_retry_at,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at`,
		item.ID, item.RawInput, item.Identifier, fieldsJSON, item.Attempts, errsJSON,
		item.NextRetryAt, string(item.Status), item.CreatedAt.UTC(), item.UpdatedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: upsert item %s", item.ID)
}

func (s *PostgresStore) GetItem(ctx context.Context, itemID string) (*model.CandidateItem, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, raw_input, identifier, fields, attempts, errors, next_retry_at, status, created_at, updated_at
		 FROM items WHERE id = $1`, itemID,
	)
	item, err := scanPgItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Errorf("item not found: %s", itemID)
	}
	return item, err
}

func (s *PostgresStore) ListItems(ctx context.Context, filter ItemFilter) ([]model.CandidateItem, error) {
	query := `SELECT id, raw_input, identifier, fields, attempts, errors, next_retry_at, status, created_at, updated_at
	          FROM items`
	var args []any

	if filter.Status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at ASC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += ` LIMIT $` + strconv.Itoa(len(args))

	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list items")
	}
	defer rows.Close()

	var items []model.CandidateItem
	for rows.Next() {
		item, err := scanPgItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, eris.Wrap(rows.Err(), "postgres: list items iterate")
}

func (s *PostgresStore) SaveOutcome(ctx context.Context, item *model.CandidateItem, status model.ItemStatus, reason string) error {
	item.Status = status
	item.UpdatedAt = time.Now().UTC()
	if err := s.UpsertItem(ctx, item); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE items SET reason = $1 WHERE id = $2`, reason, item.ID,
	)
	return eris.Wrapf(err, "postgres: save outcome %s", item.ID)
}

func (s *PostgresStore) KnownIdentifiers(ctx context.Context) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT identifier, item_id FROM known_identifiers`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: known identifiers")
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var identifier, itemID string
		if err := rows.Scan(&identifier, &itemID); err != nil {
			return nil, eris.Wrap(err, "postgres: scan identifier")
		}
		out[identifier] = itemID
	}
	return out, eris.Wrap(rows.Err(), "postgres: known identifiers iterate")
}

func (s *PostgresStore) AddIdentifier(ctx context.Context, itemID, identifier string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO known_identifiers (identifier, item_id, added_at) VALUES ($1, $2, now())
		 ON CONFLICT (identifier) DO UPDATE SET item_id = EXCLUDED.item_id`,
		identifier, itemID,
	)
	return eris.Wrapf(err, "postgres: add identifier %s", identifier)
}

// SaveClaims bulk-inserts the claim batch with COPY.
func (s *PostgresStore) SaveClaims(ctx context.Context, itemID string, claims []model.Claim) error {
	rows := make([][]any, 0, len(claims))
	for _, c := range claims {
		valueJSON, err := json.Marshal(c.Value)
		if err != nil {
			return eris.Wrapf(err, "postgres: marshal claim value for %s", c.Field)
		}
		rows = append(rows, []any{itemID, c.Field, valueJSON, c.Normalized, c.Confidence, c.Source, c.Accepted})
	}

	_, err := db.CopyFrom(ctx, s.pool, "claims",
		[]string{"item_id", "field", "value", "normalized", "confidence", "source", "accepted"},
		rows,
	)
	return eris.Wrapf(err, "postgres: save claims %s", itemID)
}

func (s *PostgresStore) LoadClaims(ctx context.Context, itemID string) (map[string][]model.Claim, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT field, value, normalized, confidence, source, accepted FROM claims WHERE item_id = $1`,
		itemID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: load claims %s", itemID)
	}
	defer rows.Close()

	out := make(map[string][]model.Claim)
	for rows.Next() {
		var c model.Claim
		var valueJSON []byte
		if err := rows.Scan(&c.Field, &valueJSON, &c.Normalized, &c.Confidence, &c.Source, &c.Accepted); err != nil {
			return nil, eris.Wrap(err, "postgres: scan claim")
		}
		if err := json.Unmarshal(valueJSON, &c.Value); err != nil {
			return nil, eris.Wrapf(err, "postgres: unmarshal claim value for %s", c.Field)
		}
		out[c.Field] = append(out[c.Field], c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: load claims iterate")
}

func (s *PostgresStore) UpsertReviewEntry(ctx context.Context, entry review.Entry) error {
	entryJSON, err := json.Marshal(entry)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal review entry")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO review_queue (item_id, entry, priority, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (item_id) DO UPDATE SET
			entry = EXCLUDED.entry,
			priority = EXCLUDED.priority,
			updated_at = EXCLUDED.updated_at`,
		entry.ItemID, entryJSON, int(entry.Priority), entry.CreatedAt.UTC(), entry.UpdatedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: upsert review entry %s", entry.ItemID)
}

func (s *PostgresStore) ListReviewEntries(ctx context.Context) ([]review.Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT entry FROM review_queue ORDER BY priority DESC, created_at ASC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list review entries")
	}
	defer rows.Close()

	var entries []review.Entry
	for rows.Next() {
		var entryJSON []byte
		if err := rows.Scan(&entryJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan review entry")
		}
		var e review.Entry
		if err := json.Unmarshal(entryJSON, &e); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal review entry")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list review entries iterate")
}

func (s *PostgresStore) DeleteReviewEntry(ctx context.Context, itemID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM review_queue WHERE item_id = $1`, itemID)
	return eris.Wrapf(err, "postgres: delete review entry %s", itemID)
}

func scanPgItem(row pgx.Row) (*model.CandidateItem, error) {
	var item model.CandidateItem
	var fieldsJSON, errsJSON []byte
	var status string
	var nextRetry *time.Time

	err := row.Scan(&item.ID, &item.RawInput, &item.Identifier, &fieldsJSON, &item.Attempts,
		&errsJSON, &nextRetry, &status, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "postgres: scan item")
	}

	if err := json.Unmarshal(fieldsJSON, &item.Fields); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal item fields")
	}
	if err := json.Unmarshal(errsJSON, &item.Errors); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal item errors")
	}
	item.NextRetryAt = nextRetry
	item.Status = model.ItemStatus(status)
	return &item, nil
}

