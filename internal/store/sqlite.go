package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/catalog-enricher/internal/faults"
	"github.com/sells-group/catalog-enricher/internal/model"
	"github.com/sells-group/catalog-enricher/internal/review"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures
// WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS items (
	id            TEXT PRIMARY KEY,
	raw_input     TEXT NOT NULL,
	identifier    TEXT NOT NULL DEFAULT '',
	fields        TEXT NOT NULL DEFAULT '{}',
	attempts      INTEGER NOT NULL DEFAULT 0,
	errors        TEXT NOT NULL DEFAULT '[]',
	next_retry_at DATETIME,
	status        TEXT NOT NULL DEFAULT 'pending',
	reason        TEXT NOT NULL DEFAULT '',
	created_at    DATETIME NOT NULL,
	updated_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS known_identifiers (
	identifier TEXT PRIMARY KEY,
	item_id    TEXT NOT NULL,
	added_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS claims (
	item_id    TEXT NOT NULL,
	field      TEXT NOT NULL,
	value      TEXT NOT NULL,
	normalized TEXT NOT NULL DEFAULT '',
	confidence REAL NOT NULL,
	source     TEXT NOT NULL DEFAULT '',
	accepted   INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS review_queue (
	item_id    TEXT PRIMARY KEY,
	entry      TEXT NOT NULL,
	priority   INTEGER NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_items_status ON items(status);
CREATE INDEX IF NOT EXISTS idx_items_next_retry ON items(next_retry_at);
CREATE INDEX IF NOT EXISTS idx_claims_item_field ON claims(item_id, field);
CREATE INDEX IF NOT EXISTS idx_review_priority ON review_queue(priority);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertItem(ctx context.Context, item *model.CandidateItem) error {
	fieldsJSON, errsJSON, err := marshalItem(item)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO items (id, raw_input, identifier, fields, attempts, errors, next_retry_at, status, reason, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, '', ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			identifier = excluded.identifier,
			fields = excluded.fields,
			attempts = excluded.attempts,
			errors = excluded.errors,
			next_retry_at = excluded.next_retry_at,
			status = excluded.status,
			updated_at = excluded.updated_at`,
		item.ID, item.RawInput, item.Identifier, fieldsJSON, item.Attempts, errsJSON,
		item.NextRetryAt, string(item.Status), item.CreatedAt.UTC(), item.UpdatedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: upsert item %s", item.ID)
}

func (s *SQLiteStore) GetItem(ctx context.Context, itemID string) (*model.CandidateItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, raw_input, identifier, fields, attempts, errors, next_retry_at, status, created_at, updated_at
		 FROM items WHERE id = ?`, itemID,
	)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, eris.Errorf("item not found: %s", itemID)
	}
	return item, err
}

func (s *SQLiteStore) ListItems(ctx context.Context, filter ItemFilter) ([]model.CandidateItem, error) {
	query := `SELECT id, raw_input, identifier, fields, attempts, errors, next_retry_at, status, created_at, updated_at
	          FROM items WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at ASC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list items")
	}
	defer rows.Close()

	var items []model.CandidateItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, eris.Wrap(rows.Err(), "sqlite: list items iterate")
}

func (s *SQLiteStore) SaveOutcome(ctx context.Context, item *model.CandidateItem, status model.ItemStatus, reason string) error {
	item.Status = status
	item.UpdatedAt = time.Now().UTC()
	if err := s.UpsertItem(ctx, item); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE items SET reason = ? WHERE id = ?`, reason, item.ID,
	)
	return eris.Wrapf(err, "sqlite: save outcome %s", item.ID)
}

func (s *SQLiteStore) KnownIdentifiers(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT identifier, item_id FROM known_identifiers`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: known identifiers")
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var identifier, itemID string
		if err := rows.Scan(&identifier, &itemID); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan identifier")
		}
		out[identifier] = itemID
	}
	return out, eris.Wrap(rows.Err(), "sqlite: known identifiers iterate")
}

func (s *SQLiteStore) AddIdentifier(ctx context.Context, itemID, identifier string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO known_identifiers (identifier, item_id, added_at) VALUES (?, ?, ?)
		 ON CONFLICT(identifier) DO UPDATE SET item_id = excluded.item_id`,
		identifier, itemID, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: add identifier %s", identifier)
}

func (s *SQLiteStore) SaveClaims(ctx context.Context, itemID string, claims []model.Claim) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin claims tx")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, c := range claims {
		valueJSON, err := json.Marshal(c.Value)
		if err != nil {
			return eris.Wrapf(err, "sqlite: marshal claim value for %s", c.Field)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO claims (item_id, field, value, normalized, confidence, source, accepted)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			itemID, c.Field, string(valueJSON), c.Normalized, c.Confidence, c.Source, c.Accepted,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert claim %s", c.Field)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit claims")
}

func (s *SQLiteStore) LoadClaims(ctx context.Context, itemID string) (map[string][]model.Claim, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT field, value, normalized, confidence, source, accepted FROM claims WHERE item_id = ?`,
		itemID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load claims %s", itemID)
	}
	defer rows.Close()

	out := make(map[string][]model.Claim)
	for rows.Next() {
		var c model.Claim
		var valueJSON string
		if err := rows.Scan(&c.Field, &valueJSON, &c.Normalized, &c.Confidence, &c.Source, &c.Accepted); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan claim")
		}
		if err := json.Unmarshal([]byte(valueJSON), &c.Value); err != nil {
			return nil, eris.Wrapf(err, "sqlite: unmarshal claim value for %s", c.Field)
		}
		out[c.Field] = append(out[c.Field], c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: load claims iterate")
}

func (s *SQLiteStore) UpsertReviewEntry(ctx context.Context, entry review.Entry) error {
	entryJSON, err := json.Marshal(entry)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal review entry")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO review_queue (item_id, entry, priority, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(item_id) DO UPDATE SET
			entry = excluded.entry,
			priority = excluded.priority,
			updated_at = excluded.updated_at`,
		entry.ItemID, string(entryJSON), int(entry.Priority), entry.CreatedAt.UTC(), entry.UpdatedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: upsert review entry %s", entry.ItemID)
}

func (s *SQLiteStore) ListReviewEntries(ctx context.Context) ([]review.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entry FROM review_queue ORDER BY priority DESC, created_at ASC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list review entries")
	}
	defer rows.Close()

	var entries []review.Entry
	for rows.Next() {
		var entryJSON string
		if err := rows.Scan(&entryJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan review entry")
		}
		var e review.Entry
		if err := json.Unmarshal([]byte(entryJSON), &e); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal review entry")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list review entries iterate")
}

func (s *SQLiteStore) DeleteReviewEntry(ctx context.Context, itemID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM review_queue WHERE item_id = ?`, itemID)
	return eris.Wrapf(err, "sqlite: delete review entry %s", itemID)
}

// helpers

func marshalItem(item *model.CandidateItem) (fieldsJSON, errsJSON string, err error) {
	fields := item.Fields
	if fields == nil {
		fields = map[string]any{}
	}
	fb, err := json.Marshal(fields)
	if err != nil {
		return "", "", eris.Wrap(err, "marshal item fields")
	}
	errs := item.Errors
	if errs == nil {
		errs = []faults.Record{}
	}
	eb, err := json.Marshal(errs)
	if err != nil {
		return "", "", eris.Wrap(err, "marshal item errors")
	}
	return string(fb), string(eb), nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanItem(row scannable) (*model.CandidateItem, error) {
	var item model.CandidateItem
	var fieldsJSON, errsJSON, status string
	var nextRetry sql.NullTime

	err := row.Scan(&item.ID, &item.RawInput, &item.Identifier, &fieldsJSON, &item.Attempts,
		&errsJSON, &nextRetry, &status, &item.CreatedAt, &item.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan item")
	}

	if err := json.Unmarshal([]byte(fieldsJSON), &item.Fields); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal item fields")
	}
	if err := json.Unmarshal([]byte(errsJSON), &item.Errors); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal item errors")
	}
	if nextRetry.Valid {
		t := nextRetry.Time
		item.NextRetryAt = &t
	}
	item.Status = model.ItemStatus(status)
	return &item, nil
}
