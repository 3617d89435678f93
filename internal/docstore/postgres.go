package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore persists documents in a single jsonb table, one row per
// document, keyed by (collection, id).
type PostgresStore struct {
	db *sql.DB
}

func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(10)
	db.SetMaxOpenConns(20)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

var fieldNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func (s *PostgresStore) Get(ctx context.Context, collection, id string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT data, created_at, updated_at
		FROM documents
		WHERE collection=$1 AND id=$2
	`, collection, id)
	return scanRecord(id, row)
}

func (s *PostgresStore) Query(ctx context.Context, collection string, filters []Filter, order *Order) ([]Record, error) {
	query := `SELECT id, data, created_at, updated_at FROM documents WHERE collection=$1`
	args := []any{collection}
	for _, filter := range filters {
		if !fieldNamePattern.MatchString(filter.Field) {
			return nil, fmt.Errorf("invalid filter field %q", filter.Field)
		}
		value, err := normalizeValue(filter.Value)
		if err != nil {
			return nil, err
		}
		args = append(args, fmt.Sprint(value))
		query += fmt.Sprintf(" AND data->>'%s' = $%d", filter.Field, len(args))
	}
	if order != nil {
		column, err := orderColumn(order.Field)
		if err != nil {
			return nil, err
		}
		query += " ORDER BY " + column
		if order.Desc {
			query += " DESC"
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		var (
			rec Record
			raw []byte
		)
		if err := rows.Scan(&rec.ID, &raw, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan %s: %w", collection, err)
		}
		if err := json.Unmarshal(raw, &rec.Data); err != nil {
			return nil, fmt.Errorf("decode %s document: %w", collection, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", collection, err)
	}
	return records, nil
}

func (s *PostgresStore) BatchGet(ctx context.Context, collection string, ids []string) ([]Record, error) {
	records := make([]Record, 0, len(ids))
	for _, chunk := range chunkIDs(ids) {
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, data, created_at, updated_at
			FROM documents
			WHERE collection=$1 AND id = ANY($2)
		`, collection, chunk)
		if err != nil {
			return nil, fmt.Errorf("batch get %s: %w", collection, err)
		}
		for rows.Next() {
			var (
				rec Record
				raw []byte
			)
			if err := rows.Scan(&rec.ID, &raw, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan %s: %w", collection, err)
			}
			if err := json.Unmarshal(raw, &rec.Data); err != nil {
				rows.Close()
				return nil, fmt.Errorf("decode %s document: %w", collection, err)
			}
			records = append(records, rec)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("iterate %s: %w", collection, err)
		}
		rows.Close()
	}
	return records, nil
}

func (s *PostgresStore) Create(ctx context.Context, collection string, data map[string]any) (string, error) {
	normalized, err := normalize(data)
	if err != nil {
		return "", err
	}
	encoded, err := json.Marshal(normalized)
	if err != nil {
		return "", fmt.Errorf("encode document: %w", err)
	}
	id := newDocumentID()
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, data)
		VALUES ($1, $2, $3)
	`, collection, id, encoded); err != nil {
		return "", fmt.Errorf("insert %s document: %w", collection, err)
	}
	return id, nil
}

// Update performs a read-modify-write under a row lock so concurrent
// ArrayUnion patches on the same document do not lose elements.
func (s *PostgresStore) Update(ctx context.Context, collection, id string, patch Patch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var raw []byte
	err = tx.QueryRowContext(ctx, `
		SELECT data FROM documents
		WHERE collection=$1 AND id=$2
		FOR UPDATE
	`, collection, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock %s document: %w", collection, err)
	}

	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("decode %s document: %w", collection, err)
	}
	merged, err := applyPatch(data, patch)
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE documents SET data=$3, updated_at=NOW()
		WHERE collection=$1 AND id=$2
	`, collection, id, encoded); err != nil {
		return fmt.Errorf("update %s document: %w", collection, err)
	}
	return tx.Commit()
}

func (s *PostgresStore) Delete(ctx context.Context, collection, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE collection=$1 AND id=$2`, collection, id)
	if err != nil {
		return fmt.Errorf("delete %s document: %w", collection, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s document: %w", collection, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func scanRecord(id string, row *sql.Row) (Record, error) {
	var (
		rec Record
		raw []byte
	)
	err := row.Scan(&raw, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("read document: %w", err)
	}
	if err := json.Unmarshal(raw, &rec.Data); err != nil {
		return Record{}, fmt.Errorf("decode document: %w", err)
	}
	rec.ID = id
	return rec, nil
}

func orderColumn(field string) (string, error) {
	switch field {
	case "createdAt":
		return "created_at", nil
	case "updatedAt":
		return "updated_at", nil
	}
	if !fieldNamePattern.MatchString(field) {
		return "", fmt.Errorf("invalid order field %q", field)
	}
	return fmt.Sprintf("data->>'%s'", field), nil
}
