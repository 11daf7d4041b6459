package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	logx "kvpush/pkg/logx"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// sqlStore is the key-value table shared by the sqlite and postgres drivers.
// Only the placeholder format and the DDL differ.
type sqlStore struct {
	db    *sql.DB
	log   logx.Logger
	sb    sq.StatementBuilderType
	table string
}

func newSQLStore(db *sql.DB, ph sq.PlaceholderFormat, table string, log logx.Logger) *sqlStore {
	return &sqlStore{
		db:    db,
		log:   log,
		sb:    sq.StatementBuilder.PlaceholderFormat(ph),
		table: table,
	}
}

func (s *sqlStore) migrate(ctx context.Context, dialect string) error {
	b, err := migrationsFS.ReadFile("migrations/" + dialect + ".sql")
	if err != nil {
		return err
	}
	ddl := strings.ReplaceAll(string(b), "{{table}}", s.table)
	_, err = s.db.ExecContext(ctx, ddl)
	return err
}

func (s *sqlStore) getQuery(key string) (string, []any, error) {
	return s.sb.Select("value").From(s.table).Where(sq.Eq{"name": key}).ToSql()
}

func (s *sqlStore) putQuery(key string, value []byte, at time.Time) (string, []any, error) {
	return s.sb.Insert(s.table).
		Columns("name", "value", "updated_at").
		Values(key, value, at.UnixMilli()).
		Suffix("ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at").
		ToSql()
}

func (s *sqlStore) Get(ctx context.Context, key string) ([]byte, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	q, args, err := s.getQuery(key)
	if err != nil {
		return nil, err
	}
	var v []byte
	err = s.db.QueryRowContext(ctx, q, args...).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (s *sqlStore) Put(ctx context.Context, key string, value []byte) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if value == nil {
		value = []byte{}
	}
	q, args, err := s.putQuery(key, value, time.Now())
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, q, args...)
	return err
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
