package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/cenkalti/backoff/v4"
	_ "github.com/lib/pq"

	logx "kvpush/pkg/logx"
)

func openPostgres(cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for postgres driver")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.connectWait())
	defer cancel()
	if err := connectWithRetry(ctx, log, db.PingContext); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	st := newSQLStore(db, sq.Dollar, cfg.table(), log)
	if err := st.migrate(ctx, "postgres"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}
	log.Debug("postgres store ready")
	return st, nil
}

// connectWithRetry retries ping with exponential backoff until ctx expires.
func connectWithRetry(ctx context.Context, log logx.Logger, ping func(context.Context) error) error {
	attempt := 0
	op := func() error {
		attempt++
		err := ping(ctx)
		if err != nil {
			log.Warn("storage connect failed", logx.Int("attempt", attempt), logx.Err(err))
		}
		return err
	}
	return backoff.Retry(op, backoff.WithContext(backoff.NewExponentialBackOff(), ctx))
}
