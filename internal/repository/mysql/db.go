// Package mysql implements the repository contracts on MySQL through database/sql.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog"
	"os"
	"restaurant-service/internal/apperr"
	"strings"
	"time"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Str("component", "mysql").Logger()

const (
	DefaultMaxOpenConns    = 25
	DefaultMaxIdleConns    = 5
	DefaultConnMaxLifetime = 5 * time.Minute
)

// Connect opens dsn and pings it, retrying every 3 seconds up to retries times.
func Connect(ctx context.Context, dsn string, retries int) (*sql.DB, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.MultiStatements = false

	var db *sql.DB
	for i := 0; i < retries; i++ {
		db, err = sql.Open("mysql", cfg.FormatDSN())
		if err == nil {
			err = db.PingContext(ctx)
			if err == nil {
				db.SetMaxOpenConns(DefaultMaxOpenConns)
				db.SetMaxIdleConns(DefaultMaxIdleConns)
				db.SetConnMaxLifetime(DefaultConnMaxLifetime)
				logger.Info().Msgf("Connected to DB %s at %s", cfg.DBName, cfg.Addr)
				return db, nil
			}
			db.Close()
		}
		logger.Warn().Err(err).Msgf("Retry %d: failed to connect to DB %s (%s)", i+1, cfg.DBName, cfg.Addr)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(3 * time.Second):
		}
	}
	return nil, fmt.Errorf("failed to connect to DB %s at %s after retries: %w", cfg.DBName, cfg.Addr, err)
}

// withTx runs fn inside a transaction, rolling back on error or panic.
func withTx(ctx context.Context, db *sql.DB, op string, fn func(tx *sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Storage(err, op)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				logger.Error().Err(rbErr).Msgf("Rollback failed for %s", op)
			}
			return
		}
		if cErr := tx.Commit(); cErr != nil {
			err = apperr.Storage(cErr, op)
		}
	}()
	return fn(tx)
}

func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1062
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
