// SPDX-License-Identifier: Apache-2.0

// Package db provides the narrow Connection abstraction the orchestrator
// and receivers depend on: Exec, Query, Commit, Rollback, Notices. A real
// Connection is backed by one lib/pq driver connection held open for the
// lifetime of a single host's transaction.
package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/cloudflare/backoff"
	"github.com/lib/pq"
)

const (
	lockNotAvailableErrorCode pq.ErrorCode = "55P03"
	maxBackoffDuration                     = 1 * time.Minute
	backoffInterval                        = 1 * time.Second
)

// Connection is the narrow interface the rest of the system talks to: one
// PostgreSQL connection holding a single open transaction.
type Connection interface {
	Exec(ctx context.Context, query string) (sql.Result, error)
	Query(ctx context.Context, query string) (*sql.Rows, error)
	Commit() error
	Rollback() error
	// Notices drains and returns the server NOTICE messages accumulated
	// since the previous call, in arrival order.
	Notices() []string
}

// PQConnection is the lib/pq-backed Connection: one *sql.Conn pulled from a
// per-host *sql.DB built with a notice handler, plus the *sql.Tx begun on
// it. Exec and Query retry on lock_timeout (55P03) with exponential
// backoff.
type PQConnection struct {
	db      *sql.DB
	conn    *sql.Conn
	tx      *sql.Tx
	notices []string
}

// Open dials connInfo with a lib/pq connector wired to capture server
// NOTICE messages, pulls a single connection, and begins a transaction on
// it. The returned PQConnection owns that connection exclusively until
// Commit or Rollback is called.
func Open(ctx context.Context, connInfo string) (*PQConnection, error) {
	pc := &PQConnection{}

	connector, err := pq.NewConnector(connInfo)
	if err != nil {
		return nil, err
	}
	noticeConnector := pq.ConnectorWithNoticeHandler(connector, func(e *pq.Error) {
		pc.notices = append(pc.notices, e.Message)
	})

	pc.db = sql.OpenDB(noticeConnector)
	pc.db.SetMaxOpenConns(1)

	pc.conn, err = pc.db.Conn(ctx)
	if err != nil {
		pc.db.Close()
		return nil, err
	}

	pc.tx, err = pc.conn.BeginTx(ctx, nil)
	if err != nil {
		pc.conn.Close()
		pc.db.Close()
		return nil, err
	}

	return pc, nil
}

// Exec runs query against the open transaction, retrying on lock_timeout.
func (c *PQConnection) Exec(ctx context.Context, query string) (sql.Result, error) {
	b := backoff.New(maxBackoffDuration, backoffInterval)
	for {
		res, err := c.tx.ExecContext(ctx, query)
		if err == nil {
			return res, nil
		}
		if !isLockTimeout(err) {
			return nil, err
		}
		if err := sleepCtx(ctx, b.Duration()); err != nil {
			return nil, err
		}
	}
}

// Query runs query against the open transaction, retrying on lock_timeout.
func (c *PQConnection) Query(ctx context.Context, query string) (*sql.Rows, error) {
	b := backoff.New(maxBackoffDuration, backoffInterval)
	for {
		rows, err := c.tx.QueryContext(ctx, query)
		if err == nil {
			return rows, nil
		}
		if !isLockTimeout(err) {
			return nil, err
		}
		if err := sleepCtx(ctx, b.Duration()); err != nil {
			return nil, err
		}
	}
}

// Commit commits the transaction and releases the underlying connection.
func (c *PQConnection) Commit() error {
	err := c.tx.Commit()
	c.release()
	return err
}

// Rollback rolls back the transaction and releases the underlying
// connection. Safe to call after a failed Commit.
func (c *PQConnection) Rollback() error {
	err := c.tx.Rollback()
	c.release()
	return err
}

// Notices drains and returns the server NOTICE messages accumulated since
// the previous call, in arrival order. The sink calls this after every
// fragment, so each notice reaches the notices file exactly once.
func (c *PQConnection) Notices() []string {
	drained := c.notices
	c.notices = nil
	return drained
}

func (c *PQConnection) release() {
	if c.conn != nil {
		c.conn.Close()
	}
	if c.db != nil {
		c.db.Close()
	}
}

func isLockTimeout(err error) bool {
	pqErr := &pq.Error{}
	return errors.As(err, &pqErr) && pqErr.Code == lockNotAvailableErrorCode
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// ScanFirstValue scans the first value of rows under the assumption that
// it contains a single row with a single column.
func ScanFirstValue[T any](rows *sql.Rows, dest *T) error {
	if rows.Next() {
		if err := rows.Scan(dest); err != nil {
			return err
		}
	}
	return rows.Err()
}
