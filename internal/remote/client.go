// Package remote provides the client for the cloud document store that
// holds the authoritative copy of every user's collections.
//
// Documents are organized per user and kind, keyed by the entity id
// (records use their date string). The store is a libSQL database: a
// Turso replica in production, or a plain local file in tests via a
// file: DSN. Timestamps on documents are assigned by the database on
// write, not by the device.
package remote

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/tursodatabase/go-libsql"
)

// Client wraps the libSQL connection to the cloud document store.
type Client struct {
	conn *sql.DB
	dsn  string
}

// Open connects to the document store.
//
// The DSN is either a Turso URL with an embedded auth token
// (libsql://host?authToken=...) or a file: path for local use.
// The caller MUST call Close() when done.
//
// Example:
//
//	client, err := remote.Open("libsql://todaydo-prod.turso.io?authToken=" + token)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
func Open(dsn string) (*Client, error) {
	conn, err := sql.Open("libsql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open document store: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping document store: %w", err)
	}

	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	c := &Client{conn: conn, dsn: dsn}

	if err := c.initSchema(context.Background()); err != nil {
		_ = c.Close()
		return nil, err
	}

	return c, nil
}

// Close closes the connection to the document store.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("failed to close document store: %w", err)
	}
	c.conn = nil
	return nil
}

// RawDB returns the underlying sql.DB connection.
func (c *Client) RawDB() *sql.DB {
	return c.conn
}

// initSchema creates the document and session tables. Idempotent.
func (c *Client) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		user_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		doc_id TEXT NOT NULL,
		body TEXT NOT NULL,
		created_at TEXT NOT NULL DEFAULT (datetime('now')),
		updated_at TEXT NOT NULL DEFAULT (datetime('now')),
		PRIMARY KEY (user_id, kind, doc_id)
	);

	CREATE INDEX IF NOT EXISTS idx_documents_user_kind
	    ON documents(user_id, kind);

	CREATE TABLE IF NOT EXISTS sessions (
		user_id TEXT PRIMARY KEY,
		token TEXT NOT NULL,
		device TEXT,
		issued_at TEXT NOT NULL DEFAULT (datetime('now'))
	);
	`

	if _, err := c.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize document store schema: %w", err)
	}

	return nil
}
