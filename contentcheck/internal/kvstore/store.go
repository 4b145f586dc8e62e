// CLAUDE:SUMMARY Named key-value stores over SQLite or Postgres: get-or-create by name, byte records, atomic batches.
// Package kvstore is the durable record store behind contentcheck. A DB
// holds any number of named stores; each store maps string keys to byte
// values tagged with a content type. Writes that must land together go
// through a Batch, committed as one transaction.
package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/hazyhaar/contentcheck/dbopen"
	"github.com/hazyhaar/contentcheck/idgen"
)

// Content types used for the records contentcheck writes.
const (
	ContentTypePNG  = "image/png"
	ContentTypeText = "text/plain; charset=utf-8"
	ContentTypeJSON = "application/json; charset=utf-8"
)

// ErrNotFound is returned when a store or record does not exist.
var ErrNotFound = errors.New("kvstore: not found")

// Record is one stored value.
type Record struct {
	Key         string
	Value       []byte
	ContentType string
	UpdatedAt   time.Time
}

// DB is a handle on the stores database.
type DB struct {
	db       *sql.DB
	postgres bool
	newID    idgen.Generator
	now      func() time.Time
}

// Option configures a DB.
type Option func(*DB)

// WithIDGenerator sets the generator for new store IDs. Default: UUIDv7.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(d *DB) { d.newID = gen }
}

// WithClock overrides time.Now for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(d *DB) { d.now = now }
}

// WithPostgresDialect makes New emit $N placeholders.
func WithPostgresDialect() Option {
	return func(d *DB) { d.postgres = true }
}

// New wraps an already opened database whose schema is in place.
func New(db *sql.DB, opts ...Option) *DB {
	d := &DB{
		db:    db,
		newID: idgen.UUIDv7(),
		now:   time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Open opens (or creates) a SQLite stores database at path and applies Schema.
func Open(path string, opts ...Option) (*DB, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(Schema))
	if err != nil {
		return nil, err
	}
	return New(db, opts...), nil
}

// OpenPostgres connects through the pgx stdlib driver and applies SchemaPostgres.
// The caller must blank-import github.com/jackc/pgx/v5/stdlib.
func OpenPostgres(dsn string, opts ...Option) (*DB, error) {
	db, err := dbopen.Open(dsn, dbopen.WithPostgres(), dbopen.WithSchema(SchemaPostgres))
	if err != nil {
		return nil, err
	}
	return New(db, append([]Option{WithPostgresDialect()}, opts...)...), nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// q rewrites ? placeholders for the active dialect.
func (d *DB) q(query string) string {
	if !d.postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Store is one named store.
type Store struct {
	ID        string
	Name      string
	CreatedAt time.Time
	db        *DB
}

// OpenStore returns the store called name, creating it on first use.
func (d *DB) OpenStore(ctx context.Context, name string) (*Store, error) {
	s := &Store{Name: name, db: d}
	var created int64
	err := dbopen.RunTx(ctx, d.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, d.q(`
			INSERT INTO kv_stores (id, name, created_at) VALUES (?, ?, ?)
			ON CONFLICT (name) DO NOTHING`),
			d.newID(), name, d.now().Unix())
		if err != nil {
			return err
		}
		return tx.QueryRowContext(ctx, d.q(`SELECT id, created_at FROM kv_stores WHERE name = ?`), name).
			Scan(&s.ID, &created)
	})
	if err != nil {
		return nil, fmt.Errorf("kvstore: open store %s: %w", name, err)
	}
	s.CreatedAt = time.Unix(created, 0)
	return s, nil
}

// StoreByID looks up an existing store.
func (d *DB) StoreByID(ctx context.Context, id string) (*Store, error) {
	s := &Store{ID: id, db: d}
	var created int64
	err := d.db.QueryRowContext(ctx, d.q(`SELECT name, created_at FROM kv_stores WHERE id = ?`), id).
		Scan(&s.Name, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: store %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("kvstore: store %s: %w", id, err)
	}
	s.CreatedAt = time.Unix(created, 0)
	return s, nil
}

// Get reads one record. A missing key yields ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) (Record, error) {
	rec := Record{Key: key}
	var updated int64
	err := s.db.db.QueryRowContext(ctx, s.db.q(`
		SELECT value, content_type, updated_at FROM kv_records
		WHERE store_id = ? AND key = ?`), s.ID, key).
		Scan(&rec.Value, &rec.ContentType, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %s/%s", ErrNotFound, s.Name, key)
	}
	if err != nil {
		return Record{}, fmt.Errorf("kvstore: get %s/%s: %w", s.Name, key, err)
	}
	rec.UpdatedAt = time.Unix(updated, 0)
	return rec, nil
}

// Set writes one record.
func (s *Store) Set(ctx context.Context, key string, value []byte, contentType string) error {
	return s.Batch().Put(key, value, contentType).Commit(ctx)
}

// Keys lists the store's keys in lexical order.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.db.QueryContext(ctx, s.db.q(`
		SELECT key FROM kv_records WHERE store_id = ? ORDER BY key`), s.ID)
	if err != nil {
		return nil, fmt.Errorf("kvstore: keys %s: %w", s.Name, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// RecordURL is the public locator of key in this store under base.
func (s *Store) RecordURL(base, key string) string {
	return RecordURL(base, s.ID, key)
}

// RecordURL builds <base>/v2/key-value-stores/<storeID>/records/<key>.
func RecordURL(base, storeID, key string) string {
	return strings.TrimRight(base, "/") + "/v2/key-value-stores/" +
		url.PathEscape(storeID) + "/records/" + url.PathEscape(key)
}
