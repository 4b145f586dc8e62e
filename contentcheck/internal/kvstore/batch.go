package kvstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hazyhaar/contentcheck/dbopen"
	"github.com/hazyhaar/contentcheck/horosafe"
)

type op struct {
	key         string
	value       []byte
	contentType string
	del         bool
}

// Batch collects puts and deletes against one store. Commit applies them in
// a single transaction: either every operation lands or none does.
type Batch struct {
	s   *Store
	ops []op
	err error
}

// Batch starts an empty batch.
func (s *Store) Batch() *Batch {
	return &Batch{s: s}
}

// Put queues an upsert of key.
func (b *Batch) Put(key string, value []byte, contentType string) *Batch {
	if err := horosafe.ValidateKey(key); err != nil && b.err == nil {
		b.err = err
	}
	if value == nil {
		value = []byte{}
	}
	b.ops = append(b.ops, op{key: key, value: value, contentType: contentType})
	return b
}

// Delete queues removal of key. Deleting a missing key is not an error.
func (b *Batch) Delete(key string) *Batch {
	b.ops = append(b.ops, op{key: key, del: true})
	return b
}

// Len is the number of queued operations.
func (b *Batch) Len() int { return len(b.ops) }

// Commit applies the batch.
func (b *Batch) Commit(ctx context.Context) error {
	if b.err != nil {
		return fmt.Errorf("kvstore: batch %s: %w", b.s.Name, b.err)
	}
	if len(b.ops) == 0 {
		return nil
	}
	d := b.s.db
	now := d.now().Unix()
	upsert := d.q(`
		INSERT INTO kv_records (store_id, key, value, content_type, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (store_id, key) DO UPDATE SET
			value = excluded.value,
			content_type = excluded.content_type,
			updated_at = excluded.updated_at`)
	del := d.q(`DELETE FROM kv_records WHERE store_id = ? AND key = ?`)

	err := dbopen.RunTx(ctx, d.db, func(tx *sql.Tx) error {
		for _, o := range b.ops {
			var err error
			if o.del {
				_, err = tx.ExecContext(ctx, del, b.s.ID, o.key)
			} else {
				_, err = tx.ExecContext(ctx, upsert, b.s.ID, o.key, o.value, o.contentType, now)
			}
			if err != nil {
				return fmt.Errorf("%s: %w", o.key, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("kvstore: commit %s: %w", b.s.Name, err)
	}
	return nil
}
