/*
Package storage provides the persistence backends behind the session
manager: a pebble key-value store for single-node deployments, a
postgres store for shared deployments, redis as the hot cache and the
cross-process broker, and in-memory stand-ins for tests.
*/
package storage

import (
	"context"
	"encoding/binary"

	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"

	editor "github.com/KumarDhananjaya/Real-Time-Collaborative-Text-Editor"
)

// Key space, one letter per record class:
//
//	'S' docid  CRDT snapshot
//	'T' docid  plain-text projection
//	'V' docid  version, big-endian uint64
const (
	keySnapshot = 'S'
	keyText     = 'T'
	keyVersion  = 'V'
)

var pebbleWriteOptions = pebble.WriteOptions{Sync: true}

// PebbleStore keeps documents in a local pebble database. Save is
// batched and synced so a crash never leaves a snapshot without its
// version.
type PebbleStore struct {
	db  *pebble.DB
	dir string
}

func OpenPebble(dir string) (*PebbleStore, error) {
	opts := pebble.Options{
		ErrorIfExists:    false,
		ErrorIfNotExists: false,
	}
	db, err := pebble.Open(dir, &opts)
	if err != nil {
		return nil, errors.Wrap(err, "storage: cannot open pebble")
	}
	return &PebbleStore{db: db, dir: dir}, nil
}

func key(class byte, docID string) []byte {
	k := make([]byte, 0, len(docID)+1)
	k = append(k, class)
	return append(k, docID...)
}

func (p *PebbleStore) Load(ctx context.Context, docID string) ([]byte, int64, error) {
	val, clo, err := p.db.Get(key(keySnapshot, docID))
	if err == pebble.ErrNotFound {
		return nil, 0, editor.ErrNotFound
	}
	if err != nil {
		return nil, 0, errors.Wrap(err, "storage: snapshot read failed")
	}
	snapshot := make([]byte, len(val))
	copy(snapshot, val)
	_ = clo.Close()

	version := int64(0)
	val, clo, err = p.db.Get(key(keyVersion, docID))
	if err == nil {
		if len(val) == 8 {
			version = int64(binary.BigEndian.Uint64(val))
		}
		_ = clo.Close()
	} else if err != pebble.ErrNotFound {
		return nil, 0, errors.Wrap(err, "storage: version read failed")
	}
	return snapshot, version, nil
}

func (p *PebbleStore) Save(ctx context.Context, docID string, snapshot []byte, text string) (int64, error) {
	version := int64(1)
	val, clo, err := p.db.Get(key(keyVersion, docID))
	if err == nil {
		if len(val) == 8 {
			version = int64(binary.BigEndian.Uint64(val)) + 1
		}
		_ = clo.Close()
	} else if err != pebble.ErrNotFound {
		return 0, errors.Wrap(err, "storage: version read failed")
	}

	var vbuf [8]byte
	binary.BigEndian.PutUint64(vbuf[:], uint64(version))
	batch := p.db.NewBatch()
	_ = batch.Set(key(keySnapshot, docID), snapshot, nil)
	_ = batch.Set(key(keyText, docID), []byte(text), nil)
	_ = batch.Set(key(keyVersion, docID), vbuf[:], nil)
	if err := batch.Commit(&pebbleWriteOptions); err != nil {
		return 0, errors.Wrap(err, "storage: save failed")
	}
	return version, nil
}

// Text reads the stored plain-text projection without decoding the
// snapshot; the preview endpoint uses it.
func (p *PebbleStore) Text(ctx context.Context, docID string) (string, error) {
	val, clo, err := p.db.Get(key(keyText, docID))
	if err == pebble.ErrNotFound {
		return "", editor.ErrNotFound
	}
	if err != nil {
		return "", errors.Wrap(err, "storage: text read failed")
	}
	text := string(val)
	_ = clo.Close()
	return text, nil
}

func (p *PebbleStore) DB() *pebble.DB {
	return p.db
}

func (p *PebbleStore) Close() error {
	return p.db.Close()
}
