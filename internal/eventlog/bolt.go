package eventlog

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

// bucketEvents and bucketSnapshots mirror the bucket-per-concern layout
// the orchestrator's BoltDB-backed workflow store uses.
var (
	bucketEvents    = []byte("events")
	bucketSnapshots = []byte("snapshots")
)

// BoltSink is an optional durable EventSink/Snapshot adapter. It is never
// imported by the kernel's own scheduling logic: only cmd/orchestratord
// wires it in, keeping persistence an external collaborator.
type BoltSink struct {
	db *bbolt.DB
}

// OpenBoltSink opens (creating if absent) a BoltDB file at path and
// prepares its buckets.
func OpenBoltSink(path string) (*BoltSink, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open boltdb: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketEvents, bucketSnapshots} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}
	return &BoltSink{db: db}, nil
}

func (b *BoltSink) Close() error { return b.db.Close() }

// Append persists env keyed by its sequence number, big-endian encoded so
// bucket iteration naturally yields ascending seq order.
func (b *BoltSink) Append(env Envelope) (uint64, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return 0, fmt.Errorf("marshal envelope: %w", err)
	}
	err = b.db.Update(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket(bucketEvents)
		return bkt.Put(seqKey(env.Seq), data)
	})
	if err != nil {
		return 0, fmt.Errorf("append event: %w", err)
	}
	return env.Seq, nil
}

// Save stores a periodic snapshot payload keyed by dagID.
func (b *BoltSink) Save(dagID string, payload []byte) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSnapshots).Put([]byte(dagID), payload)
	})
}

// Load retrieves the most recent snapshot payload for dagID.
func (b *BoltSink) Load(dagID string) ([]byte, bool, error) {
	var payload []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketSnapshots).Get([]byte(dagID))
		if v != nil {
			payload = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return payload, payload != nil, nil
}

// ReplayFrom returns every stored event with Seq > fromSeq, enabling
// snapshot + replay rehydration of aggregate state.
func (b *BoltSink) ReplayFrom(fromSeq uint64) ([]Envelope, error) {
	var out []Envelope
	err := b.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketEvents).Cursor()
		for k, v := c.Seek(seqKey(fromSeq + 1)); k != nil; k, v = c.Next() {
			var env Envelope
			if err := json.Unmarshal(v, &env); err != nil {
				return err
			}
			out = append(out, env)
		}
		return nil
	})
	return out, err
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		key[i] = byte(seq)
		seq >>= 8
	}
	return key
}
