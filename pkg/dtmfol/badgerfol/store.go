// Package badgerfol persists an OWNED FOL history's prepared updates to
// a BadgerDB-backed redo log and reports durability back to the DTM
// core through history_persistent, the storage hook spec §6 leaves as
// an external collaborator.
package badgerfol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/cortx-motr/dtm/internal/dtm"
	"github.com/cortx-motr/dtm/internal/logger"
)

// Store appends one record per prepared FOL update and, after each
// durable sync, advances the owning history's persistent cursor.
type Store struct {
	db  *badgerdb.DB
	fol *dtm.History
}

// Open opens (creating if necessary) a BadgerDB redo log at path and
// binds it to fol, the OWNED FOL history whose updates it persists.
func Open(path string, fol *dtm.History) (*Store, error) {
	opts := badgerdb.DefaultOptions(path)
	opts.Logger = nil // the teacher's badger stores route through its own logger wrapper; this one is quiet by default
	opts.SyncWrites = true
	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badgerfol: open %s: %w", path, err)
	}
	return &Store{db: db, fol: fol}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

type record struct {
	Ver     uint64          `json:"ver"`
	OrigVer uint64          `json:"orig_ver"`
	Rule    dtm.Rule        `json:"rule"`
	Payload json.RawMessage `json:"payload"`
}

func keyFor(ver uint64) []byte {
	b := make([]byte, 9)
	b[0] = 'f'
	binary.BigEndian.PutUint64(b[1:], ver)
	return b
}

// Append durably records up, whose Update carries payload, and reports
// the new high-water mark back to the history as soon as BadgerDB has
// synced the write (fol.c's "storage layer calls history_persistent").
func (s *Store) Append(up *dtm.Up, payload []byte) error {
	rec := record{Ver: up.Ver, OrigVer: up.OrigVer, Rule: up.Rule, Payload: payload}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("badgerfol: encode record: %w", err)
	}

	err = s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(keyFor(up.Ver), data)
	})
	if err != nil {
		return fmt.Errorf("badgerfol: append ver %d: %w", up.Ver, err)
	}

	logger.Debug("badgerfol: appended redo record", logger.HistoryField(s.fol.HistoryID()), logger.Ver(up.Ver))
	s.fol.Persistent(up.Ver)
	return nil
}

// Read replays the record stored for ver, or (nil, nil) if no such
// record was ever appended.
func (s *Store) Read(ver uint64) ([]byte, error) {
	var payload []byte
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(keyFor(ver))
		if err == badgerdb.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var rec record
			if err := json.Unmarshal(val, &rec); err != nil {
				return err
			}
			payload = []byte(rec.Payload)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("badgerfol: read ver %d: %w", ver, err)
	}
	return payload, nil
}
