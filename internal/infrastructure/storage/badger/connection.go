package badger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"TechNotesScanner/internal/logging"
	"TechNotesScanner/internal/ports"
)

const maxTxnRetries = 3

// Store persists every entity in an embedded Badger database.
type Store struct {
	store  *badgerhold.Store
	logger arbor.ILogger
}

var (
	_ ports.Store    = (*Store)(nil)
	_ ports.JobStore = (*Store)(nil)
)

// Open opens (or creates) the database directory at path.
func Open(path string, logger arbor.ILogger) (*Store, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	logger.Debug().Str("path", path).Msg("Opening Badger database connection")

	options := badgerhold.DefaultOptions
	options.Dir = path
	options.ValueDir = path
	options.Logger = nil
	options.Encoder = json.Marshal
	options.Decoder = json.Unmarshal

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	return &Store{store: store, logger: logger}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

// update runs fn in a read-write transaction, retrying on write conflicts.
func (s *Store) update(fn func(tx *badgerdb.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxTxnRetries; attempt++ {
		err = s.store.Badger().Update(fn)
		if !errors.Is(err, badgerdb.ErrConflict) {
			return err
		}
		s.logger.Debug().Int("attempt", attempt+1).Msg("transaction conflict, retrying")
	}
	return err
}
