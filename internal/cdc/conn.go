package cdc

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mutecomm/go-sqlcipher/v4"
)

// Conn owns one open handle to a single encrypted store file.
//
// Opening is expensive (key setup costs hundreds of milliseconds), so
// connections are cached by the engine and reused, never reopened per
// query. The pool is pinned to one underlying handle, which also gives
// callers mutual exclusion: only one query is in flight at a time.
type Conn struct {
	db   *sql.DB
	path string
}

// keyedDSN is the single place the raw key crosses into the driver. The 32
// key bytes go in as a SQLCipher raw-key blob literal (x'hex'), which the
// cipher uses directly — this is not a passphrase and no KDF runs on it.
//
// mode=rw is deliberate: in WAL mode a read-only open cannot see rows the
// external writer has committed to the log but not yet checkpointed.
// Write protection comes from PRAGMA query_only, set right after open.
func keyedDSN(path string, key [32]byte) string {
	return fmt.Sprintf("file:%s?mode=rw&_busy_timeout=5000&_pragma_key=x'%X'", path, key)
}

// Open opens the store at dir/rel with the given raw key.
//
// Returns ErrNotFound when the file does not exist and ErrDecryptionFailed
// when the key is wrong or the header is corrupt; both are recoverable and
// the caller is expected to retry on a later access.
func Open(key [32]byte, dir, rel string) (*Conn, error) {
	path := filepath.Join(dir, rel)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}

	db, err := sql.Open("sqlite3", keyedDSN(path, key))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", rel, err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA cipher_compatibility = 4",
		// Never trigger a checkpoint: the log belongs to the external
		// application and a checkpoint would be a write side-effect.
		"PRAGMA wal_autocheckpoint = 0",
		"PRAGMA query_only = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: %s: %v", ErrDecryptionFailed, rel, err)
		}
	}

	// The header is only read on the first real query, so a wrong key
	// surfaces here rather than at open time.
	var count int
	if err := db.QueryRow("SELECT count(*) FROM sqlite_master").Scan(&count); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrDecryptionFailed, rel, err)
	}

	return &Conn{db: db, path: path}, nil
}

// Path returns the absolute path of the underlying store file.
func (c *Conn) Path() string { return c.path }

// Close releases the store handle.
func (c *Conn) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// MaxID returns the current maximum identifier in a table, 0 when empty.
func (c *Conn) MaxID(table, idColumn string) (int64, error) {
	var maxID int64
	query := fmt.Sprintf("SELECT COALESCE(MAX(%s), 0) FROM [%s]", idColumn, table)
	if err := c.db.QueryRow(query).Scan(&maxID); err != nil {
		return 0, fmt.Errorf("failed to query max id of %s: %w", table, err)
	}
	return maxID, nil
}
