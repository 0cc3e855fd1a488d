package cdc

import "errors"

var (
	// ErrNotFound means an expected store file does not exist yet. The
	// external application creates stores lazily, so this is recoverable.
	ErrNotFound = errors.New("store file not found")

	// ErrInvalidKeyFormat means the supplied key is not 64 hex characters.
	ErrInvalidKeyFormat = errors.New("key must be exactly 64 hex characters")

	// ErrDecryptionFailed means the key is wrong or the store header is
	// corrupt. The connection is discarded and reopened on next access.
	ErrDecryptionFailed = errors.New("store decryption failed")

	// ErrSchemaUnrecognized means a message table has no recognizable
	// content column. The table is skipped, not fatal.
	ErrSchemaUnrecognized = errors.New("unrecognized table schema")
)
