package cdc

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestOpenNotFound(t *testing.T) {
	_, err := Open(testKey(), t.TempDir(), "message/message_0.db")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func TestOpenWrongKey(t *testing.T) {
	dir := t.TempDir()
	createMessageFixture(t, dir)

	wrongKey := testKey()
	wrongKey[0] ^= 0xff

	_, err := Open(wrongKey, dir, "message/message_0.db")
	if !errors.Is(err, ErrDecryptionFailed) {
		t.Fatalf("Expected ErrDecryptionFailed, got %v", err)
	}
}

func TestOpenValidatesAndReads(t *testing.T) {
	dir := t.TempDir()
	db := createMessageFixture(t, dir)
	insertMessage(t, db, "ChatMsg_1", 1, 1, "", "hello", 0)

	conn, err := Open(testKey(), dir, "message/message_0.db")
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer conn.Close()

	maxID, err := conn.MaxID("ChatMsg_1", "local_id")
	if err != nil {
		t.Fatalf("MaxID failed: %v", err)
	}
	if maxID != 1 {
		t.Errorf("Expected max id 1, got %d", maxID)
	}
}

func TestOpenRejectsWrites(t *testing.T) {
	dir := t.TempDir()
	createMessageFixture(t, dir)

	conn, err := Open(testKey(), dir, "message/message_0.db")
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer conn.Close()

	if _, err := conn.db.Exec(`INSERT INTO Name2Id (user_name) VALUES ('intruder')`); err == nil {
		t.Fatal("Expected query_only connection to reject writes")
	}
}

func TestMaxIDEmptyTable(t *testing.T) {
	dir := t.TempDir()
	createMessageFixture(t, dir)

	conn, err := Open(testKey(), dir, "message/message_0.db")
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer conn.Close()

	maxID, err := conn.MaxID("ChatMsg_1", "local_id")
	if err != nil {
		t.Fatalf("MaxID failed: %v", err)
	}
	if maxID != 0 {
		t.Errorf("Expected max id 0 for empty table, got %d", maxID)
	}
}

func TestKeyedDSNShape(t *testing.T) {
	dsn := keyedDSN(filepath.Join("/tmp", "x.db"), testKey())
	for _, want := range []string{"mode=rw", "_busy_timeout=5000", "_pragma_key=x'"} {
		if !strings.Contains(dsn, want) {
			t.Errorf("DSN missing %q: %s", want, dsn)
		}
	}
}
