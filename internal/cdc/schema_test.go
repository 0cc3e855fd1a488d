package cdc

import (
	"errors"
	"strings"
	"testing"
)

func openTestConn(t *testing.T, dir string) *Conn {
	t.Helper()
	conn, err := Open(testKey(), dir, "message/message_0.db")
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestBuildMetaResolvesColumns(t *testing.T) {
	dir := t.TempDir()
	createMessageFixture(t, dir)
	conn := openTestConn(t, dir)

	meta, err := buildMeta(conn, "ChatMsg_1")
	if err != nil {
		t.Fatalf("buildMeta failed: %v", err)
	}

	if meta.IDColumn != "local_id" {
		t.Errorf("Expected id column local_id, got %s", meta.IDColumn)
	}
	for _, want := range []string{
		"message_content",
		"real_sender_id",
		"WHERE local_id > ?",
		"ORDER BY local_id ASC",
	} {
		if !strings.Contains(meta.Query, want) {
			t.Errorf("Query missing %q: %s", want, meta.Query)
		}
	}
}

func TestBuildMetaCompressContentVariant(t *testing.T) {
	dir := t.TempDir()
	db := createMessageFixture(t, dir)
	mustExec(t, db, `
		CREATE TABLE MSG_aaaa (
			localId INTEGER,
			msgSvrId INTEGER,
			createTime INTEGER,
			compress_content BLOB,
			msgType INTEGER,
			talker TEXT
		)
	`)
	conn := openTestConn(t, dir)

	meta, err := buildMeta(conn, "MSG_aaaa")
	if err != nil {
		t.Fatalf("buildMeta failed: %v", err)
	}
	if meta.IDColumn != "localId" {
		t.Errorf("Expected id column localId, got %s", meta.IDColumn)
	}
	if !strings.Contains(meta.Query, "compress_content") {
		t.Errorf("Query should select compress_content: %s", meta.Query)
	}
	// No status column: the literal default keeps the query shape fixed.
	if !strings.Contains(meta.Query, ", 0 FROM") {
		t.Errorf("Query should default the status column: %s", meta.Query)
	}
}

func TestBuildMetaRowidFallback(t *testing.T) {
	dir := t.TempDir()
	db := createMessageFixture(t, dir)
	mustExec(t, db, `CREATE TABLE Chat_bbbb (content TEXT, type INTEGER)`)
	conn := openTestConn(t, dir)

	meta, err := buildMeta(conn, "Chat_bbbb")
	if err != nil {
		t.Fatalf("buildMeta failed: %v", err)
	}
	if meta.IDColumn != "rowid" {
		t.Errorf("Expected implicit rowid fallback, got %s", meta.IDColumn)
	}
}

func TestBuildMetaUnrecognizedSchema(t *testing.T) {
	dir := t.TempDir()
	db := createMessageFixture(t, dir)
	mustExec(t, db, `CREATE TABLE Msg_cccc (local_id INTEGER, flags INTEGER)`)
	conn := openTestConn(t, dir)

	_, err := buildMeta(conn, "Msg_cccc")
	if !errors.Is(err, ErrSchemaUnrecognized) {
		t.Fatalf("Expected ErrSchemaUnrecognized, got %v", err)
	}
}

func TestSchemaCacheBuildsOnce(t *testing.T) {
	dir := t.TempDir()
	createMessageFixture(t, dir)
	conn := openTestConn(t, dir)

	cache := NewSchemaCache()
	first, err := cache.Meta(conn, "ChatMsg_1")
	if err != nil {
		t.Fatalf("Meta failed: %v", err)
	}
	second, err := cache.Meta(conn, "ChatMsg_1")
	if err != nil {
		t.Fatalf("Meta failed: %v", err)
	}
	if first != second {
		t.Error("Expected cached meta to be reused, got a rebuild")
	}
}
