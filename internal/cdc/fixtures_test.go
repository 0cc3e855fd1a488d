package cdc

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// testKey is the raw key every fixture store is created with.
func testKey() [32]byte {
	var key [32]byte
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

func testKeyHex() string {
	key := testKey()
	return hex.EncodeToString(key[:])
}

// openFixture opens (creating if needed) an encrypted store for writing
// fixture data. Tests write through the same keyed driver the engine
// reads through.
func openFixture(t *testing.T, path string) *sql.DB {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("Failed to create fixture dir: %v", err)
	}
	dsn := fmt.Sprintf("file:%s?mode=rwc&_busy_timeout=5000&_pragma_key=x'%X'", path, testKey())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("Failed to open fixture store: %v", err)
	}
	// sql.Open is lazy; force the file into existence.
	if err := db.Ping(); err != nil {
		t.Fatalf("Failed to create fixture store: %v", err)
	}
	return db
}

func mustExec(t *testing.T, db *sql.DB, query string, args ...interface{}) {
	t.Helper()
	if _, err := db.Exec(query, args...); err != nil {
		t.Fatalf("Fixture exec failed: %v\nquery: %s", err, query)
	}
}

const chatMsgSchema = `
	CREATE TABLE IF NOT EXISTS %s (
		local_id INTEGER PRIMARY KEY,
		server_id INTEGER,
		local_type INTEGER,
		sort_seq INTEGER,
		real_sender_id TEXT,
		create_time INTEGER,
		message_content TEXT,
		status INTEGER
	)
`

// createMessageFixture builds message/message_0.db with an identity table
// and one conversation table (ChatMsg_1 for Name2Id rowid 1).
func createMessageFixture(t *testing.T, dir string) *sql.DB {
	t.Helper()
	db := openFixture(t, filepath.Join(dir, "message", "message_0.db"))
	t.Cleanup(func() { db.Close() })

	mustExec(t, db, `CREATE TABLE Name2Id (user_name TEXT)`)
	mustExec(t, db, `INSERT INTO Name2Id (user_name) VALUES ('wxid_alice'), ('room42@chatroom')`)
	mustExec(t, db, fmt.Sprintf(chatMsgSchema, "ChatMsg_1"))
	return db
}

func insertMessage(t *testing.T, db *sql.DB, table string, localID, msgType int64, sender string, content interface{}, status int64) {
	t.Helper()
	query := fmt.Sprintf(`
		INSERT INTO %s (local_id, server_id, local_type, real_sender_id, create_time, message_content, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, table)
	if _, err := db.Exec(query, localID, localID*100, msgType, sender, 1700000000+localID, content, status); err != nil {
		t.Fatalf("Failed to insert fixture message: %v", err)
	}
}

// createContactFixture builds contact/contact.db.
func createContactFixture(t *testing.T, dir string) {
	t.Helper()
	db := openFixture(t, filepath.Join(dir, "contact", "contact.db"))
	defer db.Close()

	mustExec(t, db, `
		CREATE TABLE contact (
			username TEXT PRIMARY KEY,
			nick_name TEXT,
			remark TEXT,
			alias TEXT
		)
	`)
	mustExec(t, db, `
		INSERT INTO contact (username, nick_name, remark, alias) VALUES
			('wxid_alice', 'Alice', 'Boss', 'alice88'),
			('wxid_bob', 'Bob', '', ''),
			('wxid_carol', '', '', '')
	`)
}

// createSessionFixture builds session/session.db.
func createSessionFixture(t *testing.T, dir string) {
	t.Helper()
	db := openFixture(t, filepath.Join(dir, "session", "session.db"))
	defer db.Close()

	mustExec(t, db, `
		CREATE TABLE SessionTable (
			username TEXT PRIMARY KEY,
			unread_count INTEGER,
			summary TEXT,
			last_timestamp INTEGER,
			last_msg_sender TEXT,
			sort_timestamp INTEGER
		)
	`)
	mustExec(t, db, `
		INSERT INTO SessionTable VALUES
			('wxid_alice', 2, 'see you then', 1700000100, 'wxid_alice', 200),
			('room42@chatroom', 0, '[Image]', 1700000050, 'wxid_bob', 100)
	`)
}
