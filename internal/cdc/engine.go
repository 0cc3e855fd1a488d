// Package cdc is a read-only change-data-capture engine over the
// encrypted message store of an external chat application. It never
// writes to the store, reports each row at most once per process
// lifetime, and survives schema drift and concurrent external writes.
package cdc

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"wxtap/internal/decode"
	"wxtap/internal/notify"
)

const (
	contactStore = "contact/contact.db"
	sessionStore = "session/session.db"

	// Bit of the status bitmask that marks a row as sent by this account.
	selfStatusBit = 0x2

	groupChatSuffix = "@chatroom"

	// Grace period after a change signal so a burst of external writes
	// lands in one capture cycle.
	debounceDelay = 200 * time.Millisecond
)

// Session is one row of the conversation list.
type Session struct {
	Username      string `json:"username"`
	DisplayName   string `json:"display_name"`
	UnreadCount   int    `json:"unread_count"`
	Summary       string `json:"summary"`
	LastTimestamp int64  `json:"last_timestamp"`
	LastSender    string `json:"last_msg_sender"`
}

// Message is one captured message, decoded and enriched.
type Message struct {
	LocalID    int64  `json:"local_id"`
	ServerID   int64  `json:"server_id"`
	CreateTime int64  `json:"create_time"`
	RawContent string `json:"content"`
	TypeCode   int64  `json:"msg_type"`
	// Sender identifier; meaningful per-member in group conversations.
	Sender            string `json:"talker"`
	SenderDisplayName string `json:"talker_display_name"`
	// Owning conversation identifier.
	Chat            string `json:"chat"`
	ChatDisplayName string `json:"chat_display_name"`
	IsSelf          bool   `json:"is_self"`

	Content decode.Content `json:"-"`
}

// Preview returns the short log summary of the decoded content.
func (m Message) Preview() string {
	if m.Content == nil {
		return ""
	}
	return m.Content.Preview()
}

// rawRow is a fetched row before decoding and identity resolution.
type rawRow struct {
	localID    int64
	serverID   int64
	createTime int64
	content    []byte
	typeCode   int64
	sender     []byte
	status     int64
}

// Engine orchestrates capture cycles: discover shards and tables, fetch
// rows past each watermark, decode, resolve identities, advance
// watermarks, emit the batch.
type Engine struct {
	key [32]byte
	dir string
	log *zap.Logger

	schemas  *SchemaCache
	marks    *WatermarkStore
	resolver *IdentityResolver
	contacts *ContactCache

	mu       sync.Mutex
	msgConns map[string]*Conn
}

// ParseKey decodes a 64-hex-character string into the raw 32-byte key.
func ParseKey(keyHex string) ([32]byte, error) {
	var key [32]byte
	if len(keyHex) != 64 {
		return key, fmt.Errorf("%w: got %d characters", ErrInvalidKeyFormat, len(keyHex))
	}
	raw, err := hex.DecodeString(keyHex)
	if err != nil {
		return key, fmt.Errorf("%w: %v", ErrInvalidKeyFormat, err)
	}
	copy(key[:], raw)
	return key, nil
}

// New creates an engine over the store directory. The key is immutable
// for the process lifetime. Message shards that do not exist yet are
// picked up lazily on later cycles.
func New(keyHex, dir string, log *zap.Logger) (*Engine, error) {
	key, err := ParseKey(keyHex)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		key:      key,
		dir:      dir,
		log:      log.With(zap.String("run_id", uuid.NewString())),
		schemas:  NewSchemaCache(),
		marks:    NewWatermarkStore(),
		contacts: NewContactCache(),
		msgConns: make(map[string]*Conn),
	}
	e.resolver = NewIdentityResolver(e.log)

	e.log.Info("cdc engine created", zap.String("db_dir", dir))
	return e, nil
}

// Close releases all cached store connections.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for rel, conn := range e.msgConns {
		conn.Close()
		delete(e.msgConns, rel)
	}
	return nil
}

// ensureConn returns the cached connection for a message shard, opening
// it on first use. Failed opens are not cached, so the shard is retried
// on the next access.
func (e *Engine) ensureConn(rel string) (*Conn, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if conn, ok := e.msgConns[rel]; ok {
		return conn, nil
	}
	conn, err := Open(e.key, e.dir, rel)
	if err != nil {
		return nil, err
	}
	e.log.Info("message store connected", zap.String("store", rel))
	e.msgConns[rel] = conn
	return conn, nil
}

// RefreshContacts reloads the contact cache from the contact store and
// returns the number of contacts loaded.
func (e *Engine) RefreshContacts() (int, error) {
	conn, err := Open(e.key, e.dir, contactStore)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	count, err := e.contacts.Load(conn)
	if err != nil {
		return 0, err
	}
	e.log.Info("contact cache loaded", zap.Int("contacts", count))
	return count, nil
}

// Contacts returns the cached contact list.
func (e *Engine) Contacts() []Contact {
	return e.contacts.All()
}

// Sessions returns the conversation list, most recently active first.
func (e *Engine) Sessions() ([]Session, error) {
	conn, err := Open(e.key, e.dir, sessionStore)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	rows, err := conn.db.Query(`
		SELECT username, unread_count, summary, last_timestamp, last_msg_sender
		FROM SessionTable ORDER BY sort_timestamp DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var (
			username            string
			unread              sql.NullInt64
			summary, lastSender sql.NullString
			lastTS              sql.NullInt64
		)
		if err := rows.Scan(&username, &unread, &summary, &lastTS, &lastSender); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, Session{
			Username:      username,
			DisplayName:   e.contacts.DisplayName(username),
			UnreadCount:   int(unread.Int64),
			Summary:       summary.String,
			LastTimestamp: lastTS.Int64,
			LastSender:    lastSender.String,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}
	return sessions, nil
}

// NewMessages runs one capture cycle over every message shard and returns
// the rows past each table's watermark, decoded and enriched. Per-table
// failures are logged and skipped; the affected table's watermark stays
// put so it retries next cycle.
func (e *Engine) NewMessages() ([]Message, error) {
	shards, err := DiscoverStores(e.dir)
	if err != nil {
		return nil, err
	}

	var batch []Message
	for _, rel := range shards {
		conn, err := e.ensureConn(rel)
		if err != nil {
			e.log.Warn("message store unavailable",
				zap.String("store", rel), zap.Error(err))
			continue
		}
		batch = append(batch, e.captureStore(conn, rel)...)
	}
	return batch, nil
}

// captureStore fetches new rows from every message table in one shard.
func (e *Engine) captureStore(c *Conn, rel string) []Message {
	tables, err := DiscoverTables(c)
	if err != nil {
		e.log.Warn("table discovery failed",
			zap.String("store", rel), zap.Error(err))
		return nil
	}

	var out []Message
	for _, table := range tables {
		meta, err := e.schemas.Meta(c, table)
		if err != nil {
			e.log.Warn("skipping table",
				zap.String("store", rel), zap.String("table", table), zap.Error(err))
			continue
		}

		since := e.marks.Get(rel, table)
		rows, maxID, err := e.fetchRows(c, meta, since)
		if err != nil {
			e.log.Warn("table fetch failed, will retry next cycle",
				zap.String("store", rel), zap.String("table", table), zap.Error(err))
			continue
		}
		if len(rows) == 0 {
			continue
		}

		chat := e.resolver.Resolve(c, table)
		for _, row := range rows {
			out = append(out, e.enrich(row, chat))
		}

		// Watermark only moves after the table's batch is fully fetched,
		// and only to the last row actually returned.
		e.marks.Advance(rel, table, maxID)
		e.log.Debug("captured",
			zap.String("table", table), zap.Int("messages", len(rows)),
			zap.Int64("since", since), zap.Int64("watermark", maxID))
	}
	return out
}

// fetchRows runs a table's cached query past the watermark. A scan failure
// mid-batch keeps the rows fetched so far; the returned maxID is the last
// successfully fetched identifier, never past a row that was not returned.
func (e *Engine) fetchRows(c *Conn, meta *TableMeta, since int64) ([]rawRow, int64, error) {
	rows, err := c.db.Query(meta.Query, since)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query %s: %w", meta.Table, err)
	}
	defer rows.Close()

	var out []rawRow
	maxID := since
	for rows.Next() {
		var (
			row                            rawRow
			serverID, ts, typeCode, status sql.NullInt64
		)
		if err := rows.Scan(&row.localID, &serverID, &ts, &row.content, &typeCode, &row.sender, &status); err != nil {
			e.log.Warn("row scan failed, stopping batch early",
				zap.String("table", meta.Table), zap.Error(err))
			break
		}
		row.serverID = serverID.Int64
		row.createTime = ts.Int64
		row.typeCode = typeCode.Int64
		row.status = status.Int64
		out = append(out, row)
		if row.localID > maxID {
			maxID = row.localID
		}
	}
	if err := rows.Err(); err != nil {
		if len(out) == 0 {
			return nil, 0, fmt.Errorf("error iterating %s: %w", meta.Table, err)
		}
		e.log.Warn("iteration ended early, keeping partial batch",
			zap.String("table", meta.Table), zap.Error(err))
	}
	return out, maxID, nil
}

// enrich decodes a raw row and resolves its sender and conversation.
func (e *Engine) enrich(row rawRow, chat string) Message {
	content := decode.Bytes(row.content)
	sender := decode.Bytes(row.sender)
	sender, content = splitGroupSender(chat, sender, content)

	// Private conversations leave the sender column empty; the peer is
	// the conversation identifier itself.
	if sender == "" && !strings.HasSuffix(chat, groupChatSuffix) {
		sender = chat
	}

	return Message{
		LocalID:           row.localID,
		ServerID:          row.serverID,
		CreateTime:        row.createTime,
		RawContent:        content,
		Content:           decode.Parse(row.typeCode, content),
		TypeCode:          row.typeCode,
		Sender:            sender,
		SenderDisplayName: e.contacts.DisplayName(sender),
		Chat:              chat,
		ChatDisplayName:   e.contacts.DisplayName(chat),
		IsSelf:            row.status&selfStatusBit != 0,
	}
}

// splitGroupSender recovers the true sender from the "<id>:\n" prefix the
// external application embeds in group-conversation rows whose sender
// column is empty. Best-effort: the prefix must look like a bare
// identifier; everything after the first delimiter stays in the content.
func splitGroupSender(chat, sender, content string) (string, string) {
	if sender != "" || !strings.HasSuffix(chat, groupChatSuffix) {
		return sender, content
	}
	idx := strings.Index(content, ":\n")
	if idx <= 0 {
		return sender, content
	}
	prefix := content[:idx]
	if strings.ContainsAny(prefix, " \t\n") {
		return sender, content
	}
	return prefix, content[idx+2:]
}

// MarkAllRead sets every known table's watermark to its current maximum
// identifier, so pre-existing history is treated as already seen. Called
// once at startup.
func (e *Engine) MarkAllRead() error {
	shards, err := DiscoverStores(e.dir)
	if err != nil {
		return err
	}

	for _, rel := range shards {
		conn, err := e.ensureConn(rel)
		if err != nil {
			e.log.Warn("message store unavailable",
				zap.String("store", rel), zap.Error(err))
			continue
		}
		tables, err := DiscoverTables(conn)
		if err != nil {
			e.log.Warn("table discovery failed",
				zap.String("store", rel), zap.Error(err))
			continue
		}

		marked := 0
		for _, table := range tables {
			meta, err := e.schemas.Meta(conn, table)
			if err != nil {
				continue
			}
			maxID, err := conn.MaxID(table, meta.IDColumn)
			if err != nil {
				e.log.Warn("failed to read max id",
					zap.String("table", table), zap.Error(err))
				continue
			}
			e.marks.Advance(rel, table, maxID)
			marked++
		}
		e.log.Info("marked tables as read",
			zap.String("store", rel), zap.Int("tables", marked))
	}
	return nil
}

// Run drives capture cycles until ctx is done. Filesystem change signals
// trigger cycles; the poll ticker is the safety net when the notifier is
// unavailable or silent. Each non-empty batch is logged and handed to
// onBatch.
func (e *Engine) Run(ctx context.Context, pollInterval time.Duration, onBatch func([]Message)) error {
	var events <-chan struct{}
	notifier, err := notify.Start(e.dir, e.log)
	if err != nil {
		// A nil channel blocks forever; the ticker carries the loop.
		e.log.Warn("no change notifications, polling only", zap.Error(err))
	} else {
		events = notifier.C()
		defer notifier.Close()
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-events:
			debounce(ctx, events)
		case <-ticker.C:
		}

		batch, err := e.NewMessages()
		if err != nil {
			e.log.Warn("capture cycle failed", zap.Error(err))
			continue
		}
		if len(batch) == 0 {
			continue
		}

		e.log.Info("batch captured",
			zap.String("batch_id", uuid.NewString()), zap.Int("messages", len(batch)))
		e.logBatch(batch)
		if onBatch != nil {
			onBatch(batch)
		}
	}
}

// debounce waits briefly after the first signal and drains any that
// arrived in the meantime, collapsing a write burst into one cycle.
func debounce(ctx context.Context, events <-chan struct{}) {
	timer := time.NewTimer(debounceDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
	for {
		select {
		case <-events:
		default:
			return
		}
	}
}

func (e *Engine) logBatch(batch []Message) {
	for _, m := range batch {
		preview := m.Preview()
		if runes := []rune(preview); len(runes) > 40 {
			preview = string(runes[:40]) + "..."
		}
		if strings.HasSuffix(m.Chat, groupChatSuffix) {
			e.log.Info("message",
				zap.String("chat", m.ChatDisplayName),
				zap.String("sender", m.SenderDisplayName),
				zap.String("talker", m.Sender),
				zap.String("preview", preview))
		} else {
			e.log.Info("message",
				zap.String("sender", m.SenderDisplayName),
				zap.String("talker", m.Sender),
				zap.String("preview", preview))
		}
	}
}
