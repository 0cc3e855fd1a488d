package cdc

import (
	"fmt"
	"strings"
	"sync"
)

// columnRole is a semantic slot a physical column can fill. Column names
// vary across store versions, so roles are resolved at runtime by ordered
// candidate matching instead of compile-time struct mapping.
type columnRole int

const (
	roleID columnRole = iota
	roleServerID
	roleTime
	roleContent
	roleType
	roleSender
	roleStatus
)

// roleCandidates lists known column names per role, in preference order.
// Matching is case-insensitive.
var roleCandidates = map[columnRole][]string{
	roleID:       {"local_id", "localId", "rowid"},
	roleServerID: {"server_id", "svrid", "msgSvrId"},
	roleTime:     {"create_time", "createTime"},
	roleContent:  {"message_content", "content", "msgContent", "compress_content"},
	roleType:     {"local_type", "type", "msgType"},
	roleSender:   {"real_sender_id", "talker", "talkerId"},
	roleStatus:   {"status", "msg_status"},
}

// Literals substituted for optional roles with no matching column, so the
// fetch query always has the same shape.
var roleDefaults = map[columnRole]string{
	roleServerID: "0",
	roleTime:     "0",
	roleType:     "0",
	roleSender:   "''",
	roleStatus:   "0",
}

// TableMeta is the cached query plan for one message table: the resolved
// identifier column and a fixed SELECT parameterized only by "id > ?".
// A table's column set never changes after creation, so metas are built
// once and reused for the process lifetime.
type TableMeta struct {
	Table    string
	IDColumn string
	Query    string
}

func matchColumn(columns []string, candidates []string) (string, bool) {
	for _, candidate := range candidates {
		for _, column := range columns {
			if strings.EqualFold(column, candidate) {
				return column, true
			}
		}
	}
	return "", false
}

// buildMeta introspects a table's columns and resolves its query plan.
// A table with no recognizable content column is ErrSchemaUnrecognized:
// schema variants this engine does not understand yet must not crash the
// pipeline.
func buildMeta(c *Conn, table string) (*TableMeta, error) {
	rows, err := c.db.Query(fmt.Sprintf("PRAGMA table_info([%s])", table))
	if err != nil {
		return nil, fmt.Errorf("failed to introspect %s: %w", table, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var (
			cid, notNull, pk int
			name, colType    string
			dflt             any
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan column info of %s: %w", table, err)
		}
		columns = append(columns, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating columns of %s: %w", table, err)
	}

	// Tables without an explicit id column still have sqlite's implicit
	// row sequence.
	idColumn, ok := matchColumn(columns, roleCandidates[roleID])
	if !ok {
		idColumn = "rowid"
	}

	contentColumn, ok := matchColumn(columns, roleCandidates[roleContent])
	if !ok {
		return nil, fmt.Errorf("%w: %s has no content column (columns: %v)",
			ErrSchemaUnrecognized, table, columns)
	}

	selects := []string{idColumn}
	for _, role := range []columnRole{roleServerID, roleTime} {
		selects = append(selects, resolveOrDefault(columns, role))
	}
	selects = append(selects, contentColumn)
	for _, role := range []columnRole{roleType, roleSender, roleStatus} {
		selects = append(selects, resolveOrDefault(columns, role))
	}

	query := fmt.Sprintf(
		"SELECT %s FROM [%s] WHERE %s > ? ORDER BY %s ASC",
		strings.Join(selects, ", "), table, idColumn, idColumn,
	)

	return &TableMeta{Table: table, IDColumn: idColumn, Query: query}, nil
}

func resolveOrDefault(columns []string, role columnRole) string {
	if column, ok := matchColumn(columns, roleCandidates[role]); ok {
		return column
	}
	return roleDefaults[role]
}

// SchemaCache holds table metas keyed by (store path, table name). Shared
// state with process lifetime, passed into the engine at construction.
type SchemaCache struct {
	mu    sync.Mutex
	metas map[string]*TableMeta
}

// NewSchemaCache creates an empty schema cache.
func NewSchemaCache() *SchemaCache {
	return &SchemaCache{metas: make(map[string]*TableMeta)}
}

// Meta returns the cached query plan for a table, introspecting it on
// first sight. Re-introspecting a known table is pure waste: the external
// application never alters a table's column set after creation.
func (s *SchemaCache) Meta(c *Conn, table string) (*TableMeta, error) {
	key := c.path + "|" + table
	s.mu.Lock()
	if meta, ok := s.metas[key]; ok {
		s.mu.Unlock()
		return meta, nil
	}
	s.mu.Unlock()

	// Introspection runs a query on the connection, so it happens outside
	// the cache lock.
	meta, err := buildMeta(c, table)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.metas[key]; ok {
		return existing, nil
	}
	s.metas[key] = meta
	return meta, nil
}
