package cdc

import (
	"crypto/md5"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// IdentityResolver maps a message table name back to the conversation it
// belongs to. Table names encode the conversation either as a direct row
// number into the Name2Id identity table (ChatMsg_<n>) or as the MD5 of
// the identity string (Msg_/MSG_/Chat_<hash>).
//
// Shared state with process lifetime: the hash map is built lazily on the
// first hash-form lookup and reused afterwards.
type IdentityResolver struct {
	log *zap.Logger

	mu         sync.Mutex
	hashToName map[string]string
}

// NewIdentityResolver creates a resolver with an empty hash cache.
func NewIdentityResolver(log *zap.Logger) *IdentityResolver {
	return &IdentityResolver{log: log}
}

// Resolve returns the conversation identifier for a message table. An
// unresolvable name is logged and the table name itself is returned as a
// degraded identifier; resolution never fails the pipeline.
func (r *IdentityResolver) Resolve(c *Conn, table string) string {
	if suffix, ok := strings.CutPrefix(table, "ChatMsg_"); ok {
		if id, err := strconv.ParseInt(suffix, 10, 64); err == nil {
			var name string
			err := c.db.QueryRow("SELECT user_name FROM Name2Id WHERE rowid = ?", id).Scan(&name)
			if err == nil {
				return name
			}
			r.log.Debug("identity row lookup failed",
				zap.String("table", table), zap.Error(err))
		}
	}

	for _, prefix := range []string{"Msg_", "MSG_", "Chat_"} {
		hash, ok := strings.CutPrefix(table, prefix)
		if !ok {
			continue
		}
		if name, ok := r.lookupHash(c, hash); ok {
			return name
		}
		break
	}

	r.log.Debug("unresolved conversation table", zap.String("table", table))
	return table
}

// lookupHash matches a table-name hash suffix against MD5(user_name) of
// every known identity. The map is built once, from a full read of
// Name2Id, then every lookup is O(1).
func (r *IdentityResolver) lookupHash(c *Conn, hash string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.hashToName == nil {
		rows, err := c.db.Query("SELECT user_name FROM Name2Id")
		if err != nil {
			// Leave the cache unbuilt so the next lookup retries.
			r.log.Warn("failed to read identity table", zap.Error(err))
			return "", false
		}
		defer rows.Close()

		m := make(map[string]string)
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				continue
			}
			m[fmt.Sprintf("%x", md5.Sum([]byte(name)))] = name
		}
		if err := rows.Err(); err != nil {
			r.log.Warn("error iterating identity table", zap.Error(err))
			return "", false
		}
		r.hashToName = m
		r.log.Debug("identity hash map built", zap.Int("entries", len(m)))
	}

	name, ok := r.hashToName[strings.ToLower(hash)]
	return name, ok
}
