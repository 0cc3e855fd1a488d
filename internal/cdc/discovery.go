package cdc

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
)

// Message table naming conventions across store versions.
const messageTableQuery = `
	SELECT name FROM sqlite_master
	WHERE type = 'table'
	  AND (name LIKE 'ChatMsg\_%' ESCAPE '\'
	    OR name LIKE 'MSG\_%' ESCAPE '\'
	    OR name LIKE 'Msg\_%' ESCAPE '\'
	    OR name LIKE 'Chat\_%' ESCAPE '\')
`

// DiscoverTables enumerates the per-conversation message tables in a store.
// The external application creates a new table for every new conversation,
// so this runs on every capture cycle. Zero results is normal.
func DiscoverTables(c *Conn) ([]string, error) {
	rows, err := c.db.Query(messageTableQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to list message tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating table names: %w", err)
	}
	return tables, nil
}

var messageShardPattern = regexp.MustCompile(`^message_\d+\.db$`)

// DiscoverStores enumerates message shard files (message/message_N.db)
// under the store root. Shards appear lazily while the external
// application initializes, so a missing directory yields an empty list.
func DiscoverStores(dir string) ([]string, error) {
	msgDir := filepath.Join(dir, "message")
	entries, err := os.ReadDir(msgDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", msgDir, err)
	}

	var shards []string
	for _, entry := range entries {
		if entry.IsDir() || !messageShardPattern.MatchString(entry.Name()) {
			continue
		}
		shards = append(shards, filepath.Join("message", entry.Name()))
	}
	sort.Strings(shards)
	return shards, nil
}
