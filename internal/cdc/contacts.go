package cdc

import (
	"database/sql"
	"fmt"
	"sync"
)

// Contact is one entry from the contact store.
type Contact struct {
	Username    string `json:"username"`
	Nickname    string `json:"nickname"`
	Remark      string `json:"remark"`
	Alias       string `json:"alias"`
	DisplayName string `json:"display_name"`
}

// ContactCache maps opaque identifiers to display names. It is loaded
// separately from the CDC cycle and consulted as a read-through cache: an
// unknown identifier resolves to itself.
type ContactCache struct {
	mu     sync.Mutex
	byUser map[string]Contact
}

// NewContactCache creates an empty contact cache.
func NewContactCache() *ContactCache {
	return &ContactCache{byUser: make(map[string]Contact)}
}

// Load replaces the cache from the contact store and returns the number
// of contacts loaded.
func (cc *ContactCache) Load(c *Conn) (int, error) {
	rows, err := c.db.Query("SELECT username, nick_name, remark, alias FROM contact")
	if err != nil {
		return 0, fmt.Errorf("failed to query contacts: %w", err)
	}
	defer rows.Close()

	loaded := make(map[string]Contact)
	for rows.Next() {
		var (
			username                string
			nickname, remark, alias sql.NullString
		)
		if err := rows.Scan(&username, &nickname, &remark, &alias); err != nil {
			return 0, fmt.Errorf("failed to scan contact: %w", err)
		}
		contact := Contact{
			Username: username,
			Nickname: nickname.String,
			Remark:   remark.String,
			Alias:    alias.String,
		}
		contact.DisplayName = preferredName(contact)
		loaded[username] = contact
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("error iterating contacts: %w", err)
	}

	cc.mu.Lock()
	cc.byUser = loaded
	cc.mu.Unlock()
	return len(loaded), nil
}

// preferredName picks the display name: remark > nickname > username.
func preferredName(c Contact) string {
	if c.Remark != "" {
		return c.Remark
	}
	if c.Nickname != "" {
		return c.Nickname
	}
	return c.Username
}

// All returns a snapshot of every cached contact.
func (cc *ContactCache) All() []Contact {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	contacts := make([]Contact, 0, len(cc.byUser))
	for _, c := range cc.byUser {
		contacts = append(contacts, c)
	}
	return contacts
}

// DisplayName resolves an identifier to its display name, falling back to
// the identifier itself.
func (cc *ContactCache) DisplayName(username string) string {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if c, ok := cc.byUser[username]; ok {
		return c.DisplayName
	}
	return username
}
