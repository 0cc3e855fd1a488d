package cdc

import (
	"crypto/md5"
	"fmt"
	"testing"

	"go.uber.org/zap"
)

func TestResolveNumericTableName(t *testing.T) {
	dir := t.TempDir()
	createMessageFixture(t, dir)
	conn := openTestConn(t, dir)

	resolver := NewIdentityResolver(zap.NewNop())
	if got := resolver.Resolve(conn, "ChatMsg_1"); got != "wxid_alice" {
		t.Errorf("Expected wxid_alice, got %s", got)
	}
	if got := resolver.Resolve(conn, "ChatMsg_2"); got != "room42@chatroom" {
		t.Errorf("Expected room42@chatroom, got %s", got)
	}
}

func TestResolveHashTableName(t *testing.T) {
	dir := t.TempDir()
	createMessageFixture(t, dir)
	conn := openTestConn(t, dir)

	hash := fmt.Sprintf("%x", md5.Sum([]byte("wxid_alice")))
	resolver := NewIdentityResolver(zap.NewNop())

	for _, prefix := range []string{"Msg_", "MSG_", "Chat_"} {
		if got := resolver.Resolve(conn, prefix+hash); got != "wxid_alice" {
			t.Errorf("Expected wxid_alice for %s%s, got %s", prefix, hash, got)
		}
	}
}

func TestResolveUnknownFallsBackToTableName(t *testing.T) {
	dir := t.TempDir()
	createMessageFixture(t, dir)
	conn := openTestConn(t, dir)

	resolver := NewIdentityResolver(zap.NewNop())
	if got := resolver.Resolve(conn, "Msg_0000000000000000000000000000dead"); got != "Msg_0000000000000000000000000000dead" {
		t.Errorf("Expected degraded table-name identifier, got %s", got)
	}
	if got := resolver.Resolve(conn, "ChatMsg_999"); got != "ChatMsg_999" {
		t.Errorf("Expected degraded table-name identifier, got %s", got)
	}
}
