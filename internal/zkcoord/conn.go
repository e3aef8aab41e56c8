// Package zkcoord owns the ZooKeeper client lifecycle: session-state
// translation, the ephemeral membership marker, and the persistent
// child-watch used to detect peer-set changes.
package zkcoord

import (
	"fmt"
	"strings"
	"time"

	zookeeper "github.com/Shopify/gozk"
)

// zkConn is the subset of *zookeeper.Conn the supervisor and watcher
// depend on, narrowed to a local interface so tests can substitute a
// fake client without a live ensemble.
type zkConn interface {
	Children(path string) ([]string, *zookeeper.Stat, error)
	ChildrenW(path string) ([]string, *zookeeper.Stat, <-chan zookeeper.Event, error)
	Exists(path string) (*zookeeper.Stat, error)
	Create(path string, value string, flags int, aclv []zookeeper.ACL) (string, error)
	Delete(path string, version int) error
	Close() error
}

// Conn wraps a live *zookeeper.Conn. Its method set is satisfied
// structurally by *zookeeper.Conn, so DialConn is the only place that
// needs to know about the concrete client type.
type Conn struct {
	*zookeeper.Conn
}

// DialConn connects to the given ensemble endpoints and returns the
// wrapped client along with its session-event channel.
func DialConn(servers []string, recvTimeout time.Duration) (*Conn, <-chan zookeeper.Event, error) {
	conn, events, err := zookeeper.Dial(strings.Join(servers, ","), recvTimeout)
	if err != nil {
		return nil, nil, fmt.Errorf("zkcoord: dial %v: %w", servers, err)
	}
	return &Conn{Conn: conn}, events, nil
}

// worldACL is the ACL used for the durable service directory and,
// passed explicitly by CreateNode, for the ephemeral membership znode.
func worldACL() []zookeeper.ACL {
	return zookeeper.WorldACL(zookeeper.PERM_ALL)
}

// isZNodeExists reports whether err is gozk's "node already exists"
// sentinel. gozk's Error is an int type with its values returned by
// value, not a pointer with a Code field, so the pack's own idiom is
// direct equality against the sentinel constant.
func isZNodeExists(err error) bool {
	return err == zookeeper.ZNODEEXISTS
}

// isSessionExpired reports whether err is gozk's "session expired"
// sentinel.
func isSessionExpired(err error) bool {
	return err == zookeeper.ZSESSIONEXPIRED
}

// EnsurePath idempotently creates every segment of p, p itself
// included, as a durable, world-readable container znode, tolerating
// segments that already exist.
func EnsurePath(conn zkConn, p string) error {
	if p == "" || p == "/" {
		return nil
	}

	parts := strings.Split(strings.Trim(p, "/"), "/")
	cur := ""
	for _, part := range parts {
		cur += "/" + part
		_, err := conn.Create(cur, "", 0, worldACL())
		if err != nil && !isZNodeExists(err) {
			return fmt.Errorf("zkcoord: ensure path %s: %w", cur, err)
		}
	}
	return nil
}
