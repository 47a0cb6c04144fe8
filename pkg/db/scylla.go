// Package db bootstraps the ScyllaDB session the durable store runs on.
package db

import (
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"github.com/arush/chatcore/pkg/logger"
)

type Session struct {
	*gocql.Session
}

func NewSession(hosts []string, keyspace string) (*Session, error) {
	cluster := gocql.NewCluster(hosts...)
	cluster.Keyspace = keyspace
	cluster.Consistency = gocql.Quorum
	cluster.Timeout = 5 * time.Second
	cluster.ConnectTimeout = 5 * time.Second
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		NumRetries: 3,
		Min:        100 * time.Millisecond,
		Max:        1 * time.Second,
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, err
	}

	logger.Log.Info("connected to scylla cluster", "hosts", hosts, "keyspace", keyspace)
	return &Session{Session: session}, nil
}

// EnsureKeyspace creates the keyspace via a throwaway system-keyspace session.
// Schema management proper belongs in migrations; this keeps a fresh node
// usable out of the box.
func EnsureKeyspace(hosts []string, keyspace string) error {
	sys, err := NewSession(hosts, "system")
	if err != nil {
		return fmt.Errorf("connect system keyspace: %w", err)
	}
	defer sys.Close()

	q := fmt.Sprintf(`CREATE KEYSPACE IF NOT EXISTS %s WITH REPLICATION = { 'class' : 'SimpleStrategy', 'replication_factor' : 1 }`, keyspace)
	return sys.Query(q).Exec()
}

// EnsureSchema creates the chat tables if missing.
func EnsureSchema(s *Session) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS rooms (
			id text PRIMARY KEY,
			payload text
		)`,
		`CREATE TABLE IF NOT EXISTS rooms_by_user (
			user_id text,
			room_id text,
			PRIMARY KEY (user_id, room_id)
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			room_id text,
			id bigint,
			payload text,
			PRIMARY KEY (room_id, id)
		) WITH CLUSTERING ORDER BY (id ASC)`,
		`CREATE TABLE IF NOT EXISTS room_unread (
			user_id text,
			room_id text,
			unread counter,
			PRIMARY KEY (user_id, room_id)
		)`,
	}
	for _, stmt := range stmts {
		if err := s.Query(stmt).Exec(); err != nil {
			return err
		}
	}
	return nil
}
