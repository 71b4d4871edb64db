package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gocql/gocql"
	"github.com/weiawesome/wes-io-live/chat-relay/internal/config"
	"github.com/weiawesome/wes-io-live/chat-relay/pkg/log"
)

// CassandraClient wraps the Cassandra session.
type CassandraClient struct {
	session *gocql.Session
}

// NewCassandraClient creates a session against the configured keyspace,
// creating the keyspace and tables first when EnsureSchema is set.
func NewCassandraClient(cfg config.CassandraConfig) (*CassandraClient, error) {
	if cfg.EnsureSchema {
		if err := ensureKeyspace(cfg); err != nil {
			return nil, err
		}
	}

	cluster := newCluster(cfg)
	cluster.Keyspace = cfg.Keyspace

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create cassandra session: %w", err)
	}

	c := &CassandraClient{session: session}
	if cfg.EnsureSchema {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
		defer cancel()
		if err := c.ensureTables(ctx); err != nil {
			session.Close()
			return nil, err
		}
	}

	return c, nil
}

func newCluster(cfg config.CassandraConfig) *gocql.ClusterConfig {
	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.Consistency = parseConsistency(cfg.Consistency)
	cluster.ConnectTimeout = cfg.ConnectTimeout
	cluster.Timeout = cfg.Timeout
	if cfg.NumConns > 0 {
		cluster.NumConns = cfg.NumConns
	}

	if cfg.Username != "" && cfg.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: cfg.Username,
			Password: cfg.Password,
		}
	}

	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		NumRetries: 3,
		Min:        100 * time.Millisecond,
		Max:        2 * time.Second,
	}
	return cluster
}

func ensureKeyspace(cfg config.CassandraConfig) error {
	session, err := newCluster(cfg).CreateSession()
	if err != nil {
		return fmt.Errorf("failed to create cassandra session: %w", err)
	}
	defer session.Close()

	rf := cfg.ReplicationFactor
	if rf < 1 {
		rf = 1
	}
	stmt := fmt.Sprintf(
		`CREATE KEYSPACE IF NOT EXISTS %s WITH replication = {'class': 'SimpleStrategy', 'replication_factor': %d}`,
		cfg.Keyspace, rf,
	)
	if err := session.Query(stmt).Exec(); err != nil {
		return fmt.Errorf("failed to create keyspace %s: %w", cfg.Keyspace, err)
	}
	return nil
}

var cassandraSchema = []string{
	`CREATE TABLE IF NOT EXISTS messages_by_id (
		message_id text PRIMARY KEY,
		room_id text,
		sender text,
		content text,
		file_url text,
		file_name text,
		file_type text,
		status text,
		created_at timestamp,
		origin_instance text
	)`,
	`CREATE TABLE IF NOT EXISTS messages_by_room (
		room_id text,
		message_id text,
		sender text,
		content text,
		file_url text,
		file_name text,
		file_type text,
		status text,
		created_at timestamp,
		origin_instance text,
		PRIMARY KEY ((room_id), message_id)
	) WITH CLUSTERING ORDER BY (message_id DESC)`,
}

func (c *CassandraClient) ensureTables(ctx context.Context) error {
	for _, stmt := range cassandraSchema {
		if err := c.session.Query(stmt).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("failed to ensure cassandra schema: %w", err)
		}
	}
	l := log.L()
	l.Info().Msg("cassandra schema ensured")
	return nil
}

// Session returns the underlying gocql session.
func (c *CassandraClient) Session() *gocql.Session {
	return c.session
}

// Close closes the Cassandra session.
func (c *CassandraClient) Close() {
	if c.session != nil {
		c.session.Close()
	}
}

// parseConsistency converts a string consistency level to gocql.Consistency.
func parseConsistency(s string) gocql.Consistency {
	switch strings.ToUpper(s) {
	case "ANY":
		return gocql.Any
	case "ONE":
		return gocql.One
	case "TWO":
		return gocql.Two
	case "QUORUM":
		return gocql.Quorum
	case "ALL":
		return gocql.All
	case "LOCAL_ONE":
		return gocql.LocalOne
	case "EACH_QUORUM":
		return gocql.EachQuorum
	default:
		return gocql.LocalQuorum
	}
}
