// Package redis implements the vector index on Redis 8+ RediSearch.
package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/rueidis"

	"github.com/atelier-labs/corpusd/internal/index"
)

// Compile-time check: Store implements index.Store.
var _ index.Store = (*Store)(nil)

// Config holds connection parameters for the Redis store.
type Config struct {
	Addrs     []string
	Username  string
	Password  string
	DB        int
	KeyPrefix string
}

// Store keeps chunks as hashes with a binary vector field and serves
// KNN queries through an FT index over the chunk key prefix.
type Store struct {
	client    rueidis.Client
	prefix    string
	indexName string
}

// NewStore creates a Redis store via rueidis.
func NewStore(cfg Config) (*Store, error) {
	if len(cfg.Addrs) == 0 {
		return nil, fmt.Errorf("addrs is required")
	}

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  cfg.Addrs,
		Username:     cfg.Username,
		Password:     cfg.Password,
		SelectDB:     cfg.DB,
		DisableCache: true,
		AlwaysRESP2:  true, // FT.SEARCH result parsing expects RESP2 array format
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	return newStore(client, cfg.KeyPrefix), nil
}

// NewStoreForTest wraps an existing client, for tests with rueidis mock.
func NewStoreForTest(client rueidis.Client, keyPrefix string) *Store {
	return newStore(client, keyPrefix)
}

func newStore(client rueidis.Client, keyPrefix string) *Store {
	if keyPrefix == "" {
		keyPrefix = "corpusd:"
	}
	name := strings.ReplaceAll(strings.TrimSuffix(keyPrefix, ":"), ":", "_") + "_chunks"
	return &Store{client: client, prefix: keyPrefix, indexName: name}
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	cmd := s.client.B().Ping().Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// Close shuts down the client.
func (s *Store) Close() {
	s.client.Close()
}

// WaitForReady polls Ping until the store responds or timeout expires.
func (s *Store) WaitForReady(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for database: %w", ctx.Err())
		case <-ticker.C:
			if err := s.Ping(ctx); err == nil {
				return nil
			}
		}
	}
}

func (s *Store) do(ctx context.Context, cmd rueidis.Completed) rueidis.RedisResult {
	return s.client.Do(ctx, cmd)
}

// doTxn runs cmds inside MULTI/EXEC in a single round-trip, so a
// concurrent reader sees either none or all of the writes.
func (s *Store) doTxn(ctx context.Context, op string, cmds []rueidis.Completed) error {
	txn := make([]rueidis.Completed, 0, len(cmds)+2)
	txn = append(txn, s.b().Multi().Build())
	txn = append(txn, cmds...)
	txn = append(txn, s.b().Exec().Build())

	results := s.client.DoMulti(ctx, txn...)
	for _, res := range results {
		if err := res.Error(); err != nil {
			return &index.Error{Op: op, Err: err}
		}
	}

	// Failures of queued commands only surface inside the EXEC reply.
	replies, err := results[len(results)-1].ToArray()
	if err != nil {
		return &index.Error{Op: op, Err: err}
	}
	for _, reply := range replies {
		if err := reply.Error(); err != nil {
			return &index.Error{Op: op, Err: err}
		}
	}
	return nil
}

func (s *Store) b() rueidis.Builder {
	return s.client.B()
}

func (s *Store) metaKey() string {
	return s.prefix + "meta"
}

func (s *Store) docKey(contentHash string) string {
	return s.prefix + "doc:" + contentHash
}

func (s *Store) chunkKeyPrefix() string {
	return s.prefix + "chunk:"
}

func (s *Store) chunkKey(contentHash string, ordinal int) string {
	return fmt.Sprintf("%s%s:%d", s.chunkKeyPrefix(), contentHash, ordinal)
}

// scan iterates keys matching a pattern.
func (s *Store) scan(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64

	for {
		cmd := s.b().Scan().Cursor(cursor).Match(pattern).Count(100).Build()
		res, err := s.do(ctx, cmd).AsScanEntry()
		if err != nil {
			return nil, err
		}
		keys = append(keys, res.Elements...)
		cursor = res.Cursor
		if cursor == 0 {
			break
		}
	}

	return keys, nil
}

// isRedisErr checks if err is a Redis server error containing substr (case-insensitive).
func isRedisErr(err error, substr string) bool {
	re, ok := rueidis.IsRedisErr(err)
	if !ok {
		return false
	}
	return strings.Contains(strings.ToLower(re.Error()), strings.ToLower(substr))
}
