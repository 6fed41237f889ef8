// Package statusstore persists automatic transaction generator statuses in redis so the
// per-connector time budget survives a simulator restart.
package statusstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"chargesim/backend/services/station-simulator/internal/atg"
)

const (
	keyPrefix  = "atg:status:"
	scanCount  = 100
	defaultTTL = 7 * 24 * time.Hour
)

// Store is a redis-backed atg.StatusStore.
type Store struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewStore returns a store whose records expire after ttl (a week when ttl <= 0).
func NewStore(client redis.Cmdable, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Store{client: client, ttl: ttl}
}

func key(stationID string, connectorID int) string {
	return fmt.Sprintf("%s%s:%d", keyPrefix, stationID, connectorID)
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

// scanPattern matches the keys of one station; glob characters in the id match literally.
func scanPattern(stationID string) string {
	return keyPrefix + globEscaper.Replace(stationID) + ":*"
}

func connectorFromKey(stationID, k string) (int, bool) {
	suffix, ok := strings.CutPrefix(k, keyPrefix+stationID+":")
	if !ok {
		return 0, false
	}
	id, err := strconv.Atoi(suffix)
	if err != nil {
		return 0, false
	}
	return id, true
}

// Save stores one connector status.
func (s *Store) Save(ctx context.Context, stationID string, connectorID int, status atg.Status) error {
	data, err := json.Marshal(status)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key(stationID, connectorID), data, s.ttl).Err()
}

// Load returns every persisted connector status of a station.
func (s *Store) Load(ctx context.Context, stationID string) (map[int]atg.Status, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, scanPattern(stationID), scanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("statusstore: scan %s: %w", stationID, err)
	}

	statuses := make(map[int]atg.Status, len(keys))
	if len(keys) == 0 {
		return statuses, nil
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("statusstore: load %s: %w", stationID, err)
	}
	for i, value := range values {
		connectorID, ok := connectorFromKey(stationID, keys[i])
		if !ok {
			continue
		}
		raw, ok := value.(string)
		if !ok {
			continue
		}
		var status atg.Status
		if err := json.Unmarshal([]byte(raw), &status); err != nil {
			return nil, fmt.Errorf("statusstore: decode %s: %w", keys[i], err)
		}
		statuses[connectorID] = status
	}
	return statuses, nil
}
