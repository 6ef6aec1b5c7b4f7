package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"jax-advisor-core/internal/domain"
)

// snapshotCache is the Redis side of SPEC_FULL.md §11's distributed
// policy-snapshot cache: the Store publishes its current snapshot here on
// every Update, so a newly started instance can warm its in-memory state
// from the last published copy instead of blocking compliance checks on a
// cold file read. Ported from internal/broker's quoteCache — same
// ping-on-construct shape — but where the quote cache keys per symbol
// with a TTL, this cache holds a single key with no TTL, in the
// snapshot's wire format.
type snapshotCache struct {
	client *redis.Client
}

const snapshotCacheKey = "jax:policy:snapshot"

func newSnapshotCache(redisURL string) (*snapshotCache, error) {
	client := redis.NewClient(&redis.Options{Addr: redisURL, DB: 0})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return &snapshotCache{client: client}, nil
}

// cachedSnapshot is the JSON wire format published to Redis, reusing
// canonicalRule's string-encoded timestamps so the payload round-trips
// through the same parseTime/canonicalize helpers Update already uses.
type cachedSnapshot struct {
	Version  string                   `json:"version"`
	Checksum string                   `json:"checksum"`
	LoadedAt time.Time                `json:"loaded_at"`
	Rules    map[string]canonicalRule `json:"rules"`
}

func (c *snapshotCache) publish(ctx context.Context, snap *Snapshot) error {
	rules := make(map[string]canonicalRule, len(snap.Rules))
	for id, r := range snap.Rules {
		rules[id] = canonicalRule{
			RuleID:           r.RuleID,
			RegulationSource: string(r.RegulationSource),
			RuleName:         r.RuleName,
			Description:      r.Description,
			Severity:         string(r.Severity),
			AppliesTo:        r.AppliesTo,
			EffectiveDate:    r.EffectiveDate.UTC().Format(time.RFC3339),
			LastUpdated:      r.LastUpdated.UTC().Format(time.RFC3339),
			Params:           r.Params,
		}
	}
	data, err := json.Marshal(cachedSnapshot{
		Version:  snap.Version,
		Checksum: snap.Checksum,
		LoadedAt: snap.LoadedAt,
		Rules:    rules,
	})
	if err != nil {
		return fmt.Errorf("policy snapshot cache marshal: %w", err)
	}
	if err := c.client.Set(ctx, snapshotCacheKey, data, 0).Err(); err != nil {
		return fmt.Errorf("policy snapshot cache publish: %w", err)
	}
	return nil
}

// warm returns the last published snapshot, or (nil, nil) on a cache miss
// (nothing has been published yet).
func (c *snapshotCache) warm(ctx context.Context) (*Snapshot, error) {
	data, err := c.client.Get(ctx, snapshotCacheKey).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("policy snapshot cache get: %w", err)
	}

	var cached cachedSnapshot
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, fmt.Errorf("policy snapshot cache unmarshal: %w", err)
	}

	rules := make(map[string]domain.ComplianceRule, len(cached.Rules))
	for id, r := range cached.Rules {
		effective, err := parseTime(r.EffectiveDate)
		if err != nil {
			return nil, fmt.Errorf("policy snapshot cache: rule %s: effective_date: %w", id, err)
		}
		updated := effective
		if r.LastUpdated != "" {
			updated, err = parseTime(r.LastUpdated)
			if err != nil {
				return nil, fmt.Errorf("policy snapshot cache: rule %s: last_updated: %w", id, err)
			}
		}
		rules[id] = domain.ComplianceRule{
			RuleID:           r.RuleID,
			RuleName:         r.RuleName,
			Description:      r.Description,
			RegulationSource: domain.RegulationSource(r.RegulationSource),
			Severity:         domain.Severity(r.Severity),
			AppliesTo:        r.AppliesTo,
			EffectiveDate:    effective,
			LastUpdated:      updated,
			Params:           r.Params,
		}
	}

	return &Snapshot{
		Version:  cached.Version,
		Checksum: cached.Checksum,
		LoadedAt: cached.LoadedAt,
		Rules:    rules,
	}, nil
}

func (c *snapshotCache) close() error {
	return c.client.Close()
}
