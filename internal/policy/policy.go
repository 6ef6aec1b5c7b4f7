// Package policy implements the Policy Store: a versioned, hot-reloadable
// compliance rule set with a SHA-256 checksum and subscriber notifications.
package policy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"jax-advisor-core/internal/domain"
	"jax-advisor-core/internal/observability"
)

func readFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// Document is the wire format described in SPEC_FULL.md §6.3.
type Document struct {
	Version string                 `json:"version"`
	Rules   map[string]RuleDoc     `json:"rules"`
}

// RuleDoc is one rule entry inside a policy Document.
type RuleDoc struct {
	RuleID           string         `json:"rule_id"`
	RegulationSource string         `json:"regulation_source"`
	RuleName         string         `json:"rule_name"`
	Description      string         `json:"description,omitempty"`
	Severity         string         `json:"severity"`
	AppliesTo        []string       `json:"applies_to,omitempty"`
	EffectiveDate    string         `json:"effective_date"`
	LastUpdated      string         `json:"last_updated,omitempty"`
	Params           map[string]any `json:"params,omitempty"`
}

// Snapshot is the immutable, currently-active policy set. Snapshots are
// totally ordered by LoadedAt and shared by value between subscribers.
type Snapshot struct {
	Version  string
	Checksum string
	LoadedAt time.Time
	Rules    map[string]domain.ComplianceRule
}

// Rule looks up a rule by id, returning (rule, true) if present.
func (s *Snapshot) Rule(ruleID string) (domain.ComplianceRule, bool) {
	if s == nil {
		return domain.ComplianceRule{}, false
	}
	r, ok := s.Rules[ruleID]
	return r, ok
}

// ErrNotLoaded is returned by Snapshot() before the first LoadFromSource/Update.
var ErrNotLoaded = fmt.Errorf("policy: not loaded")

// PolicySourceError wraps a policy document that could not be read or
// parsed.
type PolicySourceError struct {
	Err error
}

func (e *PolicySourceError) Error() string { return fmt.Sprintf("policy source error: %v", e.Err) }
func (e *PolicySourceError) Unwrap() error { return e.Err }

// ChangeRecorder receives a policy_change event whenever the snapshot
// transitions. Implemented by internal/audit.Log.
type ChangeRecorder interface {
	RecordPolicyChange(ctx context.Context, oldVersion, newVersion, oldChecksum, newChecksum, diff string)
}

// Store holds the single current Snapshot and notifies subscribers when it
// changes. The snapshot pointer is guarded by mu; subscriber callbacks run
// outside the write critical section so they must never call back into the
// store on the same goroutine (§9, "Policy subscribers").
type Store struct {
	mu       sync.RWMutex
	current  *Snapshot
	subs     []func(*Snapshot)
	recorder ChangeRecorder
	cache    *snapshotCache

	sourcePath  string
	watchOnce   sync.Once
	watchCancel context.CancelFunc
}

// New creates an empty, unloaded Store. recorder may be nil.
func New(recorder ChangeRecorder) *Store {
	return &Store{recorder: recorder}
}

// EnableSnapshotCache connects the Store to Redis for the distributed
// snapshot cache (§11): every Update publishes its new snapshot so other
// instances — or this one, on its next restart — can warm from it via
// WarmFromCache instead of a cold file read. A connection failure is
// logged and non-fatal, same as C6's quote cache: compliance enforcement
// must not depend on Redis being up.
func (s *Store) EnableSnapshotCache(redisURL string) {
	cache, err := newSnapshotCache(redisURL)
	if err != nil {
		log.Printf("policy store: snapshot cache unavailable, continuing without it: %v", err)
		return
	}
	s.mu.Lock()
	s.cache = cache
	s.mu.Unlock()
}

// WarmFromCache loads the most recently published snapshot from Redis (if
// EnableSnapshotCache succeeded and something has been published) without
// touching the policy file, letting a freshly started instance start
// answering compliance checks immediately. Returns ErrNotLoaded on a cache
// miss or when no cache is configured; callers should fall back to
// LoadFromSource in that case.
func (s *Store) WarmFromCache(ctx context.Context) (*Snapshot, error) {
	s.mu.RLock()
	cache := s.cache
	s.mu.RUnlock()
	if cache == nil {
		return nil, ErrNotLoaded
	}

	snap, err := cache.warm(ctx)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, ErrNotLoaded
	}

	s.mu.Lock()
	s.current = snap
	s.mu.Unlock()

	observability.Info(ctx, "policy_warmed_from_cache", map[string]any{
		"version":  snap.Version,
		"checksum": snap.Checksum,
	})
	return snap, nil
}

// LoadFromSource reads a policy document from a JSON file path.
func (s *Store) LoadFromSource(ctx context.Context, path string) (*Snapshot, error) {
	raw, err := readFile(path)
	if err != nil {
		return nil, &PolicySourceError{Err: err}
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, &PolicySourceError{Err: err}
	}
	s.sourcePath = path
	return s.Update(ctx, doc)
}

// Update loads a policy from an already-parsed in-memory document.
func (s *Store) Update(ctx context.Context, doc Document) (*Snapshot, error) {
	rules, err := parseRules(doc)
	if err != nil {
		return nil, &PolicySourceError{Err: err}
	}

	canonical, err := canonicalize(doc.Version, rules)
	if err != nil {
		return nil, &PolicySourceError{Err: err}
	}
	sum := sha256.Sum256(canonical)
	checksum := hex.EncodeToString(sum[:])

	next := &Snapshot{
		Version:  doc.Version,
		Checksum: checksum,
		LoadedAt: time.Now().UTC(),
		Rules:    rules,
	}

	s.mu.Lock()
	old := s.current
	s.current = next
	cache := s.cache
	subs := make([]func(*Snapshot), len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	if cache != nil {
		if err := cache.publish(ctx, next); err != nil {
			observability.Warn(ctx, "policy_snapshot_cache_publish_failed", map[string]any{"error": err.Error()})
		}
	}

	if old != nil && s.recorder != nil {
		diff := unifiedDiff(old, next)
		s.recorder.RecordPolicyChange(ctx, old.Version, next.Version, old.Checksum, next.Checksum, diff)
	}

	for _, cb := range subs {
		cb(next)
	}

	observability.Info(ctx, "policy_loaded", map[string]any{
		"version":  next.Version,
		"checksum": next.Checksum,
		"rules":    len(next.Rules),
	})

	return next, nil
}

// Snapshot returns the current immutable snapshot, or ErrNotLoaded.
func (s *Store) Snapshot() (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil, ErrNotLoaded
	}
	return s.current, nil
}

// Subscribe registers cb to be invoked, serially and never concurrently from
// the store, with every new snapshot after the current write completes.
func (s *Store) Subscribe(cb func(*Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, cb)
}

// StartWatcher polls the loaded file's content hash on interval and reloads
// on a detected change. Idempotent: repeated calls after the first are a
// no-op. Subscriber/reload errors are logged; the watcher never stops on
// its own.
func (s *Store) StartWatcher(ctx context.Context, interval time.Duration) {
	s.watchOnce.Do(func() {
		watchCtx, cancel := context.WithCancel(ctx)
		s.watchCancel = cancel
		go s.watchLoop(watchCtx, interval)
	})
}

// StopWatcher cancels a previously started watcher, if any.
func (s *Store) StopWatcher() {
	if s.watchCancel != nil {
		s.watchCancel()
	}
}

func (s *Store) watchLoop(ctx context.Context, interval time.Duration) {
	if s.sourcePath == "" {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastHash := ""
	if raw, err := readFile(s.sourcePath); err == nil {
		sum := sha256.Sum256(raw)
		lastHash = hex.EncodeToString(sum[:])
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			raw, err := readFile(s.sourcePath)
			if err != nil {
				observability.Warn(ctx, "policy_watch_read_failed", map[string]any{"error": err})
				continue
			}
			sum := sha256.Sum256(raw)
			hash := hex.EncodeToString(sum[:])
			if hash == lastHash {
				continue
			}
			if _, err := s.LoadFromSource(ctx, s.sourcePath); err != nil {
				observability.Warn(ctx, "policy_watch_reload_failed", map[string]any{"error": err})
				continue
			}
			lastHash = hash
		}
	}
}

func parseRules(doc Document) (map[string]domain.ComplianceRule, error) {
	rules := make(map[string]domain.ComplianceRule, len(doc.Rules))
	for id, raw := range doc.Rules {
		effective, err := parseTime(raw.EffectiveDate)
		if err != nil {
			return nil, fmt.Errorf("rule %s: effective_date: %w", id, err)
		}
		updated := effective
		if raw.LastUpdated != "" {
			updated, err = parseTime(raw.LastUpdated)
			if err != nil {
				return nil, fmt.Errorf("rule %s: last_updated: %w", id, err)
			}
		}
		rules[id] = domain.ComplianceRule{
			RuleID:           raw.RuleID,
			RuleName:         raw.RuleName,
			Description:      raw.Description,
			RegulationSource: domain.RegulationSource(raw.RegulationSource),
			Severity:         domain.Severity(raw.Severity),
			AppliesTo:        raw.AppliesTo,
			EffectiveDate:    effective,
			LastUpdated:      updated,
			Params:           raw.Params,
		}
	}
	return rules, nil
}

func parseTime(v string) (time.Time, error) {
	return time.Parse(time.RFC3339, v)
}

// canonicalize renders the rule set as stable-sorted JSON: map keys sort
// lexicographically by construction of encoding/json, timestamps render as
// ISO-8601 UTC, and absent fields are omitted.
func canonicalize(version string, rules map[string]domain.ComplianceRule) ([]byte, error) {
	out := struct {
		Version string                     `json:"version"`
		Rules   map[string]canonicalRule   `json:"rules"`
	}{
		Version: version,
		Rules:   make(map[string]canonicalRule, len(rules)),
	}
	for id, r := range rules {
		out.Rules[id] = canonicalRule{
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
	return json.Marshal(out)
}

type canonicalRule struct {
	RuleID           string         `json:"rule_id"`
	RegulationSource string         `json:"regulation_source"`
	RuleName         string         `json:"rule_name"`
	Description      string         `json:"description,omitempty"`
	Severity         string         `json:"severity"`
	AppliesTo        []string       `json:"applies_to,omitempty"`
	EffectiveDate    string         `json:"effective_date"`
	LastUpdated      string         `json:"last_updated,omitempty"`
	Params           map[string]any `json:"params,omitempty"`
}

// unifiedDiff renders a line-oriented diff of two snapshots' canonical form
// for the audit trail. It intentionally stays simple (no LCS) since it is a
// human-readable record, not a patch to be applied.
func unifiedDiff(old, next *Snapshot) string {
	oldBytes, _ := canonicalize(old.Version, old.Rules)
	newBytes, _ := canonicalize(next.Version, next.Rules)
	if string(oldBytes) == string(newBytes) {
		return ""
	}
	return fmt.Sprintf("--- policy@%s\n+++ policy@%s\n-%s\n+%s", old.Version, next.Version, oldBytes, newBytes)
}
