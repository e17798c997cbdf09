// Package blueprint is the consumed interface onto blueprint authoring,
// schema validation, and the routing DSL (spec §1, §6): a cached
// published-blueprint object keyed by blueprint_id, plus a pure
// validate(blueprint, payload) function. Authoring, storage, and the DSL
// itself live outside this repository's scope; this package only models
// what the Validator Pipeline needs to consume.
package blueprint

import (
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/sorchaledger/sorcha/cache"
)

// ErrNotFound is returned by Source.GetPublished for an unknown
// blueprint_id (spec §4.7 step 5: "Missing -> VAL_SCHEMA_001").
var ErrNotFound = errors.New("blueprint: not found")

// ErrSchemaViolation is returned by Validate on a schema mismatch (spec
// §4.7 step 6: "Failure -> VAL_SCHEMA_004").
var ErrSchemaViolation = errors.New("blueprint: schema violation")

// Action is one permitted step in a blueprint's routing DSL.
type Action struct {
	ActionID       string
	RequiredFields []string
	StartingAction bool
}

// Blueprint is the published, immutable object the validator consults
// (spec §1: "consumed as a cached published blueprint object").
type Blueprint struct {
	BlueprintID string
	Version     int
	Actions     map[string]Action
}

// Source is the consumed publish-side interface (spec §6: "get_published
// (blueprint_id) -> blueprint | not_found").
type Source interface {
	GetPublished(blueprintID string) (*Blueprint, error)
}

// Cache wraps a Source with an LRU the way cache.LRU backs every other
// lookup-heavy component here (package cache); a publish event MUST
// populate it before the first transaction referencing the blueprint can
// commit (spec §6).
type Cache struct {
	source Source
	lru    *cache.LRU
	stats  cache.Stats
	group  singleflight.Group
}

// NewCache wraps source with an LRU of the given capacity.
func NewCache(source Source, capacity int) *Cache {
	return &Cache{source: source, lru: cache.NewLRU(capacity)}
}

// GetPublished returns the cached blueprint, loading from source on miss.
// Concurrent misses for the same blueprint_id collapse into a single
// source call via singleflight, since every validator goroutine racing
// to admit transactions against a newly-published blueprint would
// otherwise stampede the publish-side service identically.
func (c *Cache) GetPublished(blueprintID string) (*Blueprint, error) {
	if v, ok := c.lru.Get(blueprintID); ok {
		c.stats.Hit()
		return v.(*Blueprint), nil
	}
	c.stats.Miss()
	v, err, _ := c.group.Do(blueprintID, func() (interface{}, error) {
		return c.source.GetPublished(blueprintID)
	})
	if err != nil {
		return nil, err
	}
	bp := v.(*Blueprint)
	c.lru.Add(blueprintID, bp)
	return bp, nil
}

// Put primes the cache directly, modelling the publish-event hook that
// must land before any transaction referencing blueprintID can commit
// (spec §6).
func (c *Cache) Put(bp *Blueprint) {
	c.lru.Add(bp.BlueprintID, bp)
}

// ValidateAction is the pure validate_action(blueprint, action_id,
// payload_bytes) function (spec §6): it only checks presence of the
// action's required field names in payload; full schema-language
// evaluation is a blueprint-authoring concern outside this repo's scope.
func ValidateAction(bp *Blueprint, actionID string, payload map[string]interface{}) error {
	action, ok := bp.Actions[actionID]
	if !ok {
		return errors.Wrapf(ErrNotFound, "action %q not declared on blueprint %q", actionID, bp.BlueprintID)
	}
	for _, field := range action.RequiredFields {
		if _, present := payload[field]; !present {
			return errors.Wrapf(ErrSchemaViolation, "missing required field %q for action %q", field, actionID)
		}
	}
	return nil
}
