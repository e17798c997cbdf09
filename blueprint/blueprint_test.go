package blueprint_test

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sorchaledger/sorcha/blueprint"
)

type countingSource struct {
	calls int32
	bp    *blueprint.Blueprint
}

func (s *countingSource) GetPublished(blueprintID string) (*blueprint.Blueprint, error) {
	atomic.AddInt32(&s.calls, 1)
	if blueprintID != s.bp.BlueprintID {
		return nil, blueprint.ErrNotFound
	}
	return s.bp, nil
}

func TestGetPublishedCachesAfterFirstLoad(t *testing.T) {
	src := &countingSource{bp: &blueprint.Blueprint{BlueprintID: "bp-1", Version: 1}}
	c := blueprint.NewCache(src, 8)

	bp, err := c.GetPublished("bp-1")
	require.NoError(t, err)
	assert.Equal(t, "bp-1", bp.BlueprintID)

	_, err = c.GetPublished("bp-1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&src.calls))
}

func TestGetPublishedCollapsesConcurrentMisses(t *testing.T) {
	src := &countingSource{bp: &blueprint.Blueprint{BlueprintID: "bp-2", Version: 1}}
	c := blueprint.NewCache(src, 8)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.GetPublished("bp-2")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, atomic.LoadInt32(&src.calls))
}

func TestGetPublishedPropagatesNotFound(t *testing.T) {
	src := &countingSource{bp: &blueprint.Blueprint{BlueprintID: "bp-3"}}
	c := blueprint.NewCache(src, 8)

	_, err := c.GetPublished("missing")
	assert.ErrorIs(t, err, blueprint.ErrNotFound)
}

func TestPutPrimesCacheWithoutSourceCall(t *testing.T) {
	src := &countingSource{bp: &blueprint.Blueprint{BlueprintID: "bp-4"}}
	c := blueprint.NewCache(src, 8)
	c.Put(&blueprint.Blueprint{BlueprintID: "bp-4", Version: 2})

	bp, err := c.GetPublished("bp-4")
	require.NoError(t, err)
	assert.Equal(t, 2, bp.Version)
	assert.EqualValues(t, 0, atomic.LoadInt32(&src.calls))
}

func TestValidateActionRequiresDeclaredAction(t *testing.T) {
	bp := &blueprint.Blueprint{
		BlueprintID: "bp-5",
		Actions: map[string]blueprint.Action{
			"submit": {ActionID: "submit", RequiredFields: []string{"amount"}},
		},
	}

	err := blueprint.ValidateAction(bp, "unknown", map[string]interface{}{})
	assert.ErrorIs(t, err, blueprint.ErrNotFound)

	err = blueprint.ValidateAction(bp, "submit", map[string]interface{}{})
	assert.ErrorIs(t, err, blueprint.ErrSchemaViolation)

	err = blueprint.ValidateAction(bp, "submit", map[string]interface{}{"amount": 10})
	assert.NoError(t, err)
}
