package reputation

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTierBands(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(TierTrusted, TierForScore(100))
	assert.Equal(TierTrusted, TierForScore(80))
	assert.Equal(TierNeutral, TierForScore(79))
	assert.Equal(TierNeutral, TierForScore(50))
	assert.Equal(TierSuspicious, TierForScore(49))
	assert.Equal(TierSuspicious, TierForScore(30))
	assert.Equal(TierUntrusted, TierForScore(29))
	assert.Equal(TierUntrusted, TierForScore(0))
}

func TestMemStoreDefaults(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	st := NewMemStore()
	sc, err := st.Get(ctx, "g1", "u1")
	assert.NoError(err)
	assert.Equal(DefaultScore, sc.Score)
	assert.Equal(TierNeutral, sc.Tier)
	assert.Empty(sc.History)
}

func TestAdjustClampAndHistory(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	st := NewMemStore()
	sc, err := st.Adjust(ctx, "g1", "u1", -15, "spam decision", "policy-engine")
	assert.NoError(err)
	assert.Equal(35, sc.Score)
	assert.Equal(TierSuspicious, sc.Tier)
	assert.Len(sc.History, 1)
	assert.Equal(-15, sc.History[0].Delta)

	// clamp at the floor
	sc, err = st.Adjust(ctx, "g1", "u1", -90, "repeat offense", "policy-engine")
	assert.NoError(err)
	assert.Equal(0, sc.Score)
	assert.Equal(TierUntrusted, sc.Tier)

	// clamp at the ceiling
	sc, err = st.Adjust(ctx, "g1", "u1", 500, "manual reset", "admin")
	assert.NoError(err)
	assert.Equal(100, sc.Score)
	assert.Equal(TierTrusted, sc.Tier)
	assert.Len(sc.History, 3)
}

func TestAdjustSerialized(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	st := NewMemStore()

	// start at 50; 20 concurrent -1 and 20 concurrent +1 must all land.
	// deltas are small enough that no interleaving can reach a clamp
	// boundary, so the result is order-independent.
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := st.Adjust(ctx, "g1", "u1", -1, "t", "test")
			assert.NoError(err)
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := st.Adjust(ctx, "g1", "u1", 1, "t", "test")
			assert.NoError(err)
		}()
	}
	wg.Wait()

	sc, err := st.Get(ctx, "g1", "u1")
	assert.NoError(err)
	assert.Equal(DefaultScore, sc.Score)
	assert.Len(sc.History, 40)
}

func TestDistinctKeysIndependent(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	st := NewMemStore()
	_, err := st.Adjust(ctx, "g1", "u1", -10, "t", "test")
	assert.NoError(err)

	sc, err := st.Get(ctx, "g2", "u1")
	assert.NoError(err)
	assert.Equal(DefaultScore, sc.Score)
}
