package ledger

import (
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddDerivesTaskIDAndTotalTokens(t *testing.T) {
	l := New()
	l.Add(Usage{SessionID: "s1", InputTokens: 10, OutputTokens: 5})
	got := l.ForSession("s1")
	require.Len(t, got, 1)
	assert.Equal(t, "s1", got[0].TaskID)
	assert.Equal(t, 15, got[0].TotalTokens)
}

func TestAddOnceDropsDuplicateFingerprint(t *testing.T) {
	l := New()
	u := Usage{SessionID: "s1", InputTokens: 1}
	first := l.AddOnce("fp-a", u)
	second := l.AddOnce("fp-a", u)
	assert.True(t, first)
	assert.False(t, second)
	assert.Len(t, l.ForSession("s1"), 1)
}

func TestAddOnceScopesFingerprintByTaskID(t *testing.T) {
	l := New()
	u1 := Usage{SessionID: "s1", InputTokens: 1}
	u2 := Usage{SessionID: "s2", InputTokens: 1}
	assert.True(t, l.AddOnce("fp-shared", u1))
	assert.True(t, l.AddOnce("fp-shared", u2), "same fingerprint under a different taskID is not a duplicate")
}

func TestForSessionMatchesTaskIDOrSessionID(t *testing.T) {
	l := New()
	l.Add(Usage{SessionID: "s1", TaskID: "provisional"})
	l.Add(Usage{SessionID: "s1"})
	assert.Len(t, l.ForSession("s1"), 2, "both entries carry SessionID s1, so both match even when TaskID diverges")
	assert.Len(t, l.ForSession("provisional"), 1)
}

func TestIncrementRunPerSessionCounters(t *testing.T) {
	l := New()
	assert.Equal(t, 1, l.IncrementRun("s1"))
	assert.Equal(t, 2, l.IncrementRun("s1"))
	assert.Equal(t, 1, l.IncrementRun("s2"))
}

func TestClearRemovesMatchingUsagesOnly(t *testing.T) {
	l := New()
	l.Add(Usage{SessionID: "s1"})
	l.Add(Usage{SessionID: "s2"})
	l.Clear("s1")
	assert.Empty(t, l.ForSession("s1"))
	assert.Len(t, l.ForSession("s2"), 1)
}

func TestAggregateUsagesCostUnavailableWhenAllNegative(t *testing.T) {
	agg := AggregateUsages([]Usage{{Cost: -1}, {Cost: -1}})
	assert.Equal(t, -1.0, agg.TotalCost)
}

func TestAggregateUsagesSumsOnlyNonNegativeCosts(t *testing.T) {
	agg := AggregateUsages([]Usage{{Cost: -1}, {Cost: 2.5}, {Cost: 1.5}})
	assert.Equal(t, 4.0, agg.TotalCost)
	assert.Equal(t, 3, agg.APICallCount, "every usage counts toward APICallCount regardless of cost availability")
}

func TestAggregateUsagesTakesFirstNonEmptyModelAndProvider(t *testing.T) {
	agg := AggregateUsages([]Usage{
		{ModelName: "", Provider: ""},
		{ModelName: "claude-sonnet-4-5", Provider: "anthropic"},
		{ModelName: "gpt-4", Provider: "openai"},
	})
	assert.Equal(t, "claude-sonnet-4-5", agg.ModelName)
	assert.Equal(t, "anthropic", agg.Provider)
}

func TestLedgerConcurrentAddIsSafe(t *testing.T) {
	l := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			l.Add(Usage{SessionID: "s1", InputTokens: 1})
		}(i)
	}
	wg.Wait()
	assert.Len(t, l.ForSession("s1"), 50)
}

// TestPropertyAddOnceDedupIsIdempotent verifies that for any sequence of
// fingerprints recorded against a single session, replaying the exact
// same sequence again never grows the ledger further: every fingerprint
// already seen for that taskID is dropped.
func TestPropertyAddOnceDedupIsIdempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("replaying the same fingerprints under one taskID never re-adds them", prop.ForAll(
		func(fps []string) bool {
			l := New()
			for _, fp := range fps {
				l.AddOnce(fp, Usage{SessionID: "s"})
			}
			before := len(l.ForSession("s"))
			for _, fp := range fps {
				l.AddOnce(fp, Usage{SessionID: "s"})
			}
			after := len(l.ForSession("s"))
			return before == after
		},
		gen.SliceOf(gen.OneConstOf("a", "b", "c", "d")),
	))

	properties.TestingRun(t)
}

// TestPropertyAggregateCostSignIsMonotone verifies that AggregateUsages's
// TotalCost is either exactly -1 (no cost known) or >= 0 (a real sum),
// never any other negative value, for any mix of costs.
func TestPropertyAggregateCostSignIsMonotone(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("TotalCost is always -1 or non-negative", prop.ForAll(
		func(costs []float64) bool {
			usages := make([]Usage, len(costs))
			for i, c := range costs {
				usages[i] = Usage{Cost: c}
			}
			agg := AggregateUsages(usages)
			return agg.TotalCost == -1 || agg.TotalCost >= 0
		},
		gen.SliceOf(gen.Float64Range(-1, 100)),
	))

	properties.TestingRun(t)
}
