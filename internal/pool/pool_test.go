package pool_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openrelay/k2think-proxy/internal/pool"
)

func newTestPool(t *testing.T, tokens []string, maxFailures int) *pool.Pool {
	t.Helper()

	p := pool.New(maxFailures)
	p.Replace(tokens)

	return p
}

func TestSelect_RoundRobinFairness(t *testing.T) {
	p := newTestPool(t, []string{"A", "B", "C", "D"}, 3)

	counts := map[string]int{}

	const k = 40
	for i := 0; i < k; i++ {
		e, err := p.Select()
		require.NoError(t, err)
		counts[e.Value]++
	}

	// k/len(active) serial calls: every active entry seen exactly k/4 times.
	for _, tok := range []string{"A", "B", "C", "D"} {
		require.Equal(t, k/4, counts[tok], "token %s", tok)
	}
}

func TestSelect_SkipsDisabled(t *testing.T) {
	p := newTestPool(t, []string{"A", "B"}, 1)

	_, disabledNow := p.RecordFailure("A")
	require.True(t, disabledNow)

	for i := 0; i < 5; i++ {
		e, err := p.Select()
		require.NoError(t, err)
		require.Equal(t, "B", e.Value)
	}
}

func TestSelect_EmptyPool(t *testing.T) {
	p := pool.New(3)

	_, err := p.Select()
	require.ErrorIs(t, err, pool.ErrPoolEmpty)
}

func TestSelect_AllDisabled(t *testing.T) {
	p := newTestPool(t, []string{"A", "B"}, 1)

	p.RecordFailure("A")
	p.RecordFailure("B")

	_, err := p.Select()
	require.ErrorIs(t, err, pool.ErrPoolEmpty)
}

func TestRecordFailure_DisablesAtMaxFailures(t *testing.T) {
	p := newTestPool(t, []string{"A"}, 3)

	count, disabled := p.RecordFailure("A")
	require.Equal(t, 1, count)
	require.False(t, disabled)

	count, disabled = p.RecordFailure("A")
	require.Equal(t, 2, count)
	require.False(t, disabled)

	count, disabled = p.RecordFailure("A")
	require.Equal(t, 3, count)
	require.True(t, disabled)

	stats := p.Stats()
	require.Equal(t, 0, stats.Active)
	require.Equal(t, 1, stats.Disabled)
}

func TestRecordFailure_OnlyReportsDisabledNowOnce(t *testing.T) {
	p := newTestPool(t, []string{"A"}, 1)

	_, disabledNow := p.RecordFailure("A")
	require.True(t, disabledNow)

	_, disabledNow = p.RecordFailure("A")
	require.False(t, disabledNow, "entry was already disabled")
}

func TestRecordSuccess_ClearsFailures(t *testing.T) {
	p := newTestPool(t, []string{"A"}, 3)

	p.RecordFailure("A")
	p.RecordFailure("A")
	p.RecordSuccess("A")

	stats := p.Stats()
	require.Equal(t, 0, stats.Entries[0].FailureCount)
	require.False(t, stats.Entries[0].Disabled)
}

func TestReplace_AtomicNoMixedGeneration(t *testing.T) {
	p := newTestPool(t, []string{"A", "B"}, 3)

	var wg sync.WaitGroup

	stop := make(chan struct{})
	seen := make(chan string, 10000)

	wg.Add(1)

	go func() {
		defer wg.Done()

		for {
			select {
			case <-stop:
				return
			default:
				e, err := p.Select()
				if err == nil {
					seen <- e.Value
				}
			}
		}
	}()

	p.Replace([]string{"C", "D"})
	close(stop)
	wg.Wait()
	close(seen)

	for v := range seen {
		require.NotEqual(t, "A", v)
		require.NotEqual(t, "B", v)
	}

	e, err := p.Select()
	require.NoError(t, err)
	require.Contains(t, []string{"C", "D"}, e.Value)
}

func TestReset_And_ResetAll(t *testing.T) {
	p := newTestPool(t, []string{"A", "B"}, 1)

	p.RecordFailure("A")
	p.RecordFailure("B")

	require.NoError(t, p.Reset(0))

	stats := p.Stats()
	require.False(t, stats.Entries[0].Disabled)
	require.True(t, stats.Entries[1].Disabled)

	p.ResetAll()
	stats = p.Stats()
	require.Equal(t, 2, stats.Active)
}

func TestReset_OutOfRange(t *testing.T) {
	p := newTestPool(t, []string{"A"}, 1)

	err := p.Reset(5)
	require.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := pool.Load("/nonexistent/path/tokens.txt", 3)
	require.Error(t, err)
}
