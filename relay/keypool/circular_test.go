package keypool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newList(t *testing.T, keys []string, limits ScopedLimits, schedule string) *CircularList {
	t.Helper()
	return NewCircularList(keys, nil, limits, schedule)
}

func TestNextRoundRobinRotates(t *testing.T) {
	l := newList(t, []string{"a", "b", "c"}, nil, ScheduleRoundRobin)

	var got []string
	for range 4 {
		key, err := l.Next("gpt-4o")
		require.NoError(t, err)
		got = append(got, key)
	}
	require.Equal(t, []string{"a", "b", "c", "a"}, got)
}

func TestNextFixedPriorityStaysOnFirst(t *testing.T) {
	l := newList(t, []string{"a", "b"}, nil, ScheduleFixedPriority)

	for range 3 {
		key, err := l.Next("gpt-4o")
		require.NoError(t, err)
		require.Equal(t, "a", key)
	}

	l.SetCooling("a", time.Minute)
	key, err := l.Next("gpt-4o")
	require.NoError(t, err)
	require.Equal(t, "b", key)
}

func TestSetCoolingExpires(t *testing.T) {
	l := newList(t, []string{"a"}, nil, ScheduleFixedPriority)
	now := time.Now()
	l.now = func() time.Time { return now }

	l.SetCooling("a", 30*time.Second)
	require.True(t, l.IsAllRateLimited("gpt-4o"))

	now = now.Add(31 * time.Second)
	require.False(t, l.IsAllRateLimited("gpt-4o"))

	key, err := l.Next("gpt-4o")
	require.NoError(t, err)
	require.Equal(t, "a", key)
}

func TestRateLimitWindowExhaustion(t *testing.T) {
	limits := ScopedLimits{DefaultScope: {{Count: 2, Window: time.Minute}}}
	l := newList(t, []string{"a"}, limits, ScheduleRoundRobin)

	for range 2 {
		_, err := l.Next("gpt-4o")
		require.NoError(t, err)
	}
	_, err := l.Next("gpt-4o")
	require.ErrorIs(t, err, ErrAllRateLimited)
	require.True(t, l.IsAllRateLimited("gpt-4o"))
}

func TestPopLastRequestLogRestoresBudget(t *testing.T) {
	limits := ScopedLimits{DefaultScope: {{Count: 1, Window: time.Minute}}}
	l := newList(t, []string{"a"}, limits, ScheduleRoundRobin)

	key, err := l.Next("gpt-4o")
	require.NoError(t, err)
	require.Equal(t, "a", key)
	require.True(t, l.IsAllRateLimited("gpt-4o"))

	l.PopLastRequestLog("a", "gpt-4o")
	require.False(t, l.IsAllRateLimited("gpt-4o"))
}

func TestDisabledKeysAreSkipped(t *testing.T) {
	l := NewCircularList([]string{"a", "b"}, []bool{true, false}, nil, ScheduleRoundRobin)

	for range 2 {
		key, err := l.Next("gpt-4o")
		require.NoError(t, err)
		require.Equal(t, "b", key)
	}

	l.SetDisabled("a", false)
	keys := map[string]bool{}
	for range 2 {
		key, err := l.Next("gpt-4o")
		require.NoError(t, err)
		keys[key] = true
	}
	require.Len(t, keys, 2)
}

func TestScopedLimitsPerModel(t *testing.T) {
	limits := ScopedLimits{
		"gpt-4o":     {{Count: 1, Window: time.Minute}},
		DefaultScope: {{Count: 10, Window: time.Minute}},
	}
	l := newList(t, []string{"a"}, limits, ScheduleRoundRobin)

	_, err := l.Next("gpt-4o")
	require.NoError(t, err)
	require.True(t, l.IsAllRateLimited("gpt-4o"))
	require.False(t, l.IsAllRateLimited("claude-sonnet-4"))
}

func TestReorderMovesRankedKeysFirst(t *testing.T) {
	l := newList(t, []string{"a", "b", "c", "d"}, nil, ScheduleSmart)

	l.Reorder([]string{"c", "a", "ghost"})
	keys, _ := l.Keys()
	require.Equal(t, []string{"c", "a", "b", "d"}, keys)
}

func TestTransposeRegroup(t *testing.T) {
	keys := []string{"a", "b", "c", "d", "e"}
	require.Equal(t, []string{"a", "c", "e", "b", "d"}, TransposeRegroup(keys, 2))
	require.Equal(t, keys, TransposeRegroup(keys, 100))
	require.Equal(t, keys, TransposeRegroup(keys, 0))
}
