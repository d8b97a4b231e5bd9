package abuse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFlagBansAtThreshold(t *testing.T) {
	tr := New(time.Minute, 3, time.Hour)
	base := time.Unix(1700000000, 0)

	require.False(t, tr.Flag("1.2.3.4", base), "banned after 1 hit")
	require.False(t, tr.Flag("1.2.3.4", base.Add(time.Second)), "banned after 2 hits")
	require.True(t, tr.Flag("1.2.3.4", base.Add(2*time.Second)), "expected ban at 3rd hit")
	require.True(t, tr.Shunned("1.2.3.4", base.Add(3*time.Second)))
}

func TestHitsOutsideWindowDoNotAccumulate(t *testing.T) {
	tr := New(10*time.Second, 3, time.Hour)
	base := time.Unix(1700000000, 0)

	tr.Flag("5.6.7.8", base)
	tr.Flag("5.6.7.8", base.Add(20*time.Second))
	require.False(t, tr.Flag("5.6.7.8", base.Add(21*time.Second)), "first hit fell outside the window")
}

func TestBanExpires(t *testing.T) {
	tr := New(time.Minute, 1, time.Second)
	base := time.Unix(1700000000, 0)
	require.True(t, tr.Flag("9.9.9.9", base), "expected immediate ban at threshold 1")
	require.True(t, tr.Shunned("9.9.9.9", base.Add(500*time.Millisecond)), "still shunned before TTL elapses")
	require.False(t, tr.Shunned("9.9.9.9", base.Add(2*time.Second)), "expected ban to have expired")
}

func TestForgetClearsState(t *testing.T) {
	tr := New(time.Minute, 1, time.Hour)
	now := time.Unix(1700000000, 0)
	tr.Flag("1.1.1.1", now)
	tr.Forget("1.1.1.1")
	require.False(t, tr.Shunned("1.1.1.1", now))
}
