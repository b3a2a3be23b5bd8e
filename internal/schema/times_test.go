package schema

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFromEpochSecondsAndMillisAgree(t *testing.T) {
	want := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	require.Equal(t, want, FromEpoch(1704110400))
	require.Equal(t, want, FromEpoch(1704110400000))
	require.Equal(t, want, FromEpochFloat(1704110400))
	require.Equal(t, want, FromEpochFloat(1704110400000))
}

func TestFromEpochAlwaysUTC(t *testing.T) {
	ts := FromEpoch(1704110400000)
	require.Equal(t, time.UTC, ts.Location())
}

func TestFromEpochFloatKeepsFraction(t *testing.T) {
	ts := FromEpochFloat(1704110400.5)
	require.Equal(t, int64(1704110400), ts.Unix())
	require.Equal(t, 500*time.Millisecond, time.Duration(ts.Nanosecond()))
}
