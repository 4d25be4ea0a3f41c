package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	clk := New()
	require.NotNil(t, clk)

	before := time.Now().UTC().Add(-time.Second)
	got := clk.Now()
	after := time.Now().UTC().Add(time.Second)

	assert.Equal(t, time.UTC, got.Location())
	assert.True(t, got.After(before) && got.Before(after))
}

func TestStamp(t *testing.T) {
	t.Parallel()

	ts := time.Date(2023, 6, 1, 8, 30, 5, 0, time.FixedZone("EST", -5*3600))
	assert.Equal(t, "20230601133005", Stamp(ts))
}
