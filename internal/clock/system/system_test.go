package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	before := time.Now().UTC().Add(-time.Second)
	got := New().Now()
	after := time.Now().UTC().Add(time.Second)

	assert.Equal(t, time.UTC, got.Location())
	assert.True(t, got.After(before) && got.Before(after), "got %v", got)
}

func TestFixed(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("CET", 3600)
	instant := time.Date(2024, 3, 1, 9, 0, 0, 0, loc)
	clk := Fixed(instant)
	assert.True(t, clk.Now().Equal(instant))
	assert.Equal(t, time.UTC, clk.Now().Location())
}
