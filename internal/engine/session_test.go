package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionDisabledCompilesNil(t *testing.T) {
	w, err := Session{}.compile()
	require.NoError(t, err)
	assert.Nil(t, w)
}

func TestSessionDefaultsToRegularHours(t *testing.T) {
	w, err := Session{Enabled: true, Timezone: "UTC"}.compile()
	require.NoError(t, err)

	wednesday := time.Date(2025, 7, 2, 0, 0, 0, 0, time.UTC)
	assert.False(t, w.contains(wednesday.Add(9*time.Hour+29*time.Minute)))
	assert.True(t, w.contains(wednesday.Add(9*time.Hour+30*time.Minute)))
	assert.True(t, w.contains(wednesday.Add(15*time.Hour+59*time.Minute)))
	assert.False(t, w.contains(wednesday.Add(16*time.Hour)))
}

func TestSessionExcludesWeekends(t *testing.T) {
	w, err := Session{Enabled: true, Timezone: "UTC"}.compile()
	require.NoError(t, err)

	saturday := time.Date(2025, 7, 5, 12, 0, 0, 0, time.UTC)
	sunday := time.Date(2025, 7, 6, 12, 0, 0, 0, time.UTC)
	assert.False(t, w.contains(saturday))
	assert.False(t, w.contains(sunday))
}

func TestSessionConvertsTimezone(t *testing.T) {
	w, err := Session{Enabled: true, Open: "09:30", Close: "16:00", Timezone: "America/New_York"}.compile()
	require.NoError(t, err)

	// 14:30 UTC is 09:30 or 10:30 in New York depending on DST; July is
	// EDT, so 13:30 UTC is exactly the open.
	julyOpen := time.Date(2025, 7, 2, 13, 30, 0, 0, time.UTC)
	assert.True(t, w.contains(julyOpen))
	assert.False(t, w.contains(julyOpen.Add(-time.Minute)))
}

func TestSessionRejectsBadClock(t *testing.T) {
	_, err := Session{Enabled: true, Open: "half past nine"}.compile()
	assert.Error(t, err)
}
