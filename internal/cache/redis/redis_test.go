package redis

import (
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/venuearb/internal/domain"
)

func TestBookKeys(t *testing.T) {
	assert.Equal(t, "venuearb:book:kalshi:PRES-24:bids", bookBidsKey("kalshi", "PRES-24"))
	assert.Equal(t, "venuearb:book:kalshi:PRES-24:ask:size", bookAskSizeKey("kalshi", "PRES-24"))
	assert.Equal(t, "venuearb:books:kalshi", bookIndexKey("kalshi"))
	assert.Equal(t, "venuearb:lock:sweep", lockKey("sweep"))
	assert.Equal(t, "venuearb:ratelimit:1.2.3.4", rateLimitKey("1.2.3.4"))
}

func TestAppendLevels(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	zs := []redis.Z{
		{Score: 0.45, Member: "0.45"},
		{Score: 0.44, Member: "0.44"},
		{Score: 0.43, Member: 43}, // not a string member, skipped
	}
	sizes := map[string]string{"0.45": "120", "0.44": "7.5"}

	out, err := appendLevels(nil, "polymarket", "m1", domain.SideBid, zs, sizes, at)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, 1, out[0].Rank)
	assert.Equal(t, 0.45, out[0].Price)
	assert.Equal(t, 120.0, out[0].Size)
	assert.Equal(t, 2, out[1].Rank)
	assert.Equal(t, 7.5, out[1].Size)
	assert.Equal(t, at, out[1].CapturedAt)
}

func TestAppendLevels_MissingSizeFails(t *testing.T) {
	zs := []redis.Z{{Score: 0.45, Member: "0.45"}, {Score: 0.44, Member: "0.44"}}

	_, err := appendLevels(nil, "polymarket", "m1", domain.SideBid, zs, map[string]string{"0.45": "120"}, time.Time{})
	assert.ErrorIs(t, err, domain.ErrData)

	_, err = appendLevels(nil, "polymarket", "m1", domain.SideBid, zs, map[string]string{"0.45": "120", "0.44": "lots"}, time.Time{})
	assert.ErrorIs(t, err, domain.ErrData)
}

func TestHasPattern(t *testing.T) {
	assert.False(t, hasPattern(domain.ChannelSignals))
	assert.True(t, hasPattern("venuearb:*"))
}

func TestFormatFloat(t *testing.T) {
	assert.Equal(t, "0.1", formatFloat(0.1))
	assert.Equal(t, "12", formatFloat(12))
}
