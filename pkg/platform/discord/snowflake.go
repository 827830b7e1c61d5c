package discord

import (
	"strconv"
	"time"

	"github.com/bwmarrin/discordgo"

	"mercator-hq/sweeper/pkg/retention"
)

// SnowflakeTime returns the creation time encoded in a Discord ID.
func SnowflakeTime(id string) (time.Time, error) {
	t, err := discordgo.SnowflakeTimestamp(id)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// discordEpoch is the first millisecond of 2015, in Unix milliseconds.
const discordEpoch = 1420070400000

// SnowflakeAt returns the smallest ID Discord could assign at t. It stands in
// for a watermark message when a channel is enabled outside Discord.
func SnowflakeAt(t time.Time) string {
	ms := max(t.UnixMilli()-discordEpoch, 0)
	return strconv.FormatInt(ms<<22, 10)
}

// CompareSnowflakes orders two Discord IDs by creation time.
func CompareSnowflakes(a, b string) int {
	return retention.CompareIDs(a, b)
}
