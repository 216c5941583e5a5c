package cache

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kjstillabower/msn-weather-service/internal/models"
)

const keyVersion = "v1"

// Key derives the cache key for a location in the time bucket containing now.
// Names are case-folded and trimmed; coordinates are rounded to four decimals.
// The result contains no whitespace, so it is usable as a memcached key prefix.
func Key(loc models.Location, now time.Time, bucket time.Duration) string {
	var b strings.Builder
	b.WriteString(keyVersion)
	b.WriteByte(':')
	if loc.IsCoordinates() {
		b.WriteString("coord:")
		b.WriteString(strconv.FormatFloat(*loc.Latitude, 'f', 4, 64))
		b.WriteByte(',')
		b.WriteString(strconv.FormatFloat(*loc.Longitude, 'f', 4, 64))
	} else {
		b.WriteString("city:")
		b.WriteString(url.QueryEscape(normalizeName(loc.City)))
		b.WriteByte(',')
		b.WriteString(url.QueryEscape(normalizeName(loc.Country)))
	}
	b.WriteString(":b")
	b.WriteString(strconv.FormatInt(bucketIndex(now, bucket), 10))
	return b.String()
}

func normalizeName(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func bucketIndex(now time.Time, bucket time.Duration) int64 {
	if bucket <= 0 {
		return 0
	}
	n := now.UnixNano()
	idx := n / int64(bucket)
	if n < 0 && n%int64(bucket) != 0 {
		idx-- // floor for pre-epoch times
	}
	return idx
}
