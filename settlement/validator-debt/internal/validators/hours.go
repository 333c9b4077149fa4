package validators

import (
	"fmt"
	"time"
)

// HourlyTimestamps enumerates the snapshot hours covering [start, end]:
// the first hour at or after start through the hour containing end.
func HourlyTimestamps(start, end time.Time) []time.Time {
	var hours []time.Time
	current := start.UTC().Truncate(time.Hour)
	if current.Before(start) {
		current = current.Add(time.Hour)
	}
	for !current.After(end) {
		hours = append(hours, current)
		current = current.Add(time.Hour)
	}
	return hours
}

// S3Key builds the hourly parquet object key:
// datasets/{prefix}/date={YYYY-MM-DD}/hour={HH}/part-00000.parquet.
func S3Key(prefix string, hour time.Time) string {
	hour = hour.UTC()
	return fmt.Sprintf("datasets/%s/date=%s/hour=%02d/part-00000.parquet",
		prefix, hour.Format("2006-01-02"), hour.Hour())
}
