package schema

import "time"

// epochMillisCutoff separates second-resolution epoch values from
// millisecond-resolution ones. Values above it are read as milliseconds.
const epochMillisCutoff = int64(1e12)

// FromEpoch converts an integer epoch value in seconds or milliseconds to a
// UTC timestamp.
func FromEpoch(v int64) time.Time {
	if v > epochMillisCutoff {
		return time.UnixMilli(v).UTC()
	}
	return time.Unix(v, 0).UTC()
}

// FromEpochFloat converts a fractional epoch value in seconds or milliseconds
// to a UTC timestamp, keeping sub-unit precision.
func FromEpochFloat(v float64) time.Time {
	if v > float64(epochMillisCutoff) {
		return time.UnixMilli(int64(v)).UTC()
	}
	sec := int64(v)
	nsec := int64((v - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec).UTC()
}
