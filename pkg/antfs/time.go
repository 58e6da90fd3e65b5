package antfs

import "time"

// Epoch is time zero for ANT-FS dates, 1989-12-31 00:00:00 UTC.
var Epoch = time.Date(1989, time.December, 31, 0, 0, 0, 0, time.UTC)

func ToTime(seconds uint32) time.Time {
	return Epoch.Add(time.Duration(seconds) * time.Second)
}

func FromTime(t time.Time) uint32 {
	return uint32(t.Sub(Epoch) / time.Second)
}
