// Package bucket assigns observations to K ordered time buckets spanning the
// observed time range, earliest first.
package bucket

import (
	"math"
	"time"

	"github.com/JiscSD/lightning-observation-map/kml"
)

// K is the number of buckets.
const K = 5

// minDuration is the duration used when every observation shares the same
// timestamp.
const minDuration = time.Second

// TimeRange is the interval covered by a batch of observations.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Duration returns End - Start, never less than one second.
func (r TimeRange) Duration() time.Duration {
	d := r.End.Sub(r.Start)
	if d < minDuration {
		return minDuration
	}
	return d
}

// BucketedPoint is an observation together with its bucket index.
type BucketedPoint struct {
	kml.PointRecord
	Index int
}

// Range returns the min/max observation time. ok is false for an empty batch.
func Range(records []kml.PointRecord) (r TimeRange, ok bool) {
	if len(records) == 0 {
		return TimeRange{}, false
	}
	r.Start, r.End = records[0].ObservedAt, records[0].ObservedAt
	for _, rec := range records[1:] {
		if rec.ObservedAt.Before(r.Start) {
			r.Start = rec.ObservedAt
		}
		if rec.ObservedAt.After(r.End) {
			r.End = rec.ObservedAt
		}
	}
	return r, true
}

// Bucket maps each record to floor(elapsed / duration * (K-1)), preserving the
// input order. An empty input yields an empty output.
func Bucket(records []kml.PointRecord) []BucketedPoint {
	r, ok := Range(records)
	if !ok {
		return nil
	}
	total := r.Duration().Seconds()
	points := make([]BucketedPoint, len(records))
	for i, rec := range records {
		elapsed := rec.ObservedAt.Sub(r.Start).Seconds()
		points[i] = BucketedPoint{
			PointRecord: rec,
			Index:       clamp(int(math.Floor(elapsed/total*(K-1)))),
		}
	}
	return points
}

func clamp(i int) int {
	if i < 0 {
		return 0
	}
	if i > K-1 {
		return K - 1
	}
	return i
}
