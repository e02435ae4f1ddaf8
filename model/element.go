package model

import "time"

// ElementRecord is one tracked object as published in the element feed: a
// human label plus the two fixed-format element lines. Records are identified
// by their position in the parsed feed; there is no stable external ID.
type ElementRecord struct {
	Name  string
	Line1 string
	Line2 string
}

// FeedEpoch is the timestamp carried in the feed header. It is only used for
// display attribution.
type FeedEpoch time.Time

// Time returns the epoch as a UTC time.Time.
func (e FeedEpoch) Time() time.Time { return time.Time(e).UTC() }

// Attribution renders the epoch the way the map credits the element source.
func (e FeedEpoch) Attribution() string {
	return "TLE: " + e.Time().Format("15:04:05") + " UTC"
}

// Feed is the result of parsing one fetch of the element feed.
type Feed struct {
	Epoch   FeedEpoch
	Records []ElementRecord

	// Truncated counts trailing body lines that did not form a complete
	// label/line1/line2 group and were dropped.
	Truncated int
}
