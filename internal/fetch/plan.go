// Package fetch downloads the published bulk sales archives.
//
// The publisher releases one weekly archive per week of the current year
// and one yearly archive per past year. Plan lists the archives to fetch;
// Client retrieves them with rate limiting and retries, and Download stores
// the valid ones in the archive directory read by the pipeline.
package fetch

import (
	"time"
)

// DefaultBaseURL is the publisher's archive root.
const DefaultBaseURL = "https://www.valuergeneral.nsw.gov.au/__psi/"

// Archive kinds.
const (
	KindWeekly = "weekly"
	KindYearly = "yearly"
)

// Target is one archive to download.
type Target struct {
	Kind string `json:"kind"`
	// Name is the file name, both remotely and on disk.
	Name string `json:"name"`
}

// Path is the target's path relative to the base URL.
func (t Target) Path() string { return t.Kind + "/" + t.Name }

// Plan lists the archives to fetch as of today: weekly archives from the
// Monday of the week containing 7 January, every seven days while before
// today minus recentExcluded days, then yearly archives for the given
// number of preceding years.
func Plan(today time.Time, years, recentExcluded int) []Target {
	today = time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)

	jan7 := time.Date(today.Year(), time.January, 7, 0, 0, 0, 0, time.UTC)
	sinceMonday := (int(jan7.Weekday()) + 6) % 7
	start := jan7.AddDate(0, 0, -sinceMonday)
	end := today.AddDate(0, 0, -recentExcluded)

	var targets []Target
	for d := start; d.Before(end); d = d.AddDate(0, 0, 7) {
		targets = append(targets, Target{Kind: KindWeekly, Name: d.Format("20060102") + ".zip"})
	}
	for y := today.Year() - years; y < today.Year(); y++ {
		targets = append(targets, Target{Kind: KindYearly, Name: time.Date(y, 1, 1, 0, 0, 0, 0, time.UTC).Format("2006") + ".zip"})
	}
	return targets
}
