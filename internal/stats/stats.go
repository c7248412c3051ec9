package stats

import (
	"fmt"
	"time"
)

// Granularity selects the block size statistics are aggregated into
type Granularity string

const (
	Hourly  Granularity = "hourly"
	Daily   Granularity = "daily"
	Weekly  Granularity = "weekly"
	Monthly Granularity = "monthly"
	Yearly  Granularity = "yearly"
)

// Granularities lists the supported block sizes
var Granularities = []Granularity{Hourly, Daily, Weekly, Monthly, Yearly}

// ParseGranularity validates a user-supplied granularity string
func ParseGranularity(s string) (Granularity, error) {
	for _, g := range Granularities {
		if s == string(g) {
			return g, nil
		}
	}
	return "", fmt.Errorf("unknown granularity: %s (available: hourly, daily, weekly, monthly, yearly)", s)
}

// Point is one raw reading feeding a statistic. OK is false when the source
// reading had no value for the metric (missing weather data, for example);
// such points are excluded from means and sums but still advance the series.
type Point struct {
	TS    int64
	Value float64
	OK    bool
}

// Block is one aggregated statistic interval
type Block struct {
	Start time.Time
	State float64 // sum of values inside the block
	Mean  float64 // mean of present values inside the block
	Sum   float64 // running total, resets at each block's local period start
}

// leakWindow controls the computed-leak trailing minimum
const leakWindow = 5

// BlockStart truncates a reading timestamp to its block start in loc.
// Weeks start on Monday.
func BlockStart(g Granularity, ts int64, loc *time.Location) time.Time {
	t := time.Unix(ts, 0).In(loc)
	switch g {
	case Hourly:
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, loc)
	case Daily:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	case Weekly:
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
		offset := (int(day.Weekday()) + 6) % 7 // Monday = 0
		return day.AddDate(0, 0, -offset)
	case Monthly:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, loc)
	case Yearly:
		return time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, loc)
	default:
		return t
	}
}

// Build aggregates points into statistic blocks. Points must be sorted by
// timestamp. Blocks starting at or before lastStart are skipped so already
// imported statistics are never resent; pass the zero time to keep everything.
// The running sum resets at local midnight; hourly blocks also reset at the
// top of each hour, so an hourly block's sum equals its state.
func Build(points []Point, g Granularity, loc *time.Location, lastStart time.Time) []Block {
	if loc == nil {
		loc = time.Local
	}

	var blocks []Block
	var accumulated float64
	var currentDay time.Time

	i := 0
	for i < len(points) {
		start := BlockStart(g, points[i].TS, loc)

		// Collect the run of points sharing this block
		j := i
		var sum, mean float64
		var present int
		for j < len(points) && BlockStart(g, points[j].TS, loc).Equal(start) {
			if points[j].OK {
				sum += points[j].Value
				present++
			}
			j++
		}
		if present > 0 {
			mean = sum / float64(present)
		}

		day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc)
		if g == Hourly || !day.Equal(currentDay) {
			accumulated = 0
		}
		currentDay = day
		accumulated += sum

		if lastStart.IsZero() || start.After(lastStart) {
			blocks = append(blocks, Block{
				Start: start,
				State: sum,
				Mean:  mean,
				Sum:   accumulated,
			})
		}

		i = j
	}

	return blocks
}

// ComputedLeak replaces each value with the minimum of the trailing window of
// raw values. Constant background flow survives the filter while normal
// intermittent usage drops out. Early points use however many samples exist.
func ComputedLeak(values []float64) []float64 {
	out := make([]float64, len(values))
	for i := range values {
		lo := i - leakWindow + 1
		if lo < 0 {
			lo = 0
		}
		min := values[lo]
		for _, v := range values[lo+1 : i+1] {
			if v < min {
				min = v
			}
		}
		out[i] = min
	}
	return out
}
