package models

import "time"

// HourlyReading represents one hour of water usage from the portal
type HourlyReading struct {
	ID          int       `json:"id"`
	Timestamp   time.Time `json:"timestamp"` // portal-local wall clock
	TS          int64     `json:"ts"`        // epoch seconds as reported by the portal
	Gallons     float64   `json:"gallons"`
	LeakGallons *float64  `json:"leak_gallons,omitempty"` // nil when the portal reports no leak data
	Provider    string    `json:"provider"`
}

// DailyReading represents one day of usage plus the weather data the portal
// attaches to it
type DailyReading struct {
	ID            int       `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	TS            int64     `json:"ts"`
	Consumption   float64   `json:"consumption"` // gallons
	Temperature   *float64  `json:"temperature,omitempty"`
	Precipitation *float64  `json:"precipitation,omitempty"`
	Provider      string    `json:"provider"`
}
