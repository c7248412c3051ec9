package sensor

import "github.com/jpalmer/watersmart/pkg/models"

// Period says which portal series a sensor is derived from
type Period string

const (
	PeriodHourly Period = "hourly"
	PeriodDaily  Period = "daily"
)

// Description describes one Home Assistant sensor derived from portal data.
// Exactly one of HourlyValue/DailyValue is set, matching Period. The bool
// return is false when the reading has no value for this sensor.
type Description struct {
	Key         string
	Name        string
	DeviceClass string
	Unit        string
	StateClass  string
	Period      Period
	Precision   int
	Computed    bool // value passes through the trailing-minimum leak filter
	HourlyValue func(r models.HourlyReading) (float64, bool)
	DailyValue  func(r models.DailyReading) (float64, bool)
}

// EntityID returns the Home Assistant entity id for this sensor
func (d Description) EntityID() string {
	return "sensor." + d.Key
}

// Catalog lists every sensor published to Home Assistant
var Catalog = []Description{
	{
		Key:         "hourly_water_consumption",
		Name:        "Hourly Water Consumption",
		DeviceClass: "water",
		Unit:        "gal",
		StateClass:  "total",
		Period:      PeriodHourly,
		Precision:   2,
		HourlyValue: func(r models.HourlyReading) (float64, bool) { return r.Gallons, true },
	},
	{
		Key:         "hourly_water_leak",
		Name:        "Hourly Water Leak",
		DeviceClass: "water",
		Unit:        "gal",
		StateClass:  "total",
		Period:      PeriodHourly,
		Precision:   2,
		HourlyValue: func(r models.HourlyReading) (float64, bool) {
			if r.LeakGallons == nil {
				return 0, false
			}
			return *r.LeakGallons, true
		},
	},
	{
		// Leak estimate derived from consumption: a sustained floor across
		// consecutive hours is water that never stops flowing.
		Key:         "hourly_water_leak_computed",
		Name:        "Hourly Water Leak (Computed)",
		DeviceClass: "water",
		Unit:        "gal",
		StateClass:  "total",
		Period:      PeriodHourly,
		Precision:   2,
		Computed:    true,
		HourlyValue: func(r models.HourlyReading) (float64, bool) { return r.Gallons, true },
	},
	{
		Key:         "daily_water_consumption",
		Name:        "Daily Water Consumption",
		DeviceClass: "water",
		Unit:        "gal",
		StateClass:  "total",
		Period:      PeriodDaily,
		Precision:   2,
		DailyValue:  func(r models.DailyReading) (float64, bool) { return r.Consumption, true },
	},
	{
		Key:         "daily_temperature",
		Name:        "Daily Temperature",
		DeviceClass: "temperature",
		Unit:        "°F",
		StateClass:  "measurement",
		Period:      PeriodDaily,
		Precision:   2,
		DailyValue: func(r models.DailyReading) (float64, bool) {
			if r.Temperature == nil {
				return 0, false
			}
			return *r.Temperature, true
		},
	},
	{
		Key:         "daily_precipitation",
		Name:        "Daily Precipitation",
		DeviceClass: "precipitation",
		Unit:        "in/d",
		StateClass:  "measurement",
		Period:      PeriodDaily,
		Precision:   2,
		DailyValue: func(r models.DailyReading) (float64, bool) {
			if r.Precipitation == nil {
				return 0, false
			}
			return *r.Precipitation, true
		},
	},
}

// ForPeriod returns the catalog entries for one portal series
func ForPeriod(p Period) []Description {
	var out []Description
	for _, d := range Catalog {
		if d.Period == p {
			out = append(out, d)
		}
	}
	return out
}

// ByKey looks up a catalog entry
func ByKey(key string) (Description, bool) {
	for _, d := range Catalog {
		if d.Key == key {
			return d, true
		}
	}
	return Description{}, false
}
