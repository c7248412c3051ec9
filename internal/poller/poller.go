package poller

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jpalmer/watersmart/internal/client"
	"github.com/jpalmer/watersmart/internal/config"
	"github.com/jpalmer/watersmart/internal/database"
	"github.com/jpalmer/watersmart/internal/metrics"
	"github.com/jpalmer/watersmart/internal/publisher"
	"github.com/jpalmer/watersmart/internal/sensor"
	"github.com/jpalmer/watersmart/internal/stats"
	"github.com/jpalmer/watersmart/pkg/models"
)

const (
	loginRetries = 3
	fetchRetries = 3
)

var retryDelay = 2 * time.Second

// Poller runs the fetch-store-publish cycle on a schedule
type Poller struct {
	cfg *config.Config
	db  *database.DB
	api *client.Client
	pub *publisher.Publisher
}

// New creates a poller from loaded configuration
func New(cfg *config.Config, db *database.DB, pub *publisher.Publisher) (*Poller, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	api, err := client.New(cfg.Provider, loc)
	if err != nil {
		return nil, err
	}

	return NewWithClient(cfg, db, api, pub), nil
}

// NewWithClient creates a poller around an existing portal client
func NewWithClient(cfg *config.Config, db *database.DB, api *client.Client, pub *publisher.Publisher) *Poller {
	return &Poller{
		cfg: cfg,
		db:  db,
		api: api,
		pub: pub,
	}
}

// Start announces sensors, schedules the poll loop, and blocks until ctx is
// canceled. The first poll runs immediately so a fresh install backfills
// without waiting for the schedule.
func (p *Poller) Start(ctx context.Context) error {
	if err := metrics.Init(p.cfg.StatsServer); err != nil {
		return err
	}

	if p.pub.MQTTEnabled() {
		if err := p.pub.PublishDiscovery(p.cfg.Provider); err != nil {
			return fmt.Errorf("publishing discovery: %w", err)
		}
	}

	go func() {
		addr := p.cfg.GetMetricsListen()
		log.Printf("Serving metrics on %s", addr)
		if err := serveMetrics(addr); err != nil {
			log.Printf("Metrics listener stopped: %v", err)
		}
	}()

	if err := p.Run(ctx); err != nil {
		log.Printf("Initial poll failed: %v", err)
	}

	c := cron.New()
	schedule := p.cfg.GetPollSchedule()
	_, err := c.AddFunc(schedule, func() {
		if err := p.Run(ctx); err != nil {
			log.Printf("Scheduled poll failed: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("setting up cron schedule %q: %w", schedule, err)
	}

	log.Printf("Polling on schedule %q", schedule)
	c.Start()

	<-ctx.Done()
	c.Stop()
	return ctx.Err()
}

// Run executes one complete poll: both portal series are fetched, stored, and
// published. A failure in one series does not abort the other.
func (p *Poller) Run(ctx context.Context) error {
	var firstErr error

	if err := p.runHourly(ctx); err != nil {
		log.Printf("Hourly poll failed: %v", err)
		firstErr = err
	}
	if err := p.runDaily(ctx); err != nil {
		log.Printf("Daily poll failed: %v", err)
		if firstErr == nil {
			firstErr = err
		}
	}

	lastPollTimestamp.SetToCurrentTime()
	return firstErr
}

func (p *Poller) runHourly(ctx context.Context) error {
	pollsTotal.WithLabelValues("hourly").Inc()

	if err := p.login(ctx); err != nil {
		pollError("hourly", "login")
		return err
	}

	var readings []models.HourlyReading
	err := withRetry(fetchRetries, func() error {
		var err error
		readings, err = p.api.Hourly(ctx)
		return err
	})
	if err != nil {
		pollError("hourly", "fetch")
		return fmt.Errorf("fetching hourly data: %w", err)
	}
	readingsFetched.WithLabelValues("hourly").Add(float64(len(readings)))

	last, err := p.db.LastHourlyTimestamp(p.cfg.Provider)
	if err != nil {
		pollError("hourly", "store")
		return err
	}

	cutoff := time.Now().AddDate(0, 0, -p.cfg.GetDaysToBackfill()).Unix()
	stored := 0
	for i := range readings {
		// The portal resends its full history; only readings newer than
		// anything already stored are candidates
		if readings[i].TS < cutoff || readings[i].TS <= last {
			continue
		}
		inserted, err := p.db.InsertHourly(&readings[i])
		if err != nil {
			pollError("hourly", "store")
			return err
		}
		if inserted {
			stored++
		}
	}
	readingsStored.WithLabelValues("hourly").Add(float64(stored))
	log.Printf("Hourly poll: %d readings fetched, %d new", len(readings), stored)
	metrics.SendGaugeMetric("watersmart.readings.new",
		[]string{metrics.FormatTag("period", "hourly")}, float64(stored))

	return p.publishHourly()
}

func (p *Poller) runDaily(ctx context.Context) error {
	pollsTotal.WithLabelValues("daily").Inc()

	if err := p.login(ctx); err != nil {
		pollError("daily", "login")
		return err
	}

	var readings []models.DailyReading
	err := withRetry(fetchRetries, func() error {
		var err error
		readings, err = p.api.Daily(ctx)
		return err
	})
	if err != nil {
		pollError("daily", "fetch")
		return fmt.Errorf("fetching daily data: %w", err)
	}
	readingsFetched.WithLabelValues("daily").Add(float64(len(readings)))

	last, err := p.db.LastDailyTimestamp(p.cfg.Provider)
	if err != nil {
		pollError("daily", "store")
		return err
	}

	cutoff := time.Now().AddDate(0, 0, -p.cfg.GetDaysToBackfill()).Unix()
	stored := 0
	for i := range readings {
		if readings[i].TS < cutoff || readings[i].TS <= last {
			continue
		}
		inserted, err := p.db.InsertDaily(&readings[i])
		if err != nil {
			pollError("daily", "store")
			return err
		}
		if inserted {
			stored++
		}
	}
	readingsStored.WithLabelValues("daily").Add(float64(stored))
	log.Printf("Daily poll: %d readings fetched, %d new", len(readings), stored)
	metrics.SendGaugeMetric("watersmart.readings.new",
		[]string{metrics.FormatTag("period", "daily")}, float64(stored))

	return p.publishDaily()
}

// publishHourly pushes unpublished hourly readings to Home Assistant. The
// computed-leak sensor is derived from the full stored series so its trailing
// window spans already-published readings.
func (p *Poller) publishHourly() error {
	if !p.pub.HTTPEnabled() && !p.pub.MQTTEnabled() {
		return nil
	}

	all, err := p.db.ListHourly(p.cfg.Provider)
	if err != nil {
		return err
	}
	unpublished, err := p.db.ListUnpublishedHourly(p.cfg.Provider)
	if err != nil {
		return err
	}
	if len(unpublished) == 0 {
		return nil
	}

	gallons := make([]float64, len(all))
	indexByID := make(map[int]int, len(all))
	for i, r := range all {
		gallons[i] = r.Gallons
		indexByID[r.ID] = i
	}
	leak := stats.ComputedLeak(gallons)

	sensors := sensor.ForPeriod(sensor.PeriodHourly)
	for _, r := range unpublished {
		for _, d := range sensors {
			value, ok := d.HourlyValue(r)
			if !ok {
				continue
			}
			if d.Computed {
				value = leak[indexByID[r.ID]]
			}
			if err := p.publishValue(d, value, r.Timestamp); err != nil {
				pollError("hourly", "publish")
				return err
			}
		}
		if err := p.db.MarkHourlyPublished(r.ID); err != nil {
			return err
		}
	}

	log.Printf("Published %d hourly readings", len(unpublished))
	return nil
}

func (p *Poller) publishDaily() error {
	if !p.pub.HTTPEnabled() && !p.pub.MQTTEnabled() {
		return nil
	}

	unpublished, err := p.db.ListUnpublishedDaily(p.cfg.Provider)
	if err != nil {
		return err
	}
	if len(unpublished) == 0 {
		return nil
	}

	sensors := sensor.ForPeriod(sensor.PeriodDaily)
	for _, r := range unpublished {
		for _, d := range sensors {
			value, ok := d.DailyValue(r)
			if !ok {
				continue
			}
			if err := p.publishValue(d, value, r.Timestamp); err != nil {
				pollError("daily", "publish")
				return err
			}
		}
		if err := p.db.MarkDailyPublished(r.ID); err != nil {
			return err
		}
	}

	log.Printf("Published %d daily readings", len(unpublished))
	return nil
}

func (p *Poller) publishValue(d sensor.Description, value float64, ts time.Time) error {
	if p.pub.HTTPEnabled() {
		if err := p.pub.Backfill(d, value, ts); err != nil {
			return fmt.Errorf("backfilling %s: %w", d.Key, err)
		}
	}
	if p.pub.MQTTEnabled() {
		if err := p.pub.PublishState(d, value); err != nil {
			return fmt.Errorf("publishing %s: %w", d.Key, err)
		}
	}
	return nil
}

func (p *Poller) login(ctx context.Context) error {
	err := withRetry(loginRetries, func() error {
		return p.api.Login(ctx, p.cfg.Username, p.cfg.Password)
	})
	if err != nil {
		return fmt.Errorf("logging in to portal: %w", err)
	}
	return nil
}

// pollError records a failed poll stage on both metric backends
func pollError(period, stage string) {
	pollErrorsTotal.WithLabelValues(period, stage).Inc()
	metrics.SendCountMetric("watersmart.poll.errors",
		[]string{metrics.FormatTag("period", period), metrics.FormatTag("stage", stage)}, 1)
}

func withRetry(attempts int, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			time.Sleep(retryDelay)
		}
		if err = fn(); err == nil {
			return nil
		}
		log.Printf("Attempt %d/%d failed: %v", i+1, attempts, err)
	}
	return err
}
