package poller

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jpalmer/watersmart/internal/client"
	"github.com/jpalmer/watersmart/internal/config"
	"github.com/jpalmer/watersmart/internal/database"
	"github.com/jpalmer/watersmart/internal/publisher"
	"github.com/jpalmer/watersmart/pkg/models"
)

// zeroRetryDelay removes the backoff sleep so retry paths run quickly
func zeroRetryDelay(t *testing.T) {
	old := retryDelay
	retryDelay = 0
	t.Cleanup(func() { retryDelay = old })
}

// newTestPortal serves a login flow plus hourly and daily series with recent
// timestamps so the backfill cutoff keeps them
func newTestPortal(t *testing.T, hourlyTS, dailyTS int64) *httptest.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/index.php/welcome/login", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "POST" {
			http.SetCookie(w, &http.Cookie{Name: "PHPSESSID", Value: "test-session"})
			http.Redirect(w, r, "/index.php/home", http.StatusFound)
			return
		}
		w.Write([]byte(`Sign in`))
	})
	mux.HandleFunc("/index.php/home", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`Dashboard`))
	})
	mux.HandleFunc("/index.php/rest/v1/Chart/RealTimeChart", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"data":{"series":[
			{"read_datetime":%d,"gallons":10.0,"leak_gallons":0.5},
			{"read_datetime":%d,"gallons":4.5,"leak_gallons":0.5}
		]}}`, hourlyTS, hourlyTS+3600)
	})
	mux.HandleFunc("/index.php/rest/v1/Chart/ConsumptionChart", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"data":{"series":[
			{"date":%d,"consumption":120.0,"temperature":60.5,"precipitation":0.0}
		]}}`, dailyTS)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func Test_RunFetchesStoresAndPublishes(t *testing.T) {
	hourlyTS := time.Now().Add(-6 * time.Hour).Truncate(time.Hour).Unix()
	dailyTS := time.Now().AddDate(0, 0, -1).Truncate(24 * time.Hour).Unix()

	portal := newTestPortal(t, hourlyTS, dailyTS)

	var backfills int
	ha := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/appdaemon/backfill_state" {
			backfills++
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ha.Close()

	cfg := &config.Config{
		Provider: "testdistrict",
		Username: "user@example.com",
		Password: "hunter2",
		HomeAssistant: config.HAConfig{
			Enabled: true,
			URL:     ha.URL,
			Token:   "test-token",
		},
	}

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"), time.UTC)
	require.NoError(t, err)
	defer db.Close()

	api, err := client.NewWithBaseURL("testdistrict", portal.URL, time.UTC)
	require.NoError(t, err)

	pub, err := publisher.New(config.MQTTConfig{}, cfg.HomeAssistant)
	require.NoError(t, err)
	defer pub.Close()

	p := NewWithClient(cfg, db, api, pub)
	require.NoError(t, p.Run(context.Background()))

	hourly, err := db.ListHourly("testdistrict")
	require.NoError(t, err)
	assert.Len(t, hourly, 2)

	daily, err := db.ListDaily("testdistrict")
	require.NoError(t, err)
	assert.Len(t, daily, 1)

	// 2 hourly readings x 3 sensors + 1 daily reading x 3 sensors
	assert.Equal(t, 9, backfills)

	unpublished, err := db.ListUnpublishedHourly("testdistrict")
	require.NoError(t, err)
	assert.Empty(t, unpublished)

	unpublishedDaily, err := db.ListUnpublishedDaily("testdistrict")
	require.NoError(t, err)
	assert.Empty(t, unpublishedDaily)
}

func Test_RunIsIdempotent(t *testing.T) {
	hourlyTS := time.Now().Add(-6 * time.Hour).Truncate(time.Hour).Unix()
	dailyTS := time.Now().AddDate(0, 0, -1).Truncate(24 * time.Hour).Unix()

	portal := newTestPortal(t, hourlyTS, dailyTS)

	var backfills int
	ha := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/appdaemon/backfill_state" {
			backfills++
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ha.Close()

	cfg := &config.Config{
		Provider: "testdistrict",
		Username: "user@example.com",
		Password: "hunter2",
		HomeAssistant: config.HAConfig{
			Enabled: true,
			URL:     ha.URL,
			Token:   "test-token",
		},
	}

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"), time.UTC)
	require.NoError(t, err)
	defer db.Close()

	api, err := client.NewWithBaseURL("testdistrict", portal.URL, time.UTC)
	require.NoError(t, err)

	pub, err := publisher.New(config.MQTTConfig{}, cfg.HomeAssistant)
	require.NoError(t, err)
	defer pub.Close()

	p := NewWithClient(cfg, db, api, pub)
	require.NoError(t, p.Run(context.Background()))
	firstRun := backfills

	// Second poll sees only already-stored readings
	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, firstRun, backfills, "nothing republished on an unchanged portal")

	hourly, err := db.ListHourly("testdistrict")
	require.NoError(t, err)
	assert.Len(t, hourly, 2)
}

func Test_RunSkipsReadingsAtOrBeforeLastStored(t *testing.T) {
	lastTS := time.Now().Add(-6 * time.Hour).Truncate(time.Hour).Unix()
	olderTS := lastTS - 3600
	newerTS := lastTS + 3600

	mux := http.NewServeMux()
	mux.HandleFunc("/index.php/welcome/login", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/index.php/home", http.StatusFound)
	})
	mux.HandleFunc("/index.php/home", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`Dashboard`))
	})
	mux.HandleFunc("/index.php/rest/v1/Chart/RealTimeChart", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"data":{"series":[
			{"read_datetime":%d,"gallons":1.0,"leak_gallons":null},
			{"read_datetime":%d,"gallons":2.0,"leak_gallons":null},
			{"read_datetime":%d,"gallons":3.0,"leak_gallons":null}
		]}}`, olderTS, lastTS, newerTS)
	})
	mux.HandleFunc("/index.php/rest/v1/Chart/ConsumptionChart", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"series":[]}}`))
	})
	portal := httptest.NewServer(mux)
	defer portal.Close()

	cfg := &config.Config{
		Provider: "testdistrict",
		Username: "user@example.com",
		Password: "hunter2",
	}

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"), time.UTC)
	require.NoError(t, err)
	defer db.Close()

	// A reading at lastTS is already on record from an earlier poll
	_, err = db.InsertHourly(&models.HourlyReading{
		Timestamp: time.Unix(lastTS, 0).UTC(),
		TS:        lastTS,
		Gallons:   2.0,
		Provider:  "testdistrict",
	})
	require.NoError(t, err)

	api, err := client.NewWithBaseURL("testdistrict", portal.URL, time.UTC)
	require.NoError(t, err)

	pub, err := publisher.New(config.MQTTConfig{}, config.HAConfig{})
	require.NoError(t, err)

	p := NewWithClient(cfg, db, api, pub)
	require.NoError(t, p.Run(context.Background()))

	hourly, err := db.ListHourly("testdistrict")
	require.NoError(t, err)
	require.Len(t, hourly, 2, "only the reading newer than the last stored one lands")
	assert.Equal(t, lastTS, hourly[0].TS)
	assert.Equal(t, newerTS, hourly[1].TS)
}

func Test_RunContinuesWhenHourlyFetchFails(t *testing.T) {
	zeroRetryDelay(t)
	dailyTS := time.Now().AddDate(0, 0, -1).Truncate(24 * time.Hour).Unix()

	mux := http.NewServeMux()
	mux.HandleFunc("/index.php/welcome/login", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/index.php/home", http.StatusFound)
	})
	mux.HandleFunc("/index.php/home", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`Dashboard`))
	})
	mux.HandleFunc("/index.php/rest/v1/Chart/RealTimeChart", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	mux.HandleFunc("/index.php/rest/v1/Chart/ConsumptionChart", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"data":{"series":[
			{"date":%d,"consumption":120.0,"temperature":60.5,"precipitation":0.0}
		]}}`, dailyTS)
	})
	portal := httptest.NewServer(mux)
	defer portal.Close()

	cfg := &config.Config{
		Provider: "testdistrict",
		Username: "user@example.com",
		Password: "hunter2",
	}

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"), time.UTC)
	require.NoError(t, err)
	defer db.Close()

	api, err := client.NewWithBaseURL("testdistrict", portal.URL, time.UTC)
	require.NoError(t, err)

	pub, err := publisher.New(config.MQTTConfig{}, config.HAConfig{})
	require.NoError(t, err)

	p := NewWithClient(cfg, db, api, pub)
	err = p.Run(context.Background())
	assert.Error(t, err, "the hourly failure still surfaces")

	hourly, err := db.ListHourly("testdistrict")
	require.NoError(t, err)
	assert.Empty(t, hourly)

	daily, err := db.ListDaily("testdistrict")
	require.NoError(t, err)
	assert.Len(t, daily, 1, "daily series lands despite the hourly failure")
}

func Test_RunRetriesLoginThreeTimes(t *testing.T) {
	zeroRetryDelay(t)

	var attempts int
	mux := http.NewServeMux()
	mux.HandleFunc("/index.php/welcome/login", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "POST" {
			attempts++
		}
		// Bad credentials land back on the sign-in page
		w.Write([]byte(`Sign in`))
	})
	portal := httptest.NewServer(mux)
	defer portal.Close()

	cfg := &config.Config{
		Provider: "testdistrict",
		Username: "user@example.com",
		Password: "wrong",
	}

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"), time.UTC)
	require.NoError(t, err)
	defer db.Close()

	api, err := client.NewWithBaseURL("testdistrict", portal.URL, time.UTC)
	require.NoError(t, err)

	pub, err := publisher.New(config.MQTTConfig{}, config.HAConfig{})
	require.NoError(t, err)

	p := NewWithClient(cfg, db, api, pub)
	err = p.runHourly(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 3, attempts, "login is abandoned after three attempts")
}

func Test_RunSkipsReadingsPastBackfillWindow(t *testing.T) {
	// One reading inside the window, portal history reaching well past it
	recentTS := time.Now().Add(-6 * time.Hour).Truncate(time.Hour).Unix()
	staleTS := time.Now().AddDate(0, 0, -30).Unix()

	mux := http.NewServeMux()
	mux.HandleFunc("/index.php/welcome/login", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/index.php/home", http.StatusFound)
	})
	mux.HandleFunc("/index.php/home", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`Dashboard`))
	})
	mux.HandleFunc("/index.php/rest/v1/Chart/RealTimeChart", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"data":{"series":[
			{"read_datetime":%d,"gallons":1.0,"leak_gallons":null},
			{"read_datetime":%d,"gallons":2.0,"leak_gallons":null}
		]}}`, staleTS, recentTS)
	})
	mux.HandleFunc("/index.php/rest/v1/Chart/ConsumptionChart", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"series":[]}}`))
	})
	portal := httptest.NewServer(mux)
	defer portal.Close()

	cfg := &config.Config{
		Provider:       "testdistrict",
		Username:       "user@example.com",
		Password:       "hunter2",
		DaysToBackfill: 7,
	}

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"), time.UTC)
	require.NoError(t, err)
	defer db.Close()

	api, err := client.NewWithBaseURL("testdistrict", portal.URL, time.UTC)
	require.NoError(t, err)

	pub, err := publisher.New(config.MQTTConfig{}, config.HAConfig{})
	require.NoError(t, err)

	p := NewWithClient(cfg, db, api, pub)
	require.NoError(t, p.Run(context.Background()))

	hourly, err := db.ListHourly("testdistrict")
	require.NoError(t, err)
	require.Len(t, hourly, 1)
	assert.Equal(t, recentTS, hourly[0].TS)
}
