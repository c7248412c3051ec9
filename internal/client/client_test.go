package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPortal(t *testing.T, validPassword string) *httptest.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/index.php/welcome/login", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			// Re-rendered login page, also where failed logins land
			w.Write([]byte(`<html><body>Sign in</body></html>`))
			return
		}
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.Form.Get("password") != validPassword {
			// The portal re-renders the login page on bad credentials
			w.Write([]byte(`<html><body>Sign in failed</body></html>`))
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "PHPSESSID", Value: "test-session", Path: "/"})
		http.Redirect(w, r, "/index.php/home", http.StatusFound)
	})

	mux.HandleFunc("/index.php/home", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body>Dashboard</body></html>`))
	})

	mux.HandleFunc("/index.php/rest/v1/Chart/RealTimeChart", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("PHPSESSID"); err != nil || c.Value != "test-session" {
			http.Redirect(w, r, "/index.php/welcome/login", http.StatusFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"series":[
			{"read_datetime":1700000000,"gallons":12.5,"leak_gallons":0.5},
			{"read_datetime":1700003600,"gallons":3.25,"leak_gallons":null}
		]}}`))
	})

	mux.HandleFunc("/index.php/rest/v1/Chart/ConsumptionChart", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("PHPSESSID"); err != nil || c.Value != "test-session" {
			http.Redirect(w, r, "/index.php/welcome/login", http.StatusFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"series":[
			{"date":1700006400,"consumption":180.75,"temperature":54.3,"precipitation":0.12},
			{"date":1700092800,"consumption":95.5,"temperature":null,"precipitation":null}
		]}}`))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func Test_LoginSuccess(t *testing.T) {
	server := newTestPortal(t, "hunter2")
	c, err := NewWithBaseURL("testdistrict", server.URL, time.UTC)
	require.NoError(t, err)

	err = c.Login(context.Background(), "user@example.com", "hunter2")
	assert.NoError(t, err)
}

func Test_LoginBadCredentials(t *testing.T) {
	server := newTestPortal(t, "hunter2")
	c, err := NewWithBaseURL("testdistrict", server.URL, time.UTC)
	require.NoError(t, err)

	err = c.Login(context.Background(), "user@example.com", "wrong")
	var authErr *AuthError
	assert.ErrorAs(t, err, &authErr)
}

func Test_LoginServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	c, err := NewWithBaseURL("testdistrict", server.URL, time.UTC)
	require.NoError(t, err)

	err = c.Login(context.Background(), "user@example.com", "hunter2")
	require.Error(t, err)
	var authErr *AuthError
	assert.False(t, errors.As(err, &authErr), "server errors should not look like bad credentials")
}

func Test_FetchWithoutLogin(t *testing.T) {
	server := newTestPortal(t, "hunter2")
	c, err := NewWithBaseURL("testdistrict", server.URL, time.UTC)
	require.NoError(t, err)

	_, err = c.Hourly(context.Background())
	var authErr *AuthError
	assert.ErrorAs(t, err, &authErr)
}

func Test_HourlyFetch(t *testing.T) {
	server := newTestPortal(t, "hunter2")
	loc := time.FixedZone("UTC-5", -5*3600)
	c, err := NewWithBaseURL("testdistrict", server.URL, loc)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, c.Login(ctx, "user@example.com", "hunter2"))

	readings, err := c.Hourly(ctx)
	require.NoError(t, err)
	require.Len(t, readings, 2)

	first := readings[0]
	assert.Equal(t, int64(1700000000), first.TS)
	assert.Equal(t, 12.5, first.Gallons)
	require.NotNil(t, first.LeakGallons)
	assert.Equal(t, 0.5, *first.LeakGallons)
	assert.Equal(t, "testdistrict", first.Provider)

	// Epoch seconds converted into the client's timezone
	assert.Equal(t, time.Unix(1700000000, 0).In(loc).Format("2006-01-02 15:04"), first.Timestamp.Format("2006-01-02 15:04"))
	assert.Equal(t, loc.String(), first.Timestamp.Location().String())

	// Missing leak data comes through as nil, not zero
	assert.Nil(t, readings[1].LeakGallons)
}

func Test_DailyFetch(t *testing.T) {
	server := newTestPortal(t, "hunter2")
	c, err := NewWithBaseURL("testdistrict", server.URL, time.UTC)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, c.Login(ctx, "user@example.com", "hunter2"))

	readings, err := c.Daily(ctx)
	require.NoError(t, err)
	require.Len(t, readings, 2)

	assert.Equal(t, 180.75, readings[0].Consumption)
	require.NotNil(t, readings[0].Temperature)
	assert.Equal(t, 54.3, *readings[0].Temperature)
	require.NotNil(t, readings[0].Precipitation)
	assert.Equal(t, 0.12, *readings[0].Precipitation)

	assert.Nil(t, readings[1].Temperature)
	assert.Nil(t, readings[1].Precipitation)
}

func Test_ExpiredSession(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/index.php/welcome/login", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "POST" {
			http.Redirect(w, r, "/index.php/home", http.StatusFound)
			return
		}
		w.Write([]byte(`Sign in`))
	})
	mux.HandleFunc("/index.php/home", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`Dashboard`))
	})
	// No session cookie is ever issued, so chart requests bounce to login
	mux.HandleFunc("/index.php/rest/v1/Chart/RealTimeChart", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/index.php/welcome/login", http.StatusFound)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	c, err := NewWithBaseURL("testdistrict", server.URL, time.UTC)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, c.Login(ctx, "user@example.com", "hunter2"))

	_, err = c.Hourly(ctx)
	var authErr *AuthError
	assert.ErrorAs(t, err, &authErr)
}

func Test_UnknownProvider(t *testing.T) {
	_, err := New("not-a-real-district", time.UTC)
	assert.Error(t, err)
}

func Test_ProviderRegistry(t *testing.T) {
	codes := ProviderCodes()
	assert.Len(t, codes, len(ProviderList))
	assert.True(t, sortedStrings(codes))

	code, ok := CodeForDistrict("Castle Rock, CO")
	require.True(t, ok)
	assert.Equal(t, "castlerockco", code)

	_, ok = CodeForDistrict("Nowhere, XX")
	assert.False(t, ok)
}

func sortedStrings(s []string) bool {
	for i := 1; i < len(s); i++ {
		if s[i] < s[i-1] {
			return false
		}
	}
	return true
}
