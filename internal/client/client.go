package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/jpalmer/watersmart/pkg/models"
)

const (
	loginPath     = "/index.php/welcome/login?forceEmail=1"
	realTimePath  = "/index.php/rest/v1/Chart/RealTimeChart"
	dailyPath     = "/index.php/rest/v1/Chart/ConsumptionChart"
	requestExpiry = 30 * time.Second
)

// Client talks to one provider's WaterSmart portal using a cookie-backed
// session. Login must succeed before the chart endpoints return data.
type Client struct {
	provider string
	baseURL  string
	http     *http.Client
	loc      *time.Location
	loggedIn bool
}

// New creates a client for the given provider code. Reading timestamps are
// converted into loc, which should match the district's local timezone.
func New(provider string, loc *time.Location) (*Client, error) {
	if _, ok := ProviderList[provider]; !ok {
		return nil, fmt.Errorf("unknown provider: %s (run 'watersmart providers' for the list)", provider)
	}
	return newWithBaseURL(provider, fmt.Sprintf("https://%s.watersmart.com", provider), loc)
}

// NewWithBaseURL creates a client against an explicit portal URL, bypassing
// the provider registry. Used by tests.
func NewWithBaseURL(provider, baseURL string, loc *time.Location) (*Client, error) {
	return newWithBaseURL(provider, baseURL, loc)
}

func newWithBaseURL(provider, baseURL string, loc *time.Location) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}
	if loc == nil {
		loc = time.Local
	}
	return &Client{
		provider: provider,
		baseURL:  strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Jar:     jar,
			Timeout: requestExpiry,
		},
		loc: loc,
	}, nil
}

// Provider returns the provider code this client is bound to
func (c *Client) Provider() string {
	return c.provider
}

// Login authenticates against the portal and stores the session cookie.
// Rejected credentials return an *AuthError; anything else is a transport or
// portal error.
func (c *Client) Login(ctx context.Context, email, password string) error {
	form := url.Values{}
	form.Set("token", "")
	form.Set("email", email)
	form.Set("password", password)

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+loginPath, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("creating login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("login request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &AuthError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("login rejected (status %d)", resp.StatusCode),
		}
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("portal returned status %d on login", resp.StatusCode)
	}

	// The portal answers a failed login by re-rendering the login page
	// instead of redirecting into the account area.
	if strings.Contains(resp.Request.URL.Path, "welcome/login") {
		return &AuthError{
			StatusCode: http.StatusUnauthorized,
			Message:    "login rejected: portal returned the sign-in page",
		}
	}

	c.loggedIn = true
	return nil
}

// realTimeResponse matches the RealTimeChart payload. Timestamps are epoch
// seconds in the district's local timezone context.
type realTimeResponse struct {
	Data struct {
		Series []struct {
			ReadDatetime int64    `json:"read_datetime"`
			Gallons      float64  `json:"gallons"`
			LeakGallons  *float64 `json:"leak_gallons"`
		} `json:"series"`
	} `json:"data"`
}

// Hourly fetches the hourly usage series. The portal returns roughly one year
// of history per call.
func (c *Client) Hourly(ctx context.Context) ([]models.HourlyReading, error) {
	body, err := c.get(ctx, realTimePath)
	if err != nil {
		return nil, err
	}

	var parsed realTimeResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parsing hourly response: %w", err)
	}

	readings := make([]models.HourlyReading, 0, len(parsed.Data.Series))
	for _, point := range parsed.Data.Series {
		readings = append(readings, models.HourlyReading{
			Timestamp:   time.Unix(point.ReadDatetime, 0).In(c.loc),
			TS:          point.ReadDatetime,
			Gallons:     point.Gallons,
			LeakGallons: point.LeakGallons,
			Provider:    c.provider,
		})
	}
	return readings, nil
}

// dailyResponse matches the ConsumptionChart payload. Temperature and
// precipitation can be null when the portal has no weather data for a day.
type dailyResponse struct {
	Data struct {
		Series []struct {
			Date          int64    `json:"date"`
			Consumption   float64  `json:"consumption"`
			Temperature   *float64 `json:"temperature"`
			Precipitation *float64 `json:"precipitation"`
		} `json:"series"`
	} `json:"data"`
}

// Daily fetches the daily usage series with attached weather data
func (c *Client) Daily(ctx context.Context) ([]models.DailyReading, error) {
	body, err := c.get(ctx, dailyPath)
	if err != nil {
		return nil, err
	}

	var parsed dailyResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parsing daily response: %w", err)
	}

	readings := make([]models.DailyReading, 0, len(parsed.Data.Series))
	for _, point := range parsed.Data.Series {
		readings = append(readings, models.DailyReading{
			Timestamp:     time.Unix(point.Date, 0).In(c.loc),
			TS:            point.Date,
			Consumption:   point.Consumption,
			Temperature:   point.Temperature,
			Precipitation: point.Precipitation,
			Provider:      c.provider,
		})
	}
	return readings, nil
}

// get performs an authenticated GET against a chart endpoint
func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	if !c.loggedIn {
		return nil, &AuthError{
			StatusCode: http.StatusUnauthorized,
			Message:    "not authenticated: call Login first",
		}
	}

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("making request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	// An expired session bounces chart requests back to the login page
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden ||
		strings.Contains(resp.Request.URL.Path, "welcome/login") {
		c.loggedIn = false
		return nil, &AuthError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("session expired (status %d)", resp.StatusCode),
		}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("portal returned status %d: %s", resp.StatusCode, string(body))
	}

	return body, nil
}
