package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/jpalmer/watersmart/pkg/models"
	_ "modernc.org/sqlite"
)

// DB wraps the database connection
type DB struct {
	conn *sql.DB
	loc  *time.Location
}

// New creates a new database connection and initializes the schema. Reading
// timestamps loaded from the database are rebuilt in loc.
func New(dbPath string, loc *time.Location) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if loc == nil {
		loc = time.Local
	}

	db := &DB{conn: conn, loc: loc}
	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// initSchema creates the necessary tables
func (db *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS hourly_usage (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts INTEGER NOT NULL,
		read_time TEXT NOT NULL,
		gallons REAL NOT NULL,
		leak_gallons REAL,
		provider TEXT NOT NULL,
		created_at TEXT NOT NULL,
		published INTEGER DEFAULT 0,
		UNIQUE(ts, provider)
	);
	CREATE TABLE IF NOT EXISTS daily_usage (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts INTEGER NOT NULL,
		read_time TEXT NOT NULL,
		consumption REAL NOT NULL,
		temperature REAL,
		precipitation REAL,
		provider TEXT NOT NULL,
		created_at TEXT NOT NULL,
		published INTEGER DEFAULT 0,
		UNIQUE(ts, provider)
	);
	CREATE INDEX IF NOT EXISTS idx_hourly_ts ON hourly_usage(ts);
	CREATE INDEX IF NOT EXISTS idx_hourly_provider ON hourly_usage(provider);
	CREATE INDEX IF NOT EXISTS idx_hourly_published ON hourly_usage(published);
	CREATE INDEX IF NOT EXISTS idx_daily_ts ON daily_usage(ts);
	CREATE INDEX IF NOT EXISTS idx_daily_provider ON daily_usage(provider);
	CREATE INDEX IF NOT EXISTS idx_daily_published ON daily_usage(published);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// InsertHourly inserts an hourly reading, ignoring duplicates. Returns true
// when a new row was stored.
func (db *DB) InsertHourly(r *models.HourlyReading) (bool, error) {
	query := `
	INSERT OR IGNORE INTO hourly_usage (ts, read_time, gallons, leak_gallons, provider, created_at)
	VALUES (?, ?, ?, ?, ?, ?)
	`

	var leak sql.NullFloat64
	if r.LeakGallons != nil {
		leak = sql.NullFloat64{Float64: *r.LeakGallons, Valid: true}
	}
	createdAt := time.Now().UTC().Format(time.RFC3339)

	res, err := db.conn.Exec(query, r.TS, r.Timestamp.Format("2006-01-02 15:04:05"), r.Gallons, leak, r.Provider, createdAt)
	if err != nil {
		return false, fmt.Errorf("inserting hourly reading: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking insert result: %w", err)
	}
	return n > 0, nil
}

// InsertDaily inserts a daily reading, ignoring duplicates. Returns true when
// a new row was stored.
func (db *DB) InsertDaily(r *models.DailyReading) (bool, error) {
	query := `
	INSERT OR IGNORE INTO daily_usage (ts, read_time, consumption, temperature, precipitation, provider, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	var temp, precip sql.NullFloat64
	if r.Temperature != nil {
		temp = sql.NullFloat64{Float64: *r.Temperature, Valid: true}
	}
	if r.Precipitation != nil {
		precip = sql.NullFloat64{Float64: *r.Precipitation, Valid: true}
	}
	createdAt := time.Now().UTC().Format(time.RFC3339)

	res, err := db.conn.Exec(query, r.TS, r.Timestamp.Format("2006-01-02 15:04:05"), r.Consumption, temp, precip, r.Provider, createdAt)
	if err != nil {
		return false, fmt.Errorf("inserting daily reading: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking insert result: %w", err)
	}
	return n > 0, nil
}

// ListHourly retrieves all hourly readings for a provider, oldest first
func (db *DB) ListHourly(provider string) ([]models.HourlyReading, error) {
	return db.queryHourly(`
	SELECT id, ts, gallons, leak_gallons, provider
	FROM hourly_usage
	WHERE provider = ?
	ORDER BY ts ASC
	`, provider)
}

// ListUnpublishedHourly retrieves hourly readings not yet pushed to Home
// Assistant, oldest first
func (db *DB) ListUnpublishedHourly(provider string) ([]models.HourlyReading, error) {
	return db.queryHourly(`
	SELECT id, ts, gallons, leak_gallons, provider
	FROM hourly_usage
	WHERE provider = ? AND published = 0
	ORDER BY ts ASC
	`, provider)
}

func (db *DB) queryHourly(query, provider string) ([]models.HourlyReading, error) {
	rows, err := db.conn.Query(query, provider)
	if err != nil {
		return nil, fmt.Errorf("querying hourly readings: %w", err)
	}
	defer rows.Close()

	var results []models.HourlyReading
	for rows.Next() {
		var r models.HourlyReading
		var leak sql.NullFloat64

		if err := rows.Scan(&r.ID, &r.TS, &r.Gallons, &leak, &r.Provider); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		if leak.Valid {
			v := leak.Float64
			r.LeakGallons = &v
		}
		r.Timestamp = time.Unix(r.TS, 0).In(db.loc)

		results = append(results, r)
	}

	return results, rows.Err()
}

// ListDaily retrieves all daily readings for a provider, oldest first
func (db *DB) ListDaily(provider string) ([]models.DailyReading, error) {
	return db.queryDaily(`
	SELECT id, ts, consumption, temperature, precipitation, provider
	FROM daily_usage
	WHERE provider = ?
	ORDER BY ts ASC
	`, provider)
}

// ListUnpublishedDaily retrieves daily readings not yet pushed to Home
// Assistant, oldest first
func (db *DB) ListUnpublishedDaily(provider string) ([]models.DailyReading, error) {
	return db.queryDaily(`
	SELECT id, ts, consumption, temperature, precipitation, provider
	FROM daily_usage
	WHERE provider = ? AND published = 0
	ORDER BY ts ASC
	`, provider)
}

func (db *DB) queryDaily(query, provider string) ([]models.DailyReading, error) {
	rows, err := db.conn.Query(query, provider)
	if err != nil {
		return nil, fmt.Errorf("querying daily readings: %w", err)
	}
	defer rows.Close()

	var results []models.DailyReading
	for rows.Next() {
		var r models.DailyReading
		var temp, precip sql.NullFloat64

		if err := rows.Scan(&r.ID, &r.TS, &r.Consumption, &temp, &precip, &r.Provider); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		if temp.Valid {
			v := temp.Float64
			r.Temperature = &v
		}
		if precip.Valid {
			v := precip.Float64
			r.Precipitation = &v
		}
		r.Timestamp = time.Unix(r.TS, 0).In(db.loc)

		results = append(results, r)
	}

	return results, rows.Err()
}

// LastHourlyTimestamp returns the newest stored hourly timestamp for a
// provider, or 0 when no data exists
func (db *DB) LastHourlyTimestamp(provider string) (int64, error) {
	return db.lastTimestamp("hourly_usage", provider)
}

// LastDailyTimestamp returns the newest stored daily timestamp for a
// provider, or 0 when no data exists
func (db *DB) LastDailyTimestamp(provider string) (int64, error) {
	return db.lastTimestamp("daily_usage", provider)
}

func (db *DB) lastTimestamp(table, provider string) (int64, error) {
	query := fmt.Sprintf(`SELECT ts FROM %s WHERE provider = ? ORDER BY ts DESC LIMIT 1`, table)
	row := db.conn.QueryRow(query, provider)

	var ts int64
	err := row.Scan(&ts)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("querying last timestamp: %w", err)
	}
	return ts, nil
}

// MarkHourlyPublished marks an hourly reading as published
func (db *DB) MarkHourlyPublished(id int) error {
	return db.markPublished("hourly_usage", id)
}

// MarkDailyPublished marks a daily reading as published
func (db *DB) MarkDailyPublished(id int) error {
	return db.markPublished("daily_usage", id)
}

func (db *DB) markPublished(table string, id int) error {
	query := fmt.Sprintf(`UPDATE %s SET published = 1 WHERE id = ?`, table)
	_, err := db.conn.Exec(query, id)
	if err != nil {
		return fmt.Errorf("marking record as published: %w", err)
	}
	return nil
}
