// Package eventlog persists fired alerts and answers analytics queries.
package eventlog

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-sql-driver/mysql"
	"github.com/patrickmn/go-cache"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/flaresense/detection-server/internal/logger"
	"github.com/flaresense/detection-server/pkg/types"
)

// ErrNotFound is returned by Get for an unknown id.
var ErrNotFound = errors.New("event not found")

// ReportLimit caps the rows written by ExportCSV.
const ReportLimit = 50

const statsKey = "stats"

// Config selects the backing database.
type Config struct {
	Driver   string // "mysql" or "sqlite"
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	Path     string // sqlite file, ":memory:" for tests
	StatsTTL time.Duration
}

// Store is the event log.
type Store struct {
	db     *gorm.DB
	driver string
	cache  *cache.Cache
	clock  clock.Clock

	// gen is bumped by every Record; cached stats carry the gen they were
	// computed under and are ignored once it moves.
	gen atomic.Uint64
}

type cachedStats struct {
	gen   uint64
	stats Stats
}

// Open connects to the configured database. It does not create the schema;
// call Migrate for that.
func Open(cfg Config, clk clock.Clock) (*Store, error) {
	if clk == nil {
		clk = clock.New()
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "mysql":
		dialector = gormmysql.Open(mysqlDSN(cfg, cfg.Name))
	case "sqlite":
		dialector = sqlite.Open(cfg.Path)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLogger()})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Driver, err)
	}

	if cfg.Driver == "sqlite" {
		// a single connection keeps :memory: databases shared across calls
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.SetMaxOpenConns(1)
		}
	}

	s := &Store{db: db, driver: cfg.Driver, clock: clk}
	if cfg.StatsTTL > 0 {
		s.cache = cache.New(cfg.StatsTTL, 2*cfg.StatsTTL)
	}
	return s, nil
}

// CreateDatabase creates the MySQL database named in cfg if it is missing.
// It is a no-op for sqlite.
func CreateDatabase(cfg Config) error {
	if cfg.Driver != "mysql" {
		return nil
	}
	db, err := gorm.Open(gormmysql.Open(mysqlDSN(cfg, "")), &gorm.Config{Logger: gormLogger()})
	if err != nil {
		return fmt.Errorf("failed to connect to mysql server: %w", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	if err := db.Exec(fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", cfg.Name)).Error; err != nil {
		return fmt.Errorf("failed to create database %s: %w", cfg.Name, err)
	}
	logger.Info("EventLog", "Database '%s' checked/created", cfg.Name)
	return nil
}

func mysqlDSN(cfg Config, dbName string) string {
	mc := mysql.Config{
		User:                 cfg.User,
		Passwd:               cfg.Password,
		Net:                  "tcp",
		Addr:                 net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		DBName:               dbName,
		AllowNativePasswords: true,
		ParseTime:            true,
		Params: map[string]string{
			"charset": "utf8mb4",
			"loc":     "Local",
		},
	}
	return mc.FormatDSN()
}

func gormLogger() gormlogger.Interface {
	return gormlogger.New(logger.StdLogger("EventLog", logger.WARN), gormlogger.Config{
		SlowThreshold:             time.Second,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
	})
}

// Migrate creates or updates the fire_events table.
func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(&FireEvent{}); err != nil {
		return fmt.Errorf("failed to migrate fire_events: %w", err)
	}
	logger.Info("EventLog", "Table 'fire_events' checked/created successfully")
	return nil
}

// Driver names the backing database.
func (s *Store) Driver() string {
	return s.driver
}

// Record inserts one event and returns its id.
func (s *Store) Record(ctx context.Context, e Entry) (uint, error) {
	ev := FireEvent{
		Timestamp:  s.clock.Now(),
		Confidence: e.Confidence,
		ChaosScore: e.Chaos,
		Severity:   types.NormalizeSeverity(e.Severity),
		Zone:       e.Zone,
		ImagePath:  e.EvidenceRef,
		AlertSent:  e.AlertSent,
		Latitude:   e.Latitude,
		Longitude:  e.Longitude,
	}
	if e.LocationURL != "" {
		url := e.LocationURL
		ev.LocationURL = &url
	}

	if err := s.db.WithContext(ctx).Create(&ev).Error; err != nil {
		return 0, fmt.Errorf("failed to log fire event: %w", err)
	}
	s.gen.Add(1)
	if s.cache != nil {
		s.cache.Delete(statsKey)
	}
	logger.Info("EventLog", "Fire event logged to database (ID: %d)", ev.ID)
	return ev.ID, nil
}

// List returns up to limit events, newest first. limit <= 0 means all.
func (s *Store) List(ctx context.Context, limit int) ([]FireEvent, error) {
	var events []FireEvent
	q := s.db.WithContext(ctx).Order("timestamp DESC").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to list fire events: %w", err)
	}
	return events, nil
}

// Get returns the event with the given id.
func (s *Store) Get(ctx context.Context, id uint) (*FireEvent, error) {
	var ev FireEvent
	err := s.db.WithContext(ctx).First(&ev, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load fire event %d: %w", id, err)
	}
	return &ev, nil
}

// Stats returns totals, per-severity counts and average confidence.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	gen := s.gen.Load()
	if st, ok := s.cachedStats(gen); ok {
		return st, nil
	}

	st, err := s.computeStats(ctx)
	if err != nil {
		return Stats{}, err
	}
	s.cacheStats(gen, st)
	return st, nil
}

func (s *Store) cachedStats(gen uint64) (Stats, bool) {
	if s.cache == nil {
		return Stats{}, false
	}
	v, ok := s.cache.Get(statsKey)
	if !ok {
		return Stats{}, false
	}
	c := v.(cachedStats)
	if c.gen != gen {
		return Stats{}, false
	}
	return c.stats, true
}

func (s *Store) cacheStats(gen uint64, st Stats) {
	if s.cache == nil || s.gen.Load() != gen {
		return
	}
	s.cache.SetDefault(statsKey, cachedStats{gen: gen, stats: st})
}

func (s *Store) computeStats(ctx context.Context) (Stats, error) {
	st := Stats{SeverityCounts: map[string]int64{"LOW": 0, "MEDIUM": 0, "HIGH": 0}}
	db := s.db.WithContext(ctx).Model(&FireEvent{})

	if err := db.Count(&st.TotalEvents).Error; err != nil {
		return Stats{}, fmt.Errorf("failed to count fire events: %w", err)
	}

	var rows []struct {
		Severity string
		Count    int64
	}
	if err := s.db.WithContext(ctx).Model(&FireEvent{}).
		Select("severity, COUNT(*) AS count").Group("severity").Scan(&rows).Error; err != nil {
		return Stats{}, fmt.Errorf("failed to group fire events: %w", err)
	}
	for _, r := range rows {
		st.SeverityCounts[r.Severity] = r.Count
	}

	var avg struct{ Avg float64 }
	if err := s.db.WithContext(ctx).Model(&FireEvent{}).
		Select("COALESCE(AVG(confidence), 0) AS avg").Scan(&avg).Error; err != nil {
		return Stats{}, fmt.Errorf("failed to average confidence: %w", err)
	}
	st.AvgConfidence = avg.Avg
	return st, nil
}

// ExportCSV writes the most recent events as a report.
func (s *Store) ExportCSV(ctx context.Context, w io.Writer) error {
	events, err := s.List(ctx, ReportLimit)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Timestamp", "Severity", "Conf", "Location"}); err != nil {
		return err
	}
	for _, ev := range events {
		loc := "N/A"
		if ev.Latitude != nil && ev.Longitude != nil {
			loc = fmt.Sprintf("%.4f, %.4f", *ev.Latitude, *ev.Longitude)
		}
		row := []string{
			ev.Timestamp.Format("2006-01-02 15:04:05"),
			ev.Severity,
			fmt.Sprintf("%.2f", ev.Confidence),
			loc,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
