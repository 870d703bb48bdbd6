// Package db manages the PostgreSQL pool behind the report store:
// connecting with retry, health probes, pool metrics and schema migrations.
package db

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/otherjamesbrown/relief/pkg/logging"
)

// Config holds PostgreSQL connection configuration.
type Config struct {
	// URL, when set, is used verbatim as the connection string and the
	// discrete fields below are ignored.
	URL             string
	Host            string
	Port            int
	Database        string
	User            string
	Password        string
	SSLMode         string
	ApplicationName string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	ConnectTimeout  time.Duration
	// StatementTimeout bounds every statement on pooled connections.
	// Zero keeps the server default.
	StatementTimeout time.Duration
	// ConnectAttempts is how many times Connect tries to reach the server.
	ConnectAttempts int
	// RetryDelay is the wait after the first failed attempt. It grows
	// linearly with each further attempt.
	RetryDelay time.Duration
}

// DefaultConfig returns a Config sized for the relief CLI and sweeper.
func DefaultConfig() *Config {
	return &Config{
		Host:             "localhost",
		Port:             5432,
		Database:         "relief",
		User:             "relief",
		SSLMode:          "disable",
		ApplicationName:  "relief",
		MaxConns:         10,
		MinConns:         1,
		MaxConnLifetime:  time.Hour,
		MaxConnIdleTime:  30 * time.Minute,
		ConnectTimeout:   10 * time.Second,
		StatementTimeout: 30 * time.Second,
		ConnectAttempts:  3,
		RetryDelay:       time.Second,
	}
}

// ConnectionString builds a postgres:// URL from the config. It is
// understood by both pgx and lib/pq.
func (c *Config) ConnectionString() string {
	if c.URL != "" {
		return c.URL
	}

	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   "/" + c.Database,
	}
	if c.Password != "" {
		u.User = url.UserPassword(c.User, c.Password)
	} else {
		u.User = url.User(c.User)
	}

	q := url.Values{}
	if c.SSLMode != "" {
		q.Set("sslmode", c.SSLMode)
	}
	if c.ConnectTimeout > 0 {
		q.Set("connect_timeout", strconv.Itoa(int(c.ConnectTimeout.Seconds())))
	}
	if c.ApplicationName != "" {
		q.Set("application_name", c.ApplicationName)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Validate checks if the config has required fields set.
func (c *Config) Validate() error {
	if c.MaxConns < c.MinConns {
		return fmt.Errorf("max connections (%d) must be >= min connections (%d)", c.MaxConns, c.MinConns)
	}
	if c.StatementTimeout < 0 {
		return fmt.Errorf("statement timeout must not be negative")
	}
	if c.URL != "" {
		return nil
	}
	if c.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid database port: %d", c.Port)
	}
	if c.Database == "" {
		return fmt.Errorf("database name is required")
	}
	if c.User == "" {
		return fmt.Errorf("database user is required")
	}
	return nil
}

// PoolConfig converts the config to a pgxpool configuration.
func (c *Config) PoolConfig() (*pgxpool.Config, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	poolConfig, err := pgxpool.ParseConfig(c.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}
	if c.MaxConns > 0 {
		poolConfig.MaxConns = c.MaxConns
	}
	poolConfig.MinConns = c.MinConns
	if c.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = c.MaxConnLifetime
	}
	if c.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = c.MaxConnIdleTime
	}
	if c.StatementTimeout > 0 {
		poolConfig.ConnConfig.RuntimeParams["statement_timeout"] = strconv.FormatInt(c.StatementTimeout.Milliseconds(), 10)
	}
	return poolConfig, nil
}

// Option configures Connect.
type Option func(*connectOptions)

type connectOptions struct {
	logger logging.Logger
}

// WithLogger reports retries to logger.
func WithLogger(logger logging.Logger) Option {
	return func(o *connectOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Connect opens a pool and pings it, retrying up to cfg.ConnectAttempts
// times. The caller is responsible for calling pool.Close() when done.
func Connect(ctx context.Context, cfg *Config, opts ...Option) (*pgxpool.Pool, error) {
	o := connectOptions{logger: logging.NewNopLogger()}
	for _, opt := range opts {
		opt(&o)
	}

	poolConfig, err := cfg.PoolConfig()
	if err != nil {
		return nil, err
	}

	attempts := max(cfg.ConnectAttempts, 1)
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		pool, err := open(ctx, poolConfig.Copy())
		if err == nil {
			return pool, nil
		}
		lastErr = err
		if attempt == attempts {
			break
		}

		delay := cfg.RetryDelay * time.Duration(attempt)
		o.logger.Warn("Database not reachable, retrying",
			logging.F("attempt", attempt),
			logging.F("max_attempts", attempts),
			logging.F("retry_in", delay.String()),
			logging.Err(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	if attempts == 1 {
		return nil, lastErr
	}
	return nil, fmt.Errorf("connecting after %d attempts: %w", attempts, lastErr)
}

func open(ctx context.Context, poolConfig *pgxpool.Config) (*pgxpool.Pool, error) {
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

// Close closes a connection pool if it is not nil.
func Close(pool *pgxpool.Pool) {
	if pool != nil {
		pool.Close()
	}
}
