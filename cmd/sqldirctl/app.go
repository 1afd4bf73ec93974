package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
	_ "modernc.org/sqlite"

	"github.com/hupe1980/sqldir"
	"github.com/hupe1980/sqldir/config"
	"github.com/hupe1980/sqldir/metrics"
)

// drivers maps database/sql driver names to dialects.
var drivers = map[string]string{
	"sqlite": "sqlite",
	"pgx":    "postgres",
}

func newApp(stdout, stderr io.Writer) *cli.App {
	return &cli.App{
		Name:      "sqldirctl",
		Usage:     "inspect and maintain index directories stored in a database",
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "driver",
				Value:   "sqlite",
				Usage:   "database/sql driver (sqlite, pgx)",
				EnvVars: []string{"SQLDIR_DRIVER"},
			},
			&cli.StringFlag{
				Name:     "dsn",
				Usage:    "data source name passed to the driver",
				EnvVars:  []string{"SQLDIR_DSN"},
				Required: true,
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML settings file",
			},
			&cli.StringSliceFlag{
				Name:  "set",
				Usage: "override a setting (key=value), may be repeated",
			},
			&cli.StringFlag{
				Name:  "log",
				Value: "warn",
				Usage: "log level (debug, info, warn, error)",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "log as JSON",
			},
			&cli.StringFlag{
				Name:    "metrics-file",
				Usage:   "write Prometheus metrics in text format to this file on exit (node_exporter textfile collector)",
				EnvVars: []string{"SQLDIR_METRICS_FILE"},
			},
		},
		Before: func(c *cli.Context) error {
			if _, ok := drivers[c.String("driver")]; !ok {
				return fmt.Errorf("unsupported driver %q", c.String("driver"))
			}
			return nil
		},
		Commands: commands(),
	}
}

// loadSettings merges the config file, the --set overrides and the dialect
// implied by the driver, in increasing precedence except for the dialect,
// which is only filled in when unset.
func loadSettings(c *cli.Context) (*config.Settings, error) {
	s := config.New()
	if path := c.String("config"); path != "" {
		loaded, err := config.LoadYAMLFile(path)
		if err != nil {
			return nil, err
		}
		s = loaded
	}
	for _, kv := range c.StringSlice("set") {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, config.Errorf("", "override %q is not key=value", kv)
		}
		s.Set(strings.TrimSpace(key), strings.TrimSpace(value))
	}
	if !s.Has(config.KeyDialect) {
		s.Set(config.KeyDialect, drivers[c.String("driver")])
	}
	return s, nil
}

func newLogger(c *cli.Context) (*sqldir.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.String("log"))); err != nil {
		return nil, fmt.Errorf("invalid log level %q", c.String("log"))
	}
	if c.Bool("json") {
		return sqldir.NewJSONLogger(c.App.ErrWriter, level), nil
	}
	return sqldir.NewTextLogger(c.App.ErrWriter, level), nil
}

// session is an open database and store for one command.
type session struct {
	db    *sql.DB
	store *sqldir.Store

	// metricsFile receives the gathered registry on Close when set.
	metricsFile string
	registry    *prometheus.Registry
}

func (s *session) Close() error {
	err := s.store.Close()
	if cerr := s.db.Close(); err == nil {
		err = cerr
	}
	if s.metricsFile != "" {
		if werr := prometheus.WriteToTextfile(s.metricsFile, s.registry); err == nil {
			err = werr
		}
	}
	return err
}

// openStore opens the store named by the global flags. Read-only sessions
// take no lock and never create the table.
func openStore(ctx context.Context, c *cli.Context, readOnly bool, extra ...sqldir.Option) (*session, error) {
	settings, err := loadSettings(c)
	if err != nil {
		return nil, err
	}
	if readOnly {
		settings.Set(config.KeyAutoCreate, "false")
	}
	logger, err := newLogger(c)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(c.String("driver"), c.String("dsn"))
	if err != nil {
		return nil, err
	}
	if c.String("driver") == "sqlite" {
		db.SetMaxOpenConns(1)
	}

	sess := &session{db: db, metricsFile: c.String("metrics-file")}
	opts := []sqldir.Option{sqldir.WithSettings(settings), sqldir.WithLogger(logger)}
	if sess.metricsFile != "" {
		sess.registry = prometheus.NewRegistry()
		opts = append(opts, sqldir.WithMetrics(metrics.NewPrometheusObserver(metrics.WithRegisterer(sess.registry))))
	}
	if readOnly {
		opts = append(opts, sqldir.ReadOnly())
	}
	st, err := sqldir.Open(ctx, db, append(opts, extra...)...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	sess.store = st
	return sess, nil
}
