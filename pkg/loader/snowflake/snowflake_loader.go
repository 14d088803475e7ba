// Package snowflake implements an append-only Snowflake loader. Records are
// staged as a local JSONL file, uploaded to the target table's stage with
// PUT, and loaded with COPY INTO at Commit. The table holds one row per
// record: a VARIANT payload plus the two partition columns.
package snowflake

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	gojson "github.com/goccy/go-json"
	_ "github.com/snowflakedb/gosnowflake"
	"go.uber.org/zap"

	"github.com/sensorcloud/centrepoint-sync/pkg/config"
	"github.com/sensorcloud/centrepoint-sync/pkg/errors"
	"github.com/sensorcloud/centrepoint-sync/pkg/loader"
	"github.com/sensorcloud/centrepoint-sync/pkg/models"
)

// Loader stages records to a temp JSONL file and bulk-loads them at Commit.
type Loader struct {
	dsn       string
	database  string
	schema    string
	table     string
	warehouse string
	logger    *zap.Logger

	db       *sql.DB
	stageDir string
	file     *os.File
	writer   *bufio.Writer
	count    int
	aborted  bool
}

// New creates a Snowflake loader from destination options. Required options:
// account, user, password, database, schema, table. Optional: warehouse,
// role. The password option is expected to arrive via environment
// substitution, never inline in config files.
func New(cfg config.DestinationConfig, logger *zap.Logger) (loader.Loader, error) {
	for _, key := range []string{"account", "user", "password", "database", "schema", "table"} {
		if cfg.Options[key] == "" {
			return nil, errors.Newf(errors.ErrorTypeConfig, "snowflake loader requires the %s option", key)
		}
	}

	dsn := fmt.Sprintf("%s:%s@%s/%s/%s",
		cfg.Options["user"],
		cfg.Options["password"],
		cfg.Options["account"],
		cfg.Options["database"],
		cfg.Options["schema"])

	params := ""
	if wh := cfg.Options["warehouse"]; wh != "" {
		params = "?warehouse=" + wh
		if role := cfg.Options["role"]; role != "" {
			params += "&role=" + role
		}
	} else if role := cfg.Options["role"]; role != "" {
		params = "?role=" + role
	}

	return &Loader{
		dsn:       dsn + params,
		database:  cfg.Options["database"],
		schema:    cfg.Options["schema"],
		table:     cfg.Options["table"],
		warehouse: cfg.Options["warehouse"],
		logger:    logger.With(zap.String("component", "snowflake_loader")),
	}, nil
}

// Open connects to Snowflake, ensures the target table exists, and opens the
// local staging file.
func (l *Loader) Open(ctx context.Context) error {
	db, err := sql.Open("snowflake", l.dsn)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "invalid snowflake connection settings")
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to connect to snowflake")
	}
	l.db = db

	createSQL := fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s.%s.%s (
			%s NUMBER,
			%s DATE,
			record VARIANT,
			loaded_at TIMESTAMP_NTZ DEFAULT CURRENT_TIMESTAMP()
		)`,
		l.database, l.schema, l.table,
		models.PartitionStudyID, models.PartitionIngestionDate)
	if _, err := l.db.ExecContext(ctx, createSQL); err != nil {
		return errors.Wrap(err, errors.ErrorTypeSchema, "failed to ensure target table")
	}

	return l.openStageFile()
}

func (l *Loader) openStageFile() error {
	dir, err := os.MkdirTemp("", "centrepoint-stage-")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to create staging directory")
	}
	l.stageDir = dir

	name := fmt.Sprintf("daily_statistics-%d.jsonl", time.Now().UnixNano())
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to create staging file")
	}
	l.file = f
	l.writer = bufio.NewWriterSize(f, 1<<20)
	return nil
}

// Write appends records to the staging file.
func (l *Loader) Write(ctx context.Context, records []*models.Record) error {
	if l.aborted {
		return errors.New(errors.ErrorTypeState, "loader is aborted")
	}

	for _, r := range records {
		line, err := gojson.Marshal(r.Row())
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeData, "failed to encode record")
		}
		if _, err := l.writer.Write(append(line, '\n')); err != nil {
			return errors.Wrap(err, errors.ErrorTypeInternal, "failed to write staging file")
		}
		l.count++
	}
	return nil
}

// Commit uploads the staging file to the table stage and loads it.
func (l *Loader) Commit(ctx context.Context) error {
	if l.aborted {
		return errors.New(errors.ErrorTypeState, "loader is aborted")
	}
	if l.count == 0 {
		return nil
	}

	if err := l.writer.Flush(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to flush staging file")
	}
	if err := l.file.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to close staging file")
	}

	qualified := fmt.Sprintf("%s.%s.%s", l.database, l.schema, l.table)

	putSQL := fmt.Sprintf("PUT file://%s @%%%s AUTO_COMPRESS=true OVERWRITE=true",
		l.file.Name(), l.table)
	if _, err := l.db.ExecContext(ctx, putSQL); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to upload staging file")
	}

	copySQL := fmt.Sprintf(
		`COPY INTO %s (%s, %s, record)
		FROM (SELECT $1:%s, $1:%s, $1 FROM @%%%s)
		FILE_FORMAT = (TYPE = JSON) ON_ERROR = 'ABORT_STATEMENT' PURGE = true`,
		qualified,
		models.PartitionStudyID, models.PartitionIngestionDate,
		models.PartitionStudyID, models.PartitionIngestionDate,
		l.table)
	if _, err := l.db.ExecContext(ctx, copySQL); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to load staged records")
	}

	l.logger.Info("records loaded",
		zap.String("table", qualified),
		zap.Int("records", l.count))
	return nil
}

// Abort drops the staging file without loading it.
func (l *Loader) Abort(ctx context.Context) error {
	l.aborted = true
	return nil
}

// Close removes staging files and closes the connection.
func (l *Loader) Close(ctx context.Context) error {
	if l.file != nil {
		_ = l.file.Close()
	}
	if l.stageDir != "" {
		_ = os.RemoveAll(l.stageDir)
	}
	if l.db != nil {
		return l.db.Close()
	}
	return nil
}
