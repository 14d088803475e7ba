package snowflake

import (
	"bufio"
	"bytes"
	"context"
	"strings"
	"testing"

	gojson "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sensorcloud/centrepoint-sync/pkg/config"
	"github.com/sensorcloud/centrepoint-sync/pkg/models"
)

func validOptions() map[string]string {
	return map[string]string{
		"account":   "xy12345",
		"user":      "loader",
		"password":  "secret",
		"database":  "RAW",
		"schema":    "ACTIGRAPH",
		"table":     "DAILY_STATISTICS",
		"warehouse": "LOAD_WH",
	}
}

func TestNewRequiresConnectionOptions(t *testing.T) {
	for _, missing := range []string{"account", "user", "password", "database", "schema", "table"} {
		opts := validOptions()
		delete(opts, missing)

		_, err := New(config.DestinationConfig{Type: "snowflake", Options: opts}, zap.NewNop())
		assert.Error(t, err, "missing %s should be rejected", missing)
	}
}

func TestNewBuildsDSN(t *testing.T) {
	l, err := New(config.DestinationConfig{Type: "snowflake", Options: validOptions()}, zap.NewNop())
	require.NoError(t, err)

	sf := l.(*Loader)
	assert.Equal(t, "loader:secret@xy12345/RAW/ACTIGRAPH?warehouse=LOAD_WH", sf.dsn)
	assert.Equal(t, "DAILY_STATISTICS", sf.table)
}

func TestWriteStagesJSONLRows(t *testing.T) {
	var buf bytes.Buffer
	l := &Loader{writer: bufio.NewWriter(&buf), logger: zap.NewNop()}

	r := models.NewRecord(map[string]interface{}{
		models.CursorField: "2024-06-01T00:00:00Z",
		"steps":            1200,
	})
	r.StudyID = 42
	r.IngestionDate = "2024-06-02"

	require.NoError(t, l.Write(context.Background(), []*models.Record{r}))
	require.NoError(t, l.writer.Flush())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var row map[string]interface{}
	require.NoError(t, gojson.Unmarshal([]byte(lines[0]), &row))
	assert.Equal(t, float64(42), row[models.PartitionStudyID])
	assert.Equal(t, "2024-06-02", row[models.PartitionIngestionDate])
	assert.Equal(t, "2024-06-01T00:00:00Z", row[models.CursorField])
	assert.Equal(t, 1, l.count)
}

func TestWriteAfterAbortFails(t *testing.T) {
	l := &Loader{logger: zap.NewNop()}
	require.NoError(t, l.Abort(context.Background()))

	err := l.Write(context.Background(), nil)
	assert.Error(t, err)
	assert.Error(t, l.Commit(context.Background()))
}
