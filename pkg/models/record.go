// Package models provides the data model for centrepoint-sync.
//
// Records come off the CentrePoint API as untyped JSON objects. The fields the
// engine actually inspects (the cursor value and the two partition columns) are
// lifted into typed struct fields; everything else rides along untouched in an
// opaque bag so new upstream fields survive the trip to the warehouse.
package models

// CursorField is the record field used as the incremental high-water mark.
const CursorField = "lastEpochDateTimeUtc"

// Partition column names stamped by the enricher and used by loaders to
// route records into physical storage subdivisions.
const (
	PartitionStudyID       = "study_id"
	PartitionIngestionDate = "ingestion_date"
)

// Record is a single daily-statistics row.
type Record struct {
	// Cursor holds the record's lastEpochDateTimeUtc value, an ISO-8601
	// timestamp string. Empty means the field was absent upstream.
	Cursor string

	// StudyID and IngestionDate are the partition columns. Zero/empty until
	// the enricher stamps them; both are guaranteed present on every record
	// handed to a loader.
	StudyID       int
	IngestionDate string

	// Fields carries the raw upstream payload, cursor field included.
	Fields map[string]interface{}
}

// NewRecord builds a Record from a decoded API item, lifting the cursor field
// out of the payload. The Cursor stays empty when the field is missing or not
// a string; the cursor policy treats that as a schema violation.
func NewRecord(fields map[string]interface{}) *Record {
	r := &Record{Fields: fields}
	if v, ok := fields[CursorField].(string); ok {
		r.Cursor = v
	}
	return r
}

// Row returns the record as a flat map ready for serialization: the upstream
// payload plus the partition columns. The original Fields map is not modified;
// records are immutable once emitted.
func (r *Record) Row() map[string]interface{} {
	row := make(map[string]interface{}, len(r.Fields)+2)
	for k, v := range r.Fields {
		row[k] = v
	}
	row[PartitionStudyID] = r.StudyID
	row[PartitionIngestionDate] = r.IngestionDate
	return row
}

// QueryWindow defines the resource path and request parameters for one run.
// Immutable per run.
type QueryWindow struct {
	FromDate  string // ISO calendar date, inclusive
	ToDate    string // ISO calendar date, inclusive
	StudyID   int
	SubjectID int
	SettingID string // optional dailyStatisticsSettingId GUID
}

// Credentials holds the client-credentials grant inputs. Never logged.
type Credentials struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scope        string
}
