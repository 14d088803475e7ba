package pipeline

import (
	"time"

	"github.com/sensorcloud/centrepoint-sync/pkg/models"
)

// Enricher stamps the partition columns onto accepted records before they
// reach the loader: the run's study ID and the current UTC calendar date.
type Enricher struct {
	studyID int
	now     func() time.Time
}

// NewEnricher creates an enricher for one run's study.
func NewEnricher(studyID int) *Enricher {
	return &Enricher{studyID: studyID, now: time.Now}
}

// Enrich stamps the partition fields in place and returns the record. The
// ingestion date is the UTC date at enrichment time, not any date inside the
// record payload.
func (e *Enricher) Enrich(r *models.Record) *models.Record {
	r.StudyID = e.studyID
	r.IngestionDate = e.now().UTC().Format("2006-01-02")
	return r
}
