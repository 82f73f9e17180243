package entity

import (
	"maps"
	"time"

	"github.com/google/uuid"
)

type RecordType string

const (
	RecordContacts RecordType = "contacts"
	RecordUsers    RecordType = "users"
)

var RecordTypes = []RecordType{RecordContacts, RecordUsers}

func ParseRecordType(s string) (RecordType, bool) {
	for _, rt := range RecordTypes {
		if RecordType(s) == rt {
			return rt, true
		}
	}
	return "", false
}

// Record is one free-form row pulled from the third-party service.
type Record map[string]any

// Clone copies the top-level map. Values are JSON scalars, so this is deep
// enough for stores handing records to callers.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	return maps.Clone(r)
}

func (r Record) String(key string) *string {
	v, ok := r[key].(string)
	if !ok {
		return nil
	}
	return &v
}

// ExtractionResult is a stored Record owned by exactly one Job.
type ExtractionResult struct {
	ID        uuid.UUID `json:"id"`
	JobID     uuid.UUID `json:"job_id"`
	Position  int       `json:"-"`
	Data      Record    `json:"data"`
	CreatedAt time.Time `json:"created_at"`
}

type Statistics struct {
	TotalJobs             int               `json:"total_jobs"`
	ByStatus              map[JobStatus]int `json:"jobs_by_status"`
	AverageProcessingTime *float64          `json:"average_processing_time"`
	AverageRecordCount    *float64          `json:"average_record_count"`
}

func (s *Statistics) Count(st JobStatus) int {
	if s == nil || s.ByStatus == nil {
		return 0
	}
	return s.ByStatus[st]
}
