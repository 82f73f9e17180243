// Package repository holds what every Job Store backend shares.
package repository

import (
	"errors"
	"math"
	"time"

	"extraction-service/internal/entity"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrStatusMismatch = errors.New("status mismatch")
)

// StatsAccumulator folds jobs into entity.Statistics. Stores that can't
// aggregate in SQL feed it row by row.
type StatsAccumulator struct {
	total        int
	byStatus     map[entity.JobStatus]int
	durationSum  float64
	durationN    int
	recordSum    int
	completedCnt int
}

func NewStatsAccumulator() *StatsAccumulator {
	by := make(map[entity.JobStatus]int, len(entity.AllStatuses))
	for _, st := range entity.AllStatuses {
		by[st] = 0
	}
	return &StatsAccumulator{byStatus: by}
}

func (a *StatsAccumulator) Add(status entity.JobStatus, recordCount int, startedAt, completedAt *time.Time) {
	a.total++
	a.byStatus[status]++
	if status != entity.StatusCompleted {
		return
	}
	a.completedCnt++
	a.recordSum += recordCount
	if startedAt != nil && completedAt != nil {
		a.durationSum += completedAt.Sub(*startedAt).Seconds()
		a.durationN++
	}
}

func (a *StatsAccumulator) Result() *entity.Statistics {
	st := &entity.Statistics{TotalJobs: a.total, ByStatus: a.byStatus}
	if a.durationN > 0 {
		v := round2(a.durationSum / float64(a.durationN))
		st.AverageProcessingTime = &v
	}
	if a.completedCnt > 0 {
		v := round2(float64(a.recordSum) / float64(a.completedCnt))
		st.AverageRecordCount = &v
	}
	return st
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// ContainsStatus reports whether st is one of expect.
func ContainsStatus(expect []entity.JobStatus, st entity.JobStatus) bool {
	for _, e := range expect {
		if e == st {
			return true
		}
	}
	return false
}

// StatusStrings converts statuses for SQL array / IN parameters.
func StatusStrings(sts []entity.JobStatus) []string {
	out := make([]string, len(sts))
	for i, s := range sts {
		out[i] = string(s)
	}
	return out
}
