package runs

import (
	"math"

	"github.com/redstone-qa/reporter/pkg/apierr"
)

// RunStats are the derived statistics of one run. Counts are computed on
// read, never stored; concurrent reports can therefore never corrupt them.
type RunStats struct {
	TotalTests  int64   `json:"total_tests"`
	Passed      int64   `json:"passed"`
	Failed      int64   `json:"failed"`
	Skipped     int64   `json:"skipped"`
	SuccessRate float64 `json:"success_rate"`
	AvgDuration int64   `json:"avg_duration"`
}

// GlobalStats aggregate across all runs.
type GlobalStats struct {
	TotalRuns   int64   `json:"total_runs"`
	TotalTests  int64   `json:"total_tests"`
	Passed      int64   `json:"passed"`
	Failed      int64   `json:"failed"`
	Skipped     int64   `json:"skipped"`
	SuccessRate float64 `json:"success_rate"`
}

type statusAggregate struct {
	Status      string
	Count       int64
	AvgDuration *float64
}

// RunStatistics computes the per-run statistics.
func (s *RunStore) RunStatistics(runID string) (*RunStats, error) {
	if _, err := s.GetRun(runID); err != nil {
		return nil, err
	}

	var rows []statusAggregate
	err := s.db.Model(&TestCase{}).
		Select("status, count(*) as count, avg(duration) as avg_duration").
		Where("run_id = ?", runID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, apierr.Storage("aggregate run statistics", err)
	}

	stats := &RunStats{}
	var durationSum float64
	var durationCount int64
	for _, row := range rows {
		switch row.Status {
		case StatusPassed:
			stats.Passed = row.Count
		case StatusFailed:
			stats.Failed = row.Count
		case StatusSkipped:
			stats.Skipped = row.Count
		}
		if row.AvgDuration != nil {
			durationSum += *row.AvgDuration * float64(row.Count)
			durationCount += row.Count
		}
	}
	stats.TotalTests = stats.Passed + stats.Failed + stats.Skipped
	if stats.TotalTests > 0 {
		stats.SuccessRate = roundRate(float64(stats.Passed) / float64(stats.TotalTests) * 100)
	}
	if durationCount > 0 {
		stats.AvgDuration = int64(durationSum / float64(durationCount))
	}
	return stats, nil
}

// GlobalStatistics computes aggregates across every run and case.
func (s *RunStore) GlobalStatistics() (*GlobalStats, error) {
	stats := &GlobalStats{}
	if err := s.db.Model(&TestRun{}).Count(&stats.TotalRuns).Error; err != nil {
		return nil, apierr.Storage("count runs", err)
	}

	var rows []statusAggregate
	err := s.db.Model(&TestCase{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, apierr.Storage("aggregate global statistics", err)
	}
	for _, row := range rows {
		switch row.Status {
		case StatusPassed:
			stats.Passed = row.Count
		case StatusFailed:
			stats.Failed = row.Count
		case StatusSkipped:
			stats.Skipped = row.Count
		}
	}
	stats.TotalTests = stats.Passed + stats.Failed + stats.Skipped
	if stats.TotalTests > 0 {
		stats.SuccessRate = roundRate(float64(stats.Passed) / float64(stats.TotalTests) * 100)
	}
	return stats, nil
}

// roundRate rounds a percentage to two decimal places.
func roundRate(v float64) float64 {
	return math.Round(v*100) / 100
}
