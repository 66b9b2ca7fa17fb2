package store

import (
	"time"

	"github.com/chartforge/chartforge/pkg/schema"
)

// Session mutations shared by MemoryStore and LibSQLStore. Each helper
// operates on an in-memory session document; the stores are responsible
// for locking (memory) or the revision-guarded write-back (libsql).

func validateNewResult(result *schema.Result) error {
	for i := range result.Charts {
		c := &result.Charts[i]
		if len(c.Versions) == 0 && c.Status != schema.ChartStatusPending && c.Status != schema.ChartStatusGenerating {
			return schema.NewErrorf(schema.ErrCodeInvalidRequest,
				"chart %s has no versions and is not a placeholder", c.ID)
		}
		for j, v := range c.Versions {
			if v.Version != j+1 {
				return schema.NewErrorf(schema.ErrCodeInvalidRequest,
					"chart %s version numbering must start at 1 and be contiguous", c.ID)
			}
		}
		if len(c.Versions) > 0 && (c.CurrentVersion < 0 || c.CurrentVersion >= len(c.Versions)) {
			return schema.NewErrorf(schema.ErrCodeVersionOutOfRange,
				"chart %s current version %d out of range", c.ID, c.CurrentVersion)
		}
	}
	return nil
}

func locateChart(sess *schema.Session, resultID, chartID string) (*schema.Result, *schema.Chart, error) {
	for i := range sess.Results {
		r := &sess.Results[i]
		if r.ID != resultID {
			continue
		}
		for j := range r.Charts {
			if r.Charts[j].ID == chartID {
				return r, &r.Charts[j], nil
			}
		}
	}
	return nil, nil, storeNotFound("chart", chartID)
}

func applyAddVersion(sess *schema.Session, resultID, chartID string, v NewVersion, advance bool) (int, error) {
	result, chart, err := locateChart(sess, resultID, chartID)
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	version := len(chart.Versions) + 1
	chart.Versions = append(chart.Versions, schema.ChartVersion{
		Version:   version,
		Chart:     v.Chart,
		Rationale: v.Rationale,
		Source:    v.Source,
		Error:     v.Error,
		Status:    v.Status,
		CreatedAt: now,
	})
	if advance {
		chart.CurrentVersion = version - 1
	}
	if v.Status != "" {
		chart.Status = v.Status
	}
	chart.UpdatedAt = now
	result.UpdatedAt = now
	return version, nil
}

func applyFixAttempt(sess *schema.Session, resultID, chartID string, attempt schema.FixAttempt) error {
	result, chart, err := locateChart(sess, resultID, chartID)
	if err != nil {
		return err
	}
	chart.FixAttempts = append(chart.FixAttempts, attempt)
	now := time.Now().UTC()
	chart.UpdatedAt = now
	result.UpdatedAt = now
	return nil
}

func applySetCurrentVersion(sess *schema.Session, resultID, chartID string, versionIndex int) error {
	result, chart, err := locateChart(sess, resultID, chartID)
	if err != nil {
		return err
	}
	if versionIndex < 0 || versionIndex >= len(chart.Versions) {
		return schema.NewErrorf(schema.ErrCodeVersionOutOfRange,
			"version index %d out of range [0, %d)", versionIndex, len(chart.Versions))
	}
	chart.CurrentVersion = versionIndex
	now := time.Now().UTC()
	chart.UpdatedAt = now
	result.UpdatedAt = now
	return nil
}

func applyChartStatus(sess *schema.Session, resultID, chartID string, status schema.ChartStatus) error {
	result, chart, err := locateChart(sess, resultID, chartID)
	if err != nil {
		return err
	}
	chart.Status = status
	now := time.Now().UTC()
	chart.UpdatedAt = now
	result.UpdatedAt = now
	return nil
}

func countCharts(sess *schema.Session) int {
	n := 0
	for i := range sess.Results {
		n += len(sess.Results[i].Charts)
	}
	return n
}
