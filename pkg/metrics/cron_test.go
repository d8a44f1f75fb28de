package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, reg *prometheus.Registry, name, job string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, m := range fam.GetMetric() {
			for _, label := range m.GetLabel() {
				if label.GetName() == "job" && label.GetValue() == job {
					if c := m.GetCounter(); c != nil {
						return c.GetValue()
					}
				}
			}
		}
	}
	return 0
}

func histogramCount(t *testing.T, reg *prometheus.Registry, name, job string) uint64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, m := range fam.GetMetric() {
			for _, label := range m.GetLabel() {
				if label.GetName() == "job" && label.GetValue() == job {
					var h *dto.Histogram
					if h = m.GetHistogram(); h != nil {
						return h.GetSampleCount()
					}
				}
			}
		}
	}
	return 0
}

func TestCronJobMetricsRecordsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCronJobMetrics(reg)

	m.IncSuccess("trial_expiry")
	m.IncSuccess("trial_expiry")
	m.IncFailure("trial_expiry")
	m.ObserveDuration("trial_expiry", 120*time.Millisecond)

	if got := counterValue(t, reg, "job_success", "trial_expiry"); got != 2 {
		t.Fatalf("expected 2 successes, got %v", got)
	}
	if got := counterValue(t, reg, "job_failure", "trial_expiry"); got != 1 {
		t.Fatalf("expected 1 failure, got %v", got)
	}
	if got := histogramCount(t, reg, "job_duration_seconds", "trial_expiry"); got != 1 {
		t.Fatalf("expected 1 duration sample, got %v", got)
	}
}

func TestCronJobMetricsNilSafe(t *testing.T) {
	var m *CronJobMetrics
	m.IncSuccess("x")
	m.IncFailure("x")
	m.ObserveDuration("x", time.Second)

	empty := NewCronJobMetrics(nil)
	empty.IncSuccess("")
}
