package services

import (
	"context"
	"testing"
	"time"

	domain "github.com/freshmart/api/internal/domain"
)

type stubHealthRepo struct {
	report domain.SystemHealthReport
	err    error
}

func (s *stubHealthRepo) Collect(context.Context) (domain.SystemHealthReport, error) {
	return s.report, s.err
}

func TestHealthReportPassesThroughRepository(t *testing.T) {
	want := domain.SystemHealthReport{
		Status: domain.HealthStatusDegraded,
		Checks: map[string]domain.SystemHealthCheck{
			"firestore": {Status: domain.HealthStatusOK},
			"pubsub":    {Status: domain.HealthStatusError, Error: "broker unavailable"},
		},
		GeneratedAt: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
	}

	svc, err := NewSystemService(&stubHealthRepo{report: want})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	got, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if got.Status != want.Status || len(got.Checks) != 2 {
		t.Fatalf("unexpected report %+v", got)
	}
}

func TestNewSystemServiceRequiresRepository(t *testing.T) {
	if _, err := NewSystemService(nil); err == nil {
		t.Fatal("expected error for nil repository")
	}
}
