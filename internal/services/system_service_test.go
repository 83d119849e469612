package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/caravela/api/internal/domain"
	"github.com/caravela/api/internal/repositories"
)

type healthStubRepo struct {
	report domain.SystemHealthReport
	err    error
}

func (s *healthStubRepo) Collect(context.Context) (domain.SystemHealthReport, error) {
	if s.err != nil {
		return domain.SystemHealthReport{}, s.err
	}
	return s.report, nil
}

type failingCounterStub struct {
	err error
}

func (c *failingCounterStub) Next(context.Context, string, int64) (int64, error) {
	return 0, c.err
}

func (c *failingCounterStub) Configure(context.Context, string, repositories.CounterConfig) error {
	return nil
}

func newSystemTestService(t *testing.T, health *healthStubRepo, counters repositories.CounterRepository) SystemService {
	t.Helper()
	svc, err := NewSystemService(SystemServiceDeps{
		Health:   health,
		Counters: counters,
		Clock:    func() time.Time { return orderTestNow },
		Build: BuildInfo{
			Version:     "1.4.0",
			CommitSHA:   "abc1234",
			Environment: "test",
			StartedAt:   orderTestNow.Add(-90 * time.Minute),
		},
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}
	return svc
}

func TestHealthReportDerivesStatusAndBuildMetadata(t *testing.T) {
	health := &healthStubRepo{report: domain.SystemHealthReport{
		Checks: map[string]domain.SystemHealthCheck{
			"firestore": {Status: domain.HealthStatusOK},
			"pubsub":    {Status: domain.HealthStatusDegraded},
		},
	}}
	svc := newSystemTestService(t, health, &counterStub{})

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected degraded status, got %q", report.Status)
	}
	if report.Version != "1.4.0" || report.Environment != "test" {
		t.Fatalf("expected build metadata filled, got %+v", report)
	}
	if report.Uptime != 90*time.Minute {
		t.Fatalf("expected uptime from start timestamp, got %s", report.Uptime)
	}
	if report.GeneratedAt.IsZero() {
		t.Fatalf("expected generated timestamp")
	}
}

func TestHealthReportFlagsErrors(t *testing.T) {
	health := &healthStubRepo{report: domain.SystemHealthReport{
		Checks: map[string]domain.SystemHealthCheck{
			"firestore": {Status: domain.HealthStatusError, Error: "deadline exceeded"},
		},
	}}
	svc := newSystemTestService(t, health, nil)

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Status != domain.HealthStatusError {
		t.Fatalf("expected error status, got %q", report.Status)
	}

	collectErr := errors.New("collect failed")
	if _, err := newSystemTestService(t, &healthStubRepo{err: collectErr}, nil).HealthReport(context.Background()); !errors.Is(err, collectErr) {
		t.Fatalf("expected collect error propagated, got %v", err)
	}
}

func TestNextCounterValue(t *testing.T) {
	svc := newSystemTestService(t, &healthStubRepo{}, &counterStub{})
	ctx := context.Background()

	value, err := svc.NextCounterValue(ctx, CounterCommand{CounterID: "invoices", Step: 1})
	if err != nil {
		t.Fatalf("NextCounterValue: %v", err)
	}
	if value != 1 {
		t.Fatalf("expected first value 1, got %d", value)
	}

	if _, err := svc.NextCounterValue(ctx, CounterCommand{CounterID: " "}); !errors.Is(err, ErrCounterInvalidInput) {
		t.Fatalf("expected ErrCounterInvalidInput, got %v", err)
	}

	exhausted := newSystemTestService(t, &healthStubRepo{}, &failingCounterStub{
		err: repositories.NewCounterError(repositories.CounterErrorExhausted, "sequence at max", nil),
	})
	if _, err := exhausted.NextCounterValue(ctx, CounterCommand{CounterID: "invoices", Step: 1}); !errors.Is(err, ErrCounterExhausted) {
		t.Fatalf("expected ErrCounterExhausted, got %v", err)
	}
}
