package healthcheck

import (
	"context"
	"testing"
)

type testChecker struct {
	items []CheckResult
}

func (c *testChecker) ListChecks(ctx context.Context) []CheckResult {
	return c.items
}

func TestRunRatesByWorstItem(t *testing.T) {
	t.Parallel()

	report := Run(context.Background(),
		&testChecker{items: []CheckResult{{ID: "session.login.1", Status: StatusOK}}},
		nil,
		&testChecker{items: []CheckResult{
			{ID: "media.transcoder", Status: StatusWarn},
			{ID: "session.login.2", Status: StatusOK},
		}},
	)
	if report.Status != StatusWarn {
		t.Fatalf("unexpected status: %s", report.Status)
	}
	if len(report.Checks) != 3 {
		t.Fatalf("expected 3 items, got %d", len(report.Checks))
	}
	if !report.Healthy() {
		t.Fatal("warnings should not make the report unhealthy")
	}
}

func TestRunErrorIsUnhealthy(t *testing.T) {
	t.Parallel()

	report := Run(context.Background(), &testChecker{items: []CheckResult{
		{ID: "a", Status: StatusError},
		{ID: "b", Status: StatusWarn},
	}})
	if report.Status != StatusError || report.Healthy() {
		t.Fatalf("expected unhealthy error report, got %+v", report)
	}
}

func TestRunWithoutCheckers(t *testing.T) {
	t.Parallel()

	report := Run(context.Background())
	if report.Status != StatusOK {
		t.Fatalf("unexpected status: %s", report.Status)
	}
	if report.Checks == nil {
		t.Fatal("checks should be an empty slice for JSON output")
	}
}
