package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/northmart/api/internal/domain"
)

func healthyCheck(name string) DependencyCheck {
	return DependencyCheck{
		Name:  name,
		Check: func(context.Context) error { return nil },
	}
}

func TestDependencyHealthRepositoryAllHealthy(t *testing.T) {
	now := time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)
	repo, err := NewDependencyHealthRepository(
		[]DependencyCheck{healthyCheck("firestore"), healthyCheck("pubsub"), healthyCheck("secrets")},
		WithDependencyClock(func() time.Time { return now }),
	)
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}

	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.Status != domain.HealthStatusOK {
		t.Fatalf("expected status ok, got %s", report.Status)
	}
	if len(report.Checks) != 3 {
		t.Fatalf("expected 3 checks, got %d", len(report.Checks))
	}
	for name, check := range report.Checks {
		if check.Status != domain.HealthStatusOK {
			t.Fatalf("check %s: expected ok, got %s", name, check.Status)
		}
		if !check.CheckedAt.Equal(now) {
			t.Fatalf("check %s: expected checkedAt %s, got %s", name, now, check.CheckedAt)
		}
	}
	if !report.GeneratedAt.Equal(now) {
		t.Fatalf("expected generatedAt %s, got %s", now, report.GeneratedAt)
	}
}

func TestDependencyHealthRepositoryDegradedDependency(t *testing.T) {
	probeErr := errors.New("firestore: connection refused")
	repo, err := NewDependencyHealthRepository([]DependencyCheck{
		{Name: "firestore", Check: func(context.Context) error { return probeErr }},
		healthyCheck("pubsub"),
	})
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}

	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected degraded report, got %s", report.Status)
	}
	check := report.Checks["firestore"]
	if check.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected firestore degraded, got %s", check.Status)
	}
	if check.Error != probeErr.Error() {
		t.Fatalf("expected error %q, got %q", probeErr.Error(), check.Error)
	}
	if report.Checks["pubsub"].Status != domain.HealthStatusOK {
		t.Fatalf("expected pubsub ok, got %s", report.Checks["pubsub"].Status)
	}
}

func TestDependencyHealthRepositorySlowDependencyTimesOut(t *testing.T) {
	repo, err := NewDependencyHealthRepository([]DependencyCheck{
		{
			Name:    "secrets",
			Timeout: 5 * time.Millisecond,
			Check: func(ctx context.Context) error {
				select {
				case <-time.After(50 * time.Millisecond):
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			},
		},
	})
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}

	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.Status != domain.HealthStatusError {
		t.Fatalf("expected error report, got %s", report.Status)
	}
	check := report.Checks["secrets"]
	if check.Detail != "timeout" {
		t.Fatalf("expected detail timeout, got %s", check.Detail)
	}
}

func TestNewDependencyHealthRepositoryRejectsBadChecks(t *testing.T) {
	cases := []struct {
		name   string
		checks []DependencyCheck
	}{
		{name: "empty set", checks: nil},
		{name: "blank name", checks: []DependencyCheck{{Name: "  ", Check: func(context.Context) error { return nil }}}},
		{name: "nil check func", checks: []DependencyCheck{{Name: "firestore"}}},
		{name: "duplicate name", checks: []DependencyCheck{healthyCheck("firestore"), healthyCheck("firestore")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewDependencyHealthRepository(tc.checks); err == nil {
				t.Fatal("expected constructor error")
			}
		})
	}
}
