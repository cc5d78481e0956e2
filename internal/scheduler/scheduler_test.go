package scheduler

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type fakeMaintainer struct {
	staleBefore, jobsBefore, inboundBefore time.Time
	failJobs                               bool
}

func (f *fakeMaintainer) RequeueStaleRunningJobs(ctx context.Context, staleBefore time.Time) (int, error) {
	f.staleBefore = staleBefore
	return 1, nil
}

func (f *fakeMaintainer) PurgeFinishedJobs(ctx context.Context, before time.Time) (int, error) {
	f.jobsBefore = before
	if f.failJobs {
		return 0, errors.New("db locked")
	}
	return 2, nil
}

func (f *fakeMaintainer) PurgeInbound(ctx context.Context, before time.Time) (int, error) {
	f.inboundBefore = before
	return 3, nil
}

func TestSchedulerAddJob_InvalidExpression(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	if err := s.AddJob("not a cron", func() {}); err == nil {
		t.Error("expected error for invalid cron expression")
	}
	if err := s.AddJob("*/5 * * * *", func() {}); err != nil {
		t.Errorf("expected valid expression to be accepted, got %v", err)
	}
}

func TestMaintenance_RunOnceCutoffs(t *testing.T) {
	repo := &fakeMaintainer{}
	m := NewMaintenance(repo, WithStaleAfter(time.Minute), WithJobRetention(time.Hour), WithDedupRetention(2*time.Hour))
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	if err := m.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if !repo.staleBefore.Equal(now.Add(-time.Minute)) {
		t.Errorf("unexpected stale cutoff %v", repo.staleBefore)
	}
	if !repo.jobsBefore.Equal(now.Add(-time.Hour)) {
		t.Errorf("unexpected job cutoff %v", repo.jobsBefore)
	}
	if !repo.inboundBefore.Equal(now.Add(-2 * time.Hour)) {
		t.Errorf("unexpected inbound cutoff %v", repo.inboundBefore)
	}
}

func TestMaintenance_RunOnceContinuesPastFailures(t *testing.T) {
	repo := &fakeMaintainer{failJobs: true}
	m := NewMaintenance(repo)

	err := m.RunOnce(context.Background())
	if err == nil || !strings.Contains(err.Error(), "purge finished jobs") {
		t.Fatalf("expected purge error, got %v", err)
	}
	if repo.inboundBefore.IsZero() {
		t.Error("expected inbound purge to run after a failed step")
	}
}

func TestMaintenance_Register(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	m := NewMaintenance(&fakeMaintainer{})
	if err := m.Register(s, ""); err != nil {
		t.Errorf("expected default spec to register, got %v", err)
	}
	if err := m.Register(s, "bad"); err == nil {
		t.Error("expected invalid spec to fail")
	}
}
