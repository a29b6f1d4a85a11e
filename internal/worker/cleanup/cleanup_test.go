package cleanup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

type mockPruner struct {
	called bool
	before time.Time
	count  int64
	err    error
}

func (m *mockPruner) DeleteUpdatedBefore(_ context.Context, before time.Time) (int64, error) {
	m.called = true
	m.before = before
	return m.count, m.err
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func TestNewCleanupJob_DefaultRetention(t *testing.T) {
	var buf bytes.Buffer
	tests := []struct {
		in   int
		want int
	}{
		{0, 30},
		{-1, 30},
		{7, 7},
	}
	for _, tt := range tests {
		job := NewCleanupJob(&mockPruner{}, newTestLogger(&buf), tt.in)
		if job.RetentionDays != tt.want {
			t.Errorf("NewCleanupJob(%d).RetentionDays = %d, want %d", tt.in, job.RetentionDays, tt.want)
		}
	}
}

func TestCleanupJob_Run_DeletesBeforeCutoff(t *testing.T) {
	var buf bytes.Buffer
	pruner := &mockPruner{count: 42}
	job := NewCleanupJob(pruner, newTestLogger(&buf), 30)
	now := time.Date(2025, 3, 1, 3, 0, 0, 0, time.UTC)
	job.now = func() time.Time { return now }

	deleted, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}
	if deleted != 42 {
		t.Errorf("deleted = %d, want 42", deleted)
	}
	want := time.Date(2025, 1, 30, 3, 0, 0, 0, time.UTC)
	if !pruner.before.Equal(want) {
		t.Errorf("cutoff = %v, want %v", pruner.before, want)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("JSONログのパースに失敗: %v", err)
	}
	if entry["deleted_count"] != float64(42) {
		t.Errorf("deleted_count = %v, want 42", entry["deleted_count"])
	}
	if entry["retention_days"] != float64(30) {
		t.Errorf("retention_days = %v, want 30", entry["retention_days"])
	}
}

func TestCleanupJob_Run_Error(t *testing.T) {
	var buf bytes.Buffer
	pruner := &mockPruner{err: errors.New("connection refused")}
	job := NewCleanupJob(pruner, newTestLogger(&buf), 30)

	if _, err := job.Run(context.Background()); err == nil {
		t.Fatal("Run() がエラーを返さなかった")
	}
	if !strings.Contains(buf.String(), "connection refused") {
		t.Errorf("エラーがログに記録されていない: %s", buf.String())
	}
}

func TestCleanupJob_Run_Idempotent(t *testing.T) {
	var buf bytes.Buffer
	job := NewCleanupJob(&mockPruner{}, newTestLogger(&buf), 30)

	for i := 0; i < 2; i++ {
		if _, err := job.Run(context.Background()); err != nil {
			t.Fatalf("%d回目: Run() がエラーを返した: %v", i+1, err)
		}
	}
}

func TestCleanupJob_Schedule(t *testing.T) {
	var buf bytes.Buffer
	job := NewCleanupJob(&mockPruner{}, newTestLogger(&buf), 30)

	stop, err := job.Schedule(time.UTC, "03:00")
	if err != nil {
		t.Fatalf("Schedule() がエラーを返した: %v", err)
	}
	stop()

	if _, err := job.Schedule(time.UTC, "25:99"); err == nil {
		t.Error("不正な時刻でもSchedule()がエラーを返さなかった")
	}
}
