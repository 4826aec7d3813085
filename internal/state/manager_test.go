package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const prod = "prod.example.com:22:/var/www"

func newManager(t *testing.T) *Manager {
	t.Helper()
	manager, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	t.Cleanup(func() { manager.Close() })
	return manager
}

func TestNewManager(t *testing.T) {
	tmpDir := t.TempDir()

	manager, err := NewManager(tmpDir)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	defer manager.Close()

	if manager.db == nil {
		t.Error("Database connection is nil")
	}

	dbPath := filepath.Join(tmpDir, DBName)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}
}

func TestNewManager_EmptyDir(t *testing.T) {
	_, err := NewManager("")
	if err == nil {
		t.Error("Expected error for empty directory, got nil")
	}
}

func TestSaveAndGetRun(t *testing.T) {
	manager := newManager(t)

	record := RunRecord{
		Kind:      KindSync,
		Source:    "test.example.com:22:/srv/app",
		Target:    prod,
		StartTime: time.Now().Add(-10 * time.Minute),
		EndTime:   time.Now(),
		Status:    StatusPartial,
		Copied:    10,
		Deleted:   2,
		Warnings:  1,
		Summary:   "10 copied, 2 deleted, 0 dirs created, 0 dirs removed, 1 warnings",
	}

	id, err := manager.SaveRun(record)
	if err != nil {
		t.Fatalf("Failed to save run: %v", err)
	}
	if id == "" {
		t.Fatal("Expected a generated id")
	}

	history, err := manager.History(prod, 10)
	if err != nil {
		t.Fatalf("Failed to get history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(history))
	}

	got := history[0]
	if got.ID != id {
		t.Errorf("Expected id %s, got %s", id, got.ID)
	}
	if got.Kind != KindSync || got.Status != StatusPartial {
		t.Errorf("Unexpected kind/status %s/%s", got.Kind, got.Status)
	}
	if got.Copied != 10 || got.Deleted != 2 || got.Warnings != 1 {
		t.Errorf("Unexpected counters %+v", got)
	}
	if got.Source != record.Source || got.Summary != record.Summary {
		t.Errorf("Unexpected source/summary %q %q", got.Source, got.Summary)
	}
	if got.Duration() < 9*time.Minute {
		t.Errorf("Expected ~10m duration, got %v", got.Duration())
	}
}

func TestSaveRun_KeepsExplicitID(t *testing.T) {
	manager := newManager(t)
	now := time.Now()

	id, err := manager.SaveRun(RunRecord{ID: "fixed", Kind: KindBackup, Target: prod, StartTime: now, EndTime: now, Status: StatusSuccess})
	if err != nil {
		t.Fatalf("Failed to save run: %v", err)
	}
	if id != "fixed" {
		t.Errorf("Expected id 'fixed', got %s", id)
	}

	if _, err := manager.SaveRun(RunRecord{ID: "fixed", Kind: KindBackup, Target: prod, StartTime: now, EndTime: now, Status: StatusSuccess}); err == nil {
		t.Error("Expected duplicate id to fail")
	}
}

func TestLastSuccess(t *testing.T) {
	manager := newManager(t)
	base := time.Now().Add(-time.Hour)

	records := []RunRecord{
		{Kind: KindSync, Target: prod, StartTime: base, EndTime: base.Add(time.Minute), Status: StatusSuccess, Copied: 1},
		{Kind: KindSync, Target: prod, StartTime: base.Add(10 * time.Minute), EndTime: base.Add(11 * time.Minute), Status: StatusSuccess, Copied: 2},
		{Kind: KindSync, Target: prod, StartTime: base.Add(20 * time.Minute), EndTime: base.Add(21 * time.Minute), Status: StatusFailed, Error: "connect PROD: timeout"},
		{Kind: KindCompare, Target: prod, StartTime: base.Add(30 * time.Minute), EndTime: base.Add(31 * time.Minute), Status: StatusSuccess},
	}
	for _, r := range records {
		if _, err := manager.SaveRun(r); err != nil {
			t.Fatalf("Failed to save run: %v", err)
		}
	}

	last, err := manager.LastSuccess(KindSync, prod)
	if err != nil {
		t.Fatalf("Failed to get last success: %v", err)
	}
	if last == nil {
		t.Fatal("Expected a successful run")
	}
	if last.Copied != 2 {
		t.Errorf("Expected the newer successful sync, got %+v", last)
	}
}

func TestLastSuccess_None(t *testing.T) {
	manager := newManager(t)
	now := time.Now()
	if _, err := manager.SaveRun(RunRecord{Kind: KindSync, Target: prod, StartTime: now, EndTime: now, Status: StatusFailed}); err != nil {
		t.Fatalf("Failed to save run: %v", err)
	}

	last, err := manager.LastSuccess(KindSync, prod)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if last != nil {
		t.Errorf("Expected nil, got %+v", last)
	}
}

func TestAllHistory(t *testing.T) {
	manager := newManager(t)
	base := time.Now().Add(-time.Hour)

	for i, target := range []string{prod, "other:22:/srv", prod} {
		start := base.Add(time.Duration(i) * time.Minute)
		if _, err := manager.SaveRun(RunRecord{Kind: KindCompare, Target: target, StartTime: start, EndTime: start, Status: StatusSuccess}); err != nil {
			t.Fatalf("Failed to save run: %v", err)
		}
	}

	all, err := manager.AllHistory(10)
	if err != nil {
		t.Fatalf("Failed to get all history: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(all))
	}
	if !all[0].StartTime.After(all[2].StartTime) {
		t.Error("Expected newest first")
	}

	onlyProd, err := manager.History(prod, 10)
	if err != nil {
		t.Fatalf("Failed to get history: %v", err)
	}
	if len(onlyProd) != 2 {
		t.Errorf("Expected 2 records for %s, got %d", prod, len(onlyProd))
	}
}

func TestHistory_Limit(t *testing.T) {
	manager := newManager(t)
	base := time.Now()
	for i := 0; i < 5; i++ {
		start := base.Add(time.Duration(i) * time.Second)
		if _, err := manager.SaveRun(RunRecord{Kind: KindSync, Target: prod, StartTime: start, EndTime: start, Status: StatusSuccess}); err != nil {
			t.Fatalf("Failed to save run: %v", err)
		}
	}

	history, err := manager.History(prod, 3)
	if err != nil {
		t.Fatalf("Failed to get history: %v", err)
	}
	if len(history) != 3 {
		t.Errorf("Expected 3 records, got %d", len(history))
	}
}

func TestSaveRun_Invalid(t *testing.T) {
	manager := newManager(t)
	now := time.Now()

	cases := map[string]RunRecord{
		"status": {Kind: KindSync, Target: prod, StartTime: now, EndTime: now, Status: "done"},
		"kind":   {Kind: "deploy", Target: prod, StartTime: now, EndTime: now, Status: StatusSuccess},
		"target": {Kind: KindSync, StartTime: now, EndTime: now, Status: StatusSuccess},
	}
	for name, r := range cases {
		if _, err := manager.SaveRun(r); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestHistory_InvalidLimit(t *testing.T) {
	manager := newManager(t)

	if _, err := manager.History(prod, 0); err == nil {
		t.Error("Expected error for zero limit")
	}
	if _, err := manager.AllHistory(-1); err == nil {
		t.Error("Expected error for negative limit")
	}
}
