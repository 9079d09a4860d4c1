package fleettools_test

import (
	"context"
	"path/filepath"
	"testing"

	fleettools "github.com/v1truv1us/fleettools-sub002"
)

func TestOpenCreatesFlightline(t *testing.T) {
	ctx := context.Background()
	c, err := fleettools.Open(ctx, t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer c.Close()

	m, err := c.Fleet.CreateMission(ctx, fleettools.CreateMissionRequest{
		Title: "Embedder smoke test",
	})
	if err != nil {
		t.Fatalf("CreateMission failed: %v", err)
	}
	if m.Status != fleettools.MissionPending {
		t.Errorf("new mission status = %q, want %q", m.Status, fleettools.MissionPending)
	}

	got, err := c.Fleet.GetMission(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetMission failed: %v", err)
	}
	if got.Title != "Embedder smoke test" {
		t.Errorf("round-tripped title = %q", got.Title)
	}
}

func TestResolveDataDirPrefersFlag(t *testing.T) {
	tmp := t.TempDir()

	got, err := fleettools.ResolveDataDir(tmp)
	if err != nil {
		t.Fatalf("ResolveDataDir failed: %v", err)
	}
	want, err := filepath.Abs(tmp)
	if err != nil {
		t.Fatalf("Abs failed: %v", err)
	}
	if got != want {
		t.Errorf("ResolveDataDir = %q, want %q", got, want)
	}
}

func TestIsKindClassifiesErrors(t *testing.T) {
	ctx := context.Background()
	c, err := fleettools.Open(ctx, t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer c.Close()

	_, err = c.Fleet.GetMission(ctx, "msn-00000000")
	if err == nil {
		t.Fatal("expected an error for a missing mission")
	}
	if !fleettools.IsKind(err, fleettools.KindNotFound) {
		t.Errorf("KindOf = %q, want %q", fleettools.KindOf(err), fleettools.KindNotFound)
	}
}

// Test that exported constants carry the wire values.
func TestConstants(t *testing.T) {
	if fleettools.MissionPending != "pending" {
		t.Errorf("MissionPending = %q, want %q", fleettools.MissionPending, "pending")
	}
	if fleettools.MissionInProgress != "in_progress" {
		t.Errorf("MissionInProgress = %q, want %q", fleettools.MissionInProgress, "in_progress")
	}
	if fleettools.SortieBlocked != "blocked" {
		t.Errorf("SortieBlocked = %q, want %q", fleettools.SortieBlocked, "blocked")
	}
	if fleettools.SortieFailed != "failed" {
		t.Errorf("SortieFailed = %q, want %q", fleettools.SortieFailed, "failed")
	}
	if fleettools.LockForceReleased != "force_released" {
		t.Errorf("LockForceReleased = %q, want %q", fleettools.LockForceReleased, "force_released")
	}
	if fleettools.PurposeEdit != "edit" {
		t.Errorf("PurposeEdit = %q, want %q", fleettools.PurposeEdit, "edit")
	}
	if fleettools.MessageAcked != "acked" {
		t.Errorf("MessageAcked = %q, want %q", fleettools.MessageAcked, "acked")
	}
	if fleettools.TriggerManual != "manual" {
		t.Errorf("TriggerManual = %q, want %q", fleettools.TriggerManual, "manual")
	}
	if fleettools.StreamSquawk != "squawk" {
		t.Errorf("StreamSquawk = %q, want %q", fleettools.StreamSquawk, "squawk")
	}
	if fleettools.StreamCTK != "ctk" {
		t.Errorf("StreamCTK = %q, want %q", fleettools.StreamCTK, "ctk")
	}
	if fleettools.KindNotFound != "NOT_FOUND" {
		t.Errorf("KindNotFound = %q, want %q", fleettools.KindNotFound, "NOT_FOUND")
	}
	if fleettools.KindOwnership != "OWNERSHIP_ERROR" {
		t.Errorf("KindOwnership = %q, want %q", fleettools.KindOwnership, "OWNERSHIP_ERROR")
	}
}
