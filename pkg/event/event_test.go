package event

import "testing"

func TestNew_InsertRequiresAfterOnly(t *testing.T) {
	_, err := New(Change{Kind: Insert, EntityType: "Order", EntityID: "1"})
	if err == nil {
		t.Errorf("expected error when INSERT has no After")
	}

	c, err := New(Change{
		Kind: Insert, EntityType: "Order", EntityID: "1",
		After: Fields{"status": "READY"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Timestamp.IsZero() {
		t.Errorf("expected New to stamp a timestamp")
	}

	_, err = New(Change{
		Kind: Insert, EntityType: "Order", EntityID: "1",
		After: Fields{"status": "READY"}, Before: Fields{"status": "OLD"},
	})
	if err == nil {
		t.Errorf("expected error when INSERT also sets Before")
	}
}

func TestNew_UpdateRequiresBoth(t *testing.T) {
	_, err := New(Change{
		Kind: Update, EntityType: "Order", EntityID: "1",
		After: Fields{"status": "READY"},
	})
	if err == nil {
		t.Errorf("expected error when UPDATE is missing Before")
	}

	_, err = New(Change{
		Kind: Update, EntityType: "Order", EntityID: "1",
		Before: Fields{"status": "PENDING"}, After: Fields{"status": "READY"},
	})
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNew_DeleteRequiresBeforeOnly(t *testing.T) {
	_, err := New(Change{Kind: Delete, EntityType: "Order", EntityID: "1"})
	if err == nil {
		t.Errorf("expected error when DELETE has no Before")
	}

	_, err = New(Change{
		Kind: Delete, EntityType: "Order", EntityID: "1",
		Before: Fields{"status": "READY"}, After: Fields{"status": "READY"},
	})
	if err == nil {
		t.Errorf("expected error when DELETE also sets After")
	}
}

func TestNew_SnapshotBehavesLikeInsert(t *testing.T) {
	c, err := New(Change{
		Kind: Snapshot, EntityType: "Order", EntityID: "1",
		After: Fields{"status": "READY"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Data()["status"] != "READY" {
		t.Errorf("expected Data() to return After for SNAPSHOT")
	}
}

func TestChange_Data(t *testing.T) {
	del, _ := New(Change{Kind: Delete, EntityType: "Order", EntityID: "1", Before: Fields{"status": "READY"}})
	if del.Data()["status"] != "READY" {
		t.Errorf("expected Data() to fall back to Before when After is nil")
	}
}

func TestNew_RequiresEntityTypeAndID(t *testing.T) {
	if _, err := New(Change{Kind: Insert, After: Fields{"a": 1}}); err == nil {
		t.Errorf("expected error for missing EntityType")
	}
	if _, err := New(Change{Kind: Insert, EntityType: "Order", After: Fields{"a": 1}}); err == nil {
		t.Errorf("expected error for missing EntityID")
	}
}
