package revisions

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/kausaltech/kausal-watch-sub001/internal/store"
)

func sampleAction() store.Action {
	phase := "phase_1"
	return store.Action{
		ID:                    "action_1",
		UUID:                  "8b5f2a90-0000-0000-0000-000000000001",
		PlanID:                "plan_1",
		Identifier:            "a1",
		Name:                  "Reduce emissions",
		Status:                "on_time",
		ImplementationPhaseID: &phase,
		Visibility:            store.VisibilityPublic,
		CreatedAt:             time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt:             time.Date(2023, 6, 15, 12, 0, 0, 0, time.UTC),
	}
}

func TestActionVersionRoundTrip(t *testing.T) {
	sc := &Scope{revisionID: "rev_1"}
	original := sampleAction()

	versionID, err := sc.TouchAction(original)
	if err != nil {
		t.Fatalf("touch: %v", err)
	}
	if versionID == "" {
		t.Fatal("touch should return the version id")
	}
	if len(sc.versions) != 1 {
		t.Fatalf("scope holds %d versions, want 1", len(sc.versions))
	}

	restored, err := DecodeActionVersion(sc.versions[0])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(restored, original) {
		t.Errorf("round trip changed the action:\n got %+v\nwant %+v", restored, original)
	}
}

func TestVersionDataIsFullFieldDict(t *testing.T) {
	sc := &Scope{revisionID: "rev_1"}
	if _, err := sc.TouchAction(sampleAction()); err != nil {
		t.Fatalf("touch: %v", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(sc.versions[0].Data, &fields); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"id", "identifier", "name", "status", "updated_at", "merged_with_id"} {
		if _, ok := fields[key]; !ok {
			t.Errorf("version data missing field %q", key)
		}
	}
	// Null relations stay present, not omitted.
	if v, ok := fields["merged_with_id"]; !ok || v != nil {
		t.Errorf("merged_with_id = %v, want explicit null", v)
	}
}

func TestDecodeRejectsWrongEntityType(t *testing.T) {
	v := store.Version{EntityType: "indicator", Data: []byte(`{}`)}
	if _, err := DecodeActionVersion(v); err == nil {
		t.Error("expected error for non-action version")
	}
}

func TestScopePreservesTouchOrder(t *testing.T) {
	sc := &Scope{revisionID: "rev_1"}
	for _, id := range []string{"action_1", "action_2", "action_3"} {
		a := sampleAction()
		a.ID = id
		if _, err := sc.TouchAction(a); err != nil {
			t.Fatalf("touch %s: %v", id, err)
		}
	}
	for i, want := range []string{"action_1", "action_2", "action_3"} {
		if sc.versions[i].EntityID != want {
			t.Errorf("version %d is %s, want %s", i, sc.versions[i].EntityID, want)
		}
	}
}
