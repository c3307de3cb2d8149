package reports

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kausaltech/kausal-watch-sub001/internal/store"
)

type fakeStore struct {
	getReportFn               func(context.Context, string) (store.Report, error)
	getReportTypeFn           func(context.Context, string) (store.ReportType, error)
	listReportsFn             func(context.Context, string) ([]store.Report, error)
	setReportCompleteFn       func(context.Context, string, bool, []store.ReportField) error
	getActionFn               func(context.Context, string) (store.Action, error)
	listActionsFn             func(context.Context, string) ([]store.Action, error)
	getActionSnapshotFn       func(context.Context, string, string) (store.ActionSnapshot, error)
	listActionSnapshotsFn     func(context.Context, string) ([]store.ActionSnapshot, error)
	deleteActionSnapshotFn    func(context.Context, string) error
	deleteImplicitSnapshotsFn func(context.Context, string) (int, error)
	getVersionFn              func(context.Context, string) (store.Version, error)
}

func (f *fakeStore) GetReport(ctx context.Context, id string) (store.Report, error) {
	if f.getReportFn != nil {
		return f.getReportFn(ctx, id)
	}
	return store.Report{}, store.ErrNotFound
}
func (f *fakeStore) GetReportType(ctx context.Context, id string) (store.ReportType, error) {
	if f.getReportTypeFn != nil {
		return f.getReportTypeFn(ctx, id)
	}
	return store.ReportType{}, store.ErrNotFound
}
func (f *fakeStore) ListReports(ctx context.Context, typeID string) ([]store.Report, error) {
	if f.listReportsFn != nil {
		return f.listReportsFn(ctx, typeID)
	}
	return nil, nil
}
func (f *fakeStore) SetReportComplete(ctx context.Context, id string, complete bool, fields []store.ReportField) error {
	if f.setReportCompleteFn != nil {
		return f.setReportCompleteFn(ctx, id, complete, fields)
	}
	return nil
}
func (f *fakeStore) GetAction(ctx context.Context, id string) (store.Action, error) {
	if f.getActionFn != nil {
		return f.getActionFn(ctx, id)
	}
	return store.Action{ID: id}, nil
}
func (f *fakeStore) ListActions(ctx context.Context, planID string) ([]store.Action, error) {
	if f.listActionsFn != nil {
		return f.listActionsFn(ctx, planID)
	}
	return nil, nil
}
func (f *fakeStore) GetActionSnapshot(ctx context.Context, reportID, actionID string) (store.ActionSnapshot, error) {
	if f.getActionSnapshotFn != nil {
		return f.getActionSnapshotFn(ctx, reportID, actionID)
	}
	return store.ActionSnapshot{}, store.ErrNotFound
}
func (f *fakeStore) ListActionSnapshots(ctx context.Context, reportID string) ([]store.ActionSnapshot, error) {
	if f.listActionSnapshotsFn != nil {
		return f.listActionSnapshotsFn(ctx, reportID)
	}
	return nil, nil
}
func (f *fakeStore) DeleteActionSnapshot(ctx context.Context, id string) error {
	if f.deleteActionSnapshotFn != nil {
		return f.deleteActionSnapshotFn(ctx, id)
	}
	return nil
}
func (f *fakeStore) DeleteImplicitSnapshots(ctx context.Context, reportID string) (int, error) {
	if f.deleteImplicitSnapshotsFn != nil {
		return f.deleteImplicitSnapshotsFn(ctx, reportID)
	}
	return 0, nil
}
func (f *fakeStore) GetVersion(ctx context.Context, id string) (store.Version, error) {
	if f.getVersionFn != nil {
		return f.getVersionFn(ctx, id)
	}
	return store.Version{}, store.ErrNotFound
}
func (f *fakeStore) GetRevision(context.Context, string) (store.Revision, error) {
	return store.Revision{}, nil
}
func (f *fakeStore) GetUser(context.Context, string) (store.User, error) {
	return store.User{}, nil
}
func (f *fakeStore) ListImplementationPhases(context.Context, string) ([]store.ImplementationPhase, error) {
	return nil, nil
}
func (f *fakeStore) ListAttributeTypes(context.Context, string) ([]store.AttributeType, error) {
	return nil, nil
}
func (f *fakeStore) ListAttributeChoices(context.Context, string) ([]store.AttributeChoice, error) {
	return nil, nil
}
func (f *fakeStore) ListCategoryTypes(context.Context, string) ([]store.CategoryType, error) {
	return nil, nil
}
func (f *fakeStore) ListCategories(context.Context, string) ([]store.Category, error) {
	return nil, nil
}
func (f *fakeStore) ListAttributesForPlanActions(context.Context, string) ([]store.Attribute, error) {
	return nil, nil
}
func (f *fakeStore) ListResponsiblePartiesForPlan(context.Context, string) ([]store.ActionResponsibleParty, error) {
	return nil, nil
}
func (f *fakeStore) ListOrganizationsByPathPrefix(context.Context, string) ([]store.Organization, error) {
	return nil, nil
}

type fakeSnapshotter struct {
	calls []struct {
		actionID string
		reportID string
		explicit bool
		comment  string
	}
	err error
}

func (f *fakeSnapshotter) SnapshotAction(_ context.Context, _ *string, comment string, action store.Action, reportID string, explicit bool) (store.ActionSnapshot, error) {
	if f.err != nil {
		return store.ActionSnapshot{}, f.err
	}
	f.calls = append(f.calls, struct {
		actionID string
		reportID string
		explicit bool
		comment  string
	}{action.ID, reportID, explicit, comment})
	return store.ActionSnapshot{ID: "snap_new", ReportID: reportID, ActionID: action.ID, CreatedExplicitly: explicit}, nil
}

func openReport() func(context.Context, string) (store.Report, error) {
	return func(_ context.Context, id string) (store.Report, error) {
		return store.Report{ID: id, TypeID: "rt_1"}, nil
	}
}

func TestMarkActionCompleteRefusesSecondCall(t *testing.T) {
	existing := map[string]bool{}
	fake := &fakeStore{
		getReportFn: openReport(),
		getActionSnapshotFn: func(_ context.Context, reportID, actionID string) (store.ActionSnapshot, error) {
			if existing[reportID+"/"+actionID] {
				return store.ActionSnapshot{ID: "snap_1"}, nil
			}
			return store.ActionSnapshot{}, store.ErrNotFound
		},
	}
	snaps := &fakeSnapshotter{}
	svc := NewService(fake, snaps)

	snap, err := svc.MarkActionComplete(context.Background(), nil, "action_1", "report_1")
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	if !snap.CreatedExplicitly {
		t.Error("explicit completion should set created_explicitly")
	}
	existing["report_1/action_1"] = true

	if _, err := svc.MarkActionComplete(context.Background(), nil, "action_1", "report_1"); !errors.Is(err, ErrAlreadyComplete) {
		t.Errorf("second call: got %v, want ErrAlreadyComplete", err)
	}
	if len(snaps.calls) != 1 {
		t.Errorf("snapshotter called %d times, want 1", len(snaps.calls))
	}
	if snaps.calls[0].comment != "Marked action as complete" {
		t.Errorf("revision comment = %q", snaps.calls[0].comment)
	}
}

func TestMarkActionCompleteRefusesOnCompleteReport(t *testing.T) {
	fake := &fakeStore{
		getReportFn: func(_ context.Context, id string) (store.Report, error) {
			return store.Report{ID: id, IsComplete: true}, nil
		},
	}
	svc := NewService(fake, &fakeSnapshotter{})

	if _, err := svc.MarkActionComplete(context.Background(), nil, "action_1", "report_1"); !errors.Is(err, ErrReportComplete) {
		t.Errorf("got %v, want ErrReportComplete", err)
	}
}

func TestUndoMarkActionComplete(t *testing.T) {
	var deleted []string
	snapshots := []store.ActionSnapshot{}
	fake := &fakeStore{
		getReportFn: openReport(),
		listActionSnapshotsFn: func(_ context.Context, _ string) ([]store.ActionSnapshot, error) {
			return snapshots, nil
		},
		deleteActionSnapshotFn: func(_ context.Context, id string) error {
			deleted = append(deleted, id)
			return nil
		},
	}
	svc := NewService(fake, &fakeSnapshotter{})

	if err := svc.UndoMarkActionComplete(context.Background(), "action_1", "report_1"); !errors.Is(err, ErrNotComplete) {
		t.Errorf("no snapshot: got %v, want ErrNotComplete", err)
	}

	snapshots = []store.ActionSnapshot{{ID: "snap_1", ActionID: "action_1"}}
	if err := svc.UndoMarkActionComplete(context.Background(), "action_1", "report_1"); err != nil {
		t.Fatalf("single snapshot: %v", err)
	}
	if len(deleted) != 1 || deleted[0] != "snap_1" {
		t.Errorf("deleted %v, want [snap_1]", deleted)
	}

	snapshots = []store.ActionSnapshot{
		{ID: "snap_1", ActionID: "action_1"},
		{ID: "snap_2", ActionID: "action_1"},
	}
	if err := svc.UndoMarkActionComplete(context.Background(), "action_1", "report_1"); !errors.Is(err, ErrAmbiguousUndo) {
		t.Errorf("two snapshots: got %v, want ErrAmbiguousUndo", err)
	}
}

func TestMarkReportCompleteSnapshotsRemainder(t *testing.T) {
	merged := "action_other"
	typeFields := []store.ReportField{{Kind: FieldImplementationPhase}}
	var frozen []store.ReportField
	fake := &fakeStore{
		getReportFn: openReport(),
		getReportTypeFn: func(_ context.Context, id string) (store.ReportType, error) {
			return store.ReportType{ID: id, PlanID: "plan_1", Fields: typeFields}, nil
		},
		listActionsFn: func(_ context.Context, _ string) ([]store.Action, error) {
			return []store.Action{
				{ID: "action_1", Identifier: "a1"},
				{ID: "action_2", Identifier: "a2"},
				{ID: "action_3", Identifier: "a3", MergedWithID: &merged},
			}, nil
		},
		listActionSnapshotsFn: func(_ context.Context, _ string) ([]store.ActionSnapshot, error) {
			return []store.ActionSnapshot{{ID: "snap_1", ActionID: "action_1", CreatedExplicitly: true}}, nil
		},
		setReportCompleteFn: func(_ context.Context, _ string, complete bool, fields []store.ReportField) error {
			if !complete {
				t.Error("report should be marked complete")
			}
			frozen = fields
			return nil
		},
	}
	snaps := &fakeSnapshotter{}
	svc := NewService(fake, snaps)

	if err := svc.MarkReportComplete(context.Background(), nil, "report_1"); err != nil {
		t.Fatalf("mark complete: %v", err)
	}
	if len(snaps.calls) != 1 {
		t.Fatalf("snapshotter called %d times, want 1 (only the un-snapshotted active action)", len(snaps.calls))
	}
	call := snaps.calls[0]
	if call.actionID != "action_2" || call.explicit {
		t.Errorf("got snapshot of %s explicit=%v, want implicit action_2", call.actionID, call.explicit)
	}
	if len(frozen) != 1 || frozen[0].Kind != FieldImplementationPhase {
		t.Errorf("field schema not copied onto report: %v", frozen)
	}
}

func TestUndoMarkReportComplete(t *testing.T) {
	var clearedImplicit bool
	fake := &fakeStore{
		getReportFn: func(_ context.Context, id string) (store.Report, error) {
			return store.Report{ID: id, IsComplete: true}, nil
		},
		deleteImplicitSnapshotsFn: func(_ context.Context, _ string) (int, error) {
			clearedImplicit = true
			return 2, nil
		},
		setReportCompleteFn: func(_ context.Context, _ string, complete bool, fields []store.ReportField) error {
			if complete {
				t.Error("undo should clear the complete flag")
			}
			return nil
		},
	}
	svc := NewService(fake, &fakeSnapshotter{})

	if err := svc.UndoMarkReportComplete(context.Background(), "report_1"); err != nil {
		t.Fatalf("undo: %v", err)
	}
	if !clearedImplicit {
		t.Error("undo should delete implicit snapshots")
	}
}

func TestCompareReportsOrdersAndLimits(t *testing.T) {
	reports := []store.Report{
		{ID: "r2020", TypeID: "rt_1", StartDate: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)},
		{ID: "r2022", TypeID: "rt_1", StartDate: time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)},
		{ID: "r2021", TypeID: "rt_1", StartDate: time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	fake := &fakeStore{
		getReportTypeFn: func(_ context.Context, id string) (store.ReportType, error) {
			return store.ReportType{ID: id, PlanID: "plan_1"}, nil
		},
		listReportsFn: func(_ context.Context, _ string) ([]store.Report, error) {
			return reports, nil
		},
	}
	svc := NewService(fake, &fakeSnapshotter{})
	block := &implementationPhaseBlock{}

	out, err := svc.CompareReports(context.Background(), block, "action_1", "rt_1", 2)
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d values, want 2", len(out))
	}
	if out[0].Report.ID != "r2022" || out[1].Report.ID != "r2021" {
		t.Errorf("order: got %s, %s; want newest first", out[0].Report.ID, out[1].Report.ID)
	}
	for _, v := range out {
		if !v.Provisional {
			t.Error("actions without snapshots should be provisional")
		}
	}
}
