package reports

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/kausaltech/kausal-watch-sub001/internal/revisions"
	"github.com/kausaltech/kausal-watch-sub001/internal/store"
)

var (
	ErrAlreadyComplete = errors.New("already marked as complete")
	ErrNotComplete     = errors.New("not marked as complete")
	ErrReportComplete  = errors.New("report is complete and immutable")
	ErrAmbiguousUndo   = errors.New("more than one snapshot exists")
)

// dataStore is the slice of the entity store the reporting engine needs.
type dataStore interface {
	GetReport(ctx context.Context, reportID string) (store.Report, error)
	GetReportType(ctx context.Context, typeID string) (store.ReportType, error)
	ListReports(ctx context.Context, typeID string) ([]store.Report, error)
	SetReportComplete(ctx context.Context, reportID string, complete bool, fields []store.ReportField) error
	GetAction(ctx context.Context, actionID string) (store.Action, error)
	ListActions(ctx context.Context, planID string) ([]store.Action, error)
	GetActionSnapshot(ctx context.Context, reportID, actionID string) (store.ActionSnapshot, error)
	ListActionSnapshots(ctx context.Context, reportID string) ([]store.ActionSnapshot, error)
	DeleteActionSnapshot(ctx context.Context, snapshotID string) error
	DeleteImplicitSnapshots(ctx context.Context, reportID string) (int, error)
	GetVersion(ctx context.Context, versionID string) (store.Version, error)
	GetRevision(ctx context.Context, revisionID string) (store.Revision, error)
	GetUser(ctx context.Context, userID string) (store.User, error)
	ListImplementationPhases(ctx context.Context, planID string) ([]store.ImplementationPhase, error)
	ListAttributeTypes(ctx context.Context, planID string) ([]store.AttributeType, error)
	ListAttributeChoices(ctx context.Context, typeID string) ([]store.AttributeChoice, error)
	ListCategoryTypes(ctx context.Context, planID string) ([]store.CategoryType, error)
	ListCategories(ctx context.Context, typeID string) ([]store.Category, error)
	ListAttributesForPlanActions(ctx context.Context, planID string) ([]store.Attribute, error)
	ListResponsiblePartiesForPlan(ctx context.Context, planID string) ([]store.ActionResponsibleParty, error)
	ListOrganizationsByPathPrefix(ctx context.Context, prefix string) ([]store.Organization, error)
}

// snapshotter records versioned action states; implemented by the
// revision service.
type snapshotter interface {
	SnapshotAction(ctx context.Context, userID *string, comment string, action store.Action, reportID string, explicit bool) (store.ActionSnapshot, error)
}

type Service struct {
	store dataStore
	snaps snapshotter
}

func NewService(s dataStore, snaps snapshotter) *Service {
	return &Service{store: s, snaps: snaps}
}

// MarkActionComplete snapshots one action for a report. Refuses when the
// report is complete or the action already has a snapshot there.
func (s *Service) MarkActionComplete(ctx context.Context, userID *string, actionID, reportID string) (store.ActionSnapshot, error) {
	report, err := s.store.GetReport(ctx, reportID)
	if err != nil {
		return store.ActionSnapshot{}, err
	}
	if report.IsComplete {
		return store.ActionSnapshot{}, ErrReportComplete
	}
	if _, err := s.store.GetActionSnapshot(ctx, reportID, actionID); err == nil {
		return store.ActionSnapshot{}, ErrAlreadyComplete
	} else if !errors.Is(err, store.ErrNotFound) {
		return store.ActionSnapshot{}, err
	}
	action, err := s.store.GetAction(ctx, actionID)
	if err != nil {
		return store.ActionSnapshot{}, err
	}
	return s.snaps.SnapshotAction(ctx, userID, "Marked action as complete", action, reportID, true)
}

// UndoMarkActionComplete deletes the action's snapshot for the report.
// Refuses when no snapshot exists or the state is ambiguous.
func (s *Service) UndoMarkActionComplete(ctx context.Context, actionID, reportID string) error {
	report, err := s.store.GetReport(ctx, reportID)
	if err != nil {
		return err
	}
	if report.IsComplete {
		return ErrReportComplete
	}
	snaps, err := s.store.ListActionSnapshots(ctx, reportID)
	if err != nil {
		return err
	}
	matches := snaps[:0:0]
	for _, sn := range snaps {
		if sn.ActionID == actionID {
			matches = append(matches, sn)
		}
	}
	switch len(matches) {
	case 0:
		return ErrNotComplete
	case 1:
		return s.store.DeleteActionSnapshot(ctx, matches[0].ID)
	default:
		return ErrAmbiguousUndo
	}
}

// MarkReportComplete snapshots every active action that has no snapshot
// yet, copies the type's field schema onto the report and freezes it.
func (s *Service) MarkReportComplete(ctx context.Context, userID *string, reportID string) error {
	report, err := s.store.GetReport(ctx, reportID)
	if err != nil {
		return err
	}
	if report.IsComplete {
		return ErrReportComplete
	}
	reportType, err := s.store.GetReportType(ctx, report.TypeID)
	if err != nil {
		return err
	}
	actions, err := s.store.ListActions(ctx, reportType.PlanID)
	if err != nil {
		return err
	}
	snaps, err := s.store.ListActionSnapshots(ctx, reportID)
	if err != nil {
		return err
	}
	hasSnapshot := make(map[string]bool, len(snaps))
	for _, sn := range snaps {
		hasSnapshot[sn.ActionID] = true
	}
	for _, action := range actions {
		if !action.IsActive() || hasSnapshot[action.ID] {
			continue
		}
		if _, err := s.snaps.SnapshotAction(ctx, userID, "Marked report as complete", action, reportID, false); err != nil {
			return fmt.Errorf("snapshot action %s: %w", action.Identifier, err)
		}
	}
	return s.store.SetReportComplete(ctx, reportID, true, reportType.Fields)
}

// UndoMarkReportComplete reopens a report: clears the complete flag and
// removes only the snapshots created implicitly by completion.
func (s *Service) UndoMarkReportComplete(ctx context.Context, reportID string) error {
	report, err := s.store.GetReport(ctx, reportID)
	if err != nil {
		return err
	}
	if !report.IsComplete {
		return ErrNotComplete
	}
	if _, err := s.store.DeleteImplicitSnapshots(ctx, reportID); err != nil {
		return err
	}
	return s.store.SetReportComplete(ctx, reportID, false, nil)
}

// FieldsForReport returns the schema the report renders with: its own
// frozen copy once complete, else the type's live schema.
func (s *Service) FieldsForReport(ctx context.Context, report store.Report) ([]store.ReportField, error) {
	if report.IsComplete && report.Fields != nil {
		return report.Fields, nil
	}
	reportType, err := s.store.GetReportType(ctx, report.TypeID)
	if err != nil {
		return nil, err
	}
	return reportType.Fields, nil
}

// ComparedValue is one report's value for a field and action.
type ComparedValue struct {
	Report      store.Report
	Value       string
	Provisional bool
}

// CompareReports evaluates a field block over the same action across the
// n most recent reports of the type, newest first.
func (s *Service) CompareReports(ctx context.Context, block FieldBlock, actionID, typeID string, n int) ([]ComparedValue, error) {
	reportType, err := s.store.GetReportType(ctx, typeID)
	if err != nil {
		return nil, err
	}
	all, err := s.store.ListReports(ctx, typeID)
	if err != nil {
		return nil, err
	}
	sort.Slice(all, func(i, j int) bool { return all[i].StartDate.After(all[j].StartDate) })
	if n > 0 && len(all) > n {
		all = all[:n]
	}
	data, err := s.LoadFieldData(ctx, reportType.PlanID)
	if err != nil {
		return nil, err
	}

	out := make([]ComparedValue, 0, len(all))
	for _, report := range all {
		snap, err := s.store.GetActionSnapshot(ctx, report.ID, actionID)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				return nil, err
			}
			action, err := s.store.GetAction(ctx, actionID)
			if err != nil {
				return nil, err
			}
			out = append(out, ComparedValue{
				Report:      report,
				Value:       block.ValueForAction(action, data),
				Provisional: true,
			})
			continue
		}
		version, err := s.store.GetVersion(ctx, snap.ActionVersionID)
		if err != nil {
			return nil, err
		}
		restored, err := revisions.DecodeActionVersion(version)
		if err != nil {
			return nil, err
		}
		out = append(out, ComparedValue{
			Report: report,
			Value:  block.ValueForSnapshot(restored, data),
		})
	}
	return out, nil
}

// LoadFieldData prefetches everything the field blocks read, one query
// per collection.
func (s *Service) LoadFieldData(ctx context.Context, planID string) (*FieldData, error) {
	data := &FieldData{
		Phases:             map[string]store.ImplementationPhase{},
		AttributeTypes:     map[string]store.AttributeType{},
		Choices:            map[string]store.AttributeChoice{},
		Categories:         map[string]store.Category{},
		ActionAttributes:   map[string][]store.Attribute{},
		ResponsibleParties: map[string][]store.ActionResponsibleParty{},
		Organizations:      map[string]store.Organization{},
	}

	phases, err := s.store.ListImplementationPhases(ctx, planID)
	if err != nil {
		return nil, err
	}
	for _, p := range phases {
		data.Phases[p.ID] = p
	}

	attrTypes, err := s.store.ListAttributeTypes(ctx, planID)
	if err != nil {
		return nil, err
	}
	for _, at := range attrTypes {
		data.AttributeTypes[at.ID] = at
		choices, err := s.store.ListAttributeChoices(ctx, at.ID)
		if err != nil {
			return nil, err
		}
		for _, c := range choices {
			data.Choices[c.ID] = c
		}
	}

	catTypes, err := s.store.ListCategoryTypes(ctx, planID)
	if err != nil {
		return nil, err
	}
	for _, ct := range catTypes {
		cats, err := s.store.ListCategories(ctx, ct.ID)
		if err != nil {
			return nil, err
		}
		for _, c := range cats {
			data.Categories[c.ID] = c
		}
	}

	attrs, err := s.store.ListAttributesForPlanActions(ctx, planID)
	if err != nil {
		return nil, err
	}
	for _, a := range attrs {
		data.ActionAttributes[a.TargetID] = append(data.ActionAttributes[a.TargetID], a)
	}

	parties, err := s.store.ListResponsiblePartiesForPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	for _, rp := range parties {
		data.ResponsibleParties[rp.ActionID] = append(data.ResponsibleParties[rp.ActionID], rp)
	}

	orgs, err := s.store.ListOrganizationsByPathPrefix(ctx, "")
	if err != nil {
		return nil, err
	}
	for _, o := range orgs {
		data.Organizations[o.ID] = o
	}

	return data, nil
}
