package revisions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kausaltech/kausal-watch-sub001/internal/store"
	"github.com/kausaltech/kausal-watch-sub001/internal/util"
)

const EntityAction = "action"

// Scope collects the entities touched inside one revision. Version rows
// are written after all object writes, before the transaction commits.
type Scope struct {
	revisionID string
	versions   []store.Version
}

// Touch records one entity state for versioning. Returns the version id
// so callers (snapshots) can reference it.
func (sc *Scope) Touch(entityType, entityID, repr string, fields any) (string, error) {
	data, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("serialize %s %s: %w", entityType, entityID, err)
	}
	v := store.Version{
		ID:         util.NewID("ver"),
		RevisionID: sc.revisionID,
		EntityType: entityType,
		EntityID:   entityID,
		Data:       data,
		Repr:       repr,
	}
	sc.versions = append(sc.versions, v)
	return v.ID, nil
}

// TouchAction versions the full field state of an action.
func (sc *Scope) TouchAction(a store.Action) (string, error) {
	return sc.Touch(EntityAction, a.ID, a.Identifier+" "+a.Name, actionFields(a))
}

type Service struct {
	store *store.PostgresStore
}

func NewService(s *store.PostgresStore) *Service {
	return &Service{store: s}
}

// WithRevision runs fn inside one transaction and, when it succeeds,
// writes the revision row plus one version row per touched entity before
// commit. A failing fn rolls everything back, revision included.
func (s *Service) WithRevision(ctx context.Context, userID *string, comment string, fn func(tx *store.PostgresStore, sc *Scope) error) error {
	return s.store.WithTx(ctx, func(tx *store.PostgresStore) error {
		sc := &Scope{revisionID: util.NewID("rev")}
		if err := fn(tx, sc); err != nil {
			return err
		}
		if len(sc.versions) == 0 {
			return nil
		}
		rev := store.Revision{
			ID:        sc.revisionID,
			UserID:    userID,
			Comment:   comment,
			CreatedAt: time.Now().UTC(),
		}
		if err := tx.InsertRevision(ctx, rev); err != nil {
			return err
		}
		for _, v := range sc.versions {
			if err := tx.InsertVersion(ctx, v); err != nil {
				return err
			}
		}
		return nil
	})
}

// RecordActionChange writes a one-version revision for an action that
// was just mutated outside a revision scope (the REST write path).
func (s *Service) RecordActionChange(ctx context.Context, userID *string, comment string, action store.Action) error {
	return s.WithRevision(ctx, userID, comment, func(tx *store.PostgresStore, sc *Scope) error {
		_, err := sc.TouchAction(action)
		return err
	})
}

// SnapshotAction records the action's current state for a report. The
// unique constraint on (report, action) makes this idempotent: an
// existing snapshot keeps its explicitness unless upgraded.
func (s *Service) SnapshotAction(ctx context.Context, userID *string, comment string, action store.Action, reportID string, explicit bool) (store.ActionSnapshot, error) {
	snap := store.ActionSnapshot{
		ID:                util.NewID("snap"),
		ReportID:          reportID,
		ActionID:          action.ID,
		CreatedExplicitly: explicit,
	}
	err := s.WithRevision(ctx, userID, comment, func(tx *store.PostgresStore, sc *Scope) error {
		versionID, err := sc.TouchAction(action)
		if err != nil {
			return err
		}
		snap.ActionVersionID = versionID
		return tx.InsertActionSnapshot(ctx, snap)
	})
	if err != nil {
		return store.ActionSnapshot{}, err
	}
	return snap, nil
}

// Inspect restores the snapshot's versioned state onto the live action
// row inside a transaction, hands the restored action to fn, then rolls
// back unconditionally. Persisted state is untouched, updated_at
// included.
func (s *Service) Inspect(ctx context.Context, snap store.ActionSnapshot, fn func(a store.Action) error) error {
	return s.store.WithTxRollback(ctx, func(tx *store.PostgresStore) error {
		version, err := tx.GetVersion(ctx, snap.ActionVersionID)
		if err != nil {
			return fmt.Errorf("load snapshot version: %w", err)
		}
		restored, err := DecodeActionVersion(version)
		if err != nil {
			return err
		}
		if err := tx.RestoreAction(ctx, restored); err != nil {
			return err
		}
		live, err := tx.GetAction(ctx, restored.ID)
		if err != nil {
			return err
		}
		return fn(live)
	})
}

// LiveVersion is the effective state of one action relative to a report:
// the snapshotted version when the action was completed for the report,
// else the provisional current state.
type LiveVersion struct {
	Action      store.Action
	Snapshot    *store.ActionSnapshot
	Provisional bool
}

// LiveVersions resolves the effective version of every action in the
// plan against the given report.
func (s *Service) LiveVersions(ctx context.Context, planID string, reportID string) ([]LiveVersion, error) {
	actions, err := s.store.ListActions(ctx, planID)
	if err != nil {
		return nil, err
	}
	snaps, err := s.store.ListActionSnapshots(ctx, reportID)
	if err != nil {
		return nil, err
	}
	byAction := make(map[string]store.ActionSnapshot, len(snaps))
	for _, sn := range snaps {
		byAction[sn.ActionID] = sn
	}

	out := make([]LiveVersion, 0, len(actions))
	for _, a := range actions {
		if sn, ok := byAction[a.ID]; ok {
			version, err := s.store.GetVersion(ctx, sn.ActionVersionID)
			if err != nil {
				return nil, fmt.Errorf("load version for snapshot %s: %w", sn.ID, err)
			}
			restored, err := DecodeActionVersion(version)
			if err != nil {
				return nil, err
			}
			snapshot := sn
			out = append(out, LiveVersion{Action: restored, Snapshot: &snapshot})
			continue
		}
		out = append(out, LiveVersion{Action: a, Provisional: true})
	}
	return out, nil
}

// actionVersion is the serialized field dict of an action.
type actionVersion struct {
	ID                    string    `json:"id"`
	UUID                  string    `json:"uuid"`
	PlanID                string    `json:"plan_id"`
	Identifier            string    `json:"identifier"`
	Name                  string    `json:"name"`
	Status                string    `json:"status"`
	ImplementationPhaseID *string   `json:"implementation_phase_id"`
	PrimaryOrgID          *string   `json:"primary_org_id"`
	Visibility            string    `json:"visibility"`
	MergedWithID          *string   `json:"merged_with_id"`
	SupersededByID        *string   `json:"superseded_by_id"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

func actionFields(a store.Action) actionVersion {
	return actionVersion{
		ID:                    a.ID,
		UUID:                  a.UUID,
		PlanID:                a.PlanID,
		Identifier:            a.Identifier,
		Name:                  a.Name,
		Status:                a.Status,
		ImplementationPhaseID: a.ImplementationPhaseID,
		PrimaryOrgID:          a.PrimaryOrgID,
		Visibility:            string(a.Visibility),
		MergedWithID:          a.MergedWithID,
		SupersededByID:        a.SupersededByID,
		CreatedAt:             a.CreatedAt,
		UpdatedAt:             a.UpdatedAt,
	}
}

// DecodeActionVersion rebuilds an action from a version row.
func DecodeActionVersion(v store.Version) (store.Action, error) {
	if v.EntityType != EntityAction {
		return store.Action{}, errors.New("version is not an action version")
	}
	var av actionVersion
	if err := json.Unmarshal(v.Data, &av); err != nil {
		return store.Action{}, fmt.Errorf("decode action version: %w", err)
	}
	return store.Action{
		ID:                    av.ID,
		UUID:                  av.UUID,
		PlanID:                av.PlanID,
		Identifier:            av.Identifier,
		Name:                  av.Name,
		Status:                av.Status,
		ImplementationPhaseID: av.ImplementationPhaseID,
		PrimaryOrgID:          av.PrimaryOrgID,
		Visibility:            store.ActionVisibility(av.Visibility),
		MergedWithID:          av.MergedWithID,
		SupersededByID:        av.SupersededByID,
		CreatedAt:             av.CreatedAt,
		UpdatedAt:             av.UpdatedAt,
	}, nil
}
