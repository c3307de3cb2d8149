package orgs

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/kausaltech/kausal-watch-sub001/internal/store"
	"github.com/kausaltech/kausal-watch-sub001/internal/util"
)

// dataStore is the slice of the entity store the organization graph needs.
type dataStore interface {
	GetPlan(ctx context.Context, planID string) (store.Plan, error)
	GetOrganization(ctx context.Context, orgID string) (store.Organization, error)
	GetOrganizationByPath(ctx context.Context, path string) (store.Organization, error)
	InsertOrganization(ctx context.Context, org store.Organization) error
	ListOrganizationsByPathPrefix(ctx context.Context, prefix string) ([]store.Organization, error)
	MaxChildPath(ctx context.Context, parentPath string) (string, error)
	ReparentSubtree(ctx context.Context, oldPrefix, newParentPath string) error
	ListRelatedOrganizations(ctx context.Context, planID string) ([]store.Organization, error)
	ListPersonsByOrganizations(ctx context.Context, orgIDs []string) ([]store.Person, error)
}

var ErrReparentCycle = errors.New("cannot move an organization under its own subtree")

type Service struct {
	store dataStore
}

func NewService(s dataStore) *Service {
	return &Service{store: s}
}

// Create inserts a new organization as the last child of parent, or as a
// new top-level root when parentID is empty.
func (s *Service) Create(ctx context.Context, parentID, name, abbreviation, classification string) (store.Organization, error) {
	var parentPath string
	if parentID != "" {
		parent, err := s.store.GetOrganization(ctx, parentID)
		if err != nil {
			return store.Organization{}, fmt.Errorf("load parent: %w", err)
		}
		parentPath = parent.Path
	}

	segment := firstSegment
	maxPath, err := s.store.MaxChildPath(ctx, parentPath)
	if err == nil {
		segment, err = NextSegment(LastSegment(maxPath))
		if err != nil {
			return store.Organization{}, err
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return store.Organization{}, fmt.Errorf("find sibling path: %w", err)
	}

	org := store.Organization{
		ID:             util.NewID("org"),
		Path:           ChildPath(parentPath, segment),
		Name:           name,
		Abbreviation:   abbreviation,
		Classification: classification,
	}
	if err := s.store.InsertOrganization(ctx, org); err != nil {
		return store.Organization{}, err
	}
	return org, nil
}

// Descendants returns the subtree rooted at the organization, in path
// order. With inclusive set the root itself is the first element.
func (s *Service) Descendants(ctx context.Context, orgID string, inclusive bool) ([]store.Organization, error) {
	org, err := s.store.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	subtree, err := s.store.ListOrganizationsByPathPrefix(ctx, org.Path)
	if err != nil {
		return nil, err
	}
	if inclusive {
		return subtree, nil
	}
	out := subtree[:0:0]
	for _, o := range subtree {
		if o.ID != org.ID {
			out = append(out, o)
		}
	}
	return out, nil
}

// Ancestors returns the chain from the root down to the organization's
// parent.
func (s *Service) Ancestors(ctx context.Context, orgID string) ([]store.Organization, error) {
	org, err := s.store.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	items := make([]store.Organization, 0)
	path := org.Path
	for {
		parent, ok := ParentPath(path)
		if !ok {
			break
		}
		path = parent
		items = append(items, store.Organization{Path: path})
	}
	// Resolve the path-only placeholders root-first.
	sort.Slice(items, func(i, j int) bool { return len(items[i].Path) < len(items[j].Path) })
	for i := range items {
		full, err := s.store.GetOrganizationByPath(ctx, items[i].Path)
		if err != nil {
			return nil, err
		}
		items[i] = full
	}
	return items, nil
}

// AvailableForPlan returns every organization the plan can act for: its
// main organization with all descendants, plus each related organization
// with all descendants. De-duplicated, path order.
func (s *Service) AvailableForPlan(ctx context.Context, planID string) ([]store.Organization, error) {
	plan, err := s.store.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	roots := make([]store.Organization, 0, 1)
	main, err := s.store.GetOrganization(ctx, plan.OrganizationID)
	if err != nil {
		return nil, fmt.Errorf("load plan organization: %w", err)
	}
	roots = append(roots, main)

	related, err := s.store.ListRelatedOrganizations(ctx, planID)
	if err != nil {
		return nil, err
	}
	roots = append(roots, related...)

	seen := map[string]bool{}
	out := make([]store.Organization, 0)
	for _, root := range roots {
		subtree, err := s.store.ListOrganizationsByPathPrefix(ctx, root.Path)
		if err != nil {
			return nil, err
		}
		for _, o := range subtree {
			if !seen[o.ID] {
				seen[o.ID] = true
				out = append(out, o)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// PeopleAvailableForPlan returns the persons employed by any organization
// available to the plan.
func (s *Service) PeopleAvailableForPlan(ctx context.Context, planID string) ([]store.Person, error) {
	available, err := s.AvailableForPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(available))
	for i, o := range available {
		ids[i] = o.ID
	}
	return s.store.ListPersonsByOrganizations(ctx, ids)
}

// Reparent moves an organization (and its whole subtree) under a new
// parent, or to the top level when newParentID is empty. Path rewrites
// for the subtree happen atomically.
func (s *Service) Reparent(ctx context.Context, orgID, newParentID string) error {
	org, err := s.store.GetOrganization(ctx, orgID)
	if err != nil {
		return err
	}
	var newParentPath string
	if newParentID != "" {
		parent, err := s.store.GetOrganization(ctx, newParentID)
		if err != nil {
			return fmt.Errorf("load new parent: %w", err)
		}
		if parent.ID == org.ID || parent.IsDescendantOf(org) {
			return ErrReparentCycle
		}
		newParentPath = parent.Path
	}
	return s.store.ReparentSubtree(ctx, org.Path, newParentPath)
}
