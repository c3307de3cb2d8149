package search

import (
	"context"
	"log"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili *Meili
	pgfts *PgFTS
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}

	results, total, err := s.pgfts.Search(q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexAction indexes an action (fire-and-forget to Meilisearch).
func (s *Service) IndexAction(a ActionRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexAction(a); err != nil {
			log.Printf("search: index action %s: %v", a.ID, err)
		}
	}()
}

// IndexIndicator indexes an indicator (fire-and-forget to Meilisearch).
func (s *Service) IndexIndicator(i IndicatorRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexIndicator(i); err != nil {
			log.Printf("search: index indicator %s: %v", i.ID, err)
		}
	}()
}

// DeleteAction removes an action from the search index (fire-and-forget).
func (s *Service) DeleteAction(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteAction(id); err != nil {
			log.Printf("search: delete action %s: %v", id, err)
		}
	}()
}

// DeleteIndicator removes an indicator from the search index (fire-and-forget).
func (s *Service) DeleteIndicator(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteIndicator(id); err != nil {
			log.Printf("search: delete indicator %s: %v", id, err)
		}
	}()
}

// ReindexAllFromPG reindexes all searchable entities from PostgreSQL
// into Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	actions, indicators, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	if err := s.meili.IndexActions(actions); err != nil {
		log.Printf("search: reindex actions: %v", err)
	}
	if err := s.meili.IndexIndicators(indicators); err != nil {
		log.Printf("search: reindex indicators: %v", err)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
