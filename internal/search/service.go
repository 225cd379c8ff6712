package search

import (
	"context"
	"log"
)

// Service fronts Meilisearch with a Postgres full-text fallback.
// Meili may be nil, in which case Postgres always serves queries.
type Service struct {
	meili *Meili
	pg    *PGFTS
}

func NewService(meili *Meili, pg *PGFTS) *Service {
	return &Service{meili: meili, pg: pg}
}

// Search prefers Meilisearch and falls back to Postgres when the
// engine is absent, unhealthy, or errors mid-query.
func (s *Service) Search(q Query) (Response, error) {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: results, Total: total, Query: q.Text}, nil
		}
		log.Printf("search: meilisearch failed, falling back to postgres: %v", err)
	}

	results, total, err := s.pg.Search(q)
	if err != nil {
		return Response{}, err
	}
	return Response{Results: results, Total: total, Query: q.Text}, nil
}

// Engine reports which backend is currently serving queries.
func (s *Service) Engine() string {
	if s.meili != nil && s.meili.Healthy() {
		return "meilisearch"
	}
	return "postgres"
}

// Indexing calls are fire-and-forget: a broken search engine must
// never fail the originating write.

func (s *Service) IndexSkill(record SkillRecord) {
	if s.meili == nil {
		return
	}
	go func() {
		if err := s.meili.IndexSkill(record); err != nil {
			log.Printf("search: index skill %s: %v", record.ID, err)
		}
	}()
}

func (s *Service) IndexTemplate(record TemplateRecord) {
	if s.meili == nil {
		return
	}
	go func() {
		if err := s.meili.IndexTemplate(record); err != nil {
			log.Printf("search: index template %s: %v", record.ID, err)
		}
	}()
}

func (s *Service) IndexCustomer(record CustomerRecord) {
	if s.meili == nil {
		return
	}
	go func() {
		if err := s.meili.IndexCustomer(record); err != nil {
			log.Printf("search: index customer %s: %v", record.ID, err)
		}
	}()
}

func (s *Service) DeleteSkill(id string) {
	if s.meili == nil {
		return
	}
	go func() {
		if err := s.meili.DeleteSkill(id); err != nil {
			log.Printf("search: delete skill %s: %v", id, err)
		}
	}()
}

func (s *Service) DeleteTemplate(id string) {
	if s.meili == nil {
		return
	}
	go func() {
		if err := s.meili.DeleteTemplate(id); err != nil {
			log.Printf("search: delete template %s: %v", id, err)
		}
	}()
}

func (s *Service) DeleteCustomer(id string) {
	if s.meili == nil {
		return
	}
	go func() {
		if err := s.meili.DeleteCustomer(id); err != nil {
			log.Printf("search: delete customer %s: %v", id, err)
		}
	}()
}

// ReindexAll rebuilds the Meilisearch indexes from Postgres. Called at
// startup so the engine catches up after downtime.
func (s *Service) ReindexAll(ctx context.Context) error {
	if s.meili == nil || !s.meili.Healthy() {
		return nil
	}

	skills, templates, customers, err := s.pg.LoadAllRecords(ctx)
	if err != nil {
		return err
	}

	if err := s.meili.IndexSkills(skills); err != nil {
		return err
	}
	if err := s.meili.IndexTemplates(templates); err != nil {
		return err
	}
	if err := s.meili.IndexCustomers(customers); err != nil {
		return err
	}

	log.Printf("search: reindexed %d skills, %d templates, %d customers", len(skills), len(templates), len(customers))
	return nil
}
