package search

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const (
	idxSkills    = "rfphub_skills"
	idxTemplates = "rfphub_templates"
	idxCustomers = "rfphub_customers"
)

// Meili implements Searcher via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures indexes.
// The service degrades to the Postgres fallback while unhealthy.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndexes()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndexes() {
	indexes := []struct {
		uid        string
		searchable []string
	}{
		{uid: idxSkills, searchable: []string{"name", "content", "tags"}},
		{uid: idxTemplates, searchable: []string{"name", "description", "body"}},
		{uid: idxCustomers, searchable: []string{"name", "industry", "summary"}},
	}

	for _, idx := range indexes {
		if _, err := m.client.CreateIndex(&meili.IndexConfig{
			Uid:        idx.uid,
			PrimaryKey: "id",
		}); err != nil {
			log.Printf("search: create index %s (may already exist): %v", idx.uid, err)
		}
		if _, err := m.client.Index(idx.uid).UpdateSearchableAttributes(&idx.searchable); err != nil {
			log.Printf("search: update searchable attrs for %s: %v", idx.uid, err)
		}
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("search: meilisearch recovered, reconfiguring indexes")
				m.configureIndexes()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries all three indexes (or a filtered subset) and merges results.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	queries := buildSearchRequests(q)
	if len(queries) == 0 {
		return nil, 0, nil
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: queries,
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var results []Result
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		rtyp := indexToResultType(sr.IndexUID)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit, rtyp))
		}
	}

	return results, total, nil
}

// buildSearchRequests fans the query text out to one request per
// target index, honoring the type filter.
func buildSearchRequests(q Query) []*meili.SearchRequest {
	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}

	targetIndexes := []struct {
		uid  string
		rtyp ResultType
	}{
		{idxSkills, ResultSkill},
		{idxTemplates, ResultTemplate},
		{idxCustomers, ResultCustomer},
	}

	var queries []*meili.SearchRequest
	for _, ti := range targetIndexes {
		if q.FilterType != "" && q.FilterType != ti.rtyp {
			continue
		}
		queries = append(queries, &meili.SearchRequest{
			IndexUID:              ti.uid,
			Query:                 q.Text,
			Limit:                 limit,
			Offset:                int64(q.Offset),
			AttributesToHighlight: []string{"*"},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
			ShowRankingScore:      true,
		})
	}
	return queries
}

func indexToResultType(uid string) ResultType {
	switch uid {
	case idxSkills:
		return ResultSkill
	case idxTemplates:
		return ResultTemplate
	case idxCustomers:
		return ResultCustomer
	default:
		return ""
	}
}

func hitToResult(hit meili.Hit, rtyp ResultType) Result {
	r := Result{Type: rtyp}
	r.ID = decodeString(hit, "id")
	r.Title = firstNonBlank(decodeFormattedString(hit, "name"), decodeString(hit, "name"))

	switch rtyp {
	case ResultSkill:
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "content"), decodeString(hit, "content"))
	case ResultTemplate:
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "description"), decodeString(hit, "description"))
	case ResultCustomer:
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "summary"), decodeString(hit, "summary"))
	}
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]string
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	return strings.TrimSpace(formatted[key])
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// IndexSkill adds or updates a skill in the search index.
func (m *Meili) IndexSkill(record SkillRecord) error {
	_, err := m.client.Index(idxSkills).AddDocuments([]SkillRecord{record}, nil)
	return err
}

// IndexTemplate adds or updates a template in the search index.
func (m *Meili) IndexTemplate(record TemplateRecord) error {
	_, err := m.client.Index(idxTemplates).AddDocuments([]TemplateRecord{record}, nil)
	return err
}

// IndexCustomer adds or updates a customer profile in the search index.
func (m *Meili) IndexCustomer(record CustomerRecord) error {
	_, err := m.client.Index(idxCustomers).AddDocuments([]CustomerRecord{record}, nil)
	return err
}

// DeleteSkill removes a skill from the search index.
func (m *Meili) DeleteSkill(id string) error {
	_, err := m.client.Index(idxSkills).DeleteDocument(id, nil)
	return err
}

// DeleteTemplate removes a template from the search index.
func (m *Meili) DeleteTemplate(id string) error {
	_, err := m.client.Index(idxTemplates).DeleteDocument(id, nil)
	return err
}

// DeleteCustomer removes a customer profile from the search index.
func (m *Meili) DeleteCustomer(id string) error {
	_, err := m.client.Index(idxCustomers).DeleteDocument(id, nil)
	return err
}

// IndexSkills bulk-indexes skills.
func (m *Meili) IndexSkills(records []SkillRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxSkills).AddDocuments(records, nil)
	return err
}

// IndexTemplates bulk-indexes templates.
func (m *Meili) IndexTemplates(records []TemplateRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxTemplates).AddDocuments(records, nil)
	return err
}

// IndexCustomers bulk-indexes customer profiles.
func (m *Meili) IndexCustomers(records []CustomerRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxCustomers).AddDocuments(records, nil)
	return err
}
