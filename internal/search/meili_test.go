package search

import (
	"encoding/json"
	"testing"

	meili "github.com/meilisearch/meilisearch-go"
)

func TestBuildSearchRequestsCarriesQueryText(t *testing.T) {
	queries := buildSearchRequests(Query{Text: "kubernetes sizing", Limit: 5})
	if len(queries) != 3 {
		t.Fatalf("expected one request per index, got %d", len(queries))
	}
	for _, req := range queries {
		if req.Query != "kubernetes sizing" {
			t.Errorf("request for %s lost the query text: %q", req.IndexUID, req.Query)
		}
		if req.Limit != 5 {
			t.Errorf("request for %s has limit %d, want 5", req.IndexUID, req.Limit)
		}
	}
}

func TestBuildSearchRequestsHonorsTypeFilter(t *testing.T) {
	queries := buildSearchRequests(Query{Text: "acme", FilterType: ResultSkill})
	if len(queries) != 1 {
		t.Fatalf("expected a single request for the skill index, got %d", len(queries))
	}
	if queries[0].IndexUID != idxSkills {
		t.Fatalf("expected index %s, got %s", idxSkills, queries[0].IndexUID)
	}
	if queries[0].Limit != 20 {
		t.Fatalf("expected default limit 20, got %d", queries[0].Limit)
	}
}

func TestHitToResultPrefersHighlights(t *testing.T) {
	formatted, _ := json.Marshal(map[string]string{
		"name":    "<mark>Kubernetes</mark>",
		"content": "We run <mark>EKS</mark>.",
	})
	hit := meili.Hit{
		"id":         json.RawMessage(`"skl_1"`),
		"name":       json.RawMessage(`"Kubernetes"`),
		"content":    json.RawMessage(`"We run EKS."`),
		"_formatted": json.RawMessage(formatted),
	}

	r := hitToResult(hit, ResultSkill)
	if r.ID != "skl_1" {
		t.Fatalf("unexpected id %q", r.ID)
	}
	if r.Title != "<mark>Kubernetes</mark>" {
		t.Fatalf("expected highlighted title, got %q", r.Title)
	}
	if r.Snippet != "We run <mark>EKS</mark>." {
		t.Fatalf("expected highlighted snippet, got %q", r.Snippet)
	}
}
