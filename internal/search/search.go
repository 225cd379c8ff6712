package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultSkill    ResultType = "skill"
	ResultTemplate ResultType = "template"
	ResultCustomer ResultType = "customer"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type    ResultType `json:"type"`
	ID      string     `json:"id"`
	Title   string     `json:"title"`
	Snippet string     `json:"snippet"`
}

// Query describes a search request.
type Query struct {
	Text       string
	FilterType ResultType // empty = all types
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// SkillRecord is the data we index for a skill.
type SkillRecord struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Content string `json:"content"`
	Tags    string `json:"tags"`
}

// TemplateRecord is the data we index for a template.
type TemplateRecord struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Body        string `json:"body"`
}

// CustomerRecord is the data we index for a customer profile.
type CustomerRecord struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Industry string `json:"industry"`
	Summary  string `json:"summary"`
}
