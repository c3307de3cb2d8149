package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultAction    ResultType = "action"
	ResultIndicator ResultType = "indicator"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type       ResultType `json:"type"`
	ID         string     `json:"id"`
	Identifier string     `json:"identifier"`
	Title      string     `json:"title"`
	Snippet    string     `json:"snippet"`
	PlanID     string     `json:"planId"`
}

// Query describes a search request.
type Query struct {
	Text         string
	FilterType   ResultType // empty = all types
	FilterPlanID string
	Limit        int
	Offset       int
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

// Indexer can push entities into a search index.
type Indexer interface {
	IndexAction(a ActionRecord) error
	IndexIndicator(i IndicatorRecord) error
	DeleteAction(id string) error
	DeleteIndicator(id string) error
}

// ActionRecord is the data we index for an action.
type ActionRecord struct {
	ID         string `json:"id"`
	PlanID     string `json:"planId"`
	Identifier string `json:"identifier"`
	Name       string `json:"name"`
	Status     string `json:"status"`
}

// IndicatorRecord is the data we index for an indicator.
type IndicatorRecord struct {
	ID         string `json:"id"`
	PlanID     string `json:"planId"`
	Identifier string `json:"identifier"`
	Name       string `json:"name"`
	Quantity   string `json:"quantity"`
	Unit       string `json:"unit"`
}
