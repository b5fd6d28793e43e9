package db

// KNNQuery is the input for vector similarity search.
// Tags and Ranges pre-filter the candidate set before the KNN step.
type KNNQuery struct {
	IndexName    string
	Vector       []float32
	K            int
	ReturnFields []string
	Tags         []TagFilter
	Ranges       []RangeFilter
}

// TagFilter matches a TAG field against one value.
type TagFilter struct {
	Field string
	Value string
}

// RangeFilter bounds a NUMERIC field inclusively. A nil bound is open.
type RangeFilter struct {
	Field string
	Min   *float64
	Max   *float64
}

// SearchResult is the output of a search operation.
type SearchResult struct {
	Total   int
	Entries []SearchEntry
}

// SearchEntry is a single hit. Score is cosine similarity (1 - distance).
type SearchEntry struct {
	Key    string
	Score  float64
	Fields map[string]string
}
