// Package query normalizes raw search parameters into an immutable descriptor.
package query

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/kailas-cloud/adtokens/internal/domain"
	"github.com/kailas-cloud/adtokens/internal/domain/search/filter"
	"github.com/kailas-cloud/adtokens/internal/domain/search/sortorder"
)

// Normalization limits.
const (
	// MaxQueryLength is the maximum query length in bytes after trimming.
	MaxQueryLength = 2048
	// MaxTurnLength truncates each context turn.
	MaxTurnLength = 2048
	DefaultLimit  = 3
	MaxLimit      = 10
	// DefaultMinRelevance drops weak matches unless the caller lowers it.
	DefaultMinRelevance = 0.5
	MaxExclusions       = 100
)

// Kind distinguishes text search from similar-product search.
type Kind string

// Descriptor kinds.
const (
	KindSearch  Kind = "search"
	KindSimilar Kind = "similar"
)

var validRoles = map[string]struct{}{"user": {}, "assistant": {}, "system": {}}

// Params are the raw request fields. Limit is kept textual so that
// non-numeric input can be told apart from an absent value.
type Params struct {
	Query        string
	Limit        string
	Filters      filter.Spec
	Sort         string
	MinRelevance *float64
	SessionID    string
	Context      []Turn
	ExcludeIDs   []string
}

// Descriptor is a validated, canonical query. Immutable once built.
type Descriptor struct {
	kind         Kind
	text         string
	anchor       string
	turns        []Turn
	filters      filter.Set
	order        sortorder.Order
	limit        int
	minRelevance float64
	exclude      map[string]struct{}
	sessionID    string
	fingerprint  string
}

// New normalizes a text search request.
func New(p Params) (*Descriptor, error) {
	text := canonicalText(p.Query)
	if text == "" {
		return nil, domain.InvalidInput("query is required")
	}
	if len(text) > MaxQueryLength {
		return nil, domain.InvalidInput("query too long (max %d chars)", MaxQueryLength)
	}
	d, err := build(p)
	if err != nil {
		return nil, err
	}
	d.kind = KindSearch
	d.text = text
	d.fingerprint = d.computeFingerprint()
	return d, nil
}

// NewSimilar normalizes a similar-products request anchored on productID.
// The query text and context are ignored.
func NewSimilar(productID string, p Params) (*Descriptor, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return nil, domain.InvalidInput("product id is required")
	}
	p.Context = nil
	d, err := build(p)
	if err != nil {
		return nil, err
	}
	d.kind = KindSimilar
	d.anchor = productID
	d.fingerprint = d.computeFingerprint()
	return d, nil
}

func build(p Params) (*Descriptor, error) {
	limit, err := ParseLimit(p.Limit)
	if err != nil {
		return nil, err
	}

	order := sortorder.Order(strings.TrimSpace(p.Sort)).OrDefault()
	if !order.IsValid() {
		return nil, domain.InvalidInput("sort must be one of relevance, price_asc, price_desc, got %q", p.Sort)
	}

	minRel := DefaultMinRelevance
	if p.MinRelevance != nil {
		minRel = *p.MinRelevance
		if math.IsNaN(minRel) || minRel < 0 || minRel > 1 {
			return nil, domain.InvalidInput("min_relevance_score must be between 0 and 1")
		}
	}

	filters, err := filter.New(p.Filters)
	if err != nil {
		return nil, domain.InvalidInput("%s", err.Error())
	}

	var hist History
	for i, t := range p.Context {
		role := strings.ToLower(strings.TrimSpace(t.Role))
		if _, ok := validRoles[role]; !ok {
			return nil, domain.InvalidInput("conversation_context[%d].role must be user, assistant or system", i)
		}
		content := canonicalText(t.Content)
		if len(content) > MaxTurnLength {
			content = truncateUTF8(content, MaxTurnLength)
		}
		hist.Push(Turn{Role: role, Content: content})
	}

	if len(p.ExcludeIDs) > MaxExclusions {
		return nil, domain.InvalidInput("exclude_product_ids allows at most %d ids", MaxExclusions)
	}
	exclude := make(map[string]struct{}, len(p.ExcludeIDs))
	for i, id := range p.ExcludeIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, domain.InvalidInput("exclude_product_ids[%d] is empty", i)
		}
		exclude[id] = struct{}{}
	}

	session := strings.TrimSpace(p.SessionID)
	if session == "" {
		session = uuid.NewString()
	} else if _, err := uuid.Parse(session); err != nil {
		return nil, domain.InvalidInput("session_id must be a UUID")
	}

	return &Descriptor{
		turns:        hist.Turns(),
		filters:      filters,
		order:        order,
		limit:        limit,
		minRelevance: minRel,
		exclude:      exclude,
		sessionID:    session,
	}, nil
}

// ParseLimit applies the limit rules: absent gives DefaultLimit, non-numeric or
// negative is rejected, anything else is clamped to [1, MaxLimit].
func ParseLimit(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultLimit, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, domain.InvalidInput("limit must be a number, got %q", raw)
	}
	if f != math.Trunc(f) {
		return 0, domain.InvalidInput("limit must be an integer, got %q", raw)
	}
	if f < 0 {
		return 0, domain.InvalidInput("limit must not be negative, got %q", raw)
	}
	switch {
	case f < 1:
		return 1, nil
	case f > MaxLimit:
		return MaxLimit, nil
	}
	return int(f), nil
}

// Kind returns whether this is a text or similar-products query.
func (d *Descriptor) Kind() Kind { return d.kind }

// Text returns the canonical query text (empty for similar queries).
func (d *Descriptor) Text() string { return d.text }

// Anchor returns the source product id of a similar query.
func (d *Descriptor) Anchor() string { return d.anchor }

// Turns returns a copy of the retained conversation turns, oldest first.
func (d *Descriptor) Turns() []Turn {
	out := make([]Turn, len(d.turns))
	copy(out, d.turns)
	return out
}

// Filters returns the structured filter predicates.
func (d *Descriptor) Filters() filter.Set { return d.filters }

// Sort returns the requested ordering.
func (d *Descriptor) Sort() sortorder.Order { return d.order }

// Limit returns the clamped result count.
func (d *Descriptor) Limit() int { return d.limit }

// MinRelevance returns the minimum composite score.
func (d *Descriptor) MinRelevance() float64 { return d.minRelevance }

// SessionID returns the caller session (minted when absent).
func (d *Descriptor) SessionID() string { return d.sessionID }

// Excluded reports whether id is in the caller's exclusion set.
func (d *Descriptor) Excluded(id string) bool {
	_, ok := d.exclude[id]
	return ok
}

// Exclusions returns the exclusion set, sorted.
func (d *Descriptor) Exclusions() []string {
	out := make([]string, 0, len(d.exclude))
	for id := range d.exclude {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Fingerprint is a stable hash of every field that shapes the candidate pool.
// Session and exclusions are left out: they only post-filter.
func (d *Descriptor) Fingerprint() string { return d.fingerprint }

// EmbeddingText is the text sent to the embedding provider: context turns
// as "role: content" lines followed by the query.
func (d *Descriptor) EmbeddingText() string {
	if len(d.turns) == 0 {
		return d.text
	}
	var b strings.Builder
	for _, t := range d.turns {
		b.WriteString(t.Role)
		b.WriteString(": ")
		b.WriteString(t.Content)
		b.WriteByte('\n')
	}
	b.WriteString(d.text)
	return b.String()
}

func (d *Descriptor) computeFingerprint() string {
	const sep = "\x1f"
	parts := []string{
		"v1",
		string(d.kind),
		d.text,
		d.anchor,
		d.filters.Canonical(),
		string(d.order),
		strconv.Itoa(d.limit),
		strconv.FormatFloat(d.minRelevance, 'f', -1, 64),
	}
	for _, t := range d.turns {
		parts = append(parts, t.Role+":"+t.Content)
	}
	h := sha256.Sum256([]byte(strings.Join(parts, sep)))
	return hex.EncodeToString(h[:])
}

func canonicalText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
