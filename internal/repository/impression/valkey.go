package impression

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/kailas-cloud/adtokens/internal/db"
	"github.com/kailas-cloud/adtokens/internal/domain"
	domimp "github.com/kailas-cloud/adtokens/internal/domain/impression"
)

var (
	impressionPrefix = domain.KeyPrefix + "impression:"
	feedbackPrefix   = domain.KeyPrefix + "feedback:"
)

// clickScript sets clicked_at only if absent and returns the stored value.
// Missing key returns nil so a click never creates a record.
const clickScript = `
if redis.call('EXISTS', KEYS[1]) == 0 then return false end
redis.call('HSETNX', KEYS[1], 'clicked_at', ARGV[1])
return redis.call('HGET', KEYS[1], 'clicked_at')
`

// conversionScript writes conversion_value only on a clicked impression.
const conversionScript = `
if redis.call('EXISTS', KEYS[1]) == 0 then return false end
if redis.call('HEXISTS', KEYS[1], 'clicked_at') == 0 then return 'noclick' end
redis.call('HSET', KEYS[1], 'conversion_value', ARGV[1])
return 'ok'
`

// valkeyStore is the consumer interface for the Valkey impression store (ISP).
type valkeyStore interface {
	HSetMulti(ctx context.Context, items []db.HashSetItem) error
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	Expire(ctx context.Context, key string, ttl time.Duration, nx bool) error
	Eval(ctx context.Context, script string, keys, args []string) (string, error)
}

// ValkeyStore keeps impressions as hashes that expire after the retention window.
type ValkeyStore struct {
	store     valkeyStore
	retention time.Duration
}

// NewValkeyStore creates a Valkey-backed store.
func NewValkeyStore(s valkeyStore, retention time.Duration) *ValkeyStore {
	return &ValkeyStore{store: s, retention: retention}
}

// Save writes impressions in one pipeline. HSET of the creation fields is
// idempotent and leaves clicked_at untouched.
func (s *ValkeyStore) Save(ctx context.Context, imps ...domimp.Impression) error {
	items := make([]db.HashSetItem, len(imps))
	for i := range imps {
		items[i] = db.HashSetItem{Key: impressionPrefix + imps[i].ID, Fields: impressionToHash(&imps[i])}
	}
	if err := s.store.HSetMulti(ctx, items); err != nil {
		return fmt.Errorf("save impressions: %w", err)
	}
	if s.retention > 0 {
		for _, it := range items {
			if err := s.store.Expire(ctx, it.Key, s.retention, true); err != nil {
				return fmt.Errorf("expire %s: %w", it.Key, err)
			}
		}
	}
	return nil
}

// Get loads one impression.
func (s *ValkeyStore) Get(ctx context.Context, id string) (*domimp.Impression, error) {
	m, err := s.store.HGetAll(ctx, impressionPrefix+id)
	if err != nil {
		return nil, fmt.Errorf("get impression %s: %w", id, err)
	}
	if len(m) == 0 {
		return nil, domain.ErrImpressionNotFound
	}
	return impressionFromHash(id, m)
}

// MarkClicked atomically records the first click.
func (s *ValkeyStore) MarkClicked(ctx context.Context, id string, at time.Time) (time.Time, error) {
	out, err := s.store.Eval(ctx, clickScript,
		[]string{impressionPrefix + id},
		[]string{strconv.FormatInt(at.UnixMilli(), 10)})
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return time.Time{}, domain.ErrImpressionNotFound
		}
		return time.Time{}, fmt.Errorf("mark clicked %s: %w", id, err)
	}
	ms, err := strconv.ParseInt(out, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse clicked_at %q: %w", out, err)
	}
	return time.UnixMilli(ms).UTC(), nil
}

// SetConversion atomically records a conversion on a clicked impression.
func (s *ValkeyStore) SetConversion(ctx context.Context, id string, value float64) error {
	out, err := s.store.Eval(ctx, conversionScript,
		[]string{impressionPrefix + id},
		[]string{strconv.FormatFloat(value, 'f', -1, 64)})
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return domain.ErrImpressionNotFound
		}
		return fmt.Errorf("set conversion %s: %w", id, err)
	}
	if out == "noclick" {
		return domain.ErrClickRequired
	}
	return nil
}

// SaveFeedback stores a feedback record for the retention window.
func (s *ValkeyStore) SaveFeedback(ctx context.Context, fb domimp.Feedback) error {
	key := feedbackPrefix + fb.ID
	if err := s.store.HSet(ctx, key, feedbackToHash(&fb)); err != nil {
		return fmt.Errorf("save feedback: %w", err)
	}
	if s.retention > 0 {
		if err := s.store.Expire(ctx, key, s.retention, false); err != nil {
			return fmt.Errorf("expire feedback: %w", err)
		}
	}
	return nil
}

func impressionToHash(imp *domimp.Impression) map[string]string {
	return map[string]string{
		"request_id": imp.RequestID,
		"product_id": imp.ProductID,
		"session_id": imp.SessionID,
		"created_at": strconv.FormatInt(imp.CreatedAt.UnixMilli(), 10),
	}
}

func impressionFromHash(id string, m map[string]string) (*domimp.Impression, error) {
	imp := &domimp.Impression{
		ID:        id,
		RequestID: m["request_id"],
		ProductID: m["product_id"],
		SessionID: m["session_id"],
	}
	created, err := strconv.ParseInt(m["created_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid created_at: %w", err)
	}
	imp.CreatedAt = time.UnixMilli(created).UTC()

	if v := m["clicked_at"]; v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid clicked_at: %w", err)
		}
		t := time.UnixMilli(ms).UTC()
		imp.ClickedAt = &t
	}
	if v := m["conversion_value"]; v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid conversion_value: %w", err)
		}
		imp.ConversionValue = &f
	}
	return imp, nil
}

func feedbackToHash(fb *domimp.Feedback) map[string]string {
	m := map[string]string{
		"request_id": fb.RequestID,
		"product_id": fb.ProductID,
		"relevant":   strconv.FormatBool(fb.Relevant),
		"reason":     fb.Reason,
		"created_at": strconv.FormatInt(fb.CreatedAt.UnixMilli(), 10),
	}
	if fb.UserClicked != nil {
		m["user_clicked"] = strconv.FormatBool(*fb.UserClicked)
	}
	return m
}
