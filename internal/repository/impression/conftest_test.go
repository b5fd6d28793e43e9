package impression

import (
	"context"
	"time"

	"github.com/kailas-cloud/adtokens/internal/db"
)

// fakeHashStore emulates the hash commands and the two Lua scripts.
type fakeHashStore struct {
	hashes  map[string]map[string]string
	ttls    map[string]time.Duration
	evalErr error
	hsetErr error
}

func newFakeHashStore() *fakeHashStore {
	return &fakeHashStore{
		hashes: make(map[string]map[string]string),
		ttls:   make(map[string]time.Duration),
	}
}

func (f *fakeHashStore) HSetMulti(_ context.Context, items []db.HashSetItem) error {
	if f.hsetErr != nil {
		return f.hsetErr
	}
	for _, it := range items {
		f.merge(it.Key, it.Fields)
	}
	return nil
}

func (f *fakeHashStore) HSet(_ context.Context, key string, fields map[string]string) error {
	if f.hsetErr != nil {
		return f.hsetErr
	}
	f.merge(key, fields)
	return nil
}

func (f *fakeHashStore) merge(key string, fields map[string]string) {
	h, ok := f.hashes[key]
	if !ok {
		h = make(map[string]string)
		f.hashes[key] = h
	}
	for k, v := range fields {
		h[k] = v
	}
}

func (f *fakeHashStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	out := make(map[string]string)
	for k, v := range f.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (f *fakeHashStore) Expire(_ context.Context, key string, ttl time.Duration, nx bool) error {
	if _, ok := f.ttls[key]; ok && nx {
		return nil
	}
	f.ttls[key] = ttl
	return nil
}

func (f *fakeHashStore) Eval(_ context.Context, script string, keys, args []string) (string, error) {
	if f.evalErr != nil {
		return "", f.evalErr
	}
	h, ok := f.hashes[keys[0]]
	if !ok {
		return "", db.ErrKeyNotFound
	}
	switch script {
	case clickScript:
		if _, set := h["clicked_at"]; !set {
			h["clicked_at"] = args[0]
		}
		return h["clicked_at"], nil
	case conversionScript:
		if _, set := h["clicked_at"]; !set {
			return "noclick", nil
		}
		h["conversion_value"] = args[0]
		return "ok", nil
	}
	return "", nil
}
