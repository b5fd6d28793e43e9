package valkey

import "github.com/redis/rueidis"

// NewStoreForTest wraps a rueidis client, usually a mock.Client, so repository
// tests can assert the exact commands a Store sends.
func NewStoreForTest(c rueidis.Client) *Store {
	return &Store{client: c}
}
