package valkey

import (
	"context"
	"errors"
	"strconv"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/adtokens/internal/db"
)

// Eval runs a Lua script. String and integer replies come back as text;
// a nil reply (Lua false) maps to db.ErrKeyNotFound.
func (s *Store) Eval(ctx context.Context, script string, keys, args []string) (string, error) {
	cmd := s.b().Arbitrary("EVAL").
		Args(script, strconv.Itoa(len(keys))).
		Keys(keys...).
		Args(args...).
		Build()

	msg, err := s.do(ctx, cmd).ToMessage()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return "", db.ErrKeyNotFound
		}
		return "", &db.Error{Op: db.OpEval, Err: err}
	}
	if msg.IsNil() {
		return "", db.ErrKeyNotFound
	}
	if v, err := msg.ToString(); err == nil {
		return v, nil
	}
	if n, err := msg.AsInt64(); err == nil {
		return strconv.FormatInt(n, 10), nil
	}
	return "", &db.Error{Op: db.OpEval, Err: errors.New("unexpected reply type")}
}
