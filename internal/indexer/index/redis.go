package index

import (
	"context"
	"fmt"
	"strconv"

	goredis "github.com/redis/go-redis/v9"

	"github.com/brendte/news-router/internal/news"
	"github.com/brendte/news-router/pkg/redis"
)

// upsertScript finds or creates the term's id and bumps its df in one
// server-side step.
// KEYS[1] dict hash (term -> id), KEYS[2] df hash (id -> df), KEYS[3] id sequence.
var upsertScript = goredis.NewScript(`
local id = redis.call('HGET', KEYS[1], ARGV[1])
if not id then
  id = tostring(redis.call('INCR', KEYS[3]))
  redis.call('HSET', KEYS[1], ARGV[1], id)
end
redis.call('HINCRBY', KEYS[2], id, 1)
return id
`)

// RedisStore keeps the index in Redis hashes:
//
//	<prefix>:index:<kind>:dict            term -> id
//	<prefix>:index:<kind>:df              id -> df
//	<prefix>:index:<kind>:seq             last issued id
//	<prefix>:index:<kind>:postings:<id>   doc id -> tf
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) key(kind news.Kind, parts ...string) string {
	return s.client.Key(append([]string{"index", string(kind)}, parts...)...)
}

func (s *RedisStore) UpsertTerm(ctx context.Context, kind news.Kind, term string) (TermID, error) {
	keys := []string{s.key(kind, "dict"), s.key(kind, "df"), s.key(kind, "seq")}
	id, err := upsertScript.Run(ctx, s.client.Redis(), keys, term).Text()
	if err != nil {
		return "", fmt.Errorf("upserting term %q: %w", term, err)
	}
	return TermID(id), nil
}

func (s *RedisStore) AppendPosting(ctx context.Context, kind news.Kind, termID TermID, docID int64, tf int) error {
	key := s.key(kind, "postings", string(termID))
	if err := s.client.Redis().HSet(ctx, key, strconv.FormatInt(docID, 10), tf).Err(); err != nil {
		return fmt.Errorf("appending posting for term %s: %w", termID, err)
	}
	return nil
}

func (s *RedisStore) HasPosting(ctx context.Context, kind news.Kind, termID TermID, docID int64) (bool, error) {
	ok, err := s.client.Redis().HExists(ctx, s.key(kind, "postings", string(termID)), strconv.FormatInt(docID, 10)).Result()
	if err != nil {
		return false, fmt.Errorf("checking posting of term %s: %w", termID, err)
	}
	return ok, nil
}

func (s *RedisStore) LookupTerm(ctx context.Context, kind news.Kind, term string) (Entry, bool, error) {
	id, err := s.client.Redis().HGet(ctx, s.key(kind, "dict"), term).Result()
	if redis.IsNilError(err) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("looking up term %q: %w", term, err)
	}
	df, err := s.client.Redis().HGet(ctx, s.key(kind, "df"), id).Int64()
	if err != nil && !redis.IsNilError(err) {
		return Entry{}, false, fmt.Errorf("reading df of term %q: %w", term, err)
	}
	return Entry{ID: TermID(id), Term: term, DF: df}, true, nil
}

func (s *RedisStore) LookupPostings(ctx context.Context, kind news.Kind, termID TermID) (PostingList, bool, error) {
	raw, err := s.client.Redis().HGetAll(ctx, s.key(kind, "postings", string(termID))).Result()
	if err != nil {
		return PostingList{}, false, fmt.Errorf("reading postings of term %s: %w", termID, err)
	}
	if len(raw) == 0 {
		return PostingList{}, false, nil
	}
	list := PostingList{TermID: termID, Postings: make([]Posting, 0, len(raw))}
	for field, value := range raw {
		docID, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			return PostingList{}, false, fmt.Errorf("parsing posting doc id %q: %w", field, err)
		}
		tf, err := strconv.Atoi(value)
		if err != nil {
			return PostingList{}, false, fmt.Errorf("parsing posting tf %q: %w", value, err)
		}
		list.Postings = append(list.Postings, Posting{DocID: docID, TF: tf})
	}
	sortPostings(list.Postings)
	return list, true, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
