package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/embercore/forge/ferrors"
)

// RedisStore implements Store against Redis, the persistent KV capability
// this deployment injects (see package doc). Each job is one key
// ("forge:job:<id>") holding the JSON-serialized record; a sorted set
// ("forge:jobs:<type>") indexes IDs by creation time for List.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func jobKey(id string) string { return "forge:job:" + id }
func jobIndexKey(typ Type) string {
	if typ == "" {
		return "forge:jobs:all"
	}
	return "forge:jobs:" + string(typ)
}

func (s *RedisStore) Save(ctx context.Context, id string, record Job) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, jobKey(id), data, 0)
	score := float64(record.CreatedAt.UnixNano())
	pipe.ZAdd(ctx, jobIndexKey("all"), redis.Z{Score: score, Member: id})
	pipe.ZAdd(ctx, jobIndexKey(record.Type), redis.Z{Score: score, Member: id})
	if _, err := pipe.Exec(ctx); err != nil {
		return ferrors.Wrap(ferrors.KindQueueTransient, "save job", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (Job, bool, error) {
	data, err := s.rdb.Get(ctx, jobKey(id)).Bytes()
	if err == redis.Nil {
		return Job{}, false, nil
	}
	if err != nil {
		return Job{}, false, ferrors.Wrap(ferrors.KindQueueTransient, "get job", err)
	}
	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return Job{}, false, fmt.Errorf("unmarshal job %s: %w", id, err)
	}
	return j, true, nil
}

// UpdateStatus performs a read-modify-write guarded by a WATCH
// transaction so concurrent updates to distinct fields of the same job
// don't clobber each other's writes silently (the job record itself is
// still last-writer-wins across the whole blob, matching the
// collaborator-record behavior documented in §9 — see DESIGN.md).
func (s *RedisStore) UpdateStatus(ctx context.Context, id string, status Status, patch Patch) (Job, error) {
	var updated Job
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, jobKey(id)).Bytes()
		if err == redis.Nil {
			return ferrors.NotFound("job " + id)
		}
		if err != nil {
			return err
		}
		var j Job
		if err := json.Unmarshal(data, &j); err != nil {
			return err
		}
		updated = patch.Apply(j, status)
		out, err := json.Marshal(updated)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, jobKey(id), out, 0)
			return nil
		})
		return err
	}, jobKey(id))
	if err != nil {
		if fe, ok := ferrors.As(err); ok {
			return Job{}, fe
		}
		return Job{}, ferrors.Wrap(ferrors.KindQueueTransient, "update job status", err)
	}
	return updated, nil
}

func (s *RedisStore) List(ctx context.Context, typ Type, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 100
	}
	ids, err := s.rdb.ZRevRange(ctx, jobIndexKey(typ), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, ferrors.Wrap(ferrors.KindQueueTransient, "list jobs", err)
	}
	out := make([]Job, 0, len(ids))
	for _, id := range ids {
		j, ok, err := s.Get(ctx, id)
		if err != nil || !ok {
			continue
		}
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	return out, nil
}

// RedisCollaboratorStore implements CollaboratorStore against Redis hash
// records, one hash field per id within a per-kind hash key.
type RedisCollaboratorStore struct {
	rdb *redis.Client
}

func NewRedisCollaboratorStore(rdb *redis.Client) *RedisCollaboratorStore {
	return &RedisCollaboratorStore{rdb: rdb}
}

func collaboratorKey(kind string) string { return "forge:collab:" + kind }

func (s *RedisCollaboratorStore) Save(ctx context.Context, kind, id string, record map[string]any) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.rdb.HSet(ctx, collaboratorKey(kind), id, data).Err()
}

func (s *RedisCollaboratorStore) Get(ctx context.Context, kind, id string) (map[string]any, bool, error) {
	data, err := s.rdb.HGet(ctx, collaboratorKey(kind), id).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, false, err
	}
	return m, true, nil
}

func (s *RedisCollaboratorStore) Delete(ctx context.Context, kind, id string) error {
	return s.rdb.HDel(ctx, collaboratorKey(kind), id).Err()
}

func (s *RedisCollaboratorStore) List(ctx context.Context, kind string, limit int) ([]map[string]any, error) {
	all, err := s.rdb.HGetAll(ctx, collaboratorKey(kind)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(all))
	for _, data := range all {
		var m map[string]any
		if err := json.Unmarshal([]byte(data), &m); err != nil {
			continue
		}
		out = append(out, m)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
