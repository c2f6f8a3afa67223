package service

import (
	"context"
	"encoding/json"

	"github.com/outflowhq/outflow/pkg/models"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const journalKey = "outflow:tasks"

// TaskJournal mirrors task state changes into a durable store so queue
// contents survive a restart. The in-memory queue stays authoritative; the
// journal is written behind it and replayed on boot.
type TaskJournal interface {
	Record(task models.Task) error
	Remove(taskID string) error
	LoadPending() ([]models.Task, error)
}

// RedisJournal keeps one JSON snapshot per task in a Redis hash.
type RedisJournal struct {
	client *redis.Client
	ctx    context.Context
}

func NewRedisJournal(addr string) (*RedisJournal, error) {
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrap(err, "failed to connect to redis")
	}
	return &RedisJournal{client: client, ctx: ctx}, nil
}

func (j *RedisJournal) Record(task models.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return j.client.HSet(j.ctx, journalKey, task.ID, data).Err()
}

func (j *RedisJournal) Remove(taskID string) error {
	return j.client.HDel(j.ctx, journalKey, taskID).Err()
}

// LoadPending returns journaled tasks eligible for redispatch. Tasks that
// were running when the process died are included: their work never
// completed, so they go back to pending.
func (j *RedisJournal) LoadPending() ([]models.Task, error) {
	entries, err := j.client.HGetAll(j.ctx, journalKey).Result()
	if err != nil {
		return nil, err
	}
	var out []models.Task
	for id, raw := range entries {
		var task models.Task
		if err := json.Unmarshal([]byte(raw), &task); err != nil {
			return nil, errors.Wrapf(err, "corrupt journal entry %s", id)
		}
		if task.Status == models.PendingTaskStatus || task.Status == models.RunningTaskStatus {
			out = append(out, task)
		}
	}
	return out, nil
}

func (j *RedisJournal) Close() error {
	return j.client.Close()
}
