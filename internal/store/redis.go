package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/studyforge/material-pipeline/internal/models"
)

// terminalJobTTL keeps finished job records around long enough for
// clients polling after completion.
const terminalJobTTL = 24 * time.Hour

// RedisStore keeps records as JSON values: materials and jobs under
// plain keys, a material's tasks in one hash keyed by stage name.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func materialKey(id string) string { return fmt.Sprintf("material:%s", id) }
func tasksKey(id string) string    { return fmt.Sprintf("material_tasks:%s", id) }
func jobKey(id string) string      { return fmt.Sprintf("job:%s", id) }

func (s *RedisStore) CreateMaterial(ctx context.Context, m *models.Material) error {
	return s.setJSON(ctx, materialKey(m.ID), m, 0)
}

func (s *RedisStore) GetMaterial(ctx context.Context, id string) (*models.Material, error) {
	var m models.Material
	if err := s.getJSON(ctx, materialKey(id), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *RedisStore) UpdateMaterial(ctx context.Context, m *models.Material) error {
	return s.setJSON(ctx, materialKey(m.ID), m, 0)
}

func (s *RedisStore) CreateTask(ctx context.Context, t *models.ProcessingTask) error {
	return s.writeTask(ctx, t)
}

func (s *RedisStore) UpdateTask(ctx context.Context, t *models.ProcessingTask) error {
	return s.writeTask(ctx, t)
}

func (s *RedisStore) writeTask(ctx context.Context, t *models.ProcessingTask) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}
	if err := s.client.HSet(ctx, tasksKey(t.MaterialID), string(t.Stage), data).Err(); err != nil {
		return fmt.Errorf("failed to save task: %w", err)
	}
	return nil
}

func (s *RedisStore) GetTasksForMaterial(ctx context.Context, materialID string) ([]models.ProcessingTask, error) {
	fields, err := s.client.HGetAll(ctx, tasksKey(materialID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load tasks: %w", err)
	}

	tasks := make([]models.ProcessingTask, 0, len(fields))
	for _, stage := range models.Stages {
		raw, ok := fields[string(stage)]
		if !ok {
			continue
		}
		var t models.ProcessingTask
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			return nil, fmt.Errorf("failed to unmarshal task for stage %s: %w", stage, err)
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func (s *RedisStore) CreateJob(ctx context.Context, j *models.Job) error {
	return s.setJSON(ctx, jobKey(j.ID), j, 0)
}

func (s *RedisStore) GetJob(ctx context.Context, id string) (*models.Job, error) {
	var j models.Job
	if err := s.getJSON(ctx, jobKey(id), &j); err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *RedisStore) UpdateJob(ctx context.Context, j *models.Job) error {
	var ttl time.Duration
	if j.Status == models.JobCompleted || j.Status == models.JobFailed {
		ttl = terminalJobTTL
	}
	return s.setJSON(ctx, jobKey(j.ID), j, ttl)
}

func (s *RedisStore) setJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save record: %w", err)
	}
	return nil
}

func (s *RedisStore) getJSON(ctx context.Context, key string, v interface{}) error {
	data, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load record: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return nil
}
