package store

import (
	"context"
	"sync"

	"github.com/studyforge/material-pipeline/internal/models"
)

// MemoryStore is an in-process Store used by tests and local runs.
type MemoryStore struct {
	mu        sync.Mutex
	materials map[string]models.Material
	tasks     map[string]map[models.Stage]models.ProcessingTask
	jobs      map[string]models.Job
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		materials: make(map[string]models.Material),
		tasks:     make(map[string]map[models.Stage]models.ProcessingTask),
		jobs:      make(map[string]models.Job),
	}
}

func (s *MemoryStore) CreateMaterial(ctx context.Context, m *models.Material) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.materials[m.ID] = *m
	return nil
}

func (s *MemoryStore) GetMaterial(ctx context.Context, id string) (*models.Material, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.materials[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &m, nil
}

func (s *MemoryStore) UpdateMaterial(ctx context.Context, m *models.Material) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.materials[m.ID]; !ok {
		return ErrNotFound
	}
	s.materials[m.ID] = *m
	return nil
}

func (s *MemoryStore) CreateTask(ctx context.Context, t *models.ProcessingTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byStage, ok := s.tasks[t.MaterialID]
	if !ok {
		byStage = make(map[models.Stage]models.ProcessingTask)
		s.tasks[t.MaterialID] = byStage
	}
	byStage[t.Stage] = *t
	return nil
}

func (s *MemoryStore) UpdateTask(ctx context.Context, t *models.ProcessingTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byStage, ok := s.tasks[t.MaterialID]
	if !ok {
		return ErrNotFound
	}
	byStage[t.Stage] = *t
	return nil
}

func (s *MemoryStore) GetTasksForMaterial(ctx context.Context, materialID string) ([]models.ProcessingTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byStage := s.tasks[materialID]
	tasks := make([]models.ProcessingTask, 0, len(byStage))
	for _, stage := range models.Stages {
		if t, ok := byStage[stage]; ok {
			tasks = append(tasks, t)
		}
	}
	return tasks, nil
}

func (s *MemoryStore) CreateJob(ctx context.Context, j *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.ID] = *j
	return nil
}

func (s *MemoryStore) GetJob(ctx context.Context, id string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &j, nil
}

func (s *MemoryStore) UpdateJob(ctx context.Context, j *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[j.ID]; !ok {
		return ErrNotFound
	}
	s.jobs[j.ID] = *j
	return nil
}
