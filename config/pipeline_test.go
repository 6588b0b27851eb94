package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadPipelineConfigDefaults(t *testing.T) {
	cfg, err := LoadPipelineConfig("")
	require.NoError(t, err)

	assert.Equal(t, 4000, cfg.ChunkSize)
	assert.Equal(t, 6000, cfg.QuestionChunkThreshold)
	assert.Equal(t, 5, cfg.QuestionsPerChunk)
	assert.Equal(t, 3, cfg.Concurrency)
	assert.Equal(t, 3, cfg.GlobalConcurrency)
	assert.Equal(t, time.Second, cfg.BatchDelay)
	assert.Equal(t, 3, cfg.ChunkMaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.ChunkBaseDelay)
	assert.Equal(t, 3, cfg.JobMaxRetries)
	assert.Equal(t, 5*time.Second, cfg.JobRetryBaseDelay)
	assert.Equal(t, 2*time.Minute, cfg.StageTimeout)
	assert.Equal(t, 5, cfg.WorkerConcurrency)
	assert.Equal(t, int64(50*1024*1024), cfg.MaxFileSize)
}

func TestLoadPipelineConfigEnvOverride(t *testing.T) {
	t.Setenv("PIPELINE_CHUNK_SIZE", "2000")
	t.Setenv("PIPELINE_GLOBAL_CONCURRENCY", "8")

	cfg, err := LoadPipelineConfig("")
	require.NoError(t, err)

	assert.Equal(t, 2000, cfg.ChunkSize)
	assert.Equal(t, 8, cfg.GlobalConcurrency)
}
