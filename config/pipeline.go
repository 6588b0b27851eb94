package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// PipelineConfig holds the processing tunables, loaded from
// configs/pipeline.yaml with environment overrides.
type PipelineConfig struct {
	ChunkSize              int           `mapstructure:"chunk_size"`
	QuestionChunkThreshold int           `mapstructure:"question_chunk_threshold"`
	QuestionsPerChunk      int           `mapstructure:"questions_per_chunk"`
	Concurrency            int           `mapstructure:"concurrency"`
	GlobalConcurrency      int           `mapstructure:"global_concurrency"`
	BatchDelay             time.Duration `mapstructure:"batch_delay"`
	ChunkMaxAttempts       int           `mapstructure:"chunk_max_attempts"`
	ChunkBaseDelay         time.Duration `mapstructure:"chunk_base_delay"`
	JobMaxRetries          int           `mapstructure:"job_max_retries"`
	JobRetryBaseDelay      time.Duration `mapstructure:"job_retry_base_delay"`
	StageTimeout           time.Duration `mapstructure:"stage_timeout"`
	WorkerConcurrency      int           `mapstructure:"worker_concurrency"`
	MaxFileSize            int64         `mapstructure:"max_file_size"`
}

// LoadPipelineConfig reads the pipeline config. A missing file is fine;
// defaults and environment variables (PIPELINE_*) cover everything.
func LoadPipelineConfig(configPath string) (*PipelineConfig, error) {
	loadEnv()

	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("pipeline")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("pipeline")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("chunk_size", 4000)
	v.SetDefault("question_chunk_threshold", 6000)
	v.SetDefault("questions_per_chunk", 5)
	v.SetDefault("concurrency", 3)
	v.SetDefault("global_concurrency", 3)
	v.SetDefault("batch_delay", time.Second)
	v.SetDefault("chunk_max_attempts", 3)
	v.SetDefault("chunk_base_delay", 2*time.Second)
	v.SetDefault("job_max_retries", 3)
	v.SetDefault("job_retry_base_delay", 5*time.Second)
	v.SetDefault("stage_timeout", 2*time.Minute)
	v.SetDefault("worker_concurrency", 5)
	v.SetDefault("max_file_size", int64(50*1024*1024))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read pipeline config: %w", err)
		}
	}

	var cfg PipelineConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pipeline config: %w", err)
	}
	return &cfg, nil
}
