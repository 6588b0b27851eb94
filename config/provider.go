package config

import (
	"os"
	"sync"
)

var (
	providerOnce   sync.Once
	providerConfig *ProviderConfig
)

// ProviderConfig points at the OpenAI-compatible generation provider.
type ProviderConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

func GetProviderConfig() *ProviderConfig {
	providerOnce.Do(func() {
		loadEnv()

		providerConfig = &ProviderConfig{
			BaseURL: getenv("GENERATION_BASE_URL", "https://api.openai.com/v1"),
			APIKey:  os.Getenv("GENERATION_API_KEY"),
			Model:   getenv("GENERATION_MODEL", "gpt-4o-mini"),
		}
	})
	return providerConfig
}
