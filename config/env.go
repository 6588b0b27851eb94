package config

import (
	"log"
	"os"
	"sync"

	"github.com/joho/godotenv"
)

var envOnce sync.Once

// loadEnv loads .env once; missing files fall back to the process
// environment.
func loadEnv() {
	envOnce.Do(func() {
		if err := godotenv.Load(); err != nil {
			log.Printf("Warning: .env file not found, falling back to environment variables")
		}
	})
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
