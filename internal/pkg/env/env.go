package env

import (
	"log"
	"os"

	"github.com/joho/godotenv"
)

var Env map[string]string

func GetEnv(key, def string) string {
	// First check our loaded Env map
	if val, ok := Env[key]; ok {
		return val
	}
	// Fallback to OS environment variables (for Docker/tests)
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// SetupEnvFile loads the first .env file found. Deployments that configure
// everything through the process environment can run without one.
func SetupEnvFile(files ...string) {
	if len(files) == 0 {
		files = []string{
			".env",          // Current directory
			"../../.env",    // From cmd/billing to project root
			"../../../.env", // Fallback for deeper nesting
		}
	}

	for _, envFile := range files {
		loaded, err := godotenv.Read(envFile)
		if err == nil {
			Env = loaded
			return
		}
	}

	log.Printf("No .env file found, using process environment only")
	Env = map[string]string{}
}

func IsDev() bool {
	return GetEnv("APP_ENV", "prod") == "dev"
}
