package config

import "os"

// GetString retrieves an environment variable or returns a fallback when unset.
// A variable set to the empty string counts as set.
func GetString(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
