package utils

import (
	"os"
)

// GetEnv returns the value of the named environment variable, or def if it is unset or empty.
func GetEnv(name string, def string) string {
	if val := os.Getenv(name); val != "" {
		return val
	}
	return def
}
