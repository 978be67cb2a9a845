package instance

import "os"

// GetID returns the process instance identifier used in logs and lock values.
// DYNO is set on Heroku, WORKER_ID by other schedulers.
func GetID() string {
	for _, key := range []string{"DYNO", "WORKER_ID"} {
		if id := os.Getenv(key); id != "" {
			return id
		}
	}
	return "local"
}
