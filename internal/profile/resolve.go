package profile

import (
	"fmt"
	"os"
)

// EnvVar names the environment variable that selects a profile.
const EnvVar = "TEAMSYNC_PROFILE"

// Resolve determines the profile ID to use.
// Priority: explicit > TEAMSYNC_PROFILE env > "default"
func Resolve(explicit string) (string, error) {
	if explicit != "" {
		if err := Validate(explicit); err != nil {
			return "", fmt.Errorf("invalid profile ID %q: %w", explicit, err)
		}
		return explicit, nil
	}

	if env := os.Getenv(EnvVar); env != "" {
		if err := Validate(env); err != nil {
			return "", fmt.Errorf("invalid %s %q: %w", EnvVar, env, err)
		}
		return env, nil
	}

	return DefaultID, nil
}
