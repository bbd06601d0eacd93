// Package idgen generates the UUID identifiers used for calibration
// sessions, threshold rows and incidents.
package idgen

import "github.com/google/uuid"

// New returns a random (v4) UUID string.
func New() string {
	return uuid.NewString()
}
