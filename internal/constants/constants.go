// Package constants holds small cross-package numeric defaults that
// don't belong to any single package's config.
package constants

import "time"

// DefaultConnectionTimeout bounds how long an SSH dial waits before
// giving up, used by internal/sshpool.
const DefaultConnectionTimeout = 10 * time.Second
