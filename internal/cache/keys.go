package cache

import (
	"fmt"

	"github.com/google/uuid"
)

// WakeChannel is the pub/sub channel that tells every worker pool a job was queued.
const WakeChannel = "analysis:wake"

func ResultKey(sessionID uuid.UUID) string {
	return fmt.Sprintf("analysis:result:%s", sessionID)
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}
