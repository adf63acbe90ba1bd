package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func SubmissionStatusKey(id uuid.UUID) string {
	return fmt.Sprintf("submission:%s", id)
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}
