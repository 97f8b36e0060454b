package reliability

import "time"

// IsRetryableHTTPStatus reports whether an HTTP status from a speech service
// is worth retrying. Auth and other client errors are not.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// IsRetryableRealtimeMessageType reports whether an error message_type sent
// over the streaming TTS websocket indicates a transient condition.
func IsRetryableRealtimeMessageType(messageType string) bool {
	switch messageType {
	case "rate_limited", "resource_exhausted", "queue_overflow", "error":
		return true
	default:
		return false
	}
}

// ExponentialBackoff doubles base per attempt, capped at cap. No jitter.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}
