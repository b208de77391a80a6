package protocol

import "time"

var defaultTTLs = map[string]time.Duration{
	TypeReportCreate:   5 * time.Minute,
	TypeReportAccepted: 10 * time.Minute,
	TypeReportRejected: 10 * time.Minute,

	// Transition notices are replayed from the outbox; they must outlive broker outages.
	TypeTransition: 24 * time.Hour,
}

// FallbackTTL is used when no specific TTL is configured.
const FallbackTTL = 10 * time.Minute

// DefaultTTLFor returns the default TTL for a message type.
func DefaultTTLFor(msgType string) time.Duration {
	if ttl, ok := defaultTTLs[msgType]; ok {
		return ttl
	}
	return FallbackTTL
}

// IsExpired reports whether the envelope has passed its expiry time.
func IsExpired(env *Envelope) bool {
	return expired(env.ExpiresAt)
}

// IsExpiredHeader checks expiry using only the raw header.
func IsExpiredHeader(hdr *RawHeader) bool {
	return expired(hdr.ExpiresAt)
}

func expired(at time.Time) bool {
	if at.IsZero() {
		return false
	}
	return time.Now().UTC().After(at)
}
