package models

import "time"

// LeaderLease is the TTL-based lease record held in the distributed cache
// under the "price_stream:leader" key. Exactly one process instance holds
// a non-expired lease at any time.
type LeaderLease struct {
	InstanceID string    `json:"instanceId"`
	Hostname   string    `json:"hostname"`
	Timestamp  time.Time `json:"timestamp"`
}

// Expired reports whether the lease is older than ttl as of now.
func (l LeaderLease) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(l.Timestamp) > ttl
}
