package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"tradeengine/internal/metrics"
	"tradeengine/internal/models"
)

const (
	leaderKey = "price_stream:leader"
	leaseTTL  = 30 * time.Second
)

// LeaderElection arbitrates which process instance owns the exclusive
// exchange websocket connection. Exactly one instance holds a
// non-expired lease at any time; all others are followers.
type LeaderElection struct {
	client     *Client
	instanceID string
	hostname   string
	log        *zap.SugaredLogger

	mu       sync.RWMutex
	isLeader bool
	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewLeaderElection(client *Client, instanceID, hostname string, log *zap.SugaredLogger) *LeaderElection {
	return &LeaderElection{
		client:     client,
		instanceID: instanceID,
		hostname:   hostname,
		log:        log,
		stopCh:     make(chan struct{}),
	}
}

// Become attempts a single atomic read-modify-write against the shared
// lease key. If the key is absent, it is created with this instance as
// leader. If present but expired, this instance takes over. Otherwise
// the caller becomes a follower.
func (le *LeaderElection) Become(ctx context.Context) (bool, error) {
	lease := models.LeaderLease{
		InstanceID: le.instanceID,
		Hostname:   le.hostname,
		Timestamp:  time.Now().UTC(),
	}

	ok, err := le.client.SetNX(ctx, leaderKey, lease, leaseTTL)
	if err != nil {
		return false, err
	}
	if ok {
		le.setLeader(true)
		return true, nil
	}

	var existing models.LeaderLease
	err = le.client.GetJSON(ctx, leaderKey, &existing)
	if errors.Is(err, ErrNil) {
		// Key expired between SetNX and Get; retry once.
		ok, err = le.client.SetNX(ctx, leaderKey, lease, leaseTTL)
		if err != nil {
			return false, err
		}
		le.setLeader(ok)
		return ok, nil
	}
	if err != nil {
		return false, err
	}

	if existing.Expired(time.Now().UTC(), leaseTTL) {
		if err := le.client.SetJSON(ctx, leaderKey, lease, leaseTTL); err != nil {
			return false, err
		}
		le.setLeader(true)
		return true, nil
	}

	le.setLeader(existing.InstanceID == le.instanceID)
	return le.IsLeader(), nil
}

// RunHeartbeat renews the lease every ttl*0.3 for as long as this
// instance believes it is leader, demoting to follower on a failed
// renewal; while a follower it retries Become on the same interval. It
// returns on ctx cancellation or Stop without changing the leader flag.
// Intended to be run in its own goroutine.
func (le *LeaderElection) RunHeartbeat(ctx context.Context) {
	interval := time.Duration(float64(leaseTTL) * 0.3)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-le.stopCh:
			return
		case <-ticker.C:
			if !le.IsLeader() {
				if _, err := le.Become(ctx); err != nil && le.log != nil {
					le.log.Warnw("leader election retry failed", "error", err)
				}
				continue
			}
			if err := le.renew(ctx); err != nil {
				if le.log != nil {
					le.log.Warnw("lease heartbeat failed, demoting to follower", "error", err)
				}
				le.setLeader(false)
			}
		}
	}
}

func (le *LeaderElection) renew(ctx context.Context) error {
	lease := models.LeaderLease{
		InstanceID: le.instanceID,
		Hostname:   le.hostname,
		Timestamp:  time.Now().UTC(),
	}
	return le.client.SetJSON(ctx, leaderKey, lease, leaseTTL)
}

func (le *LeaderElection) setLeader(v bool) {
	le.mu.Lock()
	le.isLeader = v
	le.mu.Unlock()
	if v {
		metrics.LeaderElected.Set(1)
	} else {
		metrics.LeaderElected.Set(0)
	}
}

func (le *LeaderElection) IsLeader() bool {
	le.mu.RLock()
	defer le.mu.RUnlock()
	return le.isLeader
}

// Stop ends the heartbeat loop; it does not release the lease, which is
// left to expire naturally so a follower can take over cleanly.
func (le *LeaderElection) Stop() {
	le.stopOnce.Do(func() { close(le.stopCh) })
}
