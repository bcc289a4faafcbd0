// Package redisstore backs the idempotency ledger with Redis. Claim expiry
// rides on key TTLs, so there is no purge sweep to run.
package redisstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/goliatone/go-billing-webhooks/core"
)

const keyPrefix = "webhooks:claim:"

// finalizeScript promotes a pending claim to a terminal status while
// preserving the remaining TTL. Terminal claims are left untouched so the
// first finalize wins.
var finalizeScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if not current then return 0 end
local sep = string.find(current, '|', 1, true)
if not sep then return 0 end
if string.sub(current, 1, sep - 1) ~= 'pending' then return 0 end
local next = ARGV[1] .. string.sub(current, sep)
local ttl = redis.call('PTTL', KEYS[1])
if ttl > 0 then
  redis.call('SET', KEYS[1], next, 'PX', ttl)
else
  redis.call('SET', KEYS[1], next)
end
return 1
`)

// releaseScript drops a claim only while it is still pending; releasing a
// terminal claim would reopen the dedup window.
var releaseScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if not current then return 0 end
if string.sub(current, 1, 8) ~= 'pending|' then return 0 end
return redis.call('DEL', KEYS[1])
`)

type ClaimStore struct {
	client redis.UniversalClient
	now    func() time.Time
}

func NewClaimStore(client redis.UniversalClient) (*ClaimStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redisstore: redis client is required")
	}
	return &ClaimStore{
		client: client,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *ClaimStore) Reserve(
	ctx context.Context,
	providerID, eventID string,
	ttl time.Duration,
) (core.Reservation, error) {
	if s == nil || s.client == nil {
		return core.Reservation{}, fmt.Errorf("redisstore: claim store is not configured")
	}
	key, err := claimKey(providerID, eventID)
	if err != nil {
		return core.Reservation{}, err
	}
	if ttl <= 0 {
		ttl = core.DefaultLedgerTTL
	}
	now := s.now()

	// Two rounds cover the race where the blocking key expires between the
	// losing SETNX and the follow-up GET.
	for attempt := 0; attempt < 2; attempt++ {
		acquired, err := s.client.SetNX(ctx, key, encodeClaim(core.ReservationPending, now), ttl).Result()
		if err != nil {
			return core.Reservation{}, err
		}
		if acquired {
			return core.Reservation{Reserved: true, Status: core.ReservationPending, ReservedAt: now}, nil
		}

		value, err := s.client.Get(ctx, key).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return core.Reservation{}, err
		}
		status, reservedAt, err := decodeClaim(value)
		if err != nil {
			return core.Reservation{}, err
		}
		return core.Reservation{Reserved: false, Status: status, ReservedAt: reservedAt}, nil
	}
	return core.Reservation{}, fmt.Errorf("redisstore: claim for %q kept expiring during reserve", key)
}

func (s *ClaimStore) Finalize(
	ctx context.Context,
	providerID, eventID string,
	status core.ReservationStatus,
) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("redisstore: claim store is not configured")
	}
	if status != core.ReservationSucceeded && status != core.ReservationFailed {
		return fmt.Errorf("redisstore: finalize requires a terminal status, got %q", status)
	}
	key, err := claimKey(providerID, eventID)
	if err != nil {
		return err
	}
	return finalizeScript.Run(ctx, s.client, []string{key}, string(status)).Err()
}

func (s *ClaimStore) Release(ctx context.Context, providerID, eventID string) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("redisstore: claim store is not configured")
	}
	key, err := claimKey(providerID, eventID)
	if err != nil {
		return err
	}
	return releaseScript.Run(ctx, s.client, []string{key}).Err()
}

// PurgeExpired is a no-op: Redis evicts claims when their TTL elapses.
func (s *ClaimStore) PurgeExpired(context.Context) (int, error) {
	return 0, nil
}

func claimKey(providerID, eventID string) (string, error) {
	providerID = strings.TrimSpace(providerID)
	eventID = strings.TrimSpace(eventID)
	if providerID == "" || eventID == "" {
		return "", fmt.Errorf("redisstore: provider id and event id are required")
	}
	return keyPrefix + providerID + ":" + eventID, nil
}

func encodeClaim(status core.ReservationStatus, reservedAt time.Time) string {
	return string(status) + "|" + strconv.FormatInt(reservedAt.Unix(), 10)
}

func decodeClaim(value string) (core.ReservationStatus, time.Time, error) {
	statusPart, timePart, found := strings.Cut(value, "|")
	if !found {
		return "", time.Time{}, fmt.Errorf("redisstore: malformed claim value %q", value)
	}
	unix, err := strconv.ParseInt(timePart, 10, 64)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("redisstore: malformed claim timestamp %q", timePart)
	}
	return core.ReservationStatus(statusPart), time.Unix(unix, 0).UTC(), nil
}

var _ core.IdempotencyStore = (*ClaimStore)(nil)
