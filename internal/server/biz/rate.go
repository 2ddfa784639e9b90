package biz

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zhenzou/executors"
	"go.uber.org/fx"

	"github.com/switchyardai/switchyard/internal/log"
	"github.com/switchyardai/switchyard/internal/metrics"
	"github.com/switchyardai/switchyard/internal/pkg/xtime"
)

// acquireScript checks the window counter against the threshold and, when
// below it, increments and refreshes the TTL. One eval keeps check and
// increment atomic across instances.
var acquireScript = redis.NewScript(`
local count = tonumber(redis.call('GET', KEYS[1]) or '0')
local threshold = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])

if count >= threshold then
	return 0
end

redis.call('INCR', KEYS[1])
redis.call('EXPIRE', KEYS[1], ttl)

return 1
`)

type RateServiceParams struct {
	fx.In

	Config   Config
	Redis    *redis.Client `optional:"true"`
	Executor executors.ScheduledExecutor
}

// RateService enforces per-credential per-minute admission over a fixed
// window. With Redis the window is shared across instances; without it the
// service counts in process, and on Redis errors it degrades to the
// in-process counter with the limit halved.
type RateService struct {
	config RateConfig

	client   *redis.Client
	memory   *rpmMemory
	executor executors.ScheduledExecutor

	now func() time.Time
}

func NewRateService(params RateServiceParams) *RateService {
	cfg := params.Config.withDefaults().Rate

	return &RateService{
		config:   cfg,
		client:   params.Redis,
		memory:   newRPMMemory(cfg.MemoryMaxEntries),
		executor: params.Executor,
		now:      xtime.UTCNow,
	}
}

// Start schedules the counter sweep when running without Redis.
func (svc *RateService) Start(ctx context.Context) error {
	if svc.client != nil {
		return nil
	}

	log.Info(ctx, "rpm admission running in memory mode, limits are per instance")

	_, err := svc.executor.ScheduleFuncAtCronRate(
		svc.sweepPeriodic,
		executors.CRONRule{Expr: "*/1 * * * *"},
	)
	if err != nil {
		return fmt.Errorf("failed to schedule rpm sweep: %w", err)
	}

	return nil
}

func (svc *RateService) sweepPeriodic(ctx context.Context) {
	now := svc.now()

	svc.memory.mu.Lock()
	svc.memory.sweepLocked(ctx, now.Unix()/60, now, false)
	svc.memory.mu.Unlock()
}

// CheckAvailable reports whether the credential has admission capacity left
// without consuming any. Affinity holders are measured against the full
// limit, new callers against the reduced cap.
func (svc *RateService) CheckAvailable(ctx context.Context, credentialID string, limit *int, affinity bool) bool {
	if limit == nil {
		return true
	}

	return svc.Count(ctx, credentialID) < svc.threshold(*limit, affinity)
}

// AcquireSlot atomically claims one admission slot. A nil limit admits
// without counting.
func (svc *RateService) AcquireSlot(ctx context.Context, credentialID string, limit *int, affinity bool) (bool, error) {
	if limit == nil {
		return true, nil
	}

	now := svc.now()
	bucket := now.Unix() / 60
	threshold := svc.threshold(*limit, affinity)

	if svc.client == nil {
		admitted := svc.memory.acquire(ctx, credentialID, bucket, now, threshold)
		if !admitted {
			svc.rejected(ctx, "memory", credentialID, threshold, affinity)
		}

		return admitted, nil
	}

	result, err := acquireScript.Run(ctx, svc.client,
		[]string{counterKey(credentialID, bucket)},
		threshold,
		int(svc.config.CounterTTL.Seconds()),
	).Int()
	if err != nil {
		return svc.acquireDegraded(ctx, credentialID, bucket, now, *limit, err), nil
	}

	if result != 1 {
		svc.rejected(ctx, "redis", credentialID, threshold, affinity)
		return false, nil
	}

	return true, nil
}

// acquireDegraded counts in process with the limit halved, so several
// instances degrading at once still stay under the upstream limit.
func (svc *RateService) acquireDegraded(ctx context.Context, credentialID string, bucket int64, now time.Time, limit int, cause error) bool {
	log.Warn(ctx, "rpm admission degraded to memory mode",
		log.String("credential_id", credentialID),
		log.Cause(cause),
	)

	halved := max(1, limit/2)

	admitted := svc.memory.acquire(ctx, credentialID, bucket, now, halved)
	if !admitted {
		svc.rejected(ctx, "degraded", credentialID, halved, false)
	}

	return admitted
}

// Count returns the credential's admitted request count in the current
// window. Read errors count as zero.
func (svc *RateService) Count(ctx context.Context, credentialID string) int {
	bucket := svc.now().Unix() / 60

	if svc.client == nil {
		return svc.memory.count(credentialID, bucket)
	}

	count, err := svc.client.Get(ctx, counterKey(credentialID, bucket)).Int()
	if err != nil {
		if err != redis.Nil {
			log.Warn(ctx, "failed to read rpm counter",
				log.String("credential_id", credentialID),
				log.Cause(err),
			)
		}

		return 0
	}

	return count
}

// ResetCredential clears the credential's window counters. Best effort.
func (svc *RateService) ResetCredential(ctx context.Context, credentialID string) error {
	svc.memory.reset(credentialID)

	if svc.client == nil {
		log.Info(ctx, "rpm counter reset", log.String("credential_id", credentialID))
		return nil
	}

	deleted, err := svc.scanAndDelete(ctx, fmt.Sprintf("rpm:%s:*", credentialID))
	if err != nil {
		return fmt.Errorf("failed to reset rpm counters for %s: %w", credentialID, err)
	}

	log.Info(ctx, "rpm counter reset",
		log.String("credential_id", credentialID),
		log.Int("deleted", deleted),
	)

	return nil
}

// ResetAll clears every window counter. Best effort.
func (svc *RateService) ResetAll(ctx context.Context) error {
	cleared := svc.memory.resetAll()

	if svc.client == nil {
		log.Info(ctx, "all rpm counters reset", log.Int("deleted", cleared))
		return nil
	}

	deleted, err := svc.scanAndDelete(ctx, "rpm:*")
	if err != nil {
		return fmt.Errorf("failed to reset rpm counters: %w", err)
	}

	log.Info(ctx, "all rpm counters reset", log.Int("deleted", deleted))

	return nil
}

// scanAndDelete walks matching keys with SCAN and deletes them in batches,
// never blocking Redis with a KEYS call.
func (svc *RateService) scanAndDelete(ctx context.Context, pattern string) (int, error) {
	const batchSize = 100

	var (
		cursor  uint64
		deleted int
	)

	for {
		keys, next, err := svc.client.Scan(ctx, cursor, pattern, batchSize).Result()
		if err != nil {
			return deleted, err
		}

		for start := 0; start < len(keys); start += batchSize {
			end := min(start+batchSize, len(keys))

			if err := svc.client.Del(ctx, keys[start:end]...).Err(); err != nil {
				return deleted, err
			}

			deleted += end - start
		}

		cursor = next
		if cursor == 0 {
			return deleted, nil
		}
	}
}

// threshold is the admission cap that applies to this caller class.
func (svc *RateService) threshold(limit int, affinity bool) int {
	if affinity {
		return limit
	}

	return max(1, int(math.Floor(float64(limit)*(1-svc.config.CacheReservationRatio))))
}

func (svc *RateService) rejected(ctx context.Context, mode, credentialID string, threshold int, affinity bool) {
	metrics.RateRejection(ctx, mode)

	log.Debug(ctx, "rpm admission rejected",
		log.String("mode", mode),
		log.String("credential_id", credentialID),
		log.Int("threshold", threshold),
		log.Bool("affinity", affinity),
	)
}

func counterKey(credentialID string, bucket int64) string {
	return fmt.Sprintf("rpm:%s:%d", credentialID, bucket)
}
