package subscription

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fatflowers/subtrack/internal/models"
	"github.com/fatflowers/subtrack/internal/platform/cache"
	"github.com/fatflowers/subtrack/pkg/logctx"
)

// listCache keeps each user's list under a versioned key. Writers bump the
// version after their commit, so a list filled from a pre-commit read lands
// on a key nobody reads anymore.
type listCache struct {
	c   cache.Cache
	ttl time.Duration
	log *zap.SugaredLogger
}

func versionKey(userID string) string { return "subscriptions:" + userID + ":ver" }

func listKey(userID string, version int64) string {
	return fmt.Sprintf("subscriptions:%s:v%d", userID, version)
}

// get returns the cached list and the version it was looked up under.
// Cache failures are logged and reported as a miss.
func (lc *listCache) get(ctx context.Context, userID string) ([]*models.Subscription, int64, bool) {
	version, err := lc.c.Version(ctx, versionKey(userID))
	if err != nil {
		logctx.FromCtx(ctx, lc.log).Warnw("subscription cache version read failed", "user_id", userID, "error", err)
		return nil, 0, false
	}
	var rows []*models.Subscription
	found, err := lc.c.Get(ctx, listKey(userID, version), &rows)
	if err != nil {
		logctx.FromCtx(ctx, lc.log).Warnw("subscription cache read failed", "user_id", userID, "error", err)
		return nil, version, false
	}
	if !found {
		return nil, version, false
	}
	if rows == nil {
		rows = []*models.Subscription{}
	}
	return rows, version, true
}

func (lc *listCache) put(ctx context.Context, userID string, version int64, rows []*models.Subscription) {
	if err := lc.c.Set(ctx, listKey(userID, version), rows, lc.ttl); err != nil {
		logctx.FromCtx(ctx, lc.log).Warnw("subscription cache write failed", "user_id", userID, "error", err)
	}
}

// invalidate moves the user to a new version and drops the previous list.
// A racing fill of the old version may recreate it; the TTL collects that.
func (lc *listCache) invalidate(ctx context.Context, userID string) {
	version, err := lc.c.Bump(ctx, versionKey(userID))
	if err != nil {
		logctx.FromCtx(ctx, lc.log).Errorw("subscription cache invalidation failed", "user_id", userID, "error", err)
		return
	}
	if err := lc.c.Delete(ctx, listKey(userID, version-1)); err != nil {
		logctx.FromCtx(ctx, lc.log).Warnw("stale subscription list not deleted", "user_id", userID, "error", err)
	}
}
