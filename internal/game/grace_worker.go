package game

import (
	"context"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const graceKey = "disconnect:grace"

// runGraceSweep expires disconnect grace windows. Each member is
// "playerID:version"; downstream cleanup runs only when the player's
// session version is unchanged, meaning no rebind won the race.
func (gm *GameManager) runGraceSweep(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	log.Println("[GRACE] Disconnect grace sweep started")
	for {
		select {
		case <-ctx.Done():
			log.Println("[GRACE] Disconnect grace sweep stopped")
			return
		case <-ticker.C:
			gm.sweepGrace(ctx)
		}
	}
}

func (gm *GameManager) sweepGrace(ctx context.Context) {
	nowMs := gm.cacheNowMs(ctx)
	members, err := gm.rdb.ZRangeByScore(ctx, graceKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(nowMs, 10),
	}).Result()
	if err != nil || len(members) == 0 {
		return
	}

	for _, member := range members {
		// ZRem is the claim; a sibling instance sweeping the same member
		// sees 0 removed and skips it.
		removed, err := gm.rdb.ZRem(ctx, graceKey, member).Result()
		if err != nil || removed == 0 {
			continue
		}

		idx := strings.LastIndex(member, ":")
		if idx <= 0 {
			continue
		}
		playerID := member[:idx]
		version, err := strconv.ParseInt(member[idx+1:], 10, 64)
		if err != nil {
			continue
		}

		current, err := gm.rdb.Get(ctx, "session:version:"+playerID).Int64()
		if err == nil && current > version {
			continue // Rebound within the window.
		}

		log.Printf("[GRACE] Grace window expired for player %s", playerID)
		gm.handleDisconnectExpired(playerID)
	}
}
