package bucketing

import (
	"fmt"
	"hash"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"

	"security-monitor/internal/config"
)

// BucketingManager produces the non-cryptographic digests used across the
// engine: location hashes, user-agent hashes, and storage buckets for
// identities and events. Murmur3 hashers are pooled to avoid allocation
// overhead on the hot analysis path.
type BucketingManager struct {
	userBuckets int
	hasherPool  sync.Pool
	config      *config.Config
}

func NewBucketingManager(cfg *config.Config) *BucketingManager {
	bm := &BucketingManager{
		userBuckets: cfg.Bucketing.UserBuckets,
		config:      cfg,
	}

	bm.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}

	return bm
}

// LocationHash digests rounded coordinates plus country/city into the hash
// used for known-location membership. Coordinates are rounded to two decimal
// places (~1 km) so jitter in provider data maps to the same location.
func (bm *BucketingManager) LocationHash(latitude, longitude float64, country, city string) string {
	key := fmt.Sprintf("%.2f:%.2f:%s:%s", latitude, longitude, country, city)
	return fmt.Sprintf("%016x", bm.getHash(key))
}

// UserAgentHash digests a full user-agent string for baseline membership.
func (bm *BucketingManager) UserAgentHash(userAgent string) string {
	return fmt.Sprintf("%016x", bm.getHash(userAgent))
}

// GetIdentityBucket returns the storage partition bucket for an identity
// key (0 to userBuckets-1).
func (bm *BucketingManager) GetIdentityBucket(identityKey string) int {
	return bm.getBucket(identityKey, bm.userBuckets)
}

// GetDateBucket returns the UTC date partition for event storage.
func (bm *BucketingManager) GetDateBucket(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func (bm *BucketingManager) getBucket(key string, numBuckets int) int {
	if numBuckets <= 0 {
		return 0
	}
	return int(bm.getHash(key) % uint64(numBuckets))
}

func (bm *BucketingManager) getHash(key string) uint64 {
	hasher := bm.hasherPool.Get().(hash.Hash64)
	defer bm.hasherPool.Put(hasher)

	hasher.Reset()
	hasher.Write([]byte(key))
	return hasher.Sum64()
}
