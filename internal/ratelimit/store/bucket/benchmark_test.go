package bucket

import (
	"context"
	"strconv"
	"testing"
	"time"
)

func BenchmarkInMemoryAllow(b *testing.B) {
	store := NewInMemoryBucketStore()
	ctx := context.Background()

	for b.Loop() {
		_, _ = store.Allow(ctx, "rl:email:bench", 1000, time.Minute)
	}
}

func BenchmarkInMemoryAllow_Parallel(b *testing.B) {
	store := NewInMemoryBucketStore()
	ctx := context.Background()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_, _ = store.Allow(ctx, "rl:email:bench", 1000, time.Minute)
		}
	})
}

func BenchmarkInMemoryAllow_HighCardinality(b *testing.B) {
	store := NewInMemoryBucketStore()
	ctx := context.Background()

	for i := 0; b.Loop(); i++ {
		_, _ = store.Allow(ctx, "rl:ip:"+strconv.Itoa(i%10000), 10, time.Minute)
	}
}
