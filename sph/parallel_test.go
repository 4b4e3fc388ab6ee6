package sph

import (
	"sync/atomic"
	"testing"
)

func TestPool_ForCoversRange(t *testing.T) {
	for _, workers := range []int{1, 3, 8} {
		pool := NewPool(workers)

		n := 1003
		hits := make([]int32, n)
		pool.For(n, func(start, end int) {
			for i := start; i < end; i++ {
				atomic.AddInt32(&hits[i], 1)
			}
		})
		pool.Close()

		for i, h := range hits {
			if h != 1 {
				t.Fatalf("workers=%d: index %d visited %d times", workers, i, h)
			}
		}
	}
}

func TestPool_NilRunsInline(t *testing.T) {
	var pool *Pool
	sum := 0
	pool.For(10, func(start, end int) {
		for i := start; i < end; i++ {
			sum += i
		}
	})
	if sum != 45 {
		t.Errorf("sum = %d, want 45", sum)
	}
	if pool.Workers() != 1 {
		t.Errorf("nil pool Workers = %d, want 1", pool.Workers())
	}
	pool.Close()
}

func TestPool_CloseIdempotent(t *testing.T) {
	pool := NewPool(2)
	pool.For(200, func(start, end int) {})
	pool.Close()
	pool.Close()

	// Passes after Close still run, inline.
	var count int64
	pool.For(200, func(start, end int) {
		atomic.AddInt64(&count, int64(end-start))
	})
	if count != 200 {
		t.Errorf("count after Close = %d, want 200", count)
	}
}
