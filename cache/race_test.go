package cache

import (
	"context"
	"math/rand"
	"runtime"
	"strconv"
	"sync"
	"testing"
	"time"
)

// A mixed workload of concurrent Put/Set/Get/Remove/GetOrCreate on random
// ids under a byte budget. Should pass under `-race` without reports.
func TestRace_Basic(t *testing.T) {
	c := New(Options{MaxBytes: 1 << 20, Shards: 8})
	t.Cleanup(func() { _ = c.Close() })

	workers := 4 * runtime.GOMAXPROCS(0)
	deadline := time.Now().Add(time.Second)

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(id int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id)*9973))
			for time.Now().Before(deadline) {
				k := "img:" + strconv.Itoa(r.Intn(5000))
				switch r.Intn(10) {
				case 0:
					c.Remove(k)
				case 1:
					c.Set(newFake(k, int64(r.Intn(4096))))
				case 2:
					_, _ = c.GetOrCreate(context.Background(), k, func(context.Context) (Entry, error) {
						return newFake(k, 512), nil
					})
				case 3, 4:
					c.Put(newFake(k, int64(r.Intn(4096))))
				default:
					c.Get(k)
				}
			}
		}(w)
	}
	wg.Wait()

	if c.Bytes() > 1<<20+8*4096 {
		t.Fatalf("resident bytes %d exceed budget", c.Bytes())
	}
}
