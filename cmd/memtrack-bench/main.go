// Copyright 2025 The MemTrack Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

// memtrack-bench simulates a query runtime's memory accounting: a
// process-wide tracker, per-query shared trackers obtained through a
// registry, and per-worker operator trackers doing scratch allocations
// and cache fills, with reclamation kicking in when query limits are hit.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/logtags"
	"github.com/meridiandb/memtrack/pkg/memtrack"
	"github.com/meridiandb/memtrack/pkg/util/humanizeutil"
	"github.com/meridiandb/memtrack/pkg/util/log"
	"github.com/meridiandb/memtrack/pkg/util/metric"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	processLimit = int64(256 << 20)
	queryLimit   = int64(32 << 20)
	numQueries   = 4
	numWorkers   = 4
	duration     = 2 * time.Second
	verbosity    = 0
)

// queryCache is a reclaimable per-query buffer shared by the query's
// workers. Its reclaim hook empties it entirely.
type queryCache struct {
	mu  sync.Mutex
	acc memtrack.BoundAccount
}

func (c *queryCache) fill(n int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acc.Grow(n) == nil
}

// empty is the reclaim hook. A filler may be holding the cache lock while
// its Grow triggers reclamation, so this must not block on it; reclaim
// functions are best-effort.
func (c *queryCache) empty() {
	if !c.mu.TryLock() {
		return
	}
	defer c.mu.Unlock()
	c.acc.Clear()
}

// clear empties the cache unconditionally. Only for use once the query's
// workers have stopped.
func (c *queryCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acc.Clear()
}

func runBench(cmd *cobra.Command, args []string) error {
	log.SetVerbosity(int32(verbosity))
	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	registry := metric.NewRegistry()
	process := memtrack.New("process", processLimit, nil)
	process.RegisterMetrics(registry, "memtrack.process")
	consumeRate := registry.Rate("memtrack.consume-rate")

	shared := memtrack.NewSharedRegistry[int]()

	type queryState struct {
		owner *memtrack.Handle[int]
		cache *queryCache
	}
	states := make([]queryState, 0, numQueries)

	var rejected atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	for q := 0; q < numQueries; q++ {
		q := q
		// The query owner holds one handle for the query's whole run and
		// wires up the reclaimable cache.
		owner := shared.GetOrCreate(q, queryLimit, process)
		cache := &queryCache{acc: owner.Tracker().MakeBoundAccount()}
		owner.Tracker().AddReclaimFunc(cache.empty)
		states = append(states, queryState{owner: owner, cache: cache})

		for w := 0; w < numWorkers; w++ {
			w := w
			g.Go(func() error {
				ctx := logtags.AddTag(ctx, "q", q)
				ctx = logtags.AddTag(ctx, "w", w)

				// Each fragment looks up the shared tracker by query id.
				h := shared.GetOrCreate(q, queryLimit, process)
				defer h.Release()
				op := memtrack.New(fmt.Sprintf("q%d/op%d", q, w), -1, h.Tracker())
				defer op.UnregisterFromParent()
				acc := op.MakeBoundAccount()
				defer acc.Close()

				rng := rand.New(rand.NewSource(int64(q)<<32 | int64(w)))
				for ctx.Err() == nil {
					sz := int64(rng.Intn(1 << 16))
					if rng.Intn(4) == 0 {
						// Cache fills are allowed to fail once the
						// query's reclaim has nothing left to give.
						if cache.fill(sz) {
							consumeRate.Add(sz)
						} else {
							rejected.Add(1)
						}
						continue
					}
					if err := acc.Grow(sz); err != nil {
						rejected.Add(1)
						if log.V(1) {
							log.Infof(ctx, "scratch allocation refused: %v", err)
						}
						continue
					}
					consumeRate.Add(sz)
					acc.Shrink(sz)
				}
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return err
	}
	for _, s := range states {
		s.cache.clear()
		s.owner.Release()
	}

	fmt.Println(process.LogUsage(""))
	fmt.Printf("\nrejected allocations: %d\n", rejected.Load())
	fmt.Printf("process peak: %s\n\n", humanizeutil.IBytes(process.PeakConsumption()))

	exporter := metric.MakePrometheusExporter()
	exporter.ScrapeRegistry(registry)
	return exporter.PrintAsText(os.Stdout)
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "memtrack-bench",
		Short: "simulate hierarchical memory accounting under load",
		RunE:  runBench,
		Args:  cobra.NoArgs,
	}
	f := rootCmd.Flags()
	f.Var(humanizeutil.NewBytesValue(&processLimit), "limit",
		"process-wide byte limit")
	f.Var(humanizeutil.NewBytesValue(&queryLimit), "query-limit",
		"per-query byte limit")
	f.IntVar(&numQueries, "queries", numQueries, "number of concurrent queries")
	f.IntVar(&numWorkers, "workers", numWorkers, "workers (fragments) per query")
	f.DurationVar(&duration, "duration", duration, "how long to run")
	f.IntVar(&verbosity, "v", verbosity, "log verbosity")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
