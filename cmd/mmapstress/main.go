// Command mmapstress drives an mmapalloc.Allocator under several
// workloads: a basic allocate/free cycle, a concurrent pool-backed
// stress test, an rpc server/client pair exercising the allocator from
// a separate goroutine across a loopback connection, and a one-shot
// stats dump. It is a benchmarking and demonstration harness, not part
// of the allocator's own contract.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"runtime/pprof"
	"sync"
	"time"
	"unsafe"

	"github.com/shenjiangwei/mmapalloc"
	"github.com/shenjiangwei/mmapalloc/internal/region"
)

const (
	mbSize = 1024 * 1024

	minBlockSize = 4 * 1024
	maxBlockSize = 4 * mbSize

	serverAddress = "localhost:51234"
)

func main() {
	mode := flag.String("mode", "basic", "workload: basic, stress, dump, server, client")
	bestFit := flag.Bool("best-fit", false, "use best-fit search instead of first-fit in the package-level allocator (basic, dump); stress and server always use first-fit")
	workers := flag.Int("workers", 16, "concurrent goroutines for -mode=stress")
	ops := flag.Int("ops", 200000, "operations per worker for -mode=stress")
	metrics := flag.Bool("metrics", false, "serve Prometheus metrics on :2112 while running")
	cpuProfile := flag.String("cpuprofile", "", "write a CPU profile to this path")
	memProfile := flag.String("memprofile", "", "write a heap profile to this path")
	flag.Parse()

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			fmt.Fprintln(os.Stderr, "create cpu profile:", err)
			os.Exit(1)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			fmt.Fprintln(os.Stderr, "start cpu profile:", err)
			os.Exit(1)
		}
		defer pprof.StopCPUProfile()
	}

	strategy := region.Strategy(&region.FirstFit{})
	if *bestFit {
		strategy = &region.BestFit{}
	}
	mmapalloc.SetStrategy(strategy)

	if *metrics {
		stop := serveMetrics(":2112", mmapalloc.GetStats)
		defer stop()
	}

	switch *mode {
	case "basic":
		runBasic()
	case "stress":
		runStress(*workers, *ops)
	case "dump":
		dumpStats(mmapalloc.GetStats())
	case "server":
		runServer()
	case "client":
		runClient()
	default:
		fmt.Fprintf(os.Stderr, "unknown mode %q; available: basic, stress, dump, server, client\n", *mode)
		os.Exit(1)
	}

	if *memProfile != "" {
		f, err := os.Create(*memProfile)
		if err != nil {
			fmt.Fprintln(os.Stderr, "create mem profile:", err)
			os.Exit(1)
		}
		defer f.Close()
		if err := pprof.WriteHeapProfile(f); err != nil {
			fmt.Fprintln(os.Stderr, "write mem profile:", err)
		}
	}
}

func dumpStats(st mmapalloc.Stats) {
	fmt.Printf("mallocs=%d frees=%d requested=%d blocks=%d\n", st.Mallocs, st.Frees, st.Requested, st.Blocks)
}

func randomBlockSize() uintptr {
	span := maxBlockSize - minBlockSize
	return uintptr(rand.Intn(span) + minBlockSize)
}

// runBasic allocates and frees a handful of blocks directly through the
// package-level entry points, printing the stats record before and
// after — the simplest possible smoke exercise of the four operations.
func runBasic() {
	fmt.Println("running basic allocate/free cycle")

	type block struct {
		ptr  unsafe.Pointer
		size uintptr
	}

	var live []block
	for i := 0; i < 64; i++ {
		size := randomBlockSize()
		ptr, err := mmapalloc.Allocate(size)
		if err != nil || ptr == nil {
			fmt.Fprintln(os.Stderr, "allocate:", err)
			continue
		}
		live = append(live, block{ptr: ptr, size: size})
	}

	dumpStats(mmapalloc.GetStats())

	for i, b := range live {
		if i%3 == 0 {
			// exercise resize on a third of the live set before freeing
			resized, err := mmapalloc.Resize(b.ptr, b.size*2)
			if err != nil {
				fmt.Fprintln(os.Stderr, "resize:", err)
			} else {
				b.ptr = resized
			}
		}
		mmapalloc.Free(b.ptr)
	}

	dumpStats(mmapalloc.GetStats())
}

// runStress fans workers goroutines out over a shared memoryPool,
// randomly allocating and freeing — the same 70/30 allocate/free mix the
// teacher's own stress harness used.
func runStress(workers, opsPerWorker int) {
	alloc := mmapalloc.New(&region.FirstFit{})
	pool, err := newMemoryPool(alloc, rand.Intn)
	if err != nil {
		fmt.Fprintln(os.Stderr, "create memory pool:", err)
		os.Exit(1)
	}

	var wg sync.WaitGroup
	start := time.Now()
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			var mu sync.Mutex
			var liveAddrs []unsafe.Pointer
			var liveSizes []uintptr

			for i := 0; i < opsPerWorker; i++ {
				mu.Lock()
				haveLive := len(liveAddrs) > 0
				mu.Unlock()

				if rand.Float64() < 0.7 || !haveLive {
					size := randomBlockSize()
					ptr, err := pool.Allocate(size)
					if err != nil || ptr == nil {
						continue
					}
					mu.Lock()
					liveAddrs = append(liveAddrs, ptr)
					liveSizes = append(liveSizes, size)
					mu.Unlock()
					continue
				}

				mu.Lock()
				idx := rand.Intn(len(liveAddrs))
				ptr, size := liveAddrs[idx], liveSizes[idx]
				last := len(liveAddrs) - 1
				liveAddrs[idx], liveSizes[idx] = liveAddrs[last], liveSizes[last]
				liveAddrs, liveSizes = liveAddrs[:last], liveSizes[:last]
				mu.Unlock()

				pool.Free(ptr, size)
			}
		}()
	}
	wg.Wait()

	poolStats := pool.Close()
	elapsed := time.Since(start)

	fmt.Printf("stress test: %d workers x %d ops in %v\n", workers, opsPerWorker, elapsed)
	fmt.Printf("pool hits=%d misses=%d free-hits=%d free-misses=%d\n",
		poolStats.PoolHits, poolStats.PoolMisses, poolStats.PoolFreeHits, poolStats.PoolFreeMisses)
	dumpStats(alloc.Stats())
}

func runServer() {
	server, err := newPoolServer()
	if err != nil {
		fmt.Fprintln(os.Stderr, "start server:", err)
		os.Exit(1)
	}
	fmt.Println("serving on", serverAddress)
	if err := server.Serve(serverAddress); err != nil {
		fmt.Fprintln(os.Stderr, "serve:", err)
		os.Exit(1)
	}
}

// runClient dials a server assumed already running at serverAddress
// (typically started separately with -mode=server) and drives a short
// allocate/free sequence through it.
func runClient() {
	client, err := newPoolClient(1, serverAddress)
	if err != nil {
		fmt.Fprintln(os.Stderr, "dial server:", err)
		os.Exit(1)
	}
	defer client.Close()

	var ptrs []unsafe.Pointer
	var sizes []uintptr
	for i := 0; i < 32; i++ {
		size := randomBlockSize()
		ptr, err := client.Allocate(size)
		if err != nil {
			fmt.Fprintln(os.Stderr, "allocate:", err)
			continue
		}
		ptrs = append(ptrs, ptr)
		sizes = append(sizes, size)
	}

	if st, err := client.Stats(); err == nil {
		dumpStats(st)
	}

	for i, ptr := range ptrs {
		if err := client.Free(ptr, sizes[i]); err != nil {
			fmt.Fprintln(os.Stderr, "free:", err)
		}
	}
}
