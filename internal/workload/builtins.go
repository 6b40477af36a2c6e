package workload

import (
	"fmt"
	"os"
	"runtime"
	"sort"
	"time"
)

// builtins maps names to the functions executed inside the sandboxed
// child process. Each returns the process exit code. Together they
// cover the outcome space the certifier has to handle: clean runs,
// memory pressure, nondeterministic failure, hard crashes, and hangs
// that only the sandbox timeout ends.
var builtins = map[string]func() int{
	"spin":   runSpin,
	"alloc":  runAlloc,
	"flaky":  runFlaky,
	"crash":  runCrash,
	"hang":   runHang,
	"primes": runPrimes,
}

// IsBuiltin reports whether name is a synthetic workload.
func IsBuiltin(name string) bool {
	_, ok := builtins[name]
	return ok
}

// Builtins returns the synthetic workload names, sorted.
func Builtins() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RunBuiltin executes a synthetic workload in the current process and
// returns its exit code. The CLI dispatches here when the sandbox
// re-enters the explorer binary.
func RunBuiltin(name string) int {
	fn, ok := builtins[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown builtin workload %q\n", name)
		return 64
	}
	return fn()
}

// runSpin burns CPU for a fixed wall-clock window.
func runSpin() int {
	spinFor(60 * time.Millisecond)
	return 0
}

// runAlloc touches 32MB of pages and holds them briefly.
func runAlloc() int {
	const size = 32 << 20
	buf := make([]byte, size)
	for i := 0; i < size; i += 4096 {
		buf[i] = byte(i)
	}
	time.Sleep(50 * time.Millisecond)
	runtime.KeepAlive(buf)
	return 0
}

// runFlaky fails roughly one run in three.
func runFlaky() int {
	if time.Now().UnixNano()%3 == 0 {
		fmt.Fprintln(os.Stderr, "flaky workload: failing this run")
		return 1
	}
	spinFor(20 * time.Millisecond)
	return 0
}

// runCrash always exits non-zero.
func runCrash() int {
	fmt.Fprintln(os.Stderr, "crash workload: exiting 2")
	return 2
}

// runHang sleeps far past any sane sandbox timeout.
func runHang() int {
	time.Sleep(10 * time.Minute)
	return 0
}

// runPrimes counts primes below 20000 by trial division.
func runPrimes() int {
	count := 0
	for n := 2; n < 20000; n++ {
		prime := true
		for d := 2; d*d <= n; d++ {
			if n%d == 0 {
				prime = false
				break
			}
		}
		if prime {
			count++
		}
	}
	fmt.Println(count)
	return 0
}

// spinSink defeats elimination of the spin loop.
var spinSink int

func spinFor(d time.Duration) {
	deadline := time.Now().Add(d)
	x := 0
	for time.Now().Before(deadline) {
		x++
	}
	spinSink = x
}
