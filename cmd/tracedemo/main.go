// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// tracedemo drives the tracer end to end: it brings up the ambient stack,
// starts per-shard tracing across a small fleet of harness shards, runs a
// handful of representative workloads on each one, stops tracing, and
// reports where the per-shard trace files landed. It also runs the
// classic AB/BA mutex deadlock against the in-process scanner before any
// shard's tracer is started: a synthetic load generator for the real
// tracer packages, not a production surface.
package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/NVIDIA/shardtrace/conf"
	"github.com/NVIDIA/shardtrace/deadlock"
	"github.com/NVIDIA/shardtrace/harness"
	"github.com/NVIDIA/shardtrace/lifecycle"
	"github.com/NVIDIA/shardtrace/logger"
	"github.com/NVIDIA/shardtrace/shardtracer"
)

const defaultShardCount = 4

func usage(file *os.File) {
	fmt.Fprintf(file, "Usage:\n")
	fmt.Fprintf(file, "    %v output-dir [shard-count] [section.option=value]*\n", os.Args[0])
	fmt.Fprintf(file, "  where:\n")
	fmt.Fprintf(file, "    output-dir              directory the per-shard trace files are written to\n")
	fmt.Fprintf(file, "    shard-count             number of simulated shards (default %d)\n", defaultShardCount)
	fmt.Fprintf(file, "    [section.option=value]* optional conf overrides, e.g. Tracer.WireFormat=binary\n")
}

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(1)
	}

	outputDir := os.Args[1]
	shardCount := uint64(defaultShardCount)
	argStart := 2
	if len(os.Args) > 2 {
		if n, parseErr := strconv.ParseUint(os.Args[2], 10, 64); parseErr == nil && n > 0 {
			shardCount = n
			argStart = 3
		}
	}

	logger.Up(true)

	confMap := conf.MakeConfMap()
	if err := confMap.UpdateFromStrings([]string{
		fmt.Sprintf("Tracer.OutputDir=%v", outputDir),
		"Deadlock.MaxInactivePeriod=200ms",
	}); err != nil {
		fmt.Fprintf(os.Stderr, "confMap.UpdateFromStrings() failed: %v\n", err)
		os.Exit(1)
	}
	if len(os.Args) > argStart {
		if err := confMap.UpdateFromStrings(os.Args[argStart:]); err != nil {
			fmt.Fprintf(os.Stderr, "confMap.UpdateFromStrings(%#v) failed: %v\n", os.Args[argStart:], err)
			os.Exit(1)
		}
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "os.MkdirAll(%q) failed: %v\n", outputDir, err)
		os.Exit(1)
	}

	if err := lifecycle.Up(confMap); err != nil {
		fmt.Fprintf(os.Stderr, "lifecycle.Up() failed: %v\n", err)
		os.Exit(1)
	}
	defer lifecycle.Down(confMap)

	// The deadlock scanner demo runs before any shard's tracer is started,
	// so its trace calls (spawned across two goroutines, as a real AB/BA
	// deadlock requires) are harmless no-ops under can_trace == false
	// rather than racing shardtracer's per-goroutine sink registry.
	runDeadlockScannerDemo()

	rt := harness.NewRuntime(shardCount)
	defer rt.Close()

	if err := shardtracer.StartTracing(confMap, rt.ShardIDs(), rt.InvokeOnAll); err != nil {
		fmt.Fprintf(os.Stderr, "shardtracer.StartTracing() failed: %v\n", err)
		os.Exit(1)
	}

	shardIDs := rt.ShardIDs()
	for i, id := range shardIDs {
		shardID := id
		switch i % 3 {
		case 0:
			rt.Shard(shardID).Run(runSemaphoreWorkload)
		case 1:
			rt.Shard(shardID).Run(runBoundedConcurrency)
		case 2:
			rt.Shard(shardID).Run(runLockInheritanceAndMove)
		}
	}

	if err := shardtracer.StopTracing(confMap, rt.ShardIDs(), rt.InvokeOnAll); err != nil {
		fmt.Fprintf(os.Stderr, "shardtracer.StopTracing() failed: %v\n", err)
		os.Exit(1)
	}
	if err := shardtracer.DeleteTracing(confMap); err != nil {
		fmt.Fprintf(os.Stderr, "shardtracer.DeleteTracing() failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("tracedemo: wrote traces for %d shard(s) to %v:\n", shardCount, outputDir)
	for _, id := range shardIDs {
		fmt.Printf("  deadlock_detection_graphdump.%d.json\n", id)
	}
}

// runSemaphoreWorkload: one task acquires a one-unit semaphore, releases,
// no cycle.
func runSemaphoreWorkload() {
	sem := harness.NewSemaphore(1)
	task := harness.NewTask("semaphore_workload")
	task.Run(func() {
		sem.Wait(1, task.Vertex())
		sem.Signal(1, task.Vertex())
	})
	task.Finish()
	sem.Destroy()
}

// runBoundedConcurrency: five work items share a five-unit semaphore,
// each acquires one unit and releases it. No cycle, total signaled units
// equal total waited units.
func runBoundedConcurrency() {
	const workItems = 5
	sem := harness.NewSemaphore(workItems)
	for i := 0; i < workItems; i++ {
		task := harness.NewTask("work_item")
		task.Run(func() {
			sem.Wait(1, task.Vertex())
			sem.Signal(1, task.Vertex())
		})
		task.Finish()
	}
	sem.Destroy()
}

// runLockInheritanceAndMove exercises held-locks inheritance across a
// continuation and move-vertex attribution back to back on the same
// shard.
func runLockInheritanceAndMove() {
	idx := deadlock.NewIndex()
	m := harness.NewMutex(idx, 0x900000)

	parent := harness.NewTask("parent")
	m.Acquire(parent)

	cont := parent.Continue("cont")
	m.Release(cont)

	cont.Finish()
	parent.Finish()
	m.Delete()

	a := harness.NewPromise("moved_promise")
	b := a.MoveTo()
	b.Fulfill("resolved")
	future := harness.NewFuture(b)
	_ = future.Get()
}

// runDeadlockScannerDemo builds the classic AB/BA deadlock: task alpha
// takes mutex M1 then awaits M2; task beta takes M2 then awaits M1. After
// the configured MaxInactivePeriod, FindInactiveMutexes must report
// exactly one cycle. The deadlocked goroutines are explicitly unwound
// once the cycle has been captured, rather than leaking blocked
// goroutines past main's return.
func runDeadlockScannerDemo() {
	idx := deadlock.NewIndex()
	m1 := harness.NewMutex(idx, 0x100000)
	m2 := harness.NewMutex(idx, 0x200000)

	alpha := harness.NewTask("alpha")
	beta := harness.NewTask("beta")

	m1.Acquire(alpha)
	m2.Acquire(beta)

	alphaDone := make(chan struct{})
	go func() {
		m2.Acquire(alpha)
		close(alphaDone)
	}()
	betaDone := make(chan struct{})
	go func() {
		m1.Acquire(beta)
		close(betaDone)
	}()

	time.Sleep(250 * time.Millisecond)

	reports := idx.FindInactiveMutexes()
	if len(reports) == 0 {
		fmt.Println("tracedemo: deadlock scanner found no cycle (unexpected for the AB/BA demo)")
	} else {
		for _, report := range reports {
			fmt.Printf("tracedemo: deadlock cycle found starting at mutex 0x%x: %v\n", report.StartMutexAddress, report.Route)
		}
	}

	m2.ForceRelease()
	<-alphaDone
	m1.ForceRelease()
	<-betaDone
}
