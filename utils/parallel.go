package utils

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.viam.com/utils"
)

// ParallelFactor is the number of groups GroupWorkParallel splits work into. Tests may lower it.
var ParallelFactor = defaultParallelFactor()

// defaultParallelFactor uses every core on small machines and a quarter of them beyond 32.
func defaultParallelFactor() int {
	n := runtime.GOMAXPROCS(0)
	if n > 32 {
		n /= 4
	}
	return MaxInt(n, 1)
}

type (
	// BeforeParallelGroupWorkFunc runs once with the number of groups before any work starts.
	BeforeParallelGroupWorkFunc func(numGroups int)
	// MemberWorkFunc handles work item workNum, the memberNum-th item of its group.
	MemberWorkFunc func(memberNum, workNum int)
	// GroupWorkDoneFunc runs after the last item of a group.
	GroupWorkDoneFunc func()
	// GroupWorkFunc sets up group groupNum, which covers items [from, to).
	GroupWorkFunc func(groupNum, groupSize, from, to int) (MemberWorkFunc, GroupWorkDoneFunc)
)

// groupBounds splits totalSize items into numGroups contiguous ranges. The last group takes the
// remainder.
func groupBounds(totalSize, numGroups, groupNum int) (int, int) {
	size := totalSize / numGroups
	from := groupNum * size
	if groupNum == numGroups-1 {
		return from, totalSize
	}
	return from, from + size
}

// GroupWorkParallel runs totalSize work items split into at most ParallelFactor groups, one
// goroutine per group. Items of a group run in order. Groups that have not started when ctx is
// done are skipped and ctx's error is returned.
func GroupWorkParallel(ctx context.Context, totalSize int, before BeforeParallelGroupWorkFunc, groupWork GroupWorkFunc) error {
	if totalSize <= 0 {
		return ctx.Err()
	}
	numGroups := MinInt(ParallelFactor, totalSize)
	before(numGroups)

	var wg sync.WaitGroup
	wg.Add(numGroups)
	for g := 0; g < numGroups; g++ {
		groupNum := g
		utils.PanicCapturingGo(func() {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			from, to := groupBounds(totalSize, numGroups, groupNum)
			member, done := groupWork(groupNum, to-from, from, to)
			if member != nil {
				for workNum := from; workNum < to; workNum++ {
					member(workNum-from, workNum)
				}
			}
			if done != nil {
				done()
			}
		})
	}
	wg.Wait()
	return ctx.Err()
}

// SimpleFunc is a unit of work for RunInParallel.
type SimpleFunc func(ctx context.Context) error

// RunInParallel runs every function on its own goroutine and waits for all of them. The first
// failure or panic cancels the context handed to the others. The returned error combines the
// failures, leaving out cancellations caused by an earlier failure.
func RunInParallel(ctx context.Context, fs []SimpleFunc) (time.Duration, error) {
	start := time.Now()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu  sync.Mutex
		err error
		wg  sync.WaitGroup
	)
	fail := func(e error) {
		mu.Lock()
		if err == nil || !errors.Is(e, context.Canceled) {
			err = multierr.Combine(err, e)
		}
		mu.Unlock()
		cancel()
	}

	wg.Add(len(fs))
	for _, f := range fs {
		f := f
		// f's completion and the panic callback each release the group exactly once.
		utils.PanicCapturingGoWithCallback(func() {
			if e := f(ctx); e != nil {
				fail(e)
			}
			wg.Done()
		}, func(thePanic interface{}) {
			defer wg.Done()
			fail(fmt.Errorf("got panic running something in parallel: %v", thePanic))
		})
	}
	wg.Wait()
	return time.Since(start), err
}
