package utils

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"go.uber.org/multierr"
)

// ParallelFactor controls the max level of parallelization. This might be useful
// to set in tests where too much parallelism actually slows tests down in
// aggregate.
var ParallelFactor = runtime.GOMAXPROCS(0)

func init() {
	if ParallelFactor <= 0 {
		ParallelFactor = 1
	}
}

type (
	// BeforeParallelGroupWorkFunc executes before any work starts with the calculated number of groups.
	BeforeParallelGroupWorkFunc func(numGroups int)
	// MemberWorkFunc runs for each work item (member) of a group.
	MemberWorkFunc func(memberNum, workNum int)
	// GroupWorkDoneFunc runs when a single group's work is done; helpful for merge stages.
	GroupWorkDoneFunc func()
	// GroupWorkFunc runs to determine what work members should do, if any.
	GroupWorkFunc func(groupNum, groupSize, from, to int) (MemberWorkFunc, GroupWorkDoneFunc)
)

// GroupWorkParallel parallelizes the given size of work over ParallelFactor workers.
func GroupWorkParallel(ctx context.Context, totalSize int, before BeforeParallelGroupWorkFunc, groupWork GroupWorkFunc) error {
	return GroupWorkParallelN(ctx, ParallelFactor, totalSize, before, groupWork)
}

// GroupWorkParallelN splits [0, totalSize) into at most numWorkers contiguous groups and runs each
// group on its own goroutine. Group g always covers a lower range than group g+1, so callers that
// merge per-group results in group order see work items in ascending order. The last group takes
// the remainder. A panic in any group is recovered and returned as an error once all groups finish.
func GroupWorkParallelN(
	ctx context.Context,
	numWorkers, totalSize int,
	before BeforeParallelGroupWorkFunc,
	groupWork GroupWorkFunc,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	numGroups := numWorkers
	if numGroups <= 0 {
		numGroups = 1
	}
	if totalSize < numGroups {
		numGroups = totalSize
	}
	before(numGroups)
	if numGroups == 0 {
		return nil
	}
	groupSize := totalSize / numGroups
	extra := totalSize % numGroups

	var bigError error
	var bigErrorMutex sync.Mutex
	storeError := func(err error) {
		bigErrorMutex.Lock()
		defer bigErrorMutex.Unlock()
		bigError = multierr.Combine(bigError, err)
	}

	var wait sync.WaitGroup
	wait.Add(numGroups)
	for groupNum := 0; groupNum < numGroups; groupNum++ {
		go func(groupNum int) {
			defer func() {
				if thePanic := recover(); thePanic != nil {
					storeError(fmt.Errorf("got panic running group %d in parallel: %v", groupNum, thePanic))
				}
				wait.Done()
			}()

			thisGroupSize := groupSize
			thisExtra := 0
			if groupNum == (numGroups - 1) {
				thisExtra = extra
				thisGroupSize += thisExtra
			}
			from := groupSize * groupNum
			to := (groupSize * (groupNum + 1)) + thisExtra
			memberWork, groupWorkDone := groupWork(groupNum, thisGroupSize, from, to)
			if memberWork != nil {
				memberNum := 0
				for workNum := from; workNum < to; workNum++ {
					memberWork(memberNum, workNum)
					memberNum++
				}
			}
			if groupWorkDone != nil {
				groupWorkDone()
			}
		}(groupNum)
	}
	wait.Wait()
	return bigError
}
