package utils

import (
	"context"
	"sync"
	"testing"

	"go.viam.com/test"
)

func TestGroupWorkParallelCoversEveryItem(t *testing.T) {
	for _, tc := range []struct {
		workers int
		total   int
	}{
		{1, 10},
		{4, 10},
		{8, 3},
		{3, 3},
		{16, 1000},
	} {
		seen := make([]int, tc.total)
		var groups int
		err := GroupWorkParallelN(context.Background(), tc.workers, tc.total,
			func(numGroups int) { groups = numGroups },
			func(groupNum, groupSize, from, to int) (MemberWorkFunc, GroupWorkDoneFunc) {
				return func(memberNum, workNum int) {
					seen[workNum]++
				}, nil
			})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, groups, test.ShouldEqual, MinInt(tc.workers, tc.total))
		for _, count := range seen {
			test.That(t, count, test.ShouldEqual, 1)
		}
	}
}

func TestGroupWorkParallelGroupOrder(t *testing.T) {
	var mu sync.Mutex
	ranges := map[int][2]int{}
	err := GroupWorkParallelN(context.Background(), 4, 11, func(int) {},
		func(groupNum, groupSize, from, to int) (MemberWorkFunc, GroupWorkDoneFunc) {
			mu.Lock()
			ranges[groupNum] = [2]int{from, to}
			mu.Unlock()
			return nil, nil
		})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ranges, test.ShouldHaveLength, 4)
	for g := 1; g < 4; g++ {
		test.That(t, ranges[g][0], test.ShouldEqual, ranges[g-1][1])
	}
	test.That(t, ranges[0][0], test.ShouldEqual, 0)
	test.That(t, ranges[3][1], test.ShouldEqual, 11)
}

func TestGroupWorkParallelEmptyAndPanic(t *testing.T) {
	called := false
	err := GroupWorkParallelN(context.Background(), 4, 0, func(numGroups int) {
		test.That(t, numGroups, test.ShouldEqual, 0)
	}, func(groupNum, groupSize, from, to int) (MemberWorkFunc, GroupWorkDoneFunc) {
		called = true
		return nil, nil
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, called, test.ShouldBeFalse)

	err = GroupWorkParallelN(context.Background(), 2, 4, func(int) {},
		func(groupNum, groupSize, from, to int) (MemberWorkFunc, GroupWorkDoneFunc) {
			if groupNum == 1 {
				panic("boom")
			}
			return nil, nil
		})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "boom")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = GroupWorkParallel(ctx, 4, func(int) {}, func(int, int, int, int) (MemberWorkFunc, GroupWorkDoneFunc) {
		return nil, nil
	})
	test.That(t, err, test.ShouldEqual, context.Canceled)
}
