package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.viam.com/test"
	gutils "go.viam.com/utils"
)

func TestRunInParallel(t *testing.T) {
	wait100ms := func(ctx context.Context) error {
		gutils.SelectContextOrWait(ctx, 100*time.Millisecond)
		return ctx.Err()
	}

	elapsed, err := RunInParallel(context.Background(), []SimpleFunc{wait100ms, wait100ms})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, elapsed, test.ShouldBeLessThan, 110*time.Millisecond)
	test.That(t, elapsed, test.ShouldBeGreaterThan, 90*time.Millisecond)

	errFunc := func(ctx context.Context) error {
		return errors.New("bad")
	}

	elapsed, err = RunInParallel(context.Background(), []SimpleFunc{wait100ms, wait100ms, errFunc})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, elapsed, test.ShouldBeLessThan, 10*time.Millisecond)

	panicFunc := func(ctx context.Context) error {
		panic(1)
	}

	_, err = RunInParallel(context.Background(), []SimpleFunc{panicFunc})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestGroupWorkParallelCoversAll(t *testing.T) {
	for _, total := range []int{1, 3, ParallelFactor + 5, 1000} {
		seen := make([]int, total)
		err := GroupWorkParallel(
			context.Background(),
			total,
			func(numGroups int) {},
			func(groupNum, groupSize, from, to int) (MemberWorkFunc, GroupWorkDoneFunc) {
				return func(memberNum, workNum int) {
					seen[workNum]++
				}, nil
			},
		)
		test.That(t, err, test.ShouldBeNil)
		for _, count := range seen {
			test.That(t, count, test.ShouldEqual, 1)
		}
	}
}

func TestRunInParallelKeepsFailureOverCancellation(t *testing.T) {
	waitForCancel := func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}
	errFunc := func(ctx context.Context) error {
		return errors.New("bad")
	}

	_, err := RunInParallel(context.Background(), []SimpleFunc{waitForCancel, errFunc, waitForCancel})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldEqual, "bad")
}

func TestGroupBounds(t *testing.T) {
	from, to := groupBounds(10, 3, 0)
	test.That(t, from, test.ShouldEqual, 0)
	test.That(t, to, test.ShouldEqual, 3)
	from, to = groupBounds(10, 3, 2)
	test.That(t, from, test.ShouldEqual, 6)
	test.That(t, to, test.ShouldEqual, 10)
}

func TestGroupWorkParallelCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var groups int
	err := GroupWorkParallel(ctx, 100, func(numGroups int) { groups = numGroups },
		func(groupNum, groupSize, from, to int) (MemberWorkFunc, GroupWorkDoneFunc) {
			t.Error("no group should start after cancellation")
			return nil, nil
		})
	test.That(t, err, test.ShouldBeError, context.Canceled)
	test.That(t, groups, test.ShouldBeGreaterThan, 0)
}
