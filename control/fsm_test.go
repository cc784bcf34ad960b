package control

import (
	"testing"
	"time"

	"go.viam.com/test"
)

// traverse steps the follower with a synthetic clock, keeping the heading
// inside each stop window so the wheel halt latches, and returns the state
// sequence with per-state entry times.
func traverse(t *testing.T, plan Plan, stepUS int64) (states []int, entryUS []int64, stops, clears int) {
	t.Helper()
	f := newPlanFollower(plan)
	states = []int{f.state}
	entryUS = []int64{0}

	var now int64
	for i := 0; i < 1000000; i++ {
		heading := float32(0)
		if f.state > 0 && f.state != f.terminalState() && f.state%10 == phaseStop {
			heading = plan.Waypoints[f.state/10].StopHeading - 0.25
		}
		act := f.advance(now, heading)
		if act.stopWheel && !act.done {
			stops++
		}
		if act.clear {
			clears++
		}
		if f.state != states[len(states)-1] {
			states = append(states, f.state)
			entryUS = append(entryUS, now)
		}
		if act.done {
			return states, entryUS, stops, clears
		}
		now += stepUS
	}
	t.Fatal("plan follower did not terminate")
	return nil, nil, 0, 0
}

func TestFollowerTraversesDefaultPlan(t *testing.T) {
	plan := DefaultPlan()
	plan.MoveTime = time.Millisecond
	plan.HoldTime = time.Millisecond
	plan.StopTime = time.Millisecond

	states, entryUS, stops, clears := traverse(t, plan, 100)
	test.That(t, states, test.ShouldResemble,
		[]int{-1, 10, 11, 12, 20, 21, 22, 30, 31, 32, 40})
	// one wheel halt per stop phase, one scratch clear per stop->move
	test.That(t, stops, test.ShouldEqual, 3)
	test.That(t, clears, test.ShouldEqual, 3)

	// each phase lasts its dwell, to within one step
	for i := 1; i < len(entryUS); i++ {
		dwell := entryUS[i] - entryUS[i-1]
		test.That(t, dwell, test.ShouldBeGreaterThanOrEqualTo, int64(1000))
		test.That(t, dwell, test.ShouldBeLessThanOrEqualTo, int64(1200))
	}
}

func TestFollowerShortDwells(t *testing.T) {
	plan := DefaultPlan()
	plan.MoveTime = 100 * time.Microsecond
	plan.HoldTime = 100 * time.Microsecond
	plan.StopTime = 100 * time.Microsecond

	states, _, _, _ := traverse(t, plan, 30)
	test.That(t, states[0], test.ShouldEqual, -1)
	test.That(t, states[len(states)-1], test.ShouldEqual, 40)
	test.That(t, len(states), test.ShouldEqual, 11)
}

func TestFollowerMoveInterpolatesTarget(t *testing.T) {
	plan := DefaultPlan()
	plan.MoveTime = time.Millisecond
	plan.HoldTime = time.Millisecond
	plan.StopTime = time.Millisecond

	f := newPlanFollower(plan)
	test.That(t, f.targetX, test.ShouldEqual, plan.Waypoints[0].X)

	// leave the pre-roll stop
	f.advance(0, 0)
	f.advance(1500, 0)
	test.That(t, f.state, test.ShouldEqual, 10)

	// halfway through the move the target is the midpoint
	f.advance(2000, 0)
	test.That(t, f.targetX, test.ShouldAlmostEqual, -0.90, 1e-5)
	test.That(t, f.targetY, test.ShouldAlmostEqual, (0.75+2.00)/2, 1e-5)
}

func TestFollowerStopLatch(t *testing.T) {
	plan := DefaultPlan()
	plan.MoveTime = time.Millisecond
	plan.HoldTime = time.Millisecond
	plan.StopTime = time.Millisecond

	f := newPlanFollower(plan)
	test.That(t, f.stopped, test.ShouldBeTrue)

	f.advance(0, 0)
	f.advance(1500, 0) // -> move 1
	test.That(t, f.stopped, test.ShouldBeFalse)
	f.advance(2600, 0) // -> hold 1
	f.advance(3700, 0) // -> stop 1
	test.That(t, f.state, test.ShouldEqual, 12)

	// heading outside the window: no halt
	act := f.advance(3800, 0)
	test.That(t, act.stopWheel, test.ShouldBeFalse)
	test.That(t, f.stopped, test.ShouldBeFalse)

	// inside [stop-0.35, stop-0.15]: halt once
	inWindow := plan.Waypoints[1].StopHeading - 0.2
	act = f.advance(3900, inWindow)
	test.That(t, act.stopWheel, test.ShouldBeTrue)
	test.That(t, f.stopped, test.ShouldBeTrue)
	act = f.advance(4000, inWindow)
	test.That(t, act.stopWheel, test.ShouldBeFalse)

	// leaving the stop phase clears the latch and the scratch state
	act = f.advance(4900, inWindow)
	test.That(t, act.clear, test.ShouldBeTrue)
	test.That(t, f.stopped, test.ShouldBeFalse)
	test.That(t, f.state, test.ShouldEqual, 20)
}
