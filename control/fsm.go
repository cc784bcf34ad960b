package control

// Waypoint phases within a state code. States are two-digit codes: the tens
// digit is the waypoint index being worked, the ones digit the phase.
// stateInitial is a pre-roll stop before the first move; the code one past
// the last waypoint's stop phase halts the run.
const (
	phaseMove = 0
	phaseHold = 1
	phaseStop = 2

	stateInitial = -1
)

// planFollower sequences move/hold/stop phases over a Plan and carries the
// current position target between ticks.
type planFollower struct {
	plan Plan

	state        int
	phaseStartUS int64
	started      bool

	// stopped latches once the wheel has been halted in the current stop
	// phase; the PID is suspended while it holds.
	stopped bool

	targetX float32
	targetY float32
}

// followerAction is what one FSM step asks of the controller.
type followerAction struct {
	// stopWheel commands zero wheel velocity this tick.
	stopWheel bool
	// clear resets the PID scratch state before the next integration.
	clear bool
	// done marks the terminal state.
	done bool
}

func newPlanFollower(plan Plan) *planFollower {
	f := &planFollower{plan: plan, state: stateInitial, stopped: true}
	if len(plan.Waypoints) == 0 {
		f.state = f.terminalState()
		return f
	}
	f.targetX = plan.Waypoints[0].X
	f.targetY = plan.Waypoints[0].Y
	return f
}

func (f *planFollower) terminalState() int {
	return len(f.plan.Waypoints) * 10
}

// advance runs one FSM step at nowUS. heading is the last extrapolated
// precession angle, which times the wheel halt inside a stop phase.
func (f *planFollower) advance(nowUS int64, heading float32) followerAction {
	if !f.started {
		f.started = true
		f.phaseStartUS = nowUS
	}

	var act followerAction
	wp := f.plan.Waypoints
	elapsed := nowUS - f.phaseStartUS

	switch {
	case f.state == stateInitial:
		if elapsed <= f.plan.StopTime.Microseconds() {
			f.targetX = wp[0].X
			f.targetY = wp[0].Y
		} else {
			f.phaseStartUS = nowUS
			f.stopped = false
			f.state = 10
		}
	case f.state == f.terminalState():
		act.stopWheel = true
		act.done = true
	case f.state%10 == phaseMove:
		k := f.state / 10
		if elapsed <= f.plan.MoveTime.Microseconds() {
			ratio := float32(elapsed) / float32(f.plan.MoveTime.Microseconds())
			f.targetX = (1-ratio)*wp[k-1].X + ratio*wp[k].X
			f.targetY = (1-ratio)*wp[k-1].Y + ratio*wp[k].Y
		} else {
			f.phaseStartUS = nowUS
			f.state++
		}
	case f.state%10 == phaseHold:
		k := f.state / 10
		if elapsed <= f.plan.HoldTime.Microseconds() {
			f.targetX = wp[k].X
			f.targetY = wp[k].Y
		} else {
			f.phaseStartUS = nowUS
			f.state++
		}
	case f.state%10 == phaseStop:
		k := f.state / 10
		if elapsed <= f.plan.StopTime.Microseconds() {
			if !f.stopped {
				stopAt := wp[k].StopHeading
				if stopAt-0.35 <= heading && heading <= stopAt-0.15 {
					act.stopWheel = true
					f.stopped = true
				}
			}
		} else {
			f.phaseStartUS = nowUS
			f.stopped = false
			act.clear = true
			f.state += 8
		}
	}
	return act
}
