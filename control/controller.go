// Package control closes the loop between the mocap stream and the wheel:
// a fixed-period state machine extrapolates the measured pose through the
// calibrated stream latency, locates the rolling disk's curvature center
// and runs a PID in per-precession-angle time to track a waypoint plan.
package control

import (
	"context"
	"math"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/wjxway/rollbot/kinematics"
	"github.com/wjxway/rollbot/natnet"
)

const (
	tickPeriod = 10 * time.Millisecond

	calibrationSamples  = 10000
	calibrationInterval = 100 * time.Microsecond
	sanityToleranceUS   = 1000

	targetRadius = 0.25

	kpPosition = 0.15
	kiPosition = 0.005
	kdPosition = 2.0
	kpRadius   = 0.10
	kiRadius   = 0.003
	kdRadius   = 2.0

	// derivative filter constant: one over the angle the filter averages
	velUpdateConst = 1.0 / (2.0 * math.Pi)

	iPositionMax = 60.0
	iRadiusMax   = 60.0

	minRadius   = 0.2
	maxRadius   = 1.5
	maxAccel    = 0.15
	maxWheelVel = 9.0

	minDTheta = 1e-4
)

// PoseProvider yields the most recent published pose sample.
type PoseProvider interface {
	LatestPose() natnet.PoseSample
}

// WheelDrive is the slice of the motor transport the loop commands.
type WheelDrive interface {
	// SetVelocity commands a closed-loop target in 0.01 deg/s units.
	SetVelocity(vel int32) error
}

// Config parameterizes a Controller.
type Config struct {
	Plan Plan
	// TickLogPath, when non-empty, receives one record per control tick.
	// Write failures never disturb the loop.
	TickLogPath string
	// SanityDelayUS cross-checks the measured clock offset when non-zero;
	// a disagreement beyond 1 ms aborts the run before the wheel moves.
	SanityDelayUS int64
	// Clock overrides the wall clock, for tests.
	Clock clock.Clock
}

// Controller owns the wheel drive and the waypoint follower. It is not safe
// for concurrent use; the main task runs it alone.
type Controller struct {
	logger golog.Logger
	poses  PoseProvider
	drive  WheelDrive
	clock  clock.Clock
	epoch  time.Time
	cfg    Config

	follower     *planFollower
	state        loopState
	clearPending bool

	// headingBuf carries the last extrapolated heading across ticks for
	// the follower's stop-phase window.
	headingBuf float32

	// timeDelayUS is the calibrated offset between the local clock and the
	// server's mid-exposure timestamps.
	timeDelayUS int64

	tickLog *tickLogger
}

// New builds a controller over the given pose source and wheel drive.
func New(poses PoseProvider, drive WheelDrive, cfg Config, logger golog.Logger) *Controller {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	c := &Controller{
		logger:   logger,
		poses:    poses,
		drive:    drive,
		clock:    clk,
		cfg:      cfg,
		follower: newPlanFollower(cfg.Plan),
	}
	c.epoch = clk.Now()
	return c
}

func (c *Controller) nowUS() int64 {
	return c.clock.Since(c.epoch).Microseconds()
}

// Calibrate measures the stable offset between the local clock and the
// camera mid-exposure timestamps: the minimum observed delay over many
// closely spaced reads. Mid-exposure ticks are 100 ns, hence the divide by
// ten to microseconds.
func (c *Controller) Calibrate(ctx context.Context) error {
	delay, err := c.minTimeDelay(ctx, calibrationSamples)
	if err != nil {
		return err
	}
	if err := c.checkSanity(delay); err != nil {
		return err
	}
	c.timeDelayUS = delay
	c.logger.Infow("clock offset calibrated", "delayUS", delay)
	return nil
}

// checkSanity compares a measured clock offset against the operator-supplied
// expectation, when one was given. A disagreement means the server changed
// its timestamp units and extrapolation would be silently biased.
func (c *Controller) checkSanity(delayUS int64) error {
	if c.cfg.SanityDelayUS == 0 {
		return nil
	}
	if diff := delayUS - c.cfg.SanityDelayUS; diff > sanityToleranceUS || diff < -sanityToleranceUS {
		return errors.Errorf("clock offset %d us disagrees with expected %d us", delayUS, c.cfg.SanityDelayUS)
	}
	return nil
}

func (c *Controller) minTimeDelay(ctx context.Context, samples int) (int64, error) {
	return minObservedDelay(ctx, samples, c.poses, c.nowUS, func() {
		c.clock.Sleep(calibrationInterval)
	})
}

// minObservedDelay is the calibration core, separated so tests can drive a
// synthetic clock.
func minObservedDelay(ctx context.Context, samples int, poses PoseProvider, nowUS func() int64, sleep func()) (int64, error) {
	delay := int64(math.MaxInt64)
	for i := 0; i < samples; i++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		sleep()
		s := poses.LatestPose()
		if d := nowUS() - int64(s.MidExposure/10); d < delay {
			delay = d
		}
	}
	return delay, nil
}

// Run drives the plan to its terminal state at a fixed 10 ms period. A
// motor transport error is fatal and returned as is; the caller pauses the
// wheel and exits.
func (c *Controller) Run(ctx context.Context) error {
	if c.cfg.TickLogPath != "" {
		c.tickLog = newTickLogger(c.cfg.TickLogPath, c.timeDelayUS, c.logger)
		defer c.tickLog.Close()
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.clock.Sleep(tickPeriod)
		done, err := c.tick()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// tick runs one control period: follower first, then the PID unless the
// sample is untracked or the wheel is latched stopped.
func (c *Controller) tick() (bool, error) {
	nowUS := c.nowUS()
	sample := c.poses.LatestPose()

	act := c.follower.advance(nowUS, c.headingBuf)
	if act.done {
		if err := c.drive.SetVelocity(0); err != nil {
			return true, err
		}
		c.logger.Info("waypoint plan complete, wheel stopped")
		return true, nil
	}
	if act.stopWheel {
		if err := c.drive.SetVelocity(0); err != nil {
			return true, err
		}
	}
	if act.clear {
		c.clearPending = true
	}

	if !sample.TrackingValid || c.follower.stopped {
		return false, nil
	}
	return false, c.pidTick(sample, nowUS)
}

// pidTick is steps 4..11 of the loop: extrapolate the pose through the
// stream latency using the commanded wheel velocity, find the curvature
// center, and integrate the radius command in precession angle.
func (c *Controller) pidTick(sample natnet.PoseSample, nowUS int64) error {
	st := &c.state
	reseed := c.clearPending || !st.primed
	if reseed {
		st.wheelVel = 0
		st.lastRadius = 0.15
	}

	wheelVel := st.wheelVel
	radius := kinematics.RollingRadius(wheelVel)
	omega := kinematics.PrecessionRate(wheelVel)

	qx := float32(sample.Quat.Imag)
	qy := float32(sample.Quat.Jmag)
	qz := float32(sample.Quat.Kmag)
	qw := float32(sample.Quat.Real)
	// azimuth of the disk's rolling direction
	heading := atan232(-0.5+qx*qx+qy*qy, qx*qz+qy*qw)

	dt := float32(nowUS-c.timeDelayUS-int64(sample.MidExposure/10)) * 1e-6
	headingExtrap := heading + omega*dt
	c.headingBuf = headingExtrap

	if reseed {
		st.lastHeading = headingExtrap
		st.lastTimeUS = nowUS
	}

	x := float32(sample.Pos.X)
	z := float32(sample.Pos.Z)
	avg := (heading + headingExtrap) / 2
	// world X+ is mocap X, world Y+ is mocap Z-
	xExtrap := x - radius*omega*sin32(avg)*dt
	yExtrap := -z + radius*omega*cos32(avg)*dt

	xc := xExtrap - radius*cos32(headingExtrap)
	yc := yExtrap - radius*sin32(headingExtrap)

	dtheta := max32(abs32(wrapAngle(headingExtrap-st.lastHeading)), minDTheta)

	if reseed {
		st.lastXC, st.lastYC = xc, yc
		st.filtVX, st.filtVY, st.filtVR = 0, 0, 0
		st.ix, st.iy, st.ir = 0, 0, 0
		c.clearPending = false
		st.primed = true
	}

	accel := st.pidStep(dtheta, xc, yc, radius, headingExtrap,
		c.follower.targetX, c.follower.targetY, targetRadius)

	newRadius := clipRange(radius+accel*omega*float32(nowUS-st.lastTimeUS)*1e-6, minRadius, maxRadius)
	st.wheelVel = kinematics.WheelVelocityFor(newRadius)
	if st.wheelVel >= maxWheelVel {
		st.wheelVel = maxWheelVel
	}

	if err := c.drive.SetVelocity(int32(-st.wheelVel / math.Pi * 18000.0)); err != nil {
		return err
	}

	st.lastHeading = headingExtrap
	st.lastTimeUS = nowUS
	st.lastXC = xc
	st.lastYC = yc
	st.lastRadius = radius

	c.tickLog.record(nowUS, sample, st.wheelVel, xExtrap, yExtrap, headingExtrap, xc, yc, st.ix, st.iy, st.ir)
	return nil
}
