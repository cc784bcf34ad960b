package control

import (
	"bufio"
	"fmt"
	"os"

	"github.com/edaniels/golog"

	"github.com/wjxway/rollbot/natnet"
)

// tickLogger appends one CSV record per control tick. It is best effort
// throughout: a nil logger or a failed disk never disturbs the loop.
type tickLogger struct {
	f *os.File
	w *bufio.Writer
}

func newTickLogger(path string, delayUS int64, logger golog.Logger) *tickLogger {
	f, err := os.Create(path)
	if err != nil {
		logger.Warnw("tick log disabled", "path", path, "error", err)
		return nil
	}
	w := bufio.NewWriter(f)
	fmt.Fprintln(w, "delay, target_radius, kp_radius, kp_position, ki_radius, ki_position, kd_radius, kd_position, vel_update_const, i_radius_max, i_position_max, min_radius, max_radius, max_acc, time_step")
	fmt.Fprintf(w, "%d , %g , %g , %g , %g , %g , %g , %g , %g , %g , %g , %g , %g , %g , %g\n",
		delayUS, float32(targetRadius), float32(kpRadius), float32(kpPosition), float32(kiRadius), float32(kiPosition),
		float32(kdRadius), float32(kdPosition), float32(velUpdateConst), float32(iRadiusMax), float32(iPositionMax),
		float32(minRadius), float32(maxRadius), float32(maxAccel), tickPeriod.Seconds())
	fmt.Fprintln(w, "conventional pos {x,y} = exposure pos {x,-z}")
	fmt.Fprintln(w, "local time, exposure time, set motor angv, exposure pos x, y, z, qx, qy, qz, qw, x_extrapolated, y_extrapolated, angle_extrapolated, xc, yc, ix, iy, ir")
	return &tickLogger{f: f, w: w}
}

func (l *tickLogger) record(nowUS int64, s natnet.PoseSample, wheelVel, xExtrap, yExtrap, headingExtrap, xc, yc, ix, iy, ir float32) {
	if l == nil {
		return
	}
	fmt.Fprintf(l.w, "%d , %d , %g , %g , %g , %g , %g , %g , %g , %g , %g , %g , %g , %g , %g , %g , %g , %g\n",
		nowUS, s.MidExposure, wheelVel,
		float32(s.Pos.X), float32(s.Pos.Y), float32(s.Pos.Z),
		float32(s.Quat.Imag), float32(s.Quat.Jmag), float32(s.Quat.Kmag), float32(s.Quat.Real),
		xExtrap, yExtrap, headingExtrap, xc, yc, ix, iy, ir)
}

func (l *tickLogger) Close() error {
	if l == nil {
		return nil
	}
	l.w.Flush()
	return l.f.Close()
}
