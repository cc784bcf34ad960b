// Package main is the rollbot controller: it fuses OptiTrack pose samples
// with the rolling-disk model and drives the wheel motor through a waypoint
// plan.
package main

import (
	"context"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"github.com/wjxway/rollbot/control"
	"github.com/wjxway/rollbot/motor"
	"github.com/wjxway/rollbot/natnet"
)

var logger = golog.NewDevelopmentLogger("rollbot")

func main() {
	goutils.ContextualMain(mainWithArgs, logger)
}

func mainWithArgs(ctx context.Context, args []string, logger golog.Logger) error {
	if len(args) < 3 {
		return errors.New("usage: rollbot <server-ip> <local-ip>")
	}
	serverIP, localIP := args[1], args[2]

	drive, err := motor.Open(motor.DefaultSerialPath, logger)
	if err != nil {
		return err
	}
	defer func() {
		goutils.UncheckedError(drive.Close())
	}()

	// wake the drive and re-zero the multi-turn counter, then let it settle
	if err := drive.Resume(); err != nil {
		return err
	}
	if err := drive.ClearLoops(); err != nil {
		return err
	}
	if err := drive.SetMultiLoopPosition2(0, 36000); err != nil {
		return err
	}
	if !goutils.SelectContextOrWait(ctx, 2*time.Second) {
		return ctx.Err()
	}

	session, err := natnet.NewSession(natnet.Config{
		ServerIP:     serverIP,
		LocalIP:      localIP,
		FrameLogPath: "timestamp.csv",
	}, logger)
	if err != nil {
		return err
	}
	session.Start(ctx)
	defer func() {
		goutils.UncheckedError(session.Close())
	}()

	controller := control.New(session, drive, control.Config{
		Plan:        control.DefaultPlan(),
		TickLogPath: "log.csv",
	}, logger)

	if err := controller.Calibrate(ctx); err != nil {
		return pauseAndFail(drive, err)
	}
	logger.Info("setup complete")

	if err := controller.Run(ctx); err != nil {
		return pauseAndFail(drive, err)
	}
	return nil
}

// pauseAndFail makes a best-effort attempt to halt the wheel before the
// process exits on a fatal error.
func pauseAndFail(drive *motor.Transport, err error) error {
	if perr := drive.Pause(); perr != nil {
		return multierr.Combine(err, perr)
	}
	return err
}
