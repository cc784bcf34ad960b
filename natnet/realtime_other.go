//go:build !linux

package natnet

import "github.com/edaniels/golog"

func setRealtimePriority(logger golog.Logger) {
	logger.Debug("real-time scheduling is only wired up on linux")
}
