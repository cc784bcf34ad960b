//go:build linux

package natnet

import (
	"github.com/edaniels/golog"
	"golang.org/x/sys/unix"
)

// fifoMaxPriority is sched_get_priority_max(SCHED_FIFO) on Linux.
const fifoMaxPriority = 99

// setRealtimePriority moves the calling thread to SCHED_FIFO at maximum
// priority so datagrams are decoded the moment they arrive. The caller must
// have locked its OS thread. Without CAP_SYS_NICE the thread stays at the
// default policy and ingest still works, just with more latency jitter.
func setRealtimePriority(logger golog.Logger) {
	attr := &unix.SchedAttr{
		Size:     unix.SizeofSchedAttr,
		Policy:   unix.SCHED_FIFO,
		Priority: fifoMaxPriority,
	}
	if err := unix.SchedSetAttr(0, attr, 0); err != nil {
		logger.Warnw("mocap receive thread left at default priority", "error", err)
	}
}
