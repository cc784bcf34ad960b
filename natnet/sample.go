package natnet

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// PoseSample is one rigid-body pose decoded from a frame-of-data datagram.
// Position and orientation are in the mocap server's coordinate frame; the
// controller applies the world remap.
type PoseSample struct {
	// FrameNumber is the server's frame counter; -1 marks an unset sample.
	FrameNumber int32
	// BodyID identifies the rigid body; -1 marks an unset sample.
	BodyID int32
	// Pos is the body origin in meters.
	Pos r3.Vector
	// Quat is the body orientation, w real part.
	Quat quat.Number
	// MeanError is the mean marker error reported for the solve, meters.
	MeanError float32
	// TrackingValid reports whether the body was tracked in this frame.
	TrackingValid bool
	// MidExposure is the server's high-resolution clock at the camera
	// mid-exposure point, in 100 ns ticks. Zero marks an unset sample.
	MidExposure uint64
}

// Valid is the publication gate: only samples passing it may enter the
// latest-pose ring.
func (s PoseSample) Valid() bool {
	return s.FrameNumber != -1 && s.MidExposure != 0 && s.TrackingValid && s.BodyID != -1
}
