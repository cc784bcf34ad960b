package natnet

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// DecodeFrame parses one datagram and extracts the first rigid body of a
// frame-of-data message. It returns false for any other message type, or
// when the datagram is shorter than the fields the version calls for. A
// returned sample may still fail the publication gate; Valid decides that.
func DecodeFrame(datagram []byte, v Version) (PoseSample, bool) {
	r := &byteReader{buf: datagram}
	if r.uint16() != msgFrameOfData {
		return PoseSample{}, false
	}
	r.uint16() // payload length; the datagram bounds the read instead

	sample := PoseSample{FrameNumber: r.int32(), BodyID: -1}

	// marker sets, then the legacy unlabeled markers
	r.int32()
	r.sectionSkip(v)
	r.int32()
	r.sectionSkip(v)

	// rigid bodies are walked in full rather than skipped so that the
	// sections after them stay aligned on pre-4.1 streams
	nBodies := r.int32()
	if v.AtLeast(4, 1) {
		r.int32() // section byte count, unused
	}
	for j := int32(0); j < nBodies && !r.short; j++ {
		id := r.int32()
		x, y, z := r.float32(), r.float32(), r.float32()
		qx, qy, qz, qw := r.float32(), r.float32(), r.float32(), r.float32()

		if v.Major < 3 {
			// per-body marker positions, removed in NatNet 3.0
			nMarkers := int(r.int32())
			r.skip(nMarkers * 12)
			if v.Major >= 2 {
				r.skip(nMarkers * 4) // marker IDs
				r.skip(nMarkers * 4) // marker sizes
			}
		}
		var meanErr float32
		if v.Major >= 2 {
			meanErr = r.float32()
		}
		tracking := false
		if v.AtLeast(2, 6) {
			tracking = r.int16()&0x01 != 0
		}

		if j == 0 {
			sample.BodyID = id
			sample.Pos = r3.Vector{X: float64(x), Y: float64(y), Z: float64(z)}
			sample.Quat = quat.Number{Real: float64(qw), Imag: float64(qx), Jmag: float64(qy), Kmag: float64(qz)}
			sample.MeanError = meanErr
			sample.TrackingValid = tracking
		}
	}

	if v.AtLeast(2, 1) { // skeletons
		r.int32()
		r.sectionSkip(v)
	}
	if v.AtLeast(4, 1) { // assets
		r.int32()
		r.sectionSkip(v)
	}
	if v.AtLeast(2, 3) { // labeled markers
		r.int32()
		r.sectionSkip(v)
	}
	if v.AtLeast(2, 9) { // force plates
		r.int32()
		r.sectionSkip(v)
	}
	if v.AtLeast(2, 11) { // devices
		r.int32()
		r.sectionSkip(v)
	}

	// suffix
	if v.Major < 3 {
		r.float32() // software latency, removed in 3.0
	}
	r.uint32() // timecode
	r.uint32() // timecode subframe
	if v.AtLeast(2, 7) {
		r.float64() // frame timestamp
	} else {
		r.float32()
	}
	if v.Major >= 3 {
		sample.MidExposure = r.uint64()
		r.uint64() // camera data received
		r.uint64() // transmit
	}
	if v.AtLeast(4, 1) {
		r.uint32() // precision timestamp seconds
		r.uint32() // precision timestamp fractional seconds
	}
	r.int16() // frame params: bit 0 recording, bit 1 tracked models changed
	r.int32() // end-of-data marker

	if r.short {
		return PoseSample{}, false
	}
	return sample, true
}
