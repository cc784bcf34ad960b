package natnet

import (
	"sync"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func sampleFor(i int32) PoseSample {
	v := float64(i)
	return PoseSample{
		FrameNumber:   i,
		BodyID:        i,
		Pos:           r3.Vector{X: v, Y: v, Z: v},
		MeanError:     float32(i),
		TrackingValid: true,
		MidExposure:   uint64(i) + 1,
	}
}

func consistent(s PoseSample) bool {
	v := float64(s.FrameNumber)
	return s.BodyID == s.FrameNumber &&
		s.Pos.X == v && s.Pos.Y == v && s.Pos.Z == v &&
		s.MeanError == float32(s.FrameNumber) &&
		s.MidExposure == uint64(s.FrameNumber)+1
}

func TestRingLatest(t *testing.T) {
	var r PoseRing

	// before any publish the zero sample comes back
	test.That(t, r.Latest().Valid(), test.ShouldBeFalse)

	r.Publish(sampleFor(1))
	test.That(t, r.Latest().FrameNumber, test.ShouldEqual, int32(1))

	// re-reading without a publish yields the same sample
	test.That(t, r.Latest().FrameNumber, test.ShouldEqual, int32(1))

	for i := int32(2); i < 10; i++ {
		r.Publish(sampleFor(i))
	}
	test.That(t, r.Latest().FrameNumber, test.ShouldEqual, int32(9))
}

func TestRingNeverTears(t *testing.T) {
	var r PoseRing
	const n = 1000000

	var wg sync.WaitGroup
	wg.Add(1)
	done := make(chan struct{})
	go func() {
		defer wg.Done()
		for i := int32(1); i <= n; i++ {
			r.Publish(sampleFor(i))
		}
		close(done)
	}()

	r.Publish(sampleFor(0))
	var reads int
	var last int32
	for {
		s := r.Latest()
		if !consistent(s) {
			t.Fatalf("torn read: %+v", s)
		}
		// published order is also observation order
		if s.FrameNumber < last {
			t.Fatalf("went backwards: %d after %d", s.FrameNumber, last)
		}
		last = s.FrameNumber
		reads++
		select {
		case <-done:
			wg.Wait()
			test.That(t, r.Latest().FrameNumber, test.ShouldEqual, int32(n))
			test.That(t, reads, test.ShouldBeGreaterThan, 0)
			return
		default:
		}
	}
}
