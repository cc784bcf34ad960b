package motor

import (
	"math"
	"testing"

	"go.viam.com/test"
)

func TestStitchPosition(t *testing.T) {
	test.That(t, StitchPosition(35999, 1), test.ShouldEqual, int64(36001))
	test.That(t, StitchPosition(1, 35999), test.ShouldEqual, int64(-1))
	test.That(t, StitchPosition(0, 0), test.ShouldEqual, int64(0))
	test.That(t, StitchPosition(72000, 100), test.ShouldEqual, int64(72100))

	// the stitched value stays congruent to the target and within half a
	// turn of the previous position
	for _, last := range []int64{-72345, -1, 0, 17999, 18000, 35999, 36000, 123456} {
		for _, this := range []int64{-36001, -18000, -1, 0, 1, 17999, 18000, 35999, 99999} {
			got := StitchPosition(last, this)
			test.That(t, floorMod(got-this, positionResolution), test.ShouldEqual, int64(0))
			diff := got - last
			if diff < 0 {
				diff = -diff
			}
			test.That(t, diff, test.ShouldBeLessThanOrEqualTo, int64(18000))
		}
	}
}

func TestRadiansPositionRoundTrip(t *testing.T) {
	for _, pos := range []int64{0, 1, 8999, 9000, 17999, 18000, 27000, 35999} {
		rad := PositionToRadians(pos)
		test.That(t, RadiansToPosition(rad), test.ShouldEqual, pos)
	}
}

func TestEncoderConversions(t *testing.T) {
	prev := float32(-1)
	for _, enc := range []uint16{0, 1, 100, 8192, 16384, 30000, 32767} {
		rad := EncoderToRadians(enc)
		test.That(t, rad, test.ShouldBeGreaterThanOrEqualTo, float32(0))
		test.That(t, rad, test.ShouldBeLessThan, float32(2*math.Pi))
		test.That(t, rad, test.ShouldBeGreaterThan, prev)
		prev = rad
	}

	test.That(t, EncoderToPosition(0), test.ShouldEqual, int64(0))
	test.That(t, EncoderToPosition(16384), test.ShouldEqual, int64(18000))
	test.That(t, EncoderToPosition(32767), test.ShouldBeLessThan, int64(36000))
}

func TestPositionToRadiansNegative(t *testing.T) {
	// negative multi-turn positions fold into [0, 2pi)
	test.That(t, PositionToRadians(-9000), test.ShouldAlmostEqual, 3*math.Pi/2, 1e-4)
	test.That(t, PositionToRadians(-36000), test.ShouldAlmostEqual, 0, 1e-4)
	test.That(t, PositionToRadians(-72000+9000), test.ShouldAlmostEqual, math.Pi/2, 1e-4)
}
