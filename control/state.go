package control

// loopState is the controller's scratch between ticks. It is an explicit
// aggregate so a tick can be exercised in isolation and a phase-change
// clear is a plain reseed rather than a global reset.
type loopState struct {
	// wheelVel is the commanded wheel angular velocity in rad/s. The
	// extrapolation uses this commanded value, never a measured one: the
	// mocap frame rate is too low to differentiate a usable precession
	// rate out of consecutive samples.
	wheelVel float32

	lastHeading float32
	lastTimeUS  int64
	lastXC      float32
	lastYC      float32
	lastRadius  float32

	// derivative estimates, filtered per unit precession angle
	filtVX float32
	filtVY float32
	filtVR float32

	// integrals, accumulated per unit precession angle
	ix float32
	iy float32
	ir float32

	primed bool
}

// pidStep advances the filtered derivatives and the integrals by one
// precession step dtheta and returns the commanded radius acceleration,
// clipped to the actuator limit. Working in dtheta rather than wall time
// keeps the response a function of the swept angle alone.
func (st *loopState) pidStep(dtheta, xc, yc, radius, heading, targetX, targetY, targetRadius float32) float32 {
	vx := (xc - st.lastXC) / dtheta
	vy := (yc - st.lastYC) / dtheta
	vr := (radius - st.lastRadius) / dtheta

	alpha := clipRange(velUpdateConst*dtheta, 0, 1)
	st.filtVX = (1-alpha)*st.filtVX + alpha*vx
	st.filtVY = (1-alpha)*st.filtVY + alpha*vy
	st.filtVR = (1-alpha)*st.filtVR + alpha*vr

	st.ix = clipAbs(st.ix+dtheta*(xc-targetX), iPositionMax)
	st.iy = clipAbs(st.iy+dtheta*(yc-targetY), iPositionMax)
	st.ir = clipAbs(st.ir+dtheta*(radius-targetRadius), iRadiusMax)

	posAccel := (kpPosition*(xc-targetX)+kiPosition*st.ix+kdPosition*st.filtVX)*cos32(heading) +
		(kpPosition*(yc-targetY)+kiPosition*st.iy+kdPosition*st.filtVY)*sin32(heading)
	radAccel := -(kpRadius*(radius-targetRadius) + kiRadius*st.ir + kdRadius*st.filtVR)

	return clipAbs(posAccel+radAccel, maxAccel)
}
