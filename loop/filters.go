package loop

// Integration period of every loop, one C/A code epoch.
const pdiSecs = 1e-3

// secondOrder is the shared PI loop filter behind the carrier and code
// loops. Damping and gain follow the classic software receiver design:
// natural frequency ωn = bw·8ζ/(4ζ²+1) with ζ = 0.7.
type secondOrder struct {
	tau1, tau2 float64
	oldErr     float64
	oldNCO     float64
}

func (f *secondOrder) setBandwidth(bwHz, k float64) {
	const zeta = 0.7
	wn := bwHz * 8 * zeta / (4*zeta*zeta + 1)
	f.tau1 = k / (wn * wn)
	f.tau2 = 2 * zeta / wn
}

// Initialize resets the filter memory. Called once per tracking start;
// state then survives across PRN periods.
func (f *secondOrder) Initialize() {
	f.oldErr = 0
	f.oldNCO = 0
}

// Update advances the filter by one integration period.
func (f *secondOrder) Update(err float64) float64 {
	nco := f.oldNCO + (f.tau2/f.tau1)*(err-f.oldErr) + err*(pdiSecs/f.tau1)
	f.oldErr = err
	f.oldNCO = nco
	return nco
}

// PLLFilter is the second-order carrier loop filter. Output is a carrier
// frequency correction in Hz.
type PLLFilter struct {
	secondOrder
}

func NewPLLFilter(bwHz float64) *PLLFilter {
	f := new(PLLFilter)
	f.setBandwidth(bwHz, 0.25)
	return f
}

// DLLFilter is the second-order code loop filter. Output is a code
// frequency correction in chips/s. Each code loop owns one instance.
type DLLFilter struct {
	secondOrder
}

func NewDLLFilter(bwHz float64) *DLLFilter {
	f := new(DLLFilter)
	f.setBandwidth(bwHz, 1.0)
	return f
}

// AmplitudeBandwidthHz is the noise bandwidth of the amplitude loops.
const AmplitudeBandwidthHz = 10

// AmplitudeFilter is the first-order IIR smoother behind the two CADLL
// amplitude estimates.
type AmplitudeFilter struct {
	gain float64
	y    float64
	warm bool
}

func NewAmplitudeFilter(bwHz float64) *AmplitudeFilter {
	return &AmplitudeFilter{gain: 4 * bwHz * pdiSecs}
}

func (f *AmplitudeFilter) Initialize() {
	f.y = 0
	f.warm = false
}

func (f *AmplitudeFilter) Update(x float64) float64 {
	if !f.warm {
		f.y = x
		f.warm = true
		return f.y
	}
	f.y += f.gain * (x - f.y)
	return f.y
}
