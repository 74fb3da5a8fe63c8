package breaker

// adaptiveThreshold adjusts the failure threshold with traffic volume: a
// scope seeing heavy, mostly-successful traffic tolerates more absolute
// failures before opening, a struggling one tightens back down. The value
// moves in unit steps after each evaluation window and is clamped to
// [1, 10*base]. With adaptation disabled it stays at base.
type adaptiveThreshold struct {
	base    float64
	current float64
	enabled bool

	windowTotal    int
	windowFailures int
}

// evaluationWindow is how many outcomes are observed before a step.
const evaluationWindow = 100

// stepUpFailureRate is the failure rate below which the threshold relaxes.
const stepUpFailureRate = 0.1

func newAdaptiveThreshold(base float64, enabled bool) *adaptiveThreshold {
	if base < 1 {
		base = 1
	}
	return &adaptiveThreshold{base: base, current: base, enabled: enabled}
}

func (a *adaptiveThreshold) value() float64 { return a.current }

// observe feeds one outcome. Callers hold the owning site's lock.
func (a *adaptiveThreshold) observe(success bool) {
	if !a.enabled {
		return
	}
	a.windowTotal++
	if !success {
		a.windowFailures++
	}
	if a.windowTotal < evaluationWindow {
		return
	}

	failureRate := float64(a.windowFailures) / float64(a.windowTotal)
	if failureRate < stepUpFailureRate {
		a.current++
	} else {
		a.current--
	}
	a.current = clamp(a.current, 1, a.base*10)
	a.windowTotal = 0
	a.windowFailures = 0
}

func (a *adaptiveThreshold) reset() {
	a.current = a.base
	a.windowTotal = 0
	a.windowFailures = 0
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
