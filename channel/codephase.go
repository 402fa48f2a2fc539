package channel

import "sync"

// CodePhase records where a satellite's code was acquired in the sample
// stream, for diagnostics and cross-channel de-duplication.
type CodePhase struct {
	CodePhaseSamples float64
	SampleStamp      uint64
}

// CodePhaseMap is the receiver-wide PRN → code phase mapping. It is only
// written from the controllers' event dispatchers, never from the
// correlation loops.
type CodePhaseMap struct {
	mu sync.Mutex
	m  map[int]CodePhase
}

func NewCodePhaseMap() *CodePhaseMap {
	return &CodePhaseMap{m: make(map[int]CodePhase)}
}

func (cpm *CodePhaseMap) Store(prn int, cp CodePhase) {
	cpm.mu.Lock()
	cpm.m[prn] = cp
	cpm.mu.Unlock()
}

func (cpm *CodePhaseMap) Load(prn int) (CodePhase, bool) {
	cpm.mu.Lock()
	cp, ok := cpm.m[prn]
	cpm.mu.Unlock()
	return cp, ok
}

// Snapshot copies the current mapping.
func (cpm *CodePhaseMap) Snapshot() map[int]CodePhase {
	cpm.mu.Lock()
	defer cpm.mu.Unlock()

	out := make(map[int]CodePhase, len(cpm.m))
	for prn, cp := range cpm.m {
		out[prn] = cp
	}
	return out
}
