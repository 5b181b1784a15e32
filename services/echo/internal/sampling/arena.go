package sampling

// Arena owns every buffer the pipeline touches. It is allocated once at
// start-up and never resized.
type Arena struct {
	raw [2][]uint16 // double buffer handed to the converter
	uv  [][]uint32  // calibrated captures, one per pass slot
}

// NewArena allocates two raw buffers and slots calibrated buffers of
// samples each.
func NewArena(samples, slots int) *Arena {
	if slots < 1 {
		slots = 1
	}
	a := &Arena{uv: make([][]uint32, slots)}
	a.raw[0] = make([]uint16, samples)
	a.raw[1] = make([]uint16, samples)
	for i := range a.uv {
		a.uv[i] = make([]uint32, samples)
	}
	return a
}

func (a *Arena) Samples() int { return len(a.raw[0]) }
func (a *Arena) Slots() int   { return len(a.uv) }
