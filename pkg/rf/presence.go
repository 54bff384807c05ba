package rf

// Presence debounces the "RF present" signal over the last 8 polls.
// The state only flips once all 8 polls agree.
type Presence struct {
	history uint8
	present bool
}

// Update shifts one poll result into the history.
func (p *Presence) Update(present bool) {
	p.history <<= 1
	if present {
		p.history |= 1
	}
	switch p.history {
	case 0xFF:
		p.present = true
	case 0x00:
		p.present = false
	}
}

// Present returns the debounced state.
func (p *Presence) Present() bool {
	return p.present
}

// Reset forgets the history.
func (p *Presence) Reset() {
	*p = Presence{}
}
