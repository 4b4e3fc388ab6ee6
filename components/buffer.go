package components

// Pair is a double buffer of per-particle vectors. A pass reads every
// particle from Read() and writes its own particle into Write(); the solver
// then calls Swap so the next pass sees the new values.
type Pair struct {
	slots [2][]Vec4
	read  int
}

// NewPair allocates both slots with a copy of init.
func NewPair(init []Vec4) Pair {
	a := make([]Vec4, len(init))
	b := make([]Vec4, len(init))
	copy(a, init)
	copy(b, init)
	return Pair{slots: [2][]Vec4{a, b}}
}

// Read returns the slot holding the current values.
func (p *Pair) Read() []Vec4 {
	return p.slots[p.read]
}

// Write returns the slot a pass writes into.
func (p *Pair) Write() []Vec4 {
	return p.slots[1-p.read]
}

// Swap flips the roles of the two slots.
func (p *Pair) Swap() {
	p.read = 1 - p.read
}

// Len returns the particle count held by each slot.
func (p *Pair) Len() int {
	return len(p.slots[0])
}

// Release drops both slots.
func (p *Pair) Release() {
	p.slots = [2][]Vec4{}
	p.read = 0
}
