package research

// Accountant is a running counter of consumed generation tokens, aggregated
// per phase and overall. One instance per run; not safe for concurrent use —
// the engine drives it from a single goroutine.
type Accountant struct {
	perPhase []int
	total    int
}

// NewAccountant returns an empty accountant.
func NewAccountant() *Accountant {
	return &Accountant{}
}

// Add records amount tokens against a phase. Negative amounts and negative
// phase indexes are ignored.
func (a *Accountant) Add(phase, amount int) {
	if phase < 0 || amount <= 0 {
		return
	}
	for len(a.perPhase) <= phase {
		a.perPhase = append(a.perPhase, 0)
	}
	a.perPhase[phase] += amount
	a.total += amount
}

// Total returns the running total across all phases.
func (a *Accountant) Total() int {
	return a.total
}

// PerPhase returns a copy of the per-phase subtotals.
func (a *Accountant) PerPhase() []int {
	out := make([]int, len(a.perPhase))
	copy(out, a.perPhase)
	return out
}
