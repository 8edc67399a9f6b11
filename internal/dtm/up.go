package dtm

// Up is a single ordering record within one history for one update
// (§3). It is exclusively owned by its History while linked into
// History.ups; the parent Op holds a non-owning back-reference.
type Up struct {
	Ver     uint64
	OrigVer uint64
	Rule    Rule
	State   State

	history *History
	update  *Update // non-owning back-reference to the parent Update/Op
}

// IsUnknown reports whether this Up is the placeholder inserted when a
// remote instance references a version it hasn't seen yet (§3, scenario
// 6): its version slot exists in the history but no Update has filled
// it in.
func (u *Up) IsUnknown() bool {
	return u.update == nil
}

func newUnknownUp(history *History, ver uint64) *Up {
	return &Up{Ver: ver, Rule: RuleINC, State: StateLimbo, history: history}
}

// History returns the owning history.
func (u *Up) History() *History { return u.history }

// Update returns the parent update, or nil for an unfilled placeholder.
func (u *Up) Update() *Update { return u.update }
