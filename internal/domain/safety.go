package domain

// SafetyContext is the dry-run/confirm gate carried through every mutating
// operation. Confirmation is the only way to leave dry-run mode: the
// constructor finalizes the invariant, so no caller can hand out a context
// that mutates without an explicit confirm.
type SafetyContext struct {
	Daemon  string
	DryRun  bool
	Confirm bool

	downgraded bool
}

// NewSafetyContext builds a finalized context. If confirm is false the
// context is forced into dry-run regardless of the dryRun argument.
func NewSafetyContext(daemon string, dryRun, confirm bool) SafetyContext {
	ctx := SafetyContext{Daemon: daemon, DryRun: dryRun, Confirm: confirm}
	ctx.RequireConfirm()
	return ctx
}

// RequireConfirm enforces the gate invariant. It is idempotent and is called
// by the constructor; it exists separately so re-finalizing a copied context
// is still safe.
func (c *SafetyContext) RequireConfirm() {
	if !c.Confirm && !c.DryRun {
		c.DryRun = true
		c.downgraded = true
	}
}

// Downgraded reports whether the constructor demoted a requested real
// execution to planning-only because confirm was absent. The CLI uses this
// to print the downgrade notice.
func (c SafetyContext) Downgraded() bool {
	return c.downgraded
}
