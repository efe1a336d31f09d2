package lifecycle

// Phase is a stage of a create or start operation.
type Phase int

const (
	PhasePrepare  Phase = iota // Network and provider checks.
	PhaseBox                   // Base box missing, installing.
	PhaseDefine                // Machine definition written.
	PhaseBoot                  // vagrant up running.
	PhaseRollback              // Boot failed, tearing down.
	PhaseDone                  // VM is up.
)

func (p Phase) String() string {
	switch p {
	case PhasePrepare:
		return "prepare"
	case PhaseBox:
		return "box"
	case PhaseDefine:
		return "define"
	case PhaseBoot:
		return "boot"
	case PhaseRollback:
		return "rollback"
	case PhaseDone:
		return "done"
	}
	return "unknown"
}

// Event describes a single lifecycle progress update.
type Event struct {
	Phase  Phase
	VMName string
	Detail string // box name for PhaseBox, error text for PhaseRollback.
}
