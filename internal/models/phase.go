package models

import "fmt"

type Phase string

const (
	PhaseSetup     Phase = "setup"
	PhaseDefine    Phase = "define"
	PhaseReview    Phase = "review"
	PhaseExecute   Phase = "execute"
	PhaseIntegrate Phase = "integrate"
	PhaseQA        Phase = "qa"
	PhaseDone      Phase = "done"
)

// Phases lists every phase in execution order, terminal last.
var Phases = []Phase{
	PhaseSetup,
	PhaseDefine,
	PhaseReview,
	PhaseExecute,
	PhaseIntegrate,
	PhaseQA,
	PhaseDone,
}

func (p Phase) Valid() bool {
	return p.Index() >= 0
}

// Index returns the position of p in Phases, or -1 for an unknown phase.
func (p Phase) Index() int {
	for i, phase := range Phases {
		if phase == p {
			return i
		}
	}
	return -1
}

func (p Phase) Terminal() bool {
	return p == PhaseDone
}

// NextPhase returns the phase statically following current. QA is skipped
// when the run has no QA stakeholders. Done is its own successor.
func NextPhase(current Phase, hasQA bool) (Phase, error) {
	idx := current.Index()
	if idx < 0 {
		return "", fmt.Errorf("unknown phase %q", current)
	}
	if current.Terminal() {
		return PhaseDone, nil
	}

	next := Phases[idx+1]
	if next == PhaseQA && !hasQA {
		return PhaseDone, nil
	}
	return next, nil
}
