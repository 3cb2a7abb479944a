package compile

import "fmt"

// JobState is the lifecycle position of a compile job.
type JobState int

const (
	Idle JobState = iota
	Started
	Weaving
	Compiling
	BibtexPass
	IndexPass
	Succeeded
	Failed
	Terminated
)

var stateNames = [...]string{
	Idle:       "idle",
	Started:    "started",
	Weaving:    "weaving",
	Compiling:  "compiling",
	BibtexPass: "bibtex",
	IndexPass:  "makeindex",
	Succeeded:  "succeeded",
	Failed:     "failed",
	Terminated: "terminated",
}

func (s JobState) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("JobState(%d)", int(s))
}

// Terminal reports whether no further transitions are possible.
func (s JobState) Terminal() bool {
	return s == Succeeded || s == Failed || s == Terminated
}

// Active reports whether the job holds the compile slot.
func (s JobState) Active() bool {
	return s != Idle && !s.Terminal()
}

var transitions = map[JobState][]JobState{
	Idle:       {Started},
	Started:    {Weaving, Compiling, Failed, Terminated},
	Weaving:    {Compiling, Failed, Terminated},
	Compiling:  {BibtexPass, IndexPass, Succeeded, Failed, Terminated},
	BibtexPass: {IndexPass, Compiling, Failed, Terminated},
	IndexPass:  {Compiling, Failed, Terminated},
}

// CanTransition reports whether the state machine allows s -> to.
func (s JobState) CanTransition(to JobState) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}
