package collect

import "daoharvest/internal/fault"

// Stage names the step of the pipeline a failure happened in.
type Stage string

const (
	StageCursor Stage = "cursor"
	StageABI    Stage = "abi"
	StageEvents Stage = "events"
)

// Status is the terminal state of one contract's run.
type Status string

const (
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// Report describes the outcome for one contract.
type Report struct {
	DAO      string
	Contract string
	Address  string
	Status   Status
	Stage    Stage
	ErrKind  fault.Kind
	Err      error

	// NoABI marks the expected "contract not verified" outcome. The
	// contract still completes; this is informational, not an error.
	NoABI bool

	// EventsCollected counts new records fetched during this run.
	EventsCollected int
}

// Summary aggregates one run over all configured contracts.
type Summary struct {
	Reports []Report
}

// Succeeded counts contracts that reached a terminal complete state.
func (s Summary) Succeeded() int {
	n := 0
	for _, r := range s.Reports {
		if r.Status == StatusComplete {
			n++
		}
	}
	return n
}

// Failed counts contracts that ended in an error state.
func (s Summary) Failed() int {
	return len(s.Reports) - s.Succeeded()
}
