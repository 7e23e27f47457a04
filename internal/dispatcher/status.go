package dispatcher

import "fmt"

type ChunkState int

const (
	Pending ChunkState = iota
	Running
	Succeeded
	// Abandoned is only reached when a bounded policy runs out of attempts or
	// the job deadline expires. The default policy never produces it.
	Abandoned
)

func (s ChunkState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Succeeded:
		return "succeeded"
	case Abandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

func (s ChunkState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *ChunkState) UnmarshalText(text []byte) error {
	for _, state := range []ChunkState{Pending, Running, Succeeded, Abandoned} {
		if state.String() == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown chunk state %q", text)
}

type ChunkStatus struct {
	ChunkID   int        `json:"chunk_id"`
	State     ChunkState `json:"state"`
	Retries   int        `json:"retries"`
	LastError string     `json:"last_error,omitempty"`
}

// Statuses is an ordered snapshot of every chunk of a job.
type Statuses []ChunkStatus

func (s Statuses) Count(state ChunkState) int {
	n := 0
	for _, st := range s {
		if st.State == state {
			n++
		}
	}
	return n
}

func (s Statuses) TotalRetries() int {
	n := 0
	for _, st := range s {
		n += st.Retries
	}
	return n
}

func (s Statuses) Retries() map[int]int {
	r := make(map[int]int, len(s))
	for _, st := range s {
		r[st.ChunkID] = st.Retries
	}
	return r
}

// ByState counts chunks keyed by state name.
func (s Statuses) ByState() map[string]int {
	m := map[string]int{}
	for _, st := range s {
		m[st.State.String()]++
	}
	return m
}
