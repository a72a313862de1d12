package models

// RecordOutcome is the per-record result entry reported back to the
// target runner.
type RecordOutcome struct {
	ID         string `json:"id,omitempty"`
	Success    bool   `json:"success"`
	ExternalID string `json:"externalId,omitempty"`
	Error      string `json:"error,omitempty"`
}

// StreamState accumulates per-stream counters and outcome entries. It is
// mutated after each record and flushed at end of run.
type StreamState struct {
	Success  int             `json:"success"`
	Fail     int             `json:"fail"`
	Updated  int             `json:"updated"`
	Existing int             `json:"existing"`
	Outcomes []RecordOutcome `json:"outcomes"`
}

// Record folds one outcome into the counters.
func (s *StreamState) Record(outcome RecordOutcome, updated, existing bool) {
	s.Outcomes = append(s.Outcomes, outcome)
	if outcome.Success {
		s.Success++
	} else {
		s.Fail++
	}
	if updated {
		s.Updated++
	}
	if existing {
		s.Existing++
	}
}

// RunSummary maps stream name to its accumulated state.
type RunSummary map[string]*StreamState
