package verification

// Verdict is the judgment for a whole batch.
type Verdict struct {
	Status  Status    `json:"status"`
	Message string    `json:"message,omitempty"`
	Results []Outcome `json:"detailed_results"`
}

// Counts returns the number of successful and failed frames.
func (v Verdict) Counts() (successes, failures int) {
	for _, o := range v.Results {
		if o.Succeeded() {
			successes++
		} else {
			failures++
		}
	}
	return successes, failures
}

// Aggregate applies the majority rule to outcomes. The batch fails only when
// failures strictly outnumber successes; its message is then the most frequent
// failure message, ties going to the message whose lowest Reason comes first.
// Results always holds every outcome in order.
func Aggregate(outcomes []Outcome) Verdict {
	v := Verdict{Status: StatusSuccess, Results: outcomes}
	if v.Results == nil {
		v.Results = []Outcome{}
	}

	successes, failures := v.Counts()
	if failures <= successes {
		return v
	}

	counts := make(map[string]int)
	rank := make(map[string]Reason)
	for _, o := range outcomes {
		if o.Succeeded() {
			continue
		}
		counts[o.Message]++
		if r, ok := rank[o.Message]; !ok || o.Reason < r {
			rank[o.Message] = o.Reason
		}
	}

	best, bestN := "", 0
	for msg, n := range counts {
		if n > bestN || (n == bestN && (rank[msg] < rank[best] || (rank[msg] == rank[best] && msg < best))) {
			best, bestN = msg, n
		}
	}

	v.Status = StatusError
	v.Message = best
	return v
}
