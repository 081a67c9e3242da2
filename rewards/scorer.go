package rewards

import "fmt"

// Scorer folds the three raw node signals into one 0-100 score using fixed
// integer weights. The same truncating arithmetic feeds both reward
// adjustment and slashing eligibility, so the rounding must never diverge
// between the two call sites.
type Scorer struct {
	uptimeWeight      int64
	performanceWeight int64
	qualityWeight     int64
}

// NewScorer creates a scorer; the weights must sum to 100
func NewScorer(uptimeWeight, performanceWeight, qualityWeight int64) (*Scorer, error) {
	sum := uptimeWeight + performanceWeight + qualityWeight
	if sum != 100 {
		return nil, fmt.Errorf("score weights must sum to 100, got %d", sum)
	}
	if uptimeWeight < 0 || performanceWeight < 0 || qualityWeight < 0 {
		return nil, fmt.Errorf("score weights must be non-negative")
	}
	return &Scorer{
		uptimeWeight:      uptimeWeight,
		performanceWeight: performanceWeight,
		qualityWeight:     qualityWeight,
	}, nil
}

// Overall computes the weighted score with integer truncation (toward zero).
// Inputs must already be validated into [0, 100].
func (s *Scorer) Overall(uptime, performance, quality int64) int64 {
	return (uptime*s.uptimeWeight + performance*s.performanceWeight + quality*s.qualityWeight) / 100
}

// ValidScore reports whether a raw signal is in [0, 100]
func ValidScore(score int64) bool {
	return score >= 0 && score <= 100
}
