package types

import "strings"

// Finding is one reported vulnerability affecting one package
type Finding struct {
	ID          string  // CVE or advisory name
	Package     string  // Dependency file name as reported by the scanner
	Severity    string  // CRITICAL, HIGH, MEDIUM, LOW, UNKNOWN
	Score       float64 // CVSS v3 base score, falling back to CVSS v2
	Description string
}

// Tier is the severity bucket used for the pass/fail decision
type Tier int

const (
	TierOther Tier = iota
	TierHigh
	TierCritical
)

// Score thresholds for the critical and high tiers
const (
	CriticalScoreThreshold = 9.0
	HighScoreThreshold     = 7.0
)

func (t Tier) String() string {
	switch t {
	case TierCritical:
		return "critical"
	case TierHigh:
		return "high"
	default:
		return "other"
	}
}

// Tier buckets the finding. The critical check runs first, so a finding is
// never counted as both.
func (f Finding) Tier() Tier {
	switch {
	case f.Score >= CriticalScoreThreshold || strings.EqualFold(f.Severity, "CRITICAL"):
		return TierCritical
	case f.Score >= HighScoreThreshold || strings.EqualFold(f.Severity, "HIGH"):
		return TierHigh
	default:
		return TierOther
	}
}
