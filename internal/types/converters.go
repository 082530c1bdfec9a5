package types

import (
	"time"
)

// FindingRecord is an actionable finding as persisted for a gate run
type FindingRecord struct {
	CVEID       string
	Package     string
	Severity    string
	Score       float64
	Tier        string
	Description string
	RecordedAt  int64 // Unix timestamp in seconds
}

// ExceptedFindingRecord is a finding suppressed by an exception rule, kept
// as an audit trail of who approved it and why.
type ExceptedFindingRecord struct {
	CVEID         string
	Package       string
	Severity      string
	Score         float64
	Justification string
	ApprovedBy    string
	ExceptedAt    int64  // Unix timestamp in seconds
	ExpiresAt     *int64 // Unix timestamp in seconds, nil means no expiry
}

// FindingConverter provides conversion methods for Finding types.
type FindingConverter struct{}

// NewFindingConverter creates a new FindingConverter instance.
func NewFindingConverter() *FindingConverter {
	return &FindingConverter{}
}

// ToFindingRecord converts a Finding to a FindingRecord.
func (c *FindingConverter) ToFindingRecord(f Finding, recordedAt time.Time) FindingRecord {
	return FindingRecord{
		CVEID:       f.ID,
		Package:     f.Package,
		Severity:    f.Severity,
		Score:       f.Score,
		Tier:        f.Tier().String(),
		Description: f.Description,
		RecordedAt:  recordedAt.Unix(),
	}
}

// ToFindingRecords converts a slice of Findings to FindingRecords.
func (c *FindingConverter) ToFindingRecords(findings []Finding, recordedAt time.Time) []FindingRecord {
	records := make([]FindingRecord, len(findings))
	for i, f := range findings {
		records[i] = c.ToFindingRecord(f, recordedAt)
	}
	return records
}

// ToExceptedFindingRecord converts a Finding and the rule that excepted it to
// an ExceptedFindingRecord.
func (c *FindingConverter) ToExceptedFindingRecord(f Finding, rule ExceptionRule, exceptedAt time.Time) ExceptedFindingRecord {
	var expiresAt *int64
	if rule.ExpiryDate != nil {
		unix := rule.ExpiryDate.Unix()
		expiresAt = &unix
	}
	return ExceptedFindingRecord{
		CVEID:         f.ID,
		Package:       f.Package,
		Severity:      f.Severity,
		Score:         f.Score,
		Justification: rule.Justification,
		ApprovedBy:    rule.ApprovedBy,
		ExceptedAt:    exceptedAt.Unix(),
		ExpiresAt:     expiresAt,
	}
}
