package types

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ExceptionRule is an approved waiver for one vulnerability in one package.
// This is the single source of truth for exception data structures.
type ExceptionRule struct {
	ID            string
	Package       string
	Justification string
	ApprovedBy    string
	ExpiryDate    *time.Time // nil means no expiry
	ReviewDate    *time.Time // nil means no review scheduled

	// NeedsReview is set by the loader when ReviewDate has passed. A rule that
	// needs review never excepts a finding.
	NeedsReview bool
}

// exceptionRuleYAML mirrors the on-disk layout of an exception rule
type exceptionRuleYAML struct {
	ID            string `yaml:"id"`
	Package       string `yaml:"package"`
	Justification string `yaml:"justification"`
	ApprovedBy    string `yaml:"approved_by"`
	ExpiryDate    string `yaml:"expiry_date"`
	ReviewDate    string `yaml:"review_date"`
}

// UnmarshalYAML decodes an exception rule and parses its timestamps.
// Supported timestamp forms: RFC3339 (with Z or offset), naive date-time
// (read as UTC) and YYYY-MM-DD (end of that day, UTC).
func (r *ExceptionRule) UnmarshalYAML(value *yaml.Node) error {
	var raw exceptionRuleYAML
	if err := value.Decode(&raw); err != nil {
		return err
	}

	expiry, err := ParseTimestamp(raw.ExpiryDate)
	if err != nil {
		return fmt.Errorf("invalid expiry_date format: %w", err)
	}
	review, err := ParseTimestamp(raw.ReviewDate)
	if err != nil {
		return fmt.Errorf("invalid review_date format: %w", err)
	}

	*r = ExceptionRule{
		ID:            strings.TrimSpace(raw.ID),
		Package:       strings.TrimSpace(raw.Package),
		Justification: raw.Justification,
		ApprovedBy:    raw.ApprovedBy,
		ExpiryDate:    expiry,
		ReviewDate:    review,
	}
	return nil
}

// IsExpired reports whether the rule's expiry date is strictly before now
func (r ExceptionRule) IsExpired(now time.Time) bool {
	return r.ExpiryDate != nil && r.ExpiryDate.Before(now)
}

// IsReviewDue reports whether the rule's review date is strictly before now
func (r ExceptionRule) IsReviewDue(now time.Time) bool {
	return r.ReviewDate != nil && r.ReviewDate.Before(now)
}

// Matches reports whether the rule covers the given finding. Rules that need
// review never match.
func (r ExceptionRule) Matches(f Finding) bool {
	return !r.NeedsReview && r.Covers(f)
}

// Covers reports whether the rule names the finding's vulnerability and
// package, ignoring review state.
func (r ExceptionRule) Covers(f Finding) bool {
	return r.ID == f.ID && r.Package == f.Package
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTimestamp parses an exception timestamp. An empty value yields nil.
func ParseTimestamp(value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}

	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		t = t.UTC()
		return &t, nil
	}

	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return &t, nil
		}
	}

	if t, err := time.ParseInLocation("2006-01-02", value, time.UTC); err == nil {
		// A bare date covers the whole day
		t = t.Add(24*time.Hour - time.Nanosecond)
		return &t, nil
	}

	return nil, fmt.Errorf("%q is not RFC3339 or YYYY-MM-DD", value)
}
