package exceptions

import (
	"time"

	"github.com/daimoniac/depgate/internal/types"
)

// RuleSet is the immutable set of exception rules for one run. Active rules
// keep document order, which decides ties between overlapping rules.
type RuleSet struct {
	source         string
	loadedAt       time.Time
	rules          []types.ExceptionRule
	expired        []types.ExceptionRule
	expiringSoon   []ExpiringRule
	globalSettings interface{}
}

// ExpiringRule is an active rule whose expiry falls inside the warning window
type ExpiringRule struct {
	Rule      types.ExceptionRule
	ExpiresAt time.Time
	DaysUntil int
}

// Empty returns a rule set with no rules
func Empty(source string) *RuleSet {
	return &RuleSet{source: source}
}

// NewRuleSet builds a rule set from already-validated rules. Expiry and review
// state are taken as given.
func NewRuleSet(source string, rules ...types.ExceptionRule) *RuleSet {
	return &RuleSet{
		source: source,
		rules:  append([]types.ExceptionRule(nil), rules...),
	}
}

// Source returns the path or name the rules were loaded from
func (s *RuleSet) Source() string {
	if s == nil {
		return ""
	}
	return s.source
}

// LoadedAt returns the reference time used for expiry and review checks
func (s *RuleSet) LoadedAt() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.loadedAt
}

// Rules returns a copy of the active rules in document order, including rules
// marked as needing review.
func (s *RuleSet) Rules() []types.ExceptionRule {
	if s == nil {
		return nil
	}
	return append([]types.ExceptionRule(nil), s.rules...)
}

// Len returns the number of active rules
func (s *RuleSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.rules)
}

// Expired returns the rules dropped because their expiry date had passed
func (s *RuleSet) Expired() []types.ExceptionRule {
	if s == nil {
		return nil
	}
	return append([]types.ExceptionRule(nil), s.expired...)
}

// ReviewRequired returns the active rules whose review date has passed
func (s *RuleSet) ReviewRequired() []types.ExceptionRule {
	if s == nil {
		return nil
	}
	var out []types.ExceptionRule
	for _, r := range s.rules {
		if r.NeedsReview {
			out = append(out, r)
		}
	}
	return out
}

// ExpiringSoon returns active rules that expire within the warning window
func (s *RuleSet) ExpiringSoon() []ExpiringRule {
	if s == nil {
		return nil
	}
	return append([]ExpiringRule(nil), s.expiringSoon...)
}

// GlobalSettings returns the document's global_settings value unchanged. It
// is whatever YAML held there: a mapping, list, scalar or nil.
func (s *RuleSet) GlobalSettings() interface{} {
	if s == nil {
		return nil
	}
	return s.globalSettings
}
