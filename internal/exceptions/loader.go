package exceptions

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/daimoniac/depgate/internal/errors"
	"github.com/daimoniac/depgate/internal/types"
	"gopkg.in/yaml.v3"
)

// DefaultExpiryWarningWindow is how far ahead an upcoming expiry is reported
const DefaultExpiryWarningWindow = 7 * 24 * time.Hour

// document is the on-disk layout of the exceptions file
type document struct {
	Exceptions     []yaml.Node `yaml:"exceptions"`
	GlobalSettings interface{} `yaml:"global_settings"`
}

// Loader reads exception rule sets from YAML
type Loader struct {
	logger              *slog.Logger
	expiryWarningWindow time.Duration
}

// NewLoader creates a new exception loader
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		logger:              logger,
		expiryWarningWindow: DefaultExpiryWarningWindow,
	}
}

// SetExpiryWarningWindow sets the duration before expiry to trigger warnings
func (l *Loader) SetExpiryWarningWindow(duration time.Duration) {
	l.expiryWarningWindow = duration
}

// Load reads the exceptions file at path. A missing file yields an empty rule
// set and a warning. Malformed content yields a *errors.ConfigError.
func (l *Loader) Load(path string, now time.Time) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			l.logger.Warn("exceptions file not found, continuing without exceptions",
				"path", path)
			return Empty(path), nil
		}
		return nil, errors.NewPermanentf("failed to read exceptions file %s: %w", path, err)
	}

	return l.Parse(path, data, now)
}

// Parse builds a rule set from raw YAML. source names the document in errors
// and logs.
func (l *Loader) Parse(source string, data []byte, now time.Time) (*RuleSet, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.NewConfigError(source, fmt.Errorf("failed to parse exceptions YAML: %w", err))
	}

	set := &RuleSet{
		source:         source,
		loadedAt:       now,
		globalSettings: doc.GlobalSettings,
		rules:          make([]types.ExceptionRule, 0, len(doc.Exceptions)),
	}

	seen := make(map[string]int)
	for i := range doc.Exceptions {
		node := &doc.Exceptions[i]

		var rule types.ExceptionRule
		if err := node.Decode(&rule); err != nil {
			return nil, errors.NewRuleConfigErrorf(source, i, "line %d: %w", node.Line, err)
		}
		if rule.ID == "" {
			return nil, errors.NewRuleConfigErrorf(source, i, "line %d: missing required field %q", node.Line, "id")
		}
		if rule.Package == "" {
			return nil, errors.NewRuleConfigErrorf(source, i, "line %d: missing required field %q", node.Line, "package")
		}

		if rule.IsExpired(now) {
			l.logger.Warn("expired exception ignored",
				"cve_id", rule.ID,
				"package", rule.Package,
				"expired_at", rule.ExpiryDate.Format(time.RFC3339))
			set.expired = append(set.expired, rule)
			continue
		}

		if rule.IsReviewDue(now) {
			rule.NeedsReview = true
			l.logger.Warn("exception requires review",
				"cve_id", rule.ID,
				"package", rule.Package,
				"review_date", rule.ReviewDate.Format(time.RFC3339),
				"approved_by", rule.ApprovedBy)
		}

		if rule.ExpiryDate != nil {
			timeUntilExpiry := rule.ExpiryDate.Sub(now)
			if timeUntilExpiry <= l.expiryWarningWindow {
				daysUntil := int(timeUntilExpiry.Hours() / 24)
				set.expiringSoon = append(set.expiringSoon, ExpiringRule{
					Rule:      rule,
					ExpiresAt: *rule.ExpiryDate,
					DaysUntil: daysUntil,
				})
				l.logger.Warn("exception expiring soon",
					"cve_id", rule.ID,
					"package", rule.Package,
					"expires_at", rule.ExpiryDate.Format(time.RFC3339),
					"days_until_expiry", daysUntil)
			}
		}

		key := rule.ID + "\x00" + rule.Package
		if first, dup := seen[key]; dup {
			l.logger.Warn("duplicate exception, first rule in document order wins",
				"cve_id", rule.ID,
				"package", rule.Package,
				"first_index", first,
				"duplicate_index", i)
		} else {
			seen[key] = i
		}

		set.rules = append(set.rules, rule)
	}

	l.logger.Debug("exceptions loaded",
		"source", source,
		"active", len(set.rules),
		"expired", len(set.expired),
		"review_required", len(set.ReviewRequired()),
		"expiring_soon", len(set.expiringSoon))

	return set, nil
}
