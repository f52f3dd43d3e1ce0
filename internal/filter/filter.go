// Package filter applies user-configured include/exclude regex rules to
// fetched stream records.
package filter

import (
	"fmt"
	"regexp"

	"github.com/kptv/streamsync/internal/models"
)

// ConfigError is a malformed filter rule, rejected when the rule set is
// compiled rather than per-record at filter time.
type ConfigError struct {
	RuleID  int64
	Pattern string
	Err     error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("filter rule %d: bad pattern %q: %v", e.RuleID, e.Pattern, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Set is a compiled rule set for one user.
type Set struct {
	include []*regexp.Regexp
	exclude []*regexp.Regexp
}

// Compile validates and compiles the rules. Any malformed pattern fails the
// whole set.
func Compile(rules []models.FilterRule) (*Set, error) {
	s := &Set{}
	for _, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, &ConfigError{RuleID: r.ID, Pattern: r.Pattern, Err: err}
		}
		switch r.Type {
		case models.FilterTypeInclude:
			s.include = append(s.include, re)
		case models.FilterTypeExclude:
			s.exclude = append(s.exclude, re)
		default:
			return nil, &ConfigError{RuleID: r.ID, Pattern: r.Pattern,
				Err: fmt.Errorf("unknown filter type %d", r.Type)}
		}
	}
	return s, nil
}

// Empty reports whether the set has no rules at all.
func (s *Set) Empty() bool {
	return len(s.include) == 0 && len(s.exclude) == 0
}

// Match reports whether a stream with the given provider-supplied name
// survives the rules. When any include rule exists the name must match at
// least one; exclude rules always remove matches, evaluated afterwards.
func (s *Set) Match(name string) bool {
	if len(s.include) > 0 {
		ok := false
		for _, re := range s.include {
			if re.MatchString(name) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	for _, re := range s.exclude {
		if re.MatchString(name) {
			return false
		}
	}
	return true
}

// Apply filters records by their original name. Pure: the input slice is
// not modified.
func (s *Set) Apply(records []models.StagingRecord) []models.StagingRecord {
	if s.Empty() {
		return records
	}
	out := make([]models.StagingRecord, 0, len(records))
	for _, rec := range records {
		if s.Match(rec.OrigName) {
			out = append(out, rec)
		}
	}
	return out
}
