package evaluation

import (
	"fmt"
	"strings"
)

// Condition is one test an image must pass for a rule group to match.
type Condition string

const (
	ConditionUseImageNo   Condition = "use_image_no"
	ConditionHasDamage    Condition = "has_damage"
	ConditionGeneFlagged  Condition = "gene_flagged"
	ConditionHasQuality   Condition = "has_quality"
	ConditionHasImageType Condition = "has_image_type"
	ConditionHasNotes     Condition = "has_notes"
)

var knownConditions = map[Condition]struct{}{
	ConditionUseImageNo:   {},
	ConditionHasDamage:    {},
	ConditionGeneFlagged:  {},
	ConditionHasQuality:   {},
	ConditionHasImageType: {},
	ConditionHasNotes:     {},
}

// Conditions lists every supported condition name.
func Conditions() []Condition {
	return []Condition{
		ConditionUseImageNo,
		ConditionHasDamage,
		ConditionGeneFlagged,
		ConditionHasQuality,
		ConditionHasImageType,
		ConditionHasNotes,
	}
}

// RuleSet decides whether an image counts as evaluated: the image matches
// when every condition of at least one group holds. The zero RuleSet uses
// the legacy rule.
type RuleSet struct {
	groups [][]Condition
}

// ParseRules validates configured rule groups. Empty groups are dropped.
func ParseRules(groups [][]string) (RuleSet, error) {
	var rs RuleSet
	for i, group := range groups {
		parsed := make([]Condition, 0, len(group))
		for _, name := range group {
			cond := Condition(strings.ToLower(strings.TrimSpace(name)))
			if cond == "" {
				continue
			}
			if _, ok := knownConditions[cond]; !ok {
				return RuleSet{}, fmt.Errorf("rule group %d: unknown condition %q", i+1, name)
			}
			parsed = append(parsed, cond)
		}
		if len(parsed) > 0 {
			rs.groups = append(rs.groups, parsed)
		}
	}
	return rs, nil
}

// Empty reports whether the legacy rule applies.
func (rs RuleSet) Empty() bool {
	return len(rs.groups) == 0
}

// String renders the rule set as "a+b | c".
func (rs RuleSet) String() string {
	if rs.Empty() {
		return "legacy"
	}
	parts := make([]string, 0, len(rs.groups))
	for _, group := range rs.groups {
		names := make([]string, len(group))
		for i, c := range group {
			names[i] = string(c)
		}
		parts = append(parts, strings.Join(names, "+"))
	}
	return strings.Join(parts, " | ")
}

// IsEvaluated applies the rule set to an image's record and use flag.
func (rs RuleSet) IsEvaluated(rec Record, used bool) bool {
	if rs.Empty() {
		return legacyEvaluated(rec)
	}
	for _, group := range rs.groups {
		if groupMatches(group, rec, used) {
			return true
		}
	}
	return false
}

func groupMatches(group []Condition, rec Record, used bool) bool {
	for _, cond := range group {
		if !conditionHolds(cond, rec, used) {
			return false
		}
	}
	return true
}

func conditionHolds(cond Condition, rec Record, used bool) bool {
	switch cond {
	case ConditionUseImageNo:
		return !used
	case ConditionHasDamage:
		return rec.HasDamage()
	case ConditionGeneFlagged:
		return rec.Gene
	case ConditionHasQuality:
		return strings.TrimSpace(rec.Quality) != ""
	case ConditionHasImageType:
		return rec.HasImageType()
	case ConditionHasNotes:
		return strings.TrimSpace(rec.Notes) != ""
	default:
		return false
	}
}

func legacyEvaluated(rec Record) bool {
	if rec.HasDamage() && rec.HasImageType() {
		return true
	}
	return strings.TrimSpace(rec.Quality) != "" && rec.HasDamage()
}
