// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package flow

import (
	"regexp"
	"strings"
)

// MatcherKind is the discriminant of a DomainMatcher.
type MatcherKind uint8

const (
	MatchPlain MatcherKind = iota
	MatchFull
	MatchDomain
	MatchRegex
	MatchKeyword
)

// DomainMatcher evaluates a DNS query name against one rule source
// entry. Regex matchers compile their pattern once at rule load.
type DomainMatcher struct {
	Kind  MatcherKind
	Value string

	compiled *regexp.Regexp
}

// NewDomainMatcher builds a matcher, compiling Regex patterns eagerly
// so a bad pattern is rejected at rule load instead of at query time.
func NewDomainMatcher(kind MatcherKind, value string) (DomainMatcher, error) {
	m := DomainMatcher{Kind: kind, Value: value}
	if kind == MatchRegex {
		re, err := regexp.Compile(value)
		if err != nil {
			return m, err
		}
		m.compiled = re
	}
	return m, nil
}

// Match reports whether name (a DNS query name, dot-terminated or not)
// satisfies this matcher.
func (m DomainMatcher) Match(name string) bool {
	name = strings.TrimSuffix(strings.ToLower(name), ".")
	value := strings.TrimSuffix(strings.ToLower(m.Value), ".")

	switch m.Kind {
	case MatchPlain:
		return matchesAnyLabel(name, value)
	case MatchFull:
		return name == value
	case MatchDomain:
		return name == value || strings.HasSuffix(name, "."+value)
	case MatchRegex:
		if m.compiled == nil {
			re, err := regexp.Compile(m.Value)
			if err != nil {
				return false
			}
			m.compiled = re
		}
		return m.compiled.MatchString(name)
	case MatchKeyword:
		return strings.Contains(name, value)
	default:
		return false
	}
}

// matchesAnyLabel implements "Plain": label-wise containment — value
// must appear as a whole label (or a run of whole labels) within
// name's dot-separated labels.
func matchesAnyLabel(name, value string) bool {
	if value == "" {
		return false
	}
	for _, label := range strings.Split(name, ".") {
		if label == value {
			return true
		}
	}
	return strings.Contains("."+name+".", "."+value+".")
}

// Key returns a stable dedup key for this matcher, so FlowAssembler can
// detect the same DomainMatcher added twice (directly, or via inverse
// geo-tag expansion) and skip the duplicate.
func (m DomainMatcher) Key() string {
	return string(rune('0'+m.Kind)) + ":" + strings.ToLower(m.Value)
}
