package domain

import (
	"sort"
	"strings"
)

const TagRegression = "Regression"

// TagSet is a duplicate-free set of issue labels. Methods never mutate the receiver.
type TagSet map[string]struct{}

func NewTagSet(tags ...string) TagSet {
	s := make(TagSet, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		s[t] = struct{}{}
	}
	return s
}

func (s TagSet) Has(tag string) bool {
	_, ok := s[tag]
	return ok
}

func (s TagSet) Len() int { return len(s) }

func (s TagSet) Clone() TagSet {
	out := make(TagSet, len(s))
	for t := range s {
		out[t] = struct{}{}
	}
	return out
}

func (s TagSet) With(tag string) TagSet {
	out := s.Clone()
	if tag = strings.TrimSpace(tag); tag != "" {
		out[tag] = struct{}{}
	}
	return out
}

// Without is a set difference; removing an absent tag is a no-op.
func (s TagSet) Without(tag string) TagSet {
	out := s.Clone()
	delete(out, tag)
	return out
}

func (s TagSet) Union(other TagSet) TagSet {
	out := s.Clone()
	for t := range other {
		out[t] = struct{}{}
	}
	return out
}

func (s TagSet) Equal(other TagSet) bool {
	if len(s) != len(other) {
		return false
	}
	for t := range s {
		if !other.Has(t) {
			return false
		}
	}
	return true
}

// Slice returns the tags sorted, never nil.
func (s TagSet) Slice() []string {
	out := make([]string, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
