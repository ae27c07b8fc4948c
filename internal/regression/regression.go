// Package regression derives the Regression tag of a tracked test from its
// previous and current status.
package regression

import "github.com/okJiang/jira-test-reporter/internal/domain"

// Resolve returns the tag set for an issue that already exists. Rules are
// applied in order and the first match wins:
//
//	Passed -> Failed           add Regression
//	Failed -> Passed           remove Regression
//	current Passed             remove Regression
//	previous == current        remove Regression
//	otherwise                  unchanged
//
// The Regression tag therefore only marks the single run in which a test
// started failing.
func Resolve(prev, cur domain.Status, prevTags domain.TagSet) domain.TagSet {
	switch {
	case prev == domain.StatusPassed && cur == domain.StatusFailed:
		return prevTags.With(domain.TagRegression)
	case prev == domain.StatusFailed && cur == domain.StatusPassed:
		return prevTags.Without(domain.TagRegression)
	case cur == domain.StatusPassed && prevTags.Has(domain.TagRegression):
		return prevTags.Without(domain.TagRegression)
	case prev == cur && prevTags.Has(domain.TagRegression):
		return prevTags.Without(domain.TagRegression)
	default:
		return prevTags.Clone()
	}
}

func IsRegression(tags domain.TagSet) bool {
	return tags.Has(domain.TagRegression)
}
