// Package scoring turns a raw assistant answer into a visibility result:
// whether the brand appears, where, and which competitors appear alongside.
package scoring

import (
	"regexp"
	"strings"
)

// Result is the scored outcome for one answer.
type Result struct {
	BrandMentioned       bool
	VisibilityScore      float64
	CompetitorsMentioned []string
}

// Analyzer scores answers for a single brand/competitor set.
type Analyzer struct {
	brand       string
	brandRe     *regexp.Regexp
	competitors map[string]*regexp.Regexp
}

// NewAnalyzer compiles word-boundary matchers for the brand and each
// competitor. Matching is case-insensitive.
func NewAnalyzer(brand string, competitors []string) *Analyzer {
	a := &Analyzer{
		brand:       brand,
		brandRe:     wordMatcher(brand),
		competitors: make(map[string]*regexp.Regexp, len(competitors)),
	}
	for _, c := range competitors {
		if strings.TrimSpace(c) == "" {
			continue
		}
		a.competitors[c] = wordMatcher(c)
	}
	return a
}

// Score computes the visibility result for one answer. The score is 0 when
// the brand is absent; otherwise it starts at 100, decays with how late in
// the answer the first mention appears, and is diluted by the share of
// competitors also present.
func (a *Analyzer) Score(answer string) Result {
	res := Result{CompetitorsMentioned: []string{}}
	if strings.TrimSpace(answer) == "" {
		return res
	}

	for name, re := range a.competitors {
		if re.MatchString(answer) {
			res.CompetitorsMentioned = append(res.CompetitorsMentioned, name)
		}
	}

	loc := a.brandRe.FindStringIndex(answer)
	if loc == nil {
		return res
	}
	res.BrandMentioned = true

	// Position factor: 1.0 at the very start, 0.5 at the very end.
	position := float64(loc[0]) / float64(len(answer))
	score := 100 * (1 - position/2)

	// Dilution: each competitor sharing the answer shaves a slice.
	if n := len(res.CompetitorsMentioned); n > 0 {
		score *= 1 / (1 + float64(n)*0.25)
	}

	res.VisibilityScore = score
	return res
}

// wordMatcher builds a case-insensitive word-boundary matcher for a name.
func wordMatcher(name string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(strings.TrimSpace(name)) + `\b`)
}
