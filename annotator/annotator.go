// Package annotator turns a free-text steward reply into a structured verdict.
//
// Annotate is a pure function: no I/O, no clock, no shared state. It is safe
// to call from any number of goroutines and never fails; missing content is
// replaced by fixed fallback values.
package annotator

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"penaltydesk-backend/models"
)

const (
	titleLimit    = 80
	incidentLimit = 140
	maxCitations  = 3
	maxPrecedents = 3

	fairnessEmpty = 50
	fairnessMin   = 25
	fairnessMax   = 95
	fairnessMod   = 101

	fallbackFanSummary       = "Awaiting analysis response."
	fallbackTechnicalVerdict = "No technical verdict returned."
)

// articleRe accepts Unicode spacing such as NBSP between the word and the number.
var articleRe = regexp.MustCompile(`(?i)article[\s\v\p{Zs}\p{Zl}\p{Zp}\x{FEFF}]+([\d.]+)`)

// KeyFactors is returned unchanged for every verdict.
var KeyFactors = []string{"Race conditions", "Car positioning", "Previous rulings"}

// DefaultRegulation is cited when the reply mentions no article.
var DefaultRegulation = models.Regulation{
	Article:     "10.2",
	Description: "No specific article detected in the response.",
	Relevance:   "Default reference while awaiting richer backend output.",
	ID:          "default-article",
}

// severityRules are checked in order; the first rule with a matching keyword wins.
var severityRules = []struct {
	keywords []string
	severity models.Severity
}{
	{[]string{"disqual"}, models.SeverityDisqualification},
	{[]string{"grid"}, models.SeverityGridDrop},
	{[]string{"drive-through", "stop-go"}, models.SeverityTimePenalty},
	{[]string{"warning", "reprimand"}, models.SeverityWarning},
}

// Annotate derives a verdict from the prompt and the raw reply.
func Annotate(prompt, rawReply string) models.Verdict {
	fanSummary := rawReply
	technical := rawReply
	if rawReply == "" {
		fanSummary = fallbackFanSummary
		technical = fallbackTechnicalVerdict
	}

	keyFactors := make([]string, len(KeyFactors))
	copy(keyFactors, KeyFactors)

	return models.Verdict{
		Title:                truncate(prompt, titleLimit),
		FanSummary:           fanSummary,
		TechnicalVerdict:     technical,
		PenaltySeverity:      ClassifySeverity(rawReply),
		FairnessRating:       FairnessRating(rawReply),
		RegulationsBreached:  ExtractRegulations(rawReply),
		HistoricalPrecedents: ExtractPrecedents(rawReply),
		KeyFactors:           keyFactors,
		RawResponse:          rawReply,
	}
}

// ClassifySeverity picks the most serious penalty keyword present in the reply.
func ClassifySeverity(reply string) models.Severity {
	lower := strings.ToLower(reply)
	for _, rule := range severityRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.severity
			}
		}
	}
	return models.SeverityNoAction
}

// FairnessRating is a positional checksum of the reply clamped into [25, 95].
// It is a placeholder score, not a judgement of the text.
func FairnessRating(reply string) int {
	if reply == "" {
		return fairnessEmpty
	}

	// Reduce as we go; (a+b) mod n == ((a mod n)+(b mod n)) mod n keeps the
	// result identical to reducing the full sum.
	var sum uint64
	pos := uint64(0)
	for _, r := range reply {
		pos++
		sum = (sum + (uint64(r)%fairnessMod)*(pos%fairnessMod)) % fairnessMod
	}

	return max(fairnessMin, min(fairnessMax, int(sum)))
}

// ExtractRegulations returns up to three "Article N" citations in order of appearance.
func ExtractRegulations(reply string) []models.Regulation {
	matches := articleRe.FindAllStringSubmatch(reply, maxCitations)
	if len(matches) == 0 {
		return []models.Regulation{DefaultRegulation}
	}

	regulations := make([]models.Regulation, 0, len(matches))
	for i, m := range matches {
		token := m[1]
		regulations = append(regulations, models.Regulation{
			Article:     token,
			Description: fmt.Sprintf("Referenced Article %s", token),
			Relevance:   "Cited in the steward reasoning.",
			ID:          fmt.Sprintf("%s-%d", token, i),
		})
	}
	return regulations
}

// ExtractPrecedents turns the first three non-blank lines into precedent entries.
func ExtractPrecedents(reply string) []models.Precedent {
	precedents := make([]models.Precedent, 0, maxPrecedents)
	for _, line := range strings.Split(reply, "\n") {
		if len(precedents) == maxPrecedents {
			break
		}
		// whitespace only decides blankness; the stored line is untouched
		if strings.TrimSpace(line) == "" {
			continue
		}

		i := len(precedents)
		precedents = append(precedents, models.Precedent{
			Driver:          fmt.Sprintf("Driver %d", i+1),
			Year:            "2024",
			Race:            "Grand Prix",
			Incident:        truncate(line, incidentLimit),
			Penalty:         "Assessment",
			SimilarityScore: similarityScore(i),
			ID:              fmt.Sprintf("precedent-%d", i),
		})
	}
	return precedents
}

// similarityScore depends only on the position of the precedent.
func similarityScore(i int) int {
	return 60 + ((i+1)*8)%30
}

// truncate keeps the first n characters of s.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	count := 0
	for idx := range s {
		if count == n {
			return s[:idx]
		}
		count++
	}
	return s
}
