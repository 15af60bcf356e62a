package annotator

import (
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"penaltydesk-backend/models"
)

func TestAnnotate_TotalOverAwkwardInputs(t *testing.T) {
	inputs := []string{
		"",
		"   ",
		"\n\n\t\n",
		"Verstappen 🏎️ reçoit une pénalité de cinq secondes",
		"\xff\xfe invalid utf-8",
		strings.Repeat("Article 1.1 grid ", 500),
	}

	for _, prompt := range inputs {
		for _, reply := range inputs {
			v := Annotate(prompt, reply)
			assert.Contains(t, models.Severities, v.PenaltySeverity)
			assert.GreaterOrEqual(t, v.FairnessRating, fairnessMin)
			assert.LessOrEqual(t, v.FairnessRating, fairnessMax)
			assert.NotEmpty(t, v.RegulationsBreached)
			assert.LessOrEqual(t, len(v.RegulationsBreached), 3)
			assert.LessOrEqual(t, len(v.HistoricalPrecedents), 3)
			assert.Len(t, v.KeyFactors, 3)
			assert.Equal(t, reply, v.RawResponse)
		}
	}
}

func TestAnnotate_EmptyReplyFallbacks(t *testing.T) {
	got := Annotate("Analyze this Formula 1 penalty incident.", "")

	want := models.Verdict{
		Title:                "Analyze this Formula 1 penalty incident.",
		FanSummary:           "Awaiting analysis response.",
		TechnicalVerdict:     "No technical verdict returned.",
		PenaltySeverity:      models.SeverityNoAction,
		FairnessRating:       50,
		RegulationsBreached:  []models.Regulation{DefaultRegulation},
		HistoricalPrecedents: []models.Precedent{},
		KeyFactors:           []string{"Race conditions", "Car positioning", "Previous rulings"},
		RawResponse:          "",
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Annotate() mismatch (-want +got):\n%s", diff)
	}
}

func TestAnnotate_FullVerdict(t *testing.T) {
	reply := "The stewards issued a 5 second stop-go penalty under Article 54.3.\n" +
		"Car 1 left the track and gained an advantage."

	got := Annotate("Turn 4 incident", reply)

	want := models.Verdict{
		Title:            "Turn 4 incident",
		FanSummary:       reply,
		TechnicalVerdict: reply,
		PenaltySeverity:  models.SeverityTimePenalty,
		FairnessRating:   FairnessRating(reply),
		RegulationsBreached: []models.Regulation{{
			Article:     "54.3.",
			Description: "Referenced Article 54.3.",
			Relevance:   "Cited in the steward reasoning.",
			ID:          "54.3.-0",
		}},
		HistoricalPrecedents: []models.Precedent{
			{
				Driver:          "Driver 1",
				Year:            "2024",
				Race:            "Grand Prix",
				Incident:        "The stewards issued a 5 second stop-go penalty under Article 54.3.",
				Penalty:         "Assessment",
				SimilarityScore: 68,
				ID:              "precedent-0",
			},
			{
				Driver:          "Driver 2",
				Year:            "2024",
				Race:            "Grand Prix",
				Incident:        "Car 1 left the track and gained an advantage.",
				Penalty:         "Assessment",
				SimilarityScore: 76,
				ID:              "precedent-1",
			},
		},
		KeyFactors:  KeyFactors,
		RawResponse: reply,
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Annotate() mismatch (-want +got):\n%s", diff)
	}
}

func TestClassifySeverity(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  models.Severity
	}{
		{"disqualification beats grid", "The driver received a disqualification after a grid penalty", models.SeverityDisqualification},
		{"grid drop", "A three-place GRID drop for the next race.", models.SeverityGridDrop},
		{"grid beats time penalty", "Drive-through converted to a grid penalty", models.SeverityGridDrop},
		{"drive-through", "He must serve a drive-through penalty.", models.SeverityTimePenalty},
		{"stop-go", "A ten second Stop-Go was given.", models.SeverityTimePenalty},
		{"time penalty beats warning", "After a warning he got a stop-go.", models.SeverityTimePenalty},
		{"warning", "The driver was shown a Warning.", models.SeverityWarning},
		{"reprimand", "A reprimand was issued.", models.SeverityWarning},
		{"default", "Nothing happened.", models.SeverityNoAction},
		{"empty", "", models.SeverityNoAction},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifySeverity(tt.reply))
			assert.Equal(t, tt.want, Annotate("", tt.reply).PenaltySeverity)
		})
	}
}

func TestFairnessRating(t *testing.T) {
	t.Run("empty reply is fifty", func(t *testing.T) {
		assert.Equal(t, 50, FairnessRating(""))
		assert.Equal(t, 50, Annotate("x", "").FairnessRating)
	})

	t.Run("positional checksum", func(t *testing.T) {
		// 97*1 + 98*2 + 99*3 = 590, 590 mod 101 = 85
		assert.Equal(t, 85, FairnessRating("abc"))
		// 97*1 + 98*2 + 100*3 = 593, 593 mod 101 = 88
		assert.Equal(t, 88, FairnessRating("abd"))
	})

	t.Run("deterministic", func(t *testing.T) {
		first := Annotate("", "abc").FairnessRating
		second := Annotate("", "abc").FairnessRating
		assert.Equal(t, first, second)
	})

	t.Run("clamped low", func(t *testing.T) {
		// 'e' is 101, so the sum is 0 mod 101
		assert.Equal(t, 25, FairnessRating("e"))
	})

	t.Run("clamped high", func(t *testing.T) {
		// 'b' is 98, 98 mod 101 = 98
		assert.Equal(t, 95, FairnessRating("b"))
	})

	t.Run("always in range", func(t *testing.T) {
		for _, s := range []string{" ", "a", "zz", "Article 48.12", "日本語のテキスト", strings.Repeat("x", 10000)} {
			got := FairnessRating(s)
			assert.GreaterOrEqual(t, got, 25, s)
			assert.LessOrEqual(t, got, 95, s)
		}
	})
}

func TestExtractRegulations(t *testing.T) {
	t.Run("in order of appearance", func(t *testing.T) {
		regs := Annotate("", "See Article 48.12 and Article 33.3 regarding the incident").RegulationsBreached
		require.Len(t, regs, 2)
		assert.Equal(t, "48.12", regs[0].Article)
		assert.Equal(t, "33.3", regs[1].Article)
		assert.Equal(t, "Referenced Article 48.12", regs[0].Description)
		assert.Equal(t, "Cited in the steward reasoning.", regs[1].Relevance)
		assert.Equal(t, "48.12-0", regs[0].ID)
		assert.Equal(t, "33.3-1", regs[1].ID)
	})

	t.Run("case insensitive and capped at three", func(t *testing.T) {
		regs := ExtractRegulations("ARTICLE 1 article\t2 Article 3 article 4")
		require.Len(t, regs, 3)
		assert.Equal(t, []string{"1", "2", "3"}, []string{regs[0].Article, regs[1].Article, regs[2].Article})
	})

	t.Run("unicode whitespace between word and number", func(t *testing.T) {
		regs := ExtractRegulations("See Article\u00a048.12, article\v2.1 and Article\u2003\u00a033.3")
		require.Len(t, regs, 3)
		assert.Equal(t, []string{"48.12", "2.1", "33.3"}, []string{regs[0].Article, regs[1].Article, regs[2].Article})
		assert.Equal(t, "48.12-0", regs[0].ID)
	})

	t.Run("repeated article keeps unique ids", func(t *testing.T) {
		regs := ExtractRegulations("Article 12 and again Article 12")
		require.Len(t, regs, 2)
		assert.NotEqual(t, regs[0].ID, regs[1].ID)
	})

	t.Run("fallback", func(t *testing.T) {
		regs := Annotate("", "No rules mentioned here.").RegulationsBreached
		require.Len(t, regs, 1)
		assert.Equal(t, "default-article", regs[0].ID)
		assert.Equal(t, "10.2", regs[0].Article)
	})

	t.Run("article without number is ignored", func(t *testing.T) {
		regs := ExtractRegulations("The article says nothing.")
		require.Len(t, regs, 1)
		assert.Equal(t, DefaultRegulation, regs[0])
	})
}

func TestExtractPrecedents(t *testing.T) {
	t.Run("truncates long lines to 140 characters", func(t *testing.T) {
		line := strings.Repeat("a", 200)
		precedents := Annotate("", line).HistoricalPrecedents
		require.Len(t, precedents, 1)
		assert.Len(t, precedents[0].Incident, 140)
	})

	t.Run("truncates by character not byte", func(t *testing.T) {
		line := strings.Repeat("é", 150)
		precedents := ExtractPrecedents(line)
		require.Len(t, precedents, 1)
		assert.Equal(t, strings.Repeat("é", 140), precedents[0].Incident)
	})

	t.Run("caps at three", func(t *testing.T) {
		precedents := Annotate("", "one\ntwo\n\nthree\nfour\nfive").HistoricalPrecedents
		require.Len(t, precedents, 3)
		assert.Equal(t, "one", precedents[0].Incident)
		assert.Equal(t, "two", precedents[1].Incident)
		assert.Equal(t, "three", precedents[2].Incident)
	})

	t.Run("keeps lines verbatim", func(t *testing.T) {
		precedents := ExtractPrecedents("  Car 44 locked up into Turn 1\t\r\n\r\n\tSecond line\r\n")
		require.Len(t, precedents, 2)
		assert.Equal(t, "  Car 44 locked up into Turn 1\t\r", precedents[0].Incident)
		assert.Equal(t, "\tSecond line\r", precedents[1].Incident)
	})

	t.Run("leading spaces count towards the limit", func(t *testing.T) {
		line := "    " + strings.Repeat("b", 200)
		precedents := ExtractPrecedents(line)
		require.Len(t, precedents, 1)
		assert.Equal(t, "    "+strings.Repeat("b", 136), precedents[0].Incident)
	})

	t.Run("blank lines only", func(t *testing.T) {
		precedents := Annotate("", "\n\n   \n").HistoricalPrecedents
		assert.NotNil(t, precedents)
		assert.Empty(t, precedents)
	})

	t.Run("score depends on position only", func(t *testing.T) {
		a := ExtractPrecedents("x\ny\nz")
		b := ExtractPrecedents("completely\ndifferent\ntext")
		for i := range a {
			assert.Equal(t, a[i].SimilarityScore, b[i].SimilarityScore)
			assert.Equal(t, a[i].ID, b[i].ID)
		}
		assert.Equal(t, []int{68, 76, 84}, []int{a[0].SimilarityScore, a[1].SimilarityScore, a[2].SimilarityScore})
	})
}

func TestAnnotate_KeyFactorsNeverVary(t *testing.T) {
	want := []string{"Race conditions", "Car positioning", "Previous rulings"}
	for _, reply := range []string{"", "disqualified", "Article 9\nline"} {
		v := Annotate("prompt", reply)
		assert.Equal(t, want, v.KeyFactors)

		// callers mutating their copy must not leak into later verdicts
		v.KeyFactors[0] = "mutated"
	}
	assert.Equal(t, want, Annotate("", "").KeyFactors)
}

func TestAnnotate_TitleTruncation(t *testing.T) {
	short := "Hamilton vs Verstappen, Silverstone 2021"
	assert.Equal(t, short, Annotate(short, "").Title)

	long := strings.Repeat("0123456789", 10)
	assert.Equal(t, long[:80], Annotate(long, "").Title)

	exact := strings.Repeat("x", 80)
	assert.Equal(t, exact, Annotate(exact, "").Title)
}

func TestAnnotate_ConcurrentCallsAgree(t *testing.T) {
	reply := "Article 38.3: a warning was issued.\nSecond line"
	want := Annotate("p", reply)

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got := Annotate("p", reply)
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("concurrent Annotate() mismatch (-want +got):\n%s", diff)
			}
		}()
	}
	wg.Wait()
}
