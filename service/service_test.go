package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"penaltydesk-backend/annotator"
	"penaltydesk-backend/ingest"
	"penaltydesk-backend/models"
	"penaltydesk-backend/repository"
	"penaltydesk-backend/storage"
	"penaltydesk-backend/upstream"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeReplySource answers with reply or fails with err; replies may be keyed by prompt
type fakeReplySource struct {
	mu       sync.Mutex
	reply    string
	byPrompt map[string]string
	err      error
	calls    atomic.Int32
	prompts  []string
	choices  []string
}

func (f *fakeReplySource) Query(_ context.Context, prompt, llmChoice string) (string, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.choices = append(f.choices, llmChoice)
	f.mu.Unlock()

	if f.err != nil {
		return "", f.err
	}
	if r, ok := f.byPrompt[prompt]; ok {
		if r == "FAIL" {
			return "", errors.New("model timeout")
		}
		return r, nil
	}
	return f.reply, nil
}

type fakeAnalyzer struct {
	verdict  models.Verdict
	err      error
	docMIME  string
	incident string
}

func (f *fakeAnalyzer) AnalyzeIncident(_ context.Context, description string) (models.Verdict, error) {
	f.incident = description
	return f.verdict, f.err
}

func (f *fakeAnalyzer) AnalyzeDocument(_ context.Context, _ []byte, mimeType string) (models.Verdict, error) {
	f.docMIME = mimeType
	return f.verdict, f.err
}

type fixture struct {
	store   *repository.SQLiteStore
	storage *storage.LocalStorage
	dir     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := repository.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	dir := t.TempDir()
	st, err := storage.NewLocalStorage(dir)
	require.NoError(t, err)

	return &fixture{store: store, storage: st, dir: dir}
}

func (f *fixture) service(opts ...AnalysisServiceOption) *AnalysisService {
	base := []AnalysisServiceOption{
		WithAnalysisRepository(f.store.Analyses()),
		WithAnalysisJobRepository(f.store.Jobs()),
		WithDocumentStorage(f.storage),
	}
	return NewAnalysisService(append(base, opts...)...)
}

const stewardReply = "The stewards reviewed the collision under Article 38.1.\nCar 44 is given a drive-through penalty."

func TestAnalyze_Heuristic(t *testing.T) {
	ctx := context.Background()
	src := &fakeReplySource{reply: stewardReply}
	svc := newFixture(t).service(WithReplySource(src))

	res, err := svc.Analyze(ctx, AnalyzeRequest{Prompt: "Hamilton collides with Albon at Copse"})
	require.NoError(t, err)

	want := annotator.Annotate("Hamilton collides with Albon at Copse", stewardReply)
	if diff := cmp.Diff(want, res.Analysis.Verdict); diff != "" {
		t.Errorf("verdict mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, models.ModeHeuristic, res.Analysis.Mode)
	assert.Equal(t, models.LLMChoiceDefault, res.Analysis.LLMChoice)
	assert.Equal(t, []string{models.LLMChoiceDefault}, src.choices)

	got, err := svc.GetAnalysis(ctx, res.Analysis.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Analysis.Verdict, got.Verdict)
}

func TestAnalyze_BlankPromptUsesDefault(t *testing.T) {
	src := &fakeReplySource{reply: "No further action."}
	svc := newFixture(t).service(WithReplySource(src))

	res, err := svc.Analyze(context.Background(), AnalyzeRequest{Prompt: "   "})
	require.NoError(t, err)
	assert.Equal(t, DefaultPrompt, res.Analysis.Prompt)
	assert.Equal(t, []string{DefaultPrompt}, src.prompts)
}

func TestAnalyze_UpstreamFailureSkipsAnnotator(t *testing.T) {
	ctx := context.Background()
	src := &fakeReplySource{err: &upstream.APIError{StatusCode: 500, Message: "index offline"}}
	svc := newFixture(t).service(WithReplySource(src))

	_, err := svc.Analyze(ctx, AnalyzeRequest{Prompt: "Track limits at Turn 4"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstreamFailed)

	var apiErr *upstream.APIError
	assert.ErrorAs(t, err, &apiErr)

	list, err := svc.ListAnalyses(ctx, ListAnalysesRequest{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestAnalyze_Structured(t *testing.T) {
	an := &fakeAnalyzer{verdict: models.Verdict{Title: "Unsafe release", PenaltySeverity: models.SeverityTimePenalty}}
	src := &fakeReplySource{}
	svc := newFixture(t).service(WithReplySource(src), WithStructuredAnalyzer(an))

	res, err := svc.Analyze(context.Background(), AnalyzeRequest{Prompt: "Unsafe release in the pit lane", Mode: models.ModeStructured})
	require.NoError(t, err)
	assert.Equal(t, models.ModeStructured, res.Analysis.Mode)
	assert.Empty(t, res.Analysis.LLMChoice)
	assert.Equal(t, "Unsafe release", res.Analysis.Verdict.Title)
	assert.Equal(t, "Unsafe release in the pit lane", an.incident)
	assert.Equal(t, int32(0), src.calls.Load())
}

func TestAnalyze_ValidationErrors(t *testing.T) {
	svc := newFixture(t).service(WithReplySource(&fakeReplySource{}))
	ctx := context.Background()

	_, err := svc.Analyze(ctx, AnalyzeRequest{Prompt: "x", Mode: "psychic"})
	assert.ErrorIs(t, err, ErrInvalidMode)

	_, err = svc.Analyze(ctx, AnalyzeRequest{Prompt: "x", LLMChoice: "gpt-4"})
	assert.ErrorIs(t, err, ErrInvalidLLMChoice)

	_, err = svc.Analyze(ctx, AnalyzeRequest{Prompt: "x", Mode: models.ModeStructured})
	assert.ErrorIs(t, err, ErrStructuredUnavailable)
}

func TestAnalyze_DefaultModeFromOptions(t *testing.T) {
	an := &fakeAnalyzer{verdict: models.Verdict{PenaltySeverity: models.SeverityWarning}}
	svc := newFixture(t).service(WithStructuredAnalyzer(an), WithDefaultMode(models.ModeStructured))

	res, err := svc.Analyze(context.Background(), AnalyzeRequest{Prompt: "Yellow flag infringement"})
	require.NoError(t, err)
	assert.Equal(t, models.ModeStructured, res.Analysis.Mode)
}

func TestAnalyzeBatch(t *testing.T) {
	src := &fakeReplySource{
		reply: "A reprimand was issued.",
		byPrompt: map[string]string{
			"second": "FAIL",
			"third":  "Disqualified for an underweight car.",
		},
	}
	svc := newFixture(t).service(WithReplySource(src), WithBatchConcurrency(2))

	res, err := svc.AnalyzeBatch(context.Background(), BatchRequest{Prompts: []string{"first", "second", "third"}})
	require.NoError(t, err)
	require.Len(t, res.Items, 3)
	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, 1, res.Failed)

	for i, item := range res.Items {
		assert.Equal(t, i, item.Index)
	}
	assert.Equal(t, models.SeverityWarning, res.Items[0].Analysis.Verdict.PenaltySeverity)
	assert.Nil(t, res.Items[1].Analysis)
	assert.Contains(t, res.Items[1].Error, "model timeout")
	assert.Equal(t, models.SeverityDisqualification, res.Items[2].Analysis.Verdict.PenaltySeverity)
}

func TestAnalyzeBatch_Limits(t *testing.T) {
	svc := newFixture(t).service(WithReplySource(&fakeReplySource{}))
	ctx := context.Background()

	_, err := svc.AnalyzeBatch(ctx, BatchRequest{})
	assert.ErrorIs(t, err, ErrEmptyBatch)

	prompts := make([]string, MaxBatchSize+1)
	for i := range prompts {
		prompts[i] = fmt.Sprintf("incident %d", i)
	}
	_, err = svc.AnalyzeBatch(ctx, BatchRequest{Prompts: prompts})
	assert.ErrorIs(t, err, ErrBatchTooLarge)

	_, err = svc.AnalyzeBatch(ctx, BatchRequest{Prompts: []string{"a"}, Mode: "psychic"})
	assert.ErrorIs(t, err, ErrInvalidMode)
}

func TestListAnalyses_SeverityFilter(t *testing.T) {
	ctx := context.Background()
	src := &fakeReplySource{byPrompt: map[string]string{
		"a": "Grid penalty for a new gearbox.",
		"b": "A warning was shown.",
		"c": "Five place grid drop.",
	}}
	svc := newFixture(t).service(WithReplySource(src))

	for _, p := range []string{"a", "b", "c"} {
		_, err := svc.Analyze(ctx, AnalyzeRequest{Prompt: p})
		require.NoError(t, err)
	}

	sev := models.SeverityGridDrop
	list, err := svc.ListAnalyses(ctx, ListAnalysesRequest{Severity: &sev})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "c", list[0].Prompt)

	all, err := svc.ListAnalyses(ctx, ListAnalysesRequest{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "b", all[0].Prompt)
}

func TestAnalyzeDocument_Text(t *testing.T) {
	ctx := context.Background()
	src := &fakeReplySource{reply: "The driver received a reprimand."}
	svc := newFixture(t).service(WithReplySource(src))

	res, err := svc.AnalyzeDocument(ctx, AnalyzeDocumentRequest{
		Filename:    "doc 12.txt",
		ContentType: "text/plain",
		Data:        []byte("Car 16 failed to follow race director instructions."),
	})
	require.NoError(t, err)
	assert.Equal(t, models.SeverityWarning, res.Analysis.Verdict.PenaltySeverity)
	assert.Equal(t, DefaultPrompt, res.Analysis.Prompt)
	require.NotNil(t, res.Analysis.SourceFilename)
	assert.Equal(t, "doc 12.txt", *res.Analysis.SourceFilename)
	assert.Equal(t, []string{"Car 16 failed to follow race director instructions."}, src.prompts)

	rc, got, err := svc.OpenDocument(ctx, res.Analysis.ID)
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, "Car 16 failed to follow race director instructions.", string(body))
	assert.Equal(t, res.Analysis.ID, got.ID)

	require.NoError(t, svc.DeleteAnalysis(ctx, res.Analysis.ID))
	_, err = svc.GetAnalysis(ctx, res.Analysis.ID)
	assert.ErrorIs(t, err, ErrAnalysisNotFound)
	_, err = svc.storage.Download(ctx, *res.Analysis.SourcePath)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestAnalyzeDocument_PromptFramesText(t *testing.T) {
	src := &fakeReplySource{reply: "No further action."}
	svc := newFixture(t).service(WithReplySource(src))

	_, err := svc.AnalyzeDocument(context.Background(), AnalyzeDocumentRequest{
		Filename: "bulletin.txt",
		Data:     []byte("Car 4 exceeded track limits four times."),
		Prompt:   "Was this consistent?",
	})
	require.NoError(t, err)
	require.Len(t, src.prompts, 1)
	assert.True(t, strings.HasPrefix(src.prompts[0], "Was this consistent?\n\n"))
}

func TestAnalyzeDocument_PDFNeedsStructuredAnalyzer(t *testing.T) {
	svc := newFixture(t).service(WithReplySource(&fakeReplySource{}))

	_, err := svc.AnalyzeDocument(context.Background(), AnalyzeDocumentRequest{
		Filename: "decision.pdf",
		Data:     []byte("%PDF-1.4\nnot a real document"),
	})
	// the corrupt document is rejected before anything is stored
	assert.ErrorIs(t, err, ingest.ErrCorruptDocument)
}

func TestAnalyzeDocument_FailureRemovesStoredDocument(t *testing.T) {
	f := newFixture(t)
	svc := f.service(WithReplySource(&fakeReplySource{err: errors.New("connection refused")}))

	_, err := svc.AnalyzeDocument(context.Background(), AnalyzeDocumentRequest{
		Filename: "summary.txt",
		Data:     []byte("Car 31 caused a collision."),
	})
	assert.ErrorIs(t, err, ErrUpstreamFailed)

	// nothing but empty directories remain
	var files []string
	require.NoError(t, walkFiles(f.dir, &files))
	assert.Empty(t, files)
}

func TestAnalyzeDocument_Unsupported(t *testing.T) {
	svc := newFixture(t).service(WithReplySource(&fakeReplySource{}))
	_, err := svc.AnalyzeDocument(context.Background(), AnalyzeDocumentRequest{
		Filename:    "onboard.png",
		ContentType: "image/png",
		Data:        []byte("\x89PNG\r\n\x1a\n"),
	})
	assert.ErrorIs(t, err, ingest.ErrUnsupportedDocument)
}

func TestOpenDocument_NoDocument(t *testing.T) {
	ctx := context.Background()
	svc := newFixture(t).service(WithReplySource(&fakeReplySource{reply: "ok"}))

	res, err := svc.Analyze(ctx, AnalyzeRequest{Prompt: "x"})
	require.NoError(t, err)

	_, _, err = svc.OpenDocument(ctx, res.Analysis.ID)
	assert.ErrorIs(t, err, ErrNoDocument)

	_, _, err = svc.OpenDocument(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrAnalysisNotFound)

	assert.ErrorIs(t, svc.DeleteAnalysis(ctx, uuid.New()), ErrAnalysisNotFound)
}

func walkFiles(root string, out *[]string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			*out = append(*out, path)
		}
		return nil
	})
}
