package report

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emandor/labscan_service/internal/apperr"
	"github.com/emandor/labscan_service/internal/model"
	"github.com/emandor/labscan_service/internal/pdf/pdftest"
	"github.com/emandor/labscan_service/internal/providers"
	"github.com/emandor/labscan_service/internal/ws"
)

func upload(name, mediaType string, data []byte) Upload {
	return Upload{
		UserID:    7,
		RequestID: "req-1",
		Document:  model.Document{Name: name, MediaType: mediaType, Data: data},
	}
}

func TestAnalyzeImage(t *testing.T) {
	f := newFixture(Options{OCRLang: "eng"})
	f.engine.lines = []string{"Hemoglobin: 13.2 g/dL"}

	r, err := f.svc.Analyze(context.Background(), upload("cbc.png", model.MediaPNG, pngBytes(t, 40, 20)))
	require.NoError(t, err)

	assert.Equal(t, StateDone, r.State)
	assert.Equal(t, "Hemoglobin: 13.2 g/dL", r.OCRText)
	assert.Equal(t, 1, r.PageCount)
	assert.Equal(t, f.diag.text, r.Diagnosis)
	assert.Equal(t, string(providers.SourceGemini), r.Source)
	assert.Len(t, r.DocHash, 64)

	require.Len(t, f.diag.prompts, 1)
	assert.Equal(t, providers.BuildPrompt("Hemoglobin: 13.2 g/dL"), f.diag.prompts[0])
	assert.Equal(t, []int{1}, f.engine.calls)

	want := []State{StateUploaded, StateExtracting, StateExtracted, StateDiagnosing, StateDone}
	assert.Equal(t, want, f.store.history[r.ID])
	assert.Equal(t, want, f.notify.states())
	assert.Equal(t, ws.ReportRoom("req-1"), f.notify.events[0].room)
	assert.Equal(t, ws.EventReportState, f.notify.events[0].event)
	assert.Empty(t, f.cache.locks)
}

func TestAnalyzePDFPagesInOrder(t *testing.T) {
	f := newFixture(Options{})
	f.engine.byPage = map[int][]string{
		1: {"WBC 6.1"},
		2: {"RBC 4.7", "HGB 13.2"},
		3: {"PLT 250"},
	}

	r, err := f.svc.Analyze(context.Background(), upload("cbc.pdf", model.MediaPDF, pdftest.Build(3)))
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3}, f.engine.calls)
	assert.Equal(t, 3, r.PageCount)
	assert.Equal(t, "WBC 6.1\n\nRBC 4.7\nHGB 13.2\n\nPLT 250", r.OCRText)
	assert.True(t, strings.HasSuffix(f.diag.prompts[0], "PLT 250\n"))
}

func TestAnalyzeNoTextSkipsDiagnosis(t *testing.T) {
	f := newFixture(Options{})

	r, err := f.svc.Analyze(context.Background(), upload("blank.png", "", pngBytes(t, 10, 10)))
	require.Error(t, err)

	assert.True(t, apperr.Is(err, apperr.KindNoText))
	assert.Empty(t, f.diag.prompts)
	assert.Equal(t, StateError, r.State)
	assert.Equal(t, string(apperr.KindNoText), r.ErrorKind)
	assert.Equal(t,
		[]State{StateUploaded, StateExtracting, StateExtracted, StateError},
		f.store.history[r.ID])
	assert.Zero(t, f.cache.sets)
}

func TestAnalyzeDocumentParseError(t *testing.T) {
	f := newFixture(Options{})

	r, err := f.svc.Analyze(context.Background(), upload("bad.pdf", model.MediaPDF, []byte("%PDF-1.4 truncated")))
	require.Error(t, err)

	assert.Equal(t, apperr.KindDocumentParse, apperr.KindOf(err))
	assert.Equal(t, err.Error(), r.ErrorText)
	assert.Empty(t, f.engine.calls)
	assert.Empty(t, f.diag.prompts)
	assert.Equal(t, []State{StateUploaded, StateExtracting, StateError}, f.store.history[r.ID])
	assert.Empty(t, f.cache.locks)
}

func TestAnalyzeDiagnosisFailure(t *testing.T) {
	f := newFixture(Options{})
	f.engine.lines = []string{"Glucose 180 mg/dL"}
	f.diag.err = errors.New("connection reset")

	r, err := f.svc.Analyze(context.Background(), upload("g.png", model.MediaPNG, pngBytes(t, 10, 10)))
	require.Error(t, err)

	assert.Equal(t, apperr.KindDiagnosisAPI, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "connection reset")
	assert.Equal(t, StateError, r.State)
	assert.Empty(t, r.Diagnosis)
	assert.Equal(t, "Glucose 180 mg/dL", r.OCRText)
	assert.Len(t, f.diag.prompts, 1)
}

func TestAnalyzeKeepsDiagnosisErrorKind(t *testing.T) {
	f := newFixture(Options{})
	f.engine.lines = []string{"x"}
	f.diag.err = apperr.DiagnosisAPI("gemini status 503", nil)

	_, err := f.svc.Analyze(context.Background(), upload("g.png", model.MediaPNG, pngBytes(t, 10, 10)))
	assert.Equal(t, "gemini status 503", err.Error())
}

func TestAnalyzeBusy(t *testing.T) {
	f := newFixture(Options{})
	f.cache.locks[lockKey(7)] = true

	r, err := f.svc.Analyze(context.Background(), upload("a.png", model.MediaPNG, pngBytes(t, 10, 10)))
	assert.ErrorIs(t, err, ErrBusy)
	assert.Nil(t, r)
	assert.Empty(t, f.store.rows)
	assert.True(t, f.cache.locks[lockKey(7)])
}

func TestAnalyzeReusesCachedText(t *testing.T) {
	f := newFixture(Options{OCRLang: "eng", CacheTTL: time.Hour})
	f.engine.lines = []string{"TSH 2.1 mIU/L"}
	doc := pngBytes(t, 16, 16)

	first, err := f.svc.Analyze(context.Background(), upload("tsh.png", model.MediaPNG, doc))
	require.NoError(t, err)
	second, err := f.svc.Analyze(context.Background(), upload("tsh-again.png", model.MediaPNG, doc))
	require.NoError(t, err)

	assert.Len(t, f.engine.calls, 1)
	assert.Equal(t, first.OCRText, second.OCRText)
	assert.Equal(t, first.DocHash, second.DocHash)
	assert.Contains(t, f.cache.texts, "ocr:fake:eng:"+first.DocHash)
	assert.Len(t, f.diag.prompts, 2)
}

func TestAnalyzeStoreFailure(t *testing.T) {
	f := newFixture(Options{})
	f.store.failOn = StateUploaded

	r, err := f.svc.Analyze(context.Background(), upload("a.png", model.MediaPNG, pngBytes(t, 10, 10)))
	require.Error(t, err)
	assert.Nil(t, r)
	assert.Empty(t, f.engine.calls)
	assert.Empty(t, f.cache.locks)
}

func TestAnalyzeStoreFailureMidRunEndsInError(t *testing.T) {
	cases := []struct {
		failOn    State
		want      []State
		diagCalls int
	}{
		{StateExtracting, []State{StateUploaded, StateError}, 0},
		{StateExtracted, []State{StateUploaded, StateExtracting, StateError}, 0},
		{StateDiagnosing, []State{StateUploaded, StateExtracting, StateExtracted, StateError}, 0},
		{StateDone, []State{StateUploaded, StateExtracting, StateExtracted, StateDiagnosing, StateError}, 1},
	}
	for _, tc := range cases {
		t.Run(string(tc.failOn), func(t *testing.T) {
			f := newFixture(Options{})
			f.engine.lines = []string{"HGB 13.2"}
			f.store.failOn = tc.failOn

			r, err := f.svc.Analyze(context.Background(), upload("a.png", model.MediaPNG, pngBytes(t, 10, 10)))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "db down")

			require.NotNil(t, r)
			assert.Equal(t, StateError, r.State)
			assert.Equal(t, err.Error(), r.ErrorText)
			assert.Equal(t, tc.want, f.store.history[r.ID])
			assert.Equal(t, tc.want, f.notify.states())
			assert.Equal(t, StateError, f.store.rows[r.ID].State)
			assert.Len(t, f.diag.prompts, tc.diagCalls)
			assert.Empty(t, f.cache.locks)
		})
	}
}
