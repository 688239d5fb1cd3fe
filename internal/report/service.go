package report

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/emandor/labscan_service/internal/apperr"
	"github.com/emandor/labscan_service/internal/extract"
	"github.com/emandor/labscan_service/internal/model"
	"github.com/emandor/labscan_service/internal/providers"
	"github.com/emandor/labscan_service/internal/telemetry"
	"github.com/emandor/labscan_service/internal/ws"
)

// TextCache stores OCR results and per-user upload locks.
type TextCache interface {
	GetText(ctx context.Context, key string) (string, bool, error)
	SetText(ctx context.Context, key, text string, ttl time.Duration) error
	Lock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

type Extractor interface {
	Extract(ctx context.Context, doc model.Document) (extract.Result, error)
	EngineName() string
}

type Notifier interface {
	Publish(room string, event ws.Event, data any)
}

type Options struct {
	OCRLang          string
	CacheTTL         time.Duration
	ExtractTimeout   time.Duration
	DiagnosisTimeout time.Duration
	LockTTL          time.Duration
}

const defaultLockTTL = 5 * time.Minute

type Service struct {
	store     Store
	cache     TextCache
	extractor Extractor
	diag      providers.Client
	notify    Notifier
	opts      Options
}

func NewService(store Store, cache TextCache, extractor Extractor, diag providers.Client, notify Notifier, opts Options) *Service {
	if opts.LockTTL <= 0 {
		opts.LockTTL = defaultLockTTL
	}
	return &Service{store: store, cache: cache, extractor: extractor, diag: diag, notify: notify, opts: opts}
}

func lockKey(userID int64) string {
	return "lock:report:user:" + strconv.FormatInt(userID, 10)
}

func (s *Service) cacheKey(hash string) string {
	return "ocr:" + s.extractor.EngineName() + ":" + s.opts.OCRLang + ":" + hash
}

// Analyze runs one upload from start to finish: OCR every page, ask the
// diagnosis client once, persist and broadcast each state on the way. A user
// can have only one upload in flight; a second one gets ErrBusy.
//
// The returned report is non-nil whenever a row was created, including on
// failure, where it carries the error state.
func (s *Service) Analyze(ctx context.Context, up Upload) (*Report, error) {
	log := telemetry.L().With().
		Str("req_id", up.RequestID).
		Int64("user_id", up.UserID).
		Str("file", up.Document.Name).
		Logger()

	key := lockKey(up.UserID)
	ok, err := s.cache.Lock(ctx, key, s.opts.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire upload lock: %w", err)
	}
	if !ok {
		log.Warn().Msg("upload_busy")
		return nil, ErrBusy
	}
	defer func() {
		if err := s.cache.Unlock(context.WithoutCancel(ctx), key); err != nil {
			log.Warn().Err(err).Msg("upload_unlock_failed")
		}
	}()

	sum := sha256.Sum256(up.Document.Data)
	r := &Report{
		UserID:    up.UserID,
		RequestID: up.RequestID,
		FileName:  up.Document.Name,
		MediaType: up.Document.MediaType,
		DocHash:   hex.EncodeToString(sum[:]),
		State:     StateIdle,
	}

	if err := s.transition(ctx, r, StateUploaded); err != nil {
		return nil, err
	}
	log = log.With().Int64("report_id", r.ID).Logger()

	if err := s.transition(ctx, r, StateExtracting); err != nil {
		return r, s.fail(ctx, log, r, err)
	}
	res, err := s.extract(ctx, log, up.Document, r.DocHash)
	if err != nil {
		return r, s.fail(ctx, log, r, err)
	}

	if res.MediaType != "" {
		r.MediaType = res.MediaType
	}
	r.PageCount = res.PageCount()
	r.OCRText = res.Text
	if err := s.transition(ctx, r, StateExtracted); err != nil {
		return r, s.fail(ctx, log, r, err)
	}
	if res.Empty() {
		return r, s.fail(ctx, log, r, apperr.NoText("no text recognized in document"))
	}

	if err := s.transition(ctx, r, StateDiagnosing); err != nil {
		return r, s.fail(ctx, log, r, err)
	}
	d, err := s.diagnose(ctx, r.OCRText)
	if err != nil {
		return r, s.fail(ctx, log, r, err)
	}

	r.Diagnosis = d.Text
	r.Source = string(d.Source)
	r.LatencyMs = d.LatencyMs
	if err := s.transition(ctx, r, StateDone); err != nil {
		return r, s.fail(ctx, log, r, err)
	}
	log.Info().Int("pages", r.PageCount).Str("source", r.Source).Int("latency_ms", r.LatencyMs).Msg("report_done")
	return r, nil
}

func (s *Service) extract(ctx context.Context, log zerolog.Logger, doc model.Document, hash string) (extract.Result, error) {
	key := s.cacheKey(hash)
	if s.opts.CacheTTL > 0 {
		if res, ok := s.cached(ctx, log, key); ok {
			log.Info().Int("pages", res.PageCount()).Msg("ocr_cache_hit")
			return res, nil
		}
	}

	ectx, cancel := withTimeout(ctx, s.opts.ExtractTimeout)
	defer cancel()
	res, err := s.extractor.Extract(ectx, doc)
	if err != nil {
		return extract.Result{}, err
	}
	log.Info().Int("pages", res.PageCount()).Int("len", len(res.Text)).Msg("ocr_done")

	if !res.Empty() && s.opts.CacheTTL > 0 {
		b, err := json.Marshal(res)
		if err == nil {
			err = s.cache.SetText(ctx, key, string(b), s.opts.CacheTTL)
		}
		if err != nil {
			log.Warn().Err(err).Msg("ocr_cache_set_err")
		}
	}
	return res, nil
}

func (s *Service) cached(ctx context.Context, log zerolog.Logger, key string) (extract.Result, bool) {
	v, ok, err := s.cache.GetText(ctx, key)
	if err != nil {
		log.Warn().Err(err).Msg("ocr_cache_get_err")
		return extract.Result{}, false
	}
	if !ok {
		return extract.Result{}, false
	}
	var res extract.Result
	if err := json.Unmarshal([]byte(v), &res); err != nil || res.Empty() {
		return extract.Result{}, false
	}
	return res, true
}

func (s *Service) diagnose(ctx context.Context, text string) (providers.Diagnosis, error) {
	dctx, cancel := withTimeout(ctx, s.opts.DiagnosisTimeout)
	defer cancel()
	d, err := s.diag.Diagnose(dctx, providers.BuildPrompt(text))
	if err != nil {
		if apperr.KindOf(err) == "" {
			err = apperr.DiagnosisAPI("diagnosis request failed", err)
		}
		return providers.Diagnosis{}, err
	}
	return d, nil
}

// fail records err on the report and moves it to the error state. The
// original error is returned unchanged.
func (s *Service) fail(ctx context.Context, log zerolog.Logger, r *Report, err error) error {
	r.ErrorKind = string(apperr.KindOf(err))
	r.ErrorText = err.Error()
	log.Error().Err(err).Str("kind", r.ErrorKind).Str("state", string(r.State)).Msg("report_failed")
	if terr := s.transition(context.WithoutCancel(ctx), r, StateError); terr != nil {
		log.Error().Err(terr).Msg("report_error_persist_failed")
	}
	return err
}

// transition persists r in state to. On a store failure r keeps its last
// persisted state, so the caller can still move it to StateError.
func (s *Service) transition(ctx context.Context, r *Report, to State) error {
	prev := r.State
	if err := r.advance(to); err != nil {
		return err
	}
	var err error
	if r.ID == 0 {
		err = s.store.Create(ctx, r)
	} else {
		err = s.store.Update(ctx, r)
	}
	if err != nil {
		r.State = prev
		return fmt.Errorf("persist report state %s: %w", to, err)
	}
	if s.notify != nil {
		s.notify.Publish(ws.ReportRoom(r.RequestID), ws.EventReportState, r.event())
	}
	return nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
