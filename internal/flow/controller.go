package flow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/soaringjerry/Malasakit/internal/localstore"
	"github.com/soaringjerry/Malasakit/internal/logging"
	"github.com/soaringjerry/Malasakit/internal/models"
	"github.com/soaringjerry/Malasakit/internal/record"
	"github.com/soaringjerry/Malasakit/internal/utils"
)

// Store is the part of the local store the controller needs.
type Store interface {
	GetCurrent() *record.Record
	PutCurrent(r *record.Record) error
	NewCurrent(language string) (*record.Record, error)
	ListAll() ([]*record.Record, error)
	LoadSession() (*localstore.Session, bool)
	SaveSession(sess localstore.Session) error
}

// Resources supplies reference data for rendering pages.
type Resources interface {
	Questions(ctx context.Context) ([]models.Question, error)
	Comments(ctx context.Context) ([]models.Comment, error)
	Locations(ctx context.Context) (*models.LocationData, error)
	PeerResponses(ctx context.Context) (*models.PeerResponses, error)
}

// Syncer pushes records to the server.
type Syncer interface {
	Sync(ctx context.Context, r *record.Record) (record.SyncState, error)
	Submit(ctx context.Context, r *record.Record) (record.SyncState, error)
	SyncPending(ctx context.Context, records []*record.Record) (int, error)
}

// SubmitTimeout bounds the whole upload attempted by Submit. A submission that
// cannot be finalized in time stays submitted locally and is finalized by a
// later sync.
const SubmitTimeout = 10 * time.Second

// Controller enforces the page sequence. It never blocks answering on the
// network: resource and sync failures are logged and degrade the view.
type Controller struct {
	store       Store
	resources   Resources
	syncer      Syncer
	log         *zap.Logger
	defaultLang string

	submitTimeout time.Duration
}

// New returns a Controller. defaultLang is used for new records when no
// session language is known.
func New(store Store, resources Resources, syncer Syncer, defaultLang string, log *zap.Logger) *Controller {
	if !utils.SupportedLanguage(defaultLang) {
		defaultLang = utils.LangEnglish
	}
	return &Controller{
		store:       store,
		resources:   resources,
		syncer:      syncer,
		log:         logging.OrNop(log).Named("flow"),
		defaultLang: defaultLang,

		submitTimeout: SubmitTimeout,
	}
}

// Resume restores the current record and the page it was left on. With no
// readable current record a new one is started on the landing page.
func (c *Controller) Resume(ctx context.Context) (*Session, error) {
	saved, hasSaved := c.store.LoadSession()
	lang := c.defaultLang
	if hasSaved && utils.SupportedLanguage(saved.Language) {
		lang = saved.Language
	}

	r := c.store.GetCurrent()
	if r == nil {
		var err error
		if r, err = c.store.NewCurrent(lang); err != nil {
			return nil, fmt.Errorf("start response: %w", err)
		}
	}
	s := &Session{Record: r, Page: Landing, Language: r.Language}
	if hasSaved && saved.RecordID == r.ID {
		if utils.SupportedLanguage(saved.Language) {
			s.Language = saved.Language
		}
		if p, err := ParsePage(saved.Page); err == nil && c.check(ctx, s, p) == nil {
			s.Page = p
		}
	}
	if r.Submitted && s.Page.index() < PeerResponses.index() {
		s.Page = PeerResponses
	}
	if err := c.saveSession(s); err != nil {
		return nil, err
	}
	c.syncCurrent(ctx, s)
	c.syncPending(ctx, r.ID)
	c.log.Info("session resumed", zap.String("id", r.ID), zap.String("page", string(s.Page)))
	return s, nil
}

// StartNew begins a fresh record on the landing page. The previous record stays
// in the store as history and, if unfinished, is uploaded as a partial response.
func (c *Controller) StartNew(ctx context.Context, s *Session) (*Session, error) {
	lang := c.defaultLang
	if s != nil && utils.SupportedLanguage(s.Language) {
		lang = s.Language
	}
	r, err := c.store.NewCurrent(lang)
	if err != nil {
		return nil, fmt.Errorf("start response: %w", err)
	}
	next := &Session{Record: r, Page: Landing, Language: lang}
	if err := c.saveSession(next); err != nil {
		return nil, err
	}
	c.syncPending(ctx, r.ID)
	return next, nil
}

// Goto moves to page when its entry precondition holds.
func (c *Controller) Goto(ctx context.Context, s *Session, page Page) (*View, error) {
	if page.index() < 0 {
		return nil, &record.ValidationError{Field: "page", Value: string(page), Reason: "unknown page"}
	}
	if err := c.check(ctx, s, page); err != nil {
		return nil, err
	}
	s.Page = page
	if err := c.persist(s); err != nil {
		return nil, err
	}
	c.syncCurrent(ctx, s)
	return c.View(ctx, s)
}

// Next moves one page forward.
func (c *Controller) Next(ctx context.Context, s *Session) (*View, error) {
	i := s.Page.index()
	if i+1 >= len(Pages) {
		return nil, &PreconditionError{Page: s.Page, Reason: "already on the last page"}
	}
	return c.Goto(ctx, s, Pages[i+1])
}

// Back moves one page backward. Answers on later pages are kept.
func (c *Controller) Back(ctx context.Context, s *Session) (*View, error) {
	i := s.Page.index()
	if i <= 0 {
		return nil, &PreconditionError{Page: s.Page, Reason: "already on the first page"}
	}
	return c.Goto(ctx, s, Pages[i-1])
}

// Rate records a rating (or Skipped) for a quantitative question.
func (c *Controller) Rate(ctx context.Context, s *Session, questionID int64, score record.Score) error {
	return c.mutate(s, func(r *record.Record) error { return r.SetRating(questionID, score) })
}

// RateComment records a rating (or Skipped) for a peer comment.
func (c *Controller) RateComment(ctx context.Context, s *Session, commentID int64, score record.Score) error {
	return c.mutate(s, func(r *record.Record) error { return r.SetCommentRating(commentID, score) })
}

// Comment stores a qualitative answer.
func (c *Controller) Comment(ctx context.Context, s *Session, questionID int64, text string) error {
	return c.mutate(s, func(r *record.Record) error { return r.SetComment(questionID, text) })
}

// SetDemographic stores one personal-information field.
func (c *Controller) SetDemographic(ctx context.Context, s *Session, field, value string) error {
	return c.mutate(s, func(r *record.Record) error { return r.SetDemographic(field, value) })
}

// SetLanguage switches the display language. Answers are never touched; a
// submitted record keeps its recorded language.
func (c *Controller) SetLanguage(ctx context.Context, s *Session, lang string) (*View, error) {
	if !utils.SupportedLanguage(lang) {
		return nil, &record.ValidationError{Field: "language", Value: lang, Reason: "unsupported language"}
	}
	if !s.Record.Submitted {
		if err := s.Record.SetLanguage(lang); err != nil {
			return nil, err
		}
	}
	s.Language = lang
	if err := c.persist(s); err != nil {
		return nil, err
	}
	return c.View(ctx, s)
}

// Submit finalizes the record from the review page. The submission is durable
// locally before this returns; an unreachable server only defers the upload.
func (c *Controller) Submit(ctx context.Context, s *Session) (*View, error) {
	if s.Page != Review {
		return nil, &PreconditionError{Page: s.Page, Reason: "submit from the review page"}
	}
	if s.Record.Submitted {
		return nil, &record.InvalidStateError{Op: "submit", RecordID: s.Record.ID}
	}
	if err := c.check(ctx, s, Review); err != nil {
		return nil, err
	}
	upload, cancel := context.WithTimeout(ctx, c.submitTimeout)
	state, err := c.syncer.Submit(upload, s.Record)
	cancel()
	if err != nil && !s.Record.Submitted {
		return nil, err
	}
	if err != nil {
		c.log.Warn("submission saved locally, upload deferred", zap.String("id", s.Record.ID), zap.String("state", string(state)), zap.Error(err))
	}
	s.Page = PeerResponses
	if err := c.saveSession(s); err != nil {
		return nil, err
	}
	return c.View(ctx, s)
}

// SyncNow pushes the current record and any unfinished history, reporting the
// state of the current record.
func (c *Controller) SyncNow(ctx context.Context, s *Session) (record.SyncState, error) {
	state, err := c.syncer.Sync(ctx, s.Record)
	c.syncPending(ctx, s.Record.ID)
	return state, err
}

// check enforces entry preconditions for page.
func (c *Controller) check(ctx context.Context, s *Session, page Page) error {
	i := page.index()
	if i > Quantitative.index() {
		if missing := c.unanswered(ctx, s.Record); len(missing) > 0 {
			return &PreconditionError{Page: page, Reason: "rate or skip every question first", Missing: missing}
		}
	}
	if i > Review.index() && !s.Record.Submitted {
		return &PreconditionError{Page: page, Reason: "submit the response first"}
	}
	return nil
}

// unanswered lists active quantitative questions with neither a rating nor a
// skip. When the question list cannot be loaded nothing is reported missing.
func (c *Controller) unanswered(ctx context.Context, r *record.Record) []int64 {
	qs, err := c.resources.Questions(ctx)
	if err != nil {
		c.log.Warn("questions unavailable, precondition not enforced", zap.Error(err))
		return nil
	}
	var missing []int64
	for _, q := range qs {
		if q.Kind != models.KindQuantitative {
			continue
		}
		if _, ok := r.LatestRating(q.ID); !ok {
			missing = append(missing, q.ID)
		}
	}
	return missing
}

func (c *Controller) mutate(s *Session, apply func(*record.Record) error) error {
	if err := apply(s.Record); err != nil {
		return err
	}
	if err := c.store.PutCurrent(s.Record); err != nil {
		return fmt.Errorf("persist response: %w", err)
	}
	return nil
}

func (c *Controller) persist(s *Session) error {
	if !s.Record.Submitted {
		if err := c.store.PutCurrent(s.Record); err != nil {
			return fmt.Errorf("persist response: %w", err)
		}
	}
	return c.saveSession(s)
}

func (c *Controller) saveSession(s *Session) error {
	if err := c.store.SaveSession(s.persisted()); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	return nil
}

func (c *Controller) syncCurrent(ctx context.Context, s *Session) {
	if _, err := c.syncer.Sync(ctx, s.Record); err != nil {
		c.logSyncError(s.Record.ID, err)
	}
}

// syncPending uploads unfinished history. The current record is skipped: it is
// synced through the session's own copy.
func (c *Controller) syncPending(ctx context.Context, currentID string) {
	all, err := c.store.ListAll()
	if err != nil {
		c.log.Error("list local responses", zap.Error(err))
		return
	}
	history := all[:0]
	for _, r := range all {
		if r.ID != currentID {
			history = append(history, r)
		}
	}
	if len(history) == 0 {
		return
	}
	if _, err := c.syncer.SyncPending(ctx, history); err != nil {
		c.log.Warn("pending responses not synced", zap.Error(err))
	}
}

func (c *Controller) logSyncError(id string, err error) {
	if errors.Is(err, record.ErrNetwork) {
		c.log.Warn("sync deferred", zap.String("id", id), zap.Error(err))
		return
	}
	c.log.Error("sync failed", zap.String("id", id), zap.Error(err))
}
