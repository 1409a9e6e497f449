package flow

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/soaringjerry/Malasakit/internal/localstore"
	"github.com/soaringjerry/Malasakit/internal/models"
	"github.com/soaringjerry/Malasakit/internal/record"
	"github.com/soaringjerry/Malasakit/internal/syncclient"
)

type fakeResources struct {
	questions []models.Question
	comments  []models.Comment
	errs      map[string]error
}

func newFakeResources() *fakeResources {
	return &fakeResources{
		questions: []models.Question{
			{ID: 1, Kind: models.KindQuantitative, Order: 1, Active: true, PromptI18n: map[string]string{"en": "Health centers are easy to reach", "tl": "Madaling puntahan ang health center"}},
			{ID: 2, Kind: models.KindQuantitative, Order: 2, Active: true, PromptI18n: map[string]string{"en": "Evacuation plans are clear"}},
			{ID: 3, Kind: models.KindQualitative, Order: 3, Active: true, PromptI18n: map[string]string{"en": "What should change?"}},
		},
		comments: []models.Comment{
			{ID: 10, QuestionID: 3, Language: "en", Message: "More doctors"},
			{ID: 11, QuestionID: 3, Language: "tl", Message: "Mas maraming gamot"},
		},
		errs: map[string]error{},
	}
}

func (f *fakeResources) Questions(ctx context.Context) ([]models.Question, error) {
	if err := f.errs[models.ResourceQuestions]; err != nil {
		return nil, err
	}
	return f.questions, nil
}

func (f *fakeResources) Comments(ctx context.Context) ([]models.Comment, error) {
	if err := f.errs[models.ResourceComments]; err != nil {
		return nil, err
	}
	return f.comments, nil
}

func (f *fakeResources) Locations(ctx context.Context) (*models.LocationData, error) {
	if err := f.errs[models.ResourceLocations]; err != nil {
		return nil, err
	}
	return &models.LocationData{Provinces: []models.Province{{Name: "Batangas"}}}, nil
}

func (f *fakeResources) PeerResponses(ctx context.Context) (*models.PeerResponses, error) {
	if err := f.errs[models.ResourcePeerResponses]; err != nil {
		return nil, err
	}
	return &models.PeerResponses{Respondents: 3}, nil
}

// fakeAPI is an in-process server: idempotent create on client-id, submit once.
type fakeAPI struct {
	mu        sync.Mutex
	offline   bool
	hang      bool
	byClient  map[string]string
	latest    map[string]models.RespondentPayload
	submitted map[string]bool
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{byClient: map[string]string{}, latest: map[string]models.RespondentPayload{}, submitted: map[string]bool{}}
}

func (a *fakeAPI) setOffline(v bool) {
	a.mu.Lock()
	a.offline = v
	a.mu.Unlock()
}

func (a *fakeAPI) setHang(v bool) {
	a.mu.Lock()
	a.hang = v
	a.mu.Unlock()
}

// wait blocks a hanging server until the caller gives up.
func (a *fakeAPI) wait(ctx context.Context, op string) error {
	a.mu.Lock()
	hang := a.hang
	a.mu.Unlock()
	if !hang {
		return nil
	}
	<-ctx.Done()
	return &record.NetworkError{Op: op, Err: ctx.Err()}
}

func (a *fakeAPI) CreateRespondent(ctx context.Context, p models.RespondentPayload) (*models.RespondentAck, error) {
	if err := a.wait(ctx, "create respondent"); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.offline {
		return nil, &record.NetworkError{Op: "create respondent", Err: errors.New("connection refused")}
	}
	id, ok := a.byClient[p.ClientID]
	if !ok {
		id = fmt.Sprintf("R%d", len(a.byClient)+1)
		a.byClient[p.ClientID] = id
	}
	if !a.submitted[id] {
		a.latest[id] = p
	}
	return &models.RespondentAck{RespondentID: id, Token: "tok", Submitted: a.submitted[id]}, nil
}

func (a *fakeAPI) UpdateRespondent(ctx context.Context, id, token string, p models.RespondentPayload) (*models.RespondentAck, error) {
	if err := a.wait(ctx, "update respondent"); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.offline {
		return nil, &record.NetworkError{Op: "update respondent", Err: errors.New("connection refused")}
	}
	a.latest[id] = p
	return &models.RespondentAck{RespondentID: id}, nil
}

func (a *fakeAPI) SubmitRespondent(ctx context.Context, id, token string, p models.RespondentPayload) (*models.RespondentAck, error) {
	if err := a.wait(ctx, "submit respondent"); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.offline {
		return nil, &record.NetworkError{Op: "submit respondent", Err: errors.New("connection refused")}
	}
	if !a.submitted[id] {
		a.latest[id] = p
		a.submitted[id] = true
	}
	return &models.RespondentAck{RespondentID: id, Submitted: true}, nil
}

func (a *fakeAPI) payloadFor(clientID string) (models.RespondentPayload, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.latest[a.byClient[clientID]]
	return p, ok
}

type harness struct {
	path  string
	store *localstore.Store
	res   *fakeResources
	api   *fakeAPI
	ctrl  *Controller
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{path: filepath.Join(t.TempDir(), "respondent.db"), res: newFakeResources(), api: newFakeAPI()}
	h.open(t)
	return h
}

func (h *harness) open(t *testing.T) {
	t.Helper()
	log := zaptest.NewLogger(t)
	store, err := localstore.Open(h.path, log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	h.store = store
	h.ctrl = New(store, h.res, syncclient.New(h.api, store, log), "en", log)
}

func answerQuantitative(t *testing.T, h *harness, s *Session) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.ctrl.Rate(ctx, s, 1, 7))
	require.NoError(t, h.ctrl.Rate(ctx, s, 2, record.Skipped))
}

func TestResumeOnEmptyStoreStartsFresh(t *testing.T) {
	h := newHarness(t)
	s, err := h.ctrl.Resume(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Landing, s.Page)
	assert.Equal(t, "en", s.Language)

	cur := h.store.GetCurrent()
	require.NotNil(t, cur)
	assert.Equal(t, s.Record.ID, cur.ID)
}

func TestQuantitativePageRequiresEveryQuestion(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s, err := h.ctrl.Resume(ctx)
	require.NoError(t, err)

	_, err = h.ctrl.Next(ctx, s)
	require.NoError(t, err)
	require.Equal(t, Quantitative, s.Page)

	require.NoError(t, h.ctrl.Rate(ctx, s, 1, 7))
	_, err = h.ctrl.Next(ctx, s)
	var perr *PreconditionError
	require.ErrorAs(t, err, &perr)
	assert.ErrorIs(t, err, ErrPrecondition)
	assert.Equal(t, []int64{2}, perr.Missing)
	assert.Equal(t, Quantitative, s.Page, "page unchanged")

	require.NoError(t, h.ctrl.Rate(ctx, s, 2, record.Skipped))
	v, err := h.ctrl.Next(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, RateComments, v.Page)
	assert.Len(t, v.Comments, 2)
}

func TestGotoCannotJumpPastUnansweredQuestions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s, err := h.ctrl.Resume(ctx)
	require.NoError(t, err)

	_, err = h.ctrl.Goto(ctx, s, PersonalInfo)
	assert.ErrorIs(t, err, ErrPrecondition)

	_, err = h.ctrl.Goto(ctx, s, Page("nowhere"))
	assert.ErrorIs(t, err, record.ErrValidation)
}

func TestBackAndLanguageSwitchKeepAnswers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s, err := h.ctrl.Resume(ctx)
	require.NoError(t, err)
	answerQuantitative(t, h, s)
	_, err = h.ctrl.Goto(ctx, s, Qualitative)
	require.NoError(t, err)
	require.NoError(t, h.ctrl.Comment(ctx, s, 3, "more clinics"))
	require.NoError(t, h.ctrl.SetDemographic(ctx, s, record.FieldBarangay, "Poblacion"))

	_, err = h.ctrl.SetLanguage(ctx, s, "tl")
	require.NoError(t, err)
	v, err := h.ctrl.Goto(ctx, s, Quantitative)
	require.NoError(t, err)

	require.Len(t, v.Questions, 2)
	assert.Equal(t, "Madaling puntahan ang health center", v.Questions[0].Prompt)
	require.NotNil(t, v.Questions[0].Rating)
	assert.Equal(t, record.Score(7), *v.Questions[0].Rating)
	assert.True(t, v.Questions[1].Skipped())
	assert.Equal(t, "Evacuation plans are clear", v.Questions[1].Prompt, "falls back to English")

	v, err = h.ctrl.Goto(ctx, s, Qualitative)
	require.NoError(t, err)
	require.Len(t, v.Questions, 1)
	assert.Equal(t, "more clinics", v.Questions[0].Response)
	assert.Equal(t, "Poblacion", v.Respondent.Barangay)
	assert.Equal(t, "tl", s.Record.Language)
}

func TestResumeRestoresPageAfterRestart(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s, err := h.ctrl.Resume(ctx)
	require.NoError(t, err)
	answerQuantitative(t, h, s)
	_, err = h.ctrl.Goto(ctx, s, RateComments)
	require.NoError(t, err)
	require.NoError(t, h.ctrl.RateComment(ctx, s, 10, 8))
	_, err = h.ctrl.SetLanguage(ctx, s, "tl")
	require.NoError(t, err)
	id := s.Record.ID

	require.NoError(t, h.store.Close())
	h.open(t)

	resumed, err := h.ctrl.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, resumed.Record.ID)
	assert.Equal(t, RateComments, resumed.Page)
	assert.Equal(t, "tl", resumed.Language)
	assert.Equal(t, []record.Score{8}, resumed.Record.CommentRatingHistory(10))
}

func TestOfflineNavigationNeverBlocks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.api.setOffline(true)

	s, err := h.ctrl.Resume(ctx)
	require.NoError(t, err)
	require.NoError(t, h.ctrl.Rate(ctx, s, 1, 7))
	require.NoError(t, h.ctrl.Rate(ctx, s, 2, 3))
	_, err = h.ctrl.Goto(ctx, s, Quantitative)
	require.NoError(t, err)
	_, err = h.ctrl.Next(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, record.LocalOnly, s.Record.Sync.State)
	assert.Positive(t, s.Record.Sync.Failures)

	h.api.setOffline(false)
	_, err = h.ctrl.Next(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, record.Registered, s.Record.Sync.State)

	p, ok := h.api.payloadFor(s.Record.ID)
	require.True(t, ok)
	assert.Equal(t, []int{7}, p.QuestionRatings[1])
}

func TestSubmitOfflineIsDurableAndUploadsLater(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s, err := h.ctrl.Resume(ctx)
	require.NoError(t, err)
	answerQuantitative(t, h, s)
	_, err = h.ctrl.Goto(ctx, s, Review)
	require.NoError(t, err)

	h.api.setOffline(true)
	v, err := h.ctrl.Submit(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, PeerResponses, v.Page)
	assert.True(t, v.Submitted)

	stored := h.store.Get(s.Record.ID)
	require.NotNil(t, stored)
	assert.True(t, stored.Submitted)
	assert.NotEqual(t, record.Finalized, stored.Sync.State)

	err = h.ctrl.Rate(ctx, s, 1, 2)
	assert.ErrorIs(t, err, record.ErrInvalidState)
	_, err = h.ctrl.Submit(ctx, s)
	assert.Error(t, err)

	h.api.setOffline(false)
	state, err := h.ctrl.SyncNow(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, record.Finalized, state)
	assert.Equal(t, record.Finalized, h.store.Get(s.Record.ID).Sync.State)

	v, err = h.ctrl.Next(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, End, v.Page)
}

func TestSubmitReturnsWhenServerHangs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s, err := h.ctrl.Resume(ctx)
	require.NoError(t, err)
	answerQuantitative(t, h, s)
	_, err = h.ctrl.Goto(ctx, s, Review)
	require.NoError(t, err)

	h.ctrl.submitTimeout = 50 * time.Millisecond
	h.api.setHang(true)
	start := time.Now()
	v, err := h.ctrl.Submit(ctx, s)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, PeerResponses, v.Page)

	stored := h.store.Get(s.Record.ID)
	require.NotNil(t, stored)
	assert.True(t, stored.Submitted)
	assert.NotEqual(t, record.Finalized, stored.Sync.State)

	h.api.setHang(false)
	state, err := h.ctrl.SyncNow(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, record.Finalized, state)
}

func TestOverlongCommentIsRejectedAndRecordStillSyncs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s, err := h.ctrl.Resume(ctx)
	require.NoError(t, err)
	answerQuantitative(t, h, s)
	require.NoError(t, h.ctrl.Comment(ctx, s, 3, "More doctors"))

	err = h.ctrl.Comment(ctx, s, 3, strings.Repeat("a", record.MaxCommentRunes+1))
	var verr *record.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.ErrorIs(t, err, record.ErrValidation)
	assert.Equal(t, "More doctors", h.store.GetCurrent().Comments[3])

	require.NoError(t, h.ctrl.Comment(ctx, s, 3, strings.Repeat("a", record.MaxCommentRunes)))
	state, err := h.ctrl.SyncNow(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, record.Registered, state)
	p, ok := h.api.payloadFor(s.Record.ID)
	require.True(t, ok)
	assert.Len(t, p.Comments[3], record.MaxCommentRunes)
}

func TestPostSubmitPagesRequireSubmission(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s, err := h.ctrl.Resume(ctx)
	require.NoError(t, err)
	answerQuantitative(t, h, s)

	_, err = h.ctrl.Goto(ctx, s, Review)
	require.NoError(t, err)
	_, err = h.ctrl.Next(ctx, s)
	assert.ErrorIs(t, err, ErrPrecondition)
	_, err = h.ctrl.Goto(ctx, s, End)
	assert.ErrorIs(t, err, ErrPrecondition)
}

func TestSubmitOnlyFromReviewPage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s, err := h.ctrl.Resume(ctx)
	require.NoError(t, err)

	_, err = h.ctrl.Submit(ctx, s)
	assert.ErrorIs(t, err, ErrPrecondition)
	assert.False(t, s.Record.Submitted)
}

func TestStartNewKeepsAndUploadsPartialResponse(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.api.setOffline(true)
	s, err := h.ctrl.Resume(ctx)
	require.NoError(t, err)
	answerQuantitative(t, h, s)
	require.NoError(t, h.ctrl.RateComment(ctx, s, 10, 4))
	first := s.Record.ID

	h.api.setOffline(false)
	next, err := h.ctrl.StartNew(ctx, s)
	require.NoError(t, err)
	assert.NotEqual(t, first, next.Record.ID)
	assert.Equal(t, Landing, next.Page)

	all, err := h.store.ListAll()
	require.NoError(t, err)
	require.Len(t, all, 2)
	old := h.store.Get(first)
	require.NotNil(t, old)
	assert.False(t, old.Submitted)
	assert.Equal(t, []record.Score{7}, old.Ratings(1))

	p, ok := h.api.payloadFor(first)
	require.True(t, ok, "partial response uploaded")
	assert.False(t, p.Submitted)
	assert.Equal(t, []int{4}, p.CommentRatings[10])
}

func TestResourceFailureDegradesView(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s, err := h.ctrl.Resume(ctx)
	require.NoError(t, err)
	answerQuantitative(t, h, s)
	h.res.errs[models.ResourceComments] = &record.NetworkError{Op: "fetch comments"}

	v, err := h.ctrl.Goto(ctx, s, RateComments)
	require.NoError(t, err)
	assert.Empty(t, v.Comments)
	require.Len(t, v.Warnings, 1)
	assert.Contains(t, v.Warnings[0], "comments")
}

func TestUnavailableQuestionsDoNotGateNavigation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s, err := h.ctrl.Resume(ctx)
	require.NoError(t, err)
	h.res.errs[models.ResourceQuestions] = &record.NetworkError{Op: "fetch questions"}

	_, err = h.ctrl.Goto(ctx, s, PersonalInfo)
	require.NoError(t, err)
}

func TestSetLanguageRejectsUnsupported(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s, err := h.ctrl.Resume(ctx)
	require.NoError(t, err)

	_, err = h.ctrl.SetLanguage(ctx, s, "fr")
	assert.ErrorIs(t, err, record.ErrValidation)
	assert.Equal(t, "en", s.Record.Language)
}

func TestLanguageSwitchAfterSubmitChangesDisplayOnly(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s, err := h.ctrl.Resume(ctx)
	require.NoError(t, err)
	answerQuantitative(t, h, s)
	_, err = h.ctrl.Goto(ctx, s, Review)
	require.NoError(t, err)
	_, err = h.ctrl.Submit(ctx, s)
	require.NoError(t, err)

	v, err := h.ctrl.SetLanguage(ctx, s, "tl")
	require.NoError(t, err)
	assert.Equal(t, "tl", v.Language)
	assert.Equal(t, "Paano sumagot ang iba", v.Title)
	assert.Equal(t, "en", s.Record.Language)
}

func TestParsePage(t *testing.T) {
	p, err := ParsePage("rate-comments")
	require.NoError(t, err)
	assert.Equal(t, RateComments, p)

	_, err = ParsePage("checkout")
	assert.ErrorIs(t, err, record.ErrValidation)
}
