package services

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/soaringjerry/Malasakit/internal/models"
	"github.com/soaringjerry/Malasakit/internal/record"
	"github.com/soaringjerry/Malasakit/internal/utils"
)

// RespondentStore abstracts persistence operations required by RespondentService.
type RespondentStore interface {
	GetRespondent(id string) (*Respondent, error)
	GetRespondentByClientID(clientID string) (*Respondent, error)
	AddRespondent(r *Respondent) error
	UpdateRespondent(r *Respondent) error
	// FinalizeRespondent stores the submitted respondent and its new comments atomically.
	FinalizeRespondent(r *Respondent, comments []*models.Comment) error
	ListQuestions() ([]*models.Question, error)
}

// RespondentService receives pushes from offline clients. Every operation is
// safe to replay: create is keyed on the client's id, updates older than the
// stored copy are ignored, and a second submit changes nothing.
type RespondentService struct {
	store       RespondentStore
	now         func() time.Time
	idGenerator func() string

	mu sync.Mutex
}

// NewRespondentService constructs a service bound to the provided persistence interface.
func NewRespondentService(store RespondentStore) *RespondentService {
	return &RespondentService{
		store:       store,
		now:         func() time.Time { return time.Now().UTC() },
		idGenerator: defaultRespondentID,
	}
}

func defaultRespondentID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// Create registers a respondent, or applies p to the one already registered
// under the same client id.
func (s *RespondentService) Create(p models.RespondentPayload) (*Respondent, error) {
	if strings.TrimSpace(p.ClientID) == "" {
		return nil, NewInvalidError("client-id required")
	}
	if err := validatePayload(p); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.store.GetRespondentByClientID(p.ClientID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if !existing.Submitted && s.apply(existing, p) {
			if err := s.store.UpdateRespondent(existing); err != nil {
				return nil, err
			}
		}
		return existing, nil
	}

	r := &Respondent{
		ID:        s.idGenerator(),
		ClientID:  p.ClientID,
		CreatedAt: s.now(),
	}
	s.apply(r, p)
	if err := s.store.AddRespondent(r); err != nil {
		return nil, err
	}
	return r, nil
}

// Update applies p to a registered, unsubmitted respondent. A payload older
// than the stored copy is acknowledged without being applied.
func (s *RespondentService) Update(id string, p models.RespondentPayload) (*Respondent, error) {
	if err := validatePayload(p); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.load(id, p.ClientID)
	if err != nil {
		return nil, err
	}
	if r.Submitted {
		return nil, NewConflictError("respondent already submitted")
	}
	if s.apply(r, p) {
		if err := s.store.UpdateRespondent(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Submit finalizes a respondent with the contents of p. Each non-empty answer to
// a qualitative question becomes a comment later respondents can rate. Submitting
// again returns the stored respondent unchanged.
func (s *RespondentService) Submit(id string, p models.RespondentPayload) (*Respondent, error) {
	if err := validatePayload(p); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.load(id, p.ClientID)
	if err != nil {
		return nil, err
	}
	if r.Submitted {
		return r, nil
	}
	s.apply(r, p)
	now := s.now()
	r.Submitted = true
	r.SubmittedAt = &now

	comments, err := s.commentsFrom(r, now)
	if err != nil {
		return nil, err
	}
	if err := s.store.FinalizeRespondent(r, comments); err != nil {
		return nil, err
	}
	return r, nil
}

// Get returns a respondent by id.
func (s *RespondentService) Get(id string) (*Respondent, error) {
	return s.load(id, "")
}

func (s *RespondentService) load(id, clientID string) (*Respondent, error) {
	r, err := s.store.GetRespondent(id)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, NewNotFoundError("respondent not found")
	}
	if clientID != "" && r.ClientID != clientID {
		return nil, NewInvalidError("client-id does not match respondent")
	}
	return r, nil
}

// apply copies p into r unless p is older than what r already holds. Ties go
// to the incoming payload.
func (s *RespondentService) apply(r *Respondent, p models.RespondentPayload) bool {
	modified := p.LastModified.UTC()
	if modified.IsZero() {
		modified = s.now()
	}
	if modified.Before(r.LastModified) {
		return false
	}
	if p.Language != "" {
		r.Language = p.Language
	}
	r.QuestionRatings = copyHistory(p.QuestionRatings)
	r.CommentRatings = copyHistory(p.CommentRatings)
	r.Comments = make(map[int64]string, len(p.Comments))
	for k, v := range p.Comments {
		r.Comments[k] = v
	}
	r.Data = p.RespondentData
	r.LastModified = modified
	return true
}

func (s *RespondentService) commentsFrom(r *Respondent, now time.Time) ([]*models.Comment, error) {
	if len(r.Comments) == 0 {
		return nil, nil
	}
	questions, err := s.store.ListQuestions()
	if err != nil {
		return nil, err
	}
	qualitative := map[int64]bool{}
	for _, q := range questions {
		if q.Kind == models.KindQualitative {
			qualitative[q.ID] = true
		}
	}
	ids := make([]int64, 0, len(r.Comments))
	for id := range r.Comments {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []*models.Comment
	for _, qid := range ids {
		text := strings.TrimSpace(r.Comments[qid])
		if text == "" || !qualitative[qid] {
			continue
		}
		out = append(out, &models.Comment{QuestionID: qid, Language: r.Language, Message: text, CreatedAt: now})
	}
	return out, nil
}

func validatePayload(p models.RespondentPayload) error {
	if p.Language != "" && !utils.SupportedLanguage(p.Language) {
		return NewInvalidError(fmt.Sprintf("unsupported language %q", p.Language))
	}
	for kind, hist := range map[string]map[int64][]int{"question": p.QuestionRatings, "comment": p.CommentRatings} {
		for id, scores := range hist {
			if id <= 0 {
				return NewInvalidError(fmt.Sprintf("invalid %s id %d", kind, id))
			}
			for _, v := range scores {
				if !record.Score(v).Valid() {
					return NewInvalidError(fmt.Sprintf("%s %d: score %d out of range", kind, id, v))
				}
			}
		}
	}
	for id, text := range p.Comments {
		if id <= 0 {
			return NewInvalidError(fmt.Sprintf("invalid question id %d", id))
		}
		if utf8.RuneCountInString(text) > record.MaxCommentRunes {
			return NewInvalidError(fmt.Sprintf("comment for question %d too long", id))
		}
	}
	if age := p.RespondentData.Age; age != nil && (*age < 0 || *age > 120) {
		return NewInvalidError("age out of range")
	}
	return nil
}

func copyHistory(in map[int64][]int) map[int64][]int {
	out := make(map[int64][]int, len(in))
	for k, v := range in {
		out[k] = append([]int(nil), v...)
	}
	return out
}
