package api

import (
	"fmt"
	"sort"
	"sync"

	"github.com/soaringjerry/Malasakit/internal/models"
	"github.com/soaringjerry/Malasakit/internal/services"
)

// MemoryStore keeps everything in maps. Values are copied in and out so
// callers never share state with the store.
type MemoryStore struct {
	mu          sync.RWMutex
	questions   map[int64]*models.Question
	comments    []*models.Comment
	nextComment int64
	locations   *models.LocationData
	respondents map[string]*services.Respondent
	byClient    map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		questions:   map[int64]*models.Question{},
		respondents: map[string]*services.Respondent{},
		byClient:    map[string]string{},
		locations:   &models.LocationData{},
	}
}

func (s *MemoryStore) ListQuestions() ([]*models.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Question, 0, len(s.questions))
	for _, q := range s.questions {
		cp := *q
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) UpsertQuestion(q *models.Question) error {
	if q.ID <= 0 {
		return fmt.Errorf("question id must be positive, got %d", q.ID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *q
	s.questions[q.ID] = &cp
	return nil
}

func (s *MemoryStore) ListComments() ([]*models.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Comment, 0, len(s.comments))
	for _, c := range s.comments {
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) AddComment(c *models.Comment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addCommentLocked(c)
	return nil
}

func (s *MemoryStore) addCommentLocked(c *models.Comment) {
	if c.ID == 0 {
		s.nextComment++
		c.ID = s.nextComment
	} else if c.ID > s.nextComment {
		s.nextComment = c.ID
	}
	cp := *c
	s.comments = append(s.comments, &cp)
}

func (s *MemoryStore) GetLocations() (*models.LocationData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := *s.locations
	return &cp, nil
}

func (s *MemoryStore) SetLocations(d *models.LocationData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	s.locations = &cp
	return nil
}

func (s *MemoryStore) AddRespondent(r *services.Respondent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.respondents[r.ID]; ok {
		return fmt.Errorf("respondent %s exists", r.ID)
	}
	if _, ok := s.byClient[r.ClientID]; ok {
		return fmt.Errorf("client id %s already registered", r.ClientID)
	}
	s.respondents[r.ID] = cloneRespondent(r)
	s.byClient[r.ClientID] = r.ID
	return nil
}

func (s *MemoryStore) UpdateRespondent(r *services.Respondent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.respondents[r.ID]; !ok {
		return fmt.Errorf("respondent %s not found", r.ID)
	}
	s.respondents[r.ID] = cloneRespondent(r)
	return nil
}

func (s *MemoryStore) FinalizeRespondent(r *services.Respondent, comments []*models.Comment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.respondents[r.ID]; !ok {
		return fmt.Errorf("respondent %s not found", r.ID)
	}
	s.respondents[r.ID] = cloneRespondent(r)
	for _, c := range comments {
		s.addCommentLocked(c)
	}
	return nil
}

func (s *MemoryStore) GetRespondent(id string) (*services.Respondent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.respondents[id]; ok {
		return cloneRespondent(r), nil
	}
	return nil, nil
}

func (s *MemoryStore) GetRespondentByClientID(clientID string) (*services.Respondent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id, ok := s.byClient[clientID]; ok {
		return cloneRespondent(s.respondents[id]), nil
	}
	return nil, nil
}

func (s *MemoryStore) ListRespondents() ([]*services.Respondent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*services.Respondent, 0, len(s.respondents))
	for _, r := range s.respondents {
		out = append(out, cloneRespondent(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func cloneRespondent(r *services.Respondent) *services.Respondent {
	cp := *r
	cp.QuestionRatings = cloneHistory(r.QuestionRatings)
	cp.CommentRatings = cloneHistory(r.CommentRatings)
	cp.Comments = make(map[int64]string, len(r.Comments))
	for k, v := range r.Comments {
		cp.Comments[k] = v
	}
	if r.SubmittedAt != nil {
		at := *r.SubmittedAt
		cp.SubmittedAt = &at
	}
	return &cp
}

func cloneHistory(in map[int64][]int) map[int64][]int {
	out := make(map[int64][]int, len(in))
	for k, v := range in {
		out[k] = append([]int(nil), v...)
	}
	return out
}
