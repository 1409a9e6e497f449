package services

import (
	"sort"

	"github.com/soaringjerry/Malasakit/internal/models"
	"github.com/soaringjerry/Malasakit/internal/record"
)

// PeerStore abstracts the reads PeerService needs.
type PeerStore interface {
	ListQuestions() ([]*models.Question, error)
	ListRespondents() ([]*Respondent, error)
}

// PeerService summarizes submitted responses for the peer-responses page.
type PeerService struct {
	store PeerStore
}

func NewPeerService(store PeerStore) *PeerService {
	return &PeerService{store: store}
}

// Summary builds the peer-responses resource. Only submitted respondents
// count, and only their latest rating of each active quantitative question.
func (s *PeerService) Summary() (*models.PeerResponses, error) {
	questions, err := s.quantitative()
	if err != nil {
		return nil, err
	}
	respondents, err := s.submitted()
	if err != nil {
		return nil, err
	}

	out := &models.PeerResponses{
		Respondents: len(respondents),
		Questions:   make([]models.PeerQuestion, 0, len(questions)),
		Timeseries:  buildTimeseries(respondents),
	}
	for _, q := range questions {
		pq := models.PeerQuestion{QuestionID: q.ID, Histogram: make([]int, int(record.MaxScore)+1)}
		var values []int
		for _, r := range respondents {
			v, ok := latest(r.QuestionRatings[q.ID])
			if !ok {
				continue
			}
			if v == int(record.Skipped) {
				pq.Skipped++
				continue
			}
			if v < 0 || v >= len(pq.Histogram) {
				continue
			}
			pq.Histogram[v]++
			values = append(values, v)
		}
		pq.Count = len(values)
		pq.Median = median(values)
		out.Questions = append(out.Questions, pq)
	}
	return out, nil
}

// Alpha computes Cronbach's alpha over the latest ratings of submitted
// respondents who rated every active quantitative question.
func (s *PeerService) Alpha() (float64, int, error) {
	questions, err := s.quantitative()
	if err != nil {
		return 0, 0, err
	}
	respondents, err := s.submitted()
	if err != nil {
		return 0, 0, err
	}
	matrix := buildAlphaMatrix(questions, respondents)
	return CronbachAlpha(matrix), len(matrix), nil
}

func (s *PeerService) quantitative() ([]*models.Question, error) {
	qs, err := s.store.ListQuestions()
	if err != nil {
		return nil, err
	}
	out := make([]*models.Question, 0, len(qs))
	for _, q := range qs {
		if q.Active && q.Kind == models.KindQuantitative {
			out = append(out, q)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *PeerService) submitted() ([]*Respondent, error) {
	rs, err := s.store.ListRespondents()
	if err != nil {
		return nil, err
	}
	out := rs[:0:0]
	for _, r := range rs {
		if r.Submitted {
			out = append(out, r)
		}
	}
	return out, nil
}

func buildAlphaMatrix(questions []*models.Question, respondents []*Respondent) [][]float64 {
	matrix := make([][]float64, 0, len(respondents))
	for _, r := range respondents {
		row := make([]float64, 0, len(questions))
		for _, q := range questions {
			v, ok := latest(r.QuestionRatings[q.ID])
			if !ok || v == int(record.Skipped) {
				break
			}
			row = append(row, float64(v))
		}
		if len(row) == len(questions) {
			matrix = append(matrix, row)
		}
	}
	return matrix
}

func buildTimeseries(respondents []*Respondent) []models.DailyCount {
	counts := map[string]int{}
	for _, r := range respondents {
		at := r.LastModified
		if r.SubmittedAt != nil {
			at = *r.SubmittedAt
		}
		counts[at.UTC().Format("2006-01-02")]++
	}
	days := make([]string, 0, len(counts))
	for d := range counts {
		days = append(days, d)
	}
	sort.Strings(days)
	out := make([]models.DailyCount, 0, len(days))
	for _, d := range days {
		out = append(out, models.DailyCount{Date: d, Count: counts[d]})
	}
	return out
}

func latest(history []int) (int, bool) {
	if len(history) == 0 {
		return 0, false
	}
	return history[len(history)-1], true
}

func median(values []int) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]int(nil), values...)
	sort.Ints(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return float64(sorted[mid])
	}
	return float64(sorted[mid-1]+sorted[mid]) / 2
}
