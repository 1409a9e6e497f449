package services

import (
	"sort"
	"strconv"
	"time"

	"github.com/soaringjerry/Malasakit/internal/models"
)

// ExportStore is the read surface ExportService needs.
type ExportStore interface {
	ListQuestions() ([]*models.Question, error)
	ListRespondents() ([]*Respondent, error)
}

type ExportService struct {
	store ExportStore
}

func NewExportService(store ExportStore) *ExportService {
	return &ExportService{store: store}
}

type ExportParams struct {
	Format         string
	IncludePartial bool
}

type ExportResult struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Export renders the latest quantitative ratings as CSV. Partial responses
// are left out unless requested.
func (s *ExportService) Export(p ExportParams) (*ExportResult, error) {
	questions, err := s.store.ListQuestions()
	if err != nil {
		return nil, err
	}
	all, err := s.store.ListRespondents()
	if err != nil {
		return nil, err
	}
	respondents := make([]*Respondent, 0, len(all))
	for _, r := range all {
		if r.Submitted || p.IncludePartial {
			respondents = append(respondents, r)
		}
	}
	sort.Slice(respondents, func(i, j int) bool {
		if !respondents[i].CreatedAt.Equal(respondents[j].CreatedAt) {
			return respondents[i].CreatedAt.Before(respondents[j].CreatedAt)
		}
		return respondents[i].ID < respondents[j].ID
	})
	ids := quantitativeIDs(questions)

	switch p.Format {
	case "", "long":
		b, err := ExportLongCSV(buildLongRows(ids, respondents))
		if err != nil {
			return nil, err
		}
		return &ExportResult{Filename: "long.csv", ContentType: "text/csv; charset=utf-8", Data: b}, nil
	case "wide":
		b, err := ExportWideCSV(ids, buildWideRows(ids, respondents))
		if err != nil {
			return nil, err
		}
		return &ExportResult{Filename: "wide.csv", ContentType: "text/csv; charset=utf-8", Data: b}, nil
	default:
		return nil, NewInvalidError("unsupported format")
	}
}

func quantitativeIDs(questions []*models.Question) []int64 {
	qs := make([]*models.Question, 0, len(questions))
	for _, q := range questions {
		if q.Kind == models.KindQuantitative {
			qs = append(qs, q)
		}
	}
	sort.Slice(qs, func(i, j int) bool {
		if qs[i].Order != qs[j].Order {
			return qs[i].Order < qs[j].Order
		}
		return qs[i].ID < qs[j].ID
	})
	ids := make([]int64, len(qs))
	for i, q := range qs {
		ids[i] = q.ID
	}
	return ids
}

func buildLongRows(ids []int64, rs []*Respondent) []LongRow {
	out := make([]LongRow, 0, len(rs)*len(ids))
	for _, r := range rs {
		submitted := ""
		if r.SubmittedAt != nil {
			submitted = r.SubmittedAt.UTC().Format(time.RFC3339)
		}
		for _, id := range ids {
			hist := r.QuestionRatings[id]
			v, ok := latest(hist)
			if !ok {
				continue
			}
			out = append(out, LongRow{
				RespondentID: r.ID,
				Language:     r.Language,
				QuestionID:   id,
				Rating:       v,
				Revisions:    len(hist),
				SubmittedAt:  submitted,
			})
		}
	}
	return out
}

func buildWideRows(ids []int64, rs []*Respondent) []WideRow {
	out := make([]WideRow, 0, len(rs))
	for _, r := range rs {
		row := WideRow{
			RespondentID: r.ID,
			Language:     r.Language,
			Demographics: demographics(r.Data),
			Ratings:      map[int64]int{},
		}
		for _, id := range ids {
			if v, ok := latest(r.QuestionRatings[id]); ok {
				row.Ratings[id] = v
			}
		}
		out = append(out, row)
	}
	return out
}

func demographics(d models.RespondentData) []string {
	age := ""
	if d.Age != nil {
		age = strconv.Itoa(*d.Age)
	}
	return []string{age, d.Gender, d.Province, d.CityOrMunicipality, d.Barangay}
}
