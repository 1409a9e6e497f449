package services

import (
	"bytes"
	"encoding/csv"
	"strconv"
)

// skipCell marks an explicit skip in exported ratings.
const skipCell = "skip"

type LongRow struct {
	RespondentID string
	Language     string
	QuestionID   int64
	Rating       int
	Revisions    int
	SubmittedAt  string
}

// ExportLongCSV renders one row per respondent and rated question.
func ExportLongCSV(rows []LongRow) ([]byte, error) {
	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	_ = w.Write([]string{"respondent_id", "language", "question_id", "rating", "revisions", "submitted_at"})
	for _, r := range rows {
		rec := []string{
			r.RespondentID,
			r.Language,
			strconv.FormatInt(r.QuestionID, 10),
			ratingCell(r.Rating),
			strconv.Itoa(r.Revisions),
			r.SubmittedAt,
		}
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// WideRow is one respondent with its demographics and latest ratings keyed by
// question id.
type WideRow struct {
	RespondentID string
	Language     string
	Demographics []string
	Ratings      map[int64]int
}

var demographicHeader = []string{"age", "gender", "province", "city_or_municipality", "barangay"}

// ExportWideCSV renders one row per respondent with a column per question in
// the order given. Unanswered questions are left blank.
func ExportWideCSV(questionIDs []int64, rows []WideRow) ([]byte, error) {
	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	header := append([]string{"respondent_id", "language"}, demographicHeader...)
	for _, id := range questionIDs {
		header = append(header, "q"+strconv.FormatInt(id, 10))
	}
	_ = w.Write(header)
	for _, r := range rows {
		rec := make([]string, 0, len(header))
		rec = append(rec, r.RespondentID, r.Language)
		rec = append(rec, r.Demographics...)
		for _, id := range questionIDs {
			v, ok := r.Ratings[id]
			if !ok {
				rec = append(rec, "")
				continue
			}
			rec = append(rec, ratingCell(v))
		}
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func ratingCell(v int) string {
	if v < 0 {
		return skipCell
	}
	return strconv.Itoa(v)
}
