// Package record holds one respondent's in-progress survey answers.
package record

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Score is a quantitative rating. Skipped marks an explicit non-answer.
type Score int

const (
	Skipped  Score = -1
	MinScore Score = 0
	MaxScore Score = 9
)

// Valid reports whether s is a rating in range or the skip sentinel.
func (s Score) Valid() bool {
	return s == Skipped || (s >= MinScore && s <= MaxScore)
}

// Demographic field names, as stored under respondent-data.
const (
	FieldAge                = "age"
	FieldGender             = "gender"
	FieldProvince           = "province"
	FieldCityOrMunicipality = "city-or-municipality"
	FieldBarangay           = "barangay"
)

const maxAge = 120

// MaxCommentRunes bounds a single free-text answer. The server enforces the
// same limit, so an answer accepted here can always be uploaded.
const MaxCommentRunes = 5000

// RespondentData is the demographic block. Every field is optional.
type RespondentData struct {
	Age                *int   `json:"age,omitempty"`
	Gender             string `json:"gender,omitempty"`
	Province           string `json:"province,omitempty"`
	CityOrMunicipality string `json:"city-or-municipality,omitempty"`
	Barangay           string `json:"barangay,omitempty"`
}

// SyncState is the position of a record in the sync state machine.
type SyncState string

const (
	LocalOnly  SyncState = "local-only"
	Registered SyncState = "registered"
	Syncing    SyncState = "syncing"
	SyncFailed SyncState = "sync-failed"
	Finalized  SyncState = "finalized"
)

// SyncStatus is bookkeeping owned by the sync client. It is not respondent data
// and may change after submission.
type SyncStatus struct {
	State       SyncState `json:"state"`
	Token       string    `json:"token,omitempty"`
	Digest      string    `json:"digest,omitempty"`
	Failures    int       `json:"failures,omitempty"`
	LastError   string    `json:"last-error,omitempty"`
	LastAttempt time.Time `json:"last-attempt,omitempty"`
	LastSynced  time.Time `json:"last-synced,omitempty"`
}

// Record is one respondent's attempt at the survey.
type Record struct {
	ID              string            `json:"id"`
	RespondentID    string            `json:"respondent-id,omitempty"`
	Language        string            `json:"language"`
	QuestionRatings map[int64][]Score `json:"question-ratings"`
	CommentRatings  map[int64][]Score `json:"comment-ratings"`
	Comments        map[int64]string  `json:"comments"`
	RespondentData  RespondentData    `json:"respondent-data"`
	Submitted       bool              `json:"submitted"`
	CreatedAt       time.Time         `json:"created-at"`
	LastModified    time.Time         `json:"last-modified"`
	Sync            SyncStatus        `json:"sync"`

	now func() time.Time
}

// New returns an empty record in the given language.
func New(language string) *Record {
	r := &Record{
		ID:       strings.ReplaceAll(uuid.NewString(), "-", ""),
		Language: language,
		Sync:     SyncStatus{State: LocalOnly},
	}
	r.ensureMaps()
	r.CreatedAt = r.clock()
	r.LastModified = r.CreatedAt
	return r
}

// SetClock overrides the time source used to stamp mutations.
func (r *Record) SetClock(now func() time.Time) { r.now = now }

func (r *Record) clock() time.Time {
	if r.now != nil {
		return r.now()
	}
	return time.Now().UTC()
}

// ensureMaps repairs nil maps left by decoding an older or hand-edited entry.
func (r *Record) ensureMaps() {
	if r.QuestionRatings == nil {
		r.QuestionRatings = map[int64][]Score{}
	}
	if r.CommentRatings == nil {
		r.CommentRatings = map[int64][]Score{}
	}
	if r.Comments == nil {
		r.Comments = map[int64]string{}
	}
	if r.Sync.State == "" {
		r.Sync.State = LocalOnly
		if r.RespondentID != "" {
			r.Sync.State = Registered
		}
	}
}

// Normalize is called after decoding a stored record.
func (r *Record) Normalize() { r.ensureMaps() }

func (r *Record) checkMutable(op string) error {
	if r.Submitted {
		return &InvalidStateError{Op: op, RecordID: r.ID}
	}
	return nil
}

func (r *Record) touch() { r.LastModified = r.clock() }

// SetRating appends score to the history of a quantitative question.
func (r *Record) SetRating(questionID int64, score Score) error {
	if err := r.checkMutable("set rating"); err != nil {
		return err
	}
	if !score.Valid() {
		return &ValidationError{Field: "score", Value: int(score), Reason: "must be between 0 and 9 or skipped"}
	}
	r.ensureMaps()
	r.QuestionRatings[questionID] = append(r.QuestionRatings[questionID], score)
	r.touch()
	return nil
}

// SetCommentRating appends score to the history of a peer comment.
func (r *Record) SetCommentRating(commentID int64, score Score) error {
	if err := r.checkMutable("set comment rating"); err != nil {
		return err
	}
	if !score.Valid() {
		return &ValidationError{Field: "score", Value: int(score), Reason: "must be between 0 and 9 or skipped"}
	}
	r.ensureMaps()
	r.CommentRatings[commentID] = append(r.CommentRatings[commentID], score)
	r.touch()
	return nil
}

// SetComment stores the free-text answer to a qualitative question.
func (r *Record) SetComment(questionID int64, text string) error {
	if err := r.checkMutable("set comment"); err != nil {
		return err
	}
	if n := utf8.RuneCountInString(text); n > MaxCommentRunes {
		return &ValidationError{Field: "comment", Value: n, Reason: fmt.Sprintf("longer than %d characters", MaxCommentRunes)}
	}
	r.ensureMaps()
	r.Comments[questionID] = text
	r.touch()
	return nil
}

// SetDemographic overwrites one respondent-data field.
func (r *Record) SetDemographic(field, value string) error {
	if err := r.checkMutable("set demographic"); err != nil {
		return err
	}
	value = strings.TrimSpace(value)
	switch field {
	case FieldAge:
		if value == "" {
			r.RespondentData.Age = nil
			break
		}
		age, err := strconv.Atoi(value)
		if err != nil || age < 0 || age > maxAge {
			return &ValidationError{Field: FieldAge, Value: value, Reason: "must be a whole number between 0 and 120"}
		}
		r.RespondentData.Age = &age
	case FieldGender:
		r.RespondentData.Gender = value
	case FieldProvince:
		r.RespondentData.Province = value
	case FieldCityOrMunicipality:
		r.RespondentData.CityOrMunicipality = value
	case FieldBarangay:
		r.RespondentData.Barangay = value
	default:
		return &ValidationError{Field: "field", Value: field, Reason: "unknown demographic field"}
	}
	r.touch()
	return nil
}

// SetLanguage switches the UI language without touching any answer.
func (r *Record) SetLanguage(language string) error {
	if err := r.checkMutable("set language"); err != nil {
		return err
	}
	if language == "" {
		return &ValidationError{Field: "language", Value: language, Reason: "required"}
	}
	r.Language = language
	r.touch()
	return nil
}

// MarkSubmitted makes the record immutable. A second call fails and changes nothing.
func (r *Record) MarkSubmitted() error {
	if err := r.checkMutable("mark submitted"); err != nil {
		return err
	}
	r.Submitted = true
	r.touch()
	return nil
}

// Ratings returns a copy of the score history for a quantitative question.
func (r *Record) Ratings(questionID int64) []Score {
	return append([]Score(nil), r.QuestionRatings[questionID]...)
}

// CommentRatingHistory returns a copy of the score history for a comment.
func (r *Record) CommentRatingHistory(commentID int64) []Score {
	return append([]Score(nil), r.CommentRatings[commentID]...)
}

// LatestRating returns the authoritative score for a quantitative question.
func (r *Record) LatestRating(questionID int64) (Score, bool) {
	return last(r.QuestionRatings[questionID])
}

// LatestCommentRating returns the authoritative score for a comment.
func (r *Record) LatestCommentRating(commentID int64) (Score, bool) {
	return last(r.CommentRatings[commentID])
}

func last(h []Score) (Score, bool) {
	if len(h) == 0 {
		return 0, false
	}
	return h[len(h)-1], true
}

// Clone returns a deep copy safe to hand to another goroutine or encoder.
func (r *Record) Clone() *Record {
	cp := *r
	cp.QuestionRatings = cloneHistory(r.QuestionRatings)
	cp.CommentRatings = cloneHistory(r.CommentRatings)
	cp.Comments = make(map[int64]string, len(r.Comments))
	for k, v := range r.Comments {
		cp.Comments[k] = v
	}
	if r.RespondentData.Age != nil {
		age := *r.RespondentData.Age
		cp.RespondentData.Age = &age
	}
	return &cp
}

func cloneHistory(in map[int64][]Score) map[int64][]Score {
	out := make(map[int64][]Score, len(in))
	for k, v := range in {
		out[k] = append([]Score(nil), v...)
	}
	return out
}
