package models

import "time"

// Question kinds.
const (
	KindQuantitative = "quantitative"
	KindQualitative  = "qualitative"
)

// Resource names served by the API and cached by the client.
const (
	ResourceQuestions     = "questions"
	ResourceComments      = "comments"
	ResourceLocations     = "location-data"
	ResourcePeerResponses = "peer-responses"
)

// Question is a survey prompt. Quantitative questions take a 0-9 rating,
// qualitative ones free text.
type Question struct {
	ID          int64             `json:"id" yaml:"id"`
	Kind        string            `json:"kind" yaml:"kind"`
	Order       int               `json:"order" yaml:"order"`
	Tag         string            `json:"tag,omitempty" yaml:"tag"`
	PromptI18n  map[string]string `json:"prompt_i18n" yaml:"prompt_i18n"`
	LeftAnchor  map[string]string `json:"left_anchor_i18n,omitempty" yaml:"left_anchor_i18n"`
	RightAnchor map[string]string `json:"right_anchor_i18n,omitempty" yaml:"right_anchor_i18n"`
	Active      bool              `json:"active" yaml:"active"`
}

// Prompt returns the prompt in lang, falling back to English.
func (q Question) Prompt(lang string) string {
	if v := q.PromptI18n[lang]; v != "" {
		return v
	}
	return q.PromptI18n["en"]
}

// Comment is a respondent's qualitative answer offered to later respondents for rating.
type Comment struct {
	ID         int64     `json:"id" yaml:"id"`
	QuestionID int64     `json:"question_id" yaml:"question_id"`
	Language   string    `json:"language" yaml:"language"`
	Message    string    `json:"message" yaml:"message"`
	Tag        string    `json:"tag,omitempty" yaml:"tag"`
	CreatedAt  time.Time `json:"created_at" yaml:"-"`
}

// Province groups the cities and municipalities offered on the personal-information page.
type Province struct {
	Name   string `json:"name" yaml:"name"`
	Cities []City `json:"cities" yaml:"cities"`
}

// City lists its barangays.
type City struct {
	Name      string   `json:"name" yaml:"name"`
	Barangays []string `json:"barangays,omitempty" yaml:"barangays"`
}

// LocationData is the location-data resource.
type LocationData struct {
	Provinces []Province `json:"provinces" yaml:"provinces"`
}

// RespondentData mirrors the demographic block of a response.
type RespondentData struct {
	Age                *int   `json:"age,omitempty"`
	Gender             string `json:"gender,omitempty"`
	Province           string `json:"province,omitempty"`
	CityOrMunicipality string `json:"city-or-municipality,omitempty"`
	Barangay           string `json:"barangay,omitempty"`
}

// RespondentPayload is the body of create, update and submit requests.
type RespondentPayload struct {
	ClientID        string           `json:"client-id"`
	Language        string           `json:"language"`
	QuestionRatings map[int64][]int  `json:"question-ratings"`
	CommentRatings  map[int64][]int  `json:"comment-ratings"`
	Comments        map[int64]string `json:"comments"`
	RespondentData  RespondentData   `json:"respondent-data"`
	Submitted       bool             `json:"submitted"`
	LastModified    time.Time        `json:"last-modified"`
}

// RespondentAck is the server's answer to create, update and submit.
type RespondentAck struct {
	RespondentID string    `json:"respondent-id"`
	Token        string    `json:"token,omitempty"`
	LastModified time.Time `json:"last-modified"`
	Submitted    bool      `json:"submitted"`
}

// PeerQuestion summarizes submitted ratings of one quantitative question.
type PeerQuestion struct {
	QuestionID int64   `json:"question_id"`
	Histogram  []int   `json:"histogram"`
	Count      int     `json:"count"`
	Skipped    int     `json:"skipped"`
	Median     float64 `json:"median"`
}

// DailyCount is one point of the submissions-per-day series.
type DailyCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// PeerResponses is the peer-responses resource shown after submission.
type PeerResponses struct {
	Respondents int            `json:"respondents"`
	Questions   []PeerQuestion `json:"questions"`
	Timeseries  []DailyCount   `json:"timeseries"`
}

// Respondent is the server's copy of one response, keyed by the server id and
// unique on the client's local id.
type Respondent struct {
	ID              string           `json:"id"`
	ClientID        string           `json:"client_id"`
	Language        string           `json:"language"`
	QuestionRatings map[int64][]int  `json:"question_ratings"`
	CommentRatings  map[int64][]int  `json:"comment_ratings"`
	Comments        map[int64]string `json:"comments"`
	Data            RespondentData   `json:"respondent_data"`
	Submitted       bool             `json:"submitted"`
	CreatedAt       time.Time        `json:"created_at"`
	LastModified    time.Time        `json:"last_modified"`
	SubmittedAt     *time.Time       `json:"submitted_at,omitempty"`
}

// Ack builds the acknowledgement for r. token is only set on create.
func (r *Respondent) Ack(token string) RespondentAck {
	return RespondentAck{RespondentID: r.ID, Token: token, LastModified: r.LastModified, Submitted: r.Submitted}
}
