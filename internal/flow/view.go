package flow

import (
	"context"

	"go.uber.org/zap"

	"github.com/soaringjerry/Malasakit/internal/models"
	"github.com/soaringjerry/Malasakit/internal/record"
	"github.com/soaringjerry/Malasakit/internal/utils"
)

// QuestionView is a question as shown, with the answer already on record.
type QuestionView struct {
	ID       int64
	Kind     string
	Prompt   string
	Left     string
	Right    string
	Rating   *record.Score
	History  []record.Score
	Response string
}

// Skipped reports whether the latest rating is an explicit skip.
func (q QuestionView) Skipped() bool { return q.Rating != nil && *q.Rating == record.Skipped }

// CommentView is a peer comment as shown, with the respondent's rating of it.
type CommentView struct {
	ID         int64
	QuestionID int64
	Message    string
	Rating     *record.Score
}

// View is everything needed to render the session's page. Resources that
// could not be loaded leave their field empty and add a warning.
type View struct {
	Page      Page
	Language  string
	Title     string
	Submitted bool
	SyncState record.SyncState

	Questions  []QuestionView
	Comments   []CommentView
	Respondent record.RespondentData
	Locations  *models.LocationData
	Peers      *models.PeerResponses
	Warnings   []string
}

// View renders the session's current page from the record and the resource cache.
func (c *Controller) View(ctx context.Context, s *Session) (*View, error) {
	r := s.Record
	v := &View{
		Page:       s.Page,
		Language:   s.Language,
		Title:      utils.T(s.Language, "page."+string(s.Page)),
		Submitted:  r.Submitted,
		SyncState:  r.Sync.State,
		Respondent: r.RespondentData,
	}

	switch s.Page {
	case Quantitative:
		v.Questions = c.questionViews(ctx, v, r, models.KindQuantitative)
	case Qualitative:
		v.Questions = c.questionViews(ctx, v, r, models.KindQualitative)
	case RateComments:
		cs, err := c.resources.Comments(ctx)
		if err != nil {
			c.degrade(v, "comments", err)
			break
		}
		for _, cm := range cs {
			cv := CommentView{ID: cm.ID, QuestionID: cm.QuestionID, Message: cm.Message}
			if sc, ok := r.LatestCommentRating(cm.ID); ok {
				cv.Rating = &sc
			}
			v.Comments = append(v.Comments, cv)
		}
	case PersonalInfo:
		loc, err := c.resources.Locations(ctx)
		if err != nil {
			c.degrade(v, "location-data", err)
			break
		}
		v.Locations = loc
	case Review:
		v.Questions = c.questionViews(ctx, v, r, "")
	case PeerResponses:
		peers, err := c.resources.PeerResponses(ctx)
		if err != nil {
			c.degrade(v, "peer-responses", err)
			break
		}
		v.Peers = peers
	}
	return v, nil
}

// questionViews lists questions of kind (all kinds when empty) with the
// recorded answers filled in.
func (c *Controller) questionViews(ctx context.Context, v *View, r *record.Record, kind string) []QuestionView {
	qs, err := c.resources.Questions(ctx)
	if err != nil {
		c.degrade(v, "questions", err)
		return nil
	}
	var out []QuestionView
	for _, q := range qs {
		if kind != "" && q.Kind != kind {
			continue
		}
		qv := QuestionView{
			ID:       q.ID,
			Kind:     q.Kind,
			Prompt:   q.Prompt(v.Language),
			Left:     localized(q.LeftAnchor, v.Language),
			Right:    localized(q.RightAnchor, v.Language),
			Response: r.Comments[q.ID],
		}
		if q.Kind == models.KindQuantitative {
			qv.History = r.Ratings(q.ID)
			if sc, ok := r.LatestRating(q.ID); ok {
				qv.Rating = &sc
			}
		}
		out = append(out, qv)
	}
	return out
}

func localized(m map[string]string, lang string) string {
	if v := m[lang]; v != "" {
		return v
	}
	return m[utils.LangEnglish]
}

func (c *Controller) degrade(v *View, resource string, err error) {
	c.log.Warn("resource unavailable, rendering without it", zap.String("resource", resource), zap.String("page", string(v.Page)), zap.Error(err))
	v.Warnings = append(v.Warnings, utils.T(v.Language, "resource.unavailable")+" ("+resource+")")
}
