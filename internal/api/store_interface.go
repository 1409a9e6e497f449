package api

import (
	"github.com/soaringjerry/Malasakit/internal/models"
	"github.com/soaringjerry/Malasakit/internal/services"
)

// Store is the persistence surface of the survey server. The in-memory store
// serves tests and demos; db.SQLiteStore is used in production.
type Store interface {
	ListQuestions() ([]*models.Question, error)
	UpsertQuestion(q *models.Question) error
	ListComments() ([]*models.Comment, error)
	AddComment(c *models.Comment) error
	GetLocations() (*models.LocationData, error)
	SetLocations(d *models.LocationData) error

	AddRespondent(r *services.Respondent) error
	UpdateRespondent(r *services.Respondent) error
	FinalizeRespondent(r *services.Respondent, comments []*models.Comment) error
	GetRespondent(id string) (*services.Respondent, error)
	GetRespondentByClientID(clientID string) (*services.Respondent, error)
	ListRespondents() ([]*services.Respondent, error)
}

var (
	_ Store                    = (*MemoryStore)(nil)
	_ services.RespondentStore = Store(nil)
	_ services.PeerStore       = Store(nil)
	_ services.ExportStore     = Store(nil)
)
