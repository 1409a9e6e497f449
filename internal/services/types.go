package services

import "github.com/soaringjerry/Malasakit/internal/models"

// Respondent is the server's copy of one response; see models.Respondent.
type Respondent = models.Respondent
