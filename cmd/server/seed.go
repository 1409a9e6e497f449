package main

import (
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/soaringjerry/Malasakit/internal/api"
	"github.com/soaringjerry/Malasakit/internal/models"
)

// seedFile is the YAML layout of the initial survey content.
type seedFile struct {
	Questions    []models.Question   `yaml:"questions"`
	Comments     []models.Comment    `yaml:"comments"`
	LocationData models.LocationData `yaml:"location_data"`
}

// seedIfEmpty loads the seed file into a store that has no questions yet. A
// missing seed file is not an error.
func seedIfEmpty(store api.Store, path string, log *zap.Logger) error {
	if path == "" {
		return nil
	}
	existing, err := store.ListQuestions()
	if err != nil {
		return fmt.Errorf("check existing questions: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Warn("seed file not found, starting with an empty survey", zap.String("path", path))
		return nil
	}
	if err != nil {
		return fmt.Errorf("read seed: %w", err)
	}
	var sf seedFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return fmt.Errorf("parse seed %s: %w", path, err)
	}
	if err := sf.validate(); err != nil {
		return fmt.Errorf("seed %s: %w", path, err)
	}

	log.Info("First run detected, loading seed data", zap.String("path", path))
	for i := range sf.Questions {
		if err := store.UpsertQuestion(&sf.Questions[i]); err != nil {
			return fmt.Errorf("seed question %d: %w", sf.Questions[i].ID, err)
		}
	}
	for i := range sf.Comments {
		if err := store.AddComment(&sf.Comments[i]); err != nil {
			return fmt.Errorf("seed comment: %w", err)
		}
	}
	if err := store.SetLocations(&sf.LocationData); err != nil {
		return fmt.Errorf("seed location data: %w", err)
	}
	log.Info("seed data loaded",
		zap.Int("questions", len(sf.Questions)),
		zap.Int("comments", len(sf.Comments)),
		zap.Int("provinces", len(sf.LocationData.Provinces)))
	return nil
}

func (sf *seedFile) validate() error {
	seen := map[int64]bool{}
	for _, q := range sf.Questions {
		if q.ID <= 0 {
			return fmt.Errorf("question id must be positive, got %d", q.ID)
		}
		if seen[q.ID] {
			return fmt.Errorf("duplicate question id %d", q.ID)
		}
		seen[q.ID] = true
		if q.Kind != models.KindQuantitative && q.Kind != models.KindQualitative {
			return fmt.Errorf("question %d: unknown kind %q", q.ID, q.Kind)
		}
		if q.PromptI18n["en"] == "" {
			return fmt.Errorf("question %d: English prompt required", q.ID)
		}
	}
	for _, c := range sf.Comments {
		if !seen[c.QuestionID] {
			return fmt.Errorf("comment %q refers to unknown question %d", c.Message, c.QuestionID)
		}
	}
	return nil
}
