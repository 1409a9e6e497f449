package db

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/soaringjerry/Malasakit/internal/models"
	"github.com/soaringjerry/Malasakit/internal/services"
)

func openTestStore(t *testing.T) (*SQLiteStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "server.db")
	s, err := Open(path, "", zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func TestQuestionsRoundTrip(t *testing.T) {
	s, _ := openTestStore(t)
	require.NoError(t, s.UpsertQuestion(&models.Question{
		ID: 2, Kind: models.KindQuantitative, Order: 2, Active: true,
		PromptI18n: map[string]string{"en": "How ready is your barangay?", "tl": "Gaano kahanda ang inyong barangay?"},
		LeftAnchor: map[string]string{"en": "Not ready"},
	}))
	require.NoError(t, s.UpsertQuestion(&models.Question{ID: 1, Kind: models.KindQualitative, Order: 1}))
	require.NoError(t, s.UpsertQuestion(&models.Question{ID: 2, Kind: models.KindQuantitative, Order: 2, Active: false,
		PromptI18n: map[string]string{"en": "Edited"}}))

	qs, err := s.ListQuestions()
	require.NoError(t, err)
	require.Len(t, qs, 2)
	assert.Equal(t, int64(1), qs[0].ID)
	assert.False(t, qs[1].Active)
	assert.Equal(t, "Edited", qs[1].Prompt("tl"), "prompt falls back to English after edit")

	assert.Error(t, s.UpsertQuestion(&models.Question{ID: 3, Kind: "essay"}), "kind is constrained")
}

func TestLocationsDefaultEmpty(t *testing.T) {
	s, _ := openTestStore(t)
	loc, err := s.GetLocations()
	require.NoError(t, err)
	assert.Empty(t, loc.Provinces)

	want := &models.LocationData{Provinces: []models.Province{{Name: "Albay", Cities: []models.City{{Name: "Legazpi", Barangays: []string{"Bitano"}}}}}}
	require.NoError(t, s.SetLocations(want))
	require.NoError(t, s.SetLocations(want))
	got, err := s.GetLocations()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestRespondentLifecycleThroughService(t *testing.T) {
	s, path := openTestStore(t)
	require.NoError(t, s.UpsertQuestion(&models.Question{ID: 1, Kind: models.KindQuantitative, Active: true}))
	require.NoError(t, s.UpsertQuestion(&models.Question{ID: 5, Kind: models.KindQualitative, Active: true}))
	svc := services.NewRespondentService(s)

	base := time.Date(2025, 9, 17, 8, 0, 0, 0, time.UTC)
	age := 41
	p := models.RespondentPayload{
		ClientID:        "local-abc",
		Language:        "tl",
		QuestionRatings: map[int64][]int{1: {3, -1, 6}},
		RespondentData:  models.RespondentData{Age: &age, Province: "Albay"},
		LastModified:    base,
	}
	created, err := svc.Create(p)
	require.NoError(t, err)

	again, err := svc.Create(p)
	require.NoError(t, err)
	assert.Equal(t, created.ID, again.ID)

	p.Comments = map[int64]string{5: "Evacuation routes"}
	p.LastModified = base.Add(time.Minute)
	submitted, err := svc.Submit(created.ID, p)
	require.NoError(t, err)
	require.True(t, submitted.Submitted)

	got, err := s.GetRespondentByClientID("local-abc")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []int{3, -1, 6}, got.QuestionRatings[1])
	assert.Equal(t, 41, *got.Data.Age)
	assert.True(t, got.LastModified.Equal(base.Add(time.Minute)))
	require.NotNil(t, got.SubmittedAt)

	comments, err := s.ListComments()
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, "Evacuation routes", comments[0].Message)
	assert.Equal(t, "tl", comments[0].Language)
	assert.NotZero(t, comments[0].ID)

	// Reopen to check durability and that migrations are not re-applied.
	require.NoError(t, s.Close())
	reopened, err := Open(path, "", nil)
	require.NoError(t, err)
	defer reopened.Close()
	all, err := reopened.ListRespondents()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].Submitted)
}

func TestAddRespondentUniqueClientID(t *testing.T) {
	s, _ := openTestStore(t)
	now := time.Now().UTC()
	require.NoError(t, s.AddRespondent(&services.Respondent{ID: "a", ClientID: "c", CreatedAt: now, LastModified: now}))
	assert.Error(t, s.AddRespondent(&services.Respondent{ID: "b", ClientID: "c", CreatedAt: now, LastModified: now}))
	assert.Error(t, s.UpdateRespondent(&services.Respondent{ID: "missing"}))

	missing, err := s.GetRespondent("nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestFinalizeRollsBackOnFailure(t *testing.T) {
	s, _ := openTestStore(t)
	now := time.Now().UTC()
	r := &services.Respondent{ID: "a", ClientID: "c", CreatedAt: now, LastModified: now}
	require.NoError(t, s.AddRespondent(r))
	require.NoError(t, s.AddComment(&models.Comment{ID: 9, QuestionID: 1, Message: "seeded"}))

	r.Submitted = true
	err := s.FinalizeRespondent(r, []*models.Comment{{ID: 9, QuestionID: 1, Message: "duplicate id"}})
	require.Error(t, err)

	got, err := s.GetRespondent("a")
	require.NoError(t, err)
	assert.False(t, got.Submitted, "respondent update rolled back with the failed comment")
}

func TestMigrationsFromDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "0001_init.sql"), []byte(`CREATE TABLE only_here (id INTEGER);`), 0o644))
	files, err := loadMigrations(dir)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "0001_init.sql", files[0].name)

	files, err = loadMigrations(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	require.NotEmpty(t, files, "falls back to embedded migrations")
}
