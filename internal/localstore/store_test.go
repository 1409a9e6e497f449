package localstore

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/soaringjerry/Malasakit/internal/record"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "respondent.db")
	s, err := Open(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func TestGetCurrentOnEmptyStoreIsNil(t *testing.T) {
	s, _ := openTestStore(t)
	assert.Nil(t, s.GetCurrent())

	_, err := s.CurrentID()
	assert.ErrorIs(t, err, record.ErrNotFound)
}

func TestCurrentRecordSurvivesReopen(t *testing.T) {
	s, path := openTestStore(t)

	r, err := s.NewCurrent("tl")
	require.NoError(t, err)
	require.NoError(t, r.SetRating(1, 7))
	require.NoError(t, r.SetComment(2, "mas maraming doktor"))
	require.NoError(t, s.PutCurrent(r))
	require.NoError(t, s.Close())

	reopened, err := Open(path, nil)
	require.NoError(t, err)
	defer reopened.Close()

	got := reopened.GetCurrent()
	require.NotNil(t, got)
	assert.Equal(t, r.ID, got.ID)
	assert.Equal(t, "tl", got.Language)
	assert.Equal(t, []record.Score{7}, got.Ratings(1))
	assert.Equal(t, "mas maraming doktor", got.Comments[2])
	assert.False(t, got.Submitted)
}

func TestNewCurrentKeepsPartialRecordAsHistory(t *testing.T) {
	s, _ := openTestStore(t)

	first, err := s.NewCurrent("en")
	require.NoError(t, err)
	require.NoError(t, first.SetRating(1, 3))
	require.NoError(t, first.SetCommentRating(10, 8))
	require.NoError(t, s.PutCurrent(first))

	second, err := s.NewCurrent("en")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	cur := s.GetCurrent()
	require.NotNil(t, cur)
	assert.Equal(t, second.ID, cur.ID)
	assert.Empty(t, cur.QuestionRatings)

	all, err := s.ListAll()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, first.ID, all[0].ID)
	assert.False(t, all[0].Submitted)
	assert.Equal(t, []record.Score{3}, all[0].Ratings(1))
	assert.Equal(t, []record.Score{8}, all[0].CommentRatingHistory(10))
}

func TestPutDoesNotMoveCurrentPointer(t *testing.T) {
	s, _ := openTestStore(t)
	cur, err := s.NewCurrent("en")
	require.NoError(t, err)

	other := record.New("en")
	require.NoError(t, s.Put(other))

	got := s.GetCurrent()
	require.NotNil(t, got)
	assert.Equal(t, cur.ID, got.ID)
	assert.NotNil(t, s.Get(other.ID))
}

func TestPutRejectsReservedKeys(t *testing.T) {
	s, _ := openTestStore(t)
	for _, id := range []string{"", "current", "session", "resource/questions"} {
		r := record.New("en")
		r.ID = id
		assert.Error(t, s.Put(r), "id %q", id)
	}
}

func TestCorruptCurrentRecordStartsFresh(t *testing.T) {
	s, _ := openTestStore(t)
	r, err := s.NewCurrent("en")
	require.NoError(t, err)

	_, err = s.db.Exec(`UPDATE entries SET value = ? WHERE key = ?`, `{"data": {"question-ratings": "oops"`, r.ID)
	require.NoError(t, err)

	assert.Nil(t, s.GetCurrent())
	all, err := s.ListAll()
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestDanglingCurrentPointerStartsFresh(t *testing.T) {
	s, _ := openTestStore(t)
	require.NoError(t, s.write(s.db, currentKey, kindPointer, "missing", nil))
	assert.Nil(t, s.GetCurrent())
}

func TestStoredLayoutMatchesLocalStorageShape(t *testing.T) {
	s, _ := openTestStore(t)
	r, err := s.NewCurrent("en")
	require.NoError(t, err)

	var raw string
	require.NoError(t, s.db.QueryRow(`SELECT value FROM entries WHERE key = 'current'`).Scan(&raw))
	var pointer map[string]string
	require.NoError(t, json.Unmarshal([]byte(raw), &pointer))
	assert.Equal(t, r.ID, pointer["data"])

	require.NoError(t, s.db.QueryRow(`SELECT value FROM entries WHERE key = ?`, r.ID).Scan(&raw))
	var wrapped map[string]map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &wrapped))
	assert.Contains(t, wrapped["data"], "question-ratings")
}

func TestDeleteClearsPointer(t *testing.T) {
	s, _ := openTestStore(t)
	r, err := s.NewCurrent("en")
	require.NoError(t, err)

	require.NoError(t, s.Delete(r.ID))
	assert.Nil(t, s.Get(r.ID))
	assert.Nil(t, s.GetCurrent())
}

func TestResourceRoundTrip(t *testing.T) {
	s, _ := openTestStore(t)
	_, _, ok := s.GetResource("questions")
	assert.False(t, ok)

	fetched := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, s.PutResource("questions", []byte(`[{"id":1}]`), fetched))

	data, at, ok := s.GetResource("questions")
	require.True(t, ok)
	assert.JSONEq(t, `[{"id":1}]`, string(data))
	assert.True(t, fetched.Equal(at))

	assert.Error(t, s.PutResource("questions", []byte(`not json`), fetched))

	all, err := s.ListAll()
	require.NoError(t, err)
	assert.Empty(t, all, "resources are not records")
}

func TestSessionRoundTrip(t *testing.T) {
	s, _ := openTestStore(t)
	_, ok := s.LoadSession()
	assert.False(t, ok)

	require.NoError(t, s.SaveSession(Session{RecordID: "abc", Page: "rate-comments", Language: "tl"}))
	sess, ok := s.LoadSession()
	require.True(t, ok)
	assert.Equal(t, "rate-comments", sess.Page)
	assert.Equal(t, "tl", sess.Language)
}
