package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/soaringjerry/Malasakit/internal/api"
	"github.com/soaringjerry/Malasakit/internal/logging"
	"github.com/soaringjerry/Malasakit/internal/models"
	"github.com/soaringjerry/Malasakit/internal/services"
)

const timeLayout = time.RFC3339Nano

// queryTimeout bounds each statement.
const queryTimeout = 5 * time.Second

type SQLiteStore struct {
	db  *sql.DB
	log *zap.Logger
}

var _ api.Store = (*SQLiteStore)(nil)

func NewSQLiteStore(db *sql.DB, log *zap.Logger) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("nil db")
	}
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("apply sqlite pragma %q: %w", stmt, err)
		}
	}
	return &SQLiteStore{db: db, log: logging.OrNop(log).Named("sqlite")}, nil
}

// Open creates the database file if needed, runs migrations and returns a store.
func Open(path, migrationsDir string, log *zap.Logger) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Single connection: writes are serialized.
	db.SetMaxOpenConns(1)
	if err := RunMigrations(db, migrationsDir, log); err != nil {
		_ = db.Close()
		return nil, err
	}
	store, err := NewSQLiteStore(db, log)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) logErr(op string, err error) error {
	if err != nil {
		s.log.Error("sqlite store", zap.String("op", op), zap.Error(err))
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), queryTimeout)
}

func boolToInt64(v bool) int64 {
	if v {
		return 1
	}
	return 0
}

func encodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeJSON(raw string, dst any) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), dst)
}

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(timeLayout, s)
}

func (s *SQLiteStore) ListQuestions() ([]*models.Question, error) {
	c, cancel := ctx()
	defer cancel()
	rows, err := s.db.QueryContext(c, `SELECT id, kind, sort_order, tag, prompt_i18n, left_anchor_i18n, right_anchor_i18n, active
      FROM questions ORDER BY sort_order ASC, id ASC`)
	if err != nil {
		return nil, s.logErr("ListQuestions: query", err)
	}
	defer rows.Close()
	var out []*models.Question
	for rows.Next() {
		var (
			q                   models.Question
			prompt, left, right string
			active              int64
		)
		if err := rows.Scan(&q.ID, &q.Kind, &q.Order, &q.Tag, &prompt, &left, &right, &active); err != nil {
			return nil, s.logErr("ListQuestions: scan", err)
		}
		if err := errors.Join(decodeJSON(prompt, &q.PromptI18n), decodeJSON(left, &q.LeftAnchor), decodeJSON(right, &q.RightAnchor)); err != nil {
			return nil, s.logErr("ListQuestions: decode", err)
		}
		q.Active = active != 0
		out = append(out, &q)
	}
	return out, s.logErr("ListQuestions: rows", rows.Err())
}

func (s *SQLiteStore) UpsertQuestion(q *models.Question) error {
	if q == nil || q.ID <= 0 {
		return errors.New("question id must be positive")
	}
	prompt, err := encodeJSON(orEmpty(q.PromptI18n))
	if err != nil {
		return err
	}
	left, err := encodeJSON(orEmpty(q.LeftAnchor))
	if err != nil {
		return err
	}
	right, err := encodeJSON(orEmpty(q.RightAnchor))
	if err != nil {
		return err
	}
	c, cancel := ctx()
	defer cancel()
	_, err = s.db.ExecContext(c, `INSERT INTO questions (id, kind, sort_order, tag, prompt_i18n, left_anchor_i18n, right_anchor_i18n, active)
      VALUES (?, ?, ?, ?, ?, ?, ?, ?)
      ON CONFLICT(id) DO UPDATE SET kind = excluded.kind, sort_order = excluded.sort_order, tag = excluded.tag,
        prompt_i18n = excluded.prompt_i18n, left_anchor_i18n = excluded.left_anchor_i18n,
        right_anchor_i18n = excluded.right_anchor_i18n, active = excluded.active`,
		q.ID, q.Kind, q.Order, q.Tag, prompt, left, right, boolToInt64(q.Active))
	return s.logErr("UpsertQuestion", err)
}

func orEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func (s *SQLiteStore) ListComments() ([]*models.Comment, error) {
	c, cancel := ctx()
	defer cancel()
	rows, err := s.db.QueryContext(c, `SELECT id, question_id, language, message, tag, created_at FROM comments ORDER BY id ASC`)
	if err != nil {
		return nil, s.logErr("ListComments: query", err)
	}
	defer rows.Close()
	var out []*models.Comment
	for rows.Next() {
		var (
			cm      models.Comment
			created string
		)
		if err := rows.Scan(&cm.ID, &cm.QuestionID, &cm.Language, &cm.Message, &cm.Tag, &created); err != nil {
			return nil, s.logErr("ListComments: scan", err)
		}
		if cm.CreatedAt, err = parseTime(created); err != nil {
			return nil, s.logErr("ListComments: created_at", err)
		}
		out = append(out, &cm)
	}
	return out, s.logErr("ListComments: rows", rows.Err())
}

func (s *SQLiteStore) AddComment(cm *models.Comment) error {
	c, cancel := ctx()
	defer cancel()
	return s.logErr("AddComment", insertComment(c, s.db, cm))
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertComment(c context.Context, db execer, cm *models.Comment) error {
	var id any
	if cm.ID > 0 {
		id = cm.ID
	}
	if cm.CreatedAt.IsZero() {
		cm.CreatedAt = time.Now().UTC()
	}
	res, err := db.ExecContext(c, `INSERT INTO comments (id, question_id, language, message, tag, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, cm.QuestionID, cm.Language, cm.Message, cm.Tag, formatTime(cm.CreatedAt))
	if err != nil {
		return err
	}
	if cm.ID == 0 {
		if cm.ID, err = res.LastInsertId(); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) GetLocations() (*models.LocationData, error) {
	c, cancel := ctx()
	defer cancel()
	var raw string
	err := s.db.QueryRowContext(c, `SELECT payload FROM location_data WHERE id = 1`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.LocationData{}, nil
	}
	if err != nil {
		return nil, s.logErr("GetLocations", err)
	}
	var out models.LocationData
	if err := decodeJSON(raw, &out); err != nil {
		return nil, s.logErr("GetLocations: decode", err)
	}
	return &out, nil
}

func (s *SQLiteStore) SetLocations(d *models.LocationData) error {
	raw, err := encodeJSON(d)
	if err != nil {
		return err
	}
	c, cancel := ctx()
	defer cancel()
	_, err = s.db.ExecContext(c, `INSERT INTO location_data (id, payload) VALUES (1, ?)
      ON CONFLICT(id) DO UPDATE SET payload = excluded.payload`, raw)
	return s.logErr("SetLocations", err)
}

type respondentColumns struct {
	qRatings, cRatings, comments, data string
	submittedAt                        sql.NullString
}

func encodeRespondent(r *services.Respondent) (*respondentColumns, error) {
	var (
		cols respondentColumns
		err  error
	)
	if cols.qRatings, err = encodeJSON(orEmptyHistory(r.QuestionRatings)); err != nil {
		return nil, err
	}
	if cols.cRatings, err = encodeJSON(orEmptyHistory(r.CommentRatings)); err != nil {
		return nil, err
	}
	comments := r.Comments
	if comments == nil {
		comments = map[int64]string{}
	}
	if cols.comments, err = encodeJSON(comments); err != nil {
		return nil, err
	}
	if cols.data, err = encodeJSON(r.Data); err != nil {
		return nil, err
	}
	if r.SubmittedAt != nil {
		cols.submittedAt = sql.NullString{String: formatTime(*r.SubmittedAt), Valid: true}
	}
	return &cols, nil
}

func orEmptyHistory(m map[int64][]int) map[int64][]int {
	if m == nil {
		return map[int64][]int{}
	}
	return m
}

func (s *SQLiteStore) AddRespondent(r *services.Respondent) error {
	cols, err := encodeRespondent(r)
	if err != nil {
		return err
	}
	c, cancel := ctx()
	defer cancel()
	_, err = s.db.ExecContext(c, `INSERT INTO respondents (id, client_id, language, question_ratings, comment_ratings, comments,
        respondent_data, submitted, created_at, last_modified, submitted_at)
      VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ClientID, r.Language, cols.qRatings, cols.cRatings, cols.comments, cols.data,
		boolToInt64(r.Submitted), formatTime(r.CreatedAt), formatTime(r.LastModified), cols.submittedAt)
	return s.logErr("AddRespondent", err)
}

func (s *SQLiteStore) UpdateRespondent(r *services.Respondent) error {
	c, cancel := ctx()
	defer cancel()
	return s.logErr("UpdateRespondent", updateRespondent(c, s.db, r))
}

func updateRespondent(c context.Context, db execer, r *services.Respondent) error {
	cols, err := encodeRespondent(r)
	if err != nil {
		return err
	}
	res, err := db.ExecContext(c, `UPDATE respondents SET language = ?, question_ratings = ?, comment_ratings = ?, comments = ?,
        respondent_data = ?, submitted = ?, last_modified = ?, submitted_at = ?
      WHERE id = ?`,
		r.Language, cols.qRatings, cols.cRatings, cols.comments, cols.data,
		boolToInt64(r.Submitted), formatTime(r.LastModified), cols.submittedAt, r.ID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("respondent %s not found", r.ID)
	}
	return nil
}

// FinalizeRespondent writes the submitted respondent and its comments in one transaction.
func (s *SQLiteStore) FinalizeRespondent(r *services.Respondent, comments []*models.Comment) error {
	c, cancel := ctx()
	defer cancel()
	tx, err := s.db.BeginTx(c, nil)
	if err != nil {
		return s.logErr("FinalizeRespondent: begin", err)
	}
	if err := updateRespondent(c, tx, r); err != nil {
		_ = tx.Rollback()
		return s.logErr("FinalizeRespondent: update", err)
	}
	for _, cm := range comments {
		if err := insertComment(c, tx, cm); err != nil {
			_ = tx.Rollback()
			return s.logErr("FinalizeRespondent: comment", err)
		}
	}
	return s.logErr("FinalizeRespondent: commit", tx.Commit())
}

const respondentSelect = `SELECT id, client_id, language, question_ratings, comment_ratings, comments, respondent_data,
  submitted, created_at, last_modified, submitted_at FROM respondents`

type scanner interface {
	Scan(dest ...any) error
}

func scanRespondent(row scanner) (*services.Respondent, error) {
	var (
		r                                  services.Respondent
		qRatings, cRatings, comments, data string
		submitted                          int64
		created, modified                  string
		submittedAt                        sql.NullString
	)
	if err := row.Scan(&r.ID, &r.ClientID, &r.Language, &qRatings, &cRatings, &comments, &data,
		&submitted, &created, &modified, &submittedAt); err != nil {
		return nil, err
	}
	if err := errors.Join(
		decodeJSON(qRatings, &r.QuestionRatings),
		decodeJSON(cRatings, &r.CommentRatings),
		decodeJSON(comments, &r.Comments),
		decodeJSON(data, &r.Data),
	); err != nil {
		return nil, fmt.Errorf("decode respondent %s: %w", r.ID, err)
	}
	r.Submitted = submitted != 0
	var err error
	if r.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if r.LastModified, err = parseTime(modified); err != nil {
		return nil, err
	}
	if submittedAt.Valid {
		at, err := parseTime(submittedAt.String)
		if err != nil {
			return nil, err
		}
		r.SubmittedAt = &at
	}
	return &r, nil
}

func (s *SQLiteStore) getRespondentWhere(op, where string, arg any) (*services.Respondent, error) {
	c, cancel := ctx()
	defer cancel()
	r, err := scanRespondent(s.db.QueryRowContext(c, respondentSelect+" WHERE "+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, s.logErr(op, err)
	}
	return r, nil
}

func (s *SQLiteStore) GetRespondent(id string) (*services.Respondent, error) {
	return s.getRespondentWhere("GetRespondent", "id = ?", id)
}

func (s *SQLiteStore) GetRespondentByClientID(clientID string) (*services.Respondent, error) {
	return s.getRespondentWhere("GetRespondentByClientID", "client_id = ?", clientID)
}

func (s *SQLiteStore) ListRespondents() ([]*services.Respondent, error) {
	c, cancel := ctx()
	defer cancel()
	rows, err := s.db.QueryContext(c, respondentSelect+" ORDER BY created_at ASC, id ASC")
	if err != nil {
		return nil, s.logErr("ListRespondents: query", err)
	}
	defer rows.Close()
	var out []*services.Respondent
	for rows.Next() {
		r, err := scanRespondent(rows)
		if err != nil {
			return nil, s.logErr("ListRespondents: scan", err)
		}
		out = append(out, r)
	}
	return out, s.logErr("ListRespondents: rows", rows.Err())
}
