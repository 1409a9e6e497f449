package syncclient

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"github.com/soaringjerry/Malasakit/internal/logging"
	"github.com/soaringjerry/Malasakit/internal/models"
	"github.com/soaringjerry/Malasakit/internal/record"
)

// RecordStore persists sync bookkeeping; *localstore.Store satisfies it.
type RecordStore interface {
	Put(r *record.Record) error
}

// Client drives the per-record sync state machine:
//
//	local-only -> registered -> syncing -> registered
//	registered -> finalized (explicit submission)
//
// A failed push reports sync-failed, but the persisted state stays where it was
// and the unsynced delta stays in the record until a later attempt succeeds.
type Client struct {
	api   API
	store RecordStore
	log   *zap.Logger
	now   func() time.Time
}

// New returns a Client pushing through api and persisting through store.
func New(api API, store RecordStore, log *zap.Logger) *Client {
	return &Client{
		api:   api,
		store: store,
		log:   logging.OrNop(log).Named("sync"),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Payload converts r to its wire form.
func Payload(r *record.Record) models.RespondentPayload {
	p := models.RespondentPayload{
		ClientID:        r.ID,
		Language:        r.Language,
		QuestionRatings: scores(r.QuestionRatings),
		CommentRatings:  scores(r.CommentRatings),
		Comments:        make(map[int64]string, len(r.Comments)),
		RespondentData: models.RespondentData{
			Age:                r.RespondentData.Age,
			Gender:             r.RespondentData.Gender,
			Province:           r.RespondentData.Province,
			CityOrMunicipality: r.RespondentData.CityOrMunicipality,
			Barangay:           r.RespondentData.Barangay,
		},
		Submitted:    r.Submitted,
		LastModified: r.LastModified,
	}
	for k, v := range r.Comments {
		p.Comments[k] = v
	}
	return p
}

func scores(in map[int64][]record.Score) map[int64][]int {
	out := make(map[int64][]int, len(in))
	for k, h := range in {
		vals := make([]int, len(h))
		for i, s := range h {
			vals[i] = int(s)
		}
		out[k] = vals
	}
	return out
}

// Digest is the blake2b-256 of the payload's JSON encoding. encoding/json sorts
// map keys, so equal payloads hash equally.
func Digest(p models.RespondentPayload) (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	sum := blake2b.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// Sync pushes r when it has changed since the last acknowledged push. Submitted
// records that are not finalized yet are finalized. The returned state is the
// outcome of this call: sync-failed when the push failed, in which case the
// error is a *record.NetworkError or *StatusError.
func (c *Client) Sync(ctx context.Context, r *record.Record) (record.SyncState, error) {
	if r.Sync.State == record.Finalized {
		return record.Finalized, nil
	}
	if r.Submitted {
		return c.finalize(ctx, r)
	}

	p := Payload(r)
	digest, err := Digest(p)
	if err != nil {
		return r.Sync.State, err
	}
	if r.RespondentID != "" && digest == r.Sync.Digest {
		return r.Sync.State, nil
	}

	r.Sync.State = record.Syncing
	r.Sync.LastAttempt = c.now()

	if err := c.push(ctx, r, p); err != nil {
		return c.failed(r, err)
	}
	r.Sync.State = record.Registered
	c.succeeded(r, digest)
	if err := c.store.Put(r); err != nil {
		return r.Sync.State, fmt.Errorf("persist sync state: %w", err)
	}
	c.log.Debug("record synced", zap.String("id", r.ID), zap.String("respondent_id", r.RespondentID))
	return record.Registered, nil
}

// Submit marks r submitted, persists it locally and then tries to finalize it on
// the server. The local write happens before any network activity; when the
// server is unreachable the finalize is left for a later Sync.
func (c *Client) Submit(ctx context.Context, r *record.Record) (record.SyncState, error) {
	if r.Sync.State == record.Finalized {
		return record.Finalized, nil
	}
	if !r.Submitted {
		// r only changes once the submitted copy is on disk.
		sub := r.Clone()
		if err := sub.MarkSubmitted(); err != nil {
			return r.Sync.State, err
		}
		if err := c.store.Put(sub); err != nil {
			return r.Sync.State, fmt.Errorf("persist submission: %w", err)
		}
		*r = *sub
		c.log.Info("response submitted locally", zap.String("id", r.ID))
	}
	return c.finalize(ctx, r)
}

// SyncPending makes one attempt for every record that is not finalized and
// returns how many were brought up to date. Individual failures are logged and
// joined into the returned error.
func (c *Client) SyncPending(ctx context.Context, records []*record.Record) (int, error) {
	var (
		done int
		errs []error
	)
	for _, r := range records {
		if r.Sync.State == record.Finalized {
			continue
		}
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		state, err := c.Sync(ctx, r)
		if err != nil {
			c.log.Warn("pending record not synced", zap.String("id", r.ID), zap.String("state", string(state)), zap.Error(err))
			errs = append(errs, fmt.Errorf("record %s: %w", r.ID, err))
			continue
		}
		done++
	}
	return done, errors.Join(errs...)
}

func (c *Client) finalize(ctx context.Context, r *record.Record) (record.SyncState, error) {
	p := Payload(r)
	digest, err := Digest(p)
	if err != nil {
		return r.Sync.State, err
	}
	r.Sync.State = record.Syncing
	r.Sync.LastAttempt = c.now()

	if r.RespondentID == "" {
		if err := c.register(ctx, r, p); err != nil {
			return c.failed(r, err)
		}
	}
	ack, err := c.api.SubmitRespondent(ctx, r.RespondentID, r.Sync.Token, p)
	if IsStatus(err, http.StatusUnauthorized) || IsStatus(err, http.StatusNotFound) {
		c.log.Info("re-registering record before submit", zap.String("id", r.ID), zap.Error(err))
		if err = c.register(ctx, r, p); err == nil {
			ack, err = c.api.SubmitRespondent(ctx, r.RespondentID, r.Sync.Token, p)
		}
	}
	if err != nil {
		return c.failed(r, err)
	}
	if !ack.Submitted {
		return c.failed(r, fmt.Errorf("submit respondent %s: server did not finalize", r.RespondentID))
	}

	r.Sync.State = record.Finalized
	c.succeeded(r, digest)
	if err := c.store.Put(r); err != nil {
		return r.Sync.State, fmt.Errorf("persist sync state: %w", err)
	}
	c.log.Info("response finalized", zap.String("id", r.ID), zap.String("respondent_id", r.RespondentID))
	return record.Finalized, nil
}

// push sends p as a create when r is not registered yet, otherwise as an update.
// A rejected token is recovered by re-registering: create is idempotent on
// client-id and hands out a fresh token.
func (c *Client) push(ctx context.Context, r *record.Record, p models.RespondentPayload) error {
	if r.RespondentID == "" {
		return c.register(ctx, r, p)
	}
	_, err := c.api.UpdateRespondent(ctx, r.RespondentID, r.Sync.Token, p)
	if IsStatus(err, http.StatusUnauthorized) || IsStatus(err, http.StatusNotFound) {
		c.log.Info("re-registering record", zap.String("id", r.ID), zap.Error(err))
		return c.register(ctx, r, p)
	}
	return err
}

func (c *Client) register(ctx context.Context, r *record.Record, p models.RespondentPayload) error {
	ack, err := c.api.CreateRespondent(ctx, p)
	if err != nil {
		return err
	}
	if ack.RespondentID == "" {
		return fmt.Errorf("create respondent: empty respondent id")
	}
	r.RespondentID = ack.RespondentID
	r.Sync.Token = ack.Token
	return nil
}

func (c *Client) succeeded(r *record.Record, digest string) {
	r.Sync.Digest = digest
	r.Sync.Failures = 0
	r.Sync.LastError = ""
	r.Sync.LastSynced = c.now()
}

// failed puts r back to registered (or local-only when it never got a
// respondent id), records the failure and persists it.
func (c *Client) failed(r *record.Record, cause error) (record.SyncState, error) {
	r.Sync.State = record.LocalOnly
	if r.RespondentID != "" {
		r.Sync.State = record.Registered
	}
	r.Sync.Failures++
	r.Sync.LastError = cause.Error()
	if errors.Is(cause, record.ErrNetwork) {
		c.log.Warn("sync deferred", zap.String("id", r.ID), zap.Int("failures", r.Sync.Failures), zap.Error(cause))
	} else {
		c.log.Error("sync rejected", zap.String("id", r.ID), zap.Int("failures", r.Sync.Failures), zap.Error(cause))
	}
	if err := c.store.Put(r); err != nil {
		return record.SyncFailed, errors.Join(cause, fmt.Errorf("persist sync state: %w", err))
	}
	return record.SyncFailed, cause
}
