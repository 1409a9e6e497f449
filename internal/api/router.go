package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/soaringjerry/Malasakit/internal/config"
	"github.com/soaringjerry/Malasakit/internal/logging"
	"github.com/soaringjerry/Malasakit/internal/middleware"
	"github.com/soaringjerry/Malasakit/internal/models"
	"github.com/soaringjerry/Malasakit/internal/services"
	"github.com/soaringjerry/Malasakit/internal/utils"
)

// maxPayloadBytes bounds a respondent payload.
const maxPayloadBytes = 1 << 20

// Options configures the router. Zero values get working defaults.
type Options struct {
	Tokens     *middleware.Tokens
	Limiter    *middleware.IPLimiter
	AdminToken string
	Logger     *zap.Logger
	Commit     string
	BuildTime  string

	// CORSOrigins is a comma separated allow list; empty allows any origin.
	CORSOrigins  string
	StaticMaxAge time.Duration
}

type Router struct {
	store       Store
	respondents *services.RespondentService
	peers       *services.PeerService
	exports     *services.ExportService
	tokens      *middleware.Tokens
	limiter     *middleware.IPLimiter
	adminToken  string
	log         *zap.Logger
	commit      string
	buildTime   string
	corsOrigins string
	staticAge   time.Duration
}

func NewRouter(store Store, opts Options) *Router {
	if opts.Tokens == nil {
		opts.Tokens = middleware.NewTokens(config.DefaultJWTSecret, 0)
	}
	if opts.Limiter == nil {
		opts.Limiter = middleware.NewIPLimiter(0, 0)
	}
	return &Router{
		store:       store,
		respondents: services.NewRespondentService(store),
		peers:       services.NewPeerService(store),
		exports:     services.NewExportService(store),
		tokens:      opts.Tokens,
		limiter:     opts.Limiter,
		adminToken:  opts.AdminToken,
		log:         logging.OrNop(opts.Logger).Named("api"),
		commit:      opts.Commit,
		buildTime:   opts.BuildTime,
		corsOrigins: opts.CORSOrigins,
		staticAge:   opts.StaticMaxAge,
	}
}

func (rt *Router) Register(mux *http.ServeMux) {
	admin := middleware.RequireAdmin(rt.adminToken)

	mux.HandleFunc("GET /health", rt.handleHealth)
	mux.HandleFunc("GET /version", rt.handleVersion)

	mux.Handle("POST /api/respondents", rt.limiter.Middleware(http.HandlerFunc(rt.handleCreate)))
	mux.Handle("PUT /api/respondents/{id}", middleware.RequireRespondent(http.HandlerFunc(rt.handleUpdate)))
	mux.Handle("POST /api/respondents/{id}/submit", middleware.RequireRespondent(http.HandlerFunc(rt.handleSubmit)))

	mux.HandleFunc("GET /api/questions", rt.handleQuestions)
	mux.HandleFunc("GET /api/comments", rt.handleComments)
	mux.HandleFunc("GET /api/location-data", rt.handleLocations)
	mux.HandleFunc("GET /api/peer-responses", rt.handlePeerResponses)

	mux.Handle("GET /api/export", admin(http.HandlerFunc(rt.handleExport)))
	mux.Handle("GET /api/metrics/alpha", admin(http.HandlerFunc(rt.handleAlpha)))
}

// Handler returns a handler serving only the API, with the middleware stack applied.
func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	rt.Register(mux)
	return rt.Wrap(mux)
}

// Wrap applies the middleware stack to h, which should include the routes
// added by Register.
func (rt *Router) Wrap(h http.Handler) http.Handler {
	return middleware.Chain(h,
		middleware.RequestLogger(rt.log),
		middleware.SecureHeaders,
		middleware.CORS(rt.corsOrigins),
		middleware.CachePolicy(rt.staticAge),
		middleware.LocaleMiddleware,
		rt.tokens.WithAuth,
	)
}

func (rt *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	locale := middleware.LocaleFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"status": utils.T(locale, "health.ok")})
}

func (rt *Router) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"commit": rt.commit, "build_time": rt.buildTime})
}

// POST /api/respondents
func (rt *Router) handleCreate(w http.ResponseWriter, r *http.Request) {
	p, ok := rt.decodePayload(w, r)
	if !ok {
		return
	}
	resp, err := rt.respondents.Create(p)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	token, err := rt.tokens.Sign(resp.ID)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	rt.log.Info("respondent registered", zap.String("id", resp.ID), zap.String("client_id", resp.ClientID))
	writeJSON(w, http.StatusOK, resp.Ack(token))
}

// PUT /api/respondents/{id}
func (rt *Router) handleUpdate(w http.ResponseWriter, r *http.Request) {
	p, ok := rt.decodePayload(w, r)
	if !ok {
		return
	}
	resp, err := rt.respondents.Update(r.PathValue("id"), p)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp.Ack(""))
}

// POST /api/respondents/{id}/submit
func (rt *Router) handleSubmit(w http.ResponseWriter, r *http.Request) {
	p, ok := rt.decodePayload(w, r)
	if !ok {
		return
	}
	resp, err := rt.respondents.Submit(r.PathValue("id"), p)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	rt.log.Info("respondent submitted", zap.String("id", resp.ID))
	writeJSON(w, http.StatusOK, resp.Ack(""))
}

// GET /api/questions lists active questions in display order.
func (rt *Router) handleQuestions(w http.ResponseWriter, r *http.Request) {
	qs, err := rt.store.ListQuestions()
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	out := make([]*models.Question, 0, len(qs))
	for _, q := range qs {
		if q.Active {
			out = append(out, q)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (rt *Router) handleComments(w http.ResponseWriter, r *http.Request) {
	cs, err := rt.store.ListComments()
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	if cs == nil {
		cs = []*models.Comment{}
	}
	writeJSON(w, http.StatusOK, cs)
}

func (rt *Router) handleLocations(w http.ResponseWriter, r *http.Request) {
	loc, err := rt.store.GetLocations()
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	if loc.Provinces == nil {
		loc.Provinces = []models.Province{}
	}
	writeJSON(w, http.StatusOK, loc)
}

func (rt *Router) handlePeerResponses(w http.ResponseWriter, r *http.Request) {
	summary, err := rt.peers.Summary()
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// GET /api/export?format=long|wide&include_partial=true
func (rt *Router) handleExport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := services.ExportParams{Format: q.Get("format")}
	if v := q.Get("include_partial"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			rt.writeError(w, r, services.NewInvalidError("include_partial must be a boolean"))
			return
		}
		params.IncludePartial = b
	}
	res, err := rt.exports.Export(params)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", res.ContentType)
	w.Header().Set("Content-Disposition", "attachment; filename="+res.Filename)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Data)
}

func (rt *Router) handleAlpha(w http.ResponseWriter, r *http.Request) {
	alpha, n, err := rt.peers.Alpha()
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alpha": alpha, "n": n})
}

func (rt *Router) decodePayload(w http.ResponseWriter, r *http.Request) (models.RespondentPayload, bool) {
	var p models.RespondentPayload
	r.Body = http.MaxBytesReader(w, r.Body, maxPayloadBytes)
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "payload too large"})
			return p, false
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json: " + err.Error()})
		return p, false
	}
	return p, true
}

func (rt *Router) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if se, ok := services.AsServiceError(err); ok {
		writeJSON(w, statusFor(se.Code), map[string]string{"error": se.Message})
		return
	}
	rt.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

func statusFor(code services.ErrorCode) int {
	switch code {
	case services.ErrorInvalid:
		return http.StatusBadRequest
	case services.ErrorNotFound:
		return http.StatusNotFound
	case services.ErrorConflict:
		return http.StatusConflict
	case services.ErrorUnauthorized:
		return http.StatusUnauthorized
	case services.ErrorTooManyRequests:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
