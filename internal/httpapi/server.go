// Package httpapi exposes the feedback use cases over HTTP.
//
// Every use case response is a JSON envelope:
//
//	{"success": false, "error_kind": {"kind": "VALIDATION_FAILED", "stage": "duplicate"},
//	 "message": "You have already left feedback for this site."}
//
// The caller identifies itself with the X-Actor header. X-Correlation-ID is
// echoed back and generated when absent.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vnykmshr/stageflow/internal/feedback"
	"github.com/vnykmshr/stageflow/pkg/logging"
	"github.com/vnykmshr/stageflow/pkg/persistence/twophase"
	"github.com/vnykmshr/stageflow/pkg/result"
	"github.com/vnykmshr/stageflow/pkg/usecase"
)

// Headers read and written by the server.
const (
	HeaderActor         = "X-Actor"
	HeaderCorrelationID = "X-Correlation-ID"
)

// Feedback is the use case surface served over HTTP. *feedback.Service
// implements it.
type Feedback interface {
	InsertFeedback(ctx context.Context, req *usecase.Request) result.Envelope[twophase.Confirmation]
	CheckEligibility(ctx context.Context, req *usecase.Request) result.Envelope[feedback.Eligibility]
	ViewVisitedSites(ctx context.Context, req *usecase.Request) result.Envelope[[]feedback.VisitedSite]
	GetSite(ctx context.Context, req *usecase.Request) result.Envelope[feedback.Site]
	GetSites(ctx context.Context, actor string, ids []string) result.Envelope[[]feedback.Site]
}

// Config configures a Server.
type Config struct {
	// RequestTimeout bounds each use case call. Zero means no bound beyond
	// the client connection.
	RequestTimeout time.Duration

	// RetryAfter is advertised when the upstream is unavailable.
	RetryAfter time.Duration

	Logger logging.Logger
}

// Server routes HTTP requests to the feedback use cases.
type Server struct {
	feedback Feedback
	config   Config
	render   Renderer
	log      logging.Logger
}

// NewServer creates a Server.
func NewServer(fb Feedback, config Config) *Server {
	return &Server{
		feedback: fb,
		config:   config,
		log:      logging.OrNop(config.Logger),
		render: Renderer{
			StageStatus: map[string]int{
				"auth":      http.StatusUnauthorized,
				"duplicate": http.StatusConflict,
			},
			RetryAfter: config.RetryAfter,
			Logger:     config.Logger,
		},
	}
}

// RegisterRoutes sets up the HTTP routes on mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/feedback", s.handle(s.insertFeedback))
	mux.HandleFunc("POST /v1/feedback/eligibility", s.handle(s.checkEligibility))
	mux.HandleFunc("GET /v1/tourists/{id}/visited", s.handle(s.viewVisited))
	mux.HandleFunc("GET /v1/sites/{id}", s.handle(s.getSite))
	mux.HandleFunc("GET /v1/sites", s.handle(s.getSites))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, s.log)
	})
}

// Handler returns a mux with every route registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

// call carries what every handler needs about the incoming request.
type call struct {
	ctx           context.Context
	actor         string
	correlationID string
}

func (c call) request(values map[string]any) *usecase.Request {
	return usecase.NewRequestWithID(c.correlationID, c.actor, values)
}

type handlerFunc func(w http.ResponseWriter, r *http.Request, c call)

// handle applies the request timeout, correlation ID, panic recovery, and
// access logging.
func (s *Server) handle(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := r.Header.Get(HeaderCorrelationID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderCorrelationID, id)

		ctx := r.Context()
		if s.config.RequestTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.config.RequestTimeout)
			defer cancel()
		}

		defer func() {
			if p := recover(); p != nil {
				s.log.Error("handler panicked", logging.Fields{"correlation_id": id, "panic": p})
				Render(s.render, w, result.Fail[struct{}](result.Internal(), ""))
			}
		}()

		h(w, r, call{ctx: ctx, actor: r.Header.Get(HeaderActor), correlationID: id})

		s.log.Debug("request served", logging.Fields{
			"correlation_id": id,
			"method":         r.Method,
			"path":           r.URL.Path,
			"duration_ms":    time.Since(start).Milliseconds(),
		})
	}
}

// feedbackBody is the JSON body of the feedback endpoints. Rating is a
// pointer so a missing rating is told apart from zero.
type feedbackBody struct {
	TouristID string `json:"tourist_id"`
	SiteID    string `json:"site_id"`
	Rating    *int   `json:"rating"`
	Comment   string `json:"comment"`
}

func (b feedbackBody) input() feedback.Input {
	in := feedback.Input{TouristID: b.TouristID, SiteID: b.SiteID, Comment: b.Comment}
	if b.Rating != nil {
		in.Rating, in.HasRating = *b.Rating, true
	}
	return in
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request) (feedback.Input, bool) {
	var body feedbackBody
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		Render(s.render, w, result.Fail[struct{}](result.ValidationFailed("data"), "Request body is not valid feedback JSON."))
		return feedback.Input{}, false
	}
	return body.input(), true
}

func (s *Server) insertFeedback(w http.ResponseWriter, r *http.Request, c call) {
	in, ok := s.decode(w, r)
	if !ok {
		return
	}
	env := s.feedback.InsertFeedback(c.ctx, c.request(in.Values()))
	if env.Success {
		s.log.Info("feedback stored", logging.Fields{"correlation_id": c.correlationID, "tourist_id": in.TouristID, "site_id": in.SiteID})
	}
	Render(s.render, w, env)
}

func (s *Server) checkEligibility(w http.ResponseWriter, r *http.Request, c call) {
	in, ok := s.decode(w, r)
	if !ok {
		return
	}
	Render(s.render, w, s.feedback.CheckEligibility(c.ctx, c.request(in.Values())))
}

func (s *Server) viewVisited(w http.ResponseWriter, r *http.Request, c call) {
	req := c.request(map[string]any{feedback.KeyTouristID: r.PathValue("id")})
	Render(s.render, w, s.feedback.ViewVisitedSites(c.ctx, req))
}

func (s *Server) getSite(w http.ResponseWriter, r *http.Request, c call) {
	req := c.request(map[string]any{feedback.KeySiteID: r.PathValue("id")})
	Render(s.render, w, s.feedback.GetSite(c.ctx, req))
}

func (s *Server) getSites(w http.ResponseWriter, r *http.Request, c call) {
	var ids []string
	for _, id := range strings.Split(r.URL.Query().Get("ids"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		Render(s.render, w, result.Fail[[]feedback.Site](result.ValidationFailed("data"), "Query parameter ids is required."))
		return
	}
	Render(s.render, w, s.feedback.GetSites(c.ctx, c.actor, ids))
}
