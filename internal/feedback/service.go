// Package feedback implements the tourist feedback use cases on top of the
// stageflow building blocks.
package feedback

import (
	"context"
	"errors"
	"fmt"

	platform "github.com/jmgilman/go/errors"
	"golang.org/x/sync/errgroup"

	"github.com/vnykmshr/stageflow/pkg/caching/codec"
	"github.com/vnykmshr/stageflow/pkg/caching/flightcache"
	"github.com/vnykmshr/stageflow/pkg/common/clock"
	"github.com/vnykmshr/stageflow/pkg/common/validation"
	"github.com/vnykmshr/stageflow/pkg/logging"
	"github.com/vnykmshr/stageflow/pkg/metrics"
	"github.com/vnykmshr/stageflow/pkg/persistence/store"
	"github.com/vnykmshr/stageflow/pkg/persistence/twophase"
	"github.com/vnykmshr/stageflow/pkg/resilience/gateway"
	"github.com/vnykmshr/stageflow/pkg/result"
	"github.com/vnykmshr/stageflow/pkg/scheduling/pipeline"
	"github.com/vnykmshr/stageflow/pkg/usecase"
)

// Config wires a Service. Auth, Directory, and Records are required; the
// rest default to in-process implementations.
type Config struct {
	Auth      AuthGate
	Directory Directory
	Records   store.Records

	// DirectoryGateway wraps Directory calls.
	DirectoryGateway *gateway.Gateway

	// StoreGateway wraps Records calls.
	StoreGateway *gateway.Gateway

	Sites   *flightcache.Cache[Site]
	Visited *flightcache.Cache[[]VisitedSite]
	Writer  *twophase.Writer

	// MaxParallelLookups bounds GetSites fan-out. Defaults to 8.
	MaxParallelLookups int

	// AllowStale serves cached reads when the upstream is unavailable.
	AllowStale bool

	Clock   clock.Clock
	Logger  logging.Logger
	Metrics *metrics.Registry
}

// Service exposes the feedback use cases.
type Service struct {
	config   Config
	clock    clock.Clock
	dirGW    *gateway.Gateway
	storeGW  *gateway.Gateway
	sites    *flightcache.Cache[Site]
	visited  *flightcache.Cache[[]VisitedSite]
	feedback codec.Codec[Feedback]
	visits   codec.Codec[VisitedSite]

	insert      *usecase.WriteFlow
	viewVisited *usecase.ReadFlow[[]VisitedSite]
	getSite     *usecase.ReadFlow[Site]
}

// NewService builds the use cases.
func NewService(config Config) (*Service, error) {
	if err := validation.ValidateNotNil("feedback", "auth", config.Auth); err != nil {
		return nil, err
	}
	if err := validation.ValidateNotNil("feedback", "directory", config.Directory); err != nil {
		return nil, err
	}
	if err := validation.ValidateNotNil("feedback", "records", config.Records); err != nil {
		return nil, err
	}

	s := &Service{
		config:   config,
		clock:    clock.OrSystem(config.Clock),
		dirGW:    config.DirectoryGateway,
		storeGW:  config.StoreGateway,
		sites:    config.Sites,
		visited:  config.Visited,
		feedback: codec.JSON[Feedback]{},
		visits:   codec.JSON[VisitedSite]{},
	}
	if s.config.MaxParallelLookups <= 0 {
		s.config.MaxParallelLookups = 8
	}
	if s.dirGW == nil {
		s.dirGW = gateway.NewSafe(s.gatewayConfig("directory"))
	}
	if s.storeGW == nil {
		s.storeGW = gateway.NewSafe(s.gatewayConfig("records"))
	}
	var err error
	if s.sites == nil {
		if s.sites, err = flightcache.New(flightcache.Config[Site]{
			Name: "sites", Clock: config.Clock, Logger: config.Logger, Metrics: config.Metrics,
		}); err != nil {
			return nil, err
		}
	}
	if s.visited == nil {
		if s.visited, err = flightcache.New(flightcache.Config[[]VisitedSite]{
			Name: "visited", Clock: config.Clock, Logger: config.Logger, Metrics: config.Metrics,
		}); err != nil {
			return nil, err
		}
	}
	writer := config.Writer
	if writer == nil {
		writer = twophase.New(twophase.Config{Name: "feedback", Logger: config.Logger, Metrics: config.Metrics})
	}
	observer := usecase.Observer{Logger: config.Logger, Metrics: config.Metrics}

	insertStages, err := pipeline.New(s.pipelineConfig("insertFeedback"), s.insertStages()...)
	if err != nil {
		return nil, err
	}
	viewStages, err := pipeline.New(s.pipelineConfig("viewVisitedSites"), s.authStage(), s.touristExistsStage())
	if err != nil {
		return nil, err
	}
	siteStages, err := pipeline.New(s.pipelineConfig("getSite"), s.authStage())
	if err != nil {
		return nil, err
	}

	s.insert = &usecase.WriteFlow{
		Name:     "insertFeedback",
		Pipeline: insertStages,
		Writer:   writer,
		Steps:    s.writeSteps,
		Invalidates: []usecase.Invalidation{{
			Cache: s.visited,
			Key:   func(r *usecase.Request) string { return visitedKey(r.String(KeyTouristID)) },
		}},
		Observer: observer,
	}
	s.viewVisited = &usecase.ReadFlow[[]VisitedSite]{
		Name:       "viewVisitedSites",
		Pipeline:   viewStages,
		Cache:      s.visited,
		Key:        func(r *usecase.Request) string { return visitedKey(r.String(KeyTouristID)) },
		Fetch:      s.fetchVisited,
		AllowStale: config.AllowStale,
		Message: func(v []VisitedSite, stale bool) string {
			msg := fmt.Sprintf("%d visited sites.", len(v))
			if stale {
				msg += " The list may be out of date."
			}
			return msg
		},
		Observer: observer,
	}
	s.getSite = &usecase.ReadFlow[Site]{
		Name:       "getSite",
		Pipeline:   siteStages,
		Cache:      s.sites,
		Gateway:    s.dirGW,
		Key:        func(r *usecase.Request) string { return siteKey(r.String(KeySiteID)) },
		Fetch:      func(ctx context.Context, r *usecase.Request) (Site, error) { return s.config.Directory.Site(ctx, r.String(KeySiteID)) },
		AllowStale: config.AllowStale,
		Observer:   observer,
	}
	return s, nil
}

func (s *Service) gatewayConfig(name string) gateway.Config {
	cfg := gateway.DefaultConfig(name)
	cfg.Clock = s.config.Clock
	cfg.Logger = s.config.Logger
	cfg.Metrics = s.config.Metrics
	return cfg
}

func (s *Service) pipelineConfig(name string) pipeline.Config {
	return pipeline.Config{Name: name, Logger: s.config.Logger, Metrics: s.config.Metrics}
}

// InsertFeedback validates and stores a tourist's feedback, then records the
// site as visited. Stages run in order auth, duplicate, site, data,
// sufficiency; the first failure ends the request with no writes.
func (s *Service) InsertFeedback(ctx context.Context, req *usecase.Request) result.Envelope[twophase.Confirmation] {
	return s.insert.Handle(ctx, req)
}

// CheckEligibility runs the InsertFeedback stages without writing.
func (s *Service) CheckEligibility(ctx context.Context, req *usecase.Request) result.Envelope[Eligibility] {
	v := s.insert.Check(ctx, req)
	if !v.Continue {
		return pipeline.Envelope[Eligibility](v)
	}
	in := InputFrom(req)
	return result.OK(Eligibility{TouristID: in.TouristID, SiteID: in.SiteID}, "Feedback can be submitted.")
}

// ViewVisitedSites lists the sites a tourist has reviewed.
func (s *Service) ViewVisitedSites(ctx context.Context, req *usecase.Request) result.Envelope[[]VisitedSite] {
	return s.viewVisited.Handle(ctx, req)
}

// GetSite returns a site by ID.
func (s *Service) GetSite(ctx context.Context, req *usecase.Request) result.Envelope[Site] {
	return s.getSite.Handle(ctx, req)
}

// GetSites returns several sites, fetching them concurrently. The first
// failing lookup decides the envelope.
func (s *Service) GetSites(ctx context.Context, actor string, ids []string) result.Envelope[[]Site] {
	out := make([]Site, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.MaxParallelLookups)

	for i, id := range ids {
		g.Go(func() error {
			env := s.getSite.Handle(gctx, usecase.NewRequest(actor, map[string]any{KeySiteID: id}))
			if !env.Success {
				return env.Err()
			}
			out[i] = *env.Payload
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result.FromError[[]Site](err)
	}
	return result.OK(out, fmt.Sprintf("%d sites.", len(out)))
}

// Caches returns the caches owned by the service, for sweeping.
func (s *Service) Caches() []flightcache.Sweeper {
	return []flightcache.Sweeper{s.sites, s.visited}
}

func (s *Service) fetchVisited(ctx context.Context, req *usecase.Request) ([]VisitedSite, error) {
	touristID := req.String(KeyTouristID)
	recs, err := gateway.Call(ctx, s.storeGW, "listVisited", func(ctx context.Context) ([]store.Record, error) {
		recs, err := s.config.Records.List(ctx, visitedCollection(touristID))
		return recs, storeError(err)
	})
	if err != nil {
		return nil, err
	}
	out := make([]VisitedSite, 0, len(recs))
	for _, rec := range recs {
		v, err := s.visits.Decode(rec.Data)
		if err != nil {
			return nil, result.NewError(result.Internal(), "stored visit could not be read", err)
		}
		out = append(out, v)
	}
	return out, nil
}

// storeError marks store failures as retryable database errors so the
// gateway retries them. A missing record is not an error for callers that
// check existence.
func storeError(err error) error {
	if err == nil || errors.Is(err, store.ErrNotFound) {
		return err
	}
	return platform.Wrap(err, platform.CodeDatabase, "record store unavailable")
}
