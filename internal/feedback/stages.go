package feedback

import (
	"context"
	"errors"

	"github.com/vnykmshr/stageflow/pkg/persistence/store"
	"github.com/vnykmshr/stageflow/pkg/resilience/gateway"
	"github.com/vnykmshr/stageflow/pkg/result"
	"github.com/vnykmshr/stageflow/pkg/scheduling/pipeline"
	"github.com/vnykmshr/stageflow/pkg/usecase"
)

type stage = pipeline.Stage[*usecase.Request]

// insertStages runs auth, duplicate, site, data and sufficiency in that
// order. The site stage and the tourist stage of the read use cases
// report NOT_FOUND instead of VALIDATION_FAILED, so an unknown site maps
// to 404 rather than 400.
func (s *Service) insertStages() []stage {
	return []stage{
		s.authStage(),
		{
			Order:   20,
			Name:    "duplicate",
			Message: "You have already left feedback for this site.",
			Check: func(ctx context.Context, req *usecase.Request) (bool, error) {
				in := InputFrom(req)
				exists, err := s.feedbackExists(ctx, in.TouristID, in.SiteID)
				return !exists, err
			},
		},
		{
			Order:   25,
			Name:    "site",
			Kind:    result.KindNotFound,
			Message: "The site does not exist.",
			Check: func(ctx context.Context, req *usecase.Request) (bool, error) {
				return s.siteExists(ctx, InputFrom(req).SiteID)
			},
		},
		{
			Order:   30,
			Name:    "data",
			Message: "Rating must be between 1 and 5 and the comment at most 160 characters.",
			Check: func(_ context.Context, req *usecase.Request) (bool, error) {
				in := InputFrom(req)
				return in.TouristID != "" && in.SiteID != "" && in.ValidRating() && in.ValidComment(), nil
			},
		},
		{
			Order:   40,
			Name:    "sufficiency",
			Message: "Please write a comment about your visit.",
			Check: func(_ context.Context, req *usecase.Request) (bool, error) {
				return InputFrom(req).Sufficient(), nil
			},
		},
	}
}

func (s *Service) authStage() stage {
	return stage{
		Order:   10,
		Name:    "auth",
		Message: "You must be logged in to continue.",
		Check: func(ctx context.Context, req *usecase.Request) (bool, error) {
			return req.Actor() != "" && s.config.Auth.IsAuthorized(ctx, req.Actor()), nil
		},
	}
}

func (s *Service) touristExistsStage() stage {
	return stage{
		Order:   20,
		Name:    "tourist",
		Kind:    result.KindNotFound,
		Message: "The tourist does not exist.",
		Check: func(ctx context.Context, req *usecase.Request) (bool, error) {
			id := req.String(KeyTouristID)
			_, err := gateway.Call(ctx, s.dirGW, "tourist", func(ctx context.Context) (Tourist, error) {
				return s.config.Directory.Tourist(ctx, id)
			})
			return existence(err)
		},
	}
}

func (s *Service) feedbackExists(ctx context.Context, touristID, siteID string) (bool, error) {
	return gateway.Call(ctx, s.storeGW, "getFeedback", func(ctx context.Context) (bool, error) {
		_, err := s.config.Records.Get(ctx, feedbackCollection(touristID), siteID)
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, storeError(err)
		}
		return true, nil
	})
}

// siteExists goes through the site cache, so a valid site is loaded once
// for both validation and later reads.
func (s *Service) siteExists(ctx context.Context, siteID string) (bool, error) {
	if siteID == "" {
		return false, nil
	}
	_, err := s.sites.GetOrLoad(ctx, siteKey(siteID), func(ctx context.Context) (Site, error) {
		return gateway.Call(ctx, s.dirGW, "getSite", func(ctx context.Context) (Site, error) {
			return s.config.Directory.Site(ctx, siteID)
		})
	})
	return existence(err)
}

// existence turns a NOT_FOUND failure into a failed check and passes any
// other error through for the pipeline to classify.
func existence(err error) (bool, error) {
	if err == nil {
		return true, nil
	}
	if kind, _ := result.Classify(err); kind.Kind == result.KindNotFound {
		return false, nil
	}
	return false, err
}
