package feedback

import (
	"context"

	"github.com/google/uuid"

	"github.com/vnykmshr/stageflow/pkg/persistence/store"
	"github.com/vnykmshr/stageflow/pkg/persistence/twophase"
	"github.com/vnykmshr/stageflow/pkg/resilience/gateway"
	"github.com/vnykmshr/stageflow/pkg/usecase"
)

// writeSteps builds saveFeedback and addVisitedSite for a validated request.
func (s *Service) writeSteps(_ context.Context, req *usecase.Request) (twophase.Step, twophase.Step, error) {
	in := InputFrom(req)
	now := s.clock.Now().UTC()

	fb, err := s.feedback.Encode(Feedback{
		ID:        uuid.NewString(),
		TouristID: in.TouristID,
		SiteID:    in.SiteID,
		Rating:    in.Rating,
		Comment:   in.Comment,
		CreatedAt: now,
	})
	if err != nil {
		return twophase.Step{}, twophase.Step{}, err
	}
	visit, err := s.visits.Encode(VisitedSite{SiteID: in.SiteID, VisitedAt: now})
	if err != nil {
		return twophase.Step{}, twophase.Step{}, err
	}

	save := s.putStep("saveFeedback", store.Record{
		Collection: feedbackCollection(in.TouristID),
		ID:         in.SiteID,
		Data:       fb,
	})
	addVisited := s.putStep("addVisitedSite", store.Record{
		Collection: visitedCollection(in.TouristID),
		ID:         in.SiteID,
		Data:       visit,
	})
	return save, addVisited, nil
}

// putStep writes rec through the store gateway. A record that already
// exists is reported as AlreadyApplied; compensation deletes it.
func (s *Service) putStep(name string, rec store.Record) twophase.Step {
	return twophase.Step{
		Name: name,
		Apply: func(ctx context.Context) (twophase.WriteResult, error) {
			created, err := gateway.Call(ctx, s.storeGW, name, func(ctx context.Context) (bool, error) {
				created, err := s.config.Records.Put(ctx, rec)
				return created, storeError(err)
			})
			if err != nil {
				return twophase.WriteResult{}, err
			}
			return twophase.WriteResult{Record: rec.Collection + "/" + rec.ID, AlreadyApplied: !created}, nil
		},
		Compensate: func(ctx context.Context) error {
			_, err := gateway.Call(ctx, s.storeGW, name+".undo", func(ctx context.Context) (struct{}, error) {
				return struct{}{}, storeError(s.config.Records.Delete(ctx, rec.Collection, rec.ID))
			})
			return err
		},
	}
}
