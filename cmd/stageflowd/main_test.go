package main

import (
	"context"
	"testing"

	"github.com/vnykmshr/stageflow/internal/config"
	"github.com/vnykmshr/stageflow/internal/feedback"
	"github.com/vnykmshr/stageflow/internal/testutil"
	"github.com/vnykmshr/stageflow/pkg/usecase"
)

func TestBuildServiceFromDefaults(t *testing.T) {
	cfg := config.Default()
	cfg.Cache.Provider = "ristretto"
	cfg.Cache.Codec = "cbor"
	cfg.Feedback.Tourists = []feedback.Tourist{{ID: "T1", Name: "Ada"}}
	cfg.Feedback.Sites = []feedback.Site{{ID: "S1", Name: "Colosseum"}}

	svc, cleanup, err := buildService(context.Background(), cfg, config.Deps{})
	testutil.AssertNoError(t, err)
	defer cleanup()

	testutil.AssertEqual(t, len(svc.Caches()), 2)

	env := svc.InsertFeedback(context.Background(), feedback.NewInsertRequest("T1", feedback.Input{
		TouristID: "T1", SiteID: "S1", Rating: 4, HasRating: true, Comment: "Worth the queue",
	}))
	testutil.AssertEqual(t, env.Success, true)

	site := svc.GetSite(context.Background(), usecase.NewRequest("T1", map[string]any{feedback.KeySiteID: "S1"}))
	testutil.AssertEqual(t, site.Payload.Name, "Colosseum")
}

func TestBuildServiceRejectsUnknownProvider(t *testing.T) {
	cfg := config.Default()
	cfg.Cache.Provider = "memcached"
	_, _, err := buildService(context.Background(), cfg, config.Deps{})
	testutil.AssertError(t, err)
}
