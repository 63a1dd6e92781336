package feedback

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/vnykmshr/stageflow/pkg/usecase"
)

// Feedback limits.
const (
	MinRating        = 1
	MaxRating        = 5
	MaxCommentLength = 160
)

// Request keys understood by the feedback use cases.
const (
	KeyTouristID = "tourist_id"
	KeySiteID    = "site_id"
	KeyRating    = "rating"
	KeyComment   = "comment"
)

// Tourist is a registered visitor.
type Tourist struct {
	ID   string `json:"id" msgpack:"id"`
	Name string `json:"name" msgpack:"name"`
}

// Site is a cultural site a tourist can visit and review.
type Site struct {
	ID          string `json:"id" msgpack:"id"`
	Name        string `json:"name" msgpack:"name"`
	City        string `json:"city,omitempty" msgpack:"city"`
	Description string `json:"description,omitempty" msgpack:"description"`
}

// Feedback is a tourist's review of a site.
type Feedback struct {
	ID        string    `json:"id"`
	TouristID string    `json:"tourist_id"`
	SiteID    string    `json:"site_id"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment"`
	CreatedAt time.Time `json:"created_at"`
}

// VisitedSite records that a tourist reviewed a site.
type VisitedSite struct {
	SiteID    string    `json:"site_id" msgpack:"site_id"`
	VisitedAt time.Time `json:"visited_at" msgpack:"visited_at"`
}

// Eligibility is the payload of CheckEligibility.
type Eligibility struct {
	TouristID string `json:"tourist_id"`
	SiteID    string `json:"site_id"`
}

// Input is the typed form of an InsertFeedback request.
type Input struct {
	TouristID string
	SiteID    string
	Rating    int
	HasRating bool
	Comment   string
}

// NewInsertRequest builds an InsertFeedback request for actor.
func NewInsertRequest(actor string, in Input) *usecase.Request {
	return usecase.NewRequest(actor, in.Values())
}

// Values renders in as request values. The rating is omitted when absent.
func (in Input) Values() map[string]any {
	values := map[string]any{
		KeyTouristID: in.TouristID,
		KeySiteID:    in.SiteID,
		KeyComment:   in.Comment,
	}
	if in.HasRating {
		values[KeyRating] = in.Rating
	}
	return values
}

// InputFrom reads the feedback fields of req.
func InputFrom(req *usecase.Request) Input {
	rating, ok := req.Int(KeyRating)
	return Input{
		TouristID: req.String(KeyTouristID),
		SiteID:    req.String(KeySiteID),
		Rating:    rating,
		HasRating: ok,
		Comment:   req.String(KeyComment),
	}
}

// ValidRating reports whether the rating is present and within bounds.
func (in Input) ValidRating() bool {
	return in.HasRating && in.Rating >= MinRating && in.Rating <= MaxRating
}

// ValidComment reports whether the comment fits the length limit.
func (in Input) ValidComment() bool {
	return utf8.RuneCountInString(in.Comment) <= MaxCommentLength
}

// Sufficient reports whether the comment says anything.
func (in Input) Sufficient() bool {
	return strings.TrimSpace(in.Comment) != ""
}

// feedbackCollection holds one tourist's feedback keyed by site ID, so
// tourist and site IDs never share a key.
func feedbackCollection(touristID string) string {
	return "feedback:" + touristID
}

func visitedCollection(touristID string) string {
	return "visited:" + touristID
}

func visitedKey(touristID string) string {
	return "visited:" + touristID
}

func siteKey(siteID string) string {
	return "site:" + siteID
}
