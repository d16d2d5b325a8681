package message

import (
	"time"

	"github.com/4xmen/payveil/internal/models"
)

// Reasons recorded when a message disappears.
const (
	ReasonSelfDestruct = "self-destruct timer expired"
	ReasonViewLimit    = "view limit reached"
	ReasonTimed        = "timed deletion"
	ReasonDeleted      = "deleted by owner"
)

// ViewState is the subset of a message the disappearance rules read.
type ViewState struct {
	ViewCount          int
	MaxViews           *int
	FirstViewedAt      *time.Time
	DeleteAfterMinutes *int
	DeleteAt           *time.Time
}

// Decision is the outcome of one content-view evaluation.
type Decision struct {
	Allowed bool
	Reason  string
	// FirstView is set when an allowed view is the first one and must stamp
	// first_viewed_at.
	FirstView bool
	// ViewsRemaining is computed after the view is counted; nil when the
	// message has no view cap.
	ViewsRemaining *int
}

func StateOf(m *models.Message) ViewState {
	return ViewState{
		ViewCount:          m.ViewCount,
		MaxViews:           m.MaxViews,
		FirstViewedAt:      m.FirstViewedAt,
		DeleteAfterMinutes: m.DeleteAfterMinutes,
		DeleteAt:           m.DeleteAt,
	}
}

// Evaluate applies the disappearance rules in order; the first rule that
// fires denies access.
func Evaluate(s ViewState, now time.Time) Decision {
	if selfDestructed(s, now) {
		return denied(s, ReasonSelfDestruct)
	}
	if s.MaxViews != nil && s.ViewCount >= *s.MaxViews {
		return denied(s, ReasonViewLimit)
	}
	if timedOut(s, now) {
		return denied(s, ReasonTimed)
	}

	d := Decision{Allowed: true, FirstView: s.FirstViewedAt == nil}
	if s.MaxViews != nil {
		d.ViewsRemaining = remaining(*s.MaxViews - (s.ViewCount + 1))
	}
	return d
}

// TimeExpired reports whether a clock-based rule already denies access,
// without consuming a view. File downloads use it after content was granted.
func TimeExpired(s ViewState, now time.Time) (string, bool) {
	if selfDestructed(s, now) {
		return ReasonSelfDestruct, true
	}
	if timedOut(s, now) {
		return ReasonTimed, true
	}
	return "", false
}

func selfDestructed(s ViewState, now time.Time) bool {
	return s.DeleteAt != nil && !now.Before(*s.DeleteAt)
}

func timedOut(s ViewState, now time.Time) bool {
	if s.DeleteAfterMinutes == nil || s.FirstViewedAt == nil {
		return false
	}
	deadline := s.FirstViewedAt.Add(time.Duration(*s.DeleteAfterMinutes) * time.Minute)
	return !now.Before(deadline)
}

func denied(s ViewState, reason string) Decision {
	d := Decision{Reason: reason}
	if s.MaxViews != nil {
		d.ViewsRemaining = remaining(*s.MaxViews - s.ViewCount)
	}
	return d
}

func remaining(n int) *int {
	if n < 0 {
		n = 0
	}
	return &n
}
