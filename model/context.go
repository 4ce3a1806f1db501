package model

import (
	"context"
	"errors"
)

// RequestContext is the caller identity every engine operation receives
// explicitly. The transport layer builds it from verified token claims;
// nothing downstream reads session state from anywhere else. Treat it as
// read-only once built.
type RequestContext struct {
	AccessID   string
	TeamNo     int
	OutlineID  string // outline bound to the session, if any
	ActorToken string // recorded on every row the team writes
	SubjectID  string
	Roles      []string
	Claims     map[string]any

	CorrelationID string
	TraceID       string
	SpanID        string
}

var (
	errNoAccessID   = errors.New("AccessID is required")
	errBadTeamNo    = errors.New("TeamNo must be positive")
	errNoActorToken = errors.New("ActorToken is required")
)

func (rc *RequestContext) Validate() error {
	var errs []error
	if rc.AccessID == "" {
		errs = append(errs, errNoAccessID)
	}
	if rc.TeamNo <= 0 {
		errs = append(errs, errBadTeamNo)
	}
	if rc.ActorToken == "" {
		errs = append(errs, errNoActorToken)
	}
	return errors.Join(errs...)
}

func (rc *RequestContext) Team() Team {
	return Team{AccessID: rc.AccessID, TeamNo: rc.TeamNo}
}

// Scope addresses outlineID for the caller's team, defaulting to the
// session's bound outline.
func (rc *RequestContext) Scope(outlineID string) TeamScope {
	if outlineID == "" {
		outlineID = rc.OutlineID
	}
	return TeamScope{Team: rc.Team(), OutlineID: outlineID}
}

type requestContextKey struct{}

func WithRequestContext(ctx context.Context, rctx *RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey{}, rctx)
}

// RequestContextFrom returns nil when ctx carries none.
func RequestContextFrom(ctx context.Context) *RequestContext {
	rctx, _ := ctx.Value(requestContextKey{}).(*RequestContext)
	return rctx
}
