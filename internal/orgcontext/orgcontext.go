// Package orgcontext carries the authenticated organization through
// context.Context. Services read it to scope every query.
package orgcontext

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

type ctxKey struct{}

func WithOrgID(ctx context.Context, orgID snowflake.ID) context.Context {
	return context.WithValue(ctx, ctxKey{}, orgID)
}

func OrgIDFromContext(ctx context.Context) (snowflake.ID, bool) {
	orgID, ok := ctx.Value(ctxKey{}).(snowflake.ID)
	return orgID, ok
}
