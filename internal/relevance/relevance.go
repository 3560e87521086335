// Package relevance implements the per-client delivery predicate: given a
// client and a notification, should this client receive it? It is named
// "relevance" rather than "router" to avoid colliding with the HTTP router
// in internal/api.
package relevance

import (
	"context"
	"strings"

	"github.com/hermesrelay/hermes/internal/identity"
	"github.com/hermesrelay/hermes/internal/models"
)

// GroupFetcher resolves the groups a given ADO identity belongs to. Satisfied
// by *identity.Identity; defined here as a narrow interface so tests can
// substitute a fake without spinning up an HTTP server.
type GroupFetcher interface {
	Groups(ctx context.Context, identityID string) identity.Groups
}

// IsRelevant decides whether client should receive notification n. It never
// errors: identity lookups that fail surface as "no groups" and the
// relevant branch simply returns false.
//
// Order of evaluation matches the steps in the routing contract exactly —
// later steps (in particular the group lookup, which may block on an ADO
// round trip) are skipped once an earlier step has already decided the
// outcome.
func IsRelevant(ctx context.Context, client models.Client, n models.Notification, groups GroupFetcher) bool {
	if !client.Subscribes(n.EventType) {
		return false
	}

	if n.EventType == models.EventManual {
		return true
	}

	if n.ActorID != "" && n.ActorID == client.ADOUserID && !n.Mentions.HasUserID(client.ADOUserID) {
		return false
	}

	if n.Mentions.Empty() {
		return true
	}

	if n.Mentions.HasUserID(client.ADOUserID) {
		return true
	}

	if len(n.Mentions.Names) == 0 {
		return false
	}

	clientGroups := groups.Groups(ctx, client.ADOUserID)
	for _, have := range clientGroups.Names {
		for _, want := range n.Mentions.Names {
			if strings.EqualFold(have, want) {
				return true
			}
		}
	}
	return false
}
