package formatter

import (
	"strings"

	"github.com/hermesrelay/hermes/internal/models"
)

// identityID returns an identity object's routing key: its id, falling back
// to uniqueName when id is absent (some ADO payload shapes only carry
// uniqueName).
func identityID(ident Payload) string {
	if id := getString(ident, "id"); id != "" {
		return id
	}
	return getString(ident, "uniqueName")
}

// buildMentions implements the mentions construction contract: take each
// identity's routing id (skipping empty, duplicate, or actor-matching ids),
// and append its display name when present. Order is insertion order.
func buildMentions(actorID string, idents ...Payload) models.Mentions {
	var userIDs, names []string
	seen := make(map[string]bool)

	for _, ident := range idents {
		if ident == nil {
			continue
		}
		id := identityID(ident)
		if id == "" || id == actorID || seen[id] {
			continue
		}
		seen[id] = true
		userIDs = append(userIDs, id)
		if name := getString(ident, "displayName"); name != "" {
			names = append(names, name)
		}
	}

	return models.Mentions{UserIDs: userIDs, Names: names}
}

// appendMention unconditionally adds ident to m (no actor-exclusion), unless
// its id is empty or already present. Used by the PR-merged formatter to add
// the PR author even when they are the actor.
func appendMention(m *models.Mentions, ident Payload) {
	id := identityID(ident)
	if id == "" {
		return
	}
	if m.HasUserID(id) {
		return
	}
	m.UserIDs = append(m.UserIDs, id)
	if name := getString(ident, "displayName"); name != "" {
		m.Names = append(m.Names, name)
	}
}

// cleanURL drops raw ADO API URLs (they are not user-navigable), except
// work-item URLs which have already been rewritten to their web path.
func cleanURL(url string) string {
	if url == "" {
		return ""
	}
	if strings.Contains(url, "/_apis/") && !strings.Contains(url, "/_workitems") {
		return ""
	}
	return url
}
