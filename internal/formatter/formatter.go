// Package formatter maps a raw ADO webhook payload onto the normalized
// Notification envelope the dispatcher routes and delivers. ADO's payload
// shapes vary between event families and API versions, so every branch
// extracts fields defensively from a permissive JSON tree rather than a
// fixed struct.
package formatter

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hermesrelay/hermes/internal/models"
)

// AvatarFetcher resolves an actor's avatar for embedding in the
// notification. Satisfied by *identity.Identity.
type AvatarFetcher interface {
	Avatar(ctx context.Context, identityID string) string
}

// Formatter converts raw webhook payloads into Notifications.
type Formatter struct {
	log     *zap.Logger
	avatars AvatarFetcher
}

// New constructs a Formatter.
func New(log *zap.Logger, avatars AvatarFetcher) *Formatter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Formatter{log: log.Named("formatter"), avatars: avatars}
}

// Format converts one webhook payload into a Notification. It returns
// (nil, false) for event types it does not handle — the caller should log
// and drop, never treat this as an error.
func (f *Formatter) Format(ctx context.Context, eventType string, payload Payload) (*models.Notification, bool) {
	resource := getMap(payload, "resource")
	resourceContainers := getMap(payload, "resourceContainers")

	project := getString(getMap(resourceContainers, "project"), "name")
	if project == "" {
		project = getString(resource, "teamProject")
	}

	switch eventType {
	case "git.pullrequest.created", "git.pullrequest.updated", "git.pullrequest.merged",
		"ms.vss-code.git-pullrequest-comment-event":
		return f.formatPR(ctx, eventType, resource, project), true

	case "workitem.created", "workitem.updated", "workitem.commented",
		"workitem.resolved", "workitem.closed":
		return f.formatWorkItem(ctx, eventType, resource, project), true

	case "build.complete", "ms.vss-release.release-created-event",
		"ms.vss-release.deployment-completed-event", "ms.vss-release.release-abandoned-event":
		return f.formatPipeline(ctx, eventType, resource, project), true

	default:
		f.log.Debug("unhandled event type", zap.String("event_type", eventType))
		return nil, false
	}
}

func (f *Formatter) avatarFor(ctx context.Context, actorID string) string {
	if actorID == "" || f.avatars == nil {
		return ""
	}
	return f.avatars.Avatar(ctx, actorID)
}

// -----------------------------------------------------------------------
// Pull request
// -----------------------------------------------------------------------

func (f *Formatter) formatPR(ctx context.Context, eventType string, resource Payload, project string) *models.Notification {
	pr := resource
	if _, hasID := resource["pullRequestId"]; !hasID {
		if nested := getMap(resource, "pullRequest"); nested != nil {
			pr = nested
		}
	}

	prID := displayString(getRaw(pr, "pullRequestId"))
	title := getString(pr, "title")
	if title == "" {
		title = "Pull Request"
	}
	repo := getString(getMap(pr, "repository"), "name")
	source := strings.TrimPrefix(getString(pr, "sourceRefName"), "refs/heads/")
	target := strings.TrimPrefix(getString(pr, "targetRefName"), "refs/heads/")
	status := getString(pr, "status")
	createdBy := getMap(pr, "createdBy")
	reviewers := getSlice(pr, "reviewers")

	url := getString(pr, "url")
	if url == "" {
		url = getString(pr, "remoteUrl")
	}
	if url == "" {
		url = getString(getMap(getMap(pr, "_links"), "web"), "href")
	}

	var actor Payload
	var actorName, heading, body, statusImage string
	var mentions models.Mentions

	switch eventType {
	case "ms.vss-code.git-pullrequest-comment-event":
		comment := getMap(resource, "comment")
		actor = getMap(comment, "author")
		actorName = orDefault(getString(actor, "displayName"), "Someone")
		heading = "PR Comment"
		body = fmt.Sprintf("%s commented on PR #%s: %s", actorName, prID, title)
		statusImage = "pr comment"
		mentions = buildMentions(identityID(actor), append([]Payload{createdBy}, reviewers...)...)

	case "git.pullrequest.created":
		actor = createdBy
		actorName = orDefault(getString(actor, "displayName"), "Someone")
		heading = "New Pull Request"
		body = fmt.Sprintf("%s opened PR #%s in %s\n%s → %s", actorName, prID, repo, source, target)
		statusImage = "new pr"
		mentions = buildMentions(identityID(actor), reviewers...)

	case "git.pullrequest.merged":
		actor = getMap(resource, "closedBy")
		if actor == nil {
			actor = createdBy
		}
		actorName = orDefault(getString(actor, "displayName"), "Someone")
		heading = "PR Merged"
		body = fmt.Sprintf("PR #%s merged in %s\n%s", prID, repo, title)
		statusImage = "pr merged"
		mentions = buildMentions(identityID(actor), reviewers...)
		appendMention(&mentions, createdBy)

	default: // git.pullrequest.updated
		actor = createdBy
		actorName = orDefault(getString(actor, "displayName"), "Someone")
		heading = "PR Updated"
		body = fmt.Sprintf("PR #%s updated (%s): %s", prID, status, title)
		statusImage = "pr updated"
		mentions = buildMentions(identityID(actor), reviewers...)
	}

	actorID := identityID(actor)

	return &models.Notification{
		EventType:   models.EventPR,
		Heading:     heading,
		Body:        body,
		URL:         cleanURL(url),
		Project:     project,
		AvatarB64:   f.avatarFor(ctx, actorID),
		StatusImage: statusImage,
		Actor:       actorName,
		ActorID:     actorID,
		Mentions:    mentions,
		Meta: map[string]any{
			"pr_id":  prID,
			"repo":   repo,
			"status": status,
		},
	}
}

// -----------------------------------------------------------------------
// Work items
// -----------------------------------------------------------------------

func (f *Formatter) formatWorkItem(ctx context.Context, eventType string, resource Payload, project string) *models.Notification {
	fields := getMap(resource, "fields")
	wiID := displayString(getRaw(resource, "id"))
	wiType := getString(fields, "System.WorkItemType")
	if wiType == "" {
		wiType = "Work Item"
	}
	wiTitle := getString(fields, "System.Title")
	if wiTitle == "" {
		wiTitle = "Untitled"
	}

	assignedToRaw := fields["System.AssignedTo"]
	assignedTo := asMap(assignedToRaw)
	assignedToName := ""
	if assignedTo != nil {
		assignedToName = getString(assignedTo, "displayName")
	} else {
		assignedToName = displayStringOrString(assignedToRaw)
	}

	changedByRaw := fields["System.ChangedBy"]
	changedBy := asMap(changedByRaw)
	actorName := "Someone"
	actorID := ""
	if changedBy != nil {
		if n := getString(changedBy, "displayName"); n != "" {
			actorName = n
		}
		actorID = identityID(changedBy)
	} else if s := displayStringOrString(changedByRaw); s != "" {
		actorName = s
	}

	url := getString(resource, "url")
	if strings.Contains(url, "/_apis/") {
		url = strings.Replace(url, "/_apis/wit/workItems/", "/_workitems/edit/", 1)
	}

	state := getString(fields, "System.State")

	var heading, body string
	switch eventType {
	case "workitem.created":
		heading = fmt.Sprintf("New %s", wiType)
		body = fmt.Sprintf("%s created %s #%s: %s", actorName, wiType, wiID, wiTitle)
		if assignedToName != "" {
			body += fmt.Sprintf("\nAssigned to: %s", assignedToName)
		}
	case "workitem.commented":
		heading = fmt.Sprintf("%s Comment", wiType)
		body = fmt.Sprintf("%s commented on %s #%s: %s", actorName, wiType, wiID, wiTitle)
	case "workitem.resolved", "workitem.closed":
		heading = fmt.Sprintf("%s %s", wiType, state)
		body = fmt.Sprintf("%s %s %s #%s: %s", actorName, strings.ToLower(state), wiType, wiID, wiTitle)
	default: // workitem.updated
		heading = fmt.Sprintf("%s Updated", wiType)
		body = fmt.Sprintf("✏ %s updated %s #%s: %s", actorName, wiType, wiID, wiTitle)
		if state != "" {
			body += fmt.Sprintf(" [%s]", state)
		}
	}

	statusImage := strings.ToLower(wiType)
	if eventType == "workitem.commented" {
		statusImage = "workitem comment"
	}

	mentions := buildMentions(actorID, assignedTo)

	return &models.Notification{
		EventType:   models.EventWorkItem,
		Heading:     heading,
		Body:        body,
		URL:         cleanURL(url),
		Project:     project,
		AvatarB64:   f.avatarFor(ctx, actorID),
		StatusImage: statusImage,
		Actor:       actorName,
		ActorID:     actorID,
		Mentions:    mentions,
		Meta: map[string]any{
			"wi_id":       wiID,
			"wi_type":     wiType,
			"state":       state,
			"assigned_to": assignedToName,
		},
	}
}

// -----------------------------------------------------------------------
// Pipelines (builds / releases / deployments)
// -----------------------------------------------------------------------

var buildStatusImage = map[string]string{
	"succeeded":          "success",
	"failed":              "failure",
	"canceled":            "cancelled",
	"cancelled":           "cancelled",
	"partiallysucceeded":  "failure",
}

var deployStatusImage = map[string]string{
	"succeeded": "success",
	"rejected":  "failure",
	"failed":    "failure",
	"canceled":  "cancelled",
	"cancelled": "cancelled",
}

func (f *Formatter) formatPipeline(ctx context.Context, eventType string, resource Payload, project string) *models.Notification {
	var actorName, actorID, heading, body, url, statusImage string
	var mentions models.Mentions
	meta := map[string]any{"raw_event": eventType}

	switch eventType {
	case "build.complete":
		buildID := displayString(getRaw(resource, "id"))
		buildNum := getString(resource, "buildNumber")
		if buildNum == "" {
			buildNum = buildID
		}
		definition := getString(getMap(resource, "definition"), "name")
		if definition == "" {
			definition = "Pipeline"
		}
		result := strings.ToLower(getString(resource, "result"))
		if result == "" {
			result = "unknown"
		}
		requestedFor := getMap(resource, "requestedFor")
		actorName = orDefault(getString(requestedFor, "displayName"), "Someone")
		actorID = identityID(requestedFor)

		url = getString(getMap(getMap(resource, "_links"), "web"), "href")
		if url == "" {
			url = getString(resource, "url")
		}

		heading = fmt.Sprintf("Build %s", strings.Title(strings.ReplaceAll(result, "partiallysucceeded", "partially succeeded")))
		body = fmt.Sprintf("%s #%s %s\nTriggered by: %s", definition, buildNum, result, actorName)
		statusImage = buildStatusImage[result]
		// Always notify the person who triggered the build — it's their result.
		mentions = buildMentions("", requestedFor)

	case "ms.vss-release.release-created-event":
		release := resource
		relName := getString(release, "name")
		if relName == "" {
			relName = "Release"
		}
		definition := getString(getMap(release, "releaseDefinition"), "name")
		createdBy := getMap(release, "createdBy")
		actorName = orDefault(getString(createdBy, "displayName"), "Someone")
		actorID = identityID(createdBy)
		url = getString(getMap(getMap(release, "_links"), "web"), "href")

		heading = "Release Created"
		body = fmt.Sprintf("%s created %s", actorName, relName)
		if definition != "" {
			body += fmt.Sprintf(" (%s)", definition)
		}
		mentions = buildMentions(actorID)

	case "ms.vss-release.deployment-completed-event":
		env := getMap(resource, "environment")
		envName := getString(env, "name")
		if envName == "" {
			envName = "Environment"
		}
		relName := getString(getMap(resource, "release"), "name")
		if relName == "" {
			relName = "Release"
		}
		deployStatus := strings.ToLower(getString(env, "status"))
		if deployStatus == "" {
			deployStatus = "unknown"
		}
		deployment := getMap(resource, "deployment")
		requestedFor := getMap(deployment, "requestedFor")
		actorName = orDefault(getString(requestedFor, "displayName"), "Someone")
		actorID = identityID(requestedFor)
		url = getString(getMap(getMap(getMap(resource, "release"), "_links"), "web"), "href")

		heading = fmt.Sprintf("Deployment %s", strings.Title(deployStatus))
		body = fmt.Sprintf("%s → %s: %s", relName, envName, deployStatus)
		statusImage = deployStatusImage[deployStatus]
		mentions = buildMentions("", requestedFor)

	case "ms.vss-release.release-abandoned-event":
		relName := getString(resource, "name")
		if relName == "" {
			relName = "Release"
		}
		modifiedBy := getMap(resource, "modifiedBy")
		actorName = orDefault(getString(modifiedBy, "displayName"), "Someone")
		actorID = identityID(modifiedBy)
		url = getString(getMap(getMap(resource, "_links"), "web"), "href")

		heading = "Release Abandoned"
		body = fmt.Sprintf("%s abandoned %s", actorName, relName)
		statusImage = "cancelled"
		mentions = buildMentions(actorID)

	default:
		actorName = "System"
		heading = "Pipeline Event"
		body = fmt.Sprintf("Pipeline event: %s", eventType)
	}

	return &models.Notification{
		EventType:   models.EventPipeline,
		Heading:     heading,
		Body:        body,
		URL:         cleanURL(url),
		Project:     project,
		AvatarB64:   f.avatarFor(ctx, actorID),
		StatusImage: statusImage,
		Actor:       actorName,
		ActorID:     actorID,
		Mentions:    mentions,
		Meta:        meta,
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// displayStringOrString handles fields that are documented as "identity
// object or bare string": when the raw value is a plain string, it is used
// as-is; any other shape yields "".
func displayStringOrString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
