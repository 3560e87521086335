// Package identity resolves ADO avatars and group memberships, with an
// in-process cache that is never invalidated for the life of the process —
// group membership changes rarely enough, and the process restarts often
// enough across upgrades, that a bounded TTL buys little. Negative results
// (no avatar, no groups) are cached too, so a consistently-unreachable or
// missing identity does not re-hit ADO on every dispatch.
package identity

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultAPIVersion is used when Config.APIVersion is empty. ADO
	// Server accepts either "1.0" or "5.1-preview"; the latter returns a
	// richer identity shape.
	DefaultAPIVersion = "5.1-preview"

	groupResolveBatchSize = 40
	requestTimeout        = 10 * time.Second
)

// Config configures an Identity client.
type Config struct {
	// OrganizationURL is the base ADO org/collection URL, e.g.
	// "https://ado.example.com/DefaultCollection".
	OrganizationURL string
	// PAT is the Personal Access Token used for HTTP Basic auth. If
	// empty, every call degrades to a cached null/empty result.
	PAT string
	// APIVersion defaults to DefaultAPIVersion.
	APIVersion string
	// InsecureSkipVerify disables TLS certificate verification against
	// the ADO server. Defaults to false (verification enabled) — the
	// original tool hardcoded verify=false; this implementation treats
	// that as a bug and flips the default.
	InsecureSkipVerify bool
}

// Groups is the (ids, names) pair resolved for one identity.
type Groups struct {
	IDs   []string
	Names []string
}

// Identity fetches avatars and group memberships from Azure DevOps.
type Identity struct {
	log *zap.Logger

	orgURL     string
	pat        string
	apiVersion string
	httpClient *http.Client

	metrics CacheObserver

	mu          sync.Mutex
	avatarCache map[string]*string
	groupsCache map[string]Groups
}

// CacheObserver is notified on every cache lookup so callers (internal/metrics)
// can track hit/miss rates without Identity importing the metrics package.
type CacheObserver interface {
	ObserveCache(kind string, hit bool)
}

type noopObserver struct{}

func (noopObserver) ObserveCache(string, bool) {}

// New constructs an Identity client.
func New(cfg Config, log *zap.Logger, observer CacheObserver) *Identity {
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if log == nil {
		log = zap.NewNop()
	}
	if observer == nil {
		observer = noopObserver{}
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify},
	}

	return &Identity{
		log:         log.Named("identity"),
		orgURL:      strings.TrimRight(cfg.OrganizationURL, "/"),
		pat:         cfg.PAT,
		apiVersion:  cfg.APIVersion,
		httpClient:  &http.Client{Transport: transport, Timeout: requestTimeout},
		metrics:     observer,
		avatarCache: make(map[string]*string),
		groupsCache: make(map[string]Groups),
	}
}

func (c *Identity) authHeader() string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(":"+c.pat))
}

// Avatar returns the data-URI avatar for identityID, or "" if ADO has none,
// the request failed, or no PAT is configured. The result — including the
// negative case — is cached for the process lifetime.
func (c *Identity) Avatar(ctx context.Context, identityID string) string {
	c.mu.Lock()
	if cached, ok := c.avatarCache[identityID]; ok {
		c.mu.Unlock()
		c.metrics.ObserveCache("avatar", true)
		if cached == nil {
			return ""
		}
		return *cached
	}
	c.mu.Unlock()
	c.metrics.ObserveCache("avatar", false)

	result := c.fetchAvatar(ctx, identityID)

	c.mu.Lock()
	if result == "" {
		c.avatarCache[identityID] = nil
	} else {
		v := result
		c.avatarCache[identityID] = &v
	}
	c.mu.Unlock()

	return result
}

func (c *Identity) fetchAvatar(ctx context.Context, identityID string) string {
	if c.pat == "" || c.orgURL == "" {
		return ""
	}

	u := fmt.Sprintf("%s/_apis/graph/avatars/%s", c.orgURL, url.PathEscape(identityID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		c.log.Debug("build avatar request", zap.Error(err))
		return ""
	}
	q := req.URL.Query()
	q.Set("api-version", c.apiVersion)
	q.Set("size", "small")
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Authorization", c.authHeader())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Debug("avatar request failed", zap.String("identity_id", identityID), zap.Error(err))
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.log.Debug("avatar request non-200", zap.String("identity_id", identityID), zap.Int("status", resp.StatusCode))
		return ""
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.log.Debug("read avatar body", zap.Error(err))
		return ""
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/png"
	}
	encoded := base64.StdEncoding.EncodeToString(body)
	return fmt.Sprintf("data:%s;base64,%s", contentType, encoded)
}

// Groups returns the group ids and names identityID belongs to. Any failure
// at any step yields whatever was accumulated before the failure — never an
// error. The result is cached for the process lifetime.
func (c *Identity) Groups(ctx context.Context, identityID string) Groups {
	c.mu.Lock()
	if cached, ok := c.groupsCache[identityID]; ok {
		c.mu.Unlock()
		c.metrics.ObserveCache("groups", true)
		return cached
	}
	c.mu.Unlock()
	c.metrics.ObserveCache("groups", false)

	result := c.fetchGroups(ctx, identityID)

	c.mu.Lock()
	c.groupsCache[identityID] = result
	c.mu.Unlock()

	return result
}

func (c *Identity) fetchGroups(ctx context.Context, identityID string) Groups {
	if c.pat == "" || c.orgURL == "" {
		return Groups{}
	}

	groupIDs := c.fetchMemberOf(ctx, identityID)
	if len(groupIDs) == 0 {
		return Groups{}
	}

	names := c.resolveGroupNames(ctx, groupIDs)
	return Groups{IDs: groupIDs, Names: names}
}

type identityRecord struct {
	MemberOf []string `json:"memberOf"`
}

func (c *Identity) fetchMemberOf(ctx context.Context, identityID string) []string {
	u := fmt.Sprintf("%s/_apis/identities/%s", c.orgURL, url.PathEscape(identityID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		c.log.Debug("build identity request", zap.Error(err))
		return nil
	}
	q := req.URL.Query()
	q.Set("api-version", c.apiVersion)
	q.Set("queryMembership", "Expanded")
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Authorization", c.authHeader())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Debug("identity request failed", zap.String("identity_id", identityID), zap.Error(err))
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.log.Debug("identity request non-200", zap.Int("status", resp.StatusCode))
		return nil
	}

	var rec identityRecord
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		c.log.Debug("decode identity response", zap.Error(err))
		return nil
	}
	return rec.MemberOf
}

type identitiesResponse struct {
	Value []struct {
		ProviderDisplayName string `json:"providerDisplayName"`
		CustomDisplayName   string `json:"customDisplayName"`
	} `json:"value"`
}

// resolveGroupNames resolves group ids to display names in batches of
// groupResolveBatchSize, matching ADO's identities-batch endpoint limit.
func (c *Identity) resolveGroupNames(ctx context.Context, groupIDs []string) []string {
	var names []string

	for start := 0; start < len(groupIDs); start += groupResolveBatchSize {
		end := start + groupResolveBatchSize
		if end > len(groupIDs) {
			end = len(groupIDs)
		}
		batch := groupIDs[start:end]

		u := fmt.Sprintf("%s/_apis/identities", c.orgURL)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			c.log.Debug("build batch identities request", zap.Error(err))
			continue
		}
		q := req.URL.Query()
		q.Set("api-version", c.apiVersion)
		q.Set("identityIds", strings.Join(batch, ","))
		req.URL.RawQuery = q.Encode()
		req.Header.Set("Authorization", c.authHeader())

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.log.Debug("batch identities request failed", zap.Error(err))
			continue
		}

		func() {
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				c.log.Debug("batch identities non-200", zap.Int("status", resp.StatusCode))
				return
			}
			var parsed identitiesResponse
			if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
				c.log.Debug("decode batch identities response", zap.Error(err))
				return
			}
			for _, item := range parsed.Value {
				name := item.ProviderDisplayName
				if name == "" {
					name = item.CustomDisplayName
				}
				if name == "" {
					continue
				}
				names = append(names, name)
			}
		}()
	}

	return names
}
