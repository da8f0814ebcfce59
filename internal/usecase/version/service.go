// Package version resolves deployed and published service versions and
// computes the update diff between them.
package version

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/bnema/zerowrap"

	"github.com/bnema/stackops/internal/compose"
	"github.com/bnema/stackops/internal/domain"
)

// DefaultFetchTimeout bounds the upstream descriptor fetch.
const DefaultFetchTimeout = 15 * time.Second

// Service resolves versions from the target's compose file and from an
// upstream reference compose descriptor.
type Service struct {
	upstreamURL string
	client      *http.Client
	log         zerowrap.Logger
}

// Option configures the Service.
type Option func(*Service)

// WithHTTPClient sets a custom HTTP client for the upstream fetch.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Service) {
		s.client = client
	}
}

// NewService creates a version resolver against an upstream descriptor URL.
func NewService(upstreamURL string, log zerowrap.Logger, opts ...Option) *Service {
	s := &Service{
		upstreamURL: upstreamURL,
		client:      &http.Client{Timeout: DefaultFetchTimeout},
		log:         log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Current parses the target's compose file for each service's deployed tag.
func (s *Service) Current(target domain.Instance) (domain.VersionMap, error) {
	file, err := compose.Load(target.ComposePath())
	if err != nil {
		return nil, fmt.Errorf("load compose file: %w", err)
	}
	return file.Versions(), nil
}

// Latest fetches the upstream descriptor and parses its version tags.
// Network and parse failures yield an empty map, not an error: unknown
// latest means no update is available.
func (s *Service) Latest(ctx context.Context) domain.VersionMap {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.upstreamURL, nil)
	if err != nil {
		s.log.Warn().Err(err).Str("url", s.upstreamURL).Msg("upstream version fetch skipped")
		return domain.VersionMap{}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.log.Warn().Err(err).Str("url", s.upstreamURL).Msg("upstream version fetch failed")
		return domain.VersionMap{}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.log.Warn().Int("status", resp.StatusCode).Str("url", s.upstreamURL).Msg("upstream version fetch failed")
		return domain.VersionMap{}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		s.log.Warn().Err(err).Str("url", s.upstreamURL).Msg("upstream descriptor unreadable")
		return domain.VersionMap{}
	}

	file, err := compose.Parse(body)
	if err != nil {
		s.log.Warn().Err(err).Str("url", s.upstreamURL).Msg("upstream descriptor unparsable")
		return domain.VersionMap{}
	}
	return file.Versions()
}

// Diff computes the update plan for the services named in selector, or all
// services known to current when the selector is empty. Services absent
// from current are reported as not found rather than updated.
func (s *Service) Diff(current, latest domain.VersionMap, selector []string) domain.UpdatePlan {
	names := selector
	if len(names) == 0 {
		names = make([]string, 0, len(current))
		for name := range current {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var plan domain.UpdatePlan
	for _, name := range names {
		from, ok := current[name]
		if !ok {
			plan.NotFound = append(plan.NotFound, name)
			continue
		}
		to, ok := latest[name]
		if !ok || to == "" || from == "" {
			continue
		}
		if versionsDiffer(from, to) {
			plan.Updates = append(plan.Updates, domain.ServiceUpdate{Service: name, From: from, To: to})
		}
	}
	return plan
}

// versionsDiffer compares two tags, semver-aware when both parse and
// falling back to opaque string inequality when they do not.
func versionsDiffer(from, to string) bool {
	fromV, errFrom := semver.NewVersion(from)
	toV, errTo := semver.NewVersion(to)
	if errFrom == nil && errTo == nil {
		return !fromV.Equal(toV)
	}
	return from != to
}
