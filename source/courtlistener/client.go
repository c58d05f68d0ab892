package courtlistener

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/poiesic/courtgraph/core"
	"github.com/poiesic/courtgraph/source"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the CourtListener REST API root.
	DefaultBaseURL = "https://www.courtlistener.com/api/rest/v4"

	defaultTimeout = 30 * time.Second
	maxErrorBody   = 512
)

// Client implements source.RecordSource against the CourtListener REST API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    atomic.Pointer[rate.Limiter]
	logger     *slog.Logger
}

var _ source.PacedSource = (*Client)(nil)

// Option configures a Client.
type Option func(*Client) error

// WithBaseURL overrides the API root.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) error {
		u, err := url.Parse(baseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid base URL %q", baseURL)
		}
		c.baseURL = strings.TrimRight(baseURL, "/")
		return nil
	}
}

// WithToken sets the API token sent in the Authorization header.
func WithToken(token string) Option {
	return func(c *Client) error {
		c.token = token
		return nil
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		if hc == nil {
			return errors.New("http client cannot be nil")
		}
		c.httpClient = hc
		return nil
	}
}

// WithRateLimiter charges limiter once before every HTTP request, including
// each page of a listing and the position and education lookups of a judge.
func WithRateLimiter(limiter *rate.Limiter) Option {
	return func(c *Client) error {
		if limiter == nil {
			return errors.New("rate limiter cannot be nil")
		}
		c.limiter.Store(limiter)
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) error {
		c.logger = logger
		return nil
	}
}

// NewClient creates a CourtListener client.
func NewClient(opts ...Option) (*Client, error) {
	c := &Client{
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	c.logger = c.logger.With("component", "courtlistener")
	return c, nil
}

// UseLimiter replaces the request limiter. Safe to call while requests are in flight.
func (c *Client) UseLimiter(limiter *rate.Limiter) {
	c.limiter.Store(limiter)
}

// Fetch retrieves a single record by kind and id.
func (c *Client) Fetch(ctx context.Context, kind core.EntityKind, id core.ID) (core.Record, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty %s id", source.ErrPermanent, kind)
	}
	switch kind {
	case core.KindCourt:
		var dto courtJSON
		if err := c.getJSON(ctx, c.resourceURL("courts", id), &dto); err != nil {
			return nil, err
		}
		return dto.record(), nil
	case core.KindJudge:
		return c.fetchJudge(ctx, id)
	case core.KindDocket:
		var dto docketJSON
		if err := c.getJSON(ctx, c.resourceURL("dockets", id), &dto); err != nil {
			return nil, err
		}
		return dto.record()
	case core.KindCluster:
		var dto clusterJSON
		if err := c.getJSON(ctx, c.resourceURL("clusters", id), &dto); err != nil {
			return nil, err
		}
		return dto.record()
	case core.KindOpinion:
		var dto opinionJSON
		if err := c.getJSON(ctx, c.resourceURL("opinions", id), &dto); err != nil {
			return nil, err
		}
		return dto.record()
	}
	return nil, fmt.Errorf("%w: fetch %s", source.ErrUnsupported, kind)
}

// fetchJudge retrieves a person together with their positions and education.
func (c *Client) fetchJudge(ctx context.Context, id core.ID) (core.Record, error) {
	var person personJSON
	if err := c.getJSON(ctx, c.resourceURL("people", id), &person); err != nil {
		return nil, err
	}
	judge := person.record()

	positions, err := paginate[positionJSON](ctx, c, c.listURL("positions", url.Values{"person": {string(id)}}), 0)
	if err != nil {
		return nil, err
	}
	for _, p := range positions {
		judge.Positions = append(judge.Positions, p.position())
	}

	educations, err := paginate[educationJSON](ctx, c, c.listURL("educations", url.Values{"person": {string(id)}}), 0)
	if err != nil {
		return nil, err
	}
	for _, e := range educations {
		judge.Education = append(judge.Education, e.education())
	}
	return judge, nil
}

// FetchChildren lists opinions by author, citations from an opinion, or all courts.
func (c *Client) FetchChildren(ctx context.Context, kind core.EntityKind, parentID core.ID, filter source.Filter) ([]core.Record, error) {
	switch {
	case kind == core.KindOpinion && parentID != "":
		dtos, err := paginate[opinionJSON](ctx, c, c.listURL("opinions", url.Values{"author": {string(parentID)}}), filter.Limit)
		if err != nil {
			return nil, err
		}
		return convertAll(dtos, func(d opinionJSON) (core.Record, error) { return d.record() })
	case kind == core.KindCitation && parentID != "":
		dtos, err := paginate[citationJSON](ctx, c, c.listURL("opinions-cited", url.Values{"citing_opinion": {string(parentID)}}), filter.Limit)
		if err != nil {
			return nil, err
		}
		return convertAll(dtos, func(d citationJSON) (core.Record, error) { return d.record() })
	case kind == core.KindCourt && parentID == "":
		dtos, err := paginate[courtJSON](ctx, c, c.listURL("courts", nil), filter.Limit)
		if err != nil {
			return nil, err
		}
		return convertAll(dtos, func(d courtJSON) (core.Record, error) { return d.record(), nil })
	}
	return nil, fmt.Errorf("%w: children of kind %s under %q", source.ErrUnsupported, kind, parentID)
}

func convertAll[T any](dtos []T, convert func(T) (core.Record, error)) ([]core.Record, error) {
	out := make([]core.Record, 0, len(dtos))
	for _, d := range dtos {
		rec, err := convert(d)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (c *Client) resourceURL(resource string, id core.ID) string {
	return c.baseURL + "/" + resource + "/" + url.PathEscape(string(id)) + "/"
}

func (c *Client) listURL(resource string, params url.Values) string {
	u := c.baseURL + "/" + resource + "/"
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

// page is one page of a paginated listing.
type page[T any] struct {
	Next    *string `json:"next"`
	Results []T     `json:"results"`
}

// paginate follows "next" links until the listing ends or limit results are collected.
func paginate[T any](ctx context.Context, c *Client, firstURL string, limit int) ([]T, error) {
	var out []T
	next := firstURL
	for next != "" {
		var p page[T]
		if err := c.getJSON(ctx, next, &p); err != nil {
			return nil, err
		}
		out = append(out, p.Results...)
		if limit > 0 && len(out) >= limit {
			return out[:limit], nil
		}
		if p.Next == nil || len(p.Results) == 0 {
			break
		}
		next = *p.Next
	}
	return out, nil
}

// getJSON issues a GET and decodes the body, mapping failures onto the source taxonomy.
func (c *Client) getJSON(ctx context.Context, rawURL string, dst any) error {
	if limiter := c.limiter.Load(); limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			// The wait would outlast the deadline.
			return fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", source.ErrPermanent, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Token "+c.token)
	}

	c.logger.Debug("GET", "url", rawURL)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: GET %s: %w", source.ErrTransient, rawURL, err)
	}
	defer resp.Body.Close()

	if err := statusError(resp, rawURL); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: decode %s: %w", source.ErrPermanent, rawURL, err)
	}
	return nil
}

// statusError maps an HTTP status to the source error taxonomy.
func statusError(resp *http.Response, rawURL string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	detail := fmt.Sprintf("GET %s: status %d: %s", rawURL, resp.StatusCode, strings.TrimSpace(string(body)))

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", source.ErrNotFound, detail)
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", source.ErrRateLimited, detail)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: %s", source.ErrTransient, detail)
	}
	return fmt.Errorf("%w: %s", source.ErrPermanent, detail)
}
