package strava

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/joshdurbin/strava-runstats/internal/activity"
	"github.com/joshdurbin/strava-runstats/internal/logging"
)

const (
	// ActivitiesURL is the athlete activities endpoint.
	ActivitiesURL = "https://www.strava.com/api/v3/athlete/activities"
	// DefaultPageSize is the per_page value used when none is configured.
	DefaultPageSize = 50
	// DefaultMaxPages bounds pagination against a misbehaving endpoint.
	DefaultMaxPages = 1000
	requestTimeout  = 30 * time.Second
	maxBodyBytes    = 32 << 20
)

// Default retry settings
const (
	defaultMaxRetries     = 5
	defaultInitialBackoff = 1 * time.Second
	defaultMaxBackoff     = 5 * time.Minute
)

// Activity is the subset of the Strava activity payload this tool reads.
// Heart rate is a pointer because activities recorded without a sensor omit
// the field.
type Activity struct {
	ID               int64    `json:"id"`
	Name             string   `json:"name"`
	Type             string   `json:"type"`
	SportType        string   `json:"sport_type"`
	Distance         float64  `json:"distance"`
	AverageSpeed     float64  `json:"average_speed"`
	AverageHeartrate *float64 `json:"average_heartrate"`
	AverageCadence   float64  `json:"average_cadence"`
	StartDate        string   `json:"start_date"`
}

// Record projects the activity down to the retained columns.
func (a Activity) Record() activity.Record {
	hr := math.NaN()
	if a.AverageHeartrate != nil {
		hr = *a.AverageHeartrate
	}
	return activity.Record{
		Distance:         a.Distance,
		AverageSpeed:     a.AverageSpeed,
		AverageHeartrate: hr,
		AverageCadence:   a.AverageCadence,
		StartDate:        a.StartDate,
	}
}

// FilterRuns keeps only Run activities, in order, projected to records.
func FilterRuns(activities []Activity) activity.Table {
	table := make(activity.Table, 0, len(activities))
	for _, a := range activities {
		if a.Type != activity.RunType {
			continue
		}
		table = append(table, a.Record())
	}
	return table
}

// apiError is the object Strava returns instead of a list on failure.
type apiError struct {
	Message string `json:"message"`
	Errors  []struct {
		Resource string `json:"resource"`
		Field    string `json:"field"`
		Code     string `json:"code"`
	} `json:"errors"`
}

// RateLimitInfo contains rate limit information from the API
type RateLimitInfo struct {
	Limit15Min    int
	Usage15Min    int
	LimitDaily    int
	UsageDaily    int
	IsRateLimited bool
}

// String formats usage as "15min used/limit, daily used/limit".
func (info RateLimitInfo) String() string {
	return fmt.Sprintf("15min %d/%d, daily %d/%d", info.Usage15Min, info.Limit15Min, info.UsageDaily, info.LimitDaily)
}

// FetchResult is reported after each page is fetched
type FetchResult struct {
	Page         int
	OnPage       int
	TotalFetched int
	RateLimit    RateLimitInfo
}

// ProgressCallback is called after each page is fetched
type ProgressCallback func(result FetchResult)

// RetryConfig holds retry/backoff settings
type RetryConfig struct {
	MaxRetries int
	MinWait    time.Duration
	MaxWait    time.Duration
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: defaultMaxRetries,
		MinWait:    defaultInitialBackoff,
		MaxWait:    defaultMaxBackoff,
	}
}

// Options configures pagination and transport for a Client.
type Options struct {
	ActivitiesURL string
	PageSize      int
	StartPage     int
	MaxPages      int
	Retry         RetryConfig
}

// DefaultOptions returns options matching the public Strava API.
func DefaultOptions() Options {
	return Options{
		ActivitiesURL: ActivitiesURL,
		PageSize:      DefaultPageSize,
		StartPage:     1,
		MaxPages:      DefaultMaxPages,
		Retry:         DefaultRetryConfig(),
	}
}

// Client fetches activity pages with automatic retry and backoff
type Client struct {
	httpClient    *retryablehttp.Client
	accessToken   string
	activitiesURL string
	pageSize      int
	startPage     int
	maxPages      int
}

// NewClient creates a client for the given bearer token. Zero-valued option
// fields fall back to DefaultOptions.
func NewClient(accessToken string, opts Options) *Client {
	def := DefaultOptions()
	if opts.ActivitiesURL == "" {
		opts.ActivitiesURL = def.ActivitiesURL
	}
	if opts.PageSize <= 0 {
		opts.PageSize = def.PageSize
	}
	if opts.StartPage <= 0 {
		opts.StartPage = def.StartPage
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = def.MaxPages
	}
	if opts.Retry == (RetryConfig{}) {
		opts.Retry = def.Retry
	}

	return &Client{
		httpClient:    newRetryClient(opts.Retry),
		accessToken:   accessToken,
		activitiesURL: opts.ActivitiesURL,
		pageSize:      opts.PageSize,
		startPage:     opts.StartPage,
		maxPages:      opts.MaxPages,
	}
}

func newRetryClient(cfg RetryConfig) *retryablehttp.Client {
	log := logging.Logger
	client := retryablehttp.NewClient()
	client.RetryMax = cfg.MaxRetries
	client.RetryWaitMin = cfg.MinWait
	client.RetryWaitMax = cfg.MaxWait
	client.HTTPClient.Timeout = requestTimeout
	client.Logger = &logging.LeveledLogger{}
	// hand the final response back so its error payload can be classified
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler

	// Only throttling, server errors and transport failures are retried.
	// Any other status is final and its payload is classified.
	client.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if err != nil {
			return true, nil
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return true, nil
		}
		return false, nil
	}

	client.Backoff = func(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
		if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
			if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
				if seconds, err := strconv.Atoi(retryAfter); err == nil {
					wait := time.Duration(seconds) * time.Second
					if wait > max {
						wait = max
					}
					log.Info().Dur("wait", wait).Int("attempt", attemptNum).Msg("rate limited, honouring Retry-After")
					return wait
				}
			}
		}

		wait := min * time.Duration(1<<uint(attemptNum))
		if wait > max || wait <= 0 {
			wait = max
		}
		log.Info().Dur("wait", wait).Int("attempt", attemptNum).Msg("backing off before retry")
		return wait
	}

	client.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, retry int) {
		if retry > 0 {
			log.Info().Str("url", req.URL.Path).Int("attempt", retry+1).Msg("retrying request")
		}
		if logging.IsTraceEnabled() {
			log.Debug().
				Str("method", req.Method).
				Str("url", req.URL.String()).
				Str("headers", formatHeaders(req.Header)).
				Msg("request headers")
		}
	}

	client.ResponseLogHook = func(_ retryablehttp.Logger, resp *http.Response) {
		if logging.IsTraceEnabled() {
			log.Debug().
				Int("status", resp.StatusCode).
				Str("url", resp.Request.URL.Path).
				Str("headers", formatHeaders(resp.Header)).
				Msg("response headers")
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			log.Warn().
				Str("usage", parseRateLimitHeaders(resp.Header).String()).
				Msg("rate limited by API")
		}
	}

	return client
}

func rateLimitOf(resp *http.Response) RateLimitInfo {
	info := parseRateLimitHeaders(resp.Header)
	if resp.StatusCode == http.StatusTooManyRequests {
		info.IsRateLimited = true
	}
	return info
}

// FetchRuns fetches the whole activity history and returns its Run
// activities as a table, newest first.
func (c *Client) FetchRuns(ctx context.Context, progress ProgressCallback) (activity.Table, error) {
	activities, err := c.FetchAllActivities(ctx, progress)
	if err != nil {
		return nil, err
	}
	table := FilterRuns(activities)
	logging.Debug("filtered activities to runs", "activities", len(activities), "runs", len(table))
	return table, nil
}

// FetchAllActivities requests pages until one comes back empty. Pages are
// fetched one at a time and accumulated in API order.
func (c *Client) FetchAllActivities(ctx context.Context, progress ProgressCallback) ([]Activity, error) {
	log := logging.Logger
	var all []Activity

	for page, fetched := c.startPage, 0; ; page, fetched = page+1, fetched+1 {
		if fetched >= c.maxPages {
			return nil, fmt.Errorf("%w (%d pages of %d)", ErrPageLimit, fetched, c.pageSize)
		}

		activities, rateLimit, err := c.fetchPage(ctx, page)
		if err != nil {
			log.Error().Err(err).Int("page", page).Int("per_page", c.pageSize).Msg("activity page fetch failed")
			return nil, err
		}

		if progress != nil {
			progress(FetchResult{
				Page:         page,
				OnPage:       len(activities),
				TotalFetched: len(all) + len(activities),
				RateLimit:    rateLimit,
			})
		}

		if len(activities) == 0 {
			break
		}
		all = append(all, activities...)
	}

	return all, nil
}

func (c *Client) pageURL(page int) (string, error) {
	u, err := url.Parse(c.activitiesURL)
	if err != nil {
		return "", fmt.Errorf("parsing activities URL: %w", err)
	}
	q := u.Query()
	q.Set("per_page", strconv.Itoa(c.pageSize))
	q.Set("page", strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) fetchPage(ctx context.Context, page int) ([]Activity, RateLimitInfo, error) {
	pageURL, err := c.pageURL(page)
	if err != nil {
		return nil, RateLimitInfo{}, err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, RateLimitInfo{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, RateLimitInfo{}, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	rateLimit := rateLimitOf(resp)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, rateLimit, fmt.Errorf("reading response: %w", err)
	}

	activities, err := c.decodePage(body, page, resp.StatusCode)
	return activities, rateLimit, err
}

// decodePage interprets one response body: a JSON list is data, a JSON object
// is an error payload.
func (c *Client) decodePage(body []byte, page, status int) ([]Activity, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, &UnknownError{Message: "empty response body", StatusCode: status, Page: page}
	}

	switch body[0] {
	case '[':
		if status < 200 || status > 299 {
			return nil, &UnknownError{Message: http.StatusText(status), StatusCode: status, Page: page}
		}
		var activities []Activity
		if err := json.Unmarshal(body, &activities); err != nil {
			return nil, fmt.Errorf("decoding page %d: %w", page, err)
		}
		return activities, nil
	case '{':
		var payload apiError
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, fmt.Errorf("decoding error payload on page %d: %w", page, err)
		}
		if status == http.StatusTooManyRequests {
			return nil, fmt.Errorf("%w: %s", ErrRateLimited, payload.Message)
		}
		message := payload.Message
		if message == "" {
			message = http.StatusText(status)
		}
		return nil, classify(message, page == c.startPage, page, c.pageSize, status)
	}

	return nil, &UnknownError{Message: "response is not JSON", StatusCode: status, Page: page}
}

// minPositive returns the smaller of two limits, ignoring unset (zero) ones.
func minPositive(a, b int) int {
	if a <= 0 {
		return b
	}
	if b <= 0 {
		return a
	}
	return min(a, b)
}

// parsePair reads a "15min,daily" header value.
func parsePair(value string) (int, int) {
	if value == "" {
		return 0, 0
	}
	parts := strings.Split(value, ",")
	var first, second int
	first, _ = strconv.Atoi(strings.TrimSpace(parts[0]))
	if len(parts) >= 2 {
		second, _ = strconv.Atoi(strings.TrimSpace(parts[1]))
	}
	return first, second
}

// parseRateLimitHeaders merges the general X-RateLimit-* and the stricter
// X-ReadRateLimit-* headers, keeping the lower limit and the higher usage.
func parseRateLimitHeaders(headers http.Header) RateLimitInfo {
	genLimit15, genLimitDay := parsePair(headers.Get("X-RateLimit-Limit"))
	genUsage15, genUsageDay := parsePair(headers.Get("X-RateLimit-Usage"))
	readLimit15, readLimitDay := parsePair(headers.Get("X-ReadRateLimit-Limit"))
	readUsage15, readUsageDay := parsePair(headers.Get("X-ReadRateLimit-Usage"))

	info := RateLimitInfo{
		Limit15Min: minPositive(genLimit15, readLimit15),
		LimitDaily: minPositive(genLimitDay, readLimitDay),
		Usage15Min: max(genUsage15, readUsage15),
		UsageDaily: max(genUsageDay, readUsageDay),
	}
	if (info.Limit15Min > 0 && info.Usage15Min >= info.Limit15Min) ||
		(info.LimitDaily > 0 && info.UsageDaily >= info.LimitDaily) {
		info.IsRateLimited = true
	}
	return info
}

// formatHeaders formats HTTP headers for logging, redacting sensitive values
func formatHeaders(headers http.Header) string {
	if len(headers) == 0 {
		return "{}"
	}

	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		value := strings.Join(headers[k], ", ")
		switch strings.ToLower(k) {
		case "authorization", "cookie", "set-cookie":
			value = "[REDACTED]"
		}
		parts = append(parts, fmt.Sprintf("%s: %q", k, value))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
