package centrepoint

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	gojson "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/sensorcloud/centrepoint-sync/pkg/clients"
	"github.com/sensorcloud/centrepoint-sync/pkg/errors"
	"github.com/sensorcloud/centrepoint-sync/pkg/metrics"
	"github.com/sensorcloud/centrepoint-sync/pkg/models"
)

// dailyStatisticsPath is the resource path template under the API base URL.
const dailyStatisticsPath = "analytics/v3/Studies/%d/Subjects/%d/DailyStatistics"

// itemsKey selects the record array inside each page response.
const itemsKey = "items"

// streamBufferSize is the record channel capacity during page streaming.
const streamBufferSize = 1000

// Client fetches paginated daily-statistics pages from the CentrePoint API.
// Requests are signed by the Authenticator; transport failures are retried
// under the RetryPolicy.
type Client struct {
	baseURL    string
	httpClient *http.Client
	auth       Authenticator
	retry      *clients.RetryPolicy
	logger     *zap.Logger
}

// NewClient creates a CentrePoint API client.
func NewClient(baseURL string, httpClient *http.Client, auth Authenticator, retry *clients.RetryPolicy, logger *zap.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		auth:       auth,
		retry:      retry,
		logger:     logger.With(zap.String("component", "fetcher")),
	}
}

// pageEnvelope is one page of the daily-statistics response. Items stays raw
// so a missing or null array is distinguishable from an empty one.
type pageEnvelope struct {
	Items         gojson.RawMessage `json:"items"`
	NextPageToken string            `json:"nextPageToken"`
}

// FetchDailyStatistics streams all pages for the window as a lazy record
// sequence. cursorFilter, when non-empty, is sent as a server-side lower
// bound on the cursor field; full reloads pass it empty to force the API to
// return its entire history.
//
// The record channel closes when all pages are drained or on failure; the
// error channel yields at most one error after the record channel closes.
func (c *Client) FetchDailyStatistics(ctx context.Context, window models.QueryWindow, cursorFilter string) (<-chan *models.Record, <-chan error) {
	records := make(chan *models.Record, streamBufferSize)
	errc := make(chan error, 1)

	go func() {
		defer close(records)
		defer close(errc)

		pageToken := ""
		pageNum := 0
		for {
			env, err := c.fetchPage(ctx, window, cursorFilter, pageToken)
			if err != nil {
				errc <- err
				return
			}
			pageNum++
			metrics.PagesFetched.Inc()

			items, err := decodeItems(env)
			if err != nil {
				errc <- err
				return
			}

			c.logger.Debug("page fetched",
				zap.Int("page", pageNum),
				zap.Int("records", len(items)))

			for _, fields := range items {
				select {
				case records <- models.NewRecord(fields):
				case <-ctx.Done():
					errc <- ctx.Err()
					return
				}
			}

			// Either signal ends pagination: an empty page or no
			// continuation token.
			if len(items) == 0 || env.NextPageToken == "" {
				return
			}
			pageToken = env.NextPageToken
		}
	}()

	return records, errc
}

// fetchPage issues one signed GET, retrying transport failures and forcing a
// single re-authentication on 401. A second 401 on the same page is fatal.
func (c *Client) fetchPage(ctx context.Context, window models.QueryWindow, cursorFilter, pageToken string) (*pageEnvelope, error) {
	reqURL, err := c.buildURL(window, cursorFilter, pageToken)
	if err != nil {
		return nil, err
	}

	var env *pageEnvelope
	reauthed := false

	fetchErr := c.retry.Execute(ctx, func() error {
		for {
			e, status, err := c.doGet(ctx, reqURL)
			if err != nil {
				return err
			}
			if status == http.StatusUnauthorized {
				if reauthed {
					return errors.New(errors.ErrorTypeAuth, "request rejected with 401 after re-authentication")
				}
				reauthed = true
				c.logger.Warn("received 401, re-authenticating once")
				c.auth.Invalidate()
				if err := c.auth.EnsureToken(ctx); err != nil {
					return err
				}
				// Re-issue with the fresh token immediately; the 401
				// recovery does not consume a transport retry attempt.
				continue
			}
			env = e
			return nil
		}
	}, errors.IsRetryable)

	if fetchErr != nil {
		return nil, fetchErr
	}
	return env, nil
}

// doGet performs one signed request and decodes the envelope. Returns the
// HTTP status so the caller can apply 401 handling; non-2xx other than 401 is
// mapped to an error here.
func (c *Client) doGet(ctx context.Context, reqURL string) (*pageEnvelope, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrorTypeInternal, "failed to build request")
	}
	req.Header.Set("Accept", "application/json")

	if err := c.auth.Sign(ctx, req); err != nil {
		return nil, 0, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ue, ok := err.(*url.Error); ok && ue.Timeout() {
			return nil, 0, errors.Wrap(err, errors.ErrorTypeTimeout, "request timed out")
		}
		return nil, 0, errors.Wrap(err, errors.ErrorTypeConnection, "request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, resp.StatusCode, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, errors.Wrap(err, errors.ErrorTypeConnection, "failed to read response body")
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, resp.StatusCode, errors.Newf(errors.ErrorTypeConnection, "server returned status %d", resp.StatusCode).
			WithDetail("status", resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, resp.StatusCode, errors.Newf(errors.ErrorTypeData, "unexpected status %d", resp.StatusCode).
			WithDetail("status", resp.StatusCode).
			WithDetail("body", string(body))
	}

	var env pageEnvelope
	if err := gojson.Unmarshal(body, &env); err != nil {
		return nil, resp.StatusCode, errors.Wrap(err, errors.ErrorTypeData, "malformed page response")
	}
	return &env, resp.StatusCode, nil
}

// buildURL assembles the request URL from the path template and query window.
func (c *Client) buildURL(window models.QueryWindow, cursorFilter, pageToken string) (string, error) {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeConfig, "invalid base URL")
	}

	ref, err := url.Parse(fmt.Sprintf(dailyStatisticsPath, window.StudyID, window.SubjectID))
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeInternal, "invalid resource path")
	}
	u := base.ResolveReference(ref)

	q := u.Query()
	q.Set("fromDate", window.FromDate)
	q.Set("toDate", window.ToDate)
	if window.SettingID != "" {
		q.Set("dailyStatisticsSettingId", window.SettingID)
	}
	if cursorFilter != "" {
		q.Set(models.CursorField, cursorFilter)
	}
	if pageToken != "" {
		q.Set("nextPageToken", pageToken)
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// decodeItems extracts the record array from a page envelope. The selector
// key must be present and hold an array; anything else is a malformed page.
func decodeItems(env *pageEnvelope) ([]map[string]interface{}, error) {
	if len(env.Items) == 0 || string(env.Items) == "null" {
		return nil, errors.Newf(errors.ErrorTypeData, "page response missing %q array", itemsKey)
	}

	var items []map[string]interface{}
	if err := gojson.Unmarshal(env.Items, &items); err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeData, "page %q value is not an array of objects", itemsKey)
	}
	return items, nil
}
