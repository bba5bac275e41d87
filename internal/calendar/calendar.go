package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"
	gcalendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/belphemur/calendar-source/internal/config"
	"github.com/belphemur/calendar-source/internal/constants"
	"github.com/belphemur/calendar-source/internal/logging"
)

// fullSyncPageSize is the largest page the events feed accepts
const fullSyncPageSize = 2500

// GoogleOptions tunes channel registration and API usage
type GoogleOptions struct {
	ChannelTTL        time.Duration
	ChannelToken      string
	RequestsPerSecond float64
	Burst             int
}

// GoogleClient implements API on top of Google Calendar v3
type GoogleClient struct {
	srv     *gcalendar.Service
	opts    GoogleOptions
	limiter *rate.Limiter
	now     func() time.Time
	logger  zerolog.Logger
}

// NewGoogleClient creates a Calendar API client.
// A refresh token in oauthCfg takes precedence; otherwise application default credentials are used.
func NewGoogleClient(ctx context.Context, oauthCfg *config.OAuthConfig, opts GoogleOptions, extra ...option.ClientOption) (*GoogleClient, error) {
	logger := logging.GetLogger("calendar")

	var clientOpts []option.ClientOption
	if oauthCfg.HasRefreshToken() {
		logger.Debug().Msg("Using OAuth refresh token from environment")
		conf := &oauth2.Config{
			ClientID:     oauthCfg.ClientID,
			ClientSecret: oauthCfg.ClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{gcalendar.CalendarReadonlyScope},
		}
		ts := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: oauthCfg.RefreshToken})
		clientOpts = append(clientOpts, option.WithTokenSource(ts))
	} else {
		logger.Debug().Msg("No OAuth refresh token configured, using application default credentials")
		clientOpts = append(clientOpts, option.WithScopes(gcalendar.CalendarReadonlyScope))
	}
	clientOpts = append(clientOpts, extra...)

	srv, err := gcalendar.NewService(ctx, clientOpts...)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create Google Calendar service client")
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}

	return newGoogleClient(srv, opts), nil
}

func newGoogleClient(srv *gcalendar.Service, opts GoogleOptions) *GoogleClient {
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 5
	}
	if opts.Burst < 1 {
		opts.Burst = 1
	}
	return &GoogleClient{
		srv:     srv,
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.Burst),
		now:     time.Now,
		logger:  logging.GetLogger("calendar"),
	}
}

// wait applies the client-side request rate limit
func (c *GoogleClient) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter error: %w", err)
	}
	return nil
}

// FullSync walks every page of the feed without a sync token and returns the final sync token.
// Items are not returned: a full sync only re-baselines the cursor.
func (c *GoogleClient) FullSync(ctx context.Context, resourceID string) (string, error) {
	logger := c.logger.With().Str("resource_id", resourceID).Logger()
	logger.Debug().Msg("Starting full sync")

	pageToken := ""
	pages := 0
	for {
		if err := c.wait(ctx); err != nil {
			return "", err
		}
		call := c.srv.Events.List(resourceID).
			MaxResults(fullSyncPageSize).
			Fields("nextPageToken", "nextSyncToken").
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		events, err := call.Do()
		if err != nil {
			logger.Error().Err(err).Int("pages", pages).Msg("Full sync page request failed")
			return "", fmt.Errorf("failed to list events for full sync of %s: %w", resourceID, err)
		}
		pages++

		if events.NextPageToken != "" {
			pageToken = events.NextPageToken
			continue
		}
		if events.NextSyncToken == "" {
			return "", fmt.Errorf("full sync of %s: %w", resourceID, ErrMissingSyncToken)
		}
		logger.Debug().Int("pages", pages).Msg("Full sync completed")
		return events.NextSyncToken, nil
	}
}

// List fetches one page of the change feed. An invalidated sync token is reported through
// ListPage.StatusCode rather than as an error.
func (c *GoogleClient) List(ctx context.Context, resourceID, syncToken, pageToken string) (*ListPage, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	call := c.srv.Events.List(resourceID).Context(ctx)
	if syncToken != "" {
		call = call.SyncToken(syncToken)
	}
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}

	events, err := call.Do()
	if err != nil {
		if code := statusCode(err); code == constants.StatusSyncTokenInvalid {
			c.logger.Info().Str("resource_id", resourceID).Msg("Sync token invalidated by the API")
			return &ListPage{StatusCode: code}, nil
		}
		return nil, fmt.Errorf("failed to list events of %s: %w", resourceID, err)
	}

	page := &ListPage{
		Items:         make([]ChangeItem, 0, len(events.Items)),
		NextPageToken: events.NextPageToken,
		NextSyncToken: events.NextSyncToken,
		StatusCode:    events.HTTPStatusCode,
	}
	for _, ev := range events.Items {
		item, err := toChangeItem(ev)
		if err != nil {
			return nil, err
		}
		page.Items = append(page.Items, item)
	}
	return page, nil
}

// ListCalendars returns every calendar visible to the credentials
func (c *GoogleClient) ListCalendars(ctx context.Context) ([]CalendarInfo, error) {
	var out []CalendarInfo
	pageToken := ""
	for {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		call := c.srv.CalendarList.List().Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		list, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("failed to fetch calendars: %w", err)
		}
		for _, entry := range list.Items {
			out = append(out, CalendarInfo{
				ID:         entry.Id,
				Summary:    entry.Summary,
				AccessRole: entry.AccessRole,
				Primary:    entry.Primary,
			})
		}
		if list.NextPageToken == "" {
			return out, nil
		}
		pageToken = list.NextPageToken
	}
}

func toChangeItem(ev *gcalendar.Event) (ChangeItem, error) {
	payload, err := ev.MarshalJSON()
	if err != nil {
		return ChangeItem{}, fmt.Errorf("failed to encode event %s: %w", ev.Id, err)
	}
	return ChangeItem{
		ID:      ev.Id,
		Status:  ev.Status,
		Summary: ev.Summary,
		Created: parseTimestamp(ev.Created),
		Updated: parseTimestamp(ev.Updated),
		Payload: payload,
	}, nil
}

// parseTimestamp parses RFC3339 timestamps; cancelled entries may carry none
func parseTimestamp(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

// statusCode extracts the HTTP status from a Google API error, or 0
func statusCode(err error) int {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}
