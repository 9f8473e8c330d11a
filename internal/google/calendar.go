package google

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"schoolcal/internal/models"
)

const (
	credentialsFile = "credentials.json"
)

var scopes = []string{calendar.CalendarEventsScope, calendar.CalendarReadonlyScope}

// CalendarClient mirrors events into one Google calendar.
type CalendarClient struct {
	service    *calendar.Service
	logger     *slog.Logger
	calendarID string
}

// NewClient creates a new Google Calendar client.
// It handles loading credentials and setting up an authenticated HTTP client.
// The accountName is used to find the token-<accountName>.json file written by the auth command.
func NewClient(ctx context.Context, logger *slog.Logger, clientID, clientSecret, accountName, calendarID string) (*CalendarClient, error) {
	config, err := getOAuthConfig(clientID, clientSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to get OAuth config: %w", err)
	}

	tokenFile := fmt.Sprintf("token-%s.json", accountName)
	token, err := tokenFromFile(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("could not load token for account %s: %w. Please run the 'auth' command first", accountName, err)
	}

	client := config.Client(ctx, token)
	service, err := calendar.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}

	return &CalendarClient{service: service, logger: logger, calendarID: calendarID}, nil
}

// FetchRemoteEvents returns the timed events overlapping [from, to).
func (c *CalendarClient) FetchRemoteEvents(ctx context.Context, from, to time.Time) ([]models.RemoteEvent, error) {
	c.logger.Debug("Fetching events", "calendarID", c.calendarID, "from", from, "to", to)

	var out []models.RemoteEvent
	err := c.service.Events.List(c.calendarID).
		ShowDeleted(false).
		SingleEvents(true).
		TimeMin(from.Format(time.RFC3339)).
		TimeMax(to.Format(time.RFC3339)).
		OrderBy("startTime").
		Pages(ctx, func(page *calendar.Events) error {
			events, err := toRemoteEvents(page.Items)
			if err != nil {
				return err
			}
			out = append(out, events...)
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve events: %w", err)
	}

	c.logger.Debug("Fetched events from Google Calendar", "count", len(out), "calendarID", c.calendarID)
	return out, nil
}

// ApplyAction performs a single create or delete against the calendar.
func (c *CalendarClient) ApplyAction(ctx context.Context, a models.Action) error {
	switch a.Kind {
	case models.ActionCreate:
		// Import keeps our iCalUID, which Insert would replace.
		if _, err := c.service.Events.Import(c.calendarID, toGoogleEvent(a.Event)).Context(ctx).Do(); err != nil {
			return fmt.Errorf("failed to import event: %w", err)
		}
		return nil
	case models.ActionDelete:
		if err := c.service.Events.Delete(c.calendarID, a.Remote.Ref).Context(ctx).Do(); err != nil {
			return fmt.Errorf("failed to delete event: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unsupported action %s", a.Kind)
	}
}

// toGoogleEvent converts an internal Event to the Google Calendar representation.
func toGoogleEvent(e models.Event) *calendar.Event {
	return &calendar.Event{
		ICalUID:     e.UID,
		Summary:     e.Title,
		Description: e.Description,
		Location:    e.Location,
		Visibility:  "private",
		Start:       &calendar.EventDateTime{DateTime: e.StartTime.Format(time.RFC3339)},
		End:         &calendar.EventDateTime{DateTime: e.EndTime.Format(time.RFC3339)},
		Reminders: &calendar.EventReminders{
			UseDefault: false,
			Overrides: []*calendar.EventReminder{{
				Method:          "popup",
				Minutes:         int64(e.Reminder / time.Minute),
				ForceSendFields: []string{"Minutes"},
			}},
			ForceSendFields: []string{"UseDefault"},
		},
	}
}

// toRemoteEvents converts Google Calendar events to the internal RemoteEvent model.
func toRemoteEvents(items []*calendar.Event) ([]models.RemoteEvent, error) {
	var out []models.RemoteEvent
	for _, item := range items {
		// Skip events without a start time (e.g., all-day events without a specific time)
		if item.Start == nil || item.Start.DateTime == "" || item.End == nil || item.End.DateTime == "" {
			continue
		}

		start, err := time.Parse(time.RFC3339, item.Start.DateTime)
		if err != nil {
			return nil, fmt.Errorf("event %s has invalid start: %w", item.Id, err)
		}
		end, err := time.Parse(time.RFC3339, item.End.DateTime)
		if err != nil {
			return nil, fmt.Errorf("event %s has invalid end: %w", item.Id, err)
		}

		out = append(out, models.RemoteEvent{
			UID:       item.ICalUID,
			Ref:       item.Id,
			Title:     item.Summary,
			StartTime: start,
			EndTime:   end,
		})
	}
	return out, nil
}

// GetOAuthConfigForAuthFlow is used by the auth command to get the config for the web flow.
func GetOAuthConfigForAuthFlow(clientID, clientSecret string) (*oauth2.Config, error) {
	return getOAuthConfig(clientID, clientSecret)
}

// getOAuthConfig reads credentials and returns an OAuth2 config.
// It prioritizes environment variables over a local credentials.json file.
func getOAuthConfig(clientID, clientSecret string) (*oauth2.Config, error) {
	if clientID != "" && clientSecret != "" {
		return &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  "urn:ietf:wg:oauth:2.0:oob",
			Scopes:       scopes,
			Endpoint:     google.Endpoint,
		}, nil
	}

	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		if _, ok := err.(*fs.PathError); ok {
			return nil, fmt.Errorf("credentials.json not found. Please provide GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET env vars or place credentials.json in the working directory")
		}
		return nil, fmt.Errorf("unable to read client secret file: %w", err)
	}

	config, err := google.ConfigFromJSON(b, scopes...)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret file to config: %w", err)
	}
	config.RedirectURL = "urn:ietf:wg:oauth:2.0:oob" // For desktop app flow
	return config, nil
}

// TokenFromWeb is called by the auth flow to retrieve a token.
func TokenFromWeb(ctx context.Context, config *oauth2.Config, authCode string) (*oauth2.Token, error) {
	return config.Exchange(ctx, authCode)
}

// SaveToken saves a token to a file path.
func SaveToken(path string, token *oauth2.Token) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("unable to create token file: %w", err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(token)
}

// tokenFromFile retrieves a token from a local file.
func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	err = json.NewDecoder(f).Decode(tok)
	return tok, err
}

// DiscoverGoogleCalendars lists the calendars of the authenticated account as id -> summary.
func (c *CalendarClient) DiscoverGoogleCalendars(ctx context.Context) (map[string]string, error) {
	calendars := make(map[string]string)
	err := c.service.CalendarList.List().Pages(ctx, func(page *calendar.CalendarList) error {
		for _, item := range page.Items {
			calendars[item.Id] = item.Summary
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list calendars: %w", err)
	}
	return calendars, nil
}

// GetTokenAccounts lists the account names of the token files in dir.
func GetTokenAccounts(dir string) ([]string, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var accounts []string
	for _, file := range files {
		if strings.HasPrefix(file.Name(), "token-") && strings.HasSuffix(file.Name(), ".json") {
			accountName := strings.TrimSuffix(strings.TrimPrefix(file.Name(), "token-"), ".json")
			accounts = append(accounts, accountName)
		}
	}
	return accounts, nil
}
