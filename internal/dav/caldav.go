// Package dav mirrors events into a CalDAV calendar (iCloud, SOGo, Nextcloud, ...).
package dav

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav/caldav"

	"schoolcal/internal/models"
)

const productID = "-//schoolcal//EN"

// customTransport handles adding Basic Auth and custom headers to requests.
type customTransport struct {
	Username  string
	Password  string
	Transport http.RoundTripper
}

// RoundTrip adds required headers and authentication to each request.
func (t *customTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.SetBasicAuth(t.Username, t.Password)
	req.Header.Set("User-Agent", "schoolcal/1.0")
	return t.Transport.RoundTrip(req)
}

// Options configures a Client. Either CalendarURL, or Endpoint together with
// CalendarName, must be set.
type Options struct {
	Endpoint     string
	CalendarURL  string
	CalendarName string
	Username     string
	Password     string
	Location     *time.Location // Zone for floating times reported by the server
}

// Client is a client for interacting with a single CalDAV calendar.
type Client struct {
	caldavClient *caldav.Client
	logger       *slog.Logger
	calendarPath string
	loc          *time.Location
}

// NewClient creates a Client and resolves the target calendar.
func NewClient(ctx context.Context, logger *slog.Logger, opts Options) (*Client, error) {
	c, err := newClient(logger, opts)
	if err != nil {
		return nil, err
	}

	if c.calendarPath == "" {
		if opts.CalendarName == "" {
			return nil, errors.New("neither calendar url nor calendar name configured")
		}
		logger.Info("Finding CalDAV calendar", "calendarName", opts.CalendarName)
		c.calendarPath, err = c.findCalendar(ctx, opts.CalendarName)
		if err != nil {
			return nil, fmt.Errorf("could not find calendar '%s': %w", opts.CalendarName, err)
		}
	}
	logger.Info("Using CalDAV calendar", "path", c.calendarPath)

	return c, nil
}

// Discover lists the calendars of the account without selecting one.
func Discover(ctx context.Context, logger *slog.Logger, opts Options) ([]caldav.Calendar, error) {
	c, err := newClient(logger, opts)
	if err != nil {
		return nil, err
	}
	return c.ListCalendars(ctx)
}

func newClient(logger *slog.Logger, opts Options) (*Client, error) {
	endpoint := opts.Endpoint
	var calendarPath string
	if opts.CalendarURL != "" {
		u, err := url.Parse(opts.CalendarURL)
		if err != nil {
			return nil, fmt.Errorf("invalid calendar url: %w", err)
		}
		endpoint = u.Scheme + "://" + u.Host + "/"
		calendarPath = collectionPath(u.Path)
	}
	if endpoint == "" {
		return nil, errors.New("no caldav endpoint configured")
	}

	transport := &customTransport{
		Username:  opts.Username,
		Password:  opts.Password,
		Transport: http.DefaultTransport,
	}
	httpClient := &http.Client{Transport: transport}

	caldavClient, err := caldav.NewClient(httpClient, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create caldav client: %w", err)
	}

	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Client{
		caldavClient: caldavClient,
		logger:       logger,
		calendarPath: calendarPath,
		loc:          loc,
	}, nil
}

// ListCalendars returns every calendar in the current user's home set.
func (c *Client) ListCalendars(ctx context.Context) ([]caldav.Calendar, error) {
	principalPath, err := c.caldavClient.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to find principal path: %w", err)
	}

	homeSetPath, err := c.caldavClient.FindCalendarHomeSet(ctx, principalPath)
	if err != nil {
		return nil, fmt.Errorf("failed to find calendar home set: %w", err)
	}

	calendars, err := c.caldavClient.FindCalendars(ctx, homeSetPath)
	if err != nil {
		return nil, fmt.Errorf("failed to find calendars: %w", err)
	}
	return calendars, nil
}

// findCalendar discovers the user's calendars and returns the path of the one with the matching name.
func (c *Client) findCalendar(ctx context.Context, name string) (string, error) {
	calendars, err := c.ListCalendars(ctx)
	if err != nil {
		return "", err
	}
	for _, cal := range calendars {
		if cal.Name == name {
			return collectionPath(cal.Path), nil
		}
	}
	return "", fmt.Errorf("no calendar found with name '%s'", name)
}

// FetchRemoteEvents returns the events overlapping [from, to).
func (c *Client) FetchRemoteEvents(ctx context.Context, from, to time.Time) ([]models.RemoteEvent, error) {
	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:     ical.CompCalendar,
			AllProps: true,
			AllComps: true,
		},
		CompFilter: caldav.CompFilter{
			Name: ical.CompCalendar,
			Comps: []caldav.CompFilter{{
				Name:  ical.CompEvent,
				Start: from.UTC(),
				End:   to.UTC(),
			}},
		},
	}

	objects, err := c.caldavClient.QueryCalendar(ctx, c.calendarPath, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query calendar: %w", err)
	}

	var events []models.RemoteEvent
	for _, obj := range objects {
		decoded, err := fromICal(obj.Path, obj.Data, c.loc)
		if err != nil {
			return nil, fmt.Errorf("failed to decode calendar object %s: %w", obj.Path, err)
		}
		events = append(events, decoded...)
	}
	c.logger.Debug("Fetched CalDAV events", "count", len(events), "objects", len(objects))
	return events, nil
}

// ApplyAction performs a single create or delete against the calendar.
func (c *Client) ApplyAction(ctx context.Context, a models.Action) error {
	switch a.Kind {
	case models.ActionCreate:
		return c.createEvent(ctx, a.Event)
	case models.ActionDelete:
		return c.deleteEvent(ctx, a.Remote)
	default:
		return fmt.Errorf("unsupported action %s", a.Kind)
	}
}

// createEvent writes the event as <uid>.ics into the calendar collection.
func (c *Client) createEvent(ctx context.Context, event models.Event) error {
	c.logger.Debug("Creating event", "eventTitle", event.Title, "uid", event.UID)

	eventPath := path.Join(c.calendarPath, event.UID+".ics")
	if _, err := c.caldavClient.PutCalendarObject(ctx, eventPath, toICal(event, time.Now())); err != nil {
		return fmt.Errorf("failed to create event on CalDAV server: %w", err)
	}
	return nil
}

func (c *Client) deleteEvent(ctx context.Context, remote models.RemoteEvent) error {
	if remote.Ref == "" {
		return fmt.Errorf("event %s has no object path", remote.UID)
	}
	c.logger.Debug("Deleting event", "eventTitle", remote.Title, "path", remote.Ref)

	if err := c.caldavClient.RemoveAll(ctx, remote.Ref); err != nil {
		return fmt.Errorf("failed to delete event on CalDAV server: %w", err)
	}
	return nil
}

// toICal converts an internal Event model to a VCALENDAR holding one VEVENT
// with a display alarm.
func toICal(event models.Event, stamp time.Time) *ical.Calendar {
	ve := ical.NewComponent(ical.CompEvent)
	ve.Props.SetText(ical.PropUID, event.UID)
	ve.Props.SetText(ical.PropSummary, event.Title)
	ve.Props.SetDateTime(ical.PropDateTimeStamp, stamp.UTC())
	ve.Props.SetDateTime(ical.PropDateTimeStart, event.StartTime.UTC())
	ve.Props.SetDateTime(ical.PropDateTimeEnd, event.EndTime.UTC())
	ve.Props.SetText(ical.PropClass, "PRIVATE")

	if event.Description != "" {
		ve.Props.SetText(ical.PropDescription, event.Description)
	}
	if event.Location != "" {
		ve.Props.SetText(ical.PropLocation, event.Location)
	}

	alarm := ical.NewComponent(ical.CompAlarm)
	alarm.Props.SetText(ical.PropAction, "DISPLAY")
	alarm.Props.SetText(ical.PropDescription, "Reminder")
	trigger := ical.NewProp(ical.PropTrigger)
	trigger.Value = formatTrigger(event.Reminder)
	alarm.Props.Set(trigger)
	ve.Children = append(ve.Children, alarm)

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)
	cal.Children = append(cal.Children, ve)
	return cal
}

// fromICal extracts the events of one calendar object.
func fromICal(objectPath string, cal *ical.Calendar, loc *time.Location) ([]models.RemoteEvent, error) {
	if cal == nil {
		return nil, nil
	}
	var out []models.RemoteEvent
	for _, ev := range cal.Events() {
		uid, err := ev.Props.Text(ical.PropUID)
		if err != nil {
			return nil, fmt.Errorf("invalid UID: %w", err)
		}
		start, err := ev.DateTimeStart(loc)
		if err != nil {
			return nil, fmt.Errorf("invalid DTSTART: %w", err)
		}
		end, err := ev.DateTimeEnd(loc)
		if err != nil {
			return nil, fmt.Errorf("invalid DTEND: %w", err)
		}
		summary, _ := ev.Props.Text(ical.PropSummary)

		out = append(out, models.RemoteEvent{
			UID:       uid,
			Ref:       objectPath,
			Title:     summary,
			StartTime: start,
			EndTime:   end,
		})
	}
	return out, nil
}

// formatTrigger renders a reminder lead time as a negative RFC 5545 duration.
func formatTrigger(lead time.Duration) string {
	if lead <= 0 {
		return "PT0S"
	}
	lead = lead.Round(time.Second)
	var b strings.Builder
	b.WriteString("-PT")
	if h := lead / time.Hour; h > 0 {
		fmt.Fprintf(&b, "%dH", h)
		lead -= h * time.Hour
	}
	if m := lead / time.Minute; m > 0 {
		fmt.Fprintf(&b, "%dM", m)
		lead -= m * time.Minute
	}
	if s := lead / time.Second; s > 0 {
		fmt.Fprintf(&b, "%dS", s)
	}
	return b.String()
}

func collectionPath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}
