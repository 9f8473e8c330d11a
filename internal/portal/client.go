// Package portal fetches timetables from an all4schools school portal.
package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"schoolcal/internal/models"
)

const (
	loginPath       = "modules/Login.aspx"
	userInfoPath    = "api/Api/AppUser/GetUserInfo"
	schoolsPath     = "api/Api/AppUser/GetSchoolsAndSettingsForCurrentUser"
	authCookie      = ".ASPXAUTH"
	requestTimeFmt  = "2006-01-02T15:04:05.000000Z"
	defaultTimeout  = 30 * time.Second
	maxResponseSize = 16 << 20
)

// ErrLoginFailed is returned when the portal does not issue an auth cookie.
var ErrLoginFailed = errors.New("portal login failed")

// Options configures a Client.
type Options struct {
	BaseURL         string
	APIURL          string
	Username        string
	Password        string
	ViewState       string
	EventValidation string
	SchoolID        int
	StudentID       int
	Location        *time.Location // Zone for timestamps without offset
}

// Client logs into the portal and reads the student's lessons.
// It is not safe for concurrent use.
type Client struct {
	opts   Options
	base   *url.URL
	logger *slog.Logger
	http   *http.Client
}

// NewClient creates a portal Client.
func NewClient(logger *slog.Logger, opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimSuffix(opts.BaseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("invalid portal url: %w", err)
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Client{
		opts:   opts,
		base:   base,
		logger: logger,
		http:   &http.Client{Timeout: defaultTimeout},
	}, nil
}

// FetchRawLessons logs in and returns the lessons between from and to.
func (c *Client) FetchRawLessons(ctx context.Context, from, to time.Time) ([]models.RawLesson, error) {
	if err := c.login(ctx); err != nil {
		return nil, err
	}
	if err := c.resolveIDs(ctx); err != nil {
		return nil, err
	}

	body := timetableRequest{
		SchoolID:      c.opts.SchoolID,
		StudentID:     c.opts.StudentID,
		From:          from.UTC().Format(requestTimeFmt),
		To:            to.UTC().Format(requestTimeFmt),
		GetAbsences:   false,
		GetShortNames: false,
	}
	var resp timetableResponse
	if err := c.postJSON(ctx, c.opts.APIURL, body, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch timetable: %w", err)
	}

	lessons := make([]models.RawLesson, 0, len(resp.Lessons))
	for _, l := range resp.Lessons {
		lessons = append(lessons, l.toRaw(c.opts.Location))
	}
	c.logger.Info("Fetched lessons from portal", "count", len(lessons))
	return lessons, nil
}

// login starts a fresh session. The form fields are scraped from the login
// page, falling back to the configured values.
func (c *Client) login(ctx context.Context) error {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return fmt.Errorf("failed to create cookie jar: %w", err)
	}
	c.http.Jar = jar

	loginURL := c.base.JoinPath(loginPath)
	fields, err := c.loginFields(ctx, loginURL.String())
	if err != nil {
		c.logger.Warn("Could not scrape login form, using configured values", "error", err)
		fields = url.Values{}
	}
	if fields.Get("__VIEWSTATE") == "" {
		fields.Set("__VIEWSTATE", c.opts.ViewState)
	}
	if fields.Get("__EVENTVALIDATION") == "" {
		fields.Set("__EVENTVALIDATION", c.opts.EventValidation)
	}
	fields.Set("loginbutton", "")
	fields.Set("username", c.opts.Username)
	fields.Set("password", c.opts.Password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, loginURL.String(), strings.NewReader(fields.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	// The portal answers a successful login with a redirect carrying the cookies.
	noRedirect := *c.http
	noRedirect.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	resp, err := noRedirect.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post login form: %w", err)
	}
	resp.Body.Close()

	for _, cookie := range jar.Cookies(c.base) {
		if cookie.Name == authCookie && cookie.Value != "" {
			c.logger.Debug("Logged into portal")
			return nil
		}
	}
	return fmt.Errorf("%w: status %s, no %s cookie", ErrLoginFailed, resp.Status, authCookie)
}

// loginFields returns the hidden inputs of the login form.
func (c *Client) loginFields(ctx context.Context, loginURL string) (url.Values, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, loginURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, err
	}
	fields := url.Values{}
	doc.Find(`input[type="hidden"]`).Each(func(_ int, s *goquery.Selection) {
		name, ok := s.Attr("name")
		if !ok || !strings.HasPrefix(name, "__") {
			return
		}
		value, _ := s.Attr("value")
		fields.Set(name, value)
	})
	return fields, nil
}

// resolveIDs discovers the student and school ids that are not configured.
func (c *Client) resolveIDs(ctx context.Context) error {
	if c.opts.StudentID == 0 {
		var info struct {
			CRMEntityID json.Number `json:"crmEntityId"`
		}
		if err := c.getJSON(ctx, c.base.JoinPath(userInfoPath).String(), &info); err != nil {
			return fmt.Errorf("failed to get user info: %w", err)
		}
		id, err := info.CRMEntityID.Int64()
		if err != nil {
			return fmt.Errorf("invalid crmEntityId %q: %w", info.CRMEntityID, err)
		}
		c.opts.StudentID = int(id)
		c.logger.Info("Discovered student id", "studentID", c.opts.StudentID)
	}

	if c.opts.SchoolID == 0 {
		var schools []struct {
			ID json.Number `json:"id"`
		}
		if err := c.getJSON(ctx, c.base.JoinPath(schoolsPath).String(), &schools); err != nil {
			return fmt.Errorf("failed to get schools: %w", err)
		}
		if len(schools) == 0 {
			return errors.New("portal account has no school")
		}
		id, err := schools[0].ID.Int64()
		if err != nil {
			return fmt.Errorf("invalid school id %q: %w", schools[0].ID, err)
		}
		c.opts.SchoolID = int(id)
		c.logger.Info("Discovered school id", "schoolID", c.opts.SchoolID)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, target string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) postJSON(ctx context.Context, target string, in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	if req.URL.Hostname() != c.base.Hostname() {
		c.attachSession(req)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request failed with status %s", resp.Status)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(out); err != nil {
		return fmt.Errorf("response is not valid JSON: %w", err)
	}
	return nil
}

// attachSession copies the portal session cookies onto a request for another
// host, such as an API served from a separate domain.
func (c *Client) attachSession(req *http.Request) {
	if c.http.Jar == nil {
		return
	}
	sent := make(map[string]bool)
	for _, cookie := range c.http.Jar.Cookies(req.URL) {
		sent[cookie.Name] = true
	}
	for _, cookie := range c.http.Jar.Cookies(c.base) {
		if !sent[cookie.Name] {
			req.AddCookie(&http.Cookie{Name: cookie.Name, Value: cookie.Value})
		}
	}
}
