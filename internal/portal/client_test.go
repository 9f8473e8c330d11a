package portal

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const loginPage = `<html><body><form method="post">
<input type="hidden" name="__VIEWSTATE" value="vs-scraped" />
<input type="hidden" name="__EVENTVALIDATION" value="ev-scraped" />
<input type="hidden" name="other" value="ignored" />
<input type="text" name="username" />
</form></body></html>`

type fakePortal struct {
	t           *testing.T
	servePage   bool
	grantAuth   bool
	gotForm     map[string]string
	gotRequest  timetableRequest
	lessonsJSON string
}

func (p *fakePortal) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/modules/Login.aspx", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			if !p.servePage {
				http.NotFound(w, r)
				return
			}
			io.WriteString(w, loginPage)
			return
		}
		require.NoError(p.t, r.ParseForm())
		p.gotForm = map[string]string{}
		for k := range r.PostForm {
			p.gotForm[k] = r.PostForm.Get(k)
		}
		http.SetCookie(w, &http.Cookie{Name: "ASP.NET_SessionId", Value: "session", Path: "/"})
		if p.grantAuth {
			http.SetCookie(w, &http.Cookie{Name: authCookie, Value: "token", Path: "/"})
		}
		http.Redirect(w, r, "/modules/Start.aspx", http.StatusFound)
	})
	authed := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if c, err := r.Cookie(authCookie); err != nil || c.Value != "token" {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next(w, r)
		}
	}
	mux.HandleFunc("/api/Api/AppUser/GetUserInfo", authed(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"crmEntityId": "4707"}`)
	}))
	mux.HandleFunc("/api/Api/AppUser/GetSchoolsAndSettingsForCurrentUser", authed(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[{"id": 35}, {"id": 36}]`)
	}))
	mux.HandleFunc("/api/timetable", authed(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(p.t, json.NewDecoder(r.Body).Decode(&p.gotRequest))
		io.WriteString(w, p.lessonsJSON)
	}))
	return mux
}

func newTestClient(t *testing.T, srv *httptest.Server, opts Options) *Client {
	t.Helper()
	opts.BaseURL = srv.URL
	opts.APIURL = srv.URL + "/api/timetable"
	opts.Username = "student"
	opts.Password = "secret"
	c, err := NewClient(slog.New(slog.NewTextHandler(io.Discard, nil)), opts)
	require.NoError(t, err)
	return c
}

func TestFetchRawLessons(t *testing.T) {
	p := &fakePortal{t: t, servePage: true, grantAuth: true, lessonsJSON: `{"lessons": [
		{"SubjectName": "Math", "start": "2024-05-06T09:00:00+02:00", "end": "2024-05-06T10:00:00+02:00",
		 "StudentClassName": "10b", "TeacherName": "Miller", "AdditionalTeacherNamesString": "Miller,Jones",
		 "RoomName": "A101", "AdditionalRooms": null},
		{"SubjectName": "Art", "start": null, "end": "2024-05-06T11:00:00+02:00"}
	]}`}
	srv := httptest.NewServer(p.handler())
	defer srv.Close()

	c := newTestClient(t, srv, Options{})
	from := time.Date(2024, time.May, 6, 0, 0, 0, 0, time.UTC)
	got, err := c.FetchRawLessons(context.Background(), from, from.AddDate(0, 0, 7))
	require.NoError(t, err)

	assert.Equal(t, "vs-scraped", p.gotForm["__VIEWSTATE"])
	assert.Equal(t, "ev-scraped", p.gotForm["__EVENTVALIDATION"])
	assert.Equal(t, "student", p.gotForm["username"])
	assert.Equal(t, timetableRequest{
		SchoolID:  35,
		StudentID: 4707,
		From:      "2024-05-06T00:00:00.000000Z",
		To:        "2024-05-13T00:00:00.000000Z",
	}, p.gotRequest)

	require.Len(t, got, 2)
	assert.Equal(t, "Math", got[0].Subject)
	assert.True(t, got[0].Start.Equal(time.Date(2024, time.May, 6, 7, 0, 0, 0, time.UTC)))
	assert.Equal(t, "Miller,Jones", got[0].AdditionalTeachers)
	assert.Equal(t, "", got[0].AdditionalRooms)
	assert.True(t, got[1].Start.IsZero())
}

func TestLoginFallsBackToConfiguredFormFields(t *testing.T) {
	p := &fakePortal{t: t, grantAuth: true, lessonsJSON: `{"lessons": []}`}
	srv := httptest.NewServer(p.handler())
	defer srv.Close()

	c := newTestClient(t, srv, Options{ViewState: "vs-env", EventValidation: "ev-env", SchoolID: 1, StudentID: 2})
	got, err := c.FetchRawLessons(context.Background(), time.Now(), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, "vs-env", p.gotForm["__VIEWSTATE"])
	assert.Equal(t, 1, p.gotRequest.SchoolID)
	assert.Equal(t, 2, p.gotRequest.StudentID)
}

func TestFetchSendsSessionToSeparateAPIHost(t *testing.T) {
	p := &fakePortal{t: t, grantAuth: true, lessonsJSON: `{"lessons": []}`}
	srv := httptest.NewServer(p.handler())
	defer srv.Close()

	c := newTestClient(t, srv, Options{SchoolID: 1, StudentID: 2})
	c.opts.APIURL = strings.Replace(srv.URL, "127.0.0.1", "localhost", 1) + "/api/timetable"

	_, err := c.FetchRawLessons(context.Background(), time.Now(), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, p.gotRequest.SchoolID)
}

func TestLoginFailsWithoutAuthCookie(t *testing.T) {
	p := &fakePortal{t: t, servePage: true}
	srv := httptest.NewServer(p.handler())
	defer srv.Close()

	c := newTestClient(t, srv, Options{})
	_, err := c.FetchRawLessons(context.Background(), time.Now(), time.Now().Add(time.Hour))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLoginFailed))
}

func TestParseTimestamp(t *testing.T) {
	berlin := time.FixedZone("CEST", 2*60*60)
	want := time.Date(2024, time.May, 6, 7, 0, 0, 0, time.UTC)

	assert.True(t, parseTimestamp("2024-05-06T09:00:00+02:00", time.UTC).Equal(want))
	assert.True(t, parseTimestamp("2024-05-06T09:00:00+0200", time.UTC).Equal(want))
	assert.True(t, parseTimestamp("2024-05-06T09:00:00", berlin).Equal(want))
	assert.True(t, parseTimestamp("", time.UTC).IsZero())
	assert.True(t, parseTimestamp("soon", time.UTC).IsZero())
}
