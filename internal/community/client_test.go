package community

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"steamcommunity/internal/components/telemetry"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

const sorryPage = `<html><body><h1>Sorry!</h1><h3>The specified profile could not be found.</h3></body></html>`

const signInPage = `<html><head><title>Sign In</title></head><body><script>g_steamID = false;</script></body></html>`

const tradeErrorPage = `<html><body><div id="error_msg">
	You cannot trade with this user.
</div></body></html>`

const familyViewPage = `<div id="parental_notice_instructions">Enter your PIN below to exit Family View.</div>`

func newTestServer(t testing.TB) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/redirect-login", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/login/home/?goto=mobileconf", http.StatusFound)
	})
	mux.HandleFunc("/redirect-ok", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ok", http.StatusFound)
	})
	mux.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>ok</body></html>`)
	})
	mux.HandleFunc("/sorry", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, sorryPage)
	})
	mux.HandleFunc("/signin", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, signInPage)
	})
	mux.HandleFunc("/trade-error", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, tradeErrorPage)
	})
	mux.HandleFunc("/family-view", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, familyViewPage)
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	mux.HandleFunc("/empty-json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "application/json")
	})
	mux.HandleFunc("/echo", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		language, _ := r.Cookie("Steam_Language")
		languageValue := ""
		if language != nil {
			languageValue = language.Value
		}
		fmt.Fprintf(
			w,
			`{"method":%q,"origin":%q,"op":%q,"cids":%d,"language":%q}`,
			r.Method,
			r.Header.Get("origin"),
			r.Form.Get("op"),
			len(r.Form["cid[]"]),
			languageValue,
		)
	})
	return httptest.NewServer(mux)
}

func newTestClient(t testing.TB, baseUrl string, expired *int32) *Client {
	client, err := NewClient(ClientOptions{
		BaseUrl:           baseUrl,
		RequestsPerSecond: 100,
		Tel:               &telemetry.Recorder{},
		Session: SessionObserverFunc(func(err error) {
			require.ErrorIs(t, err, ErrNotLoggedIn)
			atomic.AddInt32(expired, 1)
		}),
	})
	require.NoError(t, err)
	return client
}

func TestClientErrors(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	var expired int32
	client := newTestClient(t, server.URL, &expired)

	testCases := []struct {
		name    string
		request Request
		check   func(t *testing.T, err error)
		expired int32
	}{
		{
			name:    "redirect to login",
			request: Request{Url: "/redirect-login"},
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, ErrNotLoggedIn)
			},
			expired: 1,
		},
		{
			name:    "redirect followed",
			request: Request{Url: "/redirect-ok"},
			check: func(t *testing.T, err error) {
				require.NoError(t, err)
			},
		},
		{
			name:    "sorry page",
			request: Request{Url: "/sorry"},
			check: func(t *testing.T, err error) {
				var communityErr CommunityError
				require.True(t, errors.As(err, &communityErr))
				require.Equal(t, "The specified profile could not be found.", communityErr.Message)
			},
		},
		{
			name:    "sign in page",
			request: Request{Url: "/signin"},
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, ErrNotLoggedIn)
			},
			expired: 1,
		},
		{
			name:    "trade error",
			request: Request{Url: "/trade-error"},
			check: func(t *testing.T, err error) {
				require.EqualError(t, err, "You cannot trade with this user.")
			},
		},
		{
			name:    "family view",
			request: Request{Url: "/family-view"},
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, ErrFamilyViewRestricted)
			},
		},
		{
			name:    "http error",
			request: Request{Url: "/broken", Json: true},
			check: func(t *testing.T, err error) {
				var httpErr HTTPError
				require.True(t, errors.As(err, &httpErr))
				require.Equal(t, http.StatusInternalServerError, httpErr.Code)
			},
		},
		{
			name:    "empty json",
			request: Request{Url: "/empty-json", Json: true},
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, ErrMalformedResponse)
			},
		},
		{
			name:    "html checks skipped for json",
			request: Request{Url: "/sorry", Json: true},
			check: func(t *testing.T, err error) {
				require.NoError(t, err)
			},
		},
	}

	for _, test := range testCases {
		t.Run(test.name, func(t *testing.T) {
			before := atomic.LoadInt32(&expired)
			_, err := client.Do(context.Background(), test.request)
			test.check(t, err)
			require.Equal(t, test.expired, atomic.LoadInt32(&expired)-before)
		})
	}
}

func TestClientNoRedirect(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	var expired int32
	client := newTestClient(t, server.URL, &expired)

	res, err := client.Do(context.Background(), Request{Url: "/redirect-ok", NoRedirect: true})
	require.NoError(t, err)
	require.Equal(t, http.StatusFound, res.StatusCode())
}

func TestClientPostForm(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	var expired int32
	client := newTestClient(t, server.URL, &expired)

	res, err := client.Do(context.Background(), Request{
		Method: http.MethodPost,
		Url:    "/echo",
		Form: url.Values{
			"op":    {"allow"},
			"cid[]": {"1", "2", "3"},
		},
		Json: true,
	})
	require.NoError(t, err)
	require.JSONEq(
		t,
		fmt.Sprintf(`{"method":"POST","origin":%q,"op":"allow","cids":3,"language":"english"}`, server.URL),
		res.String(),
	)
}

func TestSetCookies(t *testing.T) {
	var expired int32
	client := newTestClient(t, "https://steamcommunity.com", &expired)

	_, err := client.SteamID()
	require.ErrorIs(t, err, ErrNoSteamID)

	err = client.SetCookies([]string{
		"sessionid=abcdef",
		"steamLoginSecure=76561197960287930%7C%7CeyJhbGciOi",
	})
	require.NoError(t, err)

	steamID, err := client.SteamID()
	require.NoError(t, err)
	require.Equal(t, uint64(76561197960287930), steamID)

	err = client.SetCookies([]string{"no-equals-sign"})
	require.Error(t, err)

	err = client.SetCookies([]string{"steamLogin=garbage"})
	require.Error(t, err)
}
