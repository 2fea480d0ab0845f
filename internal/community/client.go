package community

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"steamcommunity/internal/components/assert"
	"steamcommunity/internal/components/telemetry"
	"strconv"
	"strings"
	"sync"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

const (
	report_client_set_cookies = "client.set-cookies"
	report_client_request     = "client.request"
)

const DefaultBaseUrl = "https://steamcommunity.com"

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"

// cookies are mirrored onto these hosts unless a cookie names its own domain
var defaultCookieHosts = []string{
	"steamcommunity.com",
	"store.steampowered.com",
	"help.steampowered.com",
}

type ClientOptions struct {
	// BaseUrl defaults to DefaultBaseUrl.
	BaseUrl   string
	UserAgent string
	// Timeout defaults to 60 seconds.
	Timeout time.Duration
	// RequestsPerSecond defaults to 5, bursts are the same size.
	RequestsPerSecond float64
	Proxy             string
	Session           SessionObserver
	Tel               telemetry.API
}

// Client is an authenticated http session against the community site.
type Client struct {
	BaseUrl *url.URL
	Http    *resty.Client

	jar         http.CookieJar
	cookieHosts []string
	session     SessionObserver
	tel         telemetry.API

	mutex   sync.RWMutex
	steamID uint64
}

func NewClient(opts ClientOptions) (*Client, error) {
	assert.NotNil(opts.Tel)
	tel := telemetry.NewScopedAPI("community", opts.Tel)

	if opts.BaseUrl == "" {
		opts.BaseUrl = DefaultBaseUrl
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.Timeout == 0 {
		opts.Timeout = time.Minute
	}
	if opts.RequestsPerSecond == 0 {
		opts.RequestsPerSecond = 5
	}

	baseUrl, err := url.Parse(opts.BaseUrl)
	if err != nil {
		return nil, err
	}

	httpClient := resty.New()
	httpClient.SetBaseURL(opts.BaseUrl)
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	httpClient.SetCookieJar(jar)
	if opts.Proxy != "" {
		httpClient.SetProxy(opts.Proxy)
	}
	httpClient.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(httpClient.GetClient().Transport)

	httpClient.SetHeader("user-agent", opts.UserAgent)
	httpClient.SetRedirectPolicy(loginRedirectPolicy())
	httpClient.SetTimeout(opts.Timeout)

	burst := int(opts.RequestsPerSecond)
	if burst < 1 {
		burst = 1
	}
	rateLimiter := rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	httpClient.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return rateLimiter.Wait(req.Context())
	})

	telemetry.InstrumentResty(httpClient, tel)

	c := &Client{
		BaseUrl:     baseUrl,
		Http:        httpClient,
		jar:         jar,
		cookieHosts: append([]string{baseUrl.Host}, defaultCookieHosts...),
		session:     opts.Session,
		tel:         tel,
	}
	c.setCookie(&http.Cookie{Name: "Steam_Language", Value: "english"}, "")
	c.setCookie(&http.Cookie{Name: "timezoneOffset", Value: "0,0"}, "")

	return c, nil
}

type noRedirectKeyType int

var noRedirectKey noRedirectKeyType

// loginRedirectPolicy never follows a redirect to the login page so it can be
// reported as an expired session, requests may also opt out of redirects
// entirely.
func loginRedirectPolicy() resty.RedirectPolicy {
	return resty.RedirectPolicyFunc(func(req *http.Request, via []*http.Request) error {
		if noRedirect, _ := req.Context().Value(noRedirectKey).(bool); noRedirect {
			return http.ErrUseLastResponse
		}
		if strings.Contains(req.URL.Path, "/login") {
			return http.ErrUseLastResponse
		}
		if len(via) >= 10 {
			return fmt.Errorf("stopped after 10 redirects")
		}
		return nil
	})
}

var steamLoginCookie = regexp.MustCompile(`^steamLogin(Secure)?$`)
var steamIdPrefix = regexp.MustCompile(`^(\d+)`)

// SetCookies adds session cookies given as "name=value" strings and learns the
// account's steam id from the steamLogin / steamLoginSecure cookie.
func (c *Client) SetCookies(cookies []string) error {
	for _, raw := range cookies {
		pair := strings.TrimSpace(strings.SplitN(raw, ";", 2)[0])
		name, value, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			err := fmt.Errorf("malformed cookie %q", raw)
			c.tel.ReportWarning(report_client_set_cookies, err)
			return err
		}

		if steamLoginCookie.MatchString(name) {
			unescaped, err := url.QueryUnescape(value)
			if err != nil {
				unescaped = value
			}
			match := steamIdPrefix.FindString(unescaped)
			if match == "" {
				err := fmt.Errorf("could not find steam id in %s cookie", name)
				c.tel.ReportWarning(report_client_set_cookies, err)
				return err
			}
			steamID, err := strconv.ParseUint(match, 10, 64)
			if err != nil {
				c.tel.ReportWarning(report_client_set_cookies, err)
				return err
			}
			c.SetSteamID(steamID)
		}

		secure := strings.HasPrefix(name, "steamMachineAuth") || strings.HasSuffix(name, "Secure")
		c.setCookie(&http.Cookie{Name: name, Value: value, Secure: secure}, "")
	}
	return nil
}

func (c *Client) setCookie(cookie *http.Cookie, host string) {
	hosts := c.cookieHosts
	if host != "" {
		hosts = []string{host}
	}
	for _, h := range hosts {
		for _, scheme := range []string{"http", "https"} {
			if cookie.Secure && scheme == "http" {
				continue
			}
			c.jar.SetCookies(&url.URL{Scheme: scheme, Host: h}, []*http.Cookie{cookie})
		}
	}
}

// SetSteamID overrides the account the session belongs to.
func (c *Client) SetSteamID(steamID uint64) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.steamID = steamID
}

// SteamID returns the 64 bit steam id of the logged in account, or an error
// if no session cookies were provided yet.
func (c *Client) SteamID() (uint64, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	if c.steamID == 0 {
		return 0, ErrNoSteamID
	}
	return c.steamID, nil
}

// NotifySessionExpired forwards err to the session observer, if any.
func (c *Client) NotifySessionExpired(err error) {
	c.tel.ReportWarning(report_client_request, fmt.Errorf("session expired: %w", err))
	if c.session != nil {
		c.session.SessionExpired(err)
	}
}

// Request describes a single call against the community site.
type Request struct {
	Method string
	// Url is either absolute or relative to the client's base url.
	Url   string
	Query url.Values
	Form  url.Values
	// Json means the body is expected to be JSON, html error pages are not
	// looked for and an empty body is an error.
	Json       bool
	NoRedirect bool
}

// Do performs the request and turns every failure the site signals into an
// error, forwarding expired sessions to the session observer.
func (c *Client) Do(ctx context.Context, r Request) (*resty.Response, error) {
	if r.NoRedirect {
		ctx = context.WithValue(ctx, noRedirectKey, true)
	}

	req := c.Http.R().SetContext(ctx)
	if r.Query != nil {
		req.SetQueryParamsFromValues(r.Query)
	}
	if r.Json {
		req.SetHeader("accept", "application/json, text/plain, */*")
	}

	method := strings.ToUpper(r.Method)
	if method == "" {
		method = http.MethodGet
	}
	if method != http.MethodGet {
		req.SetHeader("origin", c.origin(r.Url))
		if r.Form != nil {
			req.SetFormDataFromValues(r.Form)
		}
	}

	res, err := req.Execute(method, r.Url)
	if err != nil {
		return res, err
	}
	return res, c.check(res, r.Json)
}

func (c *Client) origin(endpoint string) string {
	parsed, err := url.Parse(endpoint)
	if err != nil || parsed.Host == "" {
		return c.BaseUrl.Scheme + "://" + c.BaseUrl.Host
	}
	return parsed.Scheme + "://" + parsed.Host
}
