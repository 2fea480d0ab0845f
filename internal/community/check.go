package community

import (
	"bytes"
	"fmt"
	"net/http"
	"regexp"
	"steamcommunity/pkg/htmlutil"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
)

var familyViewNotice = regexp.MustCompile(`<div id="parental_notice_instructions">Enter your PIN below to exit Family View.</div>`)

// check runs the error checks in order: http status, community error pages
// and finally trade error messages, html checks only apply to non-json
// responses.
func (c *Client) check(res *resty.Response, json bool) error {
	status := res.StatusCode()
	body := res.Body()

	if status >= 300 && status <= 399 {
		location := res.Header().Get("Location")
		if strings.Contains(location, "/login") {
			c.NotifySessionExpired(ErrNotLoggedIn)
			return ErrNotLoggedIn
		}
	}

	if status == http.StatusForbidden && familyViewNotice.Match(body) {
		return ErrFamilyViewRestricted
	}

	if status >= 400 {
		return HTTPError{Code: status}
	}

	if json {
		if len(bytes.TrimSpace(body)) == 0 {
			return ErrMalformedResponse
		}
		return nil
	}

	if len(body) == 0 {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(body))
	if err != nil {
		c.tel.ReportBroken(report_client_request, fmt.Errorf("parse: %w", err), res.Request.URL)
		return err
	}

	if htmlutil.FirstText(doc.Find("h1")) == "Sorry!" {
		message := htmlutil.FirstText(doc.Find("h3"))
		if message == "" {
			message = "Unknown error occurred"
		}
		return CommunityError{Message: message}
	}

	if bytes.Contains(body, []byte("g_steamID = false;")) &&
		htmlutil.FirstText(doc.Find("title")) == "Sign In" {
		c.NotifySessionExpired(ErrNotLoggedIn)
		return ErrNotLoggedIn
	}

	if msg := doc.Find("div#error_msg"); len(msg.Nodes) > 0 {
		return CommunityError{Message: htmlutil.FirstText(msg)}
	}

	return nil
}
