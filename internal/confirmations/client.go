package confirmations

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"steamcommunity/internal/community"
	"steamcommunity/internal/components/assert"
	"steamcommunity/internal/components/chrono"
	"steamcommunity/internal/components/telemetry"
	"steamcommunity/internal/totp"
	"strconv"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("steamcommunity/internal/confirmations")

const (
	report_client_list     = "client.list"
	report_client_offer_id = "client.offer-id"
	report_client_respond  = "client.respond"
	report_client_object   = "client.accept-for-object"
)

// amount of per-second timestamps remembered by AcceptForObject
const usedTimesHistory = 60

// Client talks to the mobile confirmation endpoints on behalf of the account
// logged into the community client.
type Client struct {
	community *community.Client
	offsets   *totp.OffsetSource
	clock     chrono.TimeAPI
	tel       telemetry.API

	usedMutex sync.Mutex
	usedTimes []int64
	// every timestamp dropped from usedTimes is <= usedFloor
	usedFloor int64
}

func NewClient(
	communityClient *community.Client,
	offsets *totp.OffsetSource,
	clock chrono.TimeAPI,
	tel telemetry.API,
) *Client {
	assert.NotNil(communityClient)
	assert.NotNil(offsets)
	assert.NotNil(clock)
	assert.NotNil(tel)

	return &Client{
		community: communityClient,
		offsets:   offsets,
		clock:     clock,
		tel:       telemetry.NewScopedAPI("confirmations", tel),
	}
}

func (c *Client) params(key string, t int64, tag string) (url.Values, error) {
	steamID, err := c.community.SteamID()
	if err != nil {
		return nil, err
	}
	return url.Values{
		"p":   {totp.DeviceID(steamID)},
		"a":   {strconv.FormatUint(steamID, 10)},
		"k":   {key},
		"t":   {strconv.FormatInt(t, 10)},
		"m":   {"react"},
		"tag": {tag},
	}, nil
}

// List returns every outstanding confirmation, key must be derived with the
// tag "conf" at the given time.
func (c *Client) List(ctx context.Context, t int64, key string) ([]Confirmation, error) {
	return c.ListTagged(ctx, t, key, TAG_LIST)
}

// ListTagged is List for a key that was derived with another tag.
func (c *Client) ListTagged(ctx context.Context, t int64, key, tag string) ([]Confirmation, error) {
	ctx, span := tracer.Start(ctx, "client:List")
	defer span.End()
	span.SetAttributes(attribute.String("tag", tag))

	params, err := c.params(key, t, tag)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	res, err := c.community.Do(ctx, community.Request{
		Method: http.MethodGet,
		Url:    "/mobileconf/getlist",
		Query:  params,
		Json:   true,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch confirmation list")
		return nil, err
	}

	var body listResponse
	err = json.Unmarshal(res.Body(), &body)
	if err != nil {
		c.tel.ReportBroken(report_client_list, fmt.Errorf("json unmarshal: %w", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to unmarshal confirmation list")
		return nil, fmt.Errorf("%w: %w", community.ErrMalformedResponse, err)
	}

	if !body.Success {
		if body.NeedAuth {
			c.community.NotifySessionExpired(community.ErrNotLoggedIn)
			span.SetStatus(codes.Error, community.ErrNotLoggedIn.Error())
			return nil, community.ErrNotLoggedIn
		}

		message := body.Message
		if message == "" {
			message = body.Detail
		}
		if message == "" {
			message = "Failed to get confirmation list"
		}
		span.SetStatus(codes.Error, message)
		return nil, errors.New(message)
	}

	confs := confirmationsFromRaw(body.Conf)
	span.SetAttributes(attribute.Int("count", len(confs)))
	return confs, nil
}

// OfferID returns the trade offer id a confirmation belongs to, or an empty
// string if it does not belong to a trade offer. key must be derived with the
// tag "details".
func (c *Client) OfferID(ctx context.Context, confID string, t int64, key string) (string, error) {
	ctx, span := tracer.Start(ctx, "client:OfferID")
	defer span.End()

	params, err := c.params(key, t, TAG_DETAILS)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	res, err := c.community.Do(ctx, community.Request{
		Method: http.MethodGet,
		Url:    "/mobileconf/detailspage/" + url.PathEscape(confID),
		Query:  params,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch confirmation details")
		return "", err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		c.tel.ReportBroken(report_client_offer_id, fmt.Errorf("parse: %w", err), confID)
		return "", fmt.Errorf("Cannot load confirmation details: %w", err)
	}

	offer := doc.Find(".tradeoffer").First()
	if len(offer.Nodes) == 0 {
		return "", nil
	}

	_, offerID, found := strings.Cut(offer.AttrOr("id", ""), "_")
	if !found || offerID == "" {
		c.tel.ReportWarning(report_client_offer_id, "trade offer element without id", confID)
		return "", nil
	}
	return offerID, nil
}

type respondResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Respond accepts or cancels the given confirmations in a single request,
// ids[i] is answered with keys[i]. actionKey must be derived with the tag
// "allow" when accepting and "cancel" otherwise.
//
// A failed batch returns one error, there is no way to know which
// confirmations went through without listing them again.
func (c *Client) Respond(ctx context.Context, ids, keys []string, t int64, actionKey string, accept bool) error {
	return c.RespondTagged(ctx, ids, keys, t, actionKey, ActionTag(accept), accept)
}

// RespondTagged is Respond for an action key derived with another tag.
func (c *Client) RespondTagged(ctx context.Context, ids, keys []string, t int64, actionKey, tag string, accept bool) error {
	ctx, span := tracer.Start(ctx, "client:Respond")
	defer span.End()
	span.SetAttributes(
		attribute.StringSlice("ids", ids),
		attribute.Bool("accept", accept),
		attribute.String("tag", tag),
	)

	if len(ids) == 0 || len(ids) != len(keys) {
		span.SetStatus(codes.Error, ErrMismatchedKeys.Error())
		return ErrMismatchedKeys
	}

	params, err := c.params(actionKey, t, tag)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	params.Set("op", ActionTag(accept))

	req := community.Request{Json: true}
	if len(ids) == 1 {
		params.Set("cid", ids[0])
		params.Set("ck", keys[0])
		req.Method = http.MethodGet
		req.Url = "/mobileconf/ajaxop"
		req.Query = params
	} else {
		params["cid[]"] = ids
		params["ck[]"] = keys
		req.Method = http.MethodPost
		req.Url = "/mobileconf/multiajaxop"
		req.Form = params
	}

	res, err := c.community.Do(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to respond to confirmations")
		return err
	}

	var body respondResponse
	err = json.Unmarshal(res.Body(), &body)
	if err != nil {
		c.tel.ReportBroken(report_client_respond, fmt.Errorf("json unmarshal: %w", err))
		span.RecordError(err)
		return fmt.Errorf("%w: %w", community.ErrMalformedResponse, err)
	}
	if body.Success {
		return nil
	}
	if body.Message != "" {
		span.SetStatus(codes.Error, body.Message)
		return errors.New(body.Message)
	}
	span.SetStatus(codes.Error, ErrRespondFailed.Error())
	return ErrRespondFailed
}

// RespondAll lists the outstanding confirmations and answers all of them in
// one request. The returned confirmations are the ones that were answered,
// the list may already be stale by the time the response lands.
func (c *Client) RespondAll(ctx context.Context, t int64, listKey, actionKey string, accept bool) ([]Confirmation, error) {
	confs, err := c.List(ctx, t, listKey)
	if err != nil {
		return nil, err
	}
	if len(confs) == 0 {
		return []Confirmation{}, nil
	}

	ids := make([]string, len(confs))
	keys := make([]string, len(confs))
	for i, conf := range confs {
		ids[i] = conf.ID
		keys[i] = conf.Key
	}

	err = c.Respond(ctx, ids, keys, t, actionKey, accept)
	if err != nil {
		return nil, err
	}
	return confs, nil
}

// nextObjectTime returns a timestamp >= t that was never handed out before.
func (c *Client) nextObjectTime(t int64) int64 {
	c.usedMutex.Lock()
	defer c.usedMutex.Unlock()

	if t <= c.usedFloor {
		t = c.usedFloor + 1
	}
	for c.timeUsed(t) {
		t++
	}

	c.usedTimes = append(c.usedTimes, t)
	if len(c.usedTimes) > usedTimesHistory {
		dropped := c.usedTimes[:len(c.usedTimes)-usedTimesHistory]
		for _, d := range dropped {
			if d > c.usedFloor {
				c.usedFloor = d
			}
		}
		c.usedTimes = append([]int64{}, c.usedTimes[len(c.usedTimes)-usedTimesHistory:]...)
	}
	return t
}

func (c *Client) timeUsed(t int64) bool {
	for _, used := range c.usedTimes {
		if used == t {
			return true
		}
	}
	return false
}

// AcceptForObject accepts the confirmation belonging to a trade offer or
// market listing, deriving every key locally from the identity secret.
func (c *Client) AcceptForObject(ctx context.Context, secret []byte, objectID string) error {
	ctx, span := tracer.Start(ctx, "client:AcceptForObject")
	defer span.End()
	span.SetAttributes(attribute.String("object_id", objectID))

	offset, err := c.offsets.Offset(ctx)
	if err != nil {
		c.tel.ReportBroken(report_client_object, fmt.Errorf("time offset: %w", err), objectID)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get time offset")
		return err
	}

	t := totp.Unix(c.clock.Now(), offset)
	confs, err := c.ListTagged(ctx, t, totp.ConfirmationKey(secret, t, TAG_OBJECT_LIST), TAG_OBJECT_LIST)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list confirmations")
		return err
	}

	var match *Confirmation
	for i := range confs {
		if confs[i].CreatorID == objectID {
			match = &confs[i]
			break
		}
	}
	if match == nil {
		span.SetStatus(codes.Error, ErrNoConfirmationForObject.Error())
		return fmt.Errorf("%w %s", ErrNoConfirmationForObject, objectID)
	}

	t = c.nextObjectTime(totp.Unix(c.clock.Now(), offset))
	return c.RespondTagged(
		ctx,
		[]string{match.ID},
		[]string{match.Key},
		t,
		totp.ConfirmationKey(secret, t, TAG_OBJECT_ACCEPT),
		TAG_OBJECT_ACCEPT,
		true,
	)
}
