package totp

import (
	"context"
	"encoding/json"
	"fmt"
	"steamcommunity/internal/components/chrono"
	"steamcommunity/internal/components/telemetry"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	report_offset_query_time = "offset.query-time"
)

const DefaultQueryTimeUrl = "https://api.steampowered.com/ITwoFactorService/QueryTime/v1/"

// OffsetTTL is how long a fetched time offset stays valid.
const OffsetTTL = 12 * time.Hour

type queryTimeResponse struct {
	Response struct {
		ServerTime json.Number `json:"server_time"`
	} `json:"response"`
}

// OffsetSource caches the difference between the server clock and the local
// clock in seconds.
type OffsetSource struct {
	http  *resty.Client
	url   string
	clock chrono.TimeAPI
	tel   telemetry.API

	mutex     sync.Mutex
	offset    int64
	fetchedAt time.Time
	valid     bool
}

func NewOffsetSource(http *resty.Client, url string, clock chrono.TimeAPI, tel telemetry.API) *OffsetSource {
	if url == "" {
		url = DefaultQueryTimeUrl
	}
	return &OffsetSource{
		http:  http,
		url:   url,
		clock: clock,
		tel:   telemetry.NewScopedAPI("totp", tel),
	}
}

// Offset returns the cached offset, querying the server when it is missing or
// older than OffsetTTL.
func (s *OffsetSource) Offset(ctx context.Context) (int64, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.valid && s.clock.Now().Sub(s.fetchedAt) < OffsetTTL {
		return s.offset, nil
	}

	offset, err := s.query(ctx)
	if err != nil {
		return 0, err
	}
	s.offset = offset
	s.fetchedAt = s.clock.Now()
	s.valid = true
	return offset, nil
}

func (s *OffsetSource) query(ctx context.Context) (int64, error) {
	res, err := s.http.R().
		SetContext(ctx).
		SetHeader("content-length", "0").
		Post(s.url)
	if err != nil {
		s.tel.ReportBroken(report_offset_query_time, fmt.Errorf("fetch: %w", err))
		return 0, err
	}
	if res.IsError() {
		err := fmt.Errorf("query time: HTTP error %d", res.StatusCode())
		s.tel.ReportBroken(report_offset_query_time, err)
		return 0, err
	}

	var body queryTimeResponse
	err = json.Unmarshal(res.Body(), &body)
	if err != nil {
		s.tel.ReportBroken(report_offset_query_time, fmt.Errorf("json unmarshal: %w", err))
		return 0, err
	}
	serverTime, err := strconv.ParseInt(body.Response.ServerTime.String(), 10, 64)
	if err != nil {
		s.tel.ReportBroken(report_offset_query_time, fmt.Errorf("parse server_time: %w", err))
		return 0, fmt.Errorf("malformed query time response: %w", err)
	}

	return serverTime - s.clock.Now().Unix(), nil
}
