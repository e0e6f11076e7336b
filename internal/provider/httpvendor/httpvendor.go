// Package httpvendor implements provider.BarProvider against a generic
// HTTP/JSON bar vendor, grounded on the teacher's plain net/http JSON
// client style (its market-data price clients) and internal/flow.Client's
// node-pool/rate-limiter shape, generalized from a single gRPC node
// pool to a single HTTP base URL.
package httpvendor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"barsync/internal/manifest"
	"barsync/internal/provider"
	"barsync/internal/timeframe"
)

// Vendor is a thin REST client: one base URL, one API key, one set of
// declared capabilities. Concurrency and rate limiting are the
// Runtime's responsibility (spec.md §4.4); this type only shapes and
// issues the HTTP request and classifies the response.
//
// Week anchor: Week bars are expected on the core's grid, whose anchor
// day is the UTC weekday of the stream's desired_start (no remapping to
// Monday or Sunday); the Runtime rejects pages with bars off that grid.
type Vendor struct {
	BaseURL string
	APIKey  string
	Caps    provider.Capabilities
	HTTP    *http.Client
}

// New returns a Vendor pointed at baseURL with the given capabilities.
func New(baseURL, apiKey string, caps provider.Capabilities) *Vendor {
	return &Vendor{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Caps:    caps,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (v *Vendor) Capabilities(key manifest.StreamKey) (provider.Capabilities, error) {
	return v.Caps, nil
}

type barsResponse struct {
	Bars []struct {
		T  string   `json:"t"`
		O  float64  `json:"o"`
		H  float64  `json:"h"`
		L  float64  `json:"l"`
		C  float64  `json:"c"`
		V  float64  `json:"v"`
		N  *int64   `json:"n"`
		VW *float64 `json:"vw"`
	} `json:"bars"`
	NextPageToken string `json:"next_page_token"`
}

// FetchBars issues one GET against the vendor's bars endpoint and
// classifies any failure into the provider error taxonomy (spec.md §7).
func (v *Vendor) FetchBars(ctx context.Context, key manifest.StreamKey, tf timeframe.Timeframe, start, end time.Time, maxBars int, cursor []byte) (provider.FetchPage, error) {
	q := url.Values{}
	q.Set("symbol", key.Symbol)
	q.Set("asset_class", key.AssetClass)
	q.Set("timeframe", fmt.Sprintf("%d%s", key.TFAmount, key.TFUnit))
	q.Set("start", start.UTC().Format(time.RFC3339))
	q.Set("end", end.UTC().Format(time.RFC3339))
	q.Set("limit", strconv.Itoa(maxBars))
	if len(cursor) > 0 {
		q.Set("page_token", string(cursor))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.BaseURL+"/v2/bars?"+q.Encode(), nil)
	if err != nil {
		return provider.FetchPage{}, provider.NewPermanent("build_request", err)
	}
	req.Header.Set("Authorization", "Bearer "+v.APIKey)

	resp, err := v.HTTP.Do(req)
	if err != nil {
		return provider.FetchPage{}, provider.NewTransient("fetch_bars", 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := 0
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			retryAfter, _ = strconv.Atoi(ra)
		}
		return provider.FetchPage{}, provider.NewTransient("fetch_bars", retryAfter, fmt.Errorf("rate limited"))
	}
	if resp.StatusCode >= 500 {
		return provider.FetchPage{}, provider.NewTransient("fetch_bars", 0, fmt.Errorf("vendor status %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return provider.FetchPage{}, provider.NewPermanent("fetch_bars", fmt.Errorf("vendor status %d", resp.StatusCode))
	}

	var body barsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return provider.FetchPage{}, provider.NewPermanent("decode_response", err)
	}

	page := provider.FetchPage{}
	for _, b := range body.Bars {
		open, err := time.Parse(time.RFC3339, b.T)
		if err != nil {
			return provider.FetchPage{}, provider.NewInvariantViolation("parse_bar_open", err)
		}
		page.Bars = append(page.Bars, provider.Bar{
			OpenUTC:    open,
			CloseUTC:   tf.InstantOf(open, 1),
			Open:       b.O,
			High:       b.H,
			Low:        b.L,
			Close:      b.C,
			Volume:     b.V,
			TradeCount: b.N,
			VWAP:       b.VW,
		})
	}
	if body.NextPageToken != "" {
		page.NextCursor = []byte(body.NextPageToken)
	}
	return page, nil
}
