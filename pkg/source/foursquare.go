package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	// DefaultBaseURL is the Foursquare v2 API root.
	DefaultBaseURL = "https://api.foursquare.com/v2"
	// DefaultAPIVersion pins the response shape the normalizer understands.
	DefaultAPIVersion = "20190101"
	// DefaultPageSize is the largest page users/self/checkins serves.
	DefaultPageSize = 250
)

// Foursquare pages through the authenticated user's check-in history.
type Foursquare struct {
	client   *http.Client
	baseURL  string
	token    string
	version  string
	pageSize int
}

// NewFoursquare creates a client for token. Empty values fall back to the
// defaults above.
func NewFoursquare(token, baseURL, version string, pageSize int) *Foursquare {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if version == "" {
		version = DefaultAPIVersion
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Foursquare{
		client:   &http.Client{Timeout: 30 * time.Second},
		baseURL:  baseURL,
		token:    token,
		version:  version,
		pageSize: pageSize,
	}
}

func (f *Foursquare) Name() string { return "foursquare" }

type checkinsResponse struct {
	Meta struct {
		Code        int    `json:"code"`
		ErrorType   string `json:"errorType"`
		ErrorDetail string `json:"errorDetail"`
	} `json:"meta"`
	Response struct {
		Checkins struct {
			Count int      `json:"count"`
			Items []Record `json:"items"`
		} `json:"checkins"`
	} `json:"response"`
}

// Fetch walks the history newest first. Each page after the first asks for
// check-ins before the last one seen; an empty page ends the walk.
func (f *Foursquare) Fetch(ctx context.Context, opts FetchOptions, fn func(Record) error) error {
	params := url.Values{}
	params.Set("oauth_token", f.token)
	params.Set("v", f.version)
	params.Set("sort", "newestfirst")
	params.Set("limit", strconv.Itoa(f.pageSize))
	if !opts.After.IsZero() {
		params.Set("afterTimestamp", strconv.FormatInt(opts.After.Unix(), 10))
	}

	first := true
	for {
		p, err := f.fetchPage(ctx, params)
		if err != nil {
			return err
		}
		if first {
			first = false
			if opts.OnTotal != nil {
				opts.OnTotal(p.Count)
			}
		}
		if len(p.Items) == 0 {
			return nil
		}

		for _, item := range p.Items {
			if err := fn(item); err != nil {
				return err
			}
		}

		before, err := timestampParam(p.Items[len(p.Items)-1]["createdAt"])
		if err != nil {
			return fmt.Errorf("paginate foursquare checkins: %w", err)
		}
		if before == params.Get("beforeTimestamp") {
			return nil
		}
		params.Set("beforeTimestamp", before)
	}
}

type page struct {
	Count int
	Items []Record
}

func (f *Foursquare) fetchPage(ctx context.Context, params url.Values) (*page, error) {
	u := f.baseURL + "/users/self/checkins?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create foursquare request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch foursquare checkins: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("fetch foursquare checkins: status %d: %s", resp.StatusCode, body)
	}

	var data checkinsResponse
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&data); err != nil {
		return nil, fmt.Errorf("decode foursquare checkins: %w", err)
	}
	if data.Meta.Code != http.StatusOK {
		return nil, fmt.Errorf("fetch foursquare checkins: api error %d %s: %s",
			data.Meta.Code, data.Meta.ErrorType, data.Meta.ErrorDetail)
	}
	return &page{Count: data.Response.Checkins.Count, Items: data.Response.Checkins.Items}, nil
}

func timestampParam(v any) (string, error) {
	switch x := v.(type) {
	case json.Number:
		return x.String(), nil
	case float64:
		return strconv.FormatInt(int64(x), 10), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case nil:
		return "", fmt.Errorf("checkin has no createdAt")
	}
	return "", fmt.Errorf("createdAt is %T, want number", v)
}
