package arcgis

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

const (
	defaultPortalURL = "https://www.arcgis.com"
	defaultReferer   = "tractkit"
)

// Doer sends an HTTP request. *http.Client satisfies it; callers may pass a
// rate-limited transport instead.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to an ArcGIS portal (sharing REST API) and to the feature
// services it catalogs.
type Client interface {
	GenerateToken(ctx context.Context, username, password string) (*Token, error)
	Self(ctx context.Context) (*Portal, error)
	Search(ctx context.Context, query string, max int) ([]Item, error)
	Item(ctx context.Context, id string) (*Item, error)
	Service(ctx context.Context, serviceURL string) (*ServiceInfo, error)
	LayerInfo(ctx context.Context, layerURL string) (*LayerInfo, error)
	Query(ctx context.Context, layerURL string, params QueryParams) (*FeatureSet, error)
	Count(ctx context.Context, layerURL, where string) (int, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithDoer overrides the default http.Client.
func WithDoer(d Doer) Option {
	return func(c *httpClient) {
		c.doer = d
	}
}

// WithToken attaches a session token to every request.
func WithToken(token string) Option {
	return func(c *httpClient) {
		c.token = token
	}
}

// WithReferer sets the referer used for token generation and requests.
func WithReferer(referer string) Option {
	return func(c *httpClient) {
		c.referer = referer
	}
}

type httpClient struct {
	portal  string
	doer    Doer
	token   string
	referer string
}

// NewClient creates an ArcGIS client for the given portal root
// (e.g. https://www.arcgis.com or https://host/portal).
func NewClient(portalURL string, opts ...Option) Client {
	if portalURL == "" {
		portalURL = defaultPortalURL
	}
	c := &httpClient{
		portal:  strings.TrimRight(portalURL, "/"),
		referer: defaultReferer,
		doer: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) GenerateToken(ctx context.Context, username, password string) (*Token, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)
	form.Set("client", "referer")
	form.Set("referer", c.referer)
	form.Set("expiration", "60")
	form.Set("f", "json")

	var tok Token
	if err := c.post(ctx, c.portal+"/sharing/rest/generateToken", form, false, &tok); err != nil {
		return nil, eris.Wrap(err, "arcgis: generate token")
	}
	if tok.Token == "" {
		return nil, eris.New("arcgis: generate token: empty token in response")
	}
	return &tok, nil
}

func (c *httpClient) Self(ctx context.Context) (*Portal, error) {
	var p Portal
	if err := c.get(ctx, c.portal+"/sharing/rest/portals/self", nil, &p); err != nil {
		return nil, eris.Wrap(err, "arcgis: portal self")
	}
	return &p, nil
}

func (c *httpClient) Search(ctx context.Context, query string, max int) ([]Item, error) {
	if max <= 0 {
		max = 10
	}
	params := url.Values{}
	params.Set("q", query)
	params.Set("num", strconv.Itoa(max))

	var resp searchResponse
	if err := c.get(ctx, c.portal+"/sharing/rest/search", params, &resp); err != nil {
		return nil, eris.Wrapf(err, "arcgis: search %q", query)
	}
	return resp.Results, nil
}

func (c *httpClient) Item(ctx context.Context, id string) (*Item, error) {
	var item Item
	if err := c.get(ctx, c.portal+"/sharing/rest/content/items/"+url.PathEscape(id), nil, &item); err != nil {
		return nil, eris.Wrapf(err, "arcgis: get item %s", id)
	}
	return &item, nil
}

func (c *httpClient) Service(ctx context.Context, serviceURL string) (*ServiceInfo, error) {
	var info ServiceInfo
	if err := c.get(ctx, strings.TrimRight(serviceURL, "/"), nil, &info); err != nil {
		return nil, eris.Wrap(err, "arcgis: describe service")
	}
	return &info, nil
}

func (c *httpClient) LayerInfo(ctx context.Context, layerURL string) (*LayerInfo, error) {
	var info LayerInfo
	if err := c.get(ctx, strings.TrimRight(layerURL, "/"), nil, &info); err != nil {
		return nil, eris.Wrap(err, "arcgis: describe layer")
	}
	return &info, nil
}

func (c *httpClient) Query(ctx context.Context, layerURL string, params QueryParams) (*FeatureSet, error) {
	var fs FeatureSet
	if err := c.post(ctx, strings.TrimRight(layerURL, "/")+"/query", params.values(), true, &fs); err != nil {
		return nil, eris.Wrap(err, "arcgis: query")
	}
	return &fs, nil
}

func (c *httpClient) Count(ctx context.Context, layerURL, where string) (int, error) {
	params := QueryParams{Where: where, ReturnCountOnly: true}
	var resp struct {
		Count int `json:"count"`
	}
	if err := c.post(ctx, strings.TrimRight(layerURL, "/")+"/query", params.values(), true, &resp); err != nil {
		return 0, eris.Wrap(err, "arcgis: count")
	}
	return resp.Count, nil
}

func (c *httpClient) get(ctx context.Context, endpoint string, params url.Values, out any) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("f", "json")
	if c.token != "" {
		params.Set("token", c.token)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	return c.do(req, out)
}

func (c *httpClient) post(ctx context.Context, endpoint string, form url.Values, withToken bool, out any) error {
	form.Set("f", "json")
	if withToken && c.token != "" {
		form.Set("token", c.token)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, out)
}

func (c *httpClient) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	if c.referer != "" {
		req.Header.Set("Referer", c.referer)
	}

	resp, err := c.doer.Do(req)
	if err != nil {
		return eris.Wrap(err, "send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "read response")
	}

	if resp.StatusCode != http.StatusOK {
		return &APIError{Code: resp.StatusCode, Message: strings.TrimSpace(truncate(string(body), 200))}
	}

	// The REST API reports most failures inside a 200 response.
	var envelope errorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != nil {
		return envelope.Error
	}

	if err := json.Unmarshal(body, out); err != nil {
		return eris.Wrap(err, "unmarshal response")
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
