package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultRequestTimeout = 15 * time.Second
	maxErrorBodyBytes     = 4096
)

var (
	errMissingBaseURL     = errors.New("remote: base url is required")
	errMissingTokenSource = errors.New("remote: token source is required")
)

// TokenSource supplies the bearer token for each request.
type TokenSource interface {
	AccessToken() (string, error)
}

// HTTPClientConfig configures HTTPClient.
type HTTPClientConfig struct {
	BaseURL     string
	TokenSource TokenSource
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// HTTPClient talks to the REST table endpoints.
type HTTPClient struct {
	baseURL *url.URL
	tokens  TokenSource
	http    *http.Client
}

// NewHTTPClient validates the configuration and constructs a client.
func NewHTTPClient(cfg HTTPClientConfig) (*HTTPClient, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errMissingBaseURL
	}
	baseURL, err := url.Parse(strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("remote: invalid base url: %w", err)
	}
	if cfg.TokenSource == nil {
		return nil, errMissingTokenSource
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultRequestTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &HTTPClient{baseURL: baseURL, tokens: cfg.TokenSource, http: httpClient}, nil
}

func (c *HTTPClient) Select(ctx context.Context, table string, query Query) ([]Row, error) {
	params := url.Values{}
	if query.AthleteID != "" {
		params.Set(ColumnAthleteID, "eq."+query.AthleteID)
	}
	if query.UpdatedSince != nil {
		params.Set(ColumnUpdatedAt, "gte."+strconv.FormatInt(*query.UpdatedSince, 10))
	}
	if query.Limit > 0 {
		params.Set("limit", strconv.Itoa(query.Limit))
	}
	params.Set("order", ColumnUpdatedAt+".asc")

	var rows []Row
	if err := c.do(ctx, http.MethodGet, c.tableURL(table, "", params), nil, &rows); err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []Row{}
	}
	return rows, nil
}

func (c *HTTPClient) Upsert(ctx context.Context, table string, row Row) (UpsertOutcome, error) {
	var outcome UpsertOutcome
	if err := c.do(ctx, http.MethodPost, c.tableURL(table, "", nil), row, &outcome); err != nil {
		return UpsertOutcome{}, err
	}
	return outcome, nil
}

func (c *HTTPClient) Delete(ctx context.Context, table, id string) error {
	return c.do(ctx, http.MethodDelete, c.tableURL(table, id, nil), nil, nil)
}

func (c *HTTPClient) tableURL(table, id string, params url.Values) string {
	target := *c.baseURL
	target.Path = c.baseURL.Path + "/rest/" + url.PathEscape(table)
	if id != "" {
		target.Path += "/" + url.PathEscape(id)
	}
	if len(params) > 0 {
		target.RawQuery = params.Encode()
	}
	return target.String()
}

func (c *HTTPClient) do(ctx context.Context, method, target string, body any, out any) error {
	token, err := c.tokens.AccessToken()
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("remote: encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	request.Header.Set("Authorization", "Bearer "+token)
	request.Header.Set("Accept", "application/json")
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := c.http.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return decodeStatusError(response)
	}
	if out == nil || response.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return fmt.Errorf("remote: decode response: %w", err)
	}
	return nil
}

func decodeStatusError(response *http.Response) error {
	payload, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBodyBytes))
	statusErr := &StatusError{StatusCode: response.StatusCode, Message: strings.TrimSpace(string(payload))}
	var envelope struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if json.Unmarshal(payload, &envelope) == nil && envelope.Error != "" {
		statusErr.Message = envelope.Error
		statusErr.Code = envelope.Code
	}
	return statusErr
}
