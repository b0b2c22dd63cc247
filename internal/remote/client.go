// Package remote talks to the hosted log store: a PostgREST table of food
// entries plus its realtime change feed.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/sadopc/platelog/internal/model"
)

const defaultTable = "food_entries"

// Config holds client configuration.
type Config struct {
	URL        string
	APIKey     string
	Table      string
	RPS        float64 // 0 disables pacing
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client reads and writes day logs over REST and subscribes to changes over
// a websocket.
type Client struct {
	baseURL    string
	apiKey     string
	table      string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// HTTPError is a non-2xx response.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("remote status %d: %s", e.StatusCode, e.Body)
}

func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("APIKey is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: 30 * time.Second,
		}
	}
	table := cfg.Table
	if table == "" {
		table = defaultTable
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), max(1, int(cfg.RPS)))
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    strings.TrimSuffix(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		table:      table,
		httpClient: httpClient,
		limiter:    limiter,
		logger:     logger,
	}, nil
}

// entryRow is one row of the remote table.
type entryRow struct {
	UserID         string            `json:"user_id"`
	Date           string            `json:"date"`
	Meal           string            `json:"meal"`
	EntryKey       string            `json:"entry_key"`
	FoodID         string            `json:"food_id"`
	Name           string            `json:"name"`
	LocalizedNames map[string]string `json:"localized_names,omitempty"`
	Calories       float64           `json:"calories"`
	Protein        float64           `json:"protein"`
	Carbs          float64           `json:"carbs"`
	Fat            float64           `json:"fat"`
	Quantity       float64           `json:"quantity"`
	Unit           string            `json:"unit"`
	Category       string            `json:"category"`
	LoggedAt       time.Time         `json:"logged_at"`
}

func toRow(userID string, date model.Date, meal model.Meal, e model.FoodEntry) entryRow {
	return entryRow{
		UserID:         userID,
		Date:           string(date),
		Meal:           string(meal),
		EntryKey:       e.Key,
		FoodID:         e.FoodID,
		Name:           e.Name,
		LocalizedNames: e.LocalizedNames,
		Calories:       e.Calories,
		Protein:        e.Protein,
		Carbs:          e.Carbs,
		Fat:            e.Fat,
		Quantity:       e.Quantity,
		Unit:           e.Unit,
		Category:       e.Category,
		LoggedAt:       e.LoggedAt.UTC(),
	}
}

func (r entryRow) entry() model.FoodEntry {
	return model.FoodEntry{
		Key:            r.EntryKey,
		FoodID:         r.FoodID,
		Name:           r.Name,
		LocalizedNames: r.LocalizedNames,
		Calories:       r.Calories,
		Protein:        r.Protein,
		Carbs:          r.Carbs,
		Fat:            r.Fat,
		Quantity:       r.Quantity,
		Unit:           r.Unit,
		Category:       r.Category,
		LoggedAt:       r.LoggedAt,
	}
}

// ReadDay returns every entry of userID on date, or nil if there are none.
func (c *Client) ReadDay(ctx context.Context, userID string, date model.Date) (*model.DailyLog, error) {
	params := url.Values{}
	params.Set("select", "*")
	params.Set("user_id", "eq."+userID)
	params.Set("date", "eq."+string(date))

	body, err := c.do(ctx, http.MethodGet, params, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("read day %s/%s: %w", userID, date, err)
	}

	var rows []entryRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode day %s/%s: %w", userID, date, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	log := model.NewDailyLog(userID, date)
	for _, r := range rows {
		meal, err := model.ParseMeal(r.Meal)
		if err != nil {
			c.logger.Warn("skipping row with unknown meal",
				slog.String("entry_key", r.EntryKey),
				slog.String("meal", r.Meal),
			)
			continue
		}
		log.Put(meal, r.entry())
	}
	return log, nil
}

// WriteEntry upserts e. Rows conflict on (user_id, date, meal, entry_key),
// so concurrent adds with distinct keys never overwrite each other.
func (c *Client) WriteEntry(ctx context.Context, userID string, date model.Date, meal model.Meal, e model.FoodEntry) error {
	data, err := json.Marshal(toRow(userID, date, meal, e))
	if err != nil {
		return fmt.Errorf("marshal entry %s: %w", e.Key, err)
	}
	params := url.Values{}
	params.Set("on_conflict", "user_id,date,meal,entry_key")
	headers := map[string]string{
		"Content-Type": "application/json",
		"Prefer":       "resolution=merge-duplicates,return=minimal",
	}
	if _, err := c.do(ctx, http.MethodPost, params, data, headers); err != nil {
		return fmt.Errorf("write entry %s: %w", e.Key, err)
	}
	return nil
}

// DeleteEntry removes one entry. Deleting a row that does not exist succeeds.
func (c *Client) DeleteEntry(ctx context.Context, userID string, date model.Date, meal model.Meal, key string) error {
	params := url.Values{}
	params.Set("user_id", "eq."+userID)
	params.Set("date", "eq."+string(date))
	params.Set("meal", "eq."+string(meal))
	params.Set("entry_key", "eq."+key)
	headers := map[string]string{"Prefer": "return=minimal"}
	if _, err := c.do(ctx, http.MethodDelete, params, nil, headers); err != nil {
		return fmt.Errorf("delete entry %s: %w", key, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method string, params url.Values, body []byte, headers map[string]string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	reqURL := fmt.Sprintf("%s/rest/v1/%s", c.baseURL, c.table)
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, r)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	return data, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
}
