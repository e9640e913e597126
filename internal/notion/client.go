package notion

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// API defaults
const (
	DefaultBaseURL       = "https://api.notion.com"
	DefaultAPIVersion    = "v1"
	DefaultNotionVersion = "2021-08-16"
	contentType          = "application/json"
)

// Config holds the connection settings for one receipts database
type Config struct {
	BaseURL       string
	APIVersion    string
	NotionVersion string
	Token         string
	DatabaseID    string
}

// Client talks to the Notion REST API. It holds no mutable state and is safe
// for concurrent use.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient creates a new Client with a default HTTP client
func NewClient(cfg Config) *Client {
	return NewClientWithHTTP(cfg, &http.Client{Timeout: 30 * time.Second})
}

// NewClientWithHTTP creates a new Client with a custom HTTP client for testing
func NewClientWithHTTP(cfg Config, httpClient *http.Client) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.NotionVersion == "" {
		cfg.NotionVersion = DefaultNotionVersion
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")

	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
	}
}

// DatabaseID returns the configured database ID
func (c *Client) DatabaseID() string {
	return c.cfg.DatabaseID
}

// FetchSchema reads the database object and extracts its metadata
func (c *Client) FetchSchema(ctx context.Context) (*DatabaseMetadata, error) {
	if c.cfg.DatabaseID == "" {
		return nil, ErrDatabaseIDMissing
	}

	status, body, err := c.do(ctx, http.MethodGet, "/databases/"+c.cfg.DatabaseID, nil)
	if err != nil {
		return nil, err
	}
	if !success(status) {
		return nil, &RequestError{StatusCode: status, Message: errorMessage(body)}
	}

	meta, err := ParseDatabase(body)
	if err != nil {
		return nil, fmt.Errorf("parsing database: %w", err)
	}
	return meta, nil
}

// ListRecords queries every receipt that has not been validated yet.
// On a non-success status the returned *RequestError carries the API's message.
func (c *Client) ListRecords(ctx context.Context) ([]Record, error) {
	if c.cfg.DatabaseID == "" {
		return nil, ErrDatabaseIDMissing
	}

	records := make([]Record, 0)
	seen := make(map[string]bool)
	cursor := ""
	for {
		reqBody, err := queryBody(cursor)
		if err != nil {
			return nil, err
		}

		status, body, err := c.do(ctx, http.MethodPost, "/databases/"+c.cfg.DatabaseID+"/query", reqBody)
		if err != nil {
			return nil, err
		}
		if !success(status) {
			return nil, &RequestError{StatusCode: status, Message: errorMessage(body)}
		}

		page, next, err := parseRecordPage(body)
		if err != nil {
			return nil, fmt.Errorf("parsing records: %w", err)
		}
		records = append(records, page...)

		if next == "" || seen[next] {
			return records, nil
		}
		seen[next] = true
		cursor = next
	}
}

// CreateRecord creates rec as a new page. Only the status code is checked;
// the echoed page is ignored.
func (c *Client) CreateRecord(ctx context.Context, rec Record) error {
	reqBody, err := ToWireObject(rec, c.cfg.DatabaseID)
	if err != nil {
		return err
	}

	status, body, err := c.do(ctx, http.MethodPost, "/pages", reqBody)
	if err != nil {
		return err
	}
	if !success(status) {
		return &RequestError{StatusCode: status, Message: errorMessage(body)}
	}
	return nil
}

// do sends one request and returns the status and the full response body
func (c *Client) do(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}

	url := fmt.Sprintf("%s/%s%s", c.cfg.BaseURL, c.cfg.APIVersion, path)
	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return 0, nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Notion-Version", c.cfg.NotionVersion)

	slog.Debug("Calling notion API", "method", method, "path", path)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("calling notion API: %w: %w", ErrInvalidResponse, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("reading response: %w: %w", ErrInvalidResponse, err)
	}

	return resp.StatusCode, data, nil
}

func success(status int) bool {
	return status >= 200 && status < 300
}

// errorMessage pulls the "message" field out of an error body
func errorMessage(body []byte) string {
	root, ok := decodeObject(body)
	if !ok {
		return GenericErrorMessage
	}
	msg, ok := root.str("message")
	if !ok || msg == "" {
		return GenericErrorMessage
	}
	return msg
}
