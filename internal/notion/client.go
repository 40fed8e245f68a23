// Package notion implements the task document store on the Notion REST API.
// Every method makes a single HTTP attempt; retries belong to the caller.
package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tasksync/internal/config"
	"tasksync/internal/failure"
	"tasksync/internal/logging"
	"tasksync/internal/models"
)

type Client struct {
	baseURL    string
	token      string
	apiVersion string
	databaseID string
	props      config.NotionProperties
	statusType string
	httpClient *http.Client
}

// NewClient builds a client for the configured database. A nil httpClient
// gets one with the configured timeout.
func NewClient(cfg config.NotionConfig, httpClient *http.Client) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.notion.com"
	}
	apiVersion := strings.TrimSpace(cfg.APIVersion)
	if apiVersion == "" {
		apiVersion = "2022-06-28"
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	statusType := cfg.Properties.StatusType
	if statusType != "select" {
		statusType = "status"
	}
	return &Client{
		baseURL:    baseURL,
		token:      strings.TrimSpace(cfg.Token),
		apiVersion: apiVersion,
		databaseID: strings.TrimSpace(cfg.DatabaseID),
		props:      cfg.Properties,
		statusType: statusType,
		httpClient: httpClient,
	}
}

type queryResponse struct {
	Results    []page `json:"results"`
	HasMore    bool   `json:"has_more"`
	NextCursor string `json:"next_cursor"`
}

// QueryTasks returns live tasks whose message id property equals
// filter.MessageID.
func (c *Client) QueryTasks(ctx context.Context, filter models.TaskFilter) ([]models.Task, error) {
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 100
	}
	body := map[string]any{
		"filter": map[string]any{
			"property":  c.props.MessageID,
			"rich_text": map[string]any{"equals": filter.MessageID},
		},
		"page_size": pageSize,
	}

	var resp queryResponse
	if err := c.do(ctx, http.MethodPost, "/v1/databases/"+c.databaseID+"/query", body, &resp); err != nil {
		return nil, err
	}

	tasks := make([]models.Task, 0, len(resp.Results))
	for _, p := range resp.Results {
		if p.Archived {
			continue
		}
		tasks = append(tasks, c.toTask(p))
	}
	return tasks, nil
}

func (c *Client) GetTask(ctx context.Context, id string) (*models.Task, error) {
	var p page
	if err := c.do(ctx, http.MethodGet, "/v1/pages/"+id, nil, &p); err != nil {
		return nil, err
	}
	task := c.toTask(p)
	return &task, nil
}

func (c *Client) CreateTask(ctx context.Context, draft models.TaskDraft) (*models.Task, error) {
	body := map[string]any{
		"parent":     map[string]any{"database_id": c.databaseID},
		"properties": c.draftProperties(draft),
	}
	var p page
	if err := c.do(ctx, http.MethodPost, "/v1/pages", body, &p); err != nil {
		return nil, err
	}
	task := c.toTask(p)
	return &task, nil
}

func (c *Client) UpdateTask(ctx context.Context, id string, patch models.TaskPatch) (*models.Task, error) {
	body := map[string]any{"properties": c.patchProperties(patch)}
	var p page
	if err := c.do(ctx, http.MethodPatch, "/v1/pages/"+id, body, &p); err != nil {
		return nil, err
	}
	task := c.toTask(p)
	return &task, nil
}

// AppendContent appends up to MaxBlocksPerAppend blocks under a page.
func (c *Client) AppendContent(ctx context.Context, id string, blocks []models.Block) error {
	if len(blocks) == 0 {
		return nil
	}
	if len(blocks) > models.MaxBlocksPerAppend {
		return failure.Validation("blocks", fmt.Sprintf("at most %d blocks per append, got %d", models.MaxBlocksPerAppend, len(blocks)))
	}
	children := make([]map[string]any, 0, len(blocks))
	for _, b := range blocks {
		children = append(children, encodeBlock(b))
	}
	return c.do(ctx, http.MethodPatch, "/v1/blocks/"+id+"/children", map[string]any{"children": children}, nil)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	if c.token == "" {
		return failure.Validation("notion.token", "notion token is empty")
	}

	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode notion request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Notion-Version", c.apiVersion)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if id := logging.CorrelationID(ctx); id != "" {
		req.Header.Set(logging.CorrelationHeader, id)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := &failure.StatusError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(respBody)),
			Header:     resp.Header,
		}
		var parsed errorBody
		if json.Unmarshal(respBody, &parsed) == nil {
			statusErr.Code = parsed.Code
			if strings.TrimSpace(parsed.Message) != "" {
				statusErr.Message = parsed.Message
			}
		}
		return statusErr
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode notion response: %w", err)
	}
	return nil
}
