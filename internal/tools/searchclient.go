package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultSearchTimeout bounds one request to the search service.
const DefaultSearchTimeout = 60 * time.Second

// HTTPSearchService talks to an external code search index over its JSON
// HTTP API. It backs the repository and semantic search tools.
type HTTPSearchService struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPSearchService(baseURL, apiKey string) *HTTPSearchService {
	return &HTTPSearchService{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: DefaultSearchTimeout},
	}
}

func (s *HTTPSearchService) AddRepository(ctx context.Context, name, repoURL string) error {
	body := map[string]string{"name": name, "url": repoURL}
	return s.doJSON(ctx, http.MethodPost, "/repositories", body, nil)
}

func (s *HTTPSearchService) ListRepositories(ctx context.Context) ([]Repository, error) {
	var repos []Repository
	if err := s.doJSON(ctx, http.MethodGet, "/repositories", nil, &repos); err != nil {
		return nil, err
	}
	return repos, nil
}

func (s *HTTPSearchService) SyncRepository(ctx context.Context, name string) error {
	return s.doJSON(ctx, http.MethodPost, "/repositories/"+url.PathEscape(name)+"/sync", nil, nil)
}

func (s *HTTPSearchService) SwitchBranch(ctx context.Context, name, branch string) error {
	body := map[string]string{"branch": branch}
	return s.doJSON(ctx, http.MethodPost, "/repositories/"+url.PathEscape(name)+"/branch", body, nil)
}

func (s *HTTPSearchService) ListBranches(ctx context.Context, name string) ([]string, error) {
	var branches []string
	if err := s.doJSON(ctx, http.MethodGet, "/repositories/"+url.PathEscape(name)+"/branches", nil, &branches); err != nil {
		return nil, err
	}
	return branches, nil
}

type searchRequest struct {
	Repository  string `json:"repository"`
	Query       string `json:"query"`
	Limit       int    `json:"limit,omitempty"`
	ElementType string `json:"element_type,omitempty"`
	Language    string `json:"lang,omitempty"`
	Branch      string `json:"branch,omitempty"`
}

func (s *HTTPSearchService) Search(ctx context.Context, q SemanticQuery) ([]CodeSearchResult, error) {
	body := searchRequest{
		Repository:  q.Repository,
		Query:       q.Query,
		Limit:       q.Limit,
		ElementType: q.ElementType,
		Language:    q.Language,
		Branch:      q.Branch,
	}
	var results []CodeSearchResult
	if err := s.doJSON(ctx, http.MethodPost, "/search", body, &results); err != nil {
		return nil, err
	}
	return results, nil
}

// doJSON performs one round trip. A nil out discards the response body;
// non-2xx statuses become errors carrying a body snippet.
func (s *HTTPSearchService) doJSON(ctx context.Context, method, path string, body, out any) error {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, payload)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("search service request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("search service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
