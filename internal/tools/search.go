package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fletch-dev/fletch/internal/llm"
)

// Repository describes one indexed repository.
type Repository struct {
	Name          string `json:"name"`
	URL           string `json:"url,omitempty"`
	CurrentBranch string `json:"current_branch,omitempty"`
	Indexed       bool   `json:"indexed"`
}

// CodeSearchResult is one semantic search hit.
type CodeSearchResult struct {
	Repository string  `json:"repository"`
	FilePath   string  `json:"file_path"`
	StartLine  int     `json:"start_line"`
	EndLine    int     `json:"end_line"`
	Snippet    string  `json:"snippet"`
	Score      float64 `json:"score"`
}

// SemanticQuery carries semantic_code_search parameters through to the
// backing index.
type SemanticQuery struct {
	Repository  string
	Query       string
	Limit       int
	ElementType string
	Language    string
	Branch      string
}

// SearchService is the backing index for the repository and semantic
// search tools. A nil service leaves the tools registered but reporting
// that search is not configured.
type SearchService interface {
	AddRepository(ctx context.Context, name, url string) error
	ListRepositories(ctx context.Context) ([]Repository, error)
	SyncRepository(ctx context.Context, name string) error
	SwitchBranch(ctx context.Context, name, branch string) error
	ListBranches(ctx context.Context, name string) ([]string, error)
	Search(ctx context.Context, q SemanticQuery) ([]CodeSearchResult, error)
}

var errSearchNotConfigured = NewToolError(ErrNotConfigured, "code search service is not configured")

// NewSearchTools builds the repository and semantic search tools bound
// to the given service.
func NewSearchTools(service SearchService) []Tool {
	return []Tool{
		&SemanticSearchTool{service: service},
		&RepoAddTool{service: service},
		&RepoListTool{service: service},
		&RepoSyncTool{service: service},
		&RepoSwitchBranchTool{service: service},
		&RepoListBranchesTool{service: service},
	}
}

// SemanticSearchTool implements semantic_code_search.
type SemanticSearchTool struct {
	service SearchService
}

// SemanticSearchArgs are the arguments for semantic_code_search.
type SemanticSearchArgs struct {
	RepositoryName string `json:"repositoryName"`
	QueryText      string `json:"queryText"`
	Limit          int    `json:"limit,omitempty"`
	ElementType    string `json:"elementType,omitempty"`
	Lang           string `json:"lang,omitempty"`
	BranchName     string `json:"branchName,omitempty"`
}

func (t *SemanticSearchTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        SemanticSearchToolName,
		Description: "Search an indexed repository for code semantically related to a natural-language query.",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"repositoryName": map[string]interface{}{
					"type":        "string",
					"description": "Name of the indexed repository to search",
				},
				"queryText": map[string]interface{}{
					"type":        "string",
					"description": "Natural-language description of the code to find",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum results (default: 10)",
				},
				"elementType": map[string]interface{}{
					"type":        "string",
					"description": "Restrict to a code element type, e.g. function or class",
				},
				"lang": map[string]interface{}{
					"type":        "string",
					"description": "Restrict to a programming language",
				},
				"branchName": map[string]interface{}{
					"type":        "string",
					"description": "Branch to search (default: current)",
				},
			},
			"required":             []string{"repositoryName", "queryText"},
			"additionalProperties": false,
		},
	}
}

func (t *SemanticSearchTool) Execute(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	if t.service == nil {
		return nil, errSearchNotConfigured
	}
	var a SemanticSearchArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, NewToolError(ErrInvalidParams, err.Error())
	}
	if a.RepositoryName == "" || a.QueryText == "" {
		return nil, NewToolError(ErrInvalidParams, "repositoryName and queryText are required")
	}
	limit := a.Limit
	if limit <= 0 {
		limit = 10
	}

	results, err := t.service.Search(ctx, SemanticQuery{
		Repository:  a.RepositoryName,
		Query:       a.QueryText,
		Limit:       limit,
		ElementType: a.ElementType,
		Language:    a.Lang,
		Branch:      a.BranchName,
	})
	if err != nil {
		return nil, NewToolError(ErrExecutionFailed, err.Error())
	}
	if len(results) == 0 {
		return textResult("no results found"), nil
	}
	data, err := json.Marshal(results)
	if err != nil {
		return nil, NewToolError(ErrExecutionFailed, err.Error())
	}
	return data, nil
}

// RepoAddTool implements repository_add.
type RepoAddTool struct {
	service SearchService
}

func (t *RepoAddTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        RepoAddToolName,
		Description: "Register a repository with the code search index.",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"name": map[string]interface{}{
					"type":        "string",
					"description": "Name to register the repository under",
				},
				"url": map[string]interface{}{
					"type":        "string",
					"description": "Clone URL or local path",
				},
			},
			"required":             []string{"name", "url"},
			"additionalProperties": false,
		},
	}
}

func (t *RepoAddTool) Execute(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	if t.service == nil {
		return nil, errSearchNotConfigured
	}
	var a struct {
		Name string `json:"name"`
		URL  string `json:"url"`
	}
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, NewToolError(ErrInvalidParams, err.Error())
	}
	if a.Name == "" || a.URL == "" {
		return nil, NewToolError(ErrInvalidParams, "name and url are required")
	}
	if err := t.service.AddRepository(ctx, a.Name, a.URL); err != nil {
		return nil, NewToolError(ErrExecutionFailed, err.Error())
	}
	return textResult(fmt.Sprintf("repository %s registered", a.Name)), nil
}

// RepoListTool implements repository_list.
type RepoListTool struct {
	service SearchService
}

func (t *RepoListTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        RepoListToolName,
		Description: "List repositories registered with the code search index.",
		Schema: map[string]interface{}{
			"type":                 "object",
			"properties":           map[string]interface{}{},
			"additionalProperties": false,
		},
	}
}

func (t *RepoListTool) Execute(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	if t.service == nil {
		return nil, errSearchNotConfigured
	}
	repos, err := t.service.ListRepositories(ctx)
	if err != nil {
		return nil, NewToolError(ErrExecutionFailed, err.Error())
	}
	if len(repos) == 0 {
		return textResult("no repositories registered"), nil
	}
	data, err := json.Marshal(repos)
	if err != nil {
		return nil, NewToolError(ErrExecutionFailed, err.Error())
	}
	return data, nil
}

// RepoSyncTool implements repository_sync.
type RepoSyncTool struct {
	service SearchService
}

func (t *RepoSyncTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        RepoSyncToolName,
		Description: "Re-index a registered repository, picking up new commits.",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"name": map[string]interface{}{
					"type":        "string",
					"description": "Repository name",
				},
			},
			"required":             []string{"name"},
			"additionalProperties": false,
		},
	}
}

func (t *RepoSyncTool) Execute(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	if t.service == nil {
		return nil, errSearchNotConfigured
	}
	var a struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, NewToolError(ErrInvalidParams, err.Error())
	}
	if a.Name == "" {
		return nil, NewToolError(ErrInvalidParams, "name is required")
	}
	if err := t.service.SyncRepository(ctx, a.Name); err != nil {
		return nil, NewToolError(ErrExecutionFailed, err.Error())
	}
	return textResult(fmt.Sprintf("repository %s synced", a.Name)), nil
}

// RepoSwitchBranchTool implements repository_switch_branch.
type RepoSwitchBranchTool struct {
	service SearchService
}

func (t *RepoSwitchBranchTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        RepoSwitchBranchName,
		Description: "Switch the branch used when searching a registered repository.",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"name": map[string]interface{}{
					"type":        "string",
					"description": "Repository name",
				},
				"branch": map[string]interface{}{
					"type":        "string",
					"description": "Branch to switch to",
				},
			},
			"required":             []string{"name", "branch"},
			"additionalProperties": false,
		},
	}
}

func (t *RepoSwitchBranchTool) Execute(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	if t.service == nil {
		return nil, errSearchNotConfigured
	}
	var a struct {
		Name   string `json:"name"`
		Branch string `json:"branch"`
	}
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, NewToolError(ErrInvalidParams, err.Error())
	}
	if a.Name == "" || a.Branch == "" {
		return nil, NewToolError(ErrInvalidParams, "name and branch are required")
	}
	if err := t.service.SwitchBranch(ctx, a.Name, a.Branch); err != nil {
		return nil, NewToolError(ErrExecutionFailed, err.Error())
	}
	return textResult(fmt.Sprintf("repository %s switched to %s", a.Name, a.Branch)), nil
}

// RepoListBranchesTool implements repository_list_branches.
type RepoListBranchesTool struct {
	service SearchService
}

func (t *RepoListBranchesTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        RepoListBranchesName,
		Description: "List branches available in a registered repository.",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"name": map[string]interface{}{
					"type":        "string",
					"description": "Repository name",
				},
			},
			"required":             []string{"name"},
			"additionalProperties": false,
		},
	}
}

func (t *RepoListBranchesTool) Execute(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	if t.service == nil {
		return nil, errSearchNotConfigured
	}
	var a struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, NewToolError(ErrInvalidParams, err.Error())
	}
	if a.Name == "" {
		return nil, NewToolError(ErrInvalidParams, "name is required")
	}
	branches, err := t.service.ListBranches(ctx, a.Name)
	if err != nil {
		return nil, NewToolError(ErrExecutionFailed, err.Error())
	}
	if len(branches) == 0 {
		return textResult("no branches found"), nil
	}
	return textResult(strings.Join(branches, "\n")), nil
}
