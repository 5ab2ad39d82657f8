package tasks

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/autopilot/internal/config"
)

// GitHubConfig configures a GitHubSource.
type GitHubConfig struct {
	Owner   string
	Repo    string
	Token   config.Secret
	BaseURL string // GitHub Enterprise or test server; empty for github.com

	Retry *RetryConfig
	// RequestsPerSecond paces outbound API calls (default 5)
	RequestsPerSecond float64
}

// GitHubSource reads a task from a GitHub issue. The issue number is the task id
// and each Markdown task-list item in the body is a subtask.
type GitHubSource struct {
	client  *github.Client
	owner   string
	repo    string
	retry   *RetryConfig
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewGitHubSource creates a source for owner/repo. Without a token requests are
// unauthenticated, which only works for public repositories.
func NewGitHubSource(ctx context.Context, cfg GitHubConfig, logger *zap.Logger) (*GitHubSource, error) {
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, errors.New("github owner and repo are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var httpClient *http.Client
	if cfg.Token.IsSet() {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token.Value()})
		httpClient = oauth2.NewClient(ctx, ts)
	}
	client := github.NewClient(httpClient)
	if cfg.BaseURL != "" {
		var err error
		client, err = client.WithEnterpriseURLs(cfg.BaseURL, cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid github base url: %w", err)
		}
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	return &GitHubSource{
		client:  client,
		owner:   cfg.Owner,
		repo:    cfg.Repo,
		retry:   cfg.Retry,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		logger:  logger.With(zap.String("repo", cfg.Owner+"/"+cfg.Repo)),
	}, nil
}

// GetTask fetches issue id and parses its task list.
func (s *GitHubSource) GetTask(ctx context.Context, id string) (*Task, error) {
	number, err := strconv.Atoi(strings.TrimPrefix(id, "#"))
	if err != nil || number < 1 {
		return nil, fmt.Errorf("%w: %q is not an issue number", ErrInvalidTask, id)
	}

	var issue *github.Issue
	resp, err := retryGitHub(ctx, s.retry, s.logger, func() (*github.Response, error) {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		var resp *github.Response
		var err error
		issue, resp, err = s.client.Issues.Get(ctx, s.owner, s.repo, number)
		return resp, err
	})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: issue #%d in %s/%s", ErrTaskNotFound, number, s.owner, s.repo)
		}
		return nil, fmt.Errorf("fetching issue #%d: %w", number, err)
	}
	if issue.IsPullRequest() {
		return nil, fmt.Errorf("%w: #%d is a pull request", ErrInvalidTask, number)
	}

	t := &Task{
		ID:       strconv.Itoa(number),
		Title:    issue.GetTitle(),
		Status:   issue.GetState(),
		Subtasks: parseTaskList(strconv.Itoa(number), issue.GetBody()),
	}
	t.Description = descriptionOf(issue.GetBody())
	return t, nil
}

var taskListItem = regexp.MustCompile(`^\s*[-*+]\s+\[([ xX])\]\s+(.+?)\s*$`)

// parseTaskList turns "- [ ] title" lines into subtasks <taskID>.<n>.
func parseTaskList(taskID, body string) []Subtask {
	var out []Subtask
	for _, line := range strings.Split(body, "\n") {
		m := taskListItem.FindStringSubmatch(strings.TrimRight(line, "\r"))
		if m == nil {
			continue
		}
		status := "pending"
		if m[1] != " " {
			status = "done"
		}
		out = append(out, Subtask{
			ID:     fmt.Sprintf("%s.%d", taskID, len(out)+1),
			Title:  m[2],
			Status: status,
		})
	}
	return out
}

// descriptionOf returns the body text before the first task-list item.
func descriptionOf(body string) string {
	var b strings.Builder
	for _, line := range strings.Split(body, "\n") {
		if taskListItem.MatchString(line) {
			break
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return strings.TrimSpace(b.String())
}

// RetryConfig configures retries of GitHub API calls.
type RetryConfig struct {
	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

// DefaultRetryConfig returns three retries starting at one second.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// retryGitHub runs op until it succeeds, fails permanently, or retries run out.
// Rate-limit responses wait for the reset time, capped at MaxBackoff.
func retryGitHub(ctx context.Context, cfg *RetryConfig, logger *zap.Logger, op func() (*github.Response, error)) (*github.Response, error) {
	if cfg == nil {
		cfg = DefaultRetryConfig()
	}
	backoff := cfg.InitialBackoff

	var (
		resp *github.Response
		err  error
	)
	for attempt := 0; ; attempt++ {
		resp, err = op()
		if err == nil {
			if attempt > 0 {
				logger.Info("github request recovered after retries", zap.Int("attempts", attempt))
			}
			return resp, nil
		}
		if !retryable(err, resp) || attempt == cfg.MaxRetries {
			break
		}

		wait := backoff
		if resp != nil && resp.Rate.Remaining == 0 && !resp.Rate.Reset.IsZero() {
			wait = min(time.Until(resp.Rate.Reset.Time), cfg.MaxBackoff)
		}
		logger.Info("retrying github request",
			zap.Int("attempt", attempt+1),
			zap.Int("status_code", statusCode(resp)),
			zap.Duration("backoff", wait),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("github request canceled: %w", ctx.Err())
		case <-time.After(wait):
		}
		backoff = min(time.Duration(float64(backoff)*cfg.BackoffMultiplier), cfg.MaxBackoff)
	}
	return resp, err
}

func retryable(err error, resp *github.Response) bool {
	var rle *github.RateLimitError
	var arle *github.AbuseRateLimitError
	if errors.As(err, &rle) || errors.As(err, &arle) {
		return true
	}
	switch code := statusCode(resp); {
	case code == http.StatusTooManyRequests:
		return true
	case code >= 500:
		return true
	default:
		return false
	}
}

func statusCode(resp *github.Response) int {
	if resp == nil || resp.Response == nil {
		return 0
	}
	return resp.StatusCode
}
