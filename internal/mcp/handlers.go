package mcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nybblers/threaddemand/internal/retrieval"
	"github.com/nybblers/threaddemand/internal/storage"
)

const defaultStatusRuns = 20

// toolError tags an engine error with its kind so clients can tell a bad
// request from an unknown answer.
func toolError(op string, err error) error {
	switch {
	case errors.Is(err, retrieval.ErrInvalidQuery):
		return fmt.Errorf("invalid_query: %w", err)
	case errors.Is(err, retrieval.ErrNotFound):
		return fmt.Errorf("not_found: %w", err)
	case errors.Is(err, retrieval.ErrUnavailable):
		return fmt.Errorf("unavailable: %s could not be answered: %w", op, err)
	default:
		return fmt.Errorf("%s failed: %w", op, err)
	}
}

func parseNow(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, fmt.Errorf("%w: now must be RFC 3339: %v", retrieval.ErrInvalidQuery, err)
	}
	return &t, nil
}

// makeSearchHandler creates the search_threads tool handler.
func makeSearchHandler(a Analytics) func(
	context.Context, *mcp.CallToolRequest, SearchInput,
) (*mcp.CallToolResult, SearchOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input SearchInput) (
		*mcp.CallToolResult, SearchOutput, error,
	) {
		resp, err := a.Search(ctx, retrieval.SearchRequest{
			Query:         input.Query,
			Community:     input.Community,
			Limit:         input.Limit,
			MinSimilarity: input.MinSimilarity,
		})
		if err != nil {
			return nil, SearchOutput{}, toolError("search", err)
		}
		out := SearchOutput{
			Query:         resp.Query,
			MinSimilarity: resp.MinSimilarity,
			TotalMatches:  resp.TotalMatches,
			Truncated:     resp.Truncated,
			Results:       resp.Results,
		}
		switch {
		case len(out.Results) == 0:
			out.Message = "No matching threads found. Try broader terms or a lower min_similarity."
		case out.Truncated:
			out.Message = "The match set reached its cap; total_matches is a lower bound. Raise min_similarity to narrow it."
		}
		return nil, out, nil
	}
}

func makeDemandHandler(a Analytics) func(
	context.Context, *mcp.CallToolRequest, DemandInput,
) (*mcp.CallToolResult, retrieval.DemandCount, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input DemandInput) (
		*mcp.CallToolResult, retrieval.DemandCount, error,
	) {
		dc, err := a.Demand(ctx, retrieval.DemandRequest{
			Query:         input.Query,
			Community:     input.Community,
			MinSimilarity: input.MinSimilarity,
		})
		if err != nil {
			return nil, retrieval.DemandCount{}, toolError("demand_count", err)
		}
		return nil, *dc, nil
	}
}

func makeMentionsHandler(a Analytics) func(
	context.Context, *mcp.CallToolRequest, MentionsInput,
) (*mcp.CallToolResult, retrieval.MentionsResponse, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input MentionsInput) (
		*mcp.CallToolResult, retrieval.MentionsResponse, error,
	) {
		resp, err := a.MentionsOverTime(ctx, retrieval.MentionsRequest{
			Query:         input.Query,
			Community:     input.Community,
			Granularity:   retrieval.Granularity(input.Granularity),
			MinSimilarity: input.MinSimilarity,
		})
		if err != nil {
			return nil, retrieval.MentionsResponse{}, toolError("mentions_over_time", err)
		}
		return nil, *resp, nil
	}
}

func makeGrowthHandler(a Analytics) func(
	context.Context, *mcp.CallToolRequest, GrowthInput,
) (*mcp.CallToolResult, retrieval.GrowthResponse, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input GrowthInput) (
		*mcp.CallToolResult, retrieval.GrowthResponse, error,
	) {
		resp, err := a.GrowthMomentum(ctx, retrieval.GrowthRequest{
			Query:         input.Query,
			Community:     input.Community,
			MinSimilarity: input.MinSimilarity,
		})
		if err != nil {
			return nil, retrieval.GrowthResponse{}, toolError("growth_momentum", err)
		}
		return nil, *resp, nil
	}
}

func makeActiveThreadsHandler(a Analytics) func(
	context.Context, *mcp.CallToolRequest, ActiveThreadsInput,
) (*mcp.CallToolResult, retrieval.ActiveThreadsResponse, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input ActiveThreadsInput) (
		*mcp.CallToolResult, retrieval.ActiveThreadsResponse, error,
	) {
		now, err := parseNow(input.Now)
		if err != nil {
			return nil, retrieval.ActiveThreadsResponse{}, toolError("active_threads", err)
		}
		resp, err := a.ActiveThreads(ctx, retrieval.ActiveThreadsRequest{
			Query:         input.Query,
			Community:     input.Community,
			WindowHours:   input.WindowHours,
			MinComments:   input.MinComments,
			Limit:         input.Limit,
			MinSimilarity: input.MinSimilarity,
			Anchor:        retrieval.Anchor(input.Anchor),
			Now:           now,
		})
		if err != nil {
			return nil, retrieval.ActiveThreadsResponse{}, toolError("active_threads", err)
		}
		return nil, *resp, nil
	}
}

func makeThreadsActivityHandler(a Analytics) func(
	context.Context, *mcp.CallToolRequest, ThreadsActivityInput,
) (*mcp.CallToolResult, retrieval.ActiveThreadsResponse, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input ThreadsActivityInput) (
		*mcp.CallToolResult, retrieval.ActiveThreadsResponse, error,
	) {
		now, err := parseNow(input.Now)
		if err != nil {
			return nil, retrieval.ActiveThreadsResponse{}, toolError("threads_activity", err)
		}
		resp, err := a.ThreadsActivity(ctx, retrieval.ThreadsActivityRequest{
			PostIDs:     input.PostIDs,
			WindowHours: input.WindowHours,
			Anchor:      retrieval.Anchor(input.Anchor),
			Now:         now,
		})
		if err != nil {
			return nil, retrieval.ActiveThreadsResponse{}, toolError("threads_activity", err)
		}
		return nil, *resp, nil
	}
}

func makeTopMatchesHandler(a Analytics) func(
	context.Context, *mcp.CallToolRequest, TopMatchesInput,
) (*mcp.CallToolResult, TopMatchesOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input TopMatchesInput) (
		*mcp.CallToolResult, TopMatchesOutput, error,
	) {
		matches, err := a.TopMatches(ctx, retrieval.TopMatchesRequest{
			Query:         input.Query,
			Limit:         input.Limit,
			MinSimilarity: input.MinSimilarity,
		})
		if err != nil {
			return nil, TopMatchesOutput{}, toolError("top_matches", err)
		}
		return nil, TopMatchesOutput{Matches: matches}, nil
	}
}

func makeUsersHandler(a Analytics) func(
	context.Context, *mcp.CallToolRequest, UsersInput,
) (*mcp.CallToolResult, UsersOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input UsersInput) (
		*mcp.CallToolResult, UsersOutput, error,
	) {
		users, err := a.UsersByCommunity(ctx, retrieval.UsersRequest{
			Query:         input.Query,
			Limit:         input.Limit,
			MinSimilarity: input.MinSimilarity,
		})
		if err != nil {
			return nil, UsersOutput{}, toolError("users_by_community", err)
		}
		return nil, UsersOutput{Communities: users}, nil
	}
}

// makeGetThreadHandler creates the get_thread tool handler. An unknown id
// is a normal answer with Found false.
func makeGetThreadHandler(a Analytics) func(
	context.Context, *mcp.CallToolRequest, GetThreadInput,
) (*mcp.CallToolResult, GetThreadOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input GetThreadInput) (
		*mcp.CallToolResult, GetThreadOutput, error,
	) {
		th, err := a.GetThread(ctx, input.PostID, input.CommentLimit)
		if errors.Is(err, retrieval.ErrNotFound) {
			return nil, GetThreadOutput{Comments: []Comment{}, Found: false}, nil
		}
		if err != nil {
			return nil, GetThreadOutput{}, toolError("get_thread", err)
		}

		post := toPost(th.Post)
		out := GetThreadOutput{Post: &post, Comments: make([]Comment, 0, len(th.Comments)), Found: true}
		for _, c := range th.Comments {
			out.Comments = append(out.Comments, toComment(c))
		}
		return nil, out, nil
	}
}

func makeOpportunitiesHandler(a Analytics) func(
	context.Context, *mcp.CallToolRequest, OpportunitiesInput,
) (*mcp.CallToolResult, OpportunitiesOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input OpportunitiesInput) (
		*mcp.CallToolResult, OpportunitiesOutput, error,
	) {
		posts, err := a.Opportunities(ctx, retrieval.OpportunitiesRequest{
			Community:        input.Community,
			Limit:            input.Limit,
			MinActivityRatio: input.MinActivityRatio,
		})
		if err != nil {
			return nil, OpportunitiesOutput{}, toolError("opportunities", err)
		}
		out := OpportunitiesOutput{Posts: make([]Post, 0, len(posts))}
		for _, p := range posts {
			out.Posts = append(out.Posts, toPost(p))
		}
		return nil, out, nil
	}
}

func makeCreateAlertHandler(a Analytics) func(
	context.Context, *mcp.CallToolRequest, CreateAlertInput,
) (*mcp.CallToolResult, CreateAlertOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input CreateAlertInput) (
		*mcp.CallToolResult, CreateAlertOutput, error,
	) {
		alert, err := a.CreateAlert(ctx, input.Email, input.Query)
		if err != nil {
			return nil, CreateAlertOutput{}, toolError("create_alert", err)
		}
		return nil, CreateAlertOutput{
			ID:        alert.ID,
			Email:     alert.UserEmail,
			Query:     alert.Query,
			CreatedAt: alert.CreatedAt,
		}, nil
	}
}

func makeAnalyticsHandler(a Analytics) func(
	context.Context, *mcp.CallToolRequest, AnalyticsInput,
) (*mcp.CallToolResult, retrieval.AnalyticsResponse, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input AnalyticsInput) (
		*mcp.CallToolResult, retrieval.AnalyticsResponse, error,
	) {
		resp, err := a.Analytics(ctx, retrieval.AnalyticsRequest{
			Query:         input.Query,
			Community:     input.Community,
			TopLimit:      input.TopLimit,
			MinSimilarity: input.MinSimilarity,
		})
		if err != nil {
			return nil, retrieval.AnalyticsResponse{}, toolError("analytics", err)
		}
		return nil, *resp, nil
	}
}

// makeStatusHandler creates the get_pipeline_status tool handler. Running
// and failed counts cover the listed attempts only.
func makeStatusHandler(ingest IngestStatus, a Analytics) func(
	context.Context, *mcp.CallToolRequest, StatusInput,
) (*mcp.CallToolResult, StatusOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input StatusInput) (
		*mcp.CallToolResult, StatusOutput, error,
	) {
		limit := input.Limit
		if limit <= 0 {
			limit = defaultStatusRuns
		}
		logs, err := ingest.RecentIngestLogs(ctx, limit)
		if err != nil {
			return nil, StatusOutput{}, fmt.Errorf("database_error: failed to list ingest runs: %w", err)
		}

		out := StatusOutput{Runs: make([]IngestRun, 0, len(logs)), MinSimilarity: a.MinSimilarity()}
		for _, l := range logs {
			switch l.Status {
			case storage.StatusRunning:
				out.Running++
			case storage.StatusFailed:
				out.Failed++
			}
			out.Runs = append(out.Runs, IngestRun{
				File:         l.File,
				Kind:         string(l.Kind),
				Year:         l.Year,
				Subreddit:    l.Subreddit,
				Status:       string(l.Status),
				StartedAt:    l.StartedAt,
				HeartbeatAt:  l.HeartbeatAt,
				CompletedAt:  l.CompletedAt,
				RowsInserted: l.RowsInserted,
				RowsSkipped:  l.RowsSkipped,
				Error:        l.Error,
			})
		}
		return nil, out, nil
	}
}
