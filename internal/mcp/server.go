package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nybblers/threaddemand/internal/retrieval"
	"github.com/nybblers/threaddemand/internal/storage"
)

// Analytics is the read path served by the tools. *retrieval.Engine
// implements it.
type Analytics interface {
	Search(ctx context.Context, req retrieval.SearchRequest) (*retrieval.SearchResponse, error)
	Demand(ctx context.Context, req retrieval.DemandRequest) (*retrieval.DemandCount, error)
	MentionsOverTime(ctx context.Context, req retrieval.MentionsRequest) (*retrieval.MentionsResponse, error)
	GrowthMomentum(ctx context.Context, req retrieval.GrowthRequest) (*retrieval.GrowthResponse, error)
	ActiveThreads(ctx context.Context, req retrieval.ActiveThreadsRequest) (*retrieval.ActiveThreadsResponse, error)
	ThreadsActivity(ctx context.Context, req retrieval.ThreadsActivityRequest) (*retrieval.ActiveThreadsResponse, error)
	TopMatches(ctx context.Context, req retrieval.TopMatchesRequest) ([]retrieval.TopMatch, error)
	UsersByCommunity(ctx context.Context, req retrieval.UsersRequest) (map[string][]string, error)
	GetThread(ctx context.Context, postID string, commentLimit int) (*retrieval.Thread, error)
	Opportunities(ctx context.Context, req retrieval.OpportunitiesRequest) ([]*storage.Post, error)
	CreateAlert(ctx context.Context, email, query string) (*storage.Alert, error)
	Analytics(ctx context.Context, req retrieval.AnalyticsRequest) (*retrieval.AnalyticsResponse, error)
	MinSimilarity() float64
}

// IngestStatus lists recent ingest attempts.
type IngestStatus interface {
	RecentIngestLogs(ctx context.Context, limit int) ([]storage.IngestLog, error)
}

// Server wraps the MCP server with dependencies.
type Server struct {
	server *mcp.Server
}

// Config holds server dependencies.
type Config struct {
	Engine  Analytics
	Ingest  IngestStatus
	Version string
}

// NewServer creates a configured MCP server with tools registered.
func NewServer(cfg *Config) *Server {
	version := cfg.Version
	if version == "" {
		version = "v0.1.0"
	}
	server := mcp.NewServer(&mcp.Implementation{Name: "threaddemand", Version: version}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "search_threads",
		Description: "Semantic search over forum threads. Returns threads ranked by similarity to the query, newest first on ties, with a plain-text snippet.",
	}, makeSearchHandler(cfg.Engine))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "demand_count",
		Description: "Size the demand behind a need: matching threads, distinct authors and total comments at the similarity threshold.",
	}, makeDemandHandler(cfg.Engine))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "mentions_over_time",
		Description: "Count matching threads per week or month. Empty buckets between the first and last mention are included with a zero count.",
	}, makeMentionsHandler(cfg.Engine))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "growth_momentum",
		Description: "Weekly and monthly mention series with growth rates, (last - first) / first * 100.",
	}, makeGrowthHandler(cfg.Engine))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "active_threads",
		Description: "Matching threads with recent discussion: at least min_comments comments in the last window_hours, fastest first, with estimated impressions.",
	}, makeActiveThreadsHandler(cfg.Engine))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "threads_activity",
		Description: "Window activity, velocity and estimated impressions for explicit thread ids.",
	}, makeThreadsActivityHandler(cfg.Engine))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "top_matches",
		Description: "The most similar posts and comments combined, text cut to 500 characters.",
	}, makeTopMatchesHandler(cfg.Engine))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "users_by_community",
		Description: "Distinct authors of matching threads grouped by community. Deleted accounts and AutoModerator are left out.",
	}, makeUsersHandler(cfg.Engine))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_thread",
		Description: "Retrieve one thread by id with its comments, oldest first.",
	}, makeGetThreadHandler(cfg.Engine))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "opportunities",
		Description: "Threads ordered by activity ratio, optionally within one community.",
	}, makeOpportunitiesHandler(cfg.Engine))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "create_alert",
		Description: "Save a query to be watched for new matching threads.",
	}, makeCreateAlertHandler(cfg.Engine))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "analytics",
		Description: "Demand, mentions, growth, users and top matches for one query, all computed from the same match set.",
	}, makeAnalyticsHandler(cfg.Engine))

	if cfg.Ingest != nil {
		mcp.AddTool(server, &mcp.Tool{
			Name:        "get_pipeline_status",
			Description: "Recent ingest attempts with their status and row counts.",
		}, makeStatusHandler(cfg.Ingest, cfg.Engine))
	}

	return &Server{server: server}
}

// Run starts the server with stdio transport (blocks until client disconnects).
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.server
}
