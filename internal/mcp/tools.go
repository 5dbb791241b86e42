package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// Declared argument bounds. Limits are clamped, not rejected, so a client
// asking for too much still gets a well-formed, size-bounded response.
const (
	defaultUserLimit = 5
	defaultPostLimit = 10
	maxResultLimit   = 50

	defaultFeedPages   = 5
	defaultSearchPages = 3
	maxPageLimit       = 10
)

func (s *Server) setupTools() {
	searchUsersTool := mcp.NewTool("search_users",
		mcp.WithDescription("Search for Weibo users by keyword"),
		mcp.WithString("keyword", mcp.Required(), mcp.Description("Search term to find users")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of users to return (default 5, max 50)")),
	)
	s.mcpServer.AddTool(searchUsersTool, s.handleSearchUsers)

	getProfileTool := mcp.NewTool("get_profile",
		mcp.WithDescription("Get a Weibo user's profile information"),
		mcp.WithNumber("uid", mcp.Required(), mcp.Description("The unique identifier of the Weibo user")),
	)
	s.mcpServer.AddTool(getProfileTool, s.handleGetProfile)

	getFeedsTool := mcp.NewTool("get_feeds",
		mcp.WithDescription("Get a Weibo user's recent posts in chronological order"),
		mcp.WithNumber("uid", mcp.Required(), mcp.Description("The unique identifier of the Weibo user")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of posts to return (default 10, max 50)")),
		mcp.WithNumber("page_limit", mcp.Description("Maximum number of feed pages to fetch (default 5, max 10)")),
	)
	s.mcpServer.AddTool(getFeedsTool, s.handleGetFeeds)

	searchPostsTool := mcp.NewTool("search_posts",
		mcp.WithDescription("Search Weibo posts by keyword in upstream relevance order"),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search term to find posts")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of posts to return (default 10, max 50)")),
		mcp.WithNumber("page_limit", mcp.Description("Maximum number of result pages to fetch (default 3, max 10)")),
	)
	s.mcpServer.AddTool(searchPostsTool, s.handleSearchPosts)

	getPostDetailTool := mcp.NewTool("get_post_detail",
		mcp.WithDescription("Get a single Weibo post with full text"),
		mcp.WithString("post_id", mcp.Required(), mcp.Description("The unique identifier of the post")),
	)
	s.mcpServer.AddTool(getPostDetailTool, s.handleGetPostDetail)
}

func clamp(v, def, max int) int {
	if v <= 0 {
		return def
	}
	if v > max {
		return max
	}
	return v
}
