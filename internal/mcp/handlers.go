package mcp

import (
	"context"
	"fmt"

	"weibomcp/internal/weibo"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) handleSearchUsers(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	keyword, err := request.RequireString("keyword")
	if err != nil {
		return invalidArgument("keyword", err), nil
	}

	limit := clamp(request.GetInt("limit", defaultUserLimit), defaultUserLimit, maxResultLimit)

	payload, err := s.service.SearchUsers(ctx, keyword, limit)
	if err != nil {
		return errorResult(err), nil
	}
	return mcp.NewToolResultText(payload), nil
}

func (s *Server) handleGetProfile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uid, err := request.RequireInt("uid")
	if err != nil {
		return invalidArgument("uid", err), nil
	}

	payload, err := s.service.GetProfile(ctx, int64(uid))
	if err != nil {
		return errorResult(err), nil
	}
	return mcp.NewToolResultText(payload), nil
}

func (s *Server) handleGetFeeds(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uid, err := request.RequireInt("uid")
	if err != nil {
		return invalidArgument("uid", err), nil
	}

	limit := clamp(request.GetInt("limit", defaultPostLimit), defaultPostLimit, maxResultLimit)
	pageLimit := clamp(request.GetInt("page_limit", defaultFeedPages), defaultFeedPages, maxPageLimit)

	payload, err := s.service.GetFeeds(ctx, int64(uid), limit, pageLimit)
	if err != nil {
		return errorResult(err), nil
	}
	return mcp.NewToolResultText(payload), nil
}

func (s *Server) handleSearchPosts(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := request.RequireString("query")
	if err != nil {
		return invalidArgument("query", err), nil
	}

	limit := clamp(request.GetInt("limit", defaultPostLimit), defaultPostLimit, maxResultLimit)
	pageLimit := clamp(request.GetInt("page_limit", defaultSearchPages), defaultSearchPages, maxPageLimit)

	payload, err := s.service.SearchPosts(ctx, query, limit, pageLimit)
	if err != nil {
		return errorResult(err), nil
	}
	return mcp.NewToolResultText(payload), nil
}

func (s *Server) handleGetPostDetail(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	postID, err := request.RequireString("post_id")
	if err != nil {
		return invalidArgument("post_id", err), nil
	}

	payload, err := s.service.GetPostDetail(ctx, postID)
	if err != nil {
		return errorResult(err), nil
	}
	return mcp.NewToolResultText(payload), nil
}

// invalidArgument shapes a schema violation into an error result without
// touching the dispatcher.
func invalidArgument(param string, err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf("%s: invalid %q parameter: %v", weibo.KindInvalidArgument, param, err))
}

// errorResult carries the machine-readable kind ahead of the detail.
func errorResult(err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", weibo.KindOf(err), err))
}
