package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/linphage/Arzu-Simulater-test-sub001/internal/clock"
	"github.com/linphage/Arzu-Simulater-test-sub001/internal/focus"
	"github.com/linphage/Arzu-Simulater-test-sub001/internal/models"
	"github.com/linphage/Arzu-Simulater-test-sub001/internal/stats"
	"github.com/linphage/Arzu-Simulater-test-sub001/internal/zombie"
)

// Sweeper runs one zombie sweep on demand.
type Sweeper interface {
	Sweep(ctx context.Context) (zombie.Result, error)
}

// Server exposes the focus engine and analytics as MCP tools.
type Server struct {
	engine  *focus.Engine
	stats   *stats.Aggregator
	sweeper Sweeper
	clock   clock.Clock
}

// NewServer creates the MCP server wrapper. sw may be nil, in which case
// the sweep tool reports that it is unavailable.
func NewServer(e *focus.Engine, agg *stats.Aggregator, sw Sweeper) *Server {
	return &Server{
		engine:  e,
		stats:   agg,
		sweeper: sw,
		clock:   clock.Real{},
	}
}

// WithClock sets the clock used as "now" for stats tools.
func (s *Server) WithClock(c clock.Clock) *Server {
	s.clock = c
	return s
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("arzu", "1.0.0", server.WithToolCapabilities(true))

	srv.AddTool(s.startSessionTool())
	srv.AddTool(s.endSessionTool())
	srv.AddTool(s.activeSessionTool())
	srv.AddTool(s.startPeriodTool())
	srv.AddTool(s.endPeriodTool())
	srv.AddTool(s.listPeriodsTool())
	srv.AddTool(s.sessionStatsTool())
	srv.AddTool(s.focusStatsTool())
	srv.AddTool(s.habitStatsTool())
	srv.AddTool(s.sweepTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// engineError renders an engine failure. Conflicts append the blocking
// record so the caller can act on it.
func engineError(err error) *mcp.CallToolResult {
	msg := fmt.Sprintf("%s: %v", focus.KindOf(err), err)
	var fe *focus.Error
	if errors.As(err, &fe) {
		var blocking any
		switch {
		case fe.Period != nil:
			blocking = fe.Period
		case fe.Session != nil:
			blocking = fe.Session
		}
		if blocking != nil {
			if data, mErr := json.Marshal(blocking); mErr == nil {
				msg += "\n" + string(data)
			}
		}
	}
	return mcp.NewToolResultError(msg)
}

func requireUser(request mcp.CallToolRequest) (int64, error) {
	id := request.GetInt("user_id", 0)
	if id <= 0 {
		return 0, errors.New("missing required parameter: user_id")
	}
	return int64(id), nil
}

func hasArg(request mcp.CallToolRequest, name string) bool {
	_, ok := request.GetArguments()[name]
	return ok
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

// arzu_start_session
func (s *Server) startSessionTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("arzu_start_session",
		mcp.WithDescription("Start a pomodoro session for a user. Fails with a conflict carrying the open session when one already exists."),
		mcp.WithNumber("user_id", mcp.Required(), mcp.Description("User id")),
		mcp.WithNumber("task_id", mcp.Description("Task the session works on")),
		mcp.WithNumber("planned_minutes", mcp.Description("Planned length in minutes (default: 25)")),
	)
	return tool, s.handleStartSession
}

func (s *Server) handleStartSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uid, err := requireUser(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	in := focus.StartSessionInput{
		UserID:         uid,
		PlannedMinutes: request.GetInt("planned_minutes", 0),
	}
	if hasArg(request, "task_id") {
		taskID := int64(request.GetInt("task_id", 0))
		in.TaskID = &taskID
	}

	sess, err := s.engine.StartSession(ctx, in)
	if err != nil {
		return engineError(err), nil
	}
	return jsonResult(sess)
}

// arzu_end_session
func (s *Server) endSessionTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("arzu_end_session",
		mcp.WithDescription("End an open session. Open focus periods are not closed by this call."),
		mcp.WithNumber("user_id", mcp.Required(), mcp.Description("User id")),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id")),
		mcp.WithBoolean("completed", mcp.Description("Whether the underlying task was finished")),
		mcp.WithBoolean("recompute_duration", mcp.Description("Replace planned minutes with the summed focus time")),
	)
	return tool, s.handleEndSession
}

func (s *Server) handleEndSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uid, err := requireUser(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: session_id"), nil
	}
	sess, err := s.engine.EndSession(ctx, sessionID, focus.EndSessionInput{
		UserID:            uid,
		CompletedFlag:     request.GetBool("completed", false),
		RecomputeDuration: request.GetBool("recompute_duration", false),
	})
	if err != nil {
		return engineError(err), nil
	}
	return jsonResult(sess)
}

// arzu_active_session
func (s *Server) activeSessionTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("arzu_active_session",
		mcp.WithDescription("Get the user's open session, or null when there is none."),
		mcp.WithNumber("user_id", mcp.Required(), mcp.Description("User id")),
	)
	return tool, s.handleActiveSession
}

func (s *Server) handleActiveSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uid, err := requireUser(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sess, err := s.engine.ActiveSession(ctx, uid)
	if err != nil {
		return engineError(err), nil
	}
	return jsonResult(map[string]any{"session": sess})
}

// arzu_session_stats
func (s *Server) sessionStatsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("arzu_session_stats",
		mcp.WithDescription("Summarize the focus periods of one session: counts, focus minutes and focus index."),
		mcp.WithNumber("user_id", mcp.Required(), mcp.Description("User id")),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id")),
	)
	return tool, s.handleSessionStats
}

func (s *Server) handleSessionStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uid, err := requireUser(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: session_id"), nil
	}
	st, err := s.engine.SessionPeriodStats(ctx, uid, sessionID)
	if err != nil {
		return engineError(err), nil
	}
	return jsonResult(st)
}

// ---------------------------------------------------------------------------
// Periods
// ---------------------------------------------------------------------------

// arzu_start_period
func (s *Server) startPeriodTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("arzu_start_period",
		mcp.WithDescription("Start a focus period on an open session. Fails with a conflict carrying the open period when one already exists."),
		mcp.WithNumber("user_id", mcp.Required(), mcp.Description("User id")),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id")),
	)
	return tool, s.handleStartPeriod
}

func (s *Server) handleStartPeriod(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uid, err := requireUser(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: session_id"), nil
	}
	p, err := s.engine.StartPeriod(ctx, uid, sessionID, nil)
	if err != nil {
		return engineError(err), nil
	}
	return jsonResult(p)
}

// arzu_end_period
func (s *Server) endPeriodTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("arzu_end_period",
		mcp.WithDescription("End an open focus period now, recording whether it was interrupted."),
		mcp.WithNumber("user_id", mcp.Required(), mcp.Description("User id")),
		mcp.WithString("period_id", mcp.Required(), mcp.Description("Period id")),
		mcp.WithBoolean("is_interrupted", mcp.Required(), mcp.Description("Whether the period was interrupted")),
	)
	return tool, s.handleEndPeriod
}

func (s *Server) handleEndPeriod(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uid, err := requireUser(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	periodID, err := request.RequireString("period_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: period_id"), nil
	}
	interrupted, err := request.RequireBool("is_interrupted")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: is_interrupted"), nil
	}
	p, err := s.engine.EndPeriod(ctx, periodID, focus.EndPeriodInput{UserID: uid, IsInterrupted: &interrupted})
	if err != nil {
		return engineError(err), nil
	}
	return jsonResult(p)
}

// arzu_list_periods
func (s *Server) listPeriodsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("arzu_list_periods",
		mcp.WithDescription("List a session's focus periods in start order, with the open period (or null) under \"active\"."),
		mcp.WithNumber("user_id", mcp.Required(), mcp.Description("User id")),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id")),
	)
	return tool, s.handleListPeriods
}

func (s *Server) handleListPeriods(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uid, err := requireUser(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: session_id"), nil
	}
	periods, err := s.engine.ListPeriods(ctx, uid, sessionID)
	if err != nil {
		return engineError(err), nil
	}
	active, err := s.engine.ActivePeriod(ctx, uid, sessionID)
	if err != nil {
		return engineError(err), nil
	}
	if periods == nil {
		periods = []*models.FocusPeriod{}
	}
	return jsonResult(map[string]any{"periods": periods, "active": active})
}

// ---------------------------------------------------------------------------
// Analytics
// ---------------------------------------------------------------------------

func windowParam() mcp.ToolOption {
	return mcp.WithString("window", mcp.Description("Reporting window: week (default) or month"))
}

// arzu_focus_stats
func (s *Server) focusStatsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("arzu_focus_stats",
		mcp.WithDescription("Focus statistics for the current week or month: total focus minutes, averages, focus index and a daily breakdown."),
		mcp.WithNumber("user_id", mcp.Required(), mcp.Description("User id")),
		windowParam(),
	)
	return tool, s.handleFocusStats
}

func (s *Server) handleFocusStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uid, err := requireUser(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	kind, err := stats.ParseWindowKind(request.GetString("window", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rep, err := s.stats.Focus(ctx, uid, kind, s.clock.Now())
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to compute focus stats: %v", err)), nil
	}
	return jsonResult(rep)
}

// arzu_habit_stats
func (s *Server) habitStatsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("arzu_habit_stats",
		mcp.WithDescription("Habit statistics for the current week or month: problematic task edits per category, by type and by hour of day."),
		mcp.WithNumber("user_id", mcp.Required(), mcp.Description("User id")),
		windowParam(),
	)
	return tool, s.handleHabitStats
}

func (s *Server) handleHabitStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uid, err := requireUser(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	kind, err := stats.ParseWindowKind(request.GetString("window", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rep, err := s.stats.Habit(ctx, uid, kind, s.clock.Now())
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to compute habit stats: %v", err)), nil
	}
	return jsonResult(rep)
}

// ---------------------------------------------------------------------------
// Maintenance
// ---------------------------------------------------------------------------

// arzu_sweep
func (s *Server) sweepTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("arzu_sweep",
		mcp.WithDescription("Force-close focus periods and sessions left open past the zombie threshold."),
	)
	return tool, s.handleSweep
}

func (s *Server) handleSweep(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.sweeper == nil {
		return mcp.NewToolResultError("sweeper not configured"), nil
	}
	res, err := s.sweeper.Sweep(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("sweep failed: %v", err)), nil
	}
	return jsonResult(res)
}
