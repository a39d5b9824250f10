package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"fieldproof-backend/core/fieldwork"
	fwengine "fieldproof-backend/middleware/fieldwork"
)

// MCPServer exposes lifecycle commands as MCP tools for agent workers.
// Calls run as the API key's actor when one authenticated the request,
// otherwise as the configured default actor.
type MCPServer struct {
	mcpServer *server.MCPServer
	engine    *fwengine.Engine
	actor     fieldwork.Actor
	log       zerolog.Logger
}

// NewMCPServer registers the tool set against engine.
func NewMCPServer(engine *fwengine.Engine, actor fieldwork.Actor, log zerolog.Logger) *MCPServer {
	mcpServer := server.NewMCPServer(
		"Fieldproof MCP Server",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	s := &MCPServer{
		mcpServer: mcpServer,
		engine:    engine,
		actor:     actor,
		log:       log.With().Str("component", "mcp").Str("actor", actor.ID).Logger(),
	}
	s.registerTools()
	return s
}

// GetMCPServer returns the underlying MCP server for transport setup.
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *MCPServer) registerTools() {
	// Tasks
	s.add(listTasksTool(), s.listTasks)
	s.add(getTaskTool(), s.getTask)
	s.add(claimTaskTool(), s.claimTask)
	s.add(releaseClaimTool(), s.releaseClaim)

	// Submissions
	s.add(createSubmissionTool(), s.createSubmission)
	s.add(uploadURLTool(), s.uploadURL)
	s.add(addArtefactTool(), s.addArtefact)
	s.add(finaliseSubmissionTool(), s.finaliseSubmission)

	// Disputes
	s.add(openDisputeTool(), s.openDispute)
	s.add(submitEvidenceTool(), s.submitEvidence)
	s.add(castVoteTool(), s.castVote)
}

func (s *MCPServer) add(tool mcp.Tool, handler server.ToolHandlerFunc) {
	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		res, err := handler(ctx, request)
		if err != nil {
			s.log.Warn().Err(err).Str("tool", tool.Name).Msg("tool failed")
			return toolError(err), nil
		}
		return res, nil
	})
}

func (s *MCPServer) caller(ctx context.Context) (fieldwork.Actor, string) {
	if rec, ok := apiKeyFrom(ctx); ok {
		return rec.Actor, rec.Wallet
	}
	return s.actor, ""
}

// toolError reports engine failures as tool results so agents can read the
// error kind and recover.
func toolError(err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", fieldwork.Kind(err), err))
}

func toolJSON(v any) (*mcp.CallToolResult, error) {
	buf, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return mcp.NewToolResultText(string(buf)), nil
}

// decodeArg re-decodes a structured argument into out.
func decodeArg(request mcp.CallToolRequest, key string, out any) error {
	raw, ok := request.GetArguments()[key]
	if !ok || raw == nil {
		return nil
	}
	buf, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", fieldwork.ErrInvalidInput, key, err)
	}
	if err := json.Unmarshal(buf, out); err != nil {
		return fmt.Errorf("%w: %s: %v", fieldwork.ErrInvalidInput, key, err)
	}
	return nil
}
