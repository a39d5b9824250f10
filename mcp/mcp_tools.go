package mcp

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"fieldproof-backend/core/fieldwork"
)

type taskSummary struct {
	TaskID   string               `json:"task_id"`
	Title    string               `json:"title"`
	Status   fieldwork.TaskStatus `json:"status"`
	Bounty   fieldwork.Money      `json:"bounty"`
	Location fieldwork.GeoFence   `json:"location"`
	Window   fieldwork.TimeWindow `json:"window"`
	Version  int64                `json:"version"`
}

func summarise(agg *fieldwork.Aggregate) taskSummary {
	return taskSummary{
		TaskID:   agg.Task.TaskID,
		Title:    agg.Task.Title,
		Status:   agg.Task.Status,
		Bounty:   agg.Task.Bounty,
		Location: agg.Task.Location,
		Window:   agg.Task.Window,
		Version:  agg.Version,
	}
}

func listTasksTool() mcp.Tool {
	return mcp.NewTool("list_tasks",
		mcp.WithDescription("List field tasks, defaulting to posted tasks open for claiming"),
		mcp.WithString("status", mcp.Description("Filter by task status (posted, claimed, submitted, ...)")),
		mcp.WithBoolean("mine", mcp.Description("Only tasks this worker has claimed")),
		mcp.WithNumber("limit", mcp.Description("Maximum tasks to return")),
		mcp.WithNumber("offset", mcp.Description("Tasks to skip")),
	)
}

func (s *MCPServer) listTasks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := fieldwork.TaskFilter{
		Status: fieldwork.TaskStatus(request.GetString("status", string(fieldwork.TaskPosted))),
		Limit:  request.GetInt("limit", 50),
		Offset: request.GetInt("offset", 0),
	}
	if request.GetBool("mine", false) {
		actor, _ := s.caller(ctx)
		filter.WorkerID = actor.ID
		if request.GetString("status", "") == "" {
			filter.Status = ""
		}
	}
	aggs, err := s.engine.ListTasks(ctx, filter)
	if err != nil {
		return nil, err
	}
	tasks := make([]taskSummary, 0, len(aggs))
	for _, agg := range aggs {
		tasks = append(tasks, summarise(agg))
	}
	return toolJSON(map[string]any{"tasks": tasks, "total_count": len(tasks)})
}

func getTaskTool() mcp.Tool {
	return mcp.NewTool("get_task",
		mcp.WithDescription("Get a task with its claims, submissions, disputes and escrow"),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("ID of the task")),
	)
}

func (s *MCPServer) getTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID, err := request.RequireString("task_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	agg, err := s.engine.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return toolJSON(agg)
}

func claimTaskTool() mcp.Tool {
	return mcp.NewTool("claim_task",
		mcp.WithDescription("Claim a posted task; the claim expires after the policy claim window"),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("ID of the task to claim")),
		mcp.WithString("wallet_address", mcp.Description("Payout wallet for the bounty")),
	)
}

func (s *MCPServer) claimTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID, err := request.RequireString("task_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	actor, wallet := s.caller(ctx)
	_, claim, err := s.engine.Claim(ctx, actor, taskID, request.GetString("wallet_address", wallet))
	if err != nil {
		return nil, err
	}
	return toolJSON(claim)
}

func releaseClaimTool() mcp.Tool {
	return mcp.NewTool("release_claim",
		mcp.WithDescription("Release an active claim so the task returns to posted"),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("ID of the task")),
		mcp.WithString("claim_id", mcp.Required(), mcp.Description("ID of the claim")),
	)
}

func (s *MCPServer) releaseClaim(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID, err := request.RequireString("task_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	claimID, err := request.RequireString("claim_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	agg, err := s.engine.Unclaim(ctx, s.as(ctx), taskID, claimID)
	if err != nil {
		return nil, err
	}
	return toolJSON(summarise(agg))
}

func createSubmissionTool() mcp.Tool {
	return mcp.NewTool("create_submission",
		mcp.WithDescription("Open a proof submission for an active claim"),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("ID of the task")),
		mcp.WithString("claim_id", mcp.Required(), mcp.Description("ID of the active claim")),
	)
}

func (s *MCPServer) createSubmission(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID, err := request.RequireString("task_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	claimID, err := request.RequireString("claim_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	_, sub, err := s.engine.CreateSubmission(ctx, s.as(ctx), taskID, claimID)
	if err != nil {
		return nil, err
	}
	return toolJSON(sub)
}

func uploadURLTool() mcp.Tool {
	return mcp.NewTool("get_upload_url",
		mcp.WithDescription("Get a signed URL to upload one proof artefact"),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("ID of the task")),
		mcp.WithString("submission_id", mcp.Required(), mcp.Description("ID of the open submission")),
		mcp.WithString("filename", mcp.Required(), mcp.Description("Artefact file name, e.g. front.jpg")),
	)
}

func (s *MCPServer) uploadURL(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID, err := request.RequireString("task_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	submissionID, err := request.RequireString("submission_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	filename, err := request.RequireString("filename")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	signed, key, err := s.engine.UploadURL(ctx, s.as(ctx), taskID, submissionID, filename)
	if err != nil {
		return nil, err
	}
	return toolJSON(map[string]any{
		"key":        key,
		"url":        signed.URL,
		"method":     signed.Method,
		"expires_at": signed.ExpiresAt.Format(time.RFC3339),
	})
}

func addArtefactTool() mcp.Tool {
	return mcp.NewTool("add_artefact",
		mcp.WithDescription("Attach an uploaded artefact to a submission"),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("ID of the task")),
		mcp.WithString("submission_id", mcp.Required(), mcp.Description("ID of the open submission")),
		mcp.WithString("key", mcp.Required(), mcp.Description("Storage key returned by get_upload_url")),
	)
}

func (s *MCPServer) addArtefact(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID, err := request.RequireString("task_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	submissionID, err := request.RequireString("submission_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	key, err := request.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	agg, err := s.engine.AddArtefact(ctx, s.as(ctx), taskID, submissionID, key)
	if err != nil {
		return nil, err
	}
	return toolJSON(agg.Submission(submissionID))
}

func finaliseSubmissionTool() mcp.Tool {
	return mcp.NewTool("finalise_submission",
		mcp.WithDescription("Seal a submission and run automatic verification"),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("ID of the task")),
		mcp.WithString("submission_id", mcp.Required(), mcp.Description("ID of the open submission")),
		mcp.WithArray("captures", mcp.Description("Capture metadata per artefact: artefact_key, has_gps, lat, lon, captured_at, width, height, bearing, exif")),
	)
}

func (s *MCPServer) finaliseSubmission(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID, err := request.RequireString("task_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	submissionID, err := request.RequireString("submission_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var captures []fieldwork.Capture
	if err := decodeArg(request, "captures", &captures); err != nil {
		return nil, err
	}
	agg, err := s.engine.Finalise(ctx, s.as(ctx), taskID, submissionID, captures)
	if err != nil {
		return nil, err
	}
	return toolJSON(agg.Submission(submissionID))
}

func openDisputeTool() mcp.Tool {
	return mcp.NewTool("open_dispute",
		mcp.WithDescription("Dispute a rejected submission within the grace period"),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("ID of the task")),
		mcp.WithString("submission_id", mcp.Required(), mcp.Description("ID of the rejected submission")),
		mcp.WithArray("evidence", mcp.Description("Initial evidence items: type, description, storage_key")),
	)
}

func (s *MCPServer) openDispute(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID, err := request.RequireString("task_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	submissionID, err := request.RequireString("submission_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var evidence []fieldwork.EvidenceInput
	if err := decodeArg(request, "evidence", &evidence); err != nil {
		return nil, err
	}
	agg, err := s.engine.OpenDispute(ctx, s.as(ctx), taskID, submissionID, evidence)
	if err != nil {
		return nil, err
	}
	for i := len(agg.Disputes) - 1; i >= 0; i-- {
		if agg.Disputes[i].SubmissionID == submissionID {
			return toolJSON(agg.Disputes[i])
		}
	}
	return toolJSON(summarise(agg))
}

func submitEvidenceTool() mcp.Tool {
	return mcp.NewTool("submit_evidence",
		mcp.WithDescription("Add evidence to an open dispute before its deadline"),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("ID of the task")),
		mcp.WithString("dispute_id", mcp.Required(), mcp.Description("ID of the dispute")),
		mcp.WithString("type", mcp.Required(), mcp.Description("Evidence type, e.g. photo or statement")),
		mcp.WithString("description", mcp.Required(), mcp.Description("What the evidence shows")),
		mcp.WithString("storage_key", mcp.Description("Storage key of an uploaded evidence file")),
	)
}

func (s *MCPServer) submitEvidence(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID, err := request.RequireString("task_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	disputeID, err := request.RequireString("dispute_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	in := fieldwork.EvidenceInput{
		Type:        request.GetString("type", ""),
		Description: request.GetString("description", ""),
		StorageKey:  request.GetString("storage_key", ""),
	}
	agg, err := s.engine.SubmitEvidence(ctx, s.as(ctx), taskID, disputeID, in)
	if err != nil {
		return nil, err
	}
	return toolJSON(agg.Dispute(disputeID))
}

func castVoteTool() mcp.Tool {
	return mcp.NewTool("cast_vote",
		mcp.WithDescription("Cast a juror ballot on a tier-2 dispute"),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("ID of the task")),
		mcp.WithString("dispute_id", mcp.Required(), mcp.Description("ID of the dispute")),
		mcp.WithString("vote", mcp.Required(), mcp.Enum("worker", "requester", "abstain"), mcp.Description("Side the juror finds for")),
		mcp.WithString("reason", mcp.Description("Short justification")),
	)
}

func (s *MCPServer) castVote(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID, err := request.RequireString("task_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	disputeID, err := request.RequireString("dispute_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	vote, err := request.RequireString("vote")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	agg, err := s.engine.CastVote(ctx, s.as(ctx), taskID, disputeID, fieldwork.Vote(vote), request.GetString("reason", ""))
	if err != nil {
		return nil, err
	}
	return toolJSON(agg.Dispute(disputeID))
}

func (s *MCPServer) as(ctx context.Context) fieldwork.Actor {
	actor, _ := s.caller(ctx)
	return actor
}
