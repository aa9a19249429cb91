package agent

import (
	"context"
	"strings"

	"github.com/ShayCichocki/agentcore/internal/api"
	"github.com/ShayCichocki/agentcore/pkg/models"
)

// Completer sends a single prompt to a model. *api.Client implements it.
type Completer interface {
	Complete(ctx context.Context, req api.CompletionRequest) (*api.Completion, error)
}

// AnthropicExecutor runs tasks as Claude completions using the agent's model
// and system prompt.
type AnthropicExecutor struct {
	client    Completer
	maxTokens int64
}

// NewAnthropicExecutor creates an executor backed by client.
func NewAnthropicExecutor(client Completer, maxTokens int64) *AnthropicExecutor {
	return &AnthropicExecutor{client: client, maxTokens: maxTokens}
}

// ExecuteTask sends the task prompt, or its description when no prompt is set.
// An empty reply is reported as a failed result.
func (e *AnthropicExecutor) ExecuteTask(ctx context.Context, agent *models.AgentInstance, task *models.Task) (*models.TaskResult, error) {
	prompt := task.Prompt
	if prompt == "" {
		prompt = task.Description
	}

	out, err := e.client.Complete(ctx, api.CompletionRequest{
		Model:     ModelFor(agent),
		System:    agent.Config.SystemPrompt,
		Prompt:    prompt,
		MaxTokens: e.maxTokens,
	})
	if err != nil {
		return nil, err
	}

	res := &models.TaskResult{
		TaskID:    task.ID,
		AgentID:   agent.ID,
		Success:   true,
		Output:    out.Text,
		TokensIn:  out.InputTokens,
		TokensOut: out.OutputTokens,
	}
	if strings.TrimSpace(out.Text) == "" {
		res.Success = false
		res.Error = "empty completion (stop reason " + out.StopReason + ")"
	}
	return res, nil
}
