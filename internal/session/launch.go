package session

import (
	"context"
	"fmt"

	"leo-remote/internal/api"
)

// Creator registers a generation with the REST service.
type Creator interface {
	CreateGeneration(ctx context.Context, req api.CreateGenerationRequest) (api.Generation, error)
}

// LaunchRequest carries everything needed to create and start a generation.
type LaunchRequest struct {
	api.CreateGenerationRequest
	UserID          string
	Subagents       bool
	ResumeSessionID string
}

// Launch creates the generation over REST and then sends the start command
// with the returned id as request id. The REST call is skipped when a
// generation is already running.
func Launch(ctx context.Context, creator Creator, m *Machine, req LaunchRequest) (api.Generation, error) {
	if m.State().IsGenerating() {
		return api.Generation{}, ErrAlreadyGenerating
	}
	if err := m.Connect(ctx); err != nil {
		return api.Generation{}, err
	}

	gen, err := creator.CreateGeneration(ctx, req.CreateGenerationRequest)
	if err != nil {
		return api.Generation{}, err
	}

	appID := gen.AppID
	if appID == "" {
		appID = req.AppID
	}
	err = m.StartGeneration(ctx, StartConfig{
		RequestID:       gen.ID,
		Prompt:          req.Prompt,
		Mode:            req.Mode,
		AppName:         req.AppName,
		UserID:          req.UserID,
		AppID:           appID,
		MaxIterations:   req.MaxIterations,
		Subagents:       req.Subagents,
		GithubURL:       req.GithubURL,
		ResumeSessionID: req.ResumeSessionID,
	})
	if err != nil {
		return gen, fmt.Errorf("start generation %s: %w", gen.ID, err)
	}
	return gen, nil
}
