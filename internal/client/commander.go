package client

import "context"

// StartRequest asks the backend to execute a new run.
type StartRequest struct {
	RunID   string `json:"runId"`
	Project string `json:"project"`
	Goal    string `json:"goal"`
}

// Commander carries outbound requests to whatever executes runs. Calls are
// made off the reducer path and their outcome only comes back as events.
type Commander interface {
	StartRun(ctx context.Context, req StartRequest) error
	StopRun(ctx context.Context, runID string) error
	RequestFix(ctx context.Context, project, runID string) error
}

// NopCommander accepts every request and does nothing. It serves read-only
// front ends such as replay and watch, where the run executes elsewhere.
type NopCommander struct{}

func (NopCommander) StartRun(context.Context, StartRequest) error { return nil }

func (NopCommander) StopRun(context.Context, string) error { return nil }

func (NopCommander) RequestFix(context.Context, string, string) error { return nil }
