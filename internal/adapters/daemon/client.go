package daemon

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client talks to a running daemon over its unix socket. Every method
// mirrors one RPC; the CLI is the only intended caller.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the daemon socket. The connection is lazy; a daemon
// that is not running surfaces as an Unavailable RPC error on first use.
func Dial(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix:"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(msgpackCodec{})),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon socket: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close releases the connection
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) invoke(ctx context.Context, method string, req, resp interface{}) error {
	return c.conn.Invoke(ctx, "/"+ServiceName+"/"+method, req, resp)
}

// SubmitPipeline admits a new run
func (c *Client) SubmitPipeline(ctx context.Context, req *SubmitPipelineRequest) (*SubmitPipelineResponse, error) {
	resp := new(SubmitPipelineResponse)
	if err := c.invoke(ctx, "SubmitPipeline", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// CancelPipeline cancels a run and its batch children
func (c *Client) CancelPipeline(ctx context.Context, runID string) error {
	return c.invoke(ctx, "CancelPipeline", &RunRequest{RunID: runID}, new(RunResponse))
}

// PausePipeline parks a running run
func (c *Client) PausePipeline(ctx context.Context, runID string) error {
	return c.invoke(ctx, "PausePipeline", &RunRequest{RunID: runID}, new(RunResponse))
}

// ResumePipeline releases a paused run
func (c *Client) ResumePipeline(ctx context.Context, runID string) error {
	return c.invoke(ctx, "ResumePipeline", &RunRequest{RunID: runID}, new(RunResponse))
}

// RestartPipeline replaces a terminal run with a fresh one over the
// same uploads
func (c *Client) RestartPipeline(ctx context.Context, runID string) (*RestartPipelineResponse, error) {
	resp := new(RestartPipelineResponse)
	if err := c.invoke(ctx, "RestartPipeline", &RestartPipelineRequest{RunID: runID}, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// DeletePipeline removes a terminal run, keeping its corpus items
func (c *Client) DeletePipeline(ctx context.Context, runID string) error {
	return c.invoke(ctx, "DeletePipeline", &RunRequest{RunID: runID}, new(RunResponse))
}

// ListPipelines pages through a tenant's runs
func (c *Client) ListPipelines(ctx context.Context, req *ListPipelinesRequest) (*ListPipelinesResponse, error) {
	resp := new(ListPipelinesResponse)
	if err := c.invoke(ctx, "ListPipelines", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// MergePipelines merges completed runs into a new similarity run
func (c *Client) MergePipelines(ctx context.Context, runIDs []string) (*MergePipelinesResponse, error) {
	resp := new(MergePipelinesResponse)
	if err := c.invoke(ctx, "MergePipelines", &MergePipelinesRequest{RunIDs: runIDs}, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// GetPipeline fetches one run with children and stage attempts
func (c *Client) GetPipeline(ctx context.Context, runID string) (*GetPipelineResponse, error) {
	resp := new(GetPipelineResponse)
	if err := c.invoke(ctx, "GetPipeline", &GetPipelineRequest{RunID: runID}, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// GetPipelineLogs pages through a run's logs
func (c *Client) GetPipelineLogs(ctx context.Context, req *GetPipelineLogsRequest) (*GetPipelineLogsResponse, error) {
	resp := new(GetPipelineLogsResponse)
	if err := c.invoke(ctx, "GetPipelineLogs", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Health probes the daemon
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	resp := new(HealthResponse)
	if err := c.invoke(ctx, "Health", new(HealthRequest), resp); err != nil {
		return nil, err
	}
	return resp, nil
}
