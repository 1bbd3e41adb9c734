package daemon

import (
	"context"
	"fmt"
	"time"

	"github.com/qbanklabs/qbank-go/internal/application/admission"
	admissioncmd "github.com/qbanklabs/qbank-go/internal/application/admission/commands"
	admissionqry "github.com/qbanklabs/qbank-go/internal/application/admission/queries"
	"github.com/qbanklabs/qbank-go/internal/application/common"
)

// daemonService bridges RPC requests to the mediator. It owns no
// business logic; every call becomes a command or query.
type daemonService struct {
	mediator  common.Mediator
	version   string
	startedAt time.Time
}

func newDaemonService(mediator common.Mediator, version string) *daemonService {
	return &daemonService{
		mediator:  mediator,
		version:   version,
		startedAt: time.Now().UTC(),
	}
}

// send dispatches a request and asserts the response type, the same
// shape every mediator call site uses.
func send[Resp any](ctx context.Context, m common.Mediator, request common.Request) (Resp, error) {
	var zero Resp
	response, err := m.Send(ctx, request)
	if err != nil {
		return zero, err
	}
	typed, ok := response.(Resp)
	if !ok {
		return zero, fmt.Errorf("unexpected response type %T", response)
	}
	return typed, nil
}

func (s *daemonService) SubmitPipeline(ctx context.Context, req *SubmitPipelineRequest) (*SubmitPipelineResponse, error) {
	uploads := make([]admission.Upload, len(req.Uploads))
	for i, part := range req.Uploads {
		uploads[i] = admission.Upload{Filename: part.Filename, Content: part.Content}
	}

	resp, err := send[*admissioncmd.SubmitPipelineResponse](ctx, s.mediator, &admissioncmd.SubmitPipelineCommand{
		TenantID:   req.TenantID,
		Uploads:    uploads,
		SourceURLs: req.SourceURLs,
	})
	if err != nil {
		return nil, err
	}
	return &SubmitPipelineResponse{Run: resp.Run}, nil
}

func (s *daemonService) CancelPipeline(ctx context.Context, req *RunRequest) (*RunResponse, error) {
	if _, err := send[*admissioncmd.CancelPipelineResponse](ctx, s.mediator, &admissioncmd.CancelPipelineCommand{
		RunID: req.RunID,
	}); err != nil {
		return nil, err
	}
	return &RunResponse{}, nil
}

func (s *daemonService) PausePipeline(ctx context.Context, req *RunRequest) (*RunResponse, error) {
	if _, err := send[*admissioncmd.PausePipelineResponse](ctx, s.mediator, &admissioncmd.PausePipelineCommand{
		RunID: req.RunID,
	}); err != nil {
		return nil, err
	}
	return &RunResponse{}, nil
}

func (s *daemonService) ResumePipeline(ctx context.Context, req *RunRequest) (*RunResponse, error) {
	if _, err := send[*admissioncmd.ResumePipelineResponse](ctx, s.mediator, &admissioncmd.ResumePipelineCommand{
		RunID: req.RunID,
	}); err != nil {
		return nil, err
	}
	return &RunResponse{}, nil
}

func (s *daemonService) RestartPipeline(ctx context.Context, req *RestartPipelineRequest) (*RestartPipelineResponse, error) {
	resp, err := send[*admissioncmd.RestartPipelineResponse](ctx, s.mediator, &admissioncmd.RestartPipelineCommand{
		RunID: req.RunID,
	})
	if err != nil {
		return nil, err
	}
	return &RestartPipelineResponse{Run: resp.Run}, nil
}

func (s *daemonService) DeletePipeline(ctx context.Context, req *RunRequest) (*RunResponse, error) {
	if _, err := send[*admissioncmd.DeletePipelineResponse](ctx, s.mediator, &admissioncmd.DeletePipelineCommand{
		RunID: req.RunID,
	}); err != nil {
		return nil, err
	}
	return &RunResponse{}, nil
}

func (s *daemonService) ListPipelines(ctx context.Context, req *ListPipelinesRequest) (*ListPipelinesResponse, error) {
	resp, err := send[*admissionqry.ListPipelinesResponse](ctx, s.mediator, &admissionqry.ListPipelinesQuery{
		TenantID:        req.TenantID,
		Statuses:        req.Statuses,
		IncludeChildren: req.IncludeChildren,
		Limit:           req.Limit,
		Offset:          req.Offset,
	})
	if err != nil {
		return nil, err
	}
	return &ListPipelinesResponse{Runs: resp.Runs}, nil
}

func (s *daemonService) MergePipelines(ctx context.Context, req *MergePipelinesRequest) (*MergePipelinesResponse, error) {
	resp, err := send[*admissioncmd.MergePipelineResponse](ctx, s.mediator, &admissioncmd.MergePipelineCommand{
		RunIDs: req.RunIDs,
	})
	if err != nil {
		return nil, err
	}
	return &MergePipelinesResponse{Run: resp.Run}, nil
}

func (s *daemonService) GetPipeline(ctx context.Context, req *GetPipelineRequest) (*GetPipelineResponse, error) {
	resp, err := send[*admissionqry.GetPipelineResponse](ctx, s.mediator, &admissionqry.GetPipelineQuery{
		RunID: req.RunID,
	})
	if err != nil {
		return nil, err
	}
	return &GetPipelineResponse{Run: resp.Run, Children: resp.Children, Jobs: resp.Jobs}, nil
}

func (s *daemonService) GetPipelineLogs(ctx context.Context, req *GetPipelineLogsRequest) (*GetPipelineLogsResponse, error) {
	resp, err := send[*admissionqry.GetPipelineLogsResponse](ctx, s.mediator, &admissionqry.GetPipelineLogsQuery{
		RunID:  req.RunID,
		Limit:  req.Limit,
		Offset: req.Offset,
		Level:  req.Level,
		Since:  req.Since,
	})
	if err != nil {
		return nil, err
	}
	return &GetPipelineLogsResponse{Logs: resp.Logs}, nil
}

func (s *daemonService) Health(ctx context.Context, req *HealthRequest) (*HealthResponse, error) {
	return &HealthResponse{
		Status:        "ok",
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	}, nil
}

var _ PipelineDaemonServer = (*daemonService)(nil)
