package daemon

import (
	"context"
	"time"

	"google.golang.org/grpc"

	"github.com/qbanklabs/qbank-go/internal/application/admission"
	"github.com/qbanklabs/qbank-go/internal/application/admission/queries"
)

// ServiceName is the fully qualified gRPC service name
const ServiceName = "qbank.v1.PipelineDaemon"

// Wire messages. RunSummary, JobSummary and LogEntry already carry
// msgpack tags; these envelopes add the per-call fields.

// UploadPart is one document body sent with a submission
type UploadPart struct {
	Filename string `msgpack:"filename"`
	Content  []byte `msgpack:"content"`
}

// SubmitPipelineRequest admits a new run for a tenant
type SubmitPipelineRequest struct {
	TenantID   string       `msgpack:"tenant_id"`
	Uploads    []UploadPart `msgpack:"uploads,omitempty"`
	SourceURLs []string     `msgpack:"source_urls,omitempty"`
}

// SubmitPipelineResponse returns the admitted run
type SubmitPipelineResponse struct {
	Run *admission.RunSummary `msgpack:"run"`
}

// RunRequest addresses one run by ID (cancel, pause, resume, delete)
type RunRequest struct {
	RunID string `msgpack:"run_id"`
}

// RunResponse acknowledges an operation with no payload
type RunResponse struct{}

// RestartPipelineRequest restarts a terminal run from its uploads
type RestartPipelineRequest struct {
	RunID string `msgpack:"run_id"`
}

// RestartPipelineResponse returns the replacement run
type RestartPipelineResponse struct {
	Run *admission.RunSummary `msgpack:"run"`
}

// ListPipelinesRequest filters a tenant's runs
type ListPipelinesRequest struct {
	TenantID        string   `msgpack:"tenant_id"`
	Statuses        []string `msgpack:"statuses,omitempty"`
	IncludeChildren bool     `msgpack:"include_children"`
	Limit           int      `msgpack:"limit"`
	Offset          int      `msgpack:"offset"`
}

// ListPipelinesResponse carries one page of run summaries
type ListPipelinesResponse struct {
	Runs []*admission.RunSummary `msgpack:"runs"`
}

// MergePipelinesRequest merges completed runs into a similarity run
type MergePipelinesRequest struct {
	RunIDs []string `msgpack:"run_ids"`
}

// MergePipelinesResponse returns the merged run
type MergePipelinesResponse struct {
	Run *admission.RunSummary `msgpack:"run"`
}

// GetPipelineRequest fetches one run with children and jobs
type GetPipelineRequest struct {
	RunID string `msgpack:"run_id"`
}

// GetPipelineResponse is the full view of one run
type GetPipelineResponse struct {
	Run      *admission.RunSummary   `msgpack:"run"`
	Children []*admission.RunSummary `msgpack:"children,omitempty"`
	Jobs     []*admission.JobSummary `msgpack:"jobs,omitempty"`
}

// GetPipelineLogsRequest pages through a run's log rows
type GetPipelineLogsRequest struct {
	RunID  string    `msgpack:"run_id"`
	Limit  int       `msgpack:"limit"`
	Offset int       `msgpack:"offset"`
	Level  string    `msgpack:"level,omitempty"`
	Since  time.Time `msgpack:"since,omitempty"`
}

// GetPipelineLogsResponse carries one page of log entries
type GetPipelineLogsResponse struct {
	Logs []queries.LogEntry `msgpack:"logs"`
}

// HealthRequest probes the daemon
type HealthRequest struct{}

// HealthResponse reports daemon liveness
type HealthResponse struct {
	Status        string `msgpack:"status"`
	Version       string `msgpack:"version"`
	UptimeSeconds int64  `msgpack:"uptime_seconds"`
}

// PipelineDaemonServer is the RPC surface the daemon exposes over its
// unix socket. daemonService implements it; the CLI's Client mirrors it.
type PipelineDaemonServer interface {
	SubmitPipeline(ctx context.Context, req *SubmitPipelineRequest) (*SubmitPipelineResponse, error)
	CancelPipeline(ctx context.Context, req *RunRequest) (*RunResponse, error)
	PausePipeline(ctx context.Context, req *RunRequest) (*RunResponse, error)
	ResumePipeline(ctx context.Context, req *RunRequest) (*RunResponse, error)
	RestartPipeline(ctx context.Context, req *RestartPipelineRequest) (*RestartPipelineResponse, error)
	DeletePipeline(ctx context.Context, req *RunRequest) (*RunResponse, error)
	ListPipelines(ctx context.Context, req *ListPipelinesRequest) (*ListPipelinesResponse, error)
	MergePipelines(ctx context.Context, req *MergePipelinesRequest) (*MergePipelinesResponse, error)
	GetPipeline(ctx context.Context, req *GetPipelineRequest) (*GetPipelineResponse, error)
	GetPipelineLogs(ctx context.Context, req *GetPipelineLogsRequest) (*GetPipelineLogsResponse, error)
	Health(ctx context.Context, req *HealthRequest) (*HealthResponse, error)
}

// unary adapts one typed service method into a grpc.MethodDesc handler.
// It plays the role protoc-generated glue normally would.
func unary[Req any, Resp any](
	method string,
	call func(srv PipelineDaemonServer, ctx context.Context, req *Req) (*Resp, error),
) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + method
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(PipelineDaemonServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(PipelineDaemonServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// serviceDesc wires the method table by hand; no protos are generated
// for this service.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PipelineDaemonServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("SubmitPipeline", func(srv PipelineDaemonServer, ctx context.Context, req *SubmitPipelineRequest) (*SubmitPipelineResponse, error) {
			return srv.SubmitPipeline(ctx, req)
		}),
		unary("CancelPipeline", func(srv PipelineDaemonServer, ctx context.Context, req *RunRequest) (*RunResponse, error) {
			return srv.CancelPipeline(ctx, req)
		}),
		unary("PausePipeline", func(srv PipelineDaemonServer, ctx context.Context, req *RunRequest) (*RunResponse, error) {
			return srv.PausePipeline(ctx, req)
		}),
		unary("ResumePipeline", func(srv PipelineDaemonServer, ctx context.Context, req *RunRequest) (*RunResponse, error) {
			return srv.ResumePipeline(ctx, req)
		}),
		unary("RestartPipeline", func(srv PipelineDaemonServer, ctx context.Context, req *RestartPipelineRequest) (*RestartPipelineResponse, error) {
			return srv.RestartPipeline(ctx, req)
		}),
		unary("DeletePipeline", func(srv PipelineDaemonServer, ctx context.Context, req *RunRequest) (*RunResponse, error) {
			return srv.DeletePipeline(ctx, req)
		}),
		unary("ListPipelines", func(srv PipelineDaemonServer, ctx context.Context, req *ListPipelinesRequest) (*ListPipelinesResponse, error) {
			return srv.ListPipelines(ctx, req)
		}),
		unary("MergePipelines", func(srv PipelineDaemonServer, ctx context.Context, req *MergePipelinesRequest) (*MergePipelinesResponse, error) {
			return srv.MergePipelines(ctx, req)
		}),
		unary("GetPipeline", func(srv PipelineDaemonServer, ctx context.Context, req *GetPipelineRequest) (*GetPipelineResponse, error) {
			return srv.GetPipeline(ctx, req)
		}),
		unary("GetPipelineLogs", func(srv PipelineDaemonServer, ctx context.Context, req *GetPipelineLogsRequest) (*GetPipelineLogsResponse, error) {
			return srv.GetPipelineLogs(ctx, req)
		}),
		unary("Health", func(srv PipelineDaemonServer, ctx context.Context, req *HealthRequest) (*HealthResponse, error) {
			return srv.Health(ctx, req)
		}),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "qbank daemon service (msgpack, hand-assembled)",
}
