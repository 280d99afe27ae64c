// Package server exposes a running VM over Connect. Every procedure takes
// and returns a google.protobuf.Struct, so the service is reachable from
// Connect, gRPC and plain HTTP/JSON clients without generated stubs.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/tliron/commonlog"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/chazu/mocha/vm"
)

var log = commonlog.GetLogger("mocha.server")

// ServicePath is the path prefix every procedure is mounted under.
const ServicePath = "/mocha.v1.InspectionService/"

// Procedure names.
const (
	StatsProcedure      = ServicePath + "Stats"
	ClassesProcedure    = ServicePath + "Classes"
	ClassProcedure      = ServicePath + "Class"
	CachesProcedure     = ServicePath + "Caches"
	LoadProcedure       = ServicePath + "Load"
	InvokeProcedure     = ServicePath + "Invoke"
	AllocationProcedure = ServicePath + "Allocation"
)

// Server is the inspection server wrapping a VM.
type Server struct {
	vm      *vm.VM
	mux     *http.ServeMux
	timeout time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithInvokeTimeout bounds how long an Invoke or Load request may run.
// Zero means the request context alone decides.
func WithInvokeTimeout(d time.Duration) Option {
	return func(s *Server) { s.timeout = d }
}

type unary func(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

// New creates a Server for v.
func New(v *vm.VM, opts ...Option) *Server {
	s := &Server{vm: v, mux: http.NewServeMux()}
	for _, opt := range opts {
		opt(s)
	}

	s.handle(StatsProcedure, s.stats)
	s.handle(ClassesProcedure, s.classes)
	s.handle(ClassProcedure, s.class)
	s.handle(CachesProcedure, s.caches)
	s.handle(LoadProcedure, s.load)
	s.handle(InvokeProcedure, s.invoke)
	s.handle(AllocationProcedure, s.allocation)
	return s
}

func (s *Server) handle(procedure string, fn unary) {
	s.mux.Handle(procedure, connect.NewUnaryHandler(procedure,
		func(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
			log.Debugf("%s", procedure)
			res, err := fn(ctx, req.Msg)
			if err != nil {
				return nil, err
			}
			return connect.NewResponse(res), nil
		}))
}

// Handler returns the HTTP handler serving all procedures.
func (s *Server) Handler() http.Handler { return s.mux }

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Noticef("inspector listening on %s", addr)
	log.Infof("  Connect (HTTP/JSON): http://%s%s", addr, StatsProcedure)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

// NewClient returns a Connect client for one procedure of a server at
// baseURL.
func NewClient(httpClient connect.HTTPClient, baseURL, procedure string, opts ...connect.ClientOption) *connect.Client[structpb.Struct, structpb.Struct] {
	return connect.NewClient[structpb.Struct, structpb.Struct](httpClient, baseURL+procedure, opts...)
}

// ---------------------------------------------------------------------------
// Request helpers
// ---------------------------------------------------------------------------

func stringField(req *structpb.Struct, key string) (string, error) {
	v, ok := req.GetFields()[key]
	if !ok || v.GetStringValue() == "" {
		return "", connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("%s is required", key))
	}
	return v.GetStringValue(), nil
}

func respond(m map[string]any) (*structpb.Struct, error) {
	res, err := structpb.NewStruct(m)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return res, nil
}

// guestError maps an error from the VM's public API to a Connect error.
func guestError(err error) error {
	var exc *vm.VMException
	var intr *vm.Interrupt
	switch {
	case errors.As(err, &exc):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.As(err, &intr):
		if errors.Is(err, context.Canceled) {
			return connect.NewError(connect.CodeCanceled, err)
		}
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	}
	return connect.NewError(connect.CodeInternal, err)
}
