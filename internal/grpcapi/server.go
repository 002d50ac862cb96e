package grpcapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Pi-Jeremy/gateman/internal/gateman/service"
	"github.com/Pi-Jeremy/gateman/internal/gateman/store"
	"github.com/Pi-Jeremy/gateman/internal/gateman/types"
	"github.com/Pi-Jeremy/gateman/internal/gateman/wire"
)

const (
	mdStaffID   = "x-staff-id"
	mdStaffRole = "x-staff-role"
)

type Dependencies struct {
	Logger     *slog.Logger
	Admission  *service.AdmissionService
	Issuer     *service.Issuer
	Events     *service.EventService
	Attendance *service.Attendance
	Watcher    *service.StatsWatcher
}

type Server struct {
	grpc   *grpc.Server
	health *health.Server
	logger *slog.Logger

	admission  *service.AdmissionService
	issuer     *service.Issuer
	events     *service.EventService
	attendance *service.Attendance
	watcher    *service.StatsWatcher
}

var _ GateServer = (*Server)(nil)

func NewServer(d Dependencies) *Server {
	s := &Server{
		health:     health.NewServer(),
		logger:     d.Logger,
		admission:  d.Admission,
		issuer:     d.Issuer,
		events:     d.Events,
		attendance: d.Attendance,
		watcher:    d.Watcher,
	}
	s.grpc = grpc.NewServer(
		grpc.ChainUnaryInterceptor(s.unaryLogger),
		grpc.ChainStreamInterceptor(s.streamLogger),
	)
	RegisterGateServer(s.grpc, s)
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	return s
}

func (s *Server) Serve(l net.Listener) error {
	return s.grpc.Serve(l)
}

// Shutdown marks the service NOT_SERVING and drains in-flight calls until
// ctx expires, then closes what is left.
func (s *Server) Shutdown(ctx context.Context) {
	s.health.Shutdown()
	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.grpc.Stop()
	}
}

// ── Gate ─────────────────────────────────────────────────────────────────────

func (s *Server) Admit(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	c, err := callerFromContext(ctx)
	if err != nil {
		return nil, err
	}
	res, err := s.admission.Admit(ctx, c, wire.String(in, "event_id"), wire.String(in, "ticket_code"))
	if err != nil {
		return nil, toStatus(err)
	}
	return wire.ValidationResult(res), nil
}

func (s *Server) IssueBatch(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	c, err := callerFromContext(ctx)
	if err != nil {
		return nil, err
	}
	n, ok := wire.Int(in, "quantity")
	if !ok {
		return nil, toStatus(service.ErrInvalidQuantity)
	}
	tickets, err := s.issuer.IssueBatch(ctx, c, wire.String(in, "event_id"), n)
	if err != nil {
		return nil, toStatus(err)
	}
	return wire.Tickets(tickets), nil
}

func (s *Server) DeleteEvent(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	c, err := callerFromContext(ctx)
	if err != nil {
		return nil, err
	}
	eventID := wire.String(in, "event_id")
	existed, err := s.events.DeleteEvent(ctx, c, eventID)
	if err != nil {
		return nil, toStatus(err)
	}
	return wire.Deleted(eventID, existed), nil
}

func (s *Server) Stats(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	c, err := callerFromContext(ctx)
	if err != nil {
		return nil, err
	}
	st, err := s.attendance.Stats(ctx, c, wire.String(in, "event_id"))
	if err != nil {
		return nil, toStatus(err)
	}
	return wire.Stats(st), nil
}

func (s *Server) WatchStats(in *structpb.Struct, stream grpc.ServerStream) error {
	ctx := stream.Context()
	c, err := callerFromContext(ctx)
	if err != nil {
		return err
	}
	w, err := s.watcher.Open(ctx, c, wire.String(in, "event_id"))
	if err != nil {
		return toStatus(err)
	}
	defer w.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case st, ok := <-w.C:
			if !ok {
				return nil
			}
			if err := stream.SendMsg(wire.Stats(st)); err != nil {
				return err
			}
		}
	}
}

// ── Helpers ──────────────────────────────────────────────────────────────────

func callerFromContext(ctx context.Context) (types.Caller, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	id := strings.TrimSpace(first(md.Get(mdStaffID)))
	if id == "" {
		return types.Caller{}, status.Error(codes.Unauthenticated, mdStaffID+" metadata is required")
	}
	return types.Caller{StaffID: id, Role: types.ParseRole(first(md.Get(mdStaffRole)))}, nil
}

func first(v []string) string {
	if len(v) == 0 {
		return ""
	}
	return v[0]
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, service.ErrInvalidEventID),
		errors.Is(err, service.ErrInvalidTicketCode),
		errors.Is(err, service.ErrInvalidStaffID),
		errors.Is(err, service.ErrInvalidQuantity):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, service.ErrForbidden):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, service.ErrEventNotFound), errors.Is(err, store.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, service.ErrTicketLimitExceeded),
		errors.Is(err, service.ErrGenerationExhausted):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, service.ErrTransient):
		return status.Error(codes.Unavailable, "store temporarily unavailable, outcome unknown")
	}
	return status.Error(codes.Internal, "unexpected server error")
}

func (s *Server) unaryLogger(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	s.logger.Info("grpc call", "method", info.FullMethod, "code", status.Code(err).String(), "dur", time.Since(start))
	return resp, err
}

func (s *Server) streamLogger(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	start := time.Now()
	err := handler(srv, ss)
	s.logger.Info("grpc stream", "method", info.FullMethod, "code", status.Code(err).String(), "dur", time.Since(start))
	return err
}
