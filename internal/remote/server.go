// Copyright 2025 Joseph Cumines
//
// gRPC server exposing a local adapter

package remote

import (
	"context"
	"log/slog"
	"strconv"
	"sync"

	"github.com/joeycumines/axplorer/internal/ax"
	"github.com/joeycumines/axplorer/internal/logging"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Server serves an ax.Adapter to remote Clients. References handed out are
// kept alive until every session holding them releases them, at which point
// they are passed on to the adapter's Release, if it has one.
type Server struct {
	adapter  ax.Adapter
	logger   *slog.Logger
	health   *health.Server
	sessions map[string]*session
	// holders counts the sessions holding each reference.
	holders map[ax.Ref]int
	mu      sync.Mutex
}

// session is the handle table of one client.
type session struct {
	refs    map[string]ax.Ref
	handles map[ax.Ref]string
	next    uint64
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the server's logger.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewServer wraps adapter.
func NewServer(adapter ax.Adapter, opts ...ServerOption) *Server {
	s := &Server{
		adapter:  adapter,
		logger:   logging.NewNop(),
		health:   health.NewServer(),
		sessions: make(map[string]*session),
		holders:  make(map[ax.Ref]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds the adapter service and the standard health service to gs.
func (s *Server) Register(gs *grpc.Server) {
	gs.RegisterService(&serviceDesc, s)
	healthpb.RegisterHealthServer(gs, s.health)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
}

// Shutdown marks the service as not serving and drops every session.
func (s *Server) Shutdown() {
	s.health.Shutdown()

	s.mu.Lock()
	var refs []ax.Ref
	for ref := range s.holders {
		refs = append(refs, ref)
	}
	s.sessions = make(map[string]*session)
	s.holders = make(map[ax.Ref]int)
	s.mu.Unlock()

	s.releaseLocal(refs)
}

// Sessions returns the number of sessions holding at least one handle.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func sessionOf(req *structpb.Struct) (string, error) {
	id := req.GetFields()[fieldSession].GetStringValue()
	if id == "" {
		return "", status.Error(codes.InvalidArgument, "missing session")
	}
	return id, nil
}

// issue returns the handle of ref within a session, allocating one if needed.
func (s *Server) issue(sessionID string, ref ax.Ref) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		sess = &session{refs: make(map[string]ax.Ref), handles: make(map[ax.Ref]string)}
		s.sessions[sessionID] = sess
	}
	if h, ok := sess.handles[ref]; ok {
		return h
	}
	sess.next++
	h := strconv.FormatUint(sess.next, 36)
	sess.refs[h] = ref
	sess.handles[ref] = h
	s.holders[ref]++
	return h
}

func (s *Server) lookup(req *structpb.Struct, field string) (ax.Ref, error) {
	sessionID, err := sessionOf(req)
	if err != nil {
		return nil, err
	}
	h := req.GetFields()[field].GetStringValue()

	s.mu.Lock()
	ref, ok := s.sessions[sessionID].lookup(h)
	s.mu.Unlock()

	if !ok {
		return nil, toStatus(errHandle(h), reasonElementNotFound)
	}
	return ref, nil
}

func (sess *session) lookup(h string) (ax.Ref, bool) {
	if sess == nil {
		return nil, false
	}
	ref, ok := sess.refs[h]
	return ref, ok
}

func errHandle(h string) error {
	return &handleError{handle: h}
}

type handleError struct {
	handle string
}

func (e *handleError) Error() string {
	return "unknown handle " + strconv.Quote(e.handle)
}

func (e *handleError) Unwrap() error {
	return ax.ErrNotFound
}

func (s *Server) encoder(sessionID string) encoder {
	return func(ref ax.Ref) (string, error) {
		return s.issue(sessionID, ref), nil
	}
}

func handleResponse(h string) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{fieldHandle: structpb.NewStringValue(h)}}
}

func namesResponse(names []string) *structpb.Struct {
	values := make([]*structpb.Value, len(names))
	for i, n := range names {
		values[i] = structpb.NewStringValue(n)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldNames: structpb.NewListValue(&structpb.ListValue{Values: values}),
	}}
}

func (s *Server) application(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	sessionID, err := sessionOf(req)
	if err != nil {
		return nil, err
	}
	name := req.GetFields()[fieldName].GetStringValue()
	ref, err := s.adapter.Application(name)
	if err != nil {
		return nil, toStatus(err, reasonApplicationNotFound)
	}
	if ref == nil {
		return nil, status.Errorf(codes.NotFound, "application %q not found", name)
	}
	s.logger.DebugContext(ctx, "application opened", "application", name, "session", sessionID)
	return handleResponse(s.issue(sessionID, ref)), nil
}

func (s *Server) attributeNames(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ref, err := s.lookup(req, fieldHandle)
	if err != nil {
		return nil, err
	}
	names, err := s.adapter.AttributeNames(ref)
	if err != nil {
		return nil, toStatus(err, reasonElementNotFound)
	}
	return namesResponse(names), nil
}

func (s *Server) attributeValue(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ref, err := s.lookup(req, fieldHandle)
	if err != nil {
		return nil, err
	}
	raw, err := s.adapter.AttributeValue(ref, req.GetFields()[fieldName].GetStringValue())
	if err != nil {
		return nil, toStatus(err, reasonElementNotFound)
	}
	sessionID, _ := sessionOf(req)
	v, err := encodeValue(raw, s.encoder(sessionID))
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{fieldValue: v}}, nil
}

func (s *Server) actionNames(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ref, err := s.lookup(req, fieldHandle)
	if err != nil {
		return nil, err
	}
	names, err := s.adapter.ActionNames(ref)
	if err != nil {
		return nil, toStatus(err, reasonElementNotFound)
	}
	return namesResponse(names), nil
}

func (s *Server) performAction(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ref, err := s.lookup(req, fieldHandle)
	if err != nil {
		return nil, err
	}
	if err := s.adapter.PerformAction(ref, req.GetFields()[fieldAction].GetStringValue()); err != nil {
		return nil, toStatus(err, reasonElementNotFound)
	}
	return &structpb.Struct{}, nil
}

func (s *Server) setAttributeValue(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ref, err := s.lookup(req, fieldHandle)
	if err != nil {
		return nil, err
	}
	value, err := decodeValue(req.GetFields()[fieldValue], func(string) ax.Ref { return nil })
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := s.adapter.SetAttributeValue(ref, req.GetFields()[fieldName].GetStringValue(), value); err != nil {
		return nil, toStatus(err, reasonElementNotFound)
	}
	return &structpb.Struct{}, nil
}

func (s *Server) elementAtPosition(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	app, err := s.lookup(req, fieldApp)
	if err != nil {
		return nil, err
	}
	fields := req.GetFields()
	ref, err := s.adapter.ElementAtPosition(app, fields[fieldX].GetNumberValue(), fields[fieldY].GetNumberValue())
	if err != nil {
		return nil, toStatus(err, reasonElementNotFound)
	}
	if ref == nil {
		return nil, status.Error(codes.NotFound, "no element at position")
	}
	sessionID, _ := sessionOf(req)
	return handleResponse(s.issue(sessionID, ref)), nil
}

func (s *Server) release(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	sessionID, err := sessionOf(req)
	if err != nil {
		return nil, err
	}

	var unheld []ax.Ref
	s.mu.Lock()
	if sess, ok := s.sessions[sessionID]; ok {
		for _, v := range req.GetFields()[fieldHandles].GetListValue().GetValues() {
			h := v.GetStringValue()
			ref, ok := sess.refs[h]
			if !ok {
				continue
			}
			delete(sess.refs, h)
			delete(sess.handles, ref)
			if s.holders[ref]--; s.holders[ref] <= 0 {
				delete(s.holders, ref)
				unheld = append(unheld, ref)
			}
		}
		if len(sess.refs) == 0 {
			delete(s.sessions, sessionID)
		}
	}
	s.mu.Unlock()

	s.releaseLocal(unheld)
	s.logger.DebugContext(ctx, "released handles", "session", sessionID, "unheld", len(unheld))
	return &structpb.Struct{}, nil
}

func (s *Server) releaseLocal(refs []ax.Ref) {
	if len(refs) == 0 {
		return
	}
	if r, ok := s.adapter.(ax.Releaser); ok {
		r.Release(refs...)
	}
}
