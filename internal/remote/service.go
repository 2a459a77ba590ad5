// Copyright 2025 Joseph Cumines
//
// Package remote carries the ax.Adapter interface over gRPC, so that the
// engine can run apart from the process holding accessibility permission.
//
// Messages are google.protobuf.Struct values; no generated stubs are needed.
// Element references travel as opaque string handles, scoped to a session:
// every Client owns one session, and releasing a handle in one session never
// affects another.

package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/joeycumines/axplorer/internal/ax"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "axplorer.v1.NodeAdapter"

// Method names.
const (
	methodApplication       = "Application"
	methodAttributeNames    = "AttributeNames"
	methodAttributeValue    = "AttributeValue"
	methodActionNames       = "ActionNames"
	methodPerformAction     = "PerformAction"
	methodSetAttributeValue = "SetAttributeValue"
	methodElementAtPosition = "ElementAtPosition"
	methodRelease           = "Release"
)

// ErrorInfo reasons and domain.
const (
	errorDomain               = "axplorer.dev"
	reasonApplicationNotFound = "APPLICATION_NOT_FOUND"
	reasonElementNotFound     = "ELEMENT_NOT_FOUND"
	reasonUnsupported         = "ATTRIBUTE_UNSUPPORTED"
)

// Request fields.
const (
	fieldSession = "session"
	fieldName    = "name"
	fieldHandle  = "handle"
	fieldHandles = "handles"
	fieldApp     = "app"
	fieldAction  = "action"
	fieldValue   = "value"
	fieldNames   = "names"
	fieldX       = "x"
	fieldY       = "y"
)

func fullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// methodHandler serves one unary method of a Server.
type methodHandler func(s *Server, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

func unary(method string, fn methodHandler) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			req := new(structpb.Struct)
			if err := dec(req); err != nil {
				return nil, err
			}
			s := srv.(*Server)
			if interceptor == nil {
				return fn(s, ctx, req)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(method)}
			return interceptor(ctx, req, info, func(ctx context.Context, req any) (any, error) {
				return fn(s, ctx, req.(*structpb.Struct))
			})
		},
	}
}

// nodeAdapterServer is the handler type checked by grpc.Server.RegisterService.
type nodeAdapterServer interface {
	application(context.Context, *structpb.Struct) (*structpb.Struct, error)
	attributeNames(context.Context, *structpb.Struct) (*structpb.Struct, error)
	attributeValue(context.Context, *structpb.Struct) (*structpb.Struct, error)
	actionNames(context.Context, *structpb.Struct) (*structpb.Struct, error)
	performAction(context.Context, *structpb.Struct) (*structpb.Struct, error)
	setAttributeValue(context.Context, *structpb.Struct) (*structpb.Struct, error)
	elementAtPosition(context.Context, *structpb.Struct) (*structpb.Struct, error)
	release(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*nodeAdapterServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(methodApplication, (*Server).application),
		unary(methodAttributeNames, (*Server).attributeNames),
		unary(methodAttributeValue, (*Server).attributeValue),
		unary(methodActionNames, (*Server).actionNames),
		unary(methodPerformAction, (*Server).performAction),
		unary(methodSetAttributeValue, (*Server).setAttributeValue),
		unary(methodElementAtPosition, (*Server).elementAtPosition),
		unary(methodRelease, (*Server).release),
	},
	Metadata: "axplorer/v1/node_adapter",
}

// toStatus converts an adapter error to a gRPC status, attaching an
// ErrorInfo so the client can map it back to the ax sentinels.
func toStatus(err error, reason string) error {
	if err == nil {
		return nil
	}
	var code codes.Code
	switch {
	case errors.Is(err, ax.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, ax.ErrUnsupported):
		code = codes.InvalidArgument
		reason = reasonUnsupported
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
	st, detailErr := status.New(code, err.Error()).WithDetails(&errdetails.ErrorInfo{
		Reason: reason,
		Domain: errorDomain,
	})
	if detailErr != nil {
		return status.Error(code, err.Error())
	}
	return st.Err()
}

// fromStatus maps a gRPC error back onto the ax sentinels.
func fromStatus(method string, err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%s: %w", method, err)
	}
	for _, d := range st.Details() {
		info, ok := d.(*errdetails.ErrorInfo)
		if !ok || info.GetDomain() != errorDomain {
			continue
		}
		switch info.GetReason() {
		case reasonApplicationNotFound, reasonElementNotFound:
			return fmt.Errorf("%s: %w: %s", method, ax.ErrNotFound, st.Message())
		case reasonUnsupported:
			return fmt.Errorf("%s: %w: %s", method, ax.ErrUnsupported, st.Message())
		}
	}
	switch st.Code() {
	case codes.NotFound:
		return fmt.Errorf("%s: %w: %s", method, ax.ErrNotFound, st.Message())
	case codes.InvalidArgument, codes.Unimplemented:
		return fmt.Errorf("%s: %w: %s", method, ax.ErrUnsupported, st.Message())
	}
	return fmt.Errorf("%s: %w", method, err)
}
