// Package grpcapi serves published cell snapshots over gRPC.
//
// The service is timequery.v1.Cells. Messages are google.protobuf.Struct
// values so clients in any language can decode them without generated stubs:
//
//	GetSnapshot({"cell": "rps"}) -> snapshot object
//	ListCells({})               -> {"cells": ["rps", ...]}
package grpcapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/HatiCode/timequery/pkg/storage"
)

const (
	ServiceName       = "timequery.v1.Cells"
	getSnapshotMethod = "/" + ServiceName + "/GetSnapshot"
	listCellsMethod   = "/" + ServiceName + "/ListCells"
)

// CellsServer is the server API for the Cells service.
type CellsServer interface {
	GetSnapshot(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListCells(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// Server answers Cells requests from a snapshot store.
type Server struct {
	store  storage.Store
	cells  func() []string
	logger *slog.Logger
}

var _ CellsServer = (*Server)(nil)

// NewServer creates a Cells server. cells lists the configured cell names.
func NewServer(store storage.Store, cells func() []string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{store: store, cells: cells, logger: logger}
}

// GetSnapshot returns the latest snapshot of the requested cell.
func (s *Server) GetSnapshot(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	name := req.GetFields()["cell"].GetStringValue()
	if err := storage.ValidateCellName(name); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	snapshot, found, err := s.store.GetLatest(ctx, name)
	if err != nil {
		s.logger.Error("failed to get snapshot", "cell", name, "error", err)
		return nil, status.Error(codes.Internal, "failed to read snapshot")
	}
	if !found {
		return nil, status.Errorf(codes.NotFound, "snapshot not found for cell %q", name)
	}

	return SnapshotStruct(snapshot)
}

// ListCells returns the configured cell names.
func (s *Server) ListCells(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	var names []any
	if s.cells != nil {
		for _, n := range s.cells() {
			names = append(names, n)
		}
	}
	return structpb.NewStruct(map[string]any{"cells": names})
}

// SnapshotStruct converts a snapshot to its wire form.
func SnapshotStruct(s storage.Snapshot) (*structpb.Struct, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "marshal snapshot: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "unmarshal snapshot: %v", err)
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "convert snapshot: %v", err)
	}
	return out, nil
}

// RegisterCellsServer registers srv on s.
func RegisterCellsServer(s grpc.ServiceRegistrar, srv CellsServer) {
	s.RegisterService(&cellsServiceDesc, srv)
}

func unaryHandler(method string, call func(CellsServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(CellsServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(CellsServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var cellsServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CellsServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetSnapshot",
			Handler:    unaryHandler(getSnapshotMethod, CellsServer.GetSnapshot),
		},
		{
			MethodName: "ListCells",
			Handler:    unaryHandler(listCellsMethod, CellsServer.ListCells),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "timequery/v1/cells.proto",
}

// Client calls the Cells service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps a client connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// GetSnapshot fetches the latest snapshot of cell.
func (c *Client) GetSnapshot(ctx context.Context, cell string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	in, err := structpb.NewStruct(map[string]any{"cell": cell})
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if err := c.cc.Invoke(ctx, getSnapshotMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// ListCells fetches the configured cell names.
func (c *Client) ListCells(ctx context.Context, opts ...grpc.CallOption) ([]string, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, listCellsMethod, &structpb.Struct{}, out, opts...); err != nil {
		return nil, err
	}
	var names []string
	for _, v := range out.GetFields()["cells"].GetListValue().GetValues() {
		names = append(names, v.GetStringValue())
	}
	return names, nil
}
