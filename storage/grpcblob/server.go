package grpcblob

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/getwalmarket/walmarket/storage"
)

// Server exposes a storage.BlobStore over the blob gRPC service.
type Server struct {
	UnimplementedBlobStoreServer
	Store  storage.BlobStore
	Logger *zap.Logger
}

func (s *Server) Put(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.StringValue, error) {
	if s == nil || s.Store == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing blob store")
	}
	id, err := s.Store.Put(ctx, in.GetValue())
	if err != nil {
		s.log().Warn("put failed", zap.Int("bytes", len(in.GetValue())), zap.Error(err))
		return nil, mapErr(err)
	}
	s.log().Debug("put", zap.String("blob_id", id), zap.Int("bytes", len(in.GetValue())))
	return wrapperspb.String(id), nil
}

func (s *Server) Get(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	if s == nil || s.Store == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing blob store")
	}
	id := strings.TrimSpace(in.GetValue())
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, storage.ErrInvalidID.Error())
	}
	b, err := s.Store.Get(ctx, id)
	if err != nil {
		if !storage.IsNotFound(err) {
			s.log().Warn("get failed", zap.String("blob_id", id), zap.Error(err))
		}
		return nil, mapErr(err)
	}
	return wrapperspb.Bytes(b), nil
}

func (s *Server) log() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}
