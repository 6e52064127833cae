package api

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/matheus3301/wallwatch/internal/bus"
	"github.com/matheus3301/wallwatch/internal/store"
	"github.com/matheus3301/wallwatch/internal/watch"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
	streamBuffer    = 256
)

// Watcher is the part of watch.Manager the service drives.
type Watcher interface {
	Start(ctx context.Context, spec watch.Spec) (watch.Info, error)
	Stop(wallID int64) (watch.Info, error)
	List() []watch.Info
}

// Journal pages stored changes.
type Journal interface {
	ListChanges(wallID, beforeID int64, limit int) ([]store.ChangeRecord, error)
}

// WatchService implements WatchServiceServer.
type WatchService struct {
	watcher Watcher
	journal Journal
	bus     *bus.Bus
	logger  *zap.Logger
}

// NewWatchService creates a new watch service.
func NewWatchService(w Watcher, j Journal, b *bus.Bus, logger *zap.Logger) *WatchService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WatchService{watcher: w, journal: j, bus: b, logger: logger}
}

func (s *WatchService) ListWatches(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	infos := s.watcher.List()
	resp := ListWatchesResponse{Watches: make([]WatchInfo, 0, len(infos))}
	for _, i := range infos {
		resp.Watches = append(resp.Watches, infoFromWatch(i))
	}
	return reply(resp)
}

func (s *WatchService) StartWatch(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req StartRequest
	if err := decode(in, &req); err != nil {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	spec, err := req.Spec()
	if err != nil {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "%v", err)
	}
	info, err := s.watcher.Start(ctx, spec)
	if errors.Is(err, watch.ErrShutdown) {
		return nil, grpcstatus.Errorf(codes.Unavailable, "%v", err)
	}
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "start watch: %v", err)
	}
	s.logger.Info("watch started over api", zap.Int64("wall_id", spec.WallID))
	return reply(infoFromWatch(info))
}

func (s *WatchService) StopWatch(_ context.Context, in *wrapperspb.Int64Value) (*structpb.Struct, error) {
	info, err := s.watcher.Stop(in.GetValue())
	if errors.Is(err, watch.ErrNotWatched) {
		return nil, grpcstatus.Errorf(codes.NotFound, "%v", err)
	}
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "stop watch: %v", err)
	}
	return reply(infoFromWatch(info))
}

func (s *WatchService) ListChanges(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.journal == nil {
		return nil, grpcstatus.Errorf(codes.Unavailable, "journal not initialized")
	}
	var req ListChangesRequest
	if err := decode(in, &req); err != nil {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	limit := req.Limit
	switch {
	case limit <= 0:
		limit = defaultPageSize
	case limit > maxPageSize:
		limit = maxPageSize
	}

	records, err := s.journal.ListChanges(req.WallID, req.BeforeID, limit)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "list changes: %v", err)
	}
	page := ChangePage{Changes: make([]Change, 0, len(records))}
	for _, r := range records {
		page.Changes = append(page.Changes, changeFromRecord(r))
	}
	if len(records) == limit {
		page.NextBeforeID = records[len(records)-1].ID
	}
	return reply(page)
}

// WatchChanges streams bus events of one wall, or of all walls when the
// requested id is zero, until the client goes away.
func (s *WatchService) WatchChanges(in *wrapperspb.Int64Value, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	ch, unsub := s.bus.SubscribeWall("", in.GetValue(), streamBuffer)
	defer unsub()

	for {
		select {
		case evt := <-ch:
			env, ok := envelopeFromEvent(uuid.NewString(), evt)
			if !ok {
				continue
			}
			msg, err := encode(env)
			if err != nil {
				s.logger.Warn("encode envelope", zap.String("kind", evt.Kind), zap.Error(err))
				continue
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

func reply(v any) (*structpb.Struct, error) {
	out, err := encode(v)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode reply: %v", err)
	}
	return out, nil
}
