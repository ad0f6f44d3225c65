package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const serviceName = "marketsync.MarketDataService"

const (
	GetOrderBookSnapshotMethod = "/" + serviceName + "/GetOrderBookSnapshot"
	GetTickerMethod            = "/" + serviceName + "/GetTicker"
	GetTradesMethod            = "/" + serviceName + "/GetTrades"
)

// MarketDataServiceServer takes and returns loosely typed structs so that
// clients need no generated code:
//
//	GetOrderBookSnapshot {provider, market, max_depth}
//	GetTicker            {provider, market}
//	GetTrades            {provider, market, since (unix ms), limit}
type MarketDataServiceServer interface {
	GetOrderBookSnapshot(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetTicker(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetTrades(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(srv MarketDataServiceServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)

func handler(fullMethod string, call unaryMethod) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(MarketDataServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(MarketDataServiceServer), ctx, req.(*structpb.Struct))
		})
	}
}

var MarketDataService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*MarketDataServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetOrderBookSnapshot",
			Handler: handler(GetOrderBookSnapshotMethod, func(srv MarketDataServiceServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return srv.GetOrderBookSnapshot(ctx, in)
			}),
		},
		{
			MethodName: "GetTicker",
			Handler: handler(GetTickerMethod, func(srv MarketDataServiceServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return srv.GetTicker(ctx, in)
			}),
		},
		{
			MethodName: "GetTrades",
			Handler: handler(GetTradesMethod, func(srv MarketDataServiceServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return srv.GetTrades(ctx, in)
			}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "marketsync.proto",
}

func RegisterMarketDataServiceServer(s grpc.ServiceRegistrar, srv MarketDataServiceServer) {
	s.RegisterService(&MarketDataService_ServiceDesc, srv)
}

type MarketDataServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewMarketDataServiceClient(cc grpc.ClientConnInterface) *MarketDataServiceClient {
	return &MarketDataServiceClient{cc: cc}
}

func (c *MarketDataServiceClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *MarketDataServiceClient) GetOrderBookSnapshot(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, GetOrderBookSnapshotMethod, in, opts...)
}

func (c *MarketDataServiceClient) GetTicker(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, GetTickerMethod, in, opts...)
}

func (c *MarketDataServiceClient) GetTrades(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, GetTradesMethod, in, opts...)
}
