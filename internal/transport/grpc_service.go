package transport

import (
	"context"

	"google.golang.org/grpc"
)

// serviceName and the Send method name make up the gRPC full method path
// that a hand-rolled ServiceDesc would otherwise get from a .proto file.
const (
	serviceName = "silo.transport.v1.Transport"
	sendMethod  = "/" + serviceName + "/Send"
)

// transportServer is what grpc.ServiceDesc.HandlerType asserts any
// registered implementation satisfies.
type transportServer interface {
	Send(ctx context.Context, in *rawMessage) (*rawMessage, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*transportServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Send",
			Handler:    sendHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "silo/transport.proto",
}

func sendHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(rawMessage)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(transportServer).Send(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: sendMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(transportServer).Send(ctx, req.(*rawMessage))
	}
	return interceptor(ctx, in, info, handler)
}

// registerTransportServer wires srv into s under serviceDesc, equivalent to
// what a generated RegisterTransportServer(s, srv) would do.
func registerTransportServer(s grpc.ServiceRegistrar, srv transportServer) {
	s.RegisterService(&serviceDesc, srv)
}

// transportClient is the hand-rolled stub equivalent to a generated
// TransportClient.
type transportClient struct {
	cc grpc.ClientConnInterface
}

func newTransportClient(cc grpc.ClientConnInterface) *transportClient {
	return &transportClient{cc: cc}
}

func (c *transportClient) Send(ctx context.Context, in *rawMessage, opts ...grpc.CallOption) (*rawMessage, error) {
	out := new(rawMessage)
	opts = append(opts, grpc.CallContentSubtype(rawCodecName))
	if err := c.cc.Invoke(ctx, sendMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
