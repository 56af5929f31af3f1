package omsv1

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"
)

type fakeClientConn struct {
	invoke func(context.Context, string, any, any, ...grpc.CallOption) error
}

func (f *fakeClientConn) Invoke(ctx context.Context, method string, args any, reply any, opts ...grpc.CallOption) error {
	if f.invoke == nil {
		return errors.New("unexpected Invoke call")
	}
	return f.invoke(ctx, method, args, reply, opts...)
}

func (f *fakeClientConn) NewStream(context.Context, *grpc.StreamDesc, string, ...grpc.CallOption) (grpc.ClientStream, error) {
	return nil, errors.New("not implemented")
}

func TestOrderServiceClient_InvokesFullMethod(t *testing.T) {
	var (
		gotMethod string
		gotOpts   []grpc.CallOption
	)
	conn := &fakeClientConn{
		invoke: func(_ context.Context, method string, _ any, reply any, opts ...grpc.CallOption) error {
			gotMethod = method
			gotOpts = opts
			reply.(*GetOrderResponse).Order = &Order{Id: "order-1"}
			return nil
		},
	}

	resp, err := NewOrderServiceClient(conn).GetOrder(context.Background(), &GetOrderRequest{OrderId: "order-1"}, grpc.WaitForReady(true))
	if err != nil {
		t.Fatalf("GetOrder failed: %v", err)
	}
	if resp.GetOrder().GetId() != "order-1" {
		t.Fatalf("unexpected order id %q", resp.GetOrder().GetId())
	}
	if gotMethod != OrderService_GetOrder_FullMethodName {
		t.Fatalf("unexpected method %s", gotMethod)
	}
	if len(gotOpts) != 1 {
		t.Fatalf("expected caller options to pass through unchanged, got %d", len(gotOpts))
	}
}

func TestOrderServiceClient_PropagatesError(t *testing.T) {
	conn := &fakeClientConn{
		invoke: func(context.Context, string, any, any, ...grpc.CallOption) error {
			return status.Error(codes.Internal, "boom")
		},
	}

	client := NewOrderServiceClient(conn)
	if _, err := client.CompleteOrder(context.Background(), &CompleteOrderRequest{}); status.Code(err) != codes.Internal {
		t.Fatalf("expected internal error, got %v", err)
	}
	if _, err := client.DeleteOrder(context.Background(), &DeleteOrderRequest{}); status.Code(err) != codes.Internal {
		t.Fatalf("expected internal error, got %v", err)
	}
}

func TestUnimplementedOrderServiceServer(t *testing.T) {
	var srv UnimplementedOrderServiceServer
	if _, err := srv.AddItem(context.Background(), &AddItemRequest{}); status.Code(err) != codes.Unimplemented {
		t.Fatalf("expected unimplemented, got %v", err)
	}
	if _, err := srv.GetTimeline(context.Background(), &GetTimelineRequest{}); status.Code(err) != codes.Unimplemented {
		t.Fatalf("expected unimplemented, got %v", err)
	}
}

type echoServer struct {
	UnimplementedOrderServiceServer
}

func (echoServer) AddItem(_ context.Context, req *AddItemRequest) (*AddItemResponse, error) {
	return &AddItemResponse{Item: &OrderItem{OrderId: req.OrderId, ProductId: req.ProductId, Quantity: req.Quantity}}, nil
}

func TestHandler_DecodesRequestAndRunsInterceptor(t *testing.T) {
	codec := encoding.GetCodecV2(CodecName)
	if codec == nil {
		t.Fatal("proto codec is not registered")
	}

	payload, err := codec.Marshal(&AddItemRequest{OrderId: "o-1", ProductId: "p-1", Quantity: 3})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	intercepted := false
	interceptor := func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		intercepted = info.FullMethod == OrderService_AddItem_FullMethodName
		return handler(ctx, req)
	}

	out, err := _OrderService_AddItem_Handler(echoServer{}, context.Background(), func(v any) error {
		return codec.Unmarshal(payload, v)
	}, interceptor)
	if err != nil {
		t.Fatalf("handler failed: %v", err)
	}
	if !intercepted {
		t.Fatal("interceptor was not invoked with full method name")
	}
	item := out.(*AddItemResponse).Item
	if item.OrderId != "o-1" || item.ProductId != "p-1" || item.Quantity != 3 {
		t.Fatalf("unexpected decoded item: %+v", item)
	}
}

func TestServiceDesc_ListsAllMethods(t *testing.T) {
	if OrderService_ServiceDesc.ServiceName != ServiceName {
		t.Fatalf("unexpected service name %s", OrderService_ServiceDesc.ServiceName)
	}
	if got := len(OrderService_ServiceDesc.Methods); got != 11 {
		t.Fatalf("expected 11 methods, got %d", got)
	}
}
