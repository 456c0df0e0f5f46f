package handler

import (
	"context"
	"encoding/json"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/rl1809/ticket-escrow/internal/core/domain"
	"github.com/rl1809/ticket-escrow/internal/core/service"
)

const (
	ServiceName = "escrow.v1.EscrowService"

	// CodecName is the content subtype clients must send ("application/grpc+json").
	CodecName = "json"

	userIDMetadataKey = "x-user-id"
)

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec lets the API run without generated protobuf types.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return CodecName }

type PurchaseRequest struct {
	ListingID string   `json:"listing_id"`
	UnitIDs   []string `json:"unit_ids"`
}

type TransactionRequest struct {
	TransactionID string `json:"transaction_id"`
}

// EscrowServer is the gRPC surface for buyers and sellers.
type EscrowServer interface {
	InitiatePurchase(ctx context.Context, req *PurchaseRequest) (*domain.Transaction, error)
	ConfirmTransfer(ctx context.Context, req *TransactionRequest) (*domain.Transaction, error)
	ConfirmReceipt(ctx context.Context, req *TransactionRequest) (*domain.Transaction, error)
	CancelTransaction(ctx context.Context, req *TransactionRequest) (*domain.Transaction, error)
	GetTransaction(ctx context.Context, req *TransactionRequest) (*domain.Transaction, error)
}

type GRPCHandler struct {
	escrow *service.EscrowService
	logger *slog.Logger
}

func NewGRPCHandler(escrow *service.EscrowService, logger *slog.Logger) *GRPCHandler {
	return &GRPCHandler{escrow: escrow, logger: logger}
}

func (h *GRPCHandler) Register(s grpc.ServiceRegistrar) {
	s.RegisterService(&escrowServiceDesc, h)
}

func callerID(ctx context.Context) (string, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	if v := md.Get(userIDMetadataKey); len(v) > 0 && v[0] != "" {
		return v[0], nil
	}
	return "", status.Error(codes.Unauthenticated, "missing "+userIDMetadataKey)
}

func (h *GRPCHandler) toStatus(method string, err error) error {
	code := grpcCode(err)
	if code == codes.Internal {
		h.logger.Error("rpc failed", "method", method, "error", err)
		return status.Error(code, internalMessage)
	}
	return status.Error(code, err.Error())
}

func (h *GRPCHandler) InitiatePurchase(ctx context.Context, req *PurchaseRequest) (*domain.Transaction, error) {
	buyer, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	if req.ListingID == "" {
		return nil, status.Error(codes.InvalidArgument, "missing required fields")
	}
	t, err := h.escrow.InitiatePurchase(ctx, buyer, req.ListingID, req.UnitIDs)
	if err != nil {
		return nil, h.toStatus("InitiatePurchase", err)
	}
	return t, nil
}

func (h *GRPCHandler) ConfirmTransfer(ctx context.Context, req *TransactionRequest) (*domain.Transaction, error) {
	return h.byCaller(ctx, "ConfirmTransfer", req, h.escrow.ConfirmTransfer)
}

func (h *GRPCHandler) ConfirmReceipt(ctx context.Context, req *TransactionRequest) (*domain.Transaction, error) {
	return h.byCaller(ctx, "ConfirmReceipt", req, h.escrow.ConfirmReceipt)
}

func (h *GRPCHandler) CancelTransaction(ctx context.Context, req *TransactionRequest) (*domain.Transaction, error) {
	return h.byCaller(ctx, "CancelTransaction", req, h.escrow.CancelTransaction)
}

func (h *GRPCHandler) GetTransaction(ctx context.Context, req *TransactionRequest) (*domain.Transaction, error) {
	return h.byCaller(ctx, "GetTransaction", req, func(ctx context.Context, id, caller string) (*domain.Transaction, error) {
		t, err := h.escrow.GetTransaction(ctx, id)
		if err != nil {
			return nil, err
		}
		if caller != t.BuyerID && caller != t.SellerID {
			return nil, domain.ErrForbidden
		}
		return t, nil
	})
}

func (h *GRPCHandler) byCaller(
	ctx context.Context,
	method string,
	req *TransactionRequest,
	call func(ctx context.Context, id, caller string) (*domain.Transaction, error),
) (*domain.Transaction, error) {
	caller, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	if req.TransactionID == "" {
		return nil, status.Error(codes.InvalidArgument, "missing transaction_id")
	}
	t, err := call(ctx, req.TransactionID, caller)
	if err != nil {
		return nil, h.toStatus(method, err)
	}
	return t, nil
}

func unary[Req, Resp any](name string, call func(EscrowServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(EscrowServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(EscrowServer), ctx, req.(*Req))
			})
		},
	}
}

var escrowServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*EscrowServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("InitiatePurchase", EscrowServer.InitiatePurchase),
		unary("ConfirmTransfer", EscrowServer.ConfirmTransfer),
		unary("ConfirmReceipt", EscrowServer.ConfirmReceipt),
		unary("CancelTransaction", EscrowServer.CancelTransaction),
		unary("GetTransaction", EscrowServer.GetTransaction),
	},
	Streams: []grpc.StreamDesc{},
}

// EscrowClient calls the escrow gRPC API with the JSON codec.
type EscrowClient struct {
	cc     grpc.ClientConnInterface
	userID string
}

func NewEscrowClient(cc grpc.ClientConnInterface, userID string) *EscrowClient {
	return &EscrowClient{cc: cc, userID: userID}
}

func (c *EscrowClient) invoke(ctx context.Context, method string, in any) (*domain.Transaction, error) {
	ctx = metadata.AppendToOutgoingContext(ctx, userIDMetadataKey, c.userID)
	out := new(domain.Transaction)
	err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, grpc.CallContentSubtype(CodecName))
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *EscrowClient) InitiatePurchase(ctx context.Context, listingID string, unitIDs []string) (*domain.Transaction, error) {
	return c.invoke(ctx, "InitiatePurchase", &PurchaseRequest{ListingID: listingID, UnitIDs: unitIDs})
}

func (c *EscrowClient) ConfirmTransfer(ctx context.Context, id string) (*domain.Transaction, error) {
	return c.invoke(ctx, "ConfirmTransfer", &TransactionRequest{TransactionID: id})
}

func (c *EscrowClient) ConfirmReceipt(ctx context.Context, id string) (*domain.Transaction, error) {
	return c.invoke(ctx, "ConfirmReceipt", &TransactionRequest{TransactionID: id})
}

func (c *EscrowClient) CancelTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	return c.invoke(ctx, "CancelTransaction", &TransactionRequest{TransactionID: id})
}

func (c *EscrowClient) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	return c.invoke(ctx, "GetTransaction", &TransactionRequest{TransactionID: id})
}
