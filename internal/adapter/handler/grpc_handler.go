package handler

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/rl1809/bhw-inventory/internal/core/domain"
	"github.com/rl1809/bhw-inventory/internal/core/service"
)

const (
	ServiceName = "inventory.v1.InventoryService"
	// CodecName is the content-subtype clients must request.
	CodecName = "json"

	roleMetadataKey = "x-role"
)

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return CodecName
}

type DispenseRPCRequest struct {
	ResourceID   string `json:"resource_id"`
	Quantity     int    `json:"quantity"`
	BorrowerID   string `json:"borrower_id"`
	Purpose      string `json:"purpose"`
	PrescribedBy string `json:"prescribed_by"`
	RequestID    string `json:"request_id"`
}

type BorrowRPCRequest struct {
	ResourceID         string  `json:"resource_id"`
	Quantity           int     `json:"quantity"`
	BorrowerID         string  `json:"borrower_id"`
	Purpose            string  `json:"purpose"`
	ExpectedReturnDate *string `json:"expected_return_date"`
	RequestID          string  `json:"request_id"`
}

type ReturnRPCRequest struct {
	TransactionID string `json:"transaction_id"`
	Quantity      *int   `json:"quantity"`
	RequestID     string `json:"request_id"`
}

type StockInRPCRequest struct {
	ResourceID string  `json:"resource_id"`
	Quantity   int     `json:"quantity"`
	Expiration *string `json:"expiration"`
}

// InventoryServer is the gRPC surface for the stock-moving operations.
type InventoryServer interface {
	Dispense(context.Context, *DispenseRPCRequest) (*TransactionResponse, error)
	Borrow(context.Context, *BorrowRPCRequest) (*TransactionResponse, error)
	ReturnItem(context.Context, *ReturnRPCRequest) (*TransactionResponse, error)
	StockIn(context.Context, *StockInRPCRequest) (*ResourceResponse, error)
}

var inventoryServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*InventoryServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Dispense", Handler: unary("Dispense", InventoryServer.Dispense)},
		{MethodName: "Borrow", Handler: unary("Borrow", InventoryServer.Borrow)},
		{MethodName: "ReturnItem", Handler: unary("ReturnItem", InventoryServer.ReturnItem)},
		{MethodName: "StockIn", Handler: unary("StockIn", InventoryServer.StockIn)},
	},
	Streams: []grpc.StreamDesc{},
}

func unary[Req, Resp any](method string, call func(InventoryServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(InventoryServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(InventoryServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

type GRPCHandler struct {
	inventory *service.InventoryService
}

func NewGRPCHandler(inventory *service.InventoryService) *GRPCHandler {
	return &GRPCHandler{inventory: inventory}
}

// Register attaches the handler to s.
func (h *GRPCHandler) Register(s grpc.ServiceRegistrar) {
	s.RegisterService(&inventoryServiceDesc, h)
}

func (h *GRPCHandler) Dispense(ctx context.Context, req *DispenseRPCRequest) (*TransactionResponse, error) {
	tx, err := h.inventory.Dispense(ctx, service.DispenseInput{
		ResourceID: req.ResourceID,
		Quantity:   req.Quantity,
		Recipient: service.Recipient{
			BorrowerID:   req.BorrowerID,
			Purpose:      req.Purpose,
			PrescribedBy: req.PrescribedBy,
		},
		RequestID: req.RequestID,
	})
	if err != nil {
		return nil, grpcError(err)
	}
	resp := toTransaction(*tx)
	return &resp, nil
}

func (h *GRPCHandler) Borrow(ctx context.Context, req *BorrowRPCRequest) (*TransactionResponse, error) {
	expected, err := parseDate("expected_return_date", req.ExpectedReturnDate)
	if err != nil {
		return nil, grpcError(err)
	}

	tx, err := h.inventory.Borrow(ctx, service.BorrowInput{
		ResourceID:     req.ResourceID,
		Quantity:       req.Quantity,
		Recipient:      service.Recipient{BorrowerID: req.BorrowerID, Purpose: req.Purpose},
		ExpectedReturn: expected,
		RequestID:      req.RequestID,
	})
	if err != nil {
		return nil, grpcError(err)
	}
	resp := toTransaction(*tx)
	return &resp, nil
}

func (h *GRPCHandler) ReturnItem(ctx context.Context, req *ReturnRPCRequest) (*TransactionResponse, error) {
	tx, err := h.inventory.ReturnItem(ctx, service.ReturnInput{
		TransactionID: req.TransactionID,
		Quantity:      req.Quantity,
		RequestID:     req.RequestID,
	})
	if err != nil {
		return nil, grpcError(err)
	}
	resp := toTransaction(*tx)
	return &resp, nil
}

func (h *GRPCHandler) StockIn(ctx context.Context, req *StockInRPCRequest) (*ResourceResponse, error) {
	exp, err := parseDate("expiration", req.Expiration)
	if err != nil {
		return nil, grpcError(err)
	}

	res, err := h.inventory.StockIn(ctx, service.StockInInput{
		ResourceID: req.ResourceID,
		Quantity:   req.Quantity,
		Expiration: exp,
	})
	if err != nil {
		return nil, grpcError(err)
	}
	resp := toResource(*res)
	return &resp, nil
}

// RoleInterceptor copies the x-role metadata value into the call context.
func RoleInterceptor(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get(roleMetadataKey); len(values) > 0 {
			if role, ok := domain.ParseRole(values[0]); ok {
				ctx = domain.WithRole(ctx, role)
			}
		}
	}
	return handler(ctx, req)
}

// LoggingInterceptor logs each call with its status code and latency.
func LoggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)

		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("code", code.String()),
			zap.Duration("duration", time.Since(start)),
		}
		if code == codes.Internal || code == codes.Unavailable {
			logger.Error("rpc failed", append(fields, zap.Error(err))...)
		} else {
			logger.Info("rpc", fields...)
		}
		return resp, err
	}
}

func grpcError(err error) error {
	switch {
	case errors.Is(err, domain.ErrCompensation):
		return status.Error(codes.Internal, "operation failed, stock needs reconciliation")
	case errors.Is(err, domain.ErrForbidden):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, domain.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrInsufficientStock):
		return status.Error(codes.FailedPrecondition, "insufficient stock")
	case errors.Is(err, domain.ErrConcurrentUpdate):
		return status.Error(codes.Aborted, "stock changed concurrently, retry")
	case errors.Is(err, domain.ErrDuplicateRequest):
		return status.Error(codes.AlreadyExists, "duplicate request")
	case errors.Is(err, domain.ErrAlreadyReturned):
		return status.Error(codes.AlreadyExists, "already returned")
	case domain.Retriable(err), errors.Is(err, domain.ErrLedgerWrite):
		return status.Error(codes.Unavailable, msgRetry)
	default:
		return status.Error(codes.Internal, msgRetry)
	}
}
