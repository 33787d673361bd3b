// Package loyaltyv1 is the wire contract of omnipos.loyalty.v1.LoyaltyService.
// Messages travel as JSON through the codec registered by pkg/codec.
package loyaltyv1

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fekuna/omnipos-loyalty-service/pkg/codec"
)

const ServiceName = "omnipos.loyalty.v1.LoyaltyService"

const (
	LoyaltyService_EnrollCustomer_FullMethodName = "/" + ServiceName + "/EnrollCustomer"
	LoyaltyService_ScanCustomer_FullMethodName   = "/" + ServiceName + "/ScanCustomer"
	LoyaltyService_AwardPoints_FullMethodName    = "/" + ServiceName + "/AwardPoints"
	LoyaltyService_GetCustomer_FullMethodName    = "/" + ServiceName + "/GetCustomer"
	LoyaltyService_GetBalance_FullMethodName     = "/" + ServiceName + "/GetBalance"
	LoyaltyService_GetHistory_FullMethodName     = "/" + ServiceName + "/GetHistory"
	LoyaltyService_ListCustomers_FullMethodName  = "/" + ServiceName + "/ListCustomers"
)

type Customer struct {
	Id           string    `json:"id"`
	RestaurantId string    `json:"restaurant_id,omitempty"`
	UserId       string    `json:"user_id,omitempty"`
	FullName     string    `json:"full_name,omitempty"`
	Email        string    `json:"email,omitempty"`
	Phone        string    `json:"phone,omitempty"`
	QrCode       string    `json:"qr_code"`
	Balance      int64     `json:"balance"`
	CreatedAt    time.Time `json:"created_at"`
}

type LedgerEntry struct {
	Id           string    `json:"id"`
	CustomerId   string    `json:"customer_id"`
	RestaurantId string    `json:"restaurant_id,omitempty"`
	PointsDelta  int64     `json:"points_delta"`
	Reason       string    `json:"reason"`
	RequestId    string    `json:"request_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type EnrollCustomerRequest struct {
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
}

type EnrollCustomerResponse struct {
	Customer *Customer `json:"customer"`
}

type ScanCustomerRequest struct {
	QrCode string `json:"qr_code"`
}

type ScanCustomerResponse struct {
	Customer *Customer `json:"customer"`
}

type AwardPointsRequest struct {
	CustomerId string `json:"customer_id"`
	Points     int64  `json:"points"`
	Reason     string `json:"reason"`
	RequestId  string `json:"request_id,omitempty"`
}

type AwardPointsResponse struct {
	Entry    *LedgerEntry `json:"entry"`
	Balance  int64        `json:"balance"`
	Replayed bool         `json:"replayed"`
}

type GetCustomerRequest struct {
	Id string `json:"id"`
}

type GetCustomerResponse struct {
	Customer *Customer `json:"customer"`
}

type GetBalanceRequest struct {
	CustomerId string `json:"customer_id"`
}

type GetBalanceResponse struct {
	Balance int64 `json:"balance"`
}

type GetHistoryRequest struct {
	CustomerId string `json:"customer_id"`
	// Order is "desc" (default) or "asc".
	Order string `json:"order,omitempty"`
}

type GetHistoryResponse struct {
	Entries []*LedgerEntry `json:"entries"`
}

type ListCustomersRequest struct {
	Page     int32  `json:"page"`
	PageSize int32  `json:"page_size"`
	Search   string `json:"search,omitempty"`
	Sort     string `json:"sort,omitempty"`
}

type ListCustomersResponse struct {
	Customers []*Customer `json:"customers"`
	Total     int32       `json:"total"`
}

type LoyaltyServiceServer interface {
	EnrollCustomer(context.Context, *EnrollCustomerRequest) (*EnrollCustomerResponse, error)
	ScanCustomer(context.Context, *ScanCustomerRequest) (*ScanCustomerResponse, error)
	AwardPoints(context.Context, *AwardPointsRequest) (*AwardPointsResponse, error)
	GetCustomer(context.Context, *GetCustomerRequest) (*GetCustomerResponse, error)
	GetBalance(context.Context, *GetBalanceRequest) (*GetBalanceResponse, error)
	GetHistory(context.Context, *GetHistoryRequest) (*GetHistoryResponse, error)
	ListCustomers(context.Context, *ListCustomersRequest) (*ListCustomersResponse, error)
}

// UnimplementedLoyaltyServiceServer can be embedded to keep servers compiling
// when methods are added.
type UnimplementedLoyaltyServiceServer struct{}

func (UnimplementedLoyaltyServiceServer) EnrollCustomer(context.Context, *EnrollCustomerRequest) (*EnrollCustomerResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method EnrollCustomer not implemented")
}
func (UnimplementedLoyaltyServiceServer) ScanCustomer(context.Context, *ScanCustomerRequest) (*ScanCustomerResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ScanCustomer not implemented")
}
func (UnimplementedLoyaltyServiceServer) AwardPoints(context.Context, *AwardPointsRequest) (*AwardPointsResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method AwardPoints not implemented")
}
func (UnimplementedLoyaltyServiceServer) GetCustomer(context.Context, *GetCustomerRequest) (*GetCustomerResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetCustomer not implemented")
}
func (UnimplementedLoyaltyServiceServer) GetBalance(context.Context, *GetBalanceRequest) (*GetBalanceResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetBalance not implemented")
}
func (UnimplementedLoyaltyServiceServer) GetHistory(context.Context, *GetHistoryRequest) (*GetHistoryResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetHistory not implemented")
}
func (UnimplementedLoyaltyServiceServer) ListCustomers(context.Context, *ListCustomersRequest) (*ListCustomersResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ListCustomers not implemented")
}

func RegisterLoyaltyServiceServer(s grpc.ServiceRegistrar, srv LoyaltyServiceServer) {
	s.RegisterService(&LoyaltyService_ServiceDesc, srv)
}

// unary builds a method handler for one RPC.
func unary[Req any, Resp any](fullMethod string, call func(LoyaltyServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(LoyaltyServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(LoyaltyServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var LoyaltyService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LoyaltyServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "EnrollCustomer", Handler: unary(LoyaltyService_EnrollCustomer_FullMethodName, LoyaltyServiceServer.EnrollCustomer)},
		{MethodName: "ScanCustomer", Handler: unary(LoyaltyService_ScanCustomer_FullMethodName, LoyaltyServiceServer.ScanCustomer)},
		{MethodName: "AwardPoints", Handler: unary(LoyaltyService_AwardPoints_FullMethodName, LoyaltyServiceServer.AwardPoints)},
		{MethodName: "GetCustomer", Handler: unary(LoyaltyService_GetCustomer_FullMethodName, LoyaltyServiceServer.GetCustomer)},
		{MethodName: "GetBalance", Handler: unary(LoyaltyService_GetBalance_FullMethodName, LoyaltyServiceServer.GetBalance)},
		{MethodName: "GetHistory", Handler: unary(LoyaltyService_GetHistory_FullMethodName, LoyaltyServiceServer.GetHistory)},
		{MethodName: "ListCustomers", Handler: unary(LoyaltyService_ListCustomers_FullMethodName, LoyaltyServiceServer.ListCustomers)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "omnipos/loyalty/v1/loyalty.json",
}

type LoyaltyServiceClient interface {
	EnrollCustomer(ctx context.Context, in *EnrollCustomerRequest, opts ...grpc.CallOption) (*EnrollCustomerResponse, error)
	ScanCustomer(ctx context.Context, in *ScanCustomerRequest, opts ...grpc.CallOption) (*ScanCustomerResponse, error)
	AwardPoints(ctx context.Context, in *AwardPointsRequest, opts ...grpc.CallOption) (*AwardPointsResponse, error)
	GetCustomer(ctx context.Context, in *GetCustomerRequest, opts ...grpc.CallOption) (*GetCustomerResponse, error)
	GetBalance(ctx context.Context, in *GetBalanceRequest, opts ...grpc.CallOption) (*GetBalanceResponse, error)
	GetHistory(ctx context.Context, in *GetHistoryRequest, opts ...grpc.CallOption) (*GetHistoryResponse, error)
	ListCustomers(ctx context.Context, in *ListCustomersRequest, opts ...grpc.CallOption) (*ListCustomersResponse, error)
}

type loyaltyServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewLoyaltyServiceClient(cc grpc.ClientConnInterface) LoyaltyServiceClient {
	return &loyaltyServiceClient{cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codec.Name)}, opts...)
	if err := cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *loyaltyServiceClient) EnrollCustomer(ctx context.Context, in *EnrollCustomerRequest, opts ...grpc.CallOption) (*EnrollCustomerResponse, error) {
	return invoke[EnrollCustomerResponse](ctx, c.cc, LoyaltyService_EnrollCustomer_FullMethodName, in, opts)
}

func (c *loyaltyServiceClient) ScanCustomer(ctx context.Context, in *ScanCustomerRequest, opts ...grpc.CallOption) (*ScanCustomerResponse, error) {
	return invoke[ScanCustomerResponse](ctx, c.cc, LoyaltyService_ScanCustomer_FullMethodName, in, opts)
}

func (c *loyaltyServiceClient) AwardPoints(ctx context.Context, in *AwardPointsRequest, opts ...grpc.CallOption) (*AwardPointsResponse, error) {
	return invoke[AwardPointsResponse](ctx, c.cc, LoyaltyService_AwardPoints_FullMethodName, in, opts)
}

func (c *loyaltyServiceClient) GetCustomer(ctx context.Context, in *GetCustomerRequest, opts ...grpc.CallOption) (*GetCustomerResponse, error) {
	return invoke[GetCustomerResponse](ctx, c.cc, LoyaltyService_GetCustomer_FullMethodName, in, opts)
}

func (c *loyaltyServiceClient) GetBalance(ctx context.Context, in *GetBalanceRequest, opts ...grpc.CallOption) (*GetBalanceResponse, error) {
	return invoke[GetBalanceResponse](ctx, c.cc, LoyaltyService_GetBalance_FullMethodName, in, opts)
}

func (c *loyaltyServiceClient) GetHistory(ctx context.Context, in *GetHistoryRequest, opts ...grpc.CallOption) (*GetHistoryResponse, error) {
	return invoke[GetHistoryResponse](ctx, c.cc, LoyaltyService_GetHistory_FullMethodName, in, opts)
}

func (c *loyaltyServiceClient) ListCustomers(ctx context.Context, in *ListCustomersRequest, opts ...grpc.CallOption) (*ListCustomersResponse, error) {
	return invoke[ListCustomersResponse](ctx, c.cc, LoyaltyService_ListCustomers_FullMethodName, in, opts)
}
