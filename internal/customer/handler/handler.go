package handler

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/fekuna/omnipos-loyalty-service/internal/apperror"
	"github.com/fekuna/omnipos-loyalty-service/internal/auth"
	"github.com/fekuna/omnipos-loyalty-service/internal/customer/repository"
	"github.com/fekuna/omnipos-loyalty-service/internal/customer/usecase"
	ledger "github.com/fekuna/omnipos-loyalty-service/internal/ledger/usecase"
	"github.com/fekuna/omnipos-loyalty-service/internal/model"
	loyaltyv1 "github.com/fekuna/omnipos-loyalty-service/pkg/api/loyalty/v1"
	"github.com/fekuna/omnipos-loyalty-service/pkg/logger"
)

// staffReasons are the ledger reasons staff may write directly. Welcome and
// order entries are produced by the service itself.
var staffReasons = map[string]bool{
	model.ReasonStaffAward:          true,
	model.ReasonDashboardAdjustment: true,
}

// staffRequestID keeps client supplied ids apart from the ids the service
// writes itself, such as welcome:<customer id> and order:<order id>.
func staffRequestID(id string) string {
	if id = strings.TrimSpace(id); id == "" {
		return ""
	}
	return "staff:" + id
}

type LoyaltyHandler struct {
	loyaltyv1.UnimplementedLoyaltyServiceServer
	customers usecase.UseCase
	ledger    ledger.UseCase
	logger    logger.ZapLogger
}

func NewLoyaltyHandler(customers usecase.UseCase, ledgerUC ledger.UseCase, logger logger.ZapLogger) *LoyaltyHandler {
	return &LoyaltyHandler{
		customers: customers,
		ledger:    ledgerUC,
		logger:    logger,
	}
}

func staffRestaurant(ctx context.Context) (uuid.UUID, error) {
	session, err := auth.Require(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	return session.StaffRestaurant()
}

func parseID(s, field string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, errors.Wrapf(apperror.ErrInvalidInput, "invalid %s", field)
	}
	return id, nil
}

func (h *LoyaltyHandler) EnrollCustomer(ctx context.Context, req *loyaltyv1.EnrollCustomerRequest) (*loyaltyv1.EnrollCustomerResponse, error) {
	restaurantID, err := staffRestaurant(ctx)
	if err != nil {
		return nil, apperror.GRPCStatus(err)
	}

	res, err := h.customers.EnrollCustomer(ctx, restaurantID, model.Profile{
		FullName: req.FullName,
		Email:    req.Email,
		Phone:    req.Phone,
	})
	if err != nil {
		h.logger.Error("Failed to enroll customer", zap.Error(err))
		return nil, apperror.GRPCStatus(err)
	}

	return &loyaltyv1.EnrollCustomerResponse{
		Customer: mapCustomer(res.Customer, res.Balance),
	}, nil
}

func (h *LoyaltyHandler) ScanCustomer(ctx context.Context, req *loyaltyv1.ScanCustomerRequest) (*loyaltyv1.ScanCustomerResponse, error) {
	restaurantID, err := staffRestaurant(ctx)
	if err != nil {
		return nil, apperror.GRPCStatus(err)
	}

	c, err := h.customers.LookupByQR(ctx, restaurantID, req.QrCode)
	if err != nil {
		return nil, apperror.GRPCStatus(err)
	}
	balance, err := h.ledger.GetBalance(ctx, c.ID)
	if err != nil {
		return nil, apperror.GRPCStatus(err)
	}

	return &loyaltyv1.ScanCustomerResponse{
		Customer: mapCustomer(c, balance),
	}, nil
}

func (h *LoyaltyHandler) AwardPoints(ctx context.Context, req *loyaltyv1.AwardPointsRequest) (*loyaltyv1.AwardPointsResponse, error) {
	restaurantID, err := staffRestaurant(ctx)
	if err != nil {
		return nil, apperror.GRPCStatus(err)
	}

	reason := req.Reason
	if reason == "" {
		reason = model.ReasonStaffAward
	}
	if !staffReasons[reason] {
		return nil, apperror.GRPCStatus(errors.Wrapf(apperror.ErrInvalidInput, "reason %q not allowed", reason))
	}

	customerID, err := parseID(req.CustomerId, "customer id")
	if err != nil {
		return nil, apperror.GRPCStatus(err)
	}
	// Tenant check before writing: a customer of another restaurant is reported
	// as not found.
	if _, err := h.customers.GetCustomer(ctx, restaurantID, customerID); err != nil {
		return nil, apperror.GRPCStatus(err)
	}

	award, err := h.ledger.AwardPoints(ctx, customerID, req.Points, reason, staffRequestID(req.RequestId))
	if err != nil {
		h.logger.Error("Failed to award points", zap.String("customer_id", req.CustomerId), zap.Error(err))
		return nil, apperror.GRPCStatus(err)
	}

	return &loyaltyv1.AwardPointsResponse{
		Entry:    mapEntry(&award.Entry),
		Balance:  award.Balance,
		Replayed: award.Replayed,
	}, nil
}

func (h *LoyaltyHandler) GetCustomer(ctx context.Context, req *loyaltyv1.GetCustomerRequest) (*loyaltyv1.GetCustomerResponse, error) {
	restaurantID, err := staffRestaurant(ctx)
	if err != nil {
		return nil, apperror.GRPCStatus(err)
	}
	id, err := parseID(req.Id, "customer id")
	if err != nil {
		return nil, apperror.GRPCStatus(err)
	}

	c, err := h.customers.GetCustomer(ctx, restaurantID, id)
	if err != nil {
		return nil, apperror.GRPCStatus(err)
	}
	balance, err := h.ledger.GetBalance(ctx, c.ID)
	if err != nil {
		return nil, apperror.GRPCStatus(err)
	}

	return &loyaltyv1.GetCustomerResponse{
		Customer: mapCustomer(c, balance),
	}, nil
}

func (h *LoyaltyHandler) GetBalance(ctx context.Context, req *loyaltyv1.GetBalanceRequest) (*loyaltyv1.GetBalanceResponse, error) {
	restaurantID, err := staffRestaurant(ctx)
	if err != nil {
		return nil, apperror.GRPCStatus(err)
	}
	id, err := parseID(req.CustomerId, "customer id")
	if err != nil {
		return nil, apperror.GRPCStatus(err)
	}
	if _, err := h.customers.GetCustomer(ctx, restaurantID, id); err != nil {
		return nil, apperror.GRPCStatus(err)
	}

	balance, err := h.ledger.GetBalance(ctx, id)
	if err != nil {
		return nil, apperror.GRPCStatus(err)
	}
	return &loyaltyv1.GetBalanceResponse{Balance: balance}, nil
}

func (h *LoyaltyHandler) GetHistory(ctx context.Context, req *loyaltyv1.GetHistoryRequest) (*loyaltyv1.GetHistoryResponse, error) {
	restaurantID, err := staffRestaurant(ctx)
	if err != nil {
		return nil, apperror.GRPCStatus(err)
	}
	id, err := parseID(req.CustomerId, "customer id")
	if err != nil {
		return nil, apperror.GRPCStatus(err)
	}
	if _, err := h.customers.GetCustomer(ctx, restaurantID, id); err != nil {
		return nil, apperror.GRPCStatus(err)
	}

	entries := []*loyaltyv1.LedgerEntry{}
	for e, err := range h.ledger.GetHistory(ctx, id, model.ParseOrder(req.Order)) {
		if err != nil {
			return nil, apperror.GRPCStatus(err)
		}
		entries = append(entries, mapEntry(&e))
	}
	return &loyaltyv1.GetHistoryResponse{Entries: entries}, nil
}

func (h *LoyaltyHandler) ListCustomers(ctx context.Context, req *loyaltyv1.ListCustomersRequest) (*loyaltyv1.ListCustomersResponse, error) {
	restaurantID, err := staffRestaurant(ctx)
	if err != nil {
		return nil, apperror.GRPCStatus(err)
	}

	res, total, err := h.customers.ListCustomers(ctx, restaurantID, repository.ListParams{
		Page:     int(req.Page),
		PageSize: int(req.PageSize),
		Search:   req.Search,
		Sort:     req.Sort,
	})
	if err != nil {
		h.logger.Error("Failed to list customers", zap.Error(err))
		return nil, apperror.GRPCStatus(err)
	}

	customers := make([]*loyaltyv1.Customer, 0, len(res))
	for _, c := range res {
		customers = append(customers, mapCustomer(&c.Customer, c.Balance))
	}

	return &loyaltyv1.ListCustomersResponse{
		Customers: customers,
		Total:     int32(total),
	}, nil
}

func mapCustomer(c *model.Customer, balance int64) *loyaltyv1.Customer {
	out := &loyaltyv1.Customer{
		Id:        c.ID.String(),
		QrCode:    c.QRCode,
		Balance:   balance,
		CreatedAt: c.CreatedAt,
	}
	if c.RestaurantID != nil {
		out.RestaurantId = c.RestaurantID.String()
	}
	if c.UserID != nil {
		out.UserId = c.UserID.String()
	}
	out.FullName = deref(c.FullName)
	out.Email = deref(c.Email)
	out.Phone = deref(c.Phone)
	return out
}

func mapEntry(e *model.LedgerEntry) *loyaltyv1.LedgerEntry {
	out := &loyaltyv1.LedgerEntry{
		Id:          e.ID.String(),
		CustomerId:  e.CustomerID.String(),
		PointsDelta: e.PointsDelta,
		Reason:      e.Reason,
		RequestId:   deref(e.RequestID),
		CreatedAt:   e.CreatedAt,
	}
	if e.RestaurantID != nil {
		out.RestaurantId = e.RestaurantID.String()
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
