package application

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/orderflow/fulfillment-system/shared/models"
	"github.com/orderflow/fulfillment-system/shared/monitoring"
)

// CreateOrderRequest is the order intake payload
type CreateOrderRequest struct {
	UserID string      `json:"userId"`
	Cart   models.Cart `json:"cart"`
}

// CreateOrderResponse acknowledges an accepted order. The saga continues
// asynchronously; Status reflects intake, not fulfillment.
type CreateOrderResponse struct {
	OrderID string             `json:"orderId"`
	Status  models.OrderStatus `json:"status"`
	Total   float64            `json:"total"`
}

// CreateOrderUseCase validates intake requests and starts the saga
type CreateOrderUseCase struct {
	orchestrator *OrderSagaOrchestrator
	logger       *zap.Logger
}

// NewCreateOrderUseCase creates the use case
func NewCreateOrderUseCase(orchestrator *OrderSagaOrchestrator, logger *zap.Logger) *CreateOrderUseCase {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CreateOrderUseCase{orchestrator: orchestrator, logger: logger}
}

// Execute validates the request, assigns the order its identity and starts
// the saga. Validation failures are typed so they classify as LOW severity.
func (uc *CreateOrderUseCase) Execute(ctx context.Context, request CreateOrderRequest) (*CreateOrderResponse, error) {
	cart := request.Cart.Normalize()
	if err := cart.Validate(); err != nil {
		return nil, monitoring.WithKind(monitoring.KindValidation, err)
	}

	order := models.OrderData{
		OrderID:   models.GenerateUUID().String(),
		Cart:      cart,
		UserID:    request.UserID,
		Total:     cart.Total(),
		Status:    models.OrderStatusPending,
		CreatedAt: time.Now().UTC(),
	}

	if err := uc.orchestrator.StartOrderSaga(ctx, order); err != nil {
		return nil, err
	}

	uc.logger.Info("order accepted",
		zap.String("order_id", order.OrderID),
		zap.String("user_id", order.UserID),
		zap.Float64("total", order.Total))

	return &CreateOrderResponse{
		OrderID: order.OrderID,
		Status:  order.Status,
		Total:   order.Total,
	}, nil
}
