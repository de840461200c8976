package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/orderflow/fulfillment-system/gateway-service/application"
	"github.com/orderflow/fulfillment-system/shared/monitoring"
	"github.com/orderflow/fulfillment-system/shared/telemetry"
)

// OrderHandlers contains the order intake HTTP handlers
type OrderHandlers struct {
	createOrder  *application.CreateOrderUseCase
	orchestrator *application.OrderSagaOrchestrator
}

// NewOrderHandlers creates new order handlers
func NewOrderHandlers(
	createOrder *application.CreateOrderUseCase,
	orchestrator *application.OrderSagaOrchestrator,
) *OrderHandlers {
	return &OrderHandlers{
		createOrder:  createOrder,
		orchestrator: orchestrator,
	}
}

// CreateOrder accepts an order and starts the fulfillment saga. The saga is
// asynchronous, so acceptance is 202, not 201.
func (h *OrderHandlers) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var request application.CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	ctx, span := telemetry.StartSpan(r.Context(), "create_order")
	defer span.End()

	response, err := h.createOrder.Execute(ctx, request)
	if err != nil {
		if monitoring.Classify(err) == monitoring.SeverityLow {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	telemetry.RecordCounter(ctx, "orders_accepted_total", "Orders accepted into the saga", 1)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(response)
}

// GetSagaState reports the tracked saga position for an order
func (h *OrderHandlers) GetSagaState(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	if orderID == "" {
		http.Error(w, "Order ID is required", http.StatusBadRequest)
		return
	}

	state, ok := h.orchestrator.SagaState(orderID)
	if !ok {
		http.Error(w, "order not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"orderId": orderID,
		"state":   string(state),
	})
}

// RegisterRoutes registers order routes
func (h *OrderHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.CreateOrder)
		r.Get("/{id}/saga", h.GetSagaState)
	})
}
