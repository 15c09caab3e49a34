package order

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"restaurant-orders/internal/logger"
	"restaurant-orders/internal/models"
	"restaurant-orders/internal/notify"
)

// RequestObserver records handled requests
type RequestObserver interface {
	ObserveRequest(handler string, status int, durationMS float64)
}

// HandlerConfig tunes the HTTP layer
type HandlerConfig struct {
	RequestTimeout time.Duration
	WebSocket      notify.WSConfig
	AllowedOrigins []string
	Metrics        RequestObserver
	MetricsHandler http.Handler
}

// Handler handles HTTP and websocket requests for the order service
type Handler struct {
	service  *Service
	router   *notify.Router
	logger   *logger.Logger
	cfg      HandlerConfig
	upgrader websocket.Upgrader

	// cancelled by CloseClients to drop every realtime connection
	wsCtx    context.Context
	wsCancel context.CancelFunc
}

type ctxKey struct{}

// NewHandler creates a new order handler
func NewHandler(service *Service, router *notify.Router, log *logger.Logger, cfg HandlerConfig) *Handler {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	h := &Handler{
		service: service,
		router:  router,
		logger:  log,
		cfg:     cfg,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	h.wsCtx, h.wsCancel = context.WithCancel(context.Background())
	return h
}

// SetupRoutes sets up the HTTP routes
func (h *Handler) SetupRoutes() *mux.Router {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		h.writeErrorResponse(w, http.StatusNotFound, "Not found", "")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		h.writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed", "")
	})

	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/products", h.withLogging("create_product", h.CreateProduct)).Methods(http.MethodPost)
	api.HandleFunc("/products", h.withLogging("list_products", h.ListProducts)).Methods(http.MethodGet)
	api.HandleFunc("/products/{id:[0-9]+}", h.withLogging("delete_product", h.DeleteProduct)).Methods(http.MethodDelete)

	api.HandleFunc("/tables", h.withLogging("create_table", h.CreateTable)).Methods(http.MethodPost)
	api.HandleFunc("/tables", h.withLogging("list_tables", h.ListTables)).Methods(http.MethodGet)
	api.HandleFunc("/tables/{id:[0-9]+}/orders", h.withLogging("table_orders", h.TableOrders)).Methods(http.MethodGet)
	api.HandleFunc("/tables/{id:[0-9]+}/close", h.withLogging("close_table", h.CloseTable)).Methods(http.MethodPost)

	api.HandleFunc("/orders", h.withLogging("create_order", h.CreateOrder)).Methods(http.MethodPost)
	api.HandleFunc("/orders/active", h.withLogging("active_orders", h.ActiveOrders)).Methods(http.MethodGet)
	api.HandleFunc("/orders/ready", h.withLogging("ready_orders", h.ReadyOrders)).Methods(http.MethodGet)
	api.HandleFunc("/orders/{id:[0-9]+}", h.withLogging("get_order", h.GetOrder)).Methods(http.MethodGet)
	api.HandleFunc("/orders/{id:[0-9]+}/status", h.withLogging("order_status", h.UpdateOrderStatus)).Methods(http.MethodPut)
	api.HandleFunc("/orders/{id:[0-9]+}/items", h.withLogging("add_item", h.AddItem)).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id:[0-9]+}/items/{itemId:[0-9]+}/status", h.withLogging("item_status", h.UpdateItemStatus)).Methods(http.MethodPut)

	r.HandleFunc("/ws", h.withLogging("websocket", h.ServeWS)).Methods(http.MethodGet)
	r.HandleFunc("/health", h.withLogging("health", h.HealthCheck)).Methods(http.MethodGet)
	if h.cfg.MetricsHandler != nil {
		r.Handle("/metrics", h.cfg.MetricsHandler).Methods(http.MethodGet)
	}

	return r
}

// CloseClients disconnects every websocket client
func (h *Handler) CloseClients() {
	h.wsCancel()
}

// CreateProduct handles POST /api/products
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r)

	var req CreateProductRequest
	if !h.decodeJSON(w, r, &req, requestID) {
		return
	}

	ctx, cancel := h.withTimeout(r)
	defer cancel()

	product, err := h.service.CreateProduct(ctx, &req, requestID)
	if err != nil {
		h.handleError(w, err, "product_creation_failed", requestID)
		return
	}
	h.writeJSON(w, http.StatusCreated, product, requestID)
}

// ListProducts handles GET /api/products
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r)
	ctx, cancel := h.withTimeout(r)
	defer cancel()

	products, err := h.service.ListProducts(ctx)
	if err != nil {
		h.handleError(w, err, "product_list_failed", requestID)
		return
	}
	h.writeJSON(w, http.StatusOK, products, requestID)
}

// DeleteProduct handles DELETE /api/products/{id}
func (h *Handler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r)
	id, ok := h.pathID(w, r, "id", requestID)
	if !ok {
		return
	}

	ctx, cancel := h.withTimeout(r)
	defer cancel()

	if err := h.service.DeleteProduct(ctx, id, requestID); err != nil {
		h.handleError(w, err, "product_deletion_failed", requestID)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateTable handles POST /api/tables
func (h *Handler) CreateTable(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r)

	var req CreateTableRequest
	if !h.decodeJSON(w, r, &req, requestID) {
		return
	}

	ctx, cancel := h.withTimeout(r)
	defer cancel()

	table, err := h.service.CreateTable(ctx, &req, requestID)
	if err != nil {
		h.handleError(w, err, "table_creation_failed", requestID)
		return
	}
	h.writeJSON(w, http.StatusCreated, table, requestID)
}

// ListTables handles GET /api/tables
func (h *Handler) ListTables(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r)
	ctx, cancel := h.withTimeout(r)
	defer cancel()

	tables, err := h.service.ListTables(ctx)
	if err != nil {
		h.handleError(w, err, "table_list_failed", requestID)
		return
	}
	h.writeJSON(w, http.StatusOK, tables, requestID)
}

// TableOrders handles GET /api/tables/{id}/orders
func (h *Handler) TableOrders(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r)
	id, ok := h.pathID(w, r, "id", requestID)
	if !ok {
		return
	}

	ctx, cancel := h.withTimeout(r)
	defer cancel()

	orders, err := h.service.TableOrders(ctx, id)
	if err != nil {
		h.handleError(w, err, "table_orders_failed", requestID)
		return
	}
	h.writeJSON(w, http.StatusOK, orders, requestID)
}

// CloseTable handles POST /api/tables/{id}/close
func (h *Handler) CloseTable(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r)
	id, ok := h.pathID(w, r, "id", requestID)
	if !ok {
		return
	}

	ctx, cancel := h.withTimeout(r)
	defer cancel()

	if err := h.service.CloseTable(ctx, id, requestID); err != nil {
		h.handleError(w, err, "table_close_failed", requestID)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"table_id": id,
	}, requestID)
}

// CreateOrder handles POST /api/orders
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r)

	var req CreateOrderRequest
	if !h.decodeJSON(w, r, &req, requestID) {
		return
	}

	h.logger.Debug("order_received", "Received order creation request", requestID, map[string]interface{}{
		"table_id": req.TableID,
		"items":    len(req.Items),
	})

	ctx, cancel := h.withTimeout(r)
	defer cancel()

	order, err := h.service.PlaceOrder(ctx, &req, requestID)
	if err != nil {
		h.handleError(w, err, "order_creation_failed", requestID)
		return
	}
	h.writeJSON(w, http.StatusCreated, CreateOrderResponse{
		ID:         order.ID,
		TableID:    order.TableID,
		Status:     order.Status,
		TotalPrice: order.TotalPrice,
	}, requestID)
}

// GetOrder handles GET /api/orders/{id}
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r)
	id, ok := h.pathID(w, r, "id", requestID)
	if !ok {
		return
	}

	ctx, cancel := h.withTimeout(r)
	defer cancel()

	order, err := h.service.GetOrder(ctx, id)
	if err != nil {
		h.handleError(w, err, "order_lookup_failed", requestID)
		return
	}
	h.writeJSON(w, http.StatusOK, order, requestID)
}

// ActiveOrders handles GET /api/orders/active
func (h *Handler) ActiveOrders(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r)
	ctx, cancel := h.withTimeout(r)
	defer cancel()

	orders, err := h.service.ActiveOrders(ctx)
	if err != nil {
		h.handleError(w, err, "order_list_failed", requestID)
		return
	}
	h.writeJSON(w, http.StatusOK, orders, requestID)
}

// ReadyOrders handles GET /api/orders/ready
func (h *Handler) ReadyOrders(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r)
	ctx, cancel := h.withTimeout(r)
	defer cancel()

	orders, err := h.service.ReadyOrders(ctx)
	if err != nil {
		h.handleError(w, err, "order_list_failed", requestID)
		return
	}
	h.writeJSON(w, http.StatusOK, orders, requestID)
}

// UpdateOrderStatus handles PUT /api/orders/{id}/status
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r)
	id, ok := h.pathID(w, r, "id", requestID)
	if !ok {
		return
	}

	var req StatusRequest
	if !h.decodeJSON(w, r, &req, requestID) {
		return
	}

	ctx, cancel := h.withTimeout(r)
	defer cancel()

	order, err := h.service.SetOrderStatus(ctx, id, &req, requestID)
	if err != nil {
		h.handleError(w, err, "order_status_failed", requestID)
		return
	}
	h.writeJSON(w, http.StatusOK, order, requestID)
}

// AddItem handles POST /api/orders/{id}/items
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r)
	id, ok := h.pathID(w, r, "id", requestID)
	if !ok {
		return
	}

	var req OrderItemRequest
	if !h.decodeJSON(w, r, &req, requestID) {
		return
	}

	ctx, cancel := h.withTimeout(r)
	defer cancel()

	item, err := h.service.AddItem(ctx, id, &req, requestID)
	if err != nil {
		h.handleError(w, err, "item_add_failed", requestID)
		return
	}
	h.writeJSON(w, http.StatusCreated, item, requestID)
}

// UpdateItemStatus handles PUT /api/orders/{id}/items/{itemId}/status
func (h *Handler) UpdateItemStatus(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r)
	orderID, ok := h.pathID(w, r, "id", requestID)
	if !ok {
		return
	}
	itemID, ok := h.pathID(w, r, "itemId", requestID)
	if !ok {
		return
	}

	var req StatusRequest
	if !h.decodeJSON(w, r, &req, requestID) {
		return
	}

	ctx, cancel := h.withTimeout(r)
	defer cancel()

	item, err := h.service.SetItemStatus(ctx, orderID, itemID, &req, requestID)
	if err != nil {
		h.handleError(w, err, "item_status_failed", requestID)
		return
	}
	h.writeJSON(w, http.StatusOK, item, requestID)
}

// ServeWS handles GET /ws?type=<role>. The connection lives until the peer
// goes away or CloseClients is called.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already replied
		h.logger.Warn("websocket_upgrade_failed", "Failed to upgrade connection", requestID, map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	role, err := notify.ParseRole(r.URL.Query().Get("type"))
	if err != nil {
		h.logger.Warn("websocket_rejected", "Rejected client with unknown role", requestID, map[string]interface{}{
			"type":        r.URL.Query().Get("type"),
			"remote_addr": r.RemoteAddr,
		})
		if err := notify.Reject(conn, "unknown client type", h.cfg.WebSocket.WriteWait); err != nil {
			h.logger.Debug("websocket_rejected", "Failed to send close frame", requestID, map[string]interface{}{
				"error": err.Error(),
			})
		}
		return
	}

	client := notify.NewWSClient(conn, h.cfg.WebSocket)
	if err := h.router.Subscribe(client, role); err != nil {
		h.logger.Error("websocket_subscribe_failed", "Failed to subscribe client", requestID, err, nil)
		client.Close()
		_ = conn.Close()
		return
	}
	defer h.router.Unsubscribe(client)

	stop := context.AfterFunc(h.wsCtx, client.Close)
	defer stop()

	h.logger.Info("client_connected", fmt.Sprintf("%s client connected", role), requestID, map[string]interface{}{
		"client_id":   client.ID(),
		"remote_addr": r.RemoteAddr,
	})
	client.Run(r.Context())
	h.logger.Info("client_disconnected", fmt.Sprintf("%s client disconnected", role), requestID, map[string]interface{}{
		"client_id": client.ID(),
	})
}

// HealthCheck handles GET /health requests
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := h.service.HealthCheck(ctx)
	healthy := true
	for _, state := range checks {
		if state != "ok" {
			healthy = false
		}
	}

	response := map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   "order-service",
		"checks":    checks,
	}

	w.Header().Set("Content-Type", "application/json")
	if healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		response["status"] = "unhealthy"
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	json.NewEncoder(w).Encode(response)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

func (h *Handler) withTimeout(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), h.cfg.RequestTimeout)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name, requestID string) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil || id < 1 {
		h.writeErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("invalid %s", name), requestID)
		return 0, false
	}
	return id, true
}

func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}, requestID string) bool {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		h.writeErrorResponse(w, http.StatusBadRequest, "Content-Type must be application/json", requestID)
		return false
	}

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		h.logger.Warn("validation_failed", "Failed to parse request body", requestID, map[string]interface{}{
			"error": err.Error(),
			"path":  r.URL.Path,
		})
		h.writeErrorResponse(w, http.StatusBadRequest, "Invalid JSON format", requestID)
		return false
	}
	return true
}

// statusFor maps an error kind onto an HTTP status
func statusFor(err error) int {
	switch models.KindOf(err) {
	case models.KindNotFound:
		return http.StatusNotFound
	case models.KindInvalidArgument:
		return http.StatusBadRequest
	case models.KindInvalidTransition, models.KindInvalidState:
		return http.StatusConflict
	case models.KindPersistence:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) handleError(w http.ResponseWriter, err error, action, requestID string) {
	status := statusFor(err)
	message := err.Error()

	var verr ValidationError
	switch {
	case errors.As(err, &verr):
		message = verr.Error()
	case status == http.StatusServiceUnavailable:
		message = "Storage unavailable"
	case status == http.StatusInternalServerError:
		message = "Internal server error"
	}

	fields := map[string]interface{}{
		"kind":   models.KindOf(err),
		"status": status,
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error(action, "Request failed", requestID, err, fields)
	} else {
		fields["error"] = err.Error()
		h.logger.Warn(action, "Request rejected", requestID, fields)
	}
	h.writeErrorResponse(w, status, message, requestID)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}, requestID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("response_encoding_failed", "Failed to encode response", requestID, err, nil)
	}
}

// writeErrorResponse writes an error response in JSON format
func (h *Handler) writeErrorResponse(w http.ResponseWriter, statusCode int, message, requestID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResponse := map[string]interface{}{
		"error":      message,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"request_id": requestID,
	}

	json.NewEncoder(w).Encode(errorResponse)
}

func requestIDFrom(r *http.Request) string {
	if id, ok := r.Context().Value(ctxKey{}).(string); ok {
		return id
	}
	return ""
}

// withLogging adds request logging and metrics
func (h *Handler) withLogging(name string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = logger.GenerateRequestID()
		}
		w.Header().Set("X-Request-ID", requestID)

		r = r.WithContext(context.WithValue(r.Context(), ctxKey{}, requestID))

		h.logger.Debug("request_started",
			fmt.Sprintf("%s %s", r.Method, r.URL.Path),
			requestID,
			map[string]interface{}{
				"method":      r.Method,
				"path":        r.URL.Path,
				"remote_addr": r.RemoteAddr,
				"user_agent":  r.Header.Get("User-Agent"),
			})

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rw, r)

		duration := time.Since(start)
		if h.cfg.Metrics != nil {
			h.cfg.Metrics.ObserveRequest(name, rw.statusCode, float64(duration.Microseconds())/1000)
		}
		h.logger.Debug("request_completed",
			fmt.Sprintf("%s %s - %d", r.Method, r.URL.Path, rw.statusCode),
			requestID,
			map[string]interface{}{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status_code": rw.statusCode,
				"duration_ms": duration.Milliseconds(),
			})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrader take over the connection
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("hijacking not supported")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
