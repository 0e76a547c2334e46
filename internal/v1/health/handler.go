// Package health exposes liveness and readiness HTTP endpoints.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/dialoguehq/dialogue/internal/v1/bus"
	"github.com/dialoguehq/dialogue/internal/v1/logging"
	"go.uber.org/zap"
)

// ExternalStoreChecker checks the health of the external history store's
// gRPC health endpoint.
type ExternalStoreChecker interface {
	Check(ctx context.Context, addr string) string
}

// DefaultExternalStoreChecker dials addr and calls the standard gRPC health
// check protocol.
type DefaultExternalStoreChecker struct{}

// Check verifies gRPC connectivity to the external store using the
// standard health check protocol.
func (c *DefaultExternalStoreChecker) Check(ctx context.Context, addr string) string {
	conn, err := grpc.NewClient(
		addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		logging.Error(ctx, "failed to connect to external store for health check", zap.Error(err), zap.String("addr", addr))
		return "unhealthy"
	}
	defer func() { _ = conn.Close() }()

	healthClient := healthpb.NewHealthClient(conn)
	resp, err := healthClient.Check(ctx, &healthpb.HealthCheckRequest{Service: ""})
	if err != nil {
		logging.Error(ctx, "external store health check RPC failed", zap.Error(err))
		return "unhealthy"
	}
	if resp.Status != healthpb.HealthCheckResponse_SERVING {
		logging.Warn(ctx, "external store is not serving", zap.String("status", resp.Status.String()))
		return "unhealthy"
	}
	return "healthy"
}

// Handler manages the liveness/readiness HTTP endpoints.
type Handler struct {
	store        *bus.Store
	storeAddr    string
	storeEnabled bool
	storeChecker ExternalStoreChecker
}

// NewHandler builds a Handler. store may be nil when Redis is disabled
// (single-instance mode); its Redis-backed history persistence is then
// considered healthy by definition.
func NewHandler(store *bus.Store) *Handler {
	addr := os.Getenv("EXTERNAL_STORE_ADDR")
	if addr == "" {
		addr = "localhost:50051"
	}
	enabled := os.Getenv("EXTERNAL_STORE_HEALTH_CHECK_ENABLED") != "false"

	return &Handler{
		store:        store,
		storeAddr:    addr,
		storeEnabled: enabled,
		storeChecker: &DefaultExternalStoreChecker{},
	}
}

// LivenessResponse is the liveness probe's response shape.
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse is the readiness probe's response shape.
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Liveness returns 200 if the process is alive, without checking any
// dependency.
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness returns 200 only if every configured dependency is healthy,
// else 503.
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	redisStatus := h.checkRedis(ctx)
	checks["redis"] = redisStatus
	if redisStatus != "healthy" {
		allHealthy = false
	}

	if h.storeEnabled {
		storeStatus := h.checkExternalStore(ctx)
		checks["external_store"] = storeStatus
		if storeStatus != "healthy" {
			allHealthy = false
		}
	}

	status := "ready"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "unavailable"
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) checkRedis(ctx context.Context) string {
	if h.store == nil {
		return "healthy"
	}
	if err := h.store.Ping(ctx); err != nil {
		logging.Error(ctx, "redis health check failed", zap.Error(err))
		return "unhealthy"
	}
	return "healthy"
}

func (h *Handler) checkExternalStore(ctx context.Context) string {
	if h.storeChecker == nil {
		return "unhealthy"
	}
	return h.storeChecker.Check(ctx, h.storeAddr)
}

// MarshalJSON gives ReadinessResponse a stable field order in the response
// body.
func (r ReadinessResponse) MarshalJSON() ([]byte, error) {
	type Alias ReadinessResponse
	return json.Marshal(&struct{ *Alias }{Alias: (*Alias)(&r)})
}
