package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/voicebootix/aidebuggerfoundry/internal/domain"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Capability service methods. Requests and replies are google.protobuf.Struct
// messages so the service can evolve its fields without regenerated stubs.
const (
	methodComplete = "/cofounder.v1.Capability/Complete"
	methodClassify = "/cofounder.v1.Capability/Classify"
)

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
	errMalformedReply           = errors.New("malformed capability reply")
)

// GrpcClient talks to the capability service over gRPC.
type GrpcClient struct {
	conn   *grpc.ClientConn
	health healthpb.HealthClient
	addr   string
	logger *slog.Logger
}

// GrpcClientConfig holds configuration for the gRPC client.
type GrpcClientConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultGrpcClientConfig returns default configuration.
func DefaultGrpcClientConfig(addr string) GrpcClientConfig {
	if addr == "" {
		addr = "localhost:50051"
	}
	return GrpcClientConfig{
		Address:          addr,
		ConnectTimeout:   5 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// NewGrpcClient connects to the capability service and waits until it is ready.
func NewGrpcClient(cfg GrpcClientConfig, logger *slog.Logger) (*GrpcClient, error) {
	if logger == nil {
		logger = slog.Default()
	}

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}

	conn, err := grpc.NewClient(cfg.Address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	)
	if err != nil {
		return nil, fmt.Errorf("connect capability service at %s: %w", cfg.Address, err)
	}

	// Fail fast on a bad endpoint instead of discovering it on the first founder turn.
	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("capability service at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to capability service", "address", cfg.Address)

	return &GrpcClient{
		conn:   conn,
		health: healthpb.NewHealthClient(conn),
		addr:   cfg.Address,
		logger: logger,
	}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Close closes the gRPC connection.
func (c *GrpcClient) Close() {
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}

// Healthy reports whether the service answers SERVING on the standard health protocol.
func (c *GrpcClient) Healthy(ctx context.Context) bool {
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		c.logger.Debug("capability health check failed", "error", err)
		return false
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
}

// Complete implements Capability.
func (c *GrpcClient) Complete(ctx context.Context, prompt, schemaHint string) (string, error) {
	reply, err := c.invoke(ctx, methodComplete, map[string]any{
		"prompt":      prompt,
		"schema_hint": schemaHint,
	})
	if err != nil {
		return "", err
	}
	text, ok := reply.GetFields()["text"]
	if !ok {
		return "", fmt.Errorf("%w: missing text", errMalformedReply)
	}
	return text.GetStringValue(), nil
}

// Classify implements Capability.
func (c *GrpcClient) Classify(ctx context.Context, text string) (string, float64, error) {
	reply, err := c.invoke(ctx, methodClassify, map[string]any{"text": text})
	if err != nil {
		return "", 0, err
	}
	fields := reply.GetFields()
	label, ok := fields["label"]
	if !ok {
		return "", 0, fmt.Errorf("%w: missing label", errMalformedReply)
	}
	return label.GetStringValue(), Clamp01(fields["confidence"].GetNumberValue()), nil
}

func (c *GrpcClient) invoke(ctx context.Context, method string, payload map[string]any) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(payload)
	if err != nil {
		return nil, fmt.Errorf("encode capability request: %w", err)
	}
	reply := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, method, req, reply); err != nil {
		switch status.Code(err) {
		case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled, codes.ResourceExhausted:
			return nil, fmt.Errorf("%w: %s: %v", domain.ErrCapabilityUnavailable, method, err)
		}
		c.logger.Warn("capability call failed", "method", method, "error", err)
		return nil, fmt.Errorf("capability call %s: %w", method, err)
	}
	return reply, nil
}

var _ Capability = (*GrpcClient)(nil)
