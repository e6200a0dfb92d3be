package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// GenerateMethod is the unary method served by the generation service. Both
// request and response are google.protobuf.Struct.
const GenerateMethod = "/replybot.generator.v1.Generator/Generate"

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
)

// GrpcClient calls the generation service over gRPC.
type GrpcClient struct {
	conn   *grpc.ClientConn
	addr   string
	logger *slog.Logger
}

// GrpcClientConfig holds configuration for the gRPC client.
type GrpcClientConfig struct {
	Address          string
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultGrpcClientConfig returns default configuration.
func DefaultGrpcClientConfig() GrpcClientConfig {
	return GrpcClientConfig{
		Address:          "localhost:50051",
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// NewGrpcClient builds a client for addr. No network I/O happens until the
// first call or WaitReady.
func NewGrpcClient(addr string, logger *slog.Logger, opts ...grpc.DialOption) (*GrpcClient, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cfg := DefaultGrpcClientConfig()
	if addr != "" {
		cfg.Address = addr
	}

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, opts...)

	conn, err := grpc.NewClient(cfg.Address, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("create generator client for %s: %w", cfg.Address, err)
	}

	return &GrpcClient{
		conn:   conn,
		addr:   cfg.Address,
		logger: logger,
	}, nil
}

// WaitReady blocks until the connection is ready or ctx ends.
func (c *GrpcClient) WaitReady(ctx context.Context) error {
	for {
		state := c.conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			c.conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !c.conn.WaitForStateChange(ctx, state) {
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

// Generate calls the service once. There is no retry.
func (c *GrpcClient) Generate(ctx context.Context, req Request) (string, error) {
	in, err := encodeRequest(req)
	if err != nil {
		return "", fmt.Errorf("encode generate request: %w", err)
	}

	out := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, GenerateMethod, in, out); err != nil {
		return "", classifyStatus(ctx, err)
	}

	text := strings.TrimSpace(out.GetFields()["text"].GetStringValue())
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

func encodeRequest(req Request) (*structpb.Struct, error) {
	exchanges := make([]any, 0, len(req.Exchanges))
	for _, ex := range req.Exchanges {
		exchanges = append(exchanges, map[string]any{
			"user":  ex.UserText,
			"reply": ex.ReplyText,
		})
	}
	return structpb.NewStruct(map[string]any{
		"user_text":      req.UserText,
		"sender_name":    req.SenderName,
		"language":       string(req.Language),
		"prior_messages": req.PriorMessages,
		"exchanges":      exchanges,
	})
}

func classifyStatus(ctx context.Context, err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return classify(ctx, err)
	}
	switch st.Code() {
	case codes.DeadlineExceeded:
		return fmt.Errorf("%w: %s", ErrTimeout, st.Message())
	case codes.Canceled:
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s", ErrTimeout, st.Message())
		}
		return fmt.Errorf("%w: %s", ErrNetwork, st.Message())
	default:
		return fmt.Errorf("%w: %s: %s", ErrNetwork, st.Code(), st.Message())
	}
}

var _ Generator = (*GrpcClient)(nil)
