package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/tutorhub/internal/domain"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// GenerateMethod is the full method name served by remote generators.
const GenerateMethod = "/tutorhub.generator.v1.Generator/Generate"

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
)

// GRPCConfig holds configuration for the remote generator client.
type GRPCConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultGRPCConfig returns default configuration for addr.
func DefaultGRPCConfig(addr string) GRPCConfig {
	return GRPCConfig{
		Address:          addr,
		ConnectTimeout:   5 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// GRPC implements Backend by calling a remote generator service. Requests and
// replies are structpb.Struct envelopes so the service needs no shared
// generated code.
type GRPC struct {
	conn   *grpc.ClientConn
	addr   string
	logger *slog.Logger
}

// NewGRPC dials the generator service and waits until it is ready.
func NewGRPC(cfg GRPCConfig, logger *slog.Logger, opts ...grpc.DialOption) (*GRPC, error) {
	if logger == nil {
		logger = slog.Default()
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
		return nil, fmt.Errorf("failed to connect to generator at %s: %w", cfg.Address, err)
	}

	// Fail fast on bad generator endpoints.
	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("generator at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to generator service", "address", cfg.Address)
	return &GRPC{conn: conn, addr: cfg.Address, logger: logger}, nil
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
func (g *GRPC) Close() {
	if g.conn != nil {
		if err := g.conn.Close(); err != nil {
			g.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}

// Generate implements Backend.
func (g *GRPC) Generate(ctx context.Context, agent *domain.Agent, messages []domain.PromptMessage) (*Reply, error) {
	req, err := generateRequest(agent, messages)
	if err != nil {
		return nil, err
	}

	resp := &structpb.Struct{}
	if err := g.conn.Invoke(ctx, GenerateMethod, req, resp); err != nil {
		st, _ := status.FromError(err)
		return nil, &domain.ProviderError{
			Provider: domain.ProviderGRPC,
			Status:   int(st.Code()),
			Message:  st.Message(),
			Err:      err,
		}
	}
	return generateReply(resp)
}

func generateRequest(agent *domain.Agent, messages []domain.PromptMessage) (*structpb.Struct, error) {
	msgs := make([]any, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, map[string]any{"role": string(m.Role), "content": m.Content})
	}

	fields := map[string]any{
		"agent_id":        agent.ID,
		"model":           agent.Params.Model,
		"max_tokens":      agent.Params.MaxTokensOrDefault(),
		"completion_tool": agent.Params.CompletionTool,
		"messages":        msgs,
	}
	if agent.Params.Temperature != nil {
		fields["temperature"] = *agent.Params.Temperature
	}

	req, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("encode generate request: %w", err)
	}
	return req, nil
}

func generateReply(resp *structpb.Struct) (*Reply, error) {
	fields := resp.GetFields()
	reply := &Reply{
		Content:        fields["content"].GetStringValue(),
		Tokens:         int(fields["tokens"].GetNumberValue()),
		CompletionRate: fields[progressArgName].GetNumberValue(),
	}
	if reply.Content == "" {
		return nil, &domain.ProviderError{Provider: domain.ProviderGRPC, Message: "empty response content"}
	}
	return reply, nil
}
