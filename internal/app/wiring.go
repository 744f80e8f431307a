// Package app assembles the gateway stack shared by the API server and the CLI.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/thrillee/aegisbulk/internal/config"
	"github.com/thrillee/aegisbulk/internal/gateway"
	"github.com/thrillee/aegisbulk/pkg/codes"
)

// Gateway is the platform client plus the guarded sender dispatch runs use.
type Gateway struct {
	Client *gateway.Client
	Sender *gateway.GuardedSender
	SMPP   *gateway.SMPPSender // Set when the smpp transport is selected

	closeFn func(context.Context) error
}

// Close unbinds the SMPP session if one was opened.
func (g *Gateway) Close(ctx context.Context) error {
	if g.closeFn == nil {
		return nil
	}
	return g.closeFn(ctx)
}

// NewGateway builds the HTTP client and, for the smpp transport, binds a transmitter.
// Sends are rate limited and guarded by a circuit breaker in both cases.
func NewGateway(ctx context.Context, cfg *config.Config) (*Gateway, error) {
	client := gateway.NewClient(gateway.HTTPConfig{
		BaseURL: cfg.Gateway.BaseURL,
		APIKey:  cfg.Gateway.APIKey,
		Timeout: cfg.Gateway.Timeout,
	})
	g := &Gateway{Client: client}

	var inner gateway.Sender = client
	if cfg.Gateway.Transport == codes.TransportSMPP {
		smpp, err := gateway.NewSMPPSender(gateway.SMPPConfig{
			Host:           cfg.SMPP.Host,
			Port:           cfg.SMPP.Port,
			SystemID:       cfg.SMPP.SystemID,
			Password:       cfg.SMPP.Password,
			SystemType:     cfg.SMPP.SystemType,
			EnquireLink:    cfg.SMPP.EnquireLink,
			RequestTimeout: cfg.SMPP.RequestTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("invalid smpp config: %w", err)
		}
		if err := smpp.Bind(ctx); err != nil {
			return nil, fmt.Errorf("smpp bind failed: %w", err)
		}
		g.SMPP = smpp
		g.closeFn = smpp.Shutdown
		inner = smpp
	}

	breaker := gateway.NewCircuitBreaker(gateway.CircuitBreakerConfig{
		FailureThreshold: cfg.Gateway.BreakerFailures,
		Timeout:          cfg.Gateway.BreakerCooldown,
		VolumeThreshold:  cfg.Gateway.BreakerMinVolume,
		Name:             cfg.Gateway.Transport,
		Logger:           slog.Default(),
	})
	g.Sender = gateway.NewGuardedSender(inner, gateway.NewLimiter(cfg.Gateway.RateLimit, cfg.Gateway.RateBurst), breaker)

	slog.InfoContext(ctx, "Gateway ready",
		slog.String("transport", cfg.Gateway.Transport),
		slog.String("base_url", cfg.Gateway.BaseURL),
		slog.Float64("rate_limit", cfg.Gateway.RateLimit))
	return g, nil
}
