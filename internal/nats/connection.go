// Package nats opens the NATS connection used to publish inference events.
package nats

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	sdkerrors "github.com/francis-maes/lbcpp-sub006/pkg/errors"
)

// ConnectionConfig holds configuration for NATS connection
type ConnectionConfig struct {
	// URL is the NATS server URL (e.g., "nats://localhost:4222")
	URL string

	// Name is the client name for identifying this connection
	Name string

	// MaxReconnects is the maximum number of reconnection attempts
	// Use -1 for unlimited reconnects
	MaxReconnects int

	// ReconnectWait is the time to wait between reconnection attempts
	ReconnectWait time.Duration

	// Timeout is the connection timeout
	Timeout time.Duration

	// Token is an optional authentication token
	Token string

	// Username is an optional username for authentication
	Username string

	// Password is an optional password for authentication
	Password string

	// SubjectPrefix is prepended to every event subject.
	// Default is "lbcpp.inference".
	SubjectPrefix string
}

// DefaultConnectionConfig returns a configuration with sensible defaults
func DefaultConnectionConfig(url string) *ConnectionConfig {
	return &ConnectionConfig{
		URL:           url,
		Name:          "lbcpp-inference",
		MaxReconnects: 10,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
		SubjectPrefix: "lbcpp.inference",
	}
}

// ConfigFromEnv reads LBCPP_NATS_URL, LBCPP_NATS_TOKEN and
// LBCPP_NATS_SUBJECT_PREFIX on top of the defaults.
func ConfigFromEnv() *ConnectionConfig {
	url := os.Getenv("LBCPP_NATS_URL")
	if url == "" {
		url = nats.DefaultURL
	}
	config := DefaultConnectionConfig(url)
	config.Token = os.Getenv("LBCPP_NATS_TOKEN")
	if prefix := os.Getenv("LBCPP_NATS_SUBJECT_PREFIX"); prefix != "" {
		config.SubjectPrefix = prefix
	}
	return config
}

// Connect establishes a connection to NATS with the provided configuration
func Connect(ctx context.Context, config *ConnectionConfig, logger *zap.Logger) (*nats.Conn, error) {
	if config == nil {
		return nil, fmt.Errorf("connection config cannot be nil")
	}
	if config.URL == "" {
		return nil, fmt.Errorf("NATS URL cannot be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []nats.Option{
		nats.Name(config.Name),
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.Timeout(config.Timeout),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	}

	if config.Token != "" {
		opts = append(opts, nats.Token(config.Token))
	} else if config.Username != "" && config.Password != "" {
		opts = append(opts, nats.UserInfo(config.Username, config.Password))
	}

	type result struct {
		conn *nats.Conn
		err  error
	}
	resultCh := make(chan result, 1)

	go func() {
		conn, err := nats.Connect(config.URL, opts...)
		resultCh <- result{conn: conn, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("connection cancelled: %w", ctx.Err())
	case res := <-resultCh:
		if res.err != nil {
			return nil, fmt.Errorf("failed to connect to NATS: %w", res.err)
		}
		return res.conn, nil
	}
}

// Close drains the connection so buffered events are flushed, then closes it
func Close(conn *nats.Conn) error {
	if conn == nil {
		return nil
	}
	if err := conn.Drain(); err != nil {
		conn.Close()
		return fmt.Errorf("error draining connection: %w", err)
	}
	return nil
}

// IsConnected checks if the connection is active
func IsConnected(conn *nats.Conn) bool {
	return conn != nil && conn.IsConnected()
}

// Publisher publishes inference events on a connection and fails fast while
// the connection is down.
type Publisher struct {
	conn *nats.Conn
}

// NewPublisher wraps conn.
func NewPublisher(conn *nats.Conn) *Publisher {
	return &Publisher{conn: conn}
}

// Publish sends data on subject.
func (p *Publisher) Publish(subject string, data []byte) error {
	if !IsConnected(p.conn) {
		return sdkerrors.NewError(sdkerrors.CodeNotConnected, "cannot publish on "+subject, sdkerrors.ErrNotConnected)
	}
	if err := p.conn.Publish(subject, data); err != nil {
		return sdkerrors.NewError(sdkerrors.CodeInternal, "publish on "+subject,
			fmt.Errorf("%w: %v", sdkerrors.ErrPublishFailed, err))
	}
	return nil
}
