package blockchain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

const (
	rpcTimeout    = 10 * time.Second
	maxRetries    = 3
	retryInterval = 500 * time.Millisecond
)

// Client reads ERC-20 contracts over JSON-RPC with failover support
type Client struct {
	failoverClient *FailoverClient
	parsedABI      abi.ABI
}

// NewClient creates a new blockchain client with failover support
func NewClient(rpcURLs []string) (*Client, error) {
	failoverClient, err := NewFailoverClient(rpcURLs)
	if err != nil {
		return nil, err
	}

	parsedABI, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ABI: %w", err)
	}

	return &Client{
		failoverClient: failoverClient,
		parsedABI:      parsedABI,
	}, nil
}

// Close closes all RPC client connections
func (c *Client) Close() {
	c.failoverClient.Close()
}

// GetHealthyEndpoint returns a usable RPC client and its URL
func (c *Client) GetHealthyEndpoint() (*ethclient.Client, string, error) {
	return c.failoverClient.GetClient()
}

// GetEndpointsHealth reports the health of every configured endpoint by URL
func (c *Client) GetEndpointsHealth() map[string]bool {
	return c.failoverClient.Health()
}

// isEndpointFailure reports whether err means the endpoint itself misbehaved.
// JSON-RPC error replies and ABI decoding failures come from a live node.
func isEndpointFailure(err error) bool {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return false
	}
	msg := err.Error()
	return !strings.HasPrefix(msg, "abi:") && !strings.Contains(msg, "no contract code")
}

// retryWithBackoff runs fn against a healthy endpoint, failing over to the
// next endpoint and backing off exponentially between attempts
func (c *Client) retryWithBackoff(ctx context.Context, fn func(*ethclient.Client) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInterval
	b.MaxElapsedTime = 0

	attempts := 0
	operation := func() error {
		attempts++
		client, url, err := c.failoverClient.GetClient()
		if err != nil {
			return backoff.Permanent(err)
		}
		if err := fn(client); err != nil {
			if !isEndpointFailure(err) {
				return backoff.Permanent(err)
			}
			c.failoverClient.MarkUnhealthy(url, err)
			return err
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, maxRetries-1), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return fmt.Errorf("failed after %d attempts: %w", attempts, err)
	}
	return nil
}
