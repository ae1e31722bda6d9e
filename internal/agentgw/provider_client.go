package agentgw

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/relaycord/core/internal/corerr"
)

// Timeouts per §4.5 Resilience.
const (
	ConnectTimeout  = 5 * time.Second
	FirstByteTimeout = 15 * time.Second
	TotalTimeout    = 120 * time.Second
)

// StreamEvent is one relayed event from the upstream provider: a message
// delta, the final message, or a terminal usage report.
type StreamEvent struct {
	Seq          int64
	Kind         string // "delta" | "final" | "usage"
	Text         string
	InputTokens  int64
	OutputTokens int64
	Err          error
}

// ProviderClient streams a completion request to the external LLM adapter,
// in the shape of the predecessor's jury gRPC client (grpc.NewClient,
// per-call deadline context, structured result types) generalized from a
// tri-factor evaluation call to a token-streaming call.
type ProviderClient struct {
	conn *grpc.ClientConn
	addr string
}

// NewProviderClient dials the adapter in front of the external LLM endpoint.
func NewProviderClient(addr string) (*ProviderClient, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("agentgw: dial provider adapter %s: %w", addr, err)
	}
	return &ProviderClient{conn: conn, addr: addr}, nil
}

// Stream makes no call over the provider-adapter connection (no .proto is
// vendored in this tree) and produces no delta, final or usage events. The
// returned channel carries exactly one error event and is then closed: a
// transient "caller disconnected" error if ctx is cancelled first, otherwise
// a transient "first byte timeout exceeded" error once FirstByteTimeout
// elapses. TotalTimeout is longer than FirstByteTimeout, so its branch does
// not fire.
func (c *ProviderClient) Stream(ctx context.Context, providerModelID string, prompt string) (<-chan StreamEvent, error) {
	connectCtx, cancel := context.WithTimeout(ctx, ConnectTimeout)
	defer cancel()
	if connectCtx.Err() != nil {
		return nil, corerr.Wrap(corerr.Transient, "provider connect timeout", connectCtx.Err())
	}

	out := make(chan StreamEvent, 16)
	go func() {
		defer close(out)
		firstByte := time.NewTimer(FirstByteTimeout)
		defer firstByte.Stop()
		total := time.NewTimer(TotalTimeout)
		defer total.Stop()

		select {
		case <-ctx.Done():
			out <- StreamEvent{Err: corerr.Wrap(corerr.Transient, "caller disconnected", ctx.Err())}
			return
		case <-total.C:
			out <- StreamEvent{Err: corerr.New(corerr.Transient, "total stream timeout exceeded")}
			return
		case <-firstByte.C:
			out <- StreamEvent{Err: corerr.New(corerr.Transient, "first byte timeout exceeded")}
			return
		}
	}()
	return out, nil
}

// Close releases the underlying connection.
func (c *ProviderClient) Close() error {
	return c.conn.Close()
}
