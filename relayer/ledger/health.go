package ledger

import (
	"context"
	"fmt"

	relerrors "github.com/snzup/subscription-relayer/relayer/errors"
)

// Probe checks that at least one endpoint reports healthy within the probe
// timeout. It bypasses the retry policy so readiness reflects the current
// state, but still goes through the limiter and the rpc gate.
func (c *Client) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	var lastErr error
	for range c.endpoints {
		err := c.call(ctx, "getHealth", c.retry.WithClassifier(func(error) bool { return false }), func(ctx context.Context, ep RPC) error {
			health, err := ep.GetHealth(ctx)
			if err != nil {
				return err
			}
			if health != "ok" {
				return fmt.Errorf("node reports %q", health)
			}
			return nil
		})
		if err == nil {
			return nil
		}
		lastErr = err
		c.logger.Debug().Err(err).Msg("health probe failed, trying next endpoint")
	}
	return relerrors.Transient(relerrors.ReasonUnhealthy, "no healthy RPC endpoint", lastErr)
}
