package chatlink

import (
	"context"

	"go.uber.org/zap"
)

// Route says which path carried a delivered message.
type Route string

const (
	RouteLive Route = "live"
	RouteREST Route = "rest"
)

// Sender is the part of RealtimeClient that Deliver needs.
type Sender interface {
	Send(payload any) bool
}

// Deliver sends body over the live connection when it is ready and falls
// back to the REST endpoint otherwise. live may be nil.
func (c *Client) Deliver(ctx context.Context, live Sender, threadID, body string) (Route, error) {
	if threadID == "" {
		return "", ErrNoThread
	}
	if live != nil && live.Send(NewSendFrame(threadID, body)) {
		return RouteLive, nil
	}
	c.logger.Debug("live connection unavailable, sending over rest", zap.String("thread_id", threadID))
	if _, err := c.Messages.Send(ctx, threadID, body, nil); err != nil {
		return RouteREST, err
	}
	return RouteREST, nil
}
