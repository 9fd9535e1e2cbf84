package main

import (
	"context"

	"github.com/meshkit/silo/internal/actor"
	"github.com/meshkit/silo/internal/siloerr"
)

// echoDispatcher is the reference actor.Dispatcher silod runs when no
// application-specific one is supplied. The Dispatcher collaborator is
// generated out-of-band per spec §1/§6's Non-goals, so a real deployment
// embeds its own; this one exists so `silod server` is runnable and
// demonstrable end-to-end, answering OnActivate/OnDeactivate and one
// "Ping" method that echoes its payload.
type echoDispatcher struct{}

func (echoDispatcher) Dispatch(ctx context.Context, actorType, actorID, methodName string, payload []byte) ([]byte, error) {
	switch methodName {
	case actor.MethodActivate, actor.MethodDeactivate:
		return nil, nil
	case "Ping":
		return payload, nil
	default:
		return nil, siloerr.Newf(siloerr.NotFound, "echoDispatcher: unknown method %q for %s:%s", methodName, actorType, actorID)
	}
}
