package worker

import (
	"context"
	"fmt"
)

// Router sends each call to the client registered for the worker id and
// falls back to a default client for the rest.
type Router struct {
	routes   map[string]Client
	fallback Client
}

func NewRouter(fallback Client) *Router {
	return &Router{routes: make(map[string]Client), fallback: fallback}
}

func (r *Router) Route(workerID string, client Client) {
	if client == nil {
		return
	}
	r.routes[NormalizeID(workerID)] = client
}

func (r *Router) Call(ctx context.Context, workerID string, payload Payload) (Result, error) {
	id := NormalizeID(workerID)
	if client, ok := r.routes[id]; ok {
		return client.Call(ctx, id, payload)
	}
	if r.fallback != nil {
		return r.fallback.Call(ctx, id, payload)
	}
	return Result{}, fmt.Errorf("%w: %s", ErrUnknownWorker, workerID)
}
