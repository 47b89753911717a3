package viz

import (
	"context"

	"github.com/san-kum/aiwater/internal/client"
	"github.com/san-kum/aiwater/internal/dynamo"
	"github.com/san-kum/aiwater/internal/sim"
)

// Controller is how the meter acts on an engine. Observation goes through
// observe.Poller instead.
type Controller interface {
	SubmitCost(ctx context.Context, cost float64) error
	Reset(ctx context.Context) error
	Params(ctx context.Context) (dynamo.Params, error)
	SetParams(ctx context.Context, p dynamo.Params) error
}

// LocalController drives an in-process engine.
type LocalController struct{ Engine *sim.Engine }

func (l LocalController) SubmitCost(_ context.Context, cost float64) error {
	return l.Engine.SubmitCost(cost)
}

func (l LocalController) Reset(context.Context) error {
	l.Engine.Reset()
	return nil
}

func (l LocalController) Params(context.Context) (dynamo.Params, error) {
	return l.Engine.Params(), nil
}

func (l LocalController) SetParams(_ context.Context, p dynamo.Params) error {
	return l.Engine.SetParams(p)
}

// RemoteController drives a server through its HTTP API.
type RemoteController struct{ Client *client.Client }

func (r RemoteController) SubmitCost(ctx context.Context, cost float64) error {
	return r.Client.SubmitCost(ctx, cost)
}

func (r RemoteController) Reset(ctx context.Context) error {
	_, err := r.Client.Reset(ctx)
	return err
}

func (r RemoteController) Params(ctx context.Context) (dynamo.Params, error) {
	return r.Client.Settings(ctx)
}

func (r RemoteController) SetParams(ctx context.Context, p dynamo.Params) error {
	_, err := r.Client.ReplaceSettings(ctx, p)
	return err
}
