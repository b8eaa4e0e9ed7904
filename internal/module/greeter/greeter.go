// Package greeter is a built-in stand-in backend module used ahead of
// authentication (spec §4.5: "the auth session path starts a greeter
// module bound to the same connection"). It never spawns a real display
// server; it exists so the logon flow, module lifecycle and process
// monitor are end-to-end exercisable without an actual backend.
package greeter

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/ogon-project/ogon-sessiond/internal/module"
)

// Module is the greeter's Module implementation.
type Module struct {
	nextPipeID atomic.Uint64
}

// New constructs a greeter Module.
func New() *Module { return &Module{} }

func (*Module) Init(ctx context.Context) error { return nil }

func (*Module) New(ctx context.Context) (*module.Context, error) {
	return &module.Context{}, nil
}

func (*Module) Free(ctx context.Context, mc *module.Context) {}

func (g *Module) Start(ctx context.Context, mc *module.Context) (string, error) {
	id := g.nextPipeID.Add(1)
	pipeName := fmt.Sprintf("ogon-greeter-%d-%d", mc.SessionID, id)
	mc.WinstationName = "greeter"
	return pipeName, nil
}

func (*Module) Stop(ctx context.Context, mc *module.Context) error { return nil }

func (*Module) Connect(ctx context.Context, mc *module.Context) error { return nil }

func (*Module) Disconnect(ctx context.Context, mc *module.Context) error { return nil }

func (*Module) Destroy(ctx context.Context, mc *module.Context) error { return nil }

func (*Module) GetCustomInfo(mc *module.Context) any { return nil }
