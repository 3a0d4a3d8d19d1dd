package relay

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/weiawesome/live-relay/internal/config"
	"github.com/weiawesome/live-relay/internal/handler"
	"github.com/weiawesome/live-relay/internal/hub"
	"github.com/weiawesome/live-relay/internal/registry"
	"github.com/weiawesome/live-relay/internal/router"
	"github.com/weiawesome/live-relay/internal/session"
	"github.com/weiawesome/live-relay/internal/upstream"
	pkglog "github.com/weiawesome/live-relay/pkg/log"
)

// Relay wires the upstream factory, registry, router, hub, session manager
// and HTTP handlers together.
type Relay struct {
	Factory  upstream.SourceFactory
	Registry *registry.Registry
	Router   *router.Router
	Hub      *hub.Hub
	Sessions *session.Manager
	Handler  *handler.Handler
}

// Options tunes New.
type Options struct {
	WebSocket config.WebSocketConfig
	Adapter   upstream.Options
	// OnAttach runs once when the socket gateway is attached.
	OnAttach func()
}

// New builds a relay on factory. Call Start before serving.
func New(factory upstream.SourceFactory, opts Options) *Relay {
	h := hub.NewHub(opts.WebSocket)
	rt := router.New(h)

	reg := registry.New(func(room string) registry.Connection {
		return upstream.NewAdapter(room, factory, opts.Adapter)
	}, registry.Hooks{OnOpen: rt.Start})
	rt.Bind(reg)

	sessions := session.NewManager(reg, h)
	ws := handler.NewWSHandler(h, sessions)

	hopts := handler.Options{
		Rooms:    reg,
		Stats:    rt,
		OnAttach: opts.OnAttach,
	}
	if mem, ok := factory.(*upstream.MemoryFactory); ok {
		hopts.Injector = mem
	}

	return &Relay{
		Factory:  factory,
		Registry: reg,
		Router:   rt,
		Hub:      h,
		Sessions: sessions,
		Handler:  handler.NewHandler(ws, hopts),
	}
}

// Start runs the hub loop.
func (r *Relay) Start() {
	go r.Hub.Run()
}

// Engine builds the gin engine serving every relay route.
func (r *Relay) Engine(logger zerolog.Logger) *gin.Engine {
	e := gin.New()
	e.Use(gin.Recovery())
	e.Use(pkglog.GinMiddleware(logger))
	r.Handler.RegisterRoutes(e)
	return e
}

// Shutdown closes client sockets, tears down every room and waits for the
// room pumps to drain.
func (r *Relay) Shutdown() error {
	r.Hub.Stop()
	r.Registry.Close()
	r.Router.Wait()
	return r.Factory.Close()
}
