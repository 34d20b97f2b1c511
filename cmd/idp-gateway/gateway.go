package main

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/idpnet/idp/internal/config"
	"github.com/idpnet/idp/pkg/idp"
	idpmetrics "github.com/idpnet/idp/pkg/idp/metrics"
	"github.com/idpnet/idp/pkg/idp/sched"
	"github.com/idpnet/idp/pkg/idp/transport"
)

// Gateway wires a Router (fronting a Master) to a TCP listener and any
// configured serial adaptors, and drives them all from one Dispatcher
// tick loop.
type Gateway struct {
	Router *idp.Router
	Master *idp.Master

	ln         *transport.TCPListener
	dispatcher *sched.Dispatcher
	adaptors   []*transport.StreamAdaptor
	mset       *idpmetrics.Set
}

// NewGateway builds a Gateway from c and binds its TCP listener, but
// doesn't start accepting connections yet (Run does). mset,
// if non-nil, is wired to every component's operational counters so
// /metrics reports real traffic instead of sitting at zero.
func NewGateway(c *config.Config, mset *idpmetrics.Set) (*Gateway, error) {
	clock := sched.NewWallClock()

	router := idp.NewRouter(clock, idp.RouterGuid, "idp-gateway")
	master := idp.NewMaster(clock)
	master.SetNodeTimeout(uint64(c.NodeTimeout.Milliseconds()))
	master.SetMinNodeVersion(c.MinimumNodeVersion)
	master.SetTransmitter(router)
	router.AddNode(master.Node)

	router.SetLogger(log.Logger)
	master.SetLogger(log.Logger)
	if mset != nil {
		router.SetObserver(idpmetrics.RouteObserver{Set: mset})
		master.SetObserver(idpmetrics.EnumObserver{Set: mset})
	}

	ln, err := transport.ListenTCP(c.ListenAddr, c.MaxConns)
	if err != nil {
		return nil, errors.Wrapf(err, "listen on %s", c.ListenAddr)
	}

	gw := &Gateway{Router: router, Master: master, ln: ln, mset: mset}

	dispatcher := sched.NewDispatcher(clock, 10*time.Millisecond)
	dispatcher.Register(router)
	dispatcher.Register(master)
	gw.dispatcher = dispatcher

	for _, dev := range c.SerialDevices {
		stream, err := transport.OpenSerial(dev, 115200)
		if err != nil {
			log.Warn().Err(err).Str("device", dev).Msg("skipping serial adaptor")
			continue
		}
		gw.attach(transport.NewStreamAdaptor(stream))
	}

	return gw, nil
}

func (g *Gateway) attach(a *transport.StreamAdaptor) {
	id := g.Router.AddAdaptor(a)
	a.OnPacket = func(p *idp.Packet) {
		g.Router.Receive(id, p)
	}
	a.SetLogger(log.Logger)
	if g.mset != nil {
		a.SetParseObserver(idpmetrics.ParseObserver{Set: g.mset})
	}
	g.adaptors = append(g.adaptors, a)
	g.dispatcher.Register(a)
}

// Run accepts inbound adaptor connections and drives the tick loop until
// ctx is canceled.
func (g *Gateway) Run(ctx context.Context) error {
	go g.acceptLoop(ctx)
	g.dispatcher.Run(ctx)
	return g.ln.Close()
}

func (g *Gateway) acceptLoop(ctx context.Context) {
	for {
		a, err := g.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			log.Error().Err(err).Msg("accept")
			return
		}
		g.attach(a)
		log.Info().Msg("accepted adaptor connection")
	}
}
