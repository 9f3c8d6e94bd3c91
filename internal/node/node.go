// Package node assembles a storage node from its configuration and runs it.
package node

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"ringdht/internal/api"
	"ringdht/internal/config"
	"ringdht/internal/logs"
	"ringdht/internal/metrics"
	"ringdht/internal/overlay"
	"ringdht/internal/peers"
	"ringdht/internal/replication"
	"ringdht/internal/ring"
	"ringdht/internal/rpc"
	"ringdht/internal/store"
	"ringdht/internal/table"
	"ringdht/internal/ttl"
)

const shutdownTimeout = 5 * time.Second

type options struct {
	logger    *logs.Logger
	sender    overlay.Sender
	addresser ring.Addresser
	clock     func() time.Time
}

// Option customizes New.
type Option func(*options)

// WithLogger replaces the logger built from the Log section.
func WithLogger(l *logs.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithSender replaces the HTTP RPC client, e.g. with an rpc.Local network.
func WithSender(s overlay.Sender) Option {
	return func(o *options) { o.sender = s }
}

// WithAddresser replaces the SHA-1 key mapping.
func WithAddresser(a ring.Addresser) Option {
	return func(o *options) { o.addresser = a }
}

// WithClock sets the store's time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.clock = now }
}

// Node is one member of the ring with every component wired together.
type Node struct {
	Config      config.Config
	Logger      *logs.Logger
	Metrics     *metrics.Registry
	Store       *store.Store
	Peers       *peers.Manager
	Table       *table.Server
	Coordinator *replication.Coordinator
	Dispatcher  *rpc.Dispatcher
	Sweeper     *ttl.Sweeper
	Heartbeat   *peers.HeartbeatWorker

	handler http.Handler
	cancel  context.CancelFunc
	started bool
}

// New validates cfg and builds the node. Nothing runs until Start or Run.
func New(cfg config.Config, opts ...Option) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	self, err := cfg.SelfAddress()
	if err != nil {
		return nil, err
	}
	members, err := cfg.Members()
	if err != nil {
		return nil, err
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logs.NewLogger(cfg.Log.BufferSize, cfg.LogLevel())
	}
	if o.addresser == nil {
		o.addresser = ring.NewHashAddresser(cfg.Table.AddressCacheSize)
	}
	peerConfig := cfg.PeersConfig()
	if o.sender == nil {
		o.sender = rpc.NewClient(peerConfig.Timeout.RPCTimeout, o.logger)
	}

	n := &Node{Config: cfg, Logger: o.logger, Metrics: metrics.NewRegistry()}

	var storeOpts []store.Option
	if o.clock != nil {
		storeOpts = append(storeOpts, store.WithClock(o.clock))
	}
	n.Store = store.NewStore(n.Metrics, storeOpts...)

	n.Peers = peers.NewManager(self, peerConfig, n.Metrics, n.Logger)
	for _, m := range members {
		n.Peers.AddPeer(m)
	}

	n.Table = table.NewServer(n.Store, n.Peers, o.sender, n.Logger, n.Metrics, table.Config{
		Addresser:      o.addresser,
		ForwardTimeout: peerConfig.Timeout.RPCTimeout,
	})

	ctx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel
	n.Coordinator = replication.NewCoordinator(ctx, self, n.Store, o.addresser, o.sender,
		n.Logger, n.Metrics, cfg.ReplicationConfig())

	n.Dispatcher = rpc.NewDispatcher(n.Logger, n.Metrics)
	rpc.RegisterTable(n.Dispatcher, n.Table)

	n.Sweeper = ttl.NewSweeper(n.Table, time.Duration(cfg.Sweep.Interval), n.Logger, n.Metrics)
	n.Heartbeat = peers.NewHeartbeatWorker(n.Peers, peerConfig, n.Metrics)

	n.handler = api.RegisterRoutes(http.NewServeMux(), api.NewHandler(api.Deps{
		Table:       n.Table,
		Coordinator: n.Coordinator,
		Peers:       n.Peers,
		Sweeper:     n.Sweeper,
		RPC:         n.Dispatcher,
		Metrics:     n.Metrics,
		Logger:      n.Logger,
	}))
	return n, nil
}

// Handler serves the node's HTTP surface.
func (n *Node) Handler() http.Handler {
	return n.handler
}

// Start subscribes the table server and the coordinator to membership
// changes. The current neighbors are replayed, so transfers begin here.
func (n *Node) Start() {
	if n.started {
		return
	}
	n.started = true
	n.Peers.Subscribe(n.Table)
	n.Peers.Subscribe(n.Coordinator)
	n.Logger.Infof("node %s started at %s", n.Config.Node.Name, n.Peers.Self())
}

// Close interrupts running transfers.
func (n *Node) Close() {
	n.Coordinator.Close()
	n.cancel()
}

// Run serves HTTP on Node.Listen and runs the heartbeat and sweep loops
// until ctx is cancelled or one of them fails.
func (n *Node) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", n.Config.Node.Listen)
	if err != nil {
		return err
	}
	return n.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (n *Node) Serve(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:           n.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	n.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n.Logger.Infof("listening on %s", ln.Addr())
		if err := server.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		n.Heartbeat.Start(gctx)
		return nil
	})
	g.Go(func() error {
		n.Sweeper.Start(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		n.Logger.Info("shutting down")
		n.Close()

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(sctx)
	})
	return g.Wait()
}
