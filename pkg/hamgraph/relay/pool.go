package relay

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"hamgraph/pkg/hamgraph/damerr"
	"hamgraph/pkg/hamgraph/definition"
	"hamgraph/pkg/hamgraph/wire"

	"github.com/prometheus/client_golang/prometheus"
)

// Strategy selects which relay a Pool.Send call targets (§4.9).
type Strategy int

const (
	RoundRobin Strategy = iota
	LeastConnections
	Random
	HealthBased
)

// DefaultHealthCheckInterval is §4.9's health-check cadence.
const DefaultHealthCheckInterval = 60 * time.Second

// Config configures a Pool (§4.9).
type Config struct {
	Seeds               []string
	Min                 int
	Max                 int
	Strategy            Strategy
	HealthCheckInterval time.Duration
	AutoDiscovery       bool
}

func (c Config) withDefaults() Config {
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = DefaultHealthCheckInterval
	}
	if c.Max <= 0 {
		c.Max = len(c.Seeds)
	}
	return c
}

// Pool is the Relay Pool (§4.9): a set of RelayClients load-balanced by
// Config.Strategy, health-checked on a timer.
type Pool struct {
	mu sync.Mutex

	cfg     Config
	dialer  Dialer
	invoker definition.Invoker
	log     definition.Logger

	localPID string
	clients  []*RelayClient
	cursor   int

	gauges   *prometheus.GaugeVec
	rttHist  prometheus.Histogram
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New builds a Pool and connects to every seed. registerer may be nil to
// disable metrics export.
func New(cfg Config, localPID string, dialer Dialer, invoker definition.Invoker, log definition.Logger, registerer prometheus.Registerer) *Pool {
	cfg = cfg.withDefaults()
	p := &Pool{
		cfg:      cfg,
		dialer:   dialer,
		invoker:  invoker,
		log:      log,
		localPID: localPID,
		stopCh:   make(chan struct{}),
	}
	if registerer != nil {
		p.gauges = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hamgraph_relay_health_score",
			Help: "Current HealthBased score per relay seed.",
		}, []string{"seed"})
		p.rttHist = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "hamgraph_relay_rtt_seconds",
			Help:    "Measured relay health-check round-trip time.",
			Buckets: prometheus.DefBuckets,
		})
		registerer.MustRegister(p.gauges, p.rttHist)
	}
	for _, seed := range cfg.Seeds {
		p.addRelay(seed)
	}
	return p
}

func (p *Pool) addRelay(seedURL string) *RelayClient {
	t := p.dialer(seedURL)
	client := newRelayClient(seedURL, p.localPID, t, p.invoker, p.log)
	p.mu.Lock()
	p.clients = append(p.clients, client)
	p.mu.Unlock()
	p.invoker.Spawn(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := client.connect(ctx); err != nil {
			p.log.Warnf("relay: initial connect to %s failed: %v", seedURL, err)
		}
	})
	return client
}

// Start begins the periodic health-check loop.
func (p *Pool) Start() {
	p.invoker.Spawn(func() {
		ticker := time.NewTicker(p.cfg.HealthCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-p.stopCh:
				return
			case <-ticker.C:
				p.runHealthChecks()
			}
		}
	})
}

// Stop halts the health-check loop and closes every relay connection.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.mu.Lock()
	clients := append([]*RelayClient(nil), p.clients...)
	p.mu.Unlock()
	for _, c := range clients {
		_ = c.close()
	}
}

func (p *Pool) runHealthChecks() {
	p.mu.Lock()
	clients := append([]*RelayClient(nil), p.clients...)
	p.mu.Unlock()

	var kept []*RelayClient
	for _, c := range clients {
		c := c
		if c.shouldEvict() {
			p.log.Warnf("relay: evicting %s after sustained unhealthiness", c.SeedURL)
			_ = c.close()
			continue
		}
		kept = append(kept, c)
		p.invoker.Spawn(func() {
			c.healthCheck(5 * time.Second)
			if p.gauges != nil {
				p.gauges.WithLabelValues(c.SeedURL).Set(c.Score())
			}
			if p.rttHist != nil {
				p.rttHist.Observe(c.rtt.Seconds())
			}
		})
	}

	p.mu.Lock()
	p.clients = kept
	p.mu.Unlock()

	if p.cfg.AutoDiscovery {
		p.maintainMinimum()
	}
}

func (p *Pool) maintainMinimum() {
	p.mu.Lock()
	deficit := p.cfg.Min - len(p.clients)
	seeds := append([]string(nil), p.cfg.Seeds...)
	p.mu.Unlock()
	if deficit <= 0 {
		return
	}
	for _, seed := range seeds {
		if deficit <= 0 {
			break
		}
		if p.hasClient(seed) {
			continue
		}
		p.addRelay(seed)
		deficit--
	}
}

func (p *Pool) hasClient(seedURL string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.clients {
		if c.SeedURL == seedURL {
			return true
		}
	}
	return false
}

// pick selects one relay per Config.Strategy, excluding any seedURL in
// skip.
func (p *Pool) pick(skip map[string]bool) *RelayClient {
	p.mu.Lock()
	defer p.mu.Unlock()

	var candidates []*RelayClient
	for _, c := range p.clients {
		if skip[c.SeedURL] {
			continue
		}
		candidates = append(candidates, c)
	}
	if len(candidates) == 0 {
		return nil
	}

	switch p.cfg.Strategy {
	case LeastConnections:
		sort.Slice(candidates, func(i, j int) bool {
			return candidates[i].Connections() < candidates[j].Connections()
		})
		return candidates[0]
	case Random:
		return candidates[rand.Intn(len(candidates))]
	case HealthBased:
		best := candidates[0]
		bestScore := best.Score()
		for _, c := range candidates[1:] {
			if s := c.Score(); s > bestScore {
				best, bestScore = c, s
			}
		}
		return best
	default: // RoundRobin
		for i := 0; i < len(p.clients); i++ {
			idx := (p.cursor + i) % len(p.clients)
			c := p.clients[idx]
			if skip[c.SeedURL] {
				continue
			}
			if c.GetStatus() == StatusUnhealthy {
				continue
			}
			p.cursor = (idx + 1) % len(p.clients)
			return c
		}
		return candidates[0]
	}
}

// Send picks a relay per the configured strategy and sends msg; on failure
// it bumps that relay's connectionFailures stat (§8 scenario 5) and
// retries once against the next-best relay, propagating a Network error
// if that also fails (§4.9).
func (p *Pool) Send(msg *wire.Message, timeout time.Duration) (*wire.Message, *damerr.HamError) {
	skip := map[string]bool{}
	for attempt := 0; attempt < 2; attempt++ {
		client := p.pick(skip)
		if client == nil {
			return nil, damerr.New(damerr.Network, "relay: no relay available")
		}
		awaiter := client.Send(msg, timeout)
		outcome := awaiter.Wait()
		if outcome.Err == nil {
			return outcome.Message, nil
		}
		client.recordSendFailure()
		skip[client.SeedURL] = true
	}
	return nil, damerr.New(damerr.Network, "relay: send failed against all attempted relays")
}

// Snapshot is a read-only view of one relay's observed health, for
// diagnostics.
type Snapshot struct {
	SeedURL            string
	Status             Status
	Connections        int
	ConnectionFailures int
	RTT                time.Duration
	Score              float64
}

// Snapshots returns the current health of every pooled relay.
func (p *Pool) Snapshots() []Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Snapshot, 0, len(p.clients))
	for _, c := range p.clients {
		out = append(out, Snapshot{
			SeedURL:            c.SeedURL,
			Status:             c.GetStatus(),
			Connections:        c.Connections(),
			ConnectionFailures: c.ConnectionFailures(),
			RTT:                c.rtt,
			Score:              c.Score(),
		})
	}
	return out
}
