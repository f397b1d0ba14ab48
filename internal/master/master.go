// Package master wires the master-side components into
// one running daemon: registration, session liveness, traits, the disk
// queue, the transport listener, constraint/reactor evaluation per model,
// the cluster scheduler, and the event/data stores.
package master

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	apierrors "github.com/sysinspect/sysinspect/api/errors"
	"github.com/sysinspect/sysinspect/api/types"
	"github.com/sysinspect/sysinspect/internal/cluster"
	"github.com/sysinspect/sysinspect/internal/datastore"
	"github.com/sysinspect/sysinspect/internal/eidhub"
	"github.com/sysinspect/sysinspect/internal/eventstore"
	"github.com/sysinspect/sysinspect/internal/handler"
	"github.com/sysinspect/sysinspect/internal/keyreg"
	"github.com/sysinspect/sysinspect/internal/minionreg"
	"github.com/sysinspect/sysinspect/internal/queue"
	"github.com/sysinspect/sysinspect/internal/reactor"
	"github.com/sysinspect/sysinspect/internal/session"
	"github.com/sysinspect/sysinspect/internal/telemetry"
	"github.com/sysinspect/sysinspect/internal/transport"
	"github.com/sysinspect/sysinspect/pkg/dbutil"
	"github.com/sysinspect/sysinspect/pkg/server"
)

const eidHubTTL = 30 * time.Second

// Master binds the disk-persistent registries, the transport listener and
// the per-model reactors into one addressable daemon.
type Master struct {
	lg     *zap.Logger
	embed  server.IEmbedServer
	config Config

	keys      *keyreg.Registry
	sessions  *session.Keeper
	minions   *minionreg.Registry
	q         *queue.Queue
	events    *eventstore.Store
	eventsDB  *dbutil.DB
	blobs     *datastore.Store
	dedup     *eidhub.Hub
	scheduler *cluster.Scheduler
	srv       *transport.Server

	reactors map[string]*reactor.Reactor // keyed by model name
	otlp     *telemetry.Provider

	tasks *taskCounter

	mu        sync.Mutex
	byMinion  map[string]string // minion id -> remote addr
	byAddr    map[string]string // remote addr -> minion id
	heartbeat time.Duration
}

// New opens every on-disk registry/store under cfg.StateDir and builds the
// per-model reactors, without yet binding the transport listener.
func New(cfg Config, lg *zap.Logger) (*Master, error) {
	keys, err := keyreg.Open(filepath.Join(cfg.StateDir, "keys"), lg)
	if err != nil {
		return nil, err
	}

	minions, err := minionreg.Open(filepath.Join(cfg.StateDir, "minions"), lg)
	if err != nil {
		return nil, err
	}

	q, err := queue.Open(filepath.Join(cfg.StateDir, "queue"), lg)
	if err != nil {
		return nil, err
	}

	eventsDB, err := dbutil.OpenDB(&dbutil.Options{Dir: filepath.Join(cfg.StateDir, "events"), Logger: lg})
	if err != nil {
		return nil, apierrors.Wrap(apierrors.CodeStorage, err)
	}
	events := eventstore.New(eventsDB)

	dsOpt, err := cfg.DataStore.Resolve(filepath.Join(cfg.StateDir, "store"))
	if err != nil {
		return nil, apierrors.Wrap(apierrors.CodeConfiguration, err)
	}
	blobs, err := datastore.New(dsOpt)
	if err != nil {
		return nil, err
	}

	ttl, err := cfg.SessionTTLDuration()
	if err != nil {
		return nil, apierrors.Wrap(apierrors.CodeConfiguration, err)
	}
	sessions := session.New(ttl)

	hb, err := cfg.HeartbeatIntervalDuration()
	if err != nil {
		return nil, apierrors.Wrap(apierrors.CodeConfiguration, err)
	}

	m := &Master{
		lg:        lg,
		embed:     server.NewEmbedServer(lg),
		config:    cfg,
		keys:      keys,
		sessions:  sessions,
		minions:   minions,
		q:         q,
		events:    events,
		eventsDB:  eventsDB,
		blobs:     blobs,
		dedup:     eidhub.New(eidHubTTL, lg),
		tasks:     newTaskCounter(),
		byMinion:  make(map[string]string),
		byAddr:    make(map[string]string),
		heartbeat: hb,
		reactors:  make(map[string]*reactor.Reactor),
	}
	m.scheduler = cluster.New(sessions, m.tasks, hostnameResolver{minions})

	if cfg.OTLP.Endpoint != "" {
		proj, projector, err := m.buildTelemetry(cfg.OTLP)
		if err != nil {
			return nil, err
		}
		m.otlp = proj
		m.buildReactors(projector)
	} else {
		m.buildReactors(nil)
	}

	return m, nil
}

func (m *Master) buildTelemetry(opt telemetry.Options) (*telemetry.Provider, *telemetry.Projector, error) {
	provider, err := telemetry.NewProvider(context.Background(), opt)
	if err != nil {
		return nil, nil, apierrors.Wrap(apierrors.CodeInternal, err)
	}
	return provider, telemetry.New(m.lg, provider), nil
}

func (m *Master) buildReactors(proj *telemetry.Projector) {
	for name, files := range m.config.Models {
		constraints, err := loadConstraints(files.ConstraintsFile)
		if err != nil {
			m.lg.Error("model constraints not loaded", zap.String("model", name), zap.Error(err))
			continue
		}
		ruleFiles, err := loadRules(files.RulesFile)
		if err != nil {
			m.lg.Error("model rules not loaded", zap.String("model", name), zap.Error(err))
			continue
		}

		var rules []reactor.Rule
		for _, rf := range ruleFiles {
			pattern, ok := types.ParseEventIdPattern(rf.Pattern)
			if !ok {
				m.lg.Warn("skipping malformed event id pattern", zap.String("model", name), zap.String("pattern", rf.Pattern))
				continue
			}
			rules = append(rules, reactor.Rule{Pattern: pattern, Handlers: rf.Handlers, Cfg: rf.Cfg})
		}

		handlers := []reactor.Handler{
			handler.NewOutcomeLogger(m.lg),
			handler.NewPipeScript(m.lg),
			handler.NewPipeline(m.lg, m.q),
		}

		var model *reactor.ModelSelector
		if proj != nil {
			handlers = append(handlers, handler.NewOTLP(m.lg, proj, m.traitsOf))

			selectors, err := loadSelectors(files.SelectorsFile)
			if err != nil {
				m.lg.Error("model telemetry selectors not loaded", zap.String("model", name), zap.Error(err))
			}
			var modelLevel []types.EventSelector
			for _, sel := range selectors {
				if sel.IsModelEvent() {
					modelLevel = append(modelLevel, sel)
				}
			}
			if len(modelLevel) > 0 {
				model = &reactor.ModelSelector{Flush: m.flushTelemetryBuffer(proj, modelLevel)}
			}
		}

		m.reactors[name] = reactor.New(m.lg, constraints, rules, handlers, model)
	}
}

// flushTelemetryBuffer returns a ModelSelector.Flush callback that runs every
// model-level selector over a cycle's buffered events, projecting each event
// with its own producing minion's traits.
func (m *Master) flushTelemetryBuffer(proj *telemetry.Projector, selectors []types.EventSelector) func(string, []reactor.BufferedEvent) {
	return func(cid string, buffered []reactor.BufferedEvent) {
		for _, sel := range selectors {
			byMinion := make(map[string][]types.ResultPayload)
			for _, be := range buffered {
				byMinion[be.MinionID] = append(byMinion[be.MinionID], be.Payload)
			}
			for minionID, payloads := range byMinion {
				n := proj.ProjectBuffered(context.Background(), sel, m.traitsOf(minionID), payloads)
				if n > 0 {
					m.lg.Debug("telemetry buffer flushed", zap.String("cid", cid), zap.String("minion_id", minionID), zap.Int("emitted", n))
				}
			}
		}
	}
}

func (m *Master) traitsOf(minionID string) map[string]any {
	rec, err := m.minions.Get(minionID)
	if err != nil {
		return nil
	}
	return rec.Traits
}

// hostnameResolver adapts minionreg.Registry to cluster.HostnameResolver:
// a virtual-minion query matches a physical minion if its known system
// hostname (or fqdn) satisfies the glob.
type hostnameResolver struct {
	minions *minionreg.Registry
}

func (h hostnameResolver) MatchesQuery(minionID, query string) bool {
	rec, err := h.minions.Get(minionID)
	if err != nil {
		return false
	}
	for _, candidate := range hostnamesOf(rec.Traits) {
		if cluster.MatchesGlob(query, candidate) {
			return true
		}
	}
	return false
}

func hostnamesOf(traits map[string]any) []string {
	system, ok := traits["system"].(map[string]any)
	if !ok {
		return nil
	}
	var out []string
	switch h := system["hostname"].(type) {
	case string:
		out = append(out, h)
	case map[string]any:
		if fqdn, ok := h["fqdn"].(string); ok {
			out = append(out, fqdn)
		}
	}
	return out
}

// taskCounter tracks in-flight dispatches per minion id. Incremented when a
// Command is sent, decremented on the matching Response.
type taskCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func newTaskCounter() *taskCounter { return &taskCounter{counts: make(map[string]int)} }

func (t *taskCounter) TaskCount(minionID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[minionID]
}

func (t *taskCounter) inc(minionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts[minionID]++
}

func (t *taskCounter) dec(minionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.counts[minionID] > 0 {
		t.counts[minionID]--
	}
}

// Serve binds the transport listener and starts the heartbeat broadcast
// and queue runner loops. Blocks until Shutdown is called.
func (m *Master) Serve() error {
	srv, err := transport.NewServer(m.config.Listen, m.lg, m.handleMessage)
	if err != nil {
		return fmt.Errorf("bind transport listener: %w", err)
	}
	m.srv = srv

	m.embed.Destroy(func() {})
	m.embed.GoAttach(func() { m.srv.Serve() })
	m.embed.GoAttach(func() {
		<-m.embed.StoppingNotify()
		_ = m.srv.Shutdown(context.Background())
	})
	m.embed.GoAttach(m.heartbeatLoop)
	m.embed.GoAttach(func() {
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			<-m.embed.StoppingNotify()
			cancel()
		}()
		m.q.StartAck(ctx, m.runQueuedCommand)
	})

	<-m.embed.StopNotify()
	return nil
}

// heartbeatLoop broadcasts a Ping to every connected minion every
// m.heartbeat (5s by default).
func (m *Master) heartbeatLoop() {
	ticker := time.NewTicker(m.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-m.embed.StoppingNotify():
			return
		case <-ticker.C:
			m.srv.Broadcast(types.MasterMessage{
				Target:  types.MinionTarget{Hostnames: []string{"*"}},
				Request: types.RequestPing,
				Payload: types.PingGeneral,
			})
		}
	}
}

// runQueuedCommand re-broadcasts a dequeued MasterCommand work item. A
// message addressed to one resolved minion id counts against that minion's
// task load until its Response arrives.
func (m *Master) runQueuedCommand(_ uint64, item types.WorkItem) error {
	if item.Kind != types.WorkItemMasterCommand {
		return nil
	}
	if id := item.MasterCommand.Target.ID; id != "" {
		m.tasks.inc(id)
	}
	m.srv.Broadcast(item.MasterCommand)
	return nil
}

// Shutdown stops accepting connections, cancels every tracked goroutine and
// releases the underlying stores.
func (m *Master) Shutdown(ctx context.Context) error {
	if err := m.embed.Shutdown(ctx); err != nil {
		return err
	}
	if m.otlp != nil {
		_ = m.otlp.Shutdown(ctx)
	}
	if err := m.q.Close(); err != nil {
		m.lg.Warn("queue close failed", zap.Error(err))
	}
	if err := m.eventsDB.Close(); err != nil {
		m.lg.Warn("event store close failed", zap.Error(err))
	}
	if err := m.minions.Close(); err != nil {
		m.lg.Warn("minion registry close failed", zap.Error(err))
	}
	if err := m.keys.Close(); err != nil {
		m.lg.Warn("key registry close failed", zap.Error(err))
	}
	return nil
}
