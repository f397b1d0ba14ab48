// Package minion implements the minion side of the transport protocol:
// the registration handshake, the per-connection Ehlo, and the
// reaction table to every MasterMessage kind the master may send. The
// length-framed wire itself lives in internal/transport; this package owns
// the domain state machine built on top of transport.Client.
package minion

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sysinspect/sysinspect/api/types"
	"github.com/sysinspect/sysinspect/internal/dispatch"
	"github.com/sysinspect/sysinspect/internal/transport"
	"github.com/sysinspect/sysinspect/pkg/cfgutil"
	"github.com/sysinspect/sysinspect/pkg/fsutil"
	"github.com/sysinspect/sysinspect/pkg/pemutil"
)

// ErrAdministrativeExit is returned by Run when the master told the minion
// to exit for a reason an operator must resolve: an unknown key, a
// duplicate session, or the post-registration Reconnect acknowledgement:
// the registration handshake requires the minion to be restarted with a
// valid shared key by an operator.
var ErrAdministrativeExit = errors.New("minion: administrative exit requested by master")

// ErrReconnectRequested is returned by Run when the master broadcasts a
// general Reconnect: the outer supervisor redials after a delay taken from
// the configured reconnect-interval. The minion configuration has no
// reconnect on/off switch and no reconnect-frequency setting.
var ErrReconnectRequested = errors.New("minion: reconnect requested by master")

// Runtime executes one dispatched Command locally. The module runtimes
// (Lua/WASM/Python) are external collaborators; only this execution
// contract is specified here.
type Runtime interface {
	Execute(ctx context.Context, msg types.MasterMessage) (types.ActionResponse, error)
}

// TraitsFunc returns the minion's current traits snapshot, reported on
// Traits requests and used for local self-filtering.
type TraitsFunc func() map[string]any

// PulseFunc returns the minion's current heartbeat-piggyback metrics,
// attached to every Pong reply for the master's Cluster Scheduler.
// A nil PulseFunc reports the zero Pulse.
type PulseFunc func() types.Pulse

// Minion is one running agent instance: identity, transport client,
// runtime dispatch and the reaction state machine.
type Minion struct {
	id      string
	lg      *zap.Logger
	client  *transport.Client
	runtime Runtime
	traits  TraitsFunc
	pulse   PulseFunc

	pair           *pemutil.RsaPair
	registeredPath string
}

// Options configures one Minion instance.
type Options struct {
	ID                string
	StateDir          string
	Addr              string
	ReconnectInterval cfgutil.ReconnectInterval // zero value uses the transport's default
	Runtime           Runtime
	Traits            TraitsFunc
	Pulse             PulseFunc
	Logger            *zap.Logger
}

// Open loads (or bootstraps) the minion's own RSA keypair under
// opt.StateDir and returns a ready-to-run Minion.
func Open(opt Options) (*Minion, error) {
	if err := fsutil.LoadDir(opt.StateDir); err != nil {
		return nil, err
	}
	pair, err := loadOrGenerateKeyPair(opt.StateDir, opt.Logger)
	if err != nil {
		return nil, err
	}

	var client *transport.Client
	if (opt.ReconnectInterval != cfgutil.ReconnectInterval{}) {
		client = transport.NewClientWithInterval(opt.Addr, opt.Logger, opt.ReconnectInterval)
	} else {
		client = transport.NewClient(opt.Addr, opt.Logger)
	}

	return &Minion{
		id:             opt.ID,
		lg:             opt.Logger,
		client:         client,
		runtime:        opt.Runtime,
		traits:         opt.Traits,
		pulse:          opt.Pulse,
		pair:           pair,
		registeredPath: filepath.Join(opt.StateDir, "registered"),
	}, nil
}

func loadOrGenerateKeyPair(stateDir string, lg *zap.Logger) (*pemutil.RsaPair, error) {
	pemPath := filepath.Join(stateDir, "minion.pem")
	pubPath := filepath.Join(stateDir, "minion.pub")

	if fsutil.FileExists(pemPath) && fsutil.FileExists(pubPath) {
		priv, err := fsutil.Cat(pemPath)
		if err != nil {
			return nil, err
		}
		pub, err := fsutil.Cat(pubPath)
		if err != nil {
			return nil, err
		}
		pair := &pemutil.RsaPair{Private: priv, Public: pub}
		if err := pair.Validate(); err != nil {
			return nil, err
		}
		return pair, nil
	}

	lg.Info("generating minion rsa pair", zap.String("private", pemPath))
	pair, err := pemutil.GenerateRSA(2048, "SYSINSPECT")
	if err != nil {
		return nil, err
	}
	if err := fsutil.AtomicWrite(pemPath, pair.Private, 0600); err != nil {
		return nil, err
	}
	if err := fsutil.AtomicWrite(pubPath, pair.Public, 0600); err != nil {
		return nil, err
	}
	return pair, nil
}

// registered reports whether this minion has already completed the Add
// handshake (a shared key is already known).
func (m *Minion) registered() bool { return fsutil.FileExists(m.registeredPath) }

func (m *Minion) markRegistered() error {
	return fsutil.AtomicWrite(m.registeredPath, []byte(time.Now().UTC().Format(time.RFC3339)), 0644)
}

// Run connects to the master and drives the reaction loop until ctx
// is cancelled or the master asks the minion to exit. A non-nil, non-ctx
// error is either ErrAdministrativeExit (operator must resolve: missing
// key, duplicate session) or ErrReconnectRequested (the caller should
// redial after its configured reconnect interval).
func (m *Minion) Run(ctx context.Context) error {
	clientCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.client.Run(clientCtx)
	}()
	defer func() { cancel(); <-done }()

	sessionID := uuid.NewString()
	helloSent := false

	for {
		if !helloSent && m.client.Connected() {
			if err := m.sayHello(sessionID); err != nil {
				return err
			}
			helloSent = true
		}

		ev, err := m.client.Recv(ctx)
		if err != nil {
			return err
		}
		if ev.Err != nil {
			// Connection dropped; once reconnected, say hello again.
			helloSent = false
			continue
		}

		action, err := m.react(ctx, ev.Msg, sessionID)
		if err != nil {
			return err
		}
		switch action {
		case actionReconnectAdministrative:
			return ErrAdministrativeExit
		case actionReconnectGeneral:
			return ErrReconnectRequested
		}
	}
}

// sayHello sends the registration Add (first contact) or the per-connection
// Ehlo (already registered).
func (m *Minion) sayHello(sessionID string) error {
	if !m.registered() {
		return m.client.Send(types.MinionMessage{
			ID:      m.id,
			Request: types.RequestAdd,
			Data:    string(m.pair.Public),
		})
	}
	return m.client.Send(types.MinionMessage{
		ID:        m.id,
		SessionID: sessionID,
		Request:   types.RequestEhlo,
	})
}

type reactionAction int

const (
	actionNone reactionAction = iota
	actionReconnectAdministrative
	actionReconnectGeneral
)

// react implements the minion-side control-flow table for one
// decoded MasterMessage.
func (m *Minion) react(ctx context.Context, msg types.MasterMessage, sessionID string) (reactionAction, error) {
	switch msg.Request {
	case types.RequestAgentUnknown:
		m.lg.Error("master reports this minion's key as unknown, exiting")
		return actionReconnectAdministrative, nil

	case types.RequestReconnect:
		if !m.registered() {
			// Post-Add acceptance: the master has filed our key. Persist
			// the marker and require an operator restart.
			if err := m.markRegistered(); err != nil {
				return actionNone, err
			}
			m.lg.Info("registration accepted by master, restart required")
			return actionReconnectAdministrative, nil
		}
		m.lg.Info("reconnect requested by master")
		return actionReconnectGeneral, nil

	case types.RequestCommand:
		outcome, _ := msg.Payload.(string)
		if types.CommandOutcome(outcome) == types.CommandAlreadyConnected {
			m.lg.Error("master reports this session as already connected, exiting")
			return actionReconnectAdministrative, nil
		}
		m.dispatch(ctx, msg)
		return actionNone, nil

	case types.RequestTraits:
		var snapshot map[string]any
		if m.traits != nil {
			snapshot = m.traits()
		}
		if err := m.client.Send(types.MinionMessage{ID: m.id, SessionID: sessionID, Request: types.RequestTraits, Data: snapshot}); err != nil {
			m.lg.Warn("failed to reply to traits request", zap.Error(err))
		}
		return actionNone, nil

	case types.RequestPing:
		var pulse types.Pulse
		if m.pulse != nil {
			pulse = m.pulse()
		}
		if err := m.client.Send(types.MinionMessage{ID: m.id, SessionID: sessionID, Request: types.RequestPong, Data: pulse}); err != nil {
			m.lg.Warn("failed to reply to ping", zap.Error(err))
		}
		return actionNone, nil

	default:
		m.lg.Debug("ignoring master message", zap.String("request", string(msg.Request)))
		return actionNone, nil
	}
}

// dispatch self-filters msg against the minion's own traits and, if it applies to this minion,
// hands it to the Runtime and reports the result back to the master.
func (m *Minion) dispatch(ctx context.Context, msg types.MasterMessage) {
	var traits map[string]any
	if m.traits != nil {
		traits = m.traits()
	}
	if !dispatch.Accepts(msg.Target, m.id, hostnamesOf(traits), traits) {
		return
	}
	if m.runtime == nil {
		return
	}

	resp, err := m.runtime.Execute(ctx, msg)
	if err != nil {
		resp = types.ActionResponse{Retcode: 1, Message: err.Error()}
	}
	if err := m.client.Send(types.MinionMessage{
		ID:      m.id,
		Request: types.RequestResponse,
		Data: types.ResultPayload{
			CID:      msg.CycleID,
			Response: resp,
		},
		Retcode: resp.Retcode,
	}); err != nil {
		m.lg.Warn("failed to send command response", zap.Error(err))
	}
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
		// system.hostname may itself carry a nested "fqdn" (system.hostname.fqdn
		// lookup key), matching internal/minionreg's ResolveHostnameOrIP path
		// resolution.
		if fq, ok := h["fqdn"].(string); ok {
			out = append(out, fq)
		}
	}
	return out
}
