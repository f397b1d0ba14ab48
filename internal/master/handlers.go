package master

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/sysinspect/sysinspect/api/types"
	"github.com/sysinspect/sysinspect/internal/cluster"
)

// handleMessage is transport.MessageHandler: it is invoked once per decoded
// MinionMessage, dispatching on its RequestKind.
func (m *Master) handleMessage(remoteAddr string, msg types.MinionMessage) {
	switch msg.Request {
	case types.RequestAdd:
		m.onAdd(remoteAddr, msg)
	case types.RequestEhlo:
		m.onEhlo(remoteAddr, msg)
	case types.RequestTraits:
		m.onTraits(remoteAddr, msg)
	case types.RequestResponse:
		m.onResponse(remoteAddr, msg)
	case types.RequestPong:
		m.onPong(remoteAddr, msg)
	case types.RequestBye:
		m.onBye(remoteAddr, msg)
	case types.RequestModelEvent:
		m.onModelEvent(remoteAddr, msg)
	default:
		m.lg.Warn("unhandled request kind", zap.String("request", string(msg.Request)), zap.String("remote", remoteAddr))
	}
}

// onAdd accepts a first-contact minion's public key. The minion terminates
// after receiving the Reconnect acknowledgement and restarts
// administratively, so no session is created here.
func (m *Master) onAdd(remoteAddr string, msg types.MinionMessage) {
	pem, _ := msg.Data.(string)
	if pem == "" {
		m.lg.Warn("add request with no public key payload", zap.String("remote", remoteAddr))
		return
	}
	if err := m.keys.Register(msg.ID, remoteAddr, []byte(pem)); err != nil {
		m.lg.Warn("minion registration rejected", zap.String("minion_id", msg.ID), zap.Error(err))
		m.srv.Send(remoteAddr, types.MasterMessage{
			Request: types.RequestCommand,
			Retcode: 4, // AlreadyRegistered
		})
		return
	}
	m.srv.Send(remoteAddr, types.MasterMessage{
		Request: types.RequestReconnect,
		Payload: "accepted",
	})
}

// onEhlo processes a minion's per-connection hello: unknown key, duplicate
// session, or an accepted hello that asks for a traits resync.
func (m *Master) onEhlo(remoteAddr string, msg types.MinionMessage) {
	registered, err := m.keys.IsRegistered(msg.ID)
	if err != nil {
		m.lg.Error("key lookup failed during ehlo", zap.String("minion_id", msg.ID), zap.Error(err))
		return
	}
	if !registered {
		m.srv.Send(remoteAddr, types.MasterMessage{Request: types.RequestAgentUnknown})
		return
	}

	if m.sessions.Alive(msg.ID) {
		m.srv.Send(remoteAddr, types.MasterMessage{
			Request: types.RequestCommand,
			Payload: types.CommandAlreadyConnected,
		})
		return
	}

	m.sessions.Ping(msg.ID, msg.SessionID)
	m.bind(remoteAddr, msg.ID)
	m.srv.Send(remoteAddr, types.MasterMessage{Request: types.RequestTraits})
}

// onTraits refreshes the Minion Registry with a freshly synced traits
// snapshot.
func (m *Master) onTraits(_ string, msg types.MinionMessage) {
	traits, ok := msg.Data.(map[string]any)
	if !ok {
		m.lg.Warn("traits payload not a map", zap.String("minion_id", msg.ID))
		return
	}
	if err := m.minions.Refresh(msg.ID, traits); err != nil {
		m.lg.Error("minion traits refresh failed", zap.String("minion_id", msg.ID), zap.Error(err))
	}
}

// onPong refreshes the minion's liveness and records its heartbeat-piggyback
// pulse metrics with the Cluster Scheduler.
func (m *Master) onPong(_ string, msg types.MinionMessage) {
	m.sessions.Ping(msg.ID, msg.SessionID)

	var pulse cluster.Pulse
	if err := decodeInto(msg.Data, &pulse); err == nil {
		m.scheduler.UpdatePulse(msg.ID, pulse)
	}
}

// onBye removes the minion's session and drops its connection.
func (m *Master) onBye(remoteAddr string, msg types.MinionMessage) {
	m.sessions.Remove(msg.ID)
	m.unbind(remoteAddr, msg.ID)
	m.srv.Send(remoteAddr, types.MasterMessage{Request: types.RequestByeAck})
	m.srv.Drop(remoteAddr)
}

// onResponse records the result in the Event Store, dedups it against an
// already in-flight action chain, and hands it to the model's reactor.
func (m *Master) onResponse(_ string, msg types.MinionMessage) {
	var payload types.ResultPayload
	if err := decodeInto(msg.Data, &payload); err != nil {
		m.lg.Warn("response payload could not be decoded", zap.String("minion_id", msg.ID), zap.Error(err))
		return
	}
	m.tasks.dec(msg.ID)

	cid := payload.CID
	if cid == "" {
		cid = "$"
	}
	if _, err := m.events.OpenSession(m.modelFor(payload), cid, time.Now()); err != nil {
		m.lg.Error("event store session open failed", zap.String("cid", cid), zap.Error(err))
	}
	if err := m.events.EnsureMinion(cid, msg.ID, m.traitsOf(msg.ID)); err != nil {
		m.lg.Error("event store minion record failed", zap.String("cid", cid), zap.Error(err))
	}
	event := types.EventData{
		"eid": payload.EID, "aid": payload.AID, "sid": payload.SID, "cid": payload.CID,
		"response": payload.Response,
	}
	if err := m.events.AppendEvent(cid, msg.ID, event); err != nil {
		m.lg.Error("event store append failed", zap.String("cid", cid), zap.Error(err))
	}

	chainID := payload.AID + "|" + payload.EID + "|" + payload.SID
	if !m.dedup.Add(msg.ID, chainID) {
		m.lg.Debug("dropping response for an in-flight action chain", zap.String("chain", chainID))
		return
	}
	defer m.dedup.Drop(msg.ID, chainID)

	rc, ok := m.reactors[m.modelFor(payload)]
	if !ok {
		m.lg.Debug("no reactor configured for model, skipping evaluation", zap.String("model", m.modelFor(payload)))
		return
	}
	rc.React(msg.ID, payload, payload.SID)
}

// onModelEvent is the cycle's ModelEvent terminator: it flushes every
// configured reactor's per-cycle telemetry buffer for the
// named cid. A deployment names one model per state dir today, so every
// reactor is flushed; a multi-model deployment would scope this by the
// cid's owning model instead.
func (m *Master) onModelEvent(_ string, msg types.MinionMessage) {
	cid, _ := msg.Data.(string)
	if cid == "" {
		cid = msg.SessionID
	}
	for _, rc := range m.reactors {
		rc.FlushCycle(cid)
	}
}

// modelFor maps a result back to its owning model. Presently every
// configured model shares one namespace, so the first (only) configured
// model name is used; a multi-model deployment would carry its model name
// on the payload itself.
func (m *Master) modelFor(_ types.ResultPayload) string {
	for name := range m.config.Models {
		return name
	}
	return "default"
}

func (m *Master) bind(remoteAddr, minionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byMinion[minionID] = remoteAddr
	m.byAddr[remoteAddr] = minionID
}

func (m *Master) unbind(remoteAddr, minionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byMinion, minionID)
	delete(m.byAddr, remoteAddr)
}

// decodeInto round-trips v (already generically JSON-decoded, typically a
// map[string]any) through JSON into target, since MinionMessage.Data is
// untyped at the wire layer.
func decodeInto(v any, target any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, target)
}
