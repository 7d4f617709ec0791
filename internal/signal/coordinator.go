// Package signal brokers WebRTC call setup between two live users: offers,
// answers and ICE candidates are routed by target identity through the
// connection registry, independent of message persistence. The relay never
// inspects SDP or candidate payloads.
package signal

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"peerchat/internal/event"
	"peerchat/internal/identity"
	"peerchat/internal/metrics"
	"peerchat/internal/registry"
)

// ErrCallConflict marks a second initiate on an ordered (caller, callee) pair
// whose previous session has not been resolved yet.
var ErrCallConflict = errors.New("call already in progress")

// ErrBadTarget marks an initiate aimed at nobody, or at the caller itself.
var ErrBadTarget = errors.New("invalid call target")

// Coordinator owns every active call session. All mutations go through its
// mutex; outbound frames are delivered after the lock is released.
type Coordinator struct {
	reg         *registry.Registry
	log         zerolog.Logger
	ringTimeout time.Duration

	mu       sync.Mutex
	sessions map[pairKey]*session
}

func NewCoordinator(reg *registry.Registry, log zerolog.Logger, ringTimeout time.Duration) *Coordinator {
	if ringTimeout <= 0 {
		ringTimeout = 30 * time.Second
	}
	return &Coordinator{
		reg:         reg,
		log:         log.With().Str("component", "signal").Logger(),
		ringTimeout: ringTimeout,
		sessions:    make(map[pairKey]*session),
	}
}

// Initiate starts a call from caller to callee. When the callee is offline the
// caller is told immediately and no session is created; that is not an error
// of the relay. A duplicate initiate on the same ordered pair is rejected.
func (c *Coordinator) Initiate(caller identity.Identity, calleeID string, offer json.RawMessage) error {
	if calleeID == "" || calleeID == caller.ID {
		return fmt.Errorf("%w: %q", ErrBadTarget, calleeID)
	}
	key := pairKey{callerID: caller.ID, calleeID: calleeID}

	c.mu.Lock()
	if _, exists := c.sessions[key]; exists {
		c.mu.Unlock()
		return ErrCallConflict
	}

	if !c.reg.IsOnline(calleeID) {
		c.mu.Unlock()
		c.notify(caller.ID, event.MustEncode(event.KindCallEnded, event.CallEnded{
			TargetID: calleeID,
			Reason:   event.ReasonUnavailable,
		}))
		return nil
	}

	s := &session{state: StateRinging}
	gen := s.gen
	s.ringTimer = time.AfterFunc(c.ringTimeout, func() { c.ringExpired(key, gen) })
	c.sessions[key] = s
	c.mu.Unlock()

	metrics.CallsStarted.Inc()
	metrics.CallsActive.Inc()
	c.log.Info().Str("caller", caller.ID).Str("callee", calleeID).Msg("call ringing")

	c.notify(calleeID, event.MustEncode(event.KindCallIncoming, event.CallIncoming{
		CallerID:   caller.ID,
		CallerName: caller.Name,
		Offer:      offer,
	}))
	return nil
}

// Accept answers a ringing call. With no matching Ringing session it is a
// no-op: a late or duplicate answer is tolerated, not surfaced to the client.
func (c *Coordinator) Accept(calleeID, callerID string, answer json.RawMessage) {
	key := pairKey{callerID: callerID, calleeID: calleeID}

	c.mu.Lock()
	s, ok := c.sessions[key]
	if !ok || s.state != StateRinging {
		c.mu.Unlock()
		return
	}
	s.state = StateConnected
	s.gen++
	s.ringTimer.Stop()
	c.mu.Unlock()

	c.log.Info().Str("caller", callerID).Str("callee", calleeID).Msg("call connected")
	c.notify(callerID, event.MustEncode(event.KindCallAccepted, event.CallAccepted{Answer: answer}))
}

// RelayICE forwards a candidate to every connection of the target. Valid while
// a session between the two parties is ringing or connected; anything else,
// including an offline target, is silently dropped. ICE exchange is
// best-effort.
func (c *Coordinator) RelayICE(fromID, toID string, candidate json.RawMessage) {
	c.mu.Lock()
	_, forward := c.sessions[pairKey{callerID: fromID, calleeID: toID}]
	_, backward := c.sessions[pairKey{callerID: toID, calleeID: fromID}]
	c.mu.Unlock()
	if !forward && !backward {
		c.log.Debug().Str("from", fromID).Str("to", toID).Msg("ice outside active call dropped")
		return
	}

	c.notify(toID, event.MustEncode(event.KindCallICE, event.CallICE{
		TargetID:  toID,
		Candidate: candidate,
	}))
}

// Decline rejects an incoming call from callerID. A no-op without a matching
// session.
func (c *Coordinator) Decline(calleeID, callerID string) {
	key := pairKey{callerID: callerID, calleeID: calleeID}

	c.mu.Lock()
	s, ok := c.sessions[key]
	if !ok {
		c.mu.Unlock()
		return
	}
	c.endLocked(key, s)
	c.mu.Unlock()

	metrics.CallsEnded.WithLabelValues(event.ReasonDeclined).Inc()
	c.notify(callerID, event.MustEncode(event.KindCallEnded, event.CallEnded{
		TargetID: calleeID,
		Reason:   event.ReasonDeclined,
	}))
}

// Hangup ends any session between the two parties, whichever side initiated
// it, and tells the other party. A callee hanging up a still-ringing call is
// reported to the caller as a decline. Idempotent: a second hangup finds
// nothing.
func (c *Coordinator) Hangup(partyID, peerID string) {
	c.mu.Lock()
	reason := ""
	for _, key := range []pairKey{{callerID: partyID, calleeID: peerID}, {callerID: peerID, calleeID: partyID}} {
		s, ok := c.sessions[key]
		if !ok {
			continue
		}
		reason = event.ReasonHangup
		if key.callerID == peerID && s.state == StateRinging {
			reason = event.ReasonDeclined
		}
		c.endLocked(key, s)
	}
	c.mu.Unlock()
	if reason == "" {
		return
	}

	metrics.CallsEnded.WithLabelValues(reason).Inc()
	c.notify(peerID, event.MustEncode(event.KindCallEnded, event.CallEnded{
		TargetID: partyID,
		Reason:   reason,
	}))
}

// HandleDisconnect synthesizes a hangup for every session the departed user
// was party to, so the remaining side is never left waiting. Called by the
// gateway when a user's last connection closes; safe to call repeatedly.
func (c *Coordinator) HandleDisconnect(userID string) {
	c.mu.Lock()
	var peers []string
	for key, s := range c.sessions {
		switch userID {
		case key.callerID:
			peers = append(peers, key.calleeID)
			c.endLocked(key, s)
		case key.calleeID:
			peers = append(peers, key.callerID)
			c.endLocked(key, s)
		}
	}
	c.mu.Unlock()

	for _, peerID := range peers {
		metrics.CallsEnded.WithLabelValues(event.ReasonDisconnected).Inc()
		c.log.Info().Str("user", userID).Str("peer", peerID).Msg("call torn down on disconnect")
		c.notify(peerID, event.MustEncode(event.KindCallEnded, event.CallEnded{
			TargetID: userID,
			Reason:   event.ReasonDisconnected,
		}))
	}
}

// ActiveSessions returns how many sessions are ringing or connected.
func (c *Coordinator) ActiveSessions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

// SessionState looks up the session on the ordered (caller, callee) pair.
func (c *Coordinator) SessionState(callerID, calleeID string) (State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[pairKey{callerID: callerID, calleeID: calleeID}]
	if !ok {
		return 0, false
	}
	return s.state, true
}

// ringExpired is the ring-timer callback. The generation check makes a timer
// that raced with accept or teardown a no-op.
func (c *Coordinator) ringExpired(key pairKey, gen uint64) {
	c.mu.Lock()
	s, ok := c.sessions[key]
	if !ok || s.gen != gen || s.state != StateRinging {
		c.mu.Unlock()
		return
	}
	c.endLocked(key, s)
	c.mu.Unlock()

	metrics.CallsEnded.WithLabelValues(event.ReasonTimeout).Inc()
	c.log.Info().Str("caller", key.callerID).Str("callee", key.calleeID).Msg("call timed out ringing")
	c.notify(key.callerID, event.MustEncode(event.KindCallEnded, event.CallEnded{
		TargetID: key.calleeID,
		Reason:   event.ReasonTimeout,
	}))
}

// endLocked removes the session and disarms its timer. Caller holds c.mu.
func (c *Coordinator) endLocked(key pairKey, s *session) {
	s.gen++
	if s.ringTimer != nil {
		s.ringTimer.Stop()
	}
	delete(c.sessions, key)
	metrics.CallsActive.Dec()
}

func (c *Coordinator) notify(userID string, frame []byte) {
	for _, sink := range c.reg.ConnectionsOf(userID) {
		if err := sink.Send(frame); err != nil {
			c.log.Debug().Str("conn", sink.ID()).Err(err).Msg("signal push failed")
		}
	}
}
