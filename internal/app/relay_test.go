package app

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/dkeye/lanlink/internal/core"
	"github.com/dkeye/lanlink/internal/domain"
	"github.com/dkeye/lanlink/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dispatch(t *testing.T, h *testHost, s *Session, typ protocol.Type, payload any) {
	t.Helper()
	m, err := protocol.New(typ, payload)
	require.NoError(t, err)
	h.Dispatch(context.Background(), s, m)
}

func relaySessionsTo(h *testHost, remote domain.HostID) []*Session {
	var out []*Session
	for _, s := range h.Sessions() {
		if s.RemoteID() == remote {
			out = append(out, s)
		}
	}
	return out
}

func TestRelay_NewMemberIntroduced(t *testing.T) {
	a := newTestHost(t, "h1", "Alice")
	b := newTestHost(t, "h2", "Bob")
	c := newTestHost(t, "h3", "Carol")

	connectPair(t, a, b, "ab")
	// Bob announces Carol to Alice once Carol identifies herself.
	connectPair(t, c, b, "cb")

	var atA *Session
	require.Eventually(t, func() bool {
		for _, s := range relaySessionsTo(a, "h3") {
			if s.Relay() {
				atA = s
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	var atC *Session
	require.Eventually(t, func() bool {
		s, ok := c.Session(atA.ID())
		atC = s
		return ok
	}, 2*time.Second, 5*time.Millisecond)
	assert.True(t, atC.Relay())
	assert.Equal(t, "h1", string(atC.RemoteID()))
	assert.Equal(t, "offer-"+string(atA.ID()), c.peers.get(atA.ID()).appliedOffer())

	require.Eventually(t, func() bool {
		return a.peers.get(atA.ID()).appliedAnswer() == "answer-"+string(atA.ID())
	}, 2*time.Second, 5*time.Millisecond)

	// Bob only relays; he never builds a session of his own for the pair.
	assert.Len(t, b.Sessions(), 2)
}

func TestRelay_MemberJoinIdempotent(t *testing.T) {
	a := newTestHost(t, "h1", "Alice")
	b := newTestHost(t, "h2", "Bob")
	sa, _ := connectPair(t, a, b, "ab")

	dispatch(t, a, sa, protocol.TypeMemberJoin, protocol.MemberJoin{ID: "h3"})
	dispatch(t, a, sa, protocol.TypeMemberJoin, protocol.MemberJoin{ID: "h3"})

	assert.Len(t, relaySessionsTo(a, "h3"), 1)
	assert.Len(t, a.Sessions(), 2)
}

func TestRelay_MemberJoinForKnownOrSelfIgnored(t *testing.T) {
	a := newTestHost(t, "h1", "Alice")
	b := newTestHost(t, "h2", "Bob")
	sa, _ := connectPair(t, a, b, "ab")

	dispatch(t, a, sa, protocol.TypeMemberJoin, protocol.MemberJoin{ID: "h1"})
	dispatch(t, a, sa, protocol.TypeMemberJoin, protocol.MemberJoin{ID: "h2"})
	dispatch(t, a, sa, protocol.TypeMemberJoin, protocol.MemberJoin{})

	assert.Len(t, a.Sessions(), 1)
}

func TestRelay_UnroutableOfferDropped(t *testing.T) {
	a := newTestHost(t, "h1", "Alice")
	b := newTestHost(t, "h2", "Bob")
	_, sb := connectPair(t, a, b, "ab")

	before := b.Sessions()
	assert.NotPanics(t, func() {
		dispatch(t, b, sb, protocol.TypeMemberJoinOffer, protocol.MemberJoinOffer{
			From:    "h1",
			To:      "h9",
			Session: "relay-1",
			Offer:   webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"},
		})
		dispatch(t, b, sb, protocol.TypeMemberJoinAnswer, protocol.MemberJoinAnswer{
			From:    "h1",
			To:      "h9",
			Session: "relay-1",
			Answer:  webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"},
		})
	})
	assert.Equal(t, before, b.Sessions())
	_, ok := b.Session("relay-1")
	assert.False(t, ok)
}

func TestRelay_DuplicateOfferDropped(t *testing.T) {
	a := newTestHost(t, "h1", "Alice")
	b := newTestHost(t, "h2", "Bob")
	sa, _ := connectPair(t, a, b, "ab")

	offer := protocol.MemberJoinOffer{
		From:    "h3",
		To:      "h1",
		Session: "relay-1",
		Offer:   webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "first"},
	}
	dispatch(t, a, sa, protocol.TypeMemberJoinOffer, offer)
	offer.Offer.SDP = "second"
	dispatch(t, a, sa, protocol.TypeMemberJoinOffer, offer)

	assert.Equal(t, "first", a.peers.get("relay-1").appliedOffer())
	assert.Len(t, relaySessionsTo(a, "h3"), 1)
}

func TestRelay_SimultaneousOffersTieBreak(t *testing.T) {
	// "h3" > "h1": h3 yields its own attempt and answers h1.
	c := newTestHost(t, "h3", "Carol")
	b := newTestHost(t, "h2", "Bob")
	sc, _ := connectPair(t, c, b, "cb")

	dispatch(t, c, sc, protocol.TypeMemberJoin, protocol.MemberJoin{ID: "h1"})
	pending := relaySessionsTo(c, "h1")
	require.Len(t, pending, 1)

	dispatch(t, c, sc, protocol.TypeMemberJoinOffer, protocol.MemberJoinOffer{
		From:    "h1",
		To:      "h3",
		Session: "from-h1",
		Offer:   webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "o"},
	})
	_, ok := c.Session(pending[0].ID())
	assert.False(t, ok)
	accepted, ok := c.Session("from-h1")
	require.True(t, ok)
	assert.Equal(t, "h1", string(accepted.RemoteID()))

	// "h1" < "h3": h1 keeps its offer and ignores h3's.
	a := newTestHost(t, "h1", "Alice")
	b2 := newTestHost(t, "h2", "Bob")
	sa, _ := connectPair(t, a, b2, "ab")

	dispatch(t, a, sa, protocol.TypeMemberJoin, protocol.MemberJoin{ID: "h3"})
	own := relaySessionsTo(a, "h3")
	require.Len(t, own, 1)

	dispatch(t, a, sa, protocol.TypeMemberJoinOffer, protocol.MemberJoinOffer{
		From:    "h3",
		To:      "h1",
		Session: "from-h3",
		Offer:   webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "o"},
	})
	_, ok = a.Session("from-h3")
	assert.False(t, ok)
	_, ok = a.Session(own[0].ID())
	assert.True(t, ok)
}

func TestRelay_AnswerFromWrongHostIgnored(t *testing.T) {
	a := newTestHost(t, "h1", "Alice")
	b := newTestHost(t, "h2", "Bob")
	sa, _ := connectPair(t, a, b, "ab")

	dispatch(t, a, sa, protocol.TypeMemberJoin, protocol.MemberJoin{ID: "h3"})
	rs := relaySessionsTo(a, "h3")
	require.Len(t, rs, 1)

	dispatch(t, a, sa, protocol.TypeMemberJoinAnswer, protocol.MemberJoinAnswer{
		From:    "h9",
		To:      "h1",
		Session: rs[0].ID(),
		Answer:  webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "bogus"},
	})
	assert.Empty(t, a.peers.get(rs[0].ID()).appliedAnswer())
}

func TestRelay_ForwardsTowardTarget(t *testing.T) {
	a := newTestHost(t, "h1", "Alice")
	b := newTestHost(t, "h2", "Bob")
	c := newTestHost(t, "h3", "Carol")
	_, sba := connectPair(t, a, b, "ab")
	connectPair(t, c, b, "cb")

	raw, err := json.Marshal(protocol.MemberJoinOffer{
		From:    "h8",
		To:      "h3",
		Session: "manual",
		Offer:   webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "manual-offer"},
	})
	require.NoError(t, err)
	b.Dispatch(context.Background(), sba, protocol.Message{Type: protocol.TypeMemberJoinOffer, Payload: raw})

	require.Eventually(t, func() bool {
		p := c.peers.get(core.SessionID("manual"))
		return p != nil && p.appliedOffer() == "manual-offer"
	}, 2*time.Second, 5*time.Millisecond)
	_, ok := b.Session("manual")
	assert.False(t, ok)
}
