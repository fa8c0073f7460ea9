package app

import (
	"context"
	"errors"
	"io"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/lanlink/internal/core"
	"github.com/dkeye/lanlink/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

// msgEnd is one side of an in-memory, message-preserving duplex pipe. Writes
// never block on the reader, like a data channel with a send buffer.
type msgEnd struct {
	in     <-chan []byte
	out    chan<- []byte
	closed chan struct{}
	once   *sync.Once
}

func msgPipe() (*msgEnd, *msgEnd) {
	ab := make(chan []byte, 256)
	ba := make(chan []byte, 256)
	closed := make(chan struct{})
	once := &sync.Once{}
	return &msgEnd{in: ba, out: ab, closed: closed, once: once},
		&msgEnd{in: ab, out: ba, closed: closed, once: once}
}

func (e *msgEnd) Read(p []byte) (int, error) {
	select {
	case b := <-e.in:
		if len(b) > len(p) {
			return 0, io.ErrShortBuffer
		}
		return copy(p, b), nil
	case <-e.closed:
		return 0, io.EOF
	}
}

func (e *msgEnd) Write(p []byte) (int, error) {
	b := append([]byte(nil), p...)
	select {
	case <-e.closed:
		return 0, io.ErrClosedPipe
	default:
	}
	select {
	case e.out <- b:
		return len(p), nil
	case <-e.closed:
		return 0, io.ErrClosedPipe
	}
}

func (e *msgEnd) Close() error {
	e.once.Do(func() { close(e.closed) })
	return nil
}

type fakeChannel struct {
	label    string
	protocol string

	mu     sync.Mutex
	onOpen func(io.ReadWriteCloser)
	closed bool
}

func newFakeChannel(label, protocol string) *fakeChannel {
	return &fakeChannel{label: label, protocol: protocol}
}

func (c *fakeChannel) Label() string    { return c.label }
func (c *fakeChannel) Protocol() string { return c.protocol }

func (c *fakeChannel) OnOpen(fn func(io.ReadWriteCloser)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onOpen = fn
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// open fires the OnOpen callback registered by the session.
func (c *fakeChannel) open(t *testing.T, rwc io.ReadWriteCloser) {
	t.Helper()
	c.mu.Lock()
	fn := c.onOpen
	c.mu.Unlock()
	require.NotNil(t, fn, "channel %s has no OnOpen callback", c.label)
	fn(rwc)
}

// fakePeer records what a session asks of its peer connection.
type fakePeer struct {
	sid core.SessionID

	mu           sync.Mutex
	local        *webrtc.SessionDescription
	remoteOffer  string
	remoteAnswer string
	channels     []*fakeChannel
	closed       bool
	gatherDone   chan struct{}
	// offerErr makes CreateOffer fail while set.
	offerErr error

	onDataChannel func(core.DataChannel)
	onLocal       func(webrtc.SessionDescription)
	onConn        func(webrtc.PeerConnectionState)
	onSig         func(webrtc.SignalingState)
	onGather      func(webrtc.ICEGatheringState)
}

func newFakePeer(sid core.SessionID) *fakePeer {
	done := make(chan struct{})
	close(done)
	return &fakePeer{sid: sid, gatherDone: done}
}

func (p *fakePeer) Start(context.Context) error { return nil }

func (p *fakePeer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePeer) CreateOffer() (*webrtc.SessionDescription, error) {
	sd := &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer-" + string(p.sid)}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.offerErr != nil {
		return nil, p.offerErr
	}
	p.local = sd
	return sd, nil
}

func (p *fakePeer) failOffers(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.offerErr = err
}

func (p *fakePeer) ApplyOfferAndCreateAnswer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if offer.SDP == "" {
		return nil, errors.New("sdp: empty description")
	}
	sd := &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-" + string(p.sid)}
	p.mu.Lock()
	p.remoteOffer = offer.SDP
	p.local = sd
	p.mu.Unlock()
	return sd, nil
}

func (p *fakePeer) ApplyAnswer(answer webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remoteAnswer = answer.SDP
	return nil
}

func (p *fakePeer) appliedOffer() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remoteOffer
}

func (p *fakePeer) appliedAnswer() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remoteAnswer
}

func (p *fakePeer) LocalDescription() *webrtc.SessionDescription {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.local
}

func (p *fakePeer) WaitGathering(ctx context.Context) error {
	select {
	case <-p.gatherDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *fakePeer) CreateDataChannel(label, protocol string) (core.DataChannel, error) {
	ch := newFakeChannel(label, protocol)
	p.mu.Lock()
	p.channels = append(p.channels, ch)
	p.mu.Unlock()
	return ch, nil
}

// channel returns the first locally created channel with label.
func (p *fakePeer) channel(label string) *fakeChannel {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ch := range p.channels {
		if ch.label == label {
			return ch
		}
	}
	return nil
}

func (p *fakePeer) fireDataChannel(ch *fakeChannel) { p.onDataChannel(ch) }

func (p *fakePeer) fireConnectionState(s webrtc.PeerConnectionState) { p.onConn(s) }

func (p *fakePeer) OnDataChannel(fn func(core.DataChannel))               { p.onDataChannel = fn }
func (p *fakePeer) OnLocalDescription(fn func(webrtc.SessionDescription)) { p.onLocal = fn }
func (p *fakePeer) OnConnectionState(fn func(webrtc.PeerConnectionState)) { p.onConn = fn }
func (p *fakePeer) OnSignalingState(fn func(webrtc.SignalingState))       { p.onSig = fn }
func (p *fakePeer) OnICEGatheringState(fn func(webrtc.ICEGatheringState)) { p.onGather = fn }

type peerBook struct {
	mu    sync.Mutex
	peers map[core.SessionID]*fakePeer
}

func (b *peerBook) factory(sid core.SessionID) (core.PeerConnection, error) {
	p := newFakePeer(sid)
	b.mu.Lock()
	b.peers[sid] = p
	b.mu.Unlock()
	return p, nil
}

func (b *peerBook) get(sid core.SessionID) *fakePeer {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.peers[sid]
}

type fakeDiscovery struct {
	mu        sync.Mutex
	callbacks []func(domain.LanServer)
	announced []domain.LanServer
}

func (d *fakeDiscovery) OnDiscover(fn func(domain.LanServer)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.callbacks = append(d.callbacks, fn)
}

func (d *fakeDiscovery) Broadcast(motd string, port int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.announced = append(d.announced, domain.LanServer{Motd: motd, Port: port})
	return nil
}

func (d *fakeDiscovery) discover(server domain.LanServer) {
	d.mu.Lock()
	cbs := slices.Clone(d.callbacks)
	d.mu.Unlock()
	for _, fn := range cbs {
		fn(server)
	}
}

func (d *fakeDiscovery) broadcasts() []domain.LanServer {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]domain.LanServer(nil), d.announced...)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []core.Event
}

func (n *recordingNotifier) Notify(ev core.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *recordingNotifier) ofKind(kind core.EventKind) []core.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []core.Event
	for _, ev := range n.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

type testHost struct {
	*Host
	peers     *peerBook
	discovery *fakeDiscovery
	events    *recordingNotifier
}

func newTestHost(t *testing.T, id domain.HostID, name string) *testHost {
	t.Helper()
	th := &testHost{
		peers:     &peerBook{peers: make(map[core.SessionID]*fakePeer)},
		discovery: &fakeDiscovery{},
		events:    &recordingNotifier{},
	}
	th.Host = NewHost(context.Background(), Options{
		ID:        id,
		Identity:  domain.Identity{Name: name},
		Peers:     th.peers.factory,
		Discovery: th.discovery,
		Notifier:  th.events,
		Gather:    NewGatherPolicy(GatherComplete, time.Second),
		ProxyHost: "127.0.0.1",
		DialHost:  "127.0.0.1",
	})
	t.Cleanup(th.Close)
	return th
}

// connectPair links a fresh session on a with one on b through an in-memory
// metadata channel and waits for both identities to land.
func connectPair(t *testing.T, a, b *testHost, sid core.SessionID) (*Session, *Session) {
	t.Helper()
	sa, sb, _ := connectPairRaw(t, a, b, sid)
	return sa, sb
}

// connectPairRaw is connectPair that also returns a's end of the metadata pipe.
func connectPairRaw(t *testing.T, a, b *testHost, sid core.SessionID) (*Session, *Session, *msgEnd) {
	t.Helper()
	sa, err := a.Create(sid)
	require.NoError(t, err)
	_, err = sa.Initiate()
	require.NoError(t, err)

	sb, err := b.CreateAnswerer(sid, "")
	require.NoError(t, err)

	inbound := newFakeChannel(metadataLabel, ProtocolMetadata)
	b.peers.get(sid).fireDataChannel(inbound)

	left, right := msgPipe()
	a.peers.get(sid).channel(metadataLabel).open(t, left)
	inbound.open(t, right)

	require.Eventually(t, func() bool {
		return sa.RemoteID() == b.ID() && sb.RemoteID() == a.ID()
	}, 2*time.Second, 5*time.Millisecond)
	return sa, sb, left
}
