package lan

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"sync"

	"github.com/dkeye/lanlink/internal/core"
	"github.com/dkeye/lanlink/internal/domain"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/ipv4"
	"golang.org/x/sync/errgroup"
)

var _ core.Discovery = (*Discovery)(nil)

type Options struct {
	// Group is the multicast address; DefaultGroup when empty.
	Group string
	// Interface restricts the group join to one interface by name.
	Interface string
}

// Discovery joins the LAN announcement group, reports every announcement it
// hears and can announce servers itself.
type Discovery struct {
	group *net.UDPAddr
	conn  net.PacketConn
	pc    *ipv4.PacketConn

	mu        sync.RWMutex
	callbacks []func(domain.LanServer)

	cancel context.CancelFunc
	g      *errgroup.Group
}

// Open binds the group port and starts listening until ctx ends or Close
// is called.
func Open(ctx context.Context, opts Options) (*Discovery, error) {
	if opts.Group == "" {
		opts.Group = DefaultGroup
	}
	group, err := net.ResolveUDPAddr("udp4", opts.Group)
	if err != nil {
		return nil, fmt.Errorf("resolve group: %w", err)
	}
	if !group.IP.IsMulticast() {
		return nil, fmt.Errorf("group %s is not multicast", group.IP)
	}

	lc := net.ListenConfig{Control: reuseAddr}
	conn, err := lc.ListenPacket(ctx, "udp4", fmt.Sprintf("0.0.0.0:%d", group.Port))
	if err != nil {
		return nil, fmt.Errorf("listen %d: %w", group.Port, err)
	}
	if group.Port == 0 {
		group.Port = conn.LocalAddr().(*net.UDPAddr).Port
	}

	pc := ipv4.NewPacketConn(conn)
	if err := joinGroup(pc, group, opts.Interface); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := pc.SetMulticastLoopback(true); err != nil {
		log.Warn().Err(err).Str("module", "lan").Msg("multicast loopback")
	}

	ctx, cancel := context.WithCancel(ctx)
	g, ctx := errgroup.WithContext(ctx)
	d := &Discovery{group: group, conn: conn, pc: pc, cancel: cancel, g: g}

	g.Go(func() error { return d.readLoop(ctx) })
	g.Go(func() error {
		<-ctx.Done()
		return conn.Close()
	})

	log.Info().Str("module", "lan").Str("group", group.String()).Msg("listening for lan announcements")
	return d, nil
}

func joinGroup(pc *ipv4.PacketConn, group *net.UDPAddr, name string) error {
	addr := &net.UDPAddr{IP: group.IP}
	if name != "" {
		ifi, err := net.InterfaceByName(name)
		if err != nil {
			return fmt.Errorf("interface %s: %w", name, err)
		}
		if err := pc.JoinGroup(ifi, addr); err != nil {
			return fmt.Errorf("join %s on %s: %w", group.IP, name, err)
		}
		return nil
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return fmt.Errorf("list interfaces: %w", err)
	}
	joined := 0
	for i := range ifaces {
		ifi := &ifaces[i]
		if ifi.Flags&net.FlagUp == 0 || ifi.Flags&net.FlagMulticast == 0 {
			continue
		}
		if err := pc.JoinGroup(ifi, addr); err != nil {
			log.Debug().Err(err).Str("module", "lan").Str("iface", ifi.Name).Msg("join group")
			continue
		}
		joined++
	}
	if joined == 0 {
		// Let the kernel pick the interface.
		if err := pc.JoinGroup(nil, addr); err != nil {
			return fmt.Errorf("join %s: %w", group.IP, err)
		}
	}
	return nil
}

func (d *Discovery) OnDiscover(fn func(domain.LanServer)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.callbacks = append(d.callbacks, fn)
}

func (d *Discovery) Broadcast(motd string, port int) error {
	if _, err := d.pc.WriteTo(FormatAnnouncement(motd, port), nil, d.group); err != nil {
		return fmt.Errorf("announce %d: %w", port, err)
	}
	return nil
}

// Group is the address announcements are sent to.
func (d *Discovery) Group() *net.UDPAddr { return d.group }

func (d *Discovery) readLoop(ctx context.Context) error {
	buf := make([]byte, 1500)
	for {
		n, _, src, err := d.pc.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("read announcement: %w", err)
		}
		server, err := ParseAnnouncement(buf[:n])
		if err != nil {
			log.Debug().Err(err).Str("module", "lan").Str("src", addrString(src)).Msg("dropping datagram")
			continue
		}

		d.mu.RLock()
		callbacks := slices.Clone(d.callbacks)
		d.mu.RUnlock()
		for _, fn := range callbacks {
			fn(server)
		}
	}
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}

// Close stops listening and waits for the read loop.
func (d *Discovery) Close() error {
	d.cancel()
	err := d.g.Wait()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
