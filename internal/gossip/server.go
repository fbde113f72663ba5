package gossip

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	clocks "github.com/vimeo/go-clocks"
	retry "github.com/vimeo/go-retry"

	"github.com/loykin/fleetsup/internal/crypto"
)

// ErrTransportStart is returned by Start when a listener cannot be bound.
var ErrTransportStart = errors.New("gossip: transport start failed")

const (
	DefaultPushInterval = time.Second
	dialTimeout         = 2 * time.Second
	maxDatagram         = 64 << 10
)

type Config struct {
	// SwimListen is the UDP address answering probes.
	SwimListen string
	// GossipListen is the TCP address receiving rumor pushes.
	GossipListen string
	// Peers are gossip addresses pushed to periodically.
	Peers        []string
	Persistent   bool
	RingKey      *crypto.SymKey // nil disables sealing
	PushInterval time.Duration
	Clock        clocks.Clock
}

// Server owns the local rumor stores and exchanges them with peers.
type Server struct {
	cfg   Config
	clock clocks.Clock
	id    string

	Services  *Store[ServiceRumor]
	Elections *Store[ElectionRumor]
	Members   *MemberList

	// dial opens push connections; replaced in tests
	dial func(ctx context.Context, addr string) (net.Conn, error)

	mu     sync.Mutex
	udp    net.PacketConn
	tcp    net.Listener
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer builds a server and records the local member as alive.
func NewServer(cfg Config) *Server {
	if cfg.PushInterval <= 0 {
		cfg.PushInterval = DefaultPushInterval
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clocks.DefaultClock()
	}
	s := &Server{
		cfg:       cfg,
		clock:     clock,
		id:        NewMemberID(),
		Services:  NewStore[ServiceRumor](),
		Elections: NewStore[ElectionRumor](),
		Members:   NewMemberList(),
	}
	d := net.Dialer{Timeout: dialTimeout}
	s.dial = func(ctx context.Context, addr string) (net.Conn, error) {
		return d.DialContext(ctx, "tcp", addr)
	}
	s.Members.Insert(Member{ID: s.id, Persistent: cfg.Persistent}, Alive)
	return s
}

func (s *Server) MemberID() string { return s.id }

// Self returns the local member as currently advertised.
func (s *Server) Self() Member {
	m, _, _ := s.Members.Get(s.id)
	return m
}

// Start binds both listeners and launches the receive and push loops.
// Failing to bind either listener is fatal for the caller.
func (s *Server) Start(ctx context.Context) error {
	udp, err := net.ListenPacket("udp", s.cfg.SwimListen)
	if err != nil {
		return fmt.Errorf("%w: swim %s: %v", ErrTransportStart, s.cfg.SwimListen, err)
	}
	tcp, err := net.Listen("tcp", s.cfg.GossipListen)
	if err != nil {
		_ = udp.Close()
		return fmt.Errorf("%w: gossip %s: %v", ErrTransportStart, s.cfg.GossipListen, err)
	}
	ctx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.udp, s.tcp, s.cancel = udp, tcp, cancel
	s.mu.Unlock()

	self := s.Self()
	self.Incarnation++
	self.Address = hostOf(tcp.Addr())
	self.SwimPort = portOf(udp.LocalAddr())
	self.GossipPort = portOf(tcp.Addr())
	s.Members.Insert(self, Alive)

	slog.Info("Gossip server started", "member", self.ID, "swim", udp.LocalAddr().String(), "gossip", tcp.Addr().String(), "sealed", s.cfg.RingKey != nil)
	s.wg.Add(3)
	go s.serveSwim(ctx, udp)
	go s.serveGossip(ctx, tcp)
	go s.pushLoop(ctx)
	return nil
}

// Stop closes the listeners and waits for the loops to return.
func (s *Server) Stop() {
	s.mu.Lock()
	cancel, udp, tcp := s.cancel, s.udp, s.tcp
	s.cancel, s.udp, s.tcp = nil, nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	_ = udp.Close()
	_ = tcp.Close()
	s.wg.Wait()
}

// SwimAddr and GossipAddr return the bound addresses, or "" before Start.
func (s *Server) SwimAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.udp == nil {
		return ""
	}
	return s.udp.LocalAddr().String()
}

func (s *Server) GossipAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tcp == nil {
		return ""
	}
	return s.tcp.Addr().String()
}

func (s *Server) InsertService(r ServiceRumor) bool   { return s.Services.Insert(r) }
func (s *Server) InsertElection(r ElectionRumor) bool { return s.Elections.Insert(r) }

// Merge applies a received envelope to the local stores.
func (s *Server) Merge(env Envelope) int {
	n := 0
	for _, ms := range env.Members {
		if ms.Member.ID == s.id {
			continue
		}
		if s.Members.Insert(ms.Member, ms.Health) {
			n++
		}
	}
	for _, r := range env.Services {
		if s.Services.Insert(r) {
			n++
		}
	}
	for _, r := range env.Elections {
		if s.Elections.Insert(r) {
			n++
		}
	}
	return n
}

// Envelope snapshots the local state for a push.
func (s *Server) Envelope() Envelope {
	env := Envelope{From: s.id, Services: s.Services.All(), Elections: s.Elections.All()}
	s.Members.WithMembers(func(m Member, h Health) {
		env.Members = append(env.Members, MemberState{Member: m, Health: h})
	})
	return env
}

func (s *Server) serveGossip(ctx context.Context, ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() == nil {
				slog.Error("Gossip accept failed", "error", err)
			}
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer func() { _ = conn.Close() }()
	dec := decMode.NewDecoder(conn)
	for ctx.Err() == nil {
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.PushInterval * 4))
		var f frame
		if err := dec.Decode(&f); err != nil {
			return
		}
		var env Envelope
		if err := open(s.cfg.RingKey, f, &env); err != nil {
			slog.Warn("Dropping gossip envelope", "remote", conn.RemoteAddr().String(), "error", err)
			return
		}
		if n := s.Merge(env); n > 0 {
			slog.Debug("Merged gossip envelope", "from", env.From, "changes", n)
		}
	}
}

func (s *Server) serveSwim(ctx context.Context, pc net.PacketConn) {
	defer s.wg.Done()
	buf := make([]byte, maxDatagram)
	for {
		n, addr, err := pc.ReadFrom(buf)
		if err != nil {
			if ctx.Err() == nil {
				slog.Error("Swim read failed", "error", err)
			}
			return
		}
		f, err := unmarshalFrame(buf[:n])
		if err != nil {
			continue
		}
		var p probe
		if err := open(s.cfg.RingKey, f, &p); err != nil {
			slog.Debug("Dropping swim datagram", "remote", addr.String(), "error", err)
			continue
		}
		if p.From.ID != "" && p.From.ID != s.id {
			s.Members.Insert(p.From, Alive)
		}
		if p.Kind != probePing {
			continue
		}
		out, err := s.encodeProbe(probeAck)
		if err == nil {
			_, _ = pc.WriteTo(out, addr)
		}
	}
}

func (s *Server) encodeProbe(kind probeKind) ([]byte, error) {
	f, err := seal(s.cfg.RingKey, probe{Kind: kind, From: s.Self()})
	if err != nil {
		return nil, err
	}
	return marshalFrame(f)
}

// Ping probes the swim listener at addr and returns the responding member.
func (s *Server) Ping(ctx context.Context, addr string) (Member, error) {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return Member{}, err
	}
	defer func() { _ = conn.Close() }()
	out, err := s.encodeProbe(probePing)
	if err != nil {
		return Member{}, err
	}
	deadline := time.Now().Add(dialTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)
	if _, err := conn.Write(out); err != nil {
		return Member{}, err
	}
	buf := make([]byte, maxDatagram)
	n, err := conn.Read(buf)
	if err != nil {
		return Member{}, err
	}
	f, err := unmarshalFrame(buf[:n])
	if err != nil {
		return Member{}, err
	}
	var p probe
	if err := open(s.cfg.RingKey, f, &p); err != nil {
		return Member{}, err
	}
	if p.Kind != probeAck {
		return Member{}, fmt.Errorf("gossip: unexpected probe kind %d from %s", p.Kind, addr)
	}
	s.Members.Insert(p.From, Alive)
	return p.From, nil
}

// pushLoop sends the full local state to every peer each interval. While
// every push fails the wait grows from the interval up to ten intervals.
func (s *Server) pushLoop(ctx context.Context) {
	defer s.wg.Done()
	if len(s.cfg.Peers) == 0 {
		return
	}
	b := retry.DefaultBackoff()
	b.MinBackoff = s.cfg.PushInterval
	b.MaxBackoff = 10 * s.cfg.PushInterval
	for {
		failed := 0
		for _, peer := range s.cfg.Peers {
			if err := s.PushTo(ctx, peer); err != nil {
				failed++
				slog.Debug("Gossip push failed", "peer", peer, "error", err)
			}
		}
		wait := s.cfg.PushInterval
		if failed == len(s.cfg.Peers) {
			wait = max(wait, b.Next())
		} else {
			b.Reset()
		}
		if !s.clock.SleepFor(ctx, wait) {
			return
		}
	}
}

// PushTo sends one envelope to the gossip listener at addr.
func (s *Server) PushTo(ctx context.Context, addr string) error {
	conn, err := s.dial(ctx, addr)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()
	f, err := seal(s.cfg.RingKey, s.Envelope())
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(dialTimeout))
	return encMode.NewEncoder(conn).Encode(f)
}

func hostOf(a net.Addr) string {
	h, _, err := net.SplitHostPort(a.String())
	if err != nil {
		return a.String()
	}
	return h
}

func portOf(a net.Addr) int {
	switch v := a.(type) {
	case *net.TCPAddr:
		return v.Port
	case *net.UDPAddr:
		return v.Port
	}
	return 0
}
