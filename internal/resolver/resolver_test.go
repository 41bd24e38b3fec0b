package resolver

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/BrettMayson/mindns-k8s/internal/dnscache"
	"github.com/BrettMayson/mindns-k8s/internal/dnswire"
)

// stubServer is an in-process UDP nameserver bound to an ephemeral port.
// Each received query is answered by the next handler in sequence (or the
// last one, if queries outrun the handler list).
type stubServer struct {
	conn     *net.UDPConn
	queries  int32
	handlers []func(q dnswire.Question) dnswire.Packet
}

func newStubServer(t *testing.T, handlers ...func(q dnswire.Question) dnswire.Packet) *stubServer {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)

	s := &stubServer{conn: conn, handlers: handlers}
	go s.serve()
	return s
}

func (s *stubServer) serve() {
	buf := make([]byte, 512)
	for {
		n, peer, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		req, err := dnswire.ParsePacket(buf[:n])
		if err != nil {
			continue
		}
		idx := int(atomic.AddInt32(&s.queries, 1)) - 1
		if idx >= len(s.handlers) {
			idx = len(s.handlers) - 1
		}
		resp := s.handlers[idx](req.Questions[0])
		resp.Header.ID = req.Header.ID
		wire, err := resp.Marshal()
		if err != nil {
			continue
		}
		_, _ = s.conn.WriteToUDP(wire, peer)
	}
}

func (s *stubServer) close() error { return s.conn.Close() }

// network maps a nameserver's nominal IP (used as the Seed, in glue A
// records, etc.) to the stub actually listening for it, letting tests
// name multiple distinct "servers" even though they all really bind to
// 127.0.0.1 on different ephemeral ports. dialVia returns a dialFunc a
// Resolver can use in place of real port-53 lookups.
type network map[string]*stubServer

func (n network) dialVia(ctx context.Context, server net.IP) (net.Conn, error) {
	stub, ok := n[server.String()]
	if !ok {
		return nil, &net.AddrError{Err: "no stub registered", Addr: server.String()}
	}
	var d net.Dialer
	return d.DialContext(ctx, "udp", stub.conn.LocalAddr().String())
}

func TestResolveDirectAnswer(t *testing.T) {
	seed := net.ParseIP("127.0.0.1")
	stub := newStubServer(t, func(q dnswire.Question) dnswire.Packet {
		return dnswire.Packet{
			Header:    dnswire.Header{Response: true, RCode: dnswire.RCodeNoError},
			Questions: []dnswire.Question{q},
			Answers:   []dnswire.Record{dnswire.NewA(q.Name, net.ParseIP("93.184.216.34"), 300)},
		}
	})
	defer stub.close()
	nw := network{seed.String(): stub}

	r := New(seed, dnscache.New())
	r.dial = nw.dialVia
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := r.Resolve(ctx, "example.com", dnswire.TypeA)
	require.NoError(t, err)
	require.Equal(t, dnswire.RCodeNoError, resp.Header.RCode)
	require.Len(t, resp.Answers, 1)
	require.True(t, resp.Answers[0].IP.Equal(net.ParseIP("93.184.216.34")))
}

func TestResolveCachesAnswers(t *testing.T) {
	seed := net.ParseIP("127.0.0.1")
	stub := newStubServer(t, func(q dnswire.Question) dnswire.Packet {
		return dnswire.Packet{
			Header:    dnswire.Header{Response: true, RCode: dnswire.RCodeNoError},
			Questions: []dnswire.Question{q},
			Answers:   []dnswire.Record{dnswire.NewA(q.Name, net.ParseIP("93.184.216.34"), 300)},
		}
	})
	nw := network{seed.String(): stub}

	cache := dnscache.New()
	r := New(seed, cache)
	r.dial = nw.dialVia
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := r.Resolve(ctx, "example.com", dnswire.TypeA)
	require.NoError(t, err)

	require.NoError(t, stub.close())

	resp, err := r.Resolve(ctx, "example.com", dnswire.TypeA)
	require.NoError(t, err, "second resolve should be served entirely from cache")
	require.Len(t, resp.Answers, 1)
}

func TestResolveNXDomainTerminates(t *testing.T) {
	seed := net.ParseIP("127.0.0.1")
	stub := newStubServer(t, func(q dnswire.Question) dnswire.Packet {
		return dnswire.Packet{
			Header:    dnswire.Header{Response: true, RCode: dnswire.RCodeNXDomain},
			Questions: []dnswire.Question{q},
		}
	})
	defer stub.close()
	nw := network{seed.String(): stub}

	r := New(seed, dnscache.New())
	r.dial = nw.dialVia
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := r.Resolve(ctx, "nosuchdomain.example", dnswire.TypeA)
	require.NoError(t, err)
	require.Equal(t, dnswire.RCodeNXDomain, resp.Header.RCode)
}

func TestResolveFollowsGluedReferral(t *testing.T) {
	rootIP := net.ParseIP("127.0.0.1")
	authIP := net.ParseIP("127.0.0.2")

	auth := newStubServer(t, func(q dnswire.Question) dnswire.Packet {
		return dnswire.Packet{
			Header:    dnswire.Header{Response: true, RCode: dnswire.RCodeNoError},
			Questions: []dnswire.Question{q},
			Answers:   []dnswire.Record{dnswire.NewA(q.Name, net.ParseIP("198.51.100.7"), 300)},
		}
	})
	defer auth.close()

	root := newStubServer(t, func(q dnswire.Question) dnswire.Packet {
		return dnswire.Packet{
			Header:      dnswire.Header{Response: true, RCode: dnswire.RCodeNoError},
			Questions:   []dnswire.Question{q},
			Authorities: []dnswire.Record{dnswire.NewNS(q.Name, "ns1.example.com", 3600)},
			Additionals: []dnswire.Record{dnswire.NewA("ns1.example.com", authIP, 3600)},
		}
	})
	defer root.close()

	nw := network{rootIP.String(): root, authIP.String(): auth}

	r := New(rootIP, dnscache.New())
	r.dial = nw.dialVia
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := r.Resolve(ctx, "foo.example.com", dnswire.TypeA)
	require.NoError(t, err)
	require.Len(t, resp.Answers, 1)
	require.True(t, resp.Answers[0].IP.Equal(net.ParseIP("198.51.100.7")))
}

func TestResolveFollowsUnresolvedReferral(t *testing.T) {
	rootIP := net.ParseIP("127.0.0.1")
	authIP := net.ParseIP("127.0.0.2")

	auth := newStubServer(t, func(q dnswire.Question) dnswire.Packet {
		return dnswire.Packet{
			Header:    dnswire.Header{Response: true, RCode: dnswire.RCodeNoError},
			Questions: []dnswire.Question{q},
			Answers:   []dnswire.Record{dnswire.NewA(q.Name, net.ParseIP("203.0.113.9"), 300)},
		}
	})
	defer auth.close()

	// The root refers to an NS host with no glue. The nested A-type
	// sub-resolution for that host name restarts from the seed (the
	// root, again) and this time gets answered directly with the
	// nameserver's address, letting the outer query proceed.
	root := newStubServer(t,
		func(q dnswire.Question) dnswire.Packet {
			return dnswire.Packet{
				Header:      dnswire.Header{Response: true, RCode: dnswire.RCodeNoError},
				Questions:   []dnswire.Question{q},
				Authorities: []dnswire.Record{dnswire.NewNS(q.Name, "ns1.example.com", 3600)},
			}
		},
		func(q dnswire.Question) dnswire.Packet {
			return dnswire.Packet{
				Header:    dnswire.Header{Response: true, RCode: dnswire.RCodeNoError},
				Questions: []dnswire.Question{q},
				Answers:   []dnswire.Record{dnswire.NewA(q.Name, authIP, 3600)},
			}
		},
	)
	defer root.close()

	nw := network{rootIP.String(): root, authIP.String(): auth}

	r := New(rootIP, dnscache.New())
	r.dial = nw.dialVia
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := r.Resolve(ctx, "foo.example.com", dnswire.TypeA)
	require.NoError(t, err)
	require.Len(t, resp.Answers, 1)
	require.True(t, resp.Answers[0].IP.Equal(net.ParseIP("203.0.113.9")))
}

func TestResolveHopLimitExceeded(t *testing.T) {
	rootIP := net.ParseIP("127.0.0.1")
	stub := newStubServer(t, func(q dnswire.Question) dnswire.Packet {
		// Glued referral pointing back at the same server forever: ns
		// never advances past a usable address, so the loop runs out
		// the hop ceiling without ever taking the unglued-NS branch.
		return dnswire.Packet{
			Header:      dnswire.Header{Response: true, RCode: dnswire.RCodeNoError},
			Questions:   []dnswire.Question{q},
			Authorities: []dnswire.Record{dnswire.NewNS(q.Name, "ns1.example.com", 3600)},
			Additionals: []dnswire.Record{dnswire.NewA("ns1.example.com", rootIP, 3600)},
		}
	})
	defer stub.close()
	nw := network{rootIP.String(): stub}

	r := New(rootIP, dnscache.New())
	r.dial = nw.dialVia
	r.HopLimit = 3
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := r.Resolve(ctx, "loops.example", dnswire.TypeA)
	require.ErrorIs(t, err, ErrHopLimitExceeded)
}

func TestResolveWrapsTransportError(t *testing.T) {
	r := New(net.ParseIP("127.0.0.1"), dnscache.New())
	r.dial = func(ctx context.Context, server net.IP) (net.Conn, error) {
		return nil, net.ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := r.Resolve(ctx, "example.com", dnswire.TypeA)
	require.ErrorIs(t, err, ErrTransport)
}
