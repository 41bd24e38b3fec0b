package resolver

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/BrettMayson/mindns-k8s/internal/dnscache"
	"github.com/BrettMayson/mindns-k8s/internal/dnswire"
)

// DefaultHopLimit bounds the iterative referral loop. The source this was
// ported from has no such bound; spec §9 recommends 16.
const DefaultHopLimit = 16

// queryTransactionID is fixed for every outgoing query, matching the
// original implementation: this resolver never has more than one query
// in flight per hop, so there is nothing to disambiguate by id.
const queryTransactionID = 6666

// receiveTimeout bounds each single hop's round trip (spec §4.3).
const receiveTimeout = 5 * time.Second

// dialFunc abstracts opening an ephemeral UDP socket to server:53, so tests
// can substitute an in-process stub nameserver.
type dialFunc func(ctx context.Context, server net.IP) (net.Conn, error)

// Resolver performs iterative recursive resolution starting from Seed,
// sharing Cache across nested NS-resolution recursions (spec §4.3).
type Resolver struct {
	Seed     net.IP
	Cache    *dnscache.Cache
	HopLimit int

	dial dialFunc
}

// New returns a Resolver seeded at seed (conventionally a root or
// upstream nameserver IP), sharing cache across all lookups.
func New(seed net.IP, cache *dnscache.Cache) *Resolver {
	return &Resolver{
		Seed:     seed,
		Cache:    cache,
		HopLimit: DefaultHopLimit,
		dial:     dialUDP,
	}
}

func dialUDP(ctx context.Context, server net.IP) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "udp", net.JoinHostPort(server.String(), "53"))
}

// SetDial overrides how the resolver opens a connection to a nameserver,
// letting callers in other packages' tests substitute an in-process stub
// in place of a real port-53 dial.
func (r *Resolver) SetDial(dial func(ctx context.Context, server net.IP) (net.Conn, error)) {
	r.dial = dial
}

// Resolve answers qname/qtype by iteratively following NS referrals from
// r.Seed, exactly as spec §4.3 describes:
//
//  1. Consult the cache; return immediately on hit.
//  2. Query the current nameserver.
//  3. NOERROR-with-answers or NXDOMAIN terminates the loop.
//  4. Otherwise treat the reply as a referral: prefer glue
//     (ResolvedNS); failing that, recursively resolve the first
//     unglued NS host as type A (restarting from the seed) and adopt
//     its first A record; failing that, return the last referral.
//
// The hop budget is passed down to nested NS sub-resolutions: resolving an
// unglued nameserver's own address starts with the outer loop's remaining
// hops minus one, so each nesting level has a strictly smaller budget and
// a referral cycle through unglued names still terminates in bounded
// stack depth instead of recursing forever. Hops spent inside a nested
// call are not deducted from the outer loop's own count.
func (r *Resolver) Resolve(ctx context.Context, qname string, qtype dnswire.QueryType) (dnswire.Packet, error) {
	hopLimit := r.HopLimit
	if hopLimit <= 0 {
		hopLimit = DefaultHopLimit
	}
	return r.resolve(ctx, qname, qtype, hopLimit)
}

func (r *Resolver) resolve(ctx context.Context, qname string, qtype dnswire.QueryType, hopsLeft int) (dnswire.Packet, error) {
	ns := r.Seed

	for ; hopsLeft > 0; hopsLeft-- {
		resp, err := r.lookup(ctx, qname, qtype, ns)
		if err != nil {
			return dnswire.Packet{}, fmt.Errorf("resolve %s %s via %s: %w", qtype, qname, ns, err)
		}

		if resp.Header.RCode == dnswire.RCodeNoError && len(resp.Answers) > 0 {
			return resp, nil
		}
		if resp.Header.RCode == dnswire.RCodeNXDomain {
			return resp, nil
		}

		if newNS, ok := resp.ResolvedNS(qname); ok {
			ns = newNS
			continue
		}

		newNSName, ok := resp.UnresolvedNS(qname)
		if !ok {
			return resp, nil
		}

		recResp, err := r.resolve(ctx, newNSName, dnswire.TypeA, hopsLeft-1)
		if err != nil {
			return resp, nil
		}
		newNS, ok := recResp.RandomA()
		if !ok {
			return resp, nil
		}
		ns = newNS
	}

	return dnswire.Packet{}, fmt.Errorf("%s %s: %w", qtype, qname, ErrHopLimitExceeded)
}

// lookup checks the cache, then — on miss — sends a single query to
// server and parses its reply, caching it if it carries answers (spec
// §4.2, §4.3).
func (r *Resolver) lookup(ctx context.Context, qname string, qtype dnswire.QueryType, server net.IP) (dnswire.Packet, error) {
	if cached, ok := r.Cache.Get(qname); ok {
		return cached, nil
	}

	req := dnswire.Packet{
		Header: dnswire.Header{
			ID:               queryTransactionID,
			RecursionDesired: true,
		},
		Questions: []dnswire.Question{{Name: qname, Type: qtype, Class: dnswire.ClassIN}},
	}

	reqWire, err := req.Marshal()
	if err != nil {
		return dnswire.Packet{}, fmt.Errorf("marshal query: %w", err)
	}

	conn, err := r.dial(ctx, server)
	if err != nil {
		return dnswire.Packet{}, fmt.Errorf("%w: dial %s: %v", ErrTransport, server, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(receiveTimeout)); err != nil {
		return dnswire.Packet{}, fmt.Errorf("%w: set deadline: %v", ErrTransport, err)
	}

	if _, err := conn.Write(reqWire); err != nil {
		return dnswire.Packet{}, fmt.Errorf("%w: send: %v", ErrTransport, err)
	}

	respBuf := make([]byte, 512)
	n, err := conn.Read(respBuf)
	if err != nil {
		return dnswire.Packet{}, fmt.Errorf("%w: receive: %v", ErrTransport, err)
	}

	resp, err := dnswire.ParsePacket(respBuf[:n])
	if err != nil {
		return dnswire.Packet{}, fmt.Errorf("%w: parse reply: %v", ErrTransport, err)
	}

	if len(resp.Answers) > 0 {
		r.Cache.Set(qname, resp)
	}

	return resp, nil
}
