package dnswire

import (
	"fmt"
	"net"
)

// Record is a DNS resource record: a tagged variant over the wire types
// this resolver understands (A, AAAA, NS, CNAME, MX) plus a catch-all
// UNKNOWN for anything else, which round-trips as opaque data (spec §3,
// §4.1). Every variant carries the owner Domain and a 32-bit TTL in
// seconds.
type Record struct {
	Domain string
	TTL    uint32
	Type   QueryType // for UNKNOWN, the raw wire type code that didn't match a known QueryType

	IP net.IP // A, AAAA

	Host string // NS, CNAME: target host; MX: mail exchange host

	Priority uint16 // MX only

	RawData []byte // UNKNOWN only: opaque RDATA, preserved verbatim
}

// NewA builds an A record.
func NewA(domain string, ip net.IP, ttl uint32) Record {
	return Record{Domain: domain, Type: TypeA, IP: ip.To4(), TTL: ttl}
}

// NewAAAA builds an AAAA record.
func NewAAAA(domain string, ip net.IP, ttl uint32) Record {
	return Record{Domain: domain, Type: TypeAAAA, IP: ip.To16(), TTL: ttl}
}

// NewNS builds an NS record.
func NewNS(domain, host string, ttl uint32) Record {
	return Record{Domain: domain, Type: TypeNS, Host: host, TTL: ttl}
}

// NewCNAME builds a CNAME record.
func NewCNAME(domain, host string, ttl uint32) Record {
	return Record{Domain: domain, Type: TypeCNAME, Host: host, TTL: ttl}
}

// NewMX builds an MX record.
func NewMX(domain string, priority uint16, host string, ttl uint32) Record {
	return Record{Domain: domain, Type: TypeMX, Priority: priority, Host: host, TTL: ttl}
}

// DataLen returns the RDLENGTH this record would serialize with.
func (r Record) DataLen() (int, error) {
	rdata, err := r.marshalRData()
	if err != nil {
		return 0, err
	}
	return len(rdata), nil
}

// Write serializes r to buf: name, type, class, ttl, rdlength, rdata.
func (r Record) Write(buf *Buffer) error {
	if err := buf.WriteQName(r.Domain); err != nil {
		return err
	}
	if err := buf.WriteU16(uint16(r.Type)); err != nil {
		return err
	}
	if err := buf.WriteU16(ClassIN); err != nil {
		return err
	}
	if err := buf.WriteU32(r.TTL); err != nil {
		return err
	}

	rdata, err := r.marshalRData()
	if err != nil {
		return err
	}
	if err := buf.WriteU16(uint16(len(rdata))); err != nil {
		return err
	}
	return buf.WriteBytes(rdata)
}

func (r Record) marshalRData() ([]byte, error) {
	switch r.Type {
	case TypeA:
		ip := r.IP.To4()
		if ip == nil {
			return nil, fmt.Errorf("A record %q: not an IPv4 address: %w", r.Domain, ErrMalformedPacket)
		}
		return []byte(ip), nil
	case TypeAAAA:
		ip := r.IP.To16()
		if ip == nil {
			return nil, fmt.Errorf("AAAA record %q: not an IPv6 address: %w", r.Domain, ErrMalformedPacket)
		}
		return []byte(ip), nil
	case TypeNS, TypeCNAME:
		nb := NewBuffer()
		if err := nb.WriteQName(r.Host); err != nil {
			return nil, err
		}
		return nb.Bytes()[:nb.Pos()], nil
	case TypeMX:
		nb := NewBuffer()
		if err := nb.WriteU16(r.Priority); err != nil {
			return nil, err
		}
		if err := nb.WriteQName(r.Host); err != nil {
			return nil, err
		}
		return nb.Bytes()[:nb.Pos()], nil
	default:
		return r.RawData, nil
	}
}

// ReadRecord parses a resource record from buf at the current cursor
// position. Unknown query types are captured as a Record with Type set
// to the raw wire code and RawData holding the skipped RDATA (spec §4.1).
func ReadRecord(buf *Buffer) (Record, error) {
	domain, err := buf.ReadQName()
	if err != nil {
		return Record{}, err
	}
	rawType, err := buf.ReadU16()
	if err != nil {
		return Record{}, err
	}
	if _, err := buf.ReadU16(); err != nil { // class, always IN, not retained
		return Record{}, err
	}
	ttl, err := buf.ReadU32()
	if err != nil {
		return Record{}, err
	}
	rdlen, err := buf.ReadU16()
	if err != nil {
		return Record{}, err
	}

	qtype := QueryType(rawType)
	switch qtype {
	case TypeA:
		data, err := buf.ReadRange(buf.Pos(), int(rdlen))
		if err != nil {
			return Record{}, err
		}
		if err := buf.Step(int(rdlen)); err != nil {
			return Record{}, err
		}
		if len(data) != 4 {
			return Record{}, fmt.Errorf("A record %q: rdlength %d != 4: %w", domain, rdlen, ErrMalformedPacket)
		}
		return Record{Domain: domain, Type: TypeA, IP: net.IP(data), TTL: ttl}, nil

	case TypeAAAA:
		data, err := buf.ReadRange(buf.Pos(), int(rdlen))
		if err != nil {
			return Record{}, err
		}
		if err := buf.Step(int(rdlen)); err != nil {
			return Record{}, err
		}
		if len(data) != 16 {
			return Record{}, fmt.Errorf("AAAA record %q: rdlength %d != 16: %w", domain, rdlen, ErrMalformedPacket)
		}
		return Record{Domain: domain, Type: TypeAAAA, IP: net.IP(data), TTL: ttl}, nil

	case TypeNS, TypeCNAME:
		host, err := buf.ReadQName()
		if err != nil {
			return Record{}, err
		}
		return Record{Domain: domain, Type: qtype, Host: host, TTL: ttl}, nil

	case TypeMX:
		priority, err := buf.ReadU16()
		if err != nil {
			return Record{}, err
		}
		host, err := buf.ReadQName()
		if err != nil {
			return Record{}, err
		}
		return Record{Domain: domain, Type: TypeMX, Priority: priority, Host: host, TTL: ttl}, nil

	default:
		data, err := buf.ReadRange(buf.Pos(), int(rdlen))
		if err != nil {
			return Record{}, err
		}
		if err := buf.Step(int(rdlen)); err != nil {
			return Record{}, err
		}
		return Record{Domain: domain, Type: qtype, TTL: ttl, RawData: data}, nil
	}
}
