package dnswire

import (
	"fmt"
	"net"
)

// Packet is a complete DNS message: a header plus the four sections
// (spec §3).
type Packet struct {
	Header      Header
	Questions   []Question
	Answers     []Record
	Authorities []Record
	Additionals []Record
}

// NewPacket returns an empty Packet with a zeroed header.
func NewPacket() Packet {
	return Packet{}
}

// ParsePacket parses a complete wire-format message. A message that ends
// before its header and sections do is rejected with ErrEndOfBuffer rather
// than read on into the buffer's zero padding.
func ParsePacket(msg []byte) (Packet, error) {
	buf := NewBufferFrom(msg)
	p, err := ReadPacket(buf)
	if err != nil {
		return Packet{}, err
	}
	if buf.Pos() > len(msg) {
		return Packet{}, fmt.Errorf("message of %d bytes read to offset %d: %w", len(msg), buf.Pos(), ErrEndOfBuffer)
	}
	return p, nil
}

// ReadPacket parses a complete wire-format message from buf, starting at
// the current cursor position (always 0 for a freshly received datagram).
func ReadPacket(buf *Buffer) (Packet, error) {
	h, err := ReadHeader(buf)
	if err != nil {
		return Packet{}, err
	}

	p := Packet{Header: h}

	p.Questions = make([]Question, 0, h.QDCount)
	for i := uint16(0); i < h.QDCount; i++ {
		q, err := ReadQuestion(buf)
		if err != nil {
			return Packet{}, err
		}
		p.Questions = append(p.Questions, q)
	}

	p.Answers, err = readRecords(buf, h.ANCount)
	if err != nil {
		return Packet{}, err
	}
	p.Authorities, err = readRecords(buf, h.NSCount)
	if err != nil {
		return Packet{}, err
	}
	p.Additionals, err = readRecords(buf, h.ARCount)
	if err != nil {
		return Packet{}, err
	}

	return p, nil
}

func readRecords(buf *Buffer, count uint16) ([]Record, error) {
	out := make([]Record, 0, count)
	for i := uint16(0); i < count; i++ {
		rr, err := ReadRecord(buf)
		if err != nil {
			return nil, err
		}
		out = append(out, rr)
	}
	return out, nil
}

// Marshal serializes p to a fresh Buffer and returns the written prefix.
// Section counts are recomputed from the section lengths, so Header's
// counts need not agree with the slices beforehand (spec §3: "section
// counts ... must agree after parse and before serialize" — Write is
// what enforces that agreement).
func (p Packet) Marshal() ([]byte, error) {
	buf := NewBuffer()
	if err := p.Write(buf); err != nil {
		return nil, err
	}
	return buf.Bytes()[:buf.Pos()], nil
}

// Write serializes p to buf at the current cursor position.
func (p Packet) Write(buf *Buffer) error {
	h := p.Header
	h.QDCount = uint16(len(p.Questions))
	h.ANCount = uint16(len(p.Answers))
	h.NSCount = uint16(len(p.Authorities))
	h.ARCount = uint16(len(p.Additionals))

	if err := h.Write(buf); err != nil {
		return err
	}
	for _, q := range p.Questions {
		if err := q.Write(buf); err != nil {
			return err
		}
	}
	for _, rr := range p.Answers {
		if err := rr.Write(buf); err != nil {
			return err
		}
	}
	for _, rr := range p.Authorities {
		if err := rr.Write(buf); err != nil {
			return err
		}
	}
	for _, rr := range p.Additionals {
		if err := rr.Write(buf); err != nil {
			return err
		}
	}
	return nil
}

// RandomA returns the IP of the first A record in the answer section, in
// traversal order. Despite the name (kept for fidelity to the original
// implementation this was ported from — see spec §9), the choice is
// entirely deterministic.
func (p Packet) RandomA() (net.IP, bool) {
	for _, rr := range p.Answers {
		if rr.Type == TypeA && rr.IP != nil {
			return rr.IP, true
		}
	}
	return nil, false
}

// NSPair is one (authority domain, nameserver host) relationship read
// from a packet's authority section.
type NSPair struct {
	Domain string
	Host   string
}

// NS yields every (authority domain, ns host) pair from the authority
// section whose domain is a suffix of qname (spec §4.1).
func (p Packet) NS(qname string) []NSPair {
	var out []NSPair
	for _, rr := range p.Authorities {
		if rr.Type != TypeNS {
			continue
		}
		if hasSuffix(qname, rr.Domain) {
			out = append(out, NSPair{Domain: rr.Domain, Host: rr.Host})
		}
	}
	return out
}

// ResolvedNS returns the IPv4 address of a nameserver named by an NS
// record matching qname whose host also has a glue A record in the
// additional section (spec §4.1: "get_resolved_ns").
func (p Packet) ResolvedNS(qname string) (net.IP, bool) {
	for _, pair := range p.NS(qname) {
		for _, rr := range p.Additionals {
			if rr.Type == TypeA && rr.Domain == pair.Host && rr.IP != nil {
				return rr.IP, true
			}
		}
	}
	return nil, false
}

// UnresolvedNS returns the first NS host name matching qname that has no
// corresponding glue A record in the additional section (spec §4.1:
// "get_unresolved_ns").
func (p Packet) UnresolvedNS(qname string) (string, bool) {
	for _, pair := range p.NS(qname) {
		glued := false
		for _, rr := range p.Additionals {
			if rr.Type == TypeA && rr.Domain == pair.Host {
				glued = true
				break
			}
		}
		if !glued {
			return pair.Host, true
		}
	}
	return "", false
}

func hasSuffix(qname, suffix string) bool {
	if qname == suffix {
		return true
	}
	if len(qname) <= len(suffix) {
		return false
	}
	return qname[len(qname)-len(suffix):] == suffix && qname[len(qname)-len(suffix)-1] == '.'
}
