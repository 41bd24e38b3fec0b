package dnswire

// Question is a single entry in a DNS message's question section
// (RFC 1035 §4.1.2): the name being queried, the record type requested,
// and the class (always ClassIN here).
type Question struct {
	Name  string
	Type  QueryType
	Class uint16
}

// Write serializes q to buf: an uncompressed name, then TYPE and CLASS.
func (q Question) Write(buf *Buffer) error {
	if err := buf.WriteQName(q.Name); err != nil {
		return err
	}
	if err := buf.WriteU16(uint16(q.Type)); err != nil {
		return err
	}
	return buf.WriteU16(q.Class)
}

// ReadQuestion parses a Question from buf at the current cursor position.
func ReadQuestion(buf *Buffer) (Question, error) {
	name, err := buf.ReadQName()
	if err != nil {
		return Question{}, err
	}
	qtype, err := buf.ReadU16()
	if err != nil {
		return Question{}, err
	}
	class, err := buf.ReadU16()
	if err != nil {
		return Question{}, err
	}
	return Question{Name: name, Type: QueryType(qtype), Class: class}, nil
}
