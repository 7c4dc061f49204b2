package migrate

import "io"

const (
	backspace = 0x08

	// U+FFFF encodes as EF BF BF.
	nonCharLead = 0xEF
	nonCharCont = 0xBF
)

// stripWriter removes U+FFFF and backspace from a UTF-8 stream and passes
// every other byte through unchanged. A U+FFFF split across writes is held
// back until the next write or Flush.
type stripWriter struct {
	w       io.Writer
	pending []byte
	out     []byte
	last    byte

	nonChars   int
	backspaces int
}

func (s *stripWriter) Write(p []byte) (int, error) {
	buf := p
	if len(s.pending) > 0 {
		buf = append(s.pending, p...)
		s.pending = nil
	}
	s.out = s.out[:0]
	for i := 0; i < len(buf); i++ {
		b := buf[i]
		if b == backspace {
			s.backspaces++
			continue
		}
		if b == nonCharLead {
			rest := buf[i:]
			if len(rest) < 3 && isNonCharPrefix(rest) {
				s.pending = append([]byte(nil), rest...)
				break
			}
			if len(rest) >= 3 && rest[1] == nonCharCont && rest[2] == nonCharCont {
				s.nonChars++
				i += 2
				continue
			}
		}
		s.out = append(s.out, b)
	}
	if err := s.emit(s.out); err != nil {
		return 0, err
	}
	return len(p), nil
}

// WriteString implements io.StringWriter.
func (s *stripWriter) WriteString(str string) (int, error) {
	return s.Write([]byte(str))
}

// Flush writes any held-back partial sequence; it was not U+FFFF.
func (s *stripWriter) Flush() error {
	if len(s.pending) == 0 {
		return nil
	}
	p := s.pending
	s.pending = nil
	return s.emit(p)
}

// endLine terminates the current line unless the last byte already did.
func (s *stripWriter) endLine() error {
	if err := s.Flush(); err != nil {
		return err
	}
	if s.last == '\n' || s.last == 0 {
		return nil
	}
	return s.emit([]byte{'\n'})
}

func (s *stripWriter) emit(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	if _, err := s.w.Write(b); err != nil {
		return err
	}
	s.last = b[len(b)-1]
	return nil
}

func (s *stripWriter) counts() (nonChars, backspaces int) {
	return s.nonChars, s.backspaces
}

func isNonCharPrefix(b []byte) bool {
	switch len(b) {
	case 1:
		return b[0] == nonCharLead
	case 2:
		return b[0] == nonCharLead && b[1] == nonCharCont
	}
	return false
}
