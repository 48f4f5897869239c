package stream

import "bytes"

// LineSplitter frames a byte stream into newline-terminated lines. Bytes
// after the last newline are carried over to the next Push. The carry
// must be flushed after the stream closes so a final unterminated line
// is not lost.
type LineSplitter struct {
	carry []byte
}

// Push appends chunk to the carry buffer and returns every complete line
// now available, without trailing newlines.
func (s *LineSplitter) Push(chunk []byte) [][]byte {
	if len(chunk) == 0 {
		return nil
	}
	s.carry = append(s.carry, chunk...)

	var lines [][]byte
	for {
		idx := bytes.IndexByte(s.carry, '\n')
		if idx < 0 {
			break
		}
		line := s.carry[:idx]
		if len(line) > 0 && line[len(line)-1] == '\r' {
			line = line[:len(line)-1]
		}
		out := make([]byte, len(line))
		copy(out, line)
		lines = append(lines, out)
		s.carry = s.carry[idx+1:]
	}
	return lines
}

// Flush returns the remaining carry, if any, and resets the splitter.
func (s *LineSplitter) Flush() []byte {
	if len(s.carry) == 0 {
		return nil
	}
	out := make([]byte, len(s.carry))
	copy(out, s.carry)
	s.carry = nil
	return out
}
