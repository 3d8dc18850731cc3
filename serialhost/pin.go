package serialhost

import (
	"encoding/binary"
	"fmt"
)

// RNode frame bytes needed to spot the pairing PIN frame.
const (
	fend     = 0xC0
	fesc     = 0xDB
	tfend    = 0xDC
	tfesc    = 0xDD
	cmdBTPin = 0x62
)

// pinFrameLen is the command byte plus a big-endian uint32 PIN.
const pinFrameLen = 5

// pinSniffer watches the inbound stream for Bluetooth PIN frames. It keeps
// only enough state to recognize that one frame and ignores everything else.
type pinSniffer struct {
	inFrame bool
	escape  bool
	frame   [pinFrameLen]byte
	n       int
}

// feed consumes data and returns any PINs completed by it, formatted as
// six digits.
func (s *pinSniffer) feed(data []byte) []string {
	var pins []string
	for _, b := range data {
		if b == fend {
			if s.inFrame && s.n == pinFrameLen {
				pin := binary.BigEndian.Uint32(s.frame[1:])
				pins = append(pins, fmt.Sprintf("%06d", pin))
			}
			s.inFrame, s.escape, s.n = true, false, 0
			continue
		}
		if !s.inFrame {
			continue
		}
		if s.escape {
			s.escape = false
			switch b {
			case tfend:
				b = fend
			case tfesc:
				b = fesc
			}
		} else if b == fesc {
			s.escape = true
			continue
		}
		if s.n == pinFrameLen || (s.n == 0 && b != cmdBTPin) {
			// Not a PIN frame; wait for the next FEND.
			s.inFrame = false
			continue
		}
		s.frame[s.n] = b
		s.n++
	}
	return pins
}
