package sds011

import "altruist-go/errcode"

const (
	CommandLen = 19
	FrameLen   = 10 // AA C0 + payload
	PayloadLen = 8

	headStart   = 0xAA
	headCommand = 0xB4
	headData    = 0xC0
	tail        = 0xAB

	cmdReportingMode = 0x02
	cmdSleepWork     = 0x06
	cmdWorkingPeriod = 0x08

	opSet = 0x01

	// MaxUgm3 is the exclusive upper bound of accepted concentrations.
	MaxUgm3 = 1000
)

// Command builds a 19-byte host command. data fills bytes 3..14 from the
// left; the device ID bytes are FF FF (broadcast).
func Command(cmd byte, data ...byte) [CommandLen]byte {
	var f [CommandLen]byte
	f[0] = headStart
	f[1] = headCommand
	f[2] = cmd
	copy(f[3:15], data)
	f[15] = 0xFF
	f[16] = 0xFF
	var s byte
	for _, b := range f[2:17] {
		s += b
	}
	f[17] = s
	f[18] = tail
	return f
}

var (
	// Continuous working period (report every second).
	ContinuousFrame = Command(cmdWorkingPeriod, opSet, 0)
	// Active reporting: frames are pushed unsolicited.
	ActiveReportFrame = Command(cmdReportingMode, opSet, 0)
	StartFrame        = Command(cmdSleepWork, opSet, 1)
	StopFrame         = Command(cmdSleepWork, opSet, 0)
)

// Sample is one decoded measurement, in µg/m³.
type Sample struct {
	PM25 float32
	PM10 float32
	ID   uint16
}

// ValidPayload reports whether the 8 bytes following AA C0 carry a good
// checksum and tail.
func ValidPayload(p []byte) bool {
	if len(p) != PayloadLen {
		return false
	}
	var s byte
	for _, b := range p[:6] {
		s += b
	}
	return s == p[6] && p[7] == tail
}

// DecodePayload converts a validated payload. Values outside [0, 1000) are
// InvalidData.
func DecodePayload(p []byte) (Sample, error) {
	if !ValidPayload(p) {
		return Sample{}, errcode.New(errcode.InvalidData, "sds011 decode", "bad checksum or tail")
	}
	s := Sample{
		PM25: float32(uint16(p[0])|uint16(p[1])<<8) / 10,
		PM10: float32(uint16(p[2])|uint16(p[3])<<8) / 10,
		ID:   uint16(p[4]) | uint16(p[5])<<8,
	}
	if s.PM25 < 0 || s.PM25 >= MaxUgm3 || s.PM10 < 0 || s.PM10 >= MaxUgm3 {
		return Sample{}, errcode.New(errcode.InvalidData, "sds011 decode", "out of range")
	}
	return s, nil
}

// Scanner synchronises on AA C0 in a byte stream and yields payloads that
// pass ValidPayload. A failed candidate is dropped and scanning resumes just
// after its header, so a header inside the candidate is still found.
type Scanner struct {
	state   uint8
	n       int
	payload [PayloadLen]byte
	// Rejected counts dropped candidate frames.
	Rejected int
}

const (
	seekStart uint8 = iota
	seekData
	inPayload
)

func (s *Scanner) Reset() { s.state, s.n = seekStart, 0 }

// Feed consumes one byte. It returns true when Payload holds a frame that
// passed the checksum and tail checks.
func (s *Scanner) Feed(b byte) bool {
	switch s.state {
	case seekStart:
		if b == headStart {
			s.state = seekData
		}
	case seekData:
		switch b {
		case headData:
			s.state, s.n = inPayload, 0
		case headStart:
			// AA AA C0: stay armed
		default:
			s.state = seekStart
		}
	case inPayload:
		s.payload[s.n] = b
		s.n++
		if s.n == PayloadLen {
			s.Reset()
			if ValidPayload(s.payload[:]) {
				return true
			}
			s.Rejected++
			// A lost byte can pull the next header into the candidate.
			rejected := s.payload
			for _, c := range rejected {
				s.Feed(c)
			}
		}
	}
	return false
}

// Payload returns the last accepted payload.
func (s *Scanner) Payload() []byte { return s.payload[:] }
