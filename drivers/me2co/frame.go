package me2co

import "altruist-go/errcode"

// FrameLen is the size of every command and response frame.
const FrameLen = 9

const (
	headStart   = 0xFF
	respCommand = 0x86

	// MaxPPM is the top of the accepted measuring range.
	MaxPPM = 1000
)

// Fixed command frames.
var (
	// Switch to question-and-answer mode.
	ModeFrame = [FrameLen]byte{0xFF, 0x01, 0x78, 0x41, 0x00, 0x00, 0x00, 0x00, 0x46}
	// Ask for the current concentration.
	QueryFrame = [FrameLen]byte{0xFF, 0x01, 0x86, 0x00, 0x00, 0x00, 0x00, 0x00, 0x79}
)

// Checksum is the two's complement of the sum of bytes 1..7.
func Checksum(f []byte) byte {
	var s byte
	for _, b := range f[1:8] {
		s += b
	}
	return ^s + 1
}

// Parse validates a response frame and returns the CO concentration in ppm.
// Header, checksum and range failures are all InvalidData.
func Parse(f [FrameLen]byte) (float32, error) {
	if f[0] != headStart || f[1] != respCommand {
		return 0, errcode.New(errcode.InvalidData, "me2co parse", "bad header")
	}
	if Checksum(f[:]) != f[8] {
		return 0, errcode.New(errcode.InvalidData, "me2co parse", "checksum mismatch")
	}
	raw := uint16(f[2])<<8 | uint16(f[3])
	ppm := float32(raw) * 0.1
	if ppm < 0 || ppm > MaxPPM {
		return 0, errcode.New(errcode.InvalidData, "me2co parse", "out of range")
	}
	return ppm, nil
}
