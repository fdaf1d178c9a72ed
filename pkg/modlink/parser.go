package modlink

import "encoding/binary"

// SyncState indicates the state of the inbound byte stream.
type SyncState int

const (
	// SyncStateSyncing means the stream is not synchronized.
	SyncStateSyncing SyncState = 0
	// SyncStateReady means a valid frame was seen and the stream is at a frame boundary.
	SyncStateReady SyncState = 0x01
	// SyncStateReceiving means a frame is partially received.
	SyncStateReceiving SyncState = 0x02
)

// IsReady indicates if the stream is synchronized.
func (s SyncState) IsReady() bool {
	return s&SyncStateReady != 0
}

// IsReceiving indicates if it's in the middle of a frame.
func (s SyncState) IsReceiving() bool {
	return s&SyncStateReceiving != 0
}

// String implements fmt.Stringer.
func (s SyncState) String() string {
	switch {
	case s.IsReady() && s.IsReceiving():
		return "receiving"
	case s.IsReady():
		return "ready"
	case s.IsReceiving():
		return "syncing-receiving"
	default:
		return "syncing"
	}
}

// ParseResult indicates the result after one parsing step.
type ParseResult struct {
	State SyncState
	// Frame is the complete raw frame, checksum not validated.
	Frame []byte
}

type parseState int

const (
	stateFrame0 parseState = iota // waiting for first framing byte
	stateFrame1                   // waiting for second framing byte
	stateLenLo                    // waiting for packet length low byte
	stateLenHi                    // waiting for packet length high byte
	stateBody                     // waiting for the rest of the frame
)

// FrameParser splits a byte stream into frames.
type FrameParser struct {
	state  parseState
	synced bool
	frame  []byte
	need   int
}

// State gets the current sync state.
func (p *FrameParser) State() SyncState {
	var s SyncState
	if p.synced {
		s |= SyncStateReady
	}
	if p.state != stateFrame0 {
		s |= SyncStateReceiving
	}
	return s
}

// Reset drops any partial frame and loses synchronization.
func (p *FrameParser) Reset() (pr ParseResult) {
	p.resync()
	pr.State = p.State()
	return
}

// Timeout drops a partial frame; synchronization is lost only if a frame
// was in progress.
func (p *FrameParser) Timeout() (pr ParseResult) {
	if p.state != stateFrame0 {
		p.resync()
	}
	pr.State = p.State()
	return
}

// Parse consumes one byte.
func (p *FrameParser) Parse(b byte) (pr ParseResult) {
	pr.Frame = p.parseByte(b)
	pr.State = p.State()
	return
}

func (p *FrameParser) parseByte(b byte) []byte {
	switch p.state {
	case stateFrame0:
		if b == FrameByte0 {
			p.frame = append(p.frame[:0], b)
			p.state = stateFrame1
		} else {
			p.synced = false
		}
	case stateFrame1:
		switch b {
		case FrameByte1:
			p.frame = append(p.frame, b)
			p.state = stateLenLo
		case FrameByte0:
			// a repeated first byte may start the real frame
		default:
			p.resync()
		}
	case stateLenLo:
		p.frame = append(p.frame, b)
		p.state = stateLenHi
	case stateLenHi:
		p.frame = append(p.frame, b)
		n := int(binary.LittleEndian.Uint16(p.frame[2:]))
		if n < HeaderLen {
			p.resync()
			return nil
		}
		p.need = n - PrefixLen
		p.state = stateBody
	case stateBody:
		p.frame = append(p.frame, b)
		if p.need--; p.need <= 0 {
			return p.frameReady()
		}
	}
	return nil
}

func (p *FrameParser) resync() {
	p.state, p.synced, p.need = stateFrame0, false, 0
	p.frame = p.frame[:0]
}

func (p *FrameParser) frameReady() []byte {
	frame := append([]byte(nil), p.frame...)
	p.frame = p.frame[:0]
	p.state, p.synced = stateFrame0, true
	return frame
}
