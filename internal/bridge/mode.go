package bridge

// Mode governs how the next incoming frame is interpreted.
type Mode uint8

const (
	// ModeStructured parses each frame as an OSC message.
	ModeStructured Mode = iota
	// ModeRaw streams each byte of the frame to the RawHandler.
	ModeRaw
)

func (m Mode) String() string {
	switch m {
	case ModeStructured:
		return "structured"
	case ModeRaw:
		return "raw"
	default:
		return "unknown"
	}
}

// event is what happened to the frame that just ended.
type event uint8

const (
	// evMessage: a structured frame parsed into a message outside the raw namespace.
	evMessage event = iota
	// evRawAddress: a structured frame parsed into a message under RawPrefix.
	evRawAddress
	// evRawEnd: a non-empty raw frame ended.
	evRawEnd
	// evIgnored: an empty frame, or a structured frame dropped as malformed.
	evIgnored
)

// transitions is the complete mode table. Pairs not listed keep the mode.
//
//	structured --evRawAddress--> raw
//	raw        --evRawEnd------> structured
var transitions = map[Mode]map[event]Mode{
	ModeStructured: {evRawAddress: ModeRaw},
	ModeRaw:        {evRawEnd: ModeStructured},
}

func (m Mode) next(ev event) Mode {
	if to, ok := transitions[m][ev]; ok {
		return to
	}
	return m
}
