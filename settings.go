package plasmodesmata

import "github.com/iovxw/plasmodesmata/wire"

// SettingID identifies one SETTINGS parameter
// (https://tools.ietf.org/html/rfc7540#section-6.5.2).
type SettingID uint16

const (
	SettingHeaderTableSize      SettingID = 0x1
	SettingEnablePush           SettingID = 0x2
	SettingMaxConcurrentStreams SettingID = 0x3
	SettingInitialWindowSize    SettingID = 0x4
	SettingMaxFrameSize         SettingID = 0x5
	SettingMaxHeaderListSize    SettingID = 0x6
)

// Setting is one (identifier, value) pair out of a SETTINGS frame's
// payload. An identifier this codec does not recognize is still kept,
// value and all, rather than dropped.
type Setting struct {
	ID    SettingID
	Value uint32
}

const settingEntryLen = 6

var _ Frame = (*SettingsFrame)(nil)

// SettingsFrame negotiates connection parameters
// (https://tools.ietf.org/html/rfc7540#section-6.5). An ACK-flagged
// SETTINGS frame must carry an empty payload.
type SettingsFrame struct {
	ack      bool
	settings []Setting
}

func (s *SettingsFrame) Type() FrameType { return FrameSettings }

func (s *SettingsFrame) Reset() {
	s.ack = false
	s.settings = s.settings[:0]
}

func (s *SettingsFrame) CopyTo(dst *SettingsFrame) {
	dst.ack = s.ack
	dst.settings = append(dst.settings[:0], s.settings...)
}

func (s *SettingsFrame) Ack() bool          { return s.ack }
func (s *SettingsFrame) SetAck(v bool)      { s.ack = v }
func (s *SettingsFrame) Settings() []Setting { return s.settings }
func (s *SettingsFrame) Add(id SettingID, value uint32) {
	s.settings = append(s.settings, Setting{ID: id, Value: value})
}

func (s *SettingsFrame) Deserialize(fh *FrameHeader) error {
	s.ack = fh.flags.Has(FlagAck)

	if s.ack {
		if len(fh.payload) != 0 {
			return ErrFrameSize
		}
		return nil
	}

	if len(fh.payload)%settingEntryLen != 0 {
		return ErrFrameSize
	}

	for off := 0; off+settingEntryLen <= len(fh.payload); off += settingEntryLen {
		chunk := fh.payload[off : off+settingEntryLen]
		id := SettingID(uint16(chunk[0])<<8 | uint16(chunk[1]))
		value := decodeU32(chunk[2:6])

		if err := validateSetting(id, value); err != nil {
			return err
		}
		if id == SettingEnablePush && value != 0 {
			value = 1
		}

		s.settings = append(s.settings, Setting{ID: id, Value: value})
	}

	return nil
}

func (s *SettingsFrame) Serialize(fh *FrameHeader) {
	if s.ack {
		fh.SetFlags(fh.Flags().Add(FlagAck))
		fh.setPayload(nil)
		return
	}

	payload := make([]byte, 0, len(s.settings)*settingEntryLen)
	for _, st := range s.settings {
		payload = append(payload, byte(st.ID>>8), byte(st.ID))
		value := st.Value
		if st.ID == SettingEnablePush && value != 0 {
			value = 1
		}
		payload = encodeU32(payload, value)
	}
	fh.setPayload(payload)
}

// validateSetting applies the per-identifier range checks the original
// codec enforces: INITIAL_WINDOW_SIZE must fit in 31 bits and
// MAX_FRAME_SIZE must fall within [2^14, 2^24-1]. Every other
// identifier, recognized or not, is accepted as-is.
func validateSetting(id SettingID, value uint32) error {
	switch id {
	case SettingInitialWindowSize:
		if value > wire.U31Max {
			return ErrProtocol
		}
	case SettingMaxFrameSize:
		if value < wire.U24Initial || value > wire.U24Max {
			return ErrProtocol
		}
	}
	return nil
}
