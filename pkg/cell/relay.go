// Package cell provides relay cell functionality for the Tor protocol.
package cell

import (
	"fmt"

	"github.com/opd-ai/go-torclient/pkg/errors"
	"github.com/opd-ai/go-torclient/pkg/flow"
	"github.com/opd-ai/go-torclient/pkg/wire"
)

// RelayCommand is a relay cell command from tor-spec.txt section 6.1
type RelayCommand byte

// Relay commands from tor-spec.txt section 6.1
const (
	RelayBegin     RelayCommand = 1
	RelayData      RelayCommand = 2
	RelayEnd       RelayCommand = 3
	RelayConnected RelayCommand = 4
	RelaySendme    RelayCommand = 5
	RelayExtend    RelayCommand = 6
	RelayExtended  RelayCommand = 7
	RelayTruncate  RelayCommand = 8
	RelayTruncated RelayCommand = 9
	RelayDrop      RelayCommand = 10
	RelayResolve   RelayCommand = 11
	RelayResolved  RelayCommand = 12
	RelayBeginDir  RelayCommand = 13
	RelayExtend2   RelayCommand = 14
	RelayExtended2 RelayCommand = 15
)

// String returns a human-readable string for a relay command
func (c RelayCommand) String() string {
	switch c {
	case RelayBegin:
		return "RELAY_BEGIN"
	case RelayData:
		return "RELAY_DATA"
	case RelayEnd:
		return "RELAY_END"
	case RelayConnected:
		return "RELAY_CONNECTED"
	case RelaySendme:
		return "RELAY_SENDME"
	case RelayExtend:
		return "RELAY_EXTEND"
	case RelayExtended:
		return "RELAY_EXTENDED"
	case RelayTruncate:
		return "RELAY_TRUNCATE"
	case RelayTruncated:
		return "RELAY_TRUNCATED"
	case RelayDrop:
		return "RELAY_DROP"
	case RelayResolve:
		return "RELAY_RESOLVE"
	case RelayResolved:
		return "RELAY_RESOLVED"
	case RelayBeginDir:
		return "RELAY_BEGIN_DIR"
	case RelayExtend2:
		return "RELAY_EXTEND2"
	case RelayExtended2:
		return "RELAY_EXTENDED2"
	default:
		return fmt.Sprintf("RELAY_UNKNOWN(%d)", byte(c))
	}
}

// CountsTowardsWindows reports whether this command is counted by
// flow-control windows. Only DATA cells consume window credit; control
// messages do not.
func (c RelayCommand) CountsTowardsWindows() bool {
	return c == RelayData
}

// RelayCell represents the payload of a RELAY or RELAY_EARLY cell
type RelayCell struct {
	Command    RelayCommand // Relay command
	Recognized uint16       // Must be zero
	StreamID   uint16       // Stream ID
	Digest     [4]byte      // Running digest
	Data       []byte       // Relay data
}

// RelayCellHeaderLen is the relay cell header size:
// Command(1) + Recognized(2) + StreamID(2) + Digest(4) + Length(2)
const RelayCellHeaderLen = 11

// MaxRelayDataLen is the maximum data length carried by one relay cell
const MaxRelayDataLen = PayloadLen - RelayCellHeaderLen

// NewRelayCell creates a new relay cell
func NewRelayCell(streamID uint16, cmd RelayCommand, data []byte) *RelayCell {
	return &RelayCell{
		Command:  cmd,
		StreamID: streamID,
		Data:     data,
	}
}

// Msg returns the command of this cell, identifying which message it carries.
func (rc *RelayCell) Msg() RelayCommand {
	return rc.Command
}

// CountsTowardsWindows reports whether this cell is counted by flow-control
// windows.
func (rc *RelayCell) CountsTowardsWindows() bool {
	return rc.Command.CountsTowardsWindows()
}

// Encode encodes the relay cell into a full-size relay payload
func (rc *RelayCell) Encode() ([]byte, error) {
	if len(rc.Data) > MaxRelayDataLen {
		return nil, errors.Internal(fmt.Sprintf("relay cell data too large: %d > %d", len(rc.Data), MaxRelayDataLen), nil)
	}

	buf := wire.NewBuffer()
	wire.WriteU8(buf, byte(rc.Command))
	wire.WriteU16(buf, rc.Recognized)
	wire.WriteU16(buf, rc.StreamID)
	buf.WriteAll(rc.Digest[:])
	wire.WriteU16(buf, uint16(len(rc.Data)))
	buf.WriteAll(rc.Data)
	buf.WriteZeros(PayloadLen - buf.Len())

	return buf.Bytes(), nil
}

// DecodeRelayCell decodes a relay cell from a relay payload
func DecodeRelayCell(payload []byte) (*RelayCell, error) {
	r := wire.NewReader(payload)
	rc := &RelayCell{}

	cmd, err := r.TakeU8()
	if err != nil {
		return nil, err
	}
	rc.Command = RelayCommand(cmd)
	if rc.Recognized, err = r.TakeU16(); err != nil {
		return nil, err
	}
	if rc.StreamID, err = r.TakeU16(); err != nil {
		return nil, err
	}
	if err = r.TakeInto(rc.Digest[:]); err != nil {
		return nil, err
	}
	length, err := r.TakeU16()
	if err != nil {
		return nil, err
	}
	if int(length) > r.Remaining() {
		return nil, errors.BadMessage("relay cell length exceeds payload")
	}
	if length > 0 {
		data, err := r.Take(int(length))
		if err != nil {
			return nil, err
		}
		rc.Data = make([]byte, length)
		copy(rc.Data, data)
	}

	return rc, nil
}

// SENDME v1 payload layout: Version(1) + DataLen(2) + Data(20), per
// prop289. Version 0 SENDMEs carry an empty payload and no tag.
const sendmeVersion = 1

// EncodeSendmePayload builds an authenticated SENDME v1 payload carrying tag.
func EncodeSendmePayload(tag flow.CircTag) []byte {
	buf := wire.NewBuffer()
	wire.WriteU8(buf, sendmeVersion)
	wire.WriteU16(buf, flow.CircTagLen)
	buf.WriteAll(tag[:])
	return buf.Bytes()
}

// ParseSendmePayload extracts the tag from a SENDME payload. A version 0
// (empty) payload yields a nil tag; a version 1 payload yields its 20-byte
// tag. Anything else is a parse error.
func ParseSendmePayload(data []byte) (*flow.CircTag, error) {
	if len(data) == 0 {
		return nil, nil
	}

	r := wire.NewReader(data)
	version, err := r.TakeU8()
	if err != nil {
		return nil, err
	}
	switch version {
	case 0:
		return nil, nil
	case sendmeVersion:
		length, err := r.TakeU16()
		if err != nil {
			return nil, err
		}
		if length != flow.CircTagLen {
			return nil, errors.BadMessage("SENDME tag with unexpected length")
		}
		var tag flow.CircTag
		if err := r.TakeInto(tag[:]); err != nil {
			return nil, err
		}
		return &tag, nil
	default:
		return nil, errors.BadMessage("SENDME with unrecognized version")
	}
}
