// Package cell provides types and functions for encoding and decoding Tor
// protocol cells. Tor uses fixed-size (514 bytes) and variable-size cells
// for communication.
package cell

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/opd-ai/go-torclient/pkg/errors"
)

// Cell size constants from tor-spec.txt
const (
	// CircIDLen is the length of circuit IDs in bytes (4 bytes for link protocol version >= 4)
	CircIDLen = 4
	// CmdLen is the length of the command field
	CmdLen = 1
	// PayloadLen is the length of the payload in fixed-size cells
	PayloadLen = 509
	// CellLen is the total length of a fixed-size cell
	CellLen = CircIDLen + CmdLen + PayloadLen // 514 bytes
)

// Command represents a cell command type
type Command byte

// Cell commands from tor-spec.txt section 3
const (
	// Fixed-size commands
	CmdPadding     Command = 0
	CmdCreate      Command = 1
	CmdCreated     Command = 2
	CmdRelay       Command = 3
	CmdDestroy     Command = 4
	CmdCreateFast  Command = 5
	CmdCreatedFast Command = 6
	CmdVersions    Command = 7
	CmdNetinfo     Command = 8
	CmdRelayEarly  Command = 9
	CmdCreate2     Command = 10
	CmdCreated2    Command = 11

	// Variable-length commands
	CmdVPadding      Command = 128
	CmdCerts         Command = 129
	CmdAuthChallenge Command = 130
	CmdAuthenticate  Command = 131
)

// Cell represents a Tor protocol cell
type Cell struct {
	CircID  uint32  // Circuit ID
	Command Command // Cell command
	Payload []byte  // Cell payload
}

// IsVariableLength returns true if the command indicates a variable-length cell
func (c Command) IsVariableLength() bool {
	return c >= 128
}

// String returns a human-readable representation of the command
func (c Command) String() string {
	switch c {
	case CmdPadding:
		return "PADDING"
	case CmdCreate:
		return "CREATE"
	case CmdCreated:
		return "CREATED"
	case CmdRelay:
		return "RELAY"
	case CmdDestroy:
		return "DESTROY"
	case CmdCreateFast:
		return "CREATE_FAST"
	case CmdCreatedFast:
		return "CREATED_FAST"
	case CmdVersions:
		return "VERSIONS"
	case CmdNetinfo:
		return "NETINFO"
	case CmdRelayEarly:
		return "RELAY_EARLY"
	case CmdCreate2:
		return "CREATE2"
	case CmdCreated2:
		return "CREATED2"
	case CmdVPadding:
		return "VPADDING"
	case CmdCerts:
		return "CERTS"
	case CmdAuthChallenge:
		return "AUTH_CHALLENGE"
	case CmdAuthenticate:
		return "AUTHENTICATE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", byte(c))
	}
}

// NewCell creates a new cell with the given circuit ID and command
func NewCell(circID uint32, cmd Command, payload []byte) *Cell {
	return &Cell{
		CircID:  circID,
		Command: cmd,
		Payload: payload,
	}
}

// Encode writes the cell to the provided writer
func (c *Cell) Encode(w io.Writer) error {
	var hdr [CircIDLen + CmdLen]byte
	binary.BigEndian.PutUint32(hdr[0:4], c.CircID)
	hdr[4] = byte(c.Command)
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("write cell header: %w", err)
	}

	if c.Command.IsVariableLength() {
		if len(c.Payload) > int(^uint16(0)) {
			return errors.Internal("variable-length cell payload too large", nil)
		}
		var length [2]byte
		binary.BigEndian.PutUint16(length[:], uint16(len(c.Payload)))
		if _, err := w.Write(length[:]); err != nil {
			return fmt.Errorf("write payload length: %w", err)
		}
		if _, err := w.Write(c.Payload); err != nil {
			return fmt.Errorf("write payload: %w", err)
		}
		return nil
	}

	if len(c.Payload) > PayloadLen {
		return errors.Internal("fixed-size cell payload too large", nil)
	}
	if _, err := w.Write(c.Payload); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	if padding := PayloadLen - len(c.Payload); padding > 0 {
		if _, err := w.Write(make([]byte, padding)); err != nil {
			return fmt.Errorf("write padding: %w", err)
		}
	}
	return nil
}

// DecodeCell reads a cell from the provided reader
func DecodeCell(r io.Reader) (*Cell, error) {
	var hdr [CircIDLen + CmdLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, errors.BadMessage("truncated")
	}

	cell := &Cell{
		CircID:  binary.BigEndian.Uint32(hdr[0:4]),
		Command: Command(hdr[4]),
	}

	if cell.Command.IsVariableLength() {
		var length [2]byte
		if _, err := io.ReadFull(r, length[:]); err != nil {
			return nil, errors.BadMessage("truncated")
		}
		cell.Payload = make([]byte, binary.BigEndian.Uint16(length[:]))
	} else {
		cell.Payload = make([]byte, PayloadLen)
	}

	if _, err := io.ReadFull(r, cell.Payload); err != nil {
		return nil, errors.BadMessage("truncated")
	}
	return cell, nil
}
