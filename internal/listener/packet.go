package listener

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Engine.IO v4 packet types, as the first byte of a text frame.
const (
	eioOpen    = '0'
	eioClose   = '1'
	eioPing    = '2'
	eioPong    = '3'
	eioMessage = '4'
)

// Socket.IO v5 packet types, following an Engine.IO message byte.
const (
	sioConnect      = '0'
	sioDisconnect   = '1'
	sioEvent        = '2'
	sioConnectError = '4'
)

var errEmptyPacket = errors.New("empty packet")

// packet is one decoded frame.
type packet struct {
	eio  byte
	sio  byte            // set when eio == eioMessage
	name string          // event name for sioEvent
	data json.RawMessage // event argument, open/connect payload, or connect error
}

func decodePacket(frame []byte) (packet, error) {
	if len(frame) == 0 {
		return packet{}, errEmptyPacket
	}
	p := packet{eio: frame[0]}
	if p.eio != eioMessage {
		p.data = frame[1:]
		return p, nil
	}
	if len(frame) < 2 {
		return packet{}, fmt.Errorf("truncated message packet %q", frame)
	}
	p.sio = frame[1]
	body := frame[2:]
	if p.sio != sioEvent {
		p.data = body
		return p, nil
	}

	var args []json.RawMessage
	if err := json.Unmarshal(body, &args); err != nil {
		return packet{}, fmt.Errorf("decode event: %w", err)
	}
	if len(args) == 0 {
		return packet{}, errors.New("event without name")
	}
	if err := json.Unmarshal(args[0], &p.name); err != nil {
		return packet{}, fmt.Errorf("decode event name: %w", err)
	}
	if len(args) > 1 {
		p.data = args[1]
	}
	return p, nil
}

func encodeEvent(name string, payload any) ([]byte, error) {
	args := []any{name}
	if payload != nil {
		args = append(args, payload)
	}
	b, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode event %s: %w", name, err)
	}
	return append([]byte{eioMessage, sioEvent}, b...), nil
}
