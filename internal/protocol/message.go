package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Message tags carried in the "type" field of server frames.
const (
	TagInit   = "init"
	TagUpdate = "update"
	TagError  = "error"
)

// Inbound is a decoded server frame. The concrete type is one of
// *Init, *Update or *Error.
type Inbound interface {
	Tag() string
	inbound()
}

// Init is the first frame of every connection.
type Init struct {
	Color    Color
	Snapshot Snapshot
}

// Update carries the state after a move the server accepted.
type Update struct {
	Snapshot Snapshot
}

// Error reports a rejected move or a malformed request.
type Error struct {
	Message string
}

func (*Init) Tag() string   { return TagInit }
func (*Update) Tag() string { return TagUpdate }
func (*Error) Tag() string  { return TagError }

func (*Init) inbound()   {}
func (*Update) inbound() {}
func (*Error) inbound()  {}

// UnknownTagError is returned by Decode for a well-formed frame whose tag
// is not one of init, update or error.
type UnknownTagError struct {
	Tag string
}

func (e *UnknownTagError) Error() string {
	return fmt.Sprintf("unknown message type %q", e.Tag)
}

// ErrMissingTag is returned when a frame has no "type" field.
var ErrMissingTag = errors.New("message type missing")

// frame is the flat wire shape shared by every tag.
type frame struct {
	Type    string `json:"type"`
	Color   Color  `json:"color,omitempty"`
	Message string `json:"message,omitempty"`
	Snapshot
}

// Decode parses one server frame.
func Decode(raw []byte) (Inbound, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	tag := strings.TrimSpace(head.Type)
	switch tag {
	case "":
		return nil, ErrMissingTag
	case TagInit:
		var f frame
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("decode init: %w", err)
		}
		color, err := ParseColor(string(f.Color))
		if err != nil {
			return nil, fmt.Errorf("decode init: %w", err)
		}
		return &Init{Color: color, Snapshot: withTurn(f.Snapshot)}, nil
	case TagUpdate:
		var f frame
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("decode update: %w", err)
		}
		return &Update{Snapshot: withTurn(f.Snapshot)}, nil
	case TagError:
		var f frame
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("decode error: %w", err)
		}
		return &Error{Message: f.Message}, nil
	default:
		return nil, &UnknownTagError{Tag: tag}
	}
}

// Encode produces the wire form of an inbound message.
func Encode(msg Inbound) ([]byte, error) {
	switch m := msg.(type) {
	case *Init:
		return json.Marshal(frame{Type: TagInit, Color: m.Color, Snapshot: m.Snapshot})
	case *Update:
		return json.Marshal(frame{Type: TagUpdate, Snapshot: m.Snapshot})
	case *Error:
		return json.Marshal(struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		}{Type: TagError, Message: m.Message})
	default:
		return nil, fmt.Errorf("encode: unsupported message %T", msg)
	}
}

// DecodeMove parses a client frame. Both squares are required.
func DecodeMove(raw []byte) (MoveAttempt, error) {
	var mv MoveAttempt
	if err := json.Unmarshal(raw, &mv); err != nil {
		return MoveAttempt{}, fmt.Errorf("decode move: %w", err)
	}
	if strings.TrimSpace(mv.From) == "" || strings.TrimSpace(mv.To) == "" {
		return MoveAttempt{}, errors.New("decode move: from and to are required")
	}
	return mv, nil
}

// withTurn fills a missing turn flag from the FEN active-color field.
func withTurn(s Snapshot) Snapshot {
	if s.Turn != "" {
		return s
	}
	fields := strings.Fields(s.FEN)
	if len(fields) >= 2 && fields[1] == "b" {
		s.Turn = SideBlack
	} else {
		s.Turn = SideWhite
	}
	return s
}
