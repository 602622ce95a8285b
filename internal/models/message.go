package models

import (
	"encoding/json"
	"fmt"

	"github.com/pion/sdp/v3"
	"github.com/pkg/errors"
)

// SignalType represents the type of an inbound signaling message
type SignalType string

const (
	SignalTypeJoin         SignalType = "join"
	SignalTypeLeave        SignalType = "leave"
	SignalTypeOffer        SignalType = "offer"
	SignalTypeAnswer       SignalType = "answer"
	SignalTypeIceCandidate SignalType = "ice_candidate"

	// Older browser clients send the dashed form.
	signalTypeIceCandidateDashed SignalType = "ice-candidate"
)

// ServerMessageType represents the type of an outbound message
type ServerMessageType string

const (
	ServerTypeUserJoined   ServerMessageType = "user-joined"
	ServerTypeUserLeft     ServerMessageType = "user-left"
	ServerTypeOffer        ServerMessageType = "offer"
	ServerTypeAnswer       ServerMessageType = "answer"
	ServerTypeIceCandidate ServerMessageType = "ice-candidate"
	ServerTypeError        ServerMessageType = "error"
)

// ErrMalformedMessage is returned for frames that cannot be decoded into a SignalingMessage.
var ErrMalformedMessage = errors.New("malformed signaling message")

// SignalingMessage is a client to server message. Which fields are set depends on Type.
type SignalingMessage struct {
	Type          SignalType `json:"type"`
	RoomID        string     `json:"room_id,omitempty"`
	UserID        int64      `json:"user_id,omitempty"`
	TargetUserID  int64      `json:"target_user_id,omitempty"`
	SDP           string     `json:"sdp,omitempty"`
	Candidate     string     `json:"candidate,omitempty"`
	SDPMid        *string    `json:"sdp_mid,omitempty"`
	SDPMLineIndex *uint16    `json:"sdp_m_line_index,omitempty"`
}

// ParseSignalingMessage decodes a text frame and checks the fields its type requires.
func ParseSignalingMessage(data []byte) (SignalingMessage, error) {
	var msg SignalingMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SignalingMessage{}, errors.Wrap(ErrMalformedMessage, err.Error())
	}
	if msg.Type == signalTypeIceCandidateDashed {
		msg.Type = SignalTypeIceCandidate
	}

	switch msg.Type {
	case SignalTypeJoin:
		if msg.RoomID == "" || msg.UserID <= 0 {
			return SignalingMessage{}, errors.Wrap(ErrMalformedMessage, "join requires room_id and user_id")
		}
	case SignalTypeLeave:
		if msg.RoomID == "" {
			return SignalingMessage{}, errors.Wrap(ErrMalformedMessage, "leave requires room_id")
		}
	case SignalTypeOffer, SignalTypeAnswer:
		if msg.TargetUserID <= 0 || msg.SDP == "" {
			return SignalingMessage{}, errors.Wrapf(ErrMalformedMessage, "%s requires target_user_id and sdp", msg.Type)
		}
	case SignalTypeIceCandidate:
		if msg.TargetUserID <= 0 {
			return SignalingMessage{}, errors.Wrap(ErrMalformedMessage, "ice_candidate requires target_user_id")
		}
	case "":
		return SignalingMessage{}, errors.Wrap(ErrMalformedMessage, "missing type")
	default:
		return SignalingMessage{}, errors.Wrapf(ErrMalformedMessage, "unknown message type %q", msg.Type)
	}
	return msg, nil
}

// ValidateSDP parses a session description so garbage is rejected before it reaches a peer.
func ValidateSDP(raw string) error {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(raw)); err != nil {
		return errors.Wrap(ErrMalformedMessage, fmt.Sprintf("invalid sdp: %v", err))
	}
	return nil
}

// ServerMessage is a server to client message. Decoding uses the field tags;
// encoding emits only the fields that belong to Type.
type ServerMessage struct {
	Type          ServerMessageType `json:"type"`
	UserID        int64             `json:"user_id"`
	Users         []int64           `json:"users"`
	UserName      string            `json:"user_name"`
	From          int64             `json:"from"`
	SDP           string            `json:"sdp"`
	Candidate     string            `json:"candidate"`
	SDPMid        *string           `json:"sdp_mid"`
	SDPMLineIndex *uint16           `json:"sdp_m_line_index"`
	Message       string            `json:"message"`
}

func UserJoined(userID int64, users []int64) ServerMessage {
	if users == nil {
		users = []int64{}
	}
	return ServerMessage{Type: ServerTypeUserJoined, UserID: userID, Users: users}
}

func UserLeft(userID int64, userName string) ServerMessage {
	return ServerMessage{Type: ServerTypeUserLeft, UserID: userID, UserName: userName}
}

func Offer(from int64, sdp string) ServerMessage {
	return ServerMessage{Type: ServerTypeOffer, From: from, SDP: sdp}
}

func Answer(from int64, sdp string) ServerMessage {
	return ServerMessage{Type: ServerTypeAnswer, From: from, SDP: sdp}
}

func IceCandidate(from int64, candidate string, mid *string, mLineIndex *uint16) ServerMessage {
	return ServerMessage{
		Type:          ServerTypeIceCandidate,
		From:          from,
		Candidate:     candidate,
		SDPMid:        mid,
		SDPMLineIndex: mLineIndex,
	}
}

func ErrorMessage(message string) ServerMessage {
	return ServerMessage{Type: ServerTypeError, Message: message}
}

// MarshalJSON implements json.Marshaler.
func (m ServerMessage) MarshalJSON() ([]byte, error) {
	switch m.Type {
	case ServerTypeUserJoined:
		return json.Marshal(struct {
			Type   ServerMessageType `json:"type"`
			UserID int64             `json:"user_id"`
			Users  []int64           `json:"users"`
		}{m.Type, m.UserID, m.Users})
	case ServerTypeUserLeft:
		return json.Marshal(struct {
			Type     ServerMessageType `json:"type"`
			UserID   int64             `json:"user_id"`
			UserName string            `json:"user_name"`
		}{m.Type, m.UserID, m.UserName})
	case ServerTypeOffer, ServerTypeAnswer:
		return json.Marshal(struct {
			Type ServerMessageType `json:"type"`
			From int64             `json:"from"`
			SDP  string            `json:"sdp"`
		}{m.Type, m.From, m.SDP})
	case ServerTypeIceCandidate:
		return json.Marshal(struct {
			Type          ServerMessageType `json:"type"`
			From          int64             `json:"from"`
			Candidate     string            `json:"candidate"`
			SDPMid        *string           `json:"sdp_mid"`
			SDPMLineIndex *uint16           `json:"sdp_m_line_index"`
		}{m.Type, m.From, m.Candidate, m.SDPMid, m.SDPMLineIndex})
	case ServerTypeError:
		return json.Marshal(struct {
			Type    ServerMessageType `json:"type"`
			Message string            `json:"message"`
		}{m.Type, m.Message})
	default:
		return nil, fmt.Errorf("unknown server message type %q", m.Type)
	}
}
