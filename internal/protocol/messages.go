package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants. Audio travels as raw
// binary frames outside this envelope; everything else is JSON.
type MessageType string

const (
	// Client to server.
	TypeStartSession MessageType = "start_session"
	TypeEndAudio     MessageType = "end_audio"
	TypeRateCard     MessageType = "rate_card"
	TypeNextCard     MessageType = "next_card"
	TypeSkipCard     MessageType = "skip_card"
	TypeReplayCard   MessageType = "replay_card"
	TypeEndSession   MessageType = "end_session"

	// Server to client.
	TypeSessionStarted  MessageType = "session_started"
	TypeSessionIntro    MessageType = "session_intro"
	TypeCardPresented   MessageType = "card_presented"
	TypeTranscription   MessageType = "transcription"
	TypeEvaluation      MessageType = "evaluation"
	TypeCardRated       MessageType = "card_rated"
	TypeCardReplay      MessageType = "card_replay"
	TypeStateChange     MessageType = "state_change"
	TypeVADStatus       MessageType = "vad_status"
	TypeSessionComplete MessageType = "session_complete"
	TypeError           MessageType = "error"
)

// Review modes accepted by start_session. Manual review never opens a
// voice session, so it is not a valid mode here.
const (
	ModeOral           = "oral"
	ModeConversational = "conversational"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// AudioFrame carries one binary PCM16LE frame. It is never JSON-encoded;
// the transport constructs it directly from binary websocket frames.
type AudioFrame struct {
	PCM []byte
}

type StartSession struct {
	Type       MessageType `json:"type"`
	CardLimit  int         `json:"card_limit"`
	ReviewMode string      `json:"review_mode"`
	DeckID     string      `json:"deck_id,omitempty"`
}

type EndAudio struct {
	Type MessageType `json:"type"`
}

type RateCard struct {
	Type   MessageType `json:"type"`
	Rating int         `json:"rating"`
}

type NextCard struct {
	Type MessageType `json:"type"`
}

type SkipCard struct {
	Type MessageType `json:"type"`
}

type ReplayCard struct {
	Type MessageType `json:"type"`
}

type EndSession struct {
	Type MessageType `json:"type"`
}

type SessionStarted struct {
	Type       MessageType `json:"type"`
	SessionID  string      `json:"session_id"`
	TotalCards int         `json:"total_cards"`
	ReviewMode string      `json:"review_mode"`
}

type SessionIntro struct {
	Type  MessageType `json:"type"`
	Text  string      `json:"text"`
	Audio []byte      `json:"audio,omitempty"`
}

type CardPresented struct {
	Type       MessageType `json:"type"`
	CardID     string      `json:"card_id"`
	Front      string      `json:"front"`
	SpokenText string      `json:"spoken_text"`
	Audio      []byte      `json:"audio,omitempty"`
	CardNumber int         `json:"card_number"`
	TotalCards int         `json:"total_cards"`
}

type Transcription struct {
	Type       MessageType `json:"type"`
	Text       string      `json:"text"`
	Confidence float64     `json:"confidence"`
}

type Evaluation struct {
	Type           MessageType `json:"type"`
	Rating         int         `json:"rating"`
	IsCorrect      bool        `json:"is_correct"`
	Feedback       string      `json:"feedback"`
	ExpectedAnswer string      `json:"expected_answer"`
	UserAnswer     string      `json:"user_answer"`
	Audio          []byte      `json:"audio,omitempty"`
	AutoAdvance    bool        `json:"auto_advance"`
	ReviewMode     string      `json:"review_mode"`
}

type CardRated struct {
	Type      MessageType `json:"type"`
	CardID    string      `json:"card_id"`
	Rating    int         `json:"rating"`
	AutoRated bool        `json:"auto_rated"`
}

type CardReplay struct {
	Type       MessageType `json:"type"`
	CardID     string      `json:"card_id"`
	SpokenText string      `json:"spoken_text"`
	Audio      []byte      `json:"audio,omitempty"`
}

type StateChange struct {
	Type  MessageType `json:"type"`
	State string      `json:"state"`
}

type VADStatus struct {
	Type     MessageType `json:"type"`
	Speaking bool        `json:"speaking"`
	Energy   float64     `json:"energy"`
}

type SessionStats struct {
	CardsReviewed  int     `json:"cards_reviewed"`
	CorrectCount   int     `json:"correct_count"`
	IncorrectCount int     `json:"incorrect_count"`
	Accuracy       float64 `json:"accuracy"`
	AudioSeconds   float64 `json:"audio_seconds"`
}

type SessionComplete struct {
	Type    MessageType  `json:"type"`
	Message string       `json:"message"`
	Audio   []byte       `json:"audio,omitempty"`
	Stats   SessionStats `json:"stats"`
}

type ErrorMessage struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

// TypeOf reports the wire type of a typed message, or "" for values that
// are not protocol messages. AudioFrame is binary and has no envelope
// type.
func TypeOf(msg any) MessageType {
	switch m := msg.(type) {
	case StartSession:
		return m.Type
	case EndAudio:
		return m.Type
	case RateCard:
		return m.Type
	case NextCard:
		return m.Type
	case SkipCard:
		return m.Type
	case ReplayCard:
		return m.Type
	case EndSession:
		return m.Type
	case SessionStarted:
		return m.Type
	case SessionIntro:
		return m.Type
	case CardPresented:
		return m.Type
	case Transcription:
		return m.Type
	case Evaluation:
		return m.Type
	case CardRated:
		return m.Type
	case CardReplay:
		return m.Type
	case StateChange:
		return m.Type
	case VADStatus:
		return m.Type
	case SessionComplete:
		return m.Type
	case ErrorMessage:
		return m.Type
	default:
		return ""
	}
}

// ParseClientMessage decodes a JSON control frame into its typed struct.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeStartSession:
		var msg StartSession
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.ReviewMode != ModeOral && msg.ReviewMode != ModeConversational {
			return nil, fmt.Errorf("invalid review_mode %q", msg.ReviewMode)
		}
		if msg.CardLimit < 0 {
			return nil, errors.New("invalid card_limit")
		}
		return msg, nil
	case TypeEndAudio:
		return EndAudio{Type: env.Type}, nil
	case TypeRateCard:
		var msg RateCard
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Rating < 0 || msg.Rating > 3 {
			return nil, fmt.Errorf("invalid rating %d", msg.Rating)
		}
		return msg, nil
	case TypeNextCard:
		return NextCard{Type: env.Type}, nil
	case TypeSkipCard:
		return SkipCard{Type: env.Type}, nil
	case TypeReplayCard:
		return ReplayCard{Type: env.Type}, nil
	case TypeEndSession:
		return EndSession{Type: env.Type}, nil
	default:
		return nil, ErrUnsupportedType
	}
}
