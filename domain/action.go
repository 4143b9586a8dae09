package domain

import (
	"strings"
	"time"
)

// Labels offered to the user as suggested replies. They are an affordance
// only: classification below accepts any free text, matched case and
// whitespace insensitively, and everything else flows through as FreeText.
const (
	LabelStartGame   = "Start game"
	LabelStopSeeking = "Stop seeking"
	LabelAcceptDeal  = "Accept deal"
	LabelDeclineDeal = "Decline deal"
	LabelEndGame     = "End game"
	LabelSubscribe   = "Get notifications"
	LabelUnsubscribe = "Stop notifications"
)

type ActionKind int

const (
	ActionFreeText ActionKind = iota
	ActionEmpty
	ActionStartGame
	ActionStopSeeking
	ActionAcceptDeal
	ActionDeclineDeal
	ActionEndGame
	ActionSubscribe
	ActionUnsubscribe
)

// Action is the closed inbound event type. Raw text is classified exactly
// once at the boundary; every handler afterwards matches on Kind.
type Action struct {
	Kind ActionKind
	Text string
}

var labelKinds = map[string]ActionKind{
	normalize(LabelStartGame):   ActionStartGame,
	normalize(LabelStopSeeking): ActionStopSeeking,
	normalize(LabelAcceptDeal):  ActionAcceptDeal,
	normalize(LabelDeclineDeal): ActionDeclineDeal,
	normalize(LabelEndGame):     ActionEndGame,
	normalize(LabelSubscribe):   ActionSubscribe,
	normalize(LabelUnsubscribe): ActionUnsubscribe,
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Classify turns a raw payload into an Action. An empty payload (stickers,
// photos and the like arrive with no text) is a distinct valid input class,
// not an error.
func Classify(text string) Action {
	if strings.TrimSpace(text) == "" {
		return Action{Kind: ActionEmpty}
	}
	if kind, ok := labelKinds[normalize(text)]; ok {
		return Action{Kind: kind, Text: text}
	}
	return Action{Kind: ActionFreeText, Text: text}
}

// InboundMessage is one physical message received from the transport.
// MessageID is transport-assigned and keys duplicate suppression.
type InboundMessage struct {
	MessageID     string
	ParticipantID string
	DisplayName   string
	Text          string
	At            time.Time
}
