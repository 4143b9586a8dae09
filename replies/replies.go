// Package replies holds the user-facing copy and the suggested-reply
// derivation. Suggested replies are a keyboard affordance: the dispatcher
// accepts any free text no matter what was suggested.
package replies

import (
	"fmt"

	"haggle-lab/domain"
)

const (
	Welcome = "Hi! This is a role-play game about selling a music subscription.\n" +
		"You will play either the buyer or the seller, drawn at random each game.\n" +
		"Press \"" + domain.LabelStartGame + "\" to look for a counterparty right away.\n" +
		"Press \"" + domain.LabelSubscribe + "\" to get pinged when someone is ready to play.\n" +
		"Good haggling!"

	IntroBuyer = "The game is on! You are the potential BUYER of a music subscription.\n" +
		"Figure out whether you need it at all and, if you do, get it cheap.\n" +
		"When you are done, accept or decline the deal."

	IntroSeller = "The game is on! You are the SELLER of a music subscription.\n" +
		"Convince the buyer they badly need one and sell it dear.\n" +
		"If the conversation goes nowhere, you can end the game without a deal."

	NoOneAvailable = "No free players right now. The game will start as soon as " +
		"another player is ready.\nIf you change your mind, press \"" + domain.LabelStopSeeking + "\"."

	AvailabilityPing = "Someone is ready for a new game! You can join in."

	AlreadySeeking = "You are already in the queue. The game will start as soon " +
		"as another player is ready."

	SeekingStopped = "All right, no game for now. Press \"" + domain.LabelStartGame +
		"\" whenever you are ready again."

	PromptTerms = "Great, a deal! Please describe the agreed terms briefly " +
		"(the price you settled on, any special conditions). One message, please."

	CounterpartyAccepted = "Your counterparty accepted the deal! Please describe " +
		"the agreed terms briefly (price, special conditions). One message, please."

	PromptWhyNot = "What a pity! Please tell in one message why the deal did not happen."

	CounterpartyDeclined = "Your counterparty declined the deal. Thanks for the game!"

	CounterpartyEnded = "The seller ended the game without a deal. Thanks for the game!"

	FeedbackThanks = "Got it. Thanks a lot for the game and the feedback, come again!"

	EmptyPayload = "I don't support stickers, photos and such yet.\n" +
		"Please stick to text and emoji."

	Busy = "Too many messages at once, this one got lost. Please send it again."

	SubscribedNow       = "You will now be notified about new players."
	AlreadySubscribed   = "You are already subscribed to new player notifications!"
	UnsubscribedNow     = "You will no longer be notified about new players."
	AlreadyUnsubscribed = "You are already unsubscribed from new player notifications!"
)

// AlreadyInGame answers a start request from someone who is already paired.
func AlreadyInGame(role domain.Role) string {
	return fmt.Sprintf("You are already in a game! Your role is %s. Finish this one first.", role)
}

// IntroFor returns the role-specific game opening.
func IntroFor(role domain.Role) string {
	if role == domain.RoleBuyer {
		return IntroBuyer
	}
	return IntroSeller
}

// Invalid restates the valid next actions for the participant's state.
// Rejected actions always get an explanatory reply, never a silent drop.
func Invalid(p domain.Participant) string {
	switch p.State {
	case domain.StateIdle:
		return "Nothing to do there. Press \"" + domain.LabelStartGame + "\" to play."
	case domain.StateSeeking:
		return "You are waiting for a counterparty. Press \"" + domain.LabelStopSeeking +
			"\" if you don't want to play."
	case domain.StatePaired:
		if p.Role == domain.RoleBuyer {
			return fmt.Sprintf("You are in a game as the %s. Write to your counterparty, "+
				"or press \"%s\" / \"%s\".", p.Role, domain.LabelAcceptDeal, domain.LabelDeclineDeal)
		}
		return fmt.Sprintf("You are in a game as the %s. Write to your counterparty, "+
			"or press \"%s\".", p.Role, domain.LabelEndGame)
	case domain.StateFeedbackTerms:
		return PromptTerms
	case domain.StateFeedbackWhyNot:
		return PromptWhyNot
	}
	return Welcome
}

// Reprompt repeats the pending feedback question after an empty payload.
func Reprompt(state domain.State) string {
	if state == domain.StateFeedbackTerms {
		return PromptTerms
	}
	return PromptWhyNot
}

// SuggestsFor derives the keyboard for a participant's current state: the
// notification toggle plus the state-appropriate game action.
func SuggestsFor(p domain.Participant) []string {
	if p.State.Feedback() {
		// Free-text question: no keyboard, any text is the answer.
		return nil
	}

	subscription := domain.LabelSubscribe
	if p.NotificationsEnabled {
		subscription = domain.LabelUnsubscribe
	}

	switch p.State {
	case domain.StateIdle:
		return []string{subscription, domain.LabelStartGame}
	case domain.StateSeeking:
		return []string{subscription, domain.LabelStopSeeking}
	case domain.StatePaired:
		if p.Role == domain.RoleBuyer {
			return []string{subscription, domain.LabelAcceptDeal, domain.LabelDeclineDeal}
		}
		return []string{subscription, domain.LabelEndGame}
	}
	return []string{subscription, domain.LabelStartGame}
}
