// Package event defines the closed set of episode event kinds and their
// per-share settlement rates. Incoming admin requests carry the kind as a
// string; ParseKind validates it against the closed enum so no dynamic field
// access ever reaches the episode document.
package event

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/castmarket/settlement-engine/internal/model"
)

// Kind is one episode event kind.
type Kind string

const (
	ChallengeWin  Kind = "challengeWin"
	ChallengeLoss Kind = "challengeLoss"
	VoteRight     Kind = "voteRight"
	VoteWrong     Kind = "voteWrong"
	IdolFound     Kind = "idolFound"
	IdolPlayed    Kind = "idolPlayed"
	VotedOut      Kind = "votedOut"
)

// ErrUnknownKind is returned for any kind outside the closed enum.
var ErrUnknownKind = errors.New("event: unknown event kind")

var allKinds = map[Kind]bool{
	ChallengeWin:  true,
	ChallengeLoss: true,
	VoteRight:     true,
	VoteWrong:     true,
	IdolFound:     true,
	IdolPlayed:    true,
	VotedOut:      true,
}

// ParseKind validates a request-supplied kind string.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !allKinds[k] {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
	return k, nil
}

// Rate returns the per-share bonus rate paid to long holders when the event
// fires for a survivor. Short holders are charged the same magnitude. Kinds
// with no stock effect (losses, wrong votes, the elimination itself) rate 0.
func (k Kind) Rate() decimal.Decimal {
	switch k {
	case ChallengeWin:
		return decimal.NewFromInt(5)
	case VoteRight:
		return decimal.NewFromInt(3)
	case IdolPlayed:
		return decimal.NewFromInt(8)
	case IdolFound:
		return decimal.NewFromInt(4)
	case ChallengeLoss, VoteWrong, VotedOut:
		return decimal.Zero
	}
	return decimal.Zero
}

// ShortPayoutRate is paid per short held for each survivor voted out.
var ShortPayoutRate = decimal.NewFromInt(10)

// Apply appends a survivor to the episode list matching the kind. The switch
// is exhaustive over the closed enum; ParseKind guarantees no other value.
func Apply(ep *model.Episode, k Kind, survivor string) error {
	switch k {
	case ChallengeWin:
		ep.ChallengeWins = append(ep.ChallengeWins, survivor)
	case ChallengeLoss:
		ep.ChallengeLosses = append(ep.ChallengeLosses, survivor)
	case VoteRight:
		ep.VotedRight = append(ep.VotedRight, survivor)
	case VoteWrong:
		ep.VotedWrong = append(ep.VotedWrong, survivor)
	case IdolFound:
		ep.IdolsFound = append(ep.IdolsFound, survivor)
	case IdolPlayed:
		ep.IdolsPlayed = append(ep.IdolsPlayed, survivor)
	case VotedOut:
		ep.VotedOut = append(ep.VotedOut, survivor)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, k)
	}
	return nil
}

// ScoredList pairs a bonus-bearing kind with the survivors the episode
// credits for it.
type ScoredList struct {
	Kind  Kind
	Names []string
}

// Scored returns the kinds that carry a stock bonus, paired with the episode
// list they read from. The order is fixed so settlement appends bonus log
// entries deterministically.
func Scored(ep *model.Episode) []ScoredList {
	return []ScoredList{
		{ChallengeWin, ep.ChallengeWins},
		{VoteRight, ep.VotedRight},
		{IdolPlayed, ep.IdolsPlayed},
		{IdolFound, ep.IdolsFound},
	}
}
