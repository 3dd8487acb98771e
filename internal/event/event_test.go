package event

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/castmarket/settlement-engine/internal/model"
)

func TestParseKind_Valid(t *testing.T) {
	for _, s := range []string{
		"challengeWin", "challengeLoss", "voteRight", "voteWrong",
		"idolFound", "idolPlayed", "votedOut",
	} {
		if _, err := ParseKind(s); err != nil {
			t.Errorf("ParseKind(%q) returned %v", s, err)
		}
	}
}

func TestParseKind_Unknown(t *testing.T) {
	for _, s := range []string{"", "ChallengeWin", "immunity", "challenge_win"} {
		if _, err := ParseKind(s); !errors.Is(err, ErrUnknownKind) {
			t.Errorf("ParseKind(%q) = %v, want ErrUnknownKind", s, err)
		}
	}
}

func TestRate_ScoredKinds(t *testing.T) {
	tests := []struct {
		kind Kind
		want int64
	}{
		{ChallengeWin, 5},
		{VoteRight, 3},
		{IdolPlayed, 8},
		{IdolFound, 4},
		{ChallengeLoss, 0},
		{VoteWrong, 0},
		{VotedOut, 0},
	}
	for _, tt := range tests {
		if got := tt.kind.Rate(); !got.Equal(decimal.NewFromInt(tt.want)) {
			t.Errorf("%s.Rate() = %s, want %d", tt.kind, got, tt.want)
		}
	}
}

func TestApply_RoutesToMatchingList(t *testing.T) {
	ep := &model.Episode{}
	if err := Apply(ep, VotedOut, "kara"); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if err := Apply(ep, ChallengeWin, "marco"); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if len(ep.VotedOut) != 1 || ep.VotedOut[0] != "kara" {
		t.Errorf("VotedOut = %v, want [kara]", ep.VotedOut)
	}
	if len(ep.ChallengeWins) != 1 || ep.ChallengeWins[0] != "marco" {
		t.Errorf("ChallengeWins = %v, want [marco]", ep.ChallengeWins)
	}
}

func TestApply_RepeatAppends(t *testing.T) {
	// Two wins in one episode pay twice; the list keeps duplicates.
	ep := &model.Episode{}
	Apply(ep, ChallengeWin, "kara")
	Apply(ep, ChallengeWin, "kara")
	if len(ep.ChallengeWins) != 2 {
		t.Errorf("ChallengeWins = %v, want two entries", ep.ChallengeWins)
	}
}

func TestScored_OnlyBonusKinds(t *testing.T) {
	ep := &model.Episode{
		ChallengeWins: []string{"a"},
		VotedOut:      []string{"b"},
		VotedWrong:    []string{"c"},
	}
	scored := Scored(ep)
	if len(scored) != 4 {
		t.Fatalf("Scored returned %d kinds, want 4", len(scored))
	}
	for _, sc := range scored {
		if sc.Kind.Rate().IsZero() {
			t.Errorf("scored kind %s has zero rate", sc.Kind)
		}
	}
}

func TestScored_FixedOrder(t *testing.T) {
	want := []Kind{ChallengeWin, VoteRight, IdolPlayed, IdolFound}
	for i := 0; i < 10; i++ {
		scored := Scored(&model.Episode{})
		for j, sc := range scored {
			if sc.Kind != want[j] {
				t.Fatalf("Scored[%d] = %s, want %s", j, sc.Kind, want[j])
			}
		}
	}
}
