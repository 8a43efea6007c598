package upsell

import (
	"testing"
	"time"

	"bondengine/pkg/bond"
	"bondengine/pkg/intent"
	"bondengine/pkg/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testRules = []Rule{
	{Intent: "love_declaration", MinTier: "girlfriend", Offer: Offer{Type: "premium:soulmate", Message: "Stay with me forever, {name}?", Price: 29.99}},
	{Intent: "flirt", MinScore: 45, Offer: Offer{Type: TypePhoto, Message: "Want a picture, {name}?", Price: 9.99}},
	{Intent: "flirt", MinMessages: 10, Offer: Offer{Type: TypeVoice, Message: "Hear my voice?", Price: 4.99}},
	{MinScore: 95, Offer: Offer{Type: TypeVoice, Message: "A song just for you", Price: 2.99}},
}

func profileWith(messages int, name string) *memory.Profile {
	p := memory.NewProfile("u1", "bonnie", time.Unix(0, 0))
	p.MessageCount = messages
	if name != "" {
		p.SetDetail(memory.FieldName, name)
	}
	return p
}

func TestEvaluate(t *testing.T) {
	ev, err := NewEvaluator(testRules, nil, "babe")
	require.NoError(t, err)

	tests := []struct {
		name     string
		label    intent.Label
		score    float64
		messages int
		wantType string
		wantMsg  string
	}{
		{"nothing matches", "casual", 20, 3, "", ""},
		{"tier gate not met", "love_declaration", 70, 100, "", ""},
		{"tier gate met", "love_declaration", 76, 100, "premium:soulmate", "Stay with me forever, babe?"},
		{"first matching rule wins", "flirt", 50, 50, TypePhoto, "Want a picture, babe?"},
		{"falls through to message gate", "flirt", 30, 12, TypeVoice, "Hear my voice?"},
		{"message gate not met", "flirt", 30, 5, "", ""},
		{"any intent rule", "casual", 96, 0, TypeVoice, "A song just for you"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			offer := ev.Evaluate(tt.label, profileWith(tt.messages, ""), bond.State{BondScore: tt.score})
			if tt.wantType == "" {
				assert.Nil(t, offer)
				return
			}
			require.NotNil(t, offer)
			assert.Equal(t, tt.wantType, offer.Type)
			assert.Equal(t, tt.wantMsg, offer.Message)
		})
	}
}

func TestEvaluate_UsesKnownName(t *testing.T) {
	ev, err := NewEvaluator(testRules, nil, "")
	require.NoError(t, err)

	offer := ev.Evaluate("flirt", profileWith(0, "Sam"), bond.State{BondScore: 60})
	require.NotNil(t, offer)
	assert.Equal(t, "Want a picture, Sam?", offer.Message)
}

func TestEvaluate_DoesNotMutateRules(t *testing.T) {
	ev, err := NewEvaluator(testRules, nil, "babe")
	require.NoError(t, err)

	ev.Evaluate("flirt", profileWith(0, "Sam"), bond.State{BondScore: 60})
	offer := ev.Evaluate("flirt", profileWith(0, ""), bond.State{BondScore: 60})
	require.NotNil(t, offer)
	assert.Equal(t, "Want a picture, babe?", offer.Message)
}

func TestEvaluate_AtMostOneOffer(t *testing.T) {
	ev, err := NewEvaluator(testRules, nil, "babe")
	require.NoError(t, err)

	// Every rule matches this call; only the first is returned.
	offer := ev.Evaluate("flirt", profileWith(500, ""), bond.State{BondScore: 99})
	require.NotNil(t, offer)
	assert.Equal(t, TypePhoto, offer.Type)
}

func TestNewEvaluator_Validation(t *testing.T) {
	tests := []struct {
		name string
		rule Rule
	}{
		{"unknown min tier", Rule{MinTier: "wife", Offer: Offer{Type: TypeVoice, Message: "x"}}},
		{"unknown type", Rule{Offer: Offer{Type: "hug", Message: "x"}}},
		{"unknown premium tier", Rule{Offer: Offer{Type: "premium:wife", Message: "x"}}},
		{"negative price", Rule{Offer: Offer{Type: TypePhoto, Message: "x", Price: -1}}},
		{"empty message", Rule{Offer: Offer{Type: TypePhoto, Message: " "}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEvaluator([]Rule{tt.rule}, nil, "")
			assert.Error(t, err)
		})
	}
}

func TestPremiumTier(t *testing.T) {
	name, ok := Offer{Type: "premium:soulmate"}.PremiumTier()
	assert.True(t, ok)
	assert.Equal(t, "soulmate", name)

	_, ok = Offer{Type: TypeVoice}.PremiumTier()
	assert.False(t, ok)
}
