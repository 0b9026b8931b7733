package event_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gyaneshwarpardhi/karmachain/internal/event"
)

func TestTypeClassification(t *testing.T) {
	tests := []struct {
		typ       event.Type
		valid     bool
		scored    bool
		atonement bool
	}{
		{event.TypeLifeEvent, true, true, false},
		{event.TypeAtonement, true, true, true},
		{event.TypeAtonementWithFile, true, true, true},
		{event.TypeAppeal, true, false, false},
		{event.TypeDeathEvent, true, false, false},
		{event.TypeStatsRequest, true, false, false},
		{event.Type("gossip"), false, false, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			assert.Equal(t, tt.valid, tt.typ.Valid())
			assert.Equal(t, tt.scored, tt.typ.Scored())
			assert.Equal(t, tt.atonement, tt.typ.IsAtonement())
		})
	}
}

func TestParseRole(t *testing.T) {
	assert.Equal(t, event.RoleGuru, event.ParseRole("  Guru "))
	assert.Equal(t, event.RoleHuman, event.ParseRole("human"))
	assert.Equal(t, event.RoleUnclassified, event.ParseRole("wizard"))
	assert.Equal(t, event.RoleUnclassified, event.ParseRole(""))
	assert.Len(t, event.Roles(), 5)
}

func TestActionNormalize(t *testing.T) {
	assert.Equal(t, event.ActionSelflessService, event.Action(" Selfless_Service\t").Normalize())
}

func TestParseAction(t *testing.T) {
	assert.Equal(t, event.ActionViolence, event.ParseAction("VIOLENCE"))
	assert.Equal(t, event.ActionUnclassified, event.ParseAction("juggling"))
	assert.Equal(t, event.ActionUnclassified, event.ParseAction(""))
}

func TestTaxonomyExtendsBuiltins(t *testing.T) {
	tx := event.NewTaxonomy([]string{"Pilgrim", ""}, []string{"chanting", "unclassified"})

	assert.Equal(t, event.RoleGuru, tx.Role("guru"))
	assert.Equal(t, event.Role("pilgrim"), tx.Role(" pilgrim"))
	assert.Equal(t, event.RoleUnclassified, tx.Role("wizard"))

	assert.Equal(t, event.ActionCheat, tx.Action("cheat"))
	assert.Equal(t, event.Action("chanting"), tx.Action("Chanting"))
	assert.Equal(t, event.ActionUnclassified, tx.Action("juggling"))
	assert.Equal(t, event.ActionUnclassified, tx.Action("unclassified"))
}

func TestIntensityAndCounterpart(t *testing.T) {
	ev := event.Event{}
	assert.Equal(t, 1.0, ev.EffectiveIntensity())
	assert.False(t, ev.HasCounterpart())

	ev.Intensity = 1.5
	ev.CounterpartID = "  "
	assert.Equal(t, 1.5, ev.EffectiveIntensity())
	assert.False(t, ev.HasCounterpart())

	ev.CounterpartID = "bob"
	assert.True(t, ev.HasCounterpart())
}
