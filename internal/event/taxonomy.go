package event

import "strings"

// Role is the actor's standing when the event happened.
type Role string

const (
	RoleHuman        Role = "human"
	RoleLearner      Role = "learner"
	RoleVolunteer    Role = "volunteer"
	RoleSeva         Role = "seva"
	RoleGuru         Role = "guru"
	RoleUnclassified Role = "unclassified"
)

var knownRoles = map[Role]struct{}{
	RoleHuman:     {},
	RoleLearner:   {},
	RoleVolunteer: {},
	RoleSeva:      {},
	RoleGuru:      {},
}

// ParseRole normalises s and returns RoleUnclassified for anything unknown.
func ParseRole(s string) Role {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := knownRoles[r]; ok {
		return r
	}
	return RoleUnclassified
}

// Roles lists the built-in roles in a stable order.
func Roles() []Role {
	return []Role{RoleHuman, RoleLearner, RoleVolunteer, RoleSeva, RoleGuru}
}

// Action is the act being scored. The built-in set can be extended from
// configuration; anything that resolves to neither is ActionUnclassified.
type Action string

const (
	ActionHelp              Action = "help"
	ActionCompletingLessons Action = "completing_lessons"
	ActionHelpingPeers      Action = "helping_peers"
	ActionSolvingDoubts     Action = "solving_doubts"
	ActionSelflessService   Action = "selfless_service"
	ActionDonate            Action = "donate"
	ActionMeditate          Action = "meditate"
	ActionCheat             Action = "cheat"
	ActionDisrespectGuru    Action = "disrespect_guru"
	ActionBreakPromise      Action = "break_promise"
	ActionFalseSpeech       Action = "false_speech"
	ActionTheft             Action = "theft"
	ActionHarmOthers        Action = "harm_others"
	ActionViolence          Action = "violence"
	ActionUnclassified      Action = "unclassified"
)

var knownActions = map[Action]struct{}{
	ActionHelp: {}, ActionCompletingLessons: {}, ActionHelpingPeers: {}, ActionSolvingDoubts: {},
	ActionSelflessService: {}, ActionDonate: {}, ActionMeditate: {}, ActionCheat: {},
	ActionDisrespectGuru: {}, ActionBreakPromise: {}, ActionFalseSpeech: {}, ActionTheft: {},
	ActionHarmOthers: {}, ActionViolence: {},
}

// Normalize lower-cases and trims the action name.
func (a Action) Normalize() Action {
	return Action(strings.ToLower(strings.TrimSpace(string(a))))
}

// ParseAction normalises s against the built-in actions and returns
// ActionUnclassified for anything else.
func ParseAction(s string) Action {
	a := Action(s).Normalize()
	if _, ok := knownActions[a]; ok {
		return a
	}
	return ActionUnclassified
}

// Taxonomy resolves raw role and action names to the built-in variants plus
// the ones configuration adds. It is immutable once built.
type Taxonomy struct {
	roles   map[Role]struct{}
	actions map[Action]struct{}
}

// NewTaxonomy extends the built-in variants with extra role and action names.
func NewTaxonomy(roles, actions []string) *Taxonomy {
	t := &Taxonomy{roles: make(map[Role]struct{}), actions: make(map[Action]struct{})}
	for _, r := range roles {
		if r := Role(strings.ToLower(strings.TrimSpace(r))); r != "" && r != RoleUnclassified {
			t.roles[r] = struct{}{}
		}
	}
	for _, a := range actions {
		if a := Action(a).Normalize(); a != "" && a != ActionUnclassified {
			t.actions[a] = struct{}{}
		}
	}
	return t
}

// Role resolves s, falling back to RoleUnclassified.
func (t *Taxonomy) Role(s string) Role {
	if r := ParseRole(s); r != RoleUnclassified {
		return r
	}
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := t.roles[r]; ok {
		return r
	}
	return RoleUnclassified
}

// Action resolves s, falling back to ActionUnclassified.
func (t *Taxonomy) Action(s string) Action {
	if a := ParseAction(s); a != ActionUnclassified {
		return a
	}
	a := Action(s).Normalize()
	if _, ok := t.actions[a]; ok {
		return a
	}
	return ActionUnclassified
}
