// Copyright 2017 Vector Creations Ltd
// Copyright 2018 New Vector Ltd
// Copyright 2019-2020 The Matrix.org Foundation C.I.C.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gomatrixserverlib

import (
	"encoding/json"
	"fmt"
)

// StateKeyTuple identifies one state slot: the (type, state_key) pair a
// state map is keyed by.
type StateKeyTuple struct {
	EventType string
	StateKey  string
}

// StateNeeded lists the state slots an event's authorization depends on,
// per the per-type rules of §4.5. It is computed once per event/proto-event
// and then used both to fetch the right auth_events when building a new
// event and to know what state to pull before authorizing an inbound one.
type StateNeeded struct {
	Create      bool
	JoinRules   bool
	PowerLevels bool
	// Member lists the user IDs whose m.room.member state is needed.
	Member []string
	// ThirdPartyInvite lists the token state keys of m.room.third_party_invite
	// events needed (for third-party invite exchange).
	ThirdPartyInvite []string
}

// Tuples renders StateNeeded as the (type, state_key) slots to fetch.
func (s StateNeeded) Tuples() []StateKeyTuple {
	var tuples []StateKeyTuple
	if s.Create {
		tuples = append(tuples, StateKeyTuple{"m.room.create", ""})
	}
	if s.JoinRules {
		tuples = append(tuples, StateKeyTuple{"m.room.join_rules", ""})
	}
	if s.PowerLevels {
		tuples = append(tuples, StateKeyTuple{"m.room.power_levels", ""})
	}
	for _, m := range dedupeStrings(s.Member) {
		tuples = append(tuples, StateKeyTuple{"m.room.member", m})
	}
	for _, t := range dedupeStrings(s.ThirdPartyInvite) {
		tuples = append(tuples, StateKeyTuple{"m.room.third_party_invite", t})
	}
	return tuples
}

func dedupeStrings(in []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// StateNeededForProtoEvent is StateNeededForAuth applied to a single
// in-flight ProtoEvent, before it has been signed.
func StateNeededForProtoEvent(proto *ProtoEvent) (StateNeeded, error) {
	return stateNeededForEvent(proto.Type, proto.Sender, proto.StateKey, proto.Content)
}

// StateNeededForAuth is the union of the state needed to authorize every
// event in `events`.
func StateNeededForAuth(events []Event) StateNeeded {
	var result StateNeeded
	for _, ev := range events {
		needed, err := stateNeededForEvent(ev.Type(), ev.Sender(), ev.StateKey(), ev.Content())
		if err != nil {
			continue
		}
		result.Create = result.Create || needed.Create
		result.JoinRules = result.JoinRules || needed.JoinRules
		result.PowerLevels = result.PowerLevels || needed.PowerLevels
		result.Member = append(result.Member, needed.Member...)
		result.ThirdPartyInvite = append(result.ThirdPartyInvite, needed.ThirdPartyInvite...)
	}
	return result
}

func stateNeededForEvent(eventType, sender string, stateKey *string, content []byte) (StateNeeded, error) {
	if eventType == "m.room.create" {
		// The create event cites no auth events at all.
		return StateNeeded{}, nil
	}

	needed := StateNeeded{
		Create:      true,
		PowerLevels: true,
		Member:      []string{sender},
	}

	if eventType != "m.room.member" {
		return needed, nil
	}
	if stateKey == nil {
		return needed, fmt.Errorf("gomatrixserverlib: m.room.member event missing state_key")
	}
	needed.Member = append(needed.Member, *stateKey)

	var memberContent struct {
		Membership    string `json:"membership"`
		ThirdPartyInv *struct {
			Signed struct {
				Token string `json:"token"`
			} `json:"signed"`
		} `json:"third_party_invite"`
	}
	if len(content) > 0 {
		_ = json.Unmarshal(content, &memberContent)
	}

	switch memberContent.Membership {
	case "join", "knock":
		needed.JoinRules = true
	case "invite":
		if memberContent.ThirdPartyInv != nil {
			needed.ThirdPartyInvite = append(needed.ThirdPartyInvite, memberContent.ThirdPartyInv.Signed.Token)
		}
	}
	return needed, nil
}

// AuthEvents is a (type, state_key) -> Event lookup over a candidate state,
// the shape the auth rules engine consults to resolve an event's cited
// auth_events into actual state.
type AuthEvents struct {
	state map[StateKeyTuple]*Event
}

// NewAuthEvents builds an AuthEvents lookup seeded with `events` (may be
// nil/empty, with events added later via AddEvent).
func NewAuthEvents(events []Event) (AuthEvents, error) {
	a := AuthEvents{state: map[StateKeyTuple]*Event{}}
	for i := range events {
		if err := a.AddEvent(&events[i]); err != nil {
			return AuthEvents{}, err
		}
	}
	return a, nil
}

// AddEvent indexes a single state event. Non-state events are ignored.
func (a *AuthEvents) AddEvent(ev *Event) error {
	if a.state == nil {
		a.state = map[StateKeyTuple]*Event{}
	}
	if ev.StateKey() == nil {
		return nil
	}
	a.state[StateKeyTuple{ev.Type(), *ev.StateKey()}] = ev
	return nil
}

func (a AuthEvents) Create() (*Event, error)      { return a.lookup("m.room.create", "") }
func (a AuthEvents) JoinRules() (*Event, error)    { return a.lookup("m.room.join_rules", "") }
func (a AuthEvents) PowerLevels() (*Event, error)  { return a.lookup("m.room.power_levels", "") }
func (a AuthEvents) Member(stateKey string) (*Event, error) {
	return a.lookup("m.room.member", stateKey)
}
func (a AuthEvents) ThirdPartyInvite(token string) (*Event, error) {
	return a.lookup("m.room.third_party_invite", token)
}

func (a AuthEvents) lookup(eventType, stateKey string) (*Event, error) {
	ev, ok := a.state[StateKeyTuple{eventType, stateKey}]
	if !ok {
		return nil, nil
	}
	return ev, nil
}

// AuthEventReferences returns the event IDs of the state slots this
// StateNeeded names that are actually present in `authEvents`, suitable for
// use as an event's auth_events list.
func (s StateNeeded) AuthEventReferences(authEvents AuthEvents) ([]string, error) {
	var refs []string
	for _, tuple := range s.Tuples() {
		ev, err := authEvents.lookup(tuple.EventType, tuple.StateKey)
		if err != nil {
			return nil, err
		}
		if ev != nil {
			refs = append(refs, ev.EventID())
		}
	}
	return refs, nil
}

// PowerLevelContent is the parsed content of m.room.power_levels.
type PowerLevelContent struct {
	Ban           int64            `json:"ban"`
	Events        map[string]int64 `json:"events"`
	EventsDefault int64            `json:"events_default"`
	Invite        int64            `json:"invite"`
	Kick          int64            `json:"kick"`
	Redact        int64            `json:"redact"`
	StateDefault  int64            `json:"state_default"`
	Users         map[string]int64 `json:"users"`
	UsersDefault  int64            `json:"users_default"`
}

// DefaultPowerLevelContent returns the power levels a room has before any
// m.room.power_levels event has been sent, with `creator` granted 100.
func DefaultPowerLevelContent(creator string) PowerLevelContent {
	return PowerLevelContent{
		Ban:           50,
		Events:        map[string]int64{"m.room.power_levels": 100, "m.room.history_visibility": 100},
		EventsDefault: 0,
		Invite:        0,
		Kick:          50,
		Redact:        50,
		StateDefault:  50,
		Users:         map[string]int64{creator: 100},
		UsersDefault:  0,
	}
}

// UserLevel returns the power level of userID.
func (p PowerLevelContent) UserLevel(userID string) int64 {
	if lvl, ok := p.Users[userID]; ok {
		return lvl
	}
	return p.UsersDefault
}

// EventLevel returns the power level required to send an event of type
// eventType; isState selects between StateDefault and EventsDefault when
// there's no explicit per-type override.
func (p PowerLevelContent) EventLevel(eventType string, isState bool) int64 {
	if lvl, ok := p.Events[eventType]; ok {
		return lvl
	}
	if isState {
		return p.StateDefault
	}
	return p.EventsDefault
}

func parsePowerLevelContent(ev *Event) (PowerLevelContent, error) {
	if ev == nil {
		return PowerLevelContent{}, nil
	}
	var p PowerLevelContent
	if err := json.Unmarshal(ev.Content(), &p); err != nil {
		return PowerLevelContent{}, err
	}
	return p, nil
}

// NotAllowed is returned by Allowed when an event fails authorization.
// Reason is a short, stable machine-checkable tag; Details is free text for
// logs.
type NotAllowed struct {
	Reason  string
	Details string
}

func (e *NotAllowed) Error() string {
	if e.Details == "" {
		return fmt.Sprintf("gomatrixserverlib: event not allowed: %s", e.Reason)
	}
	return fmt.Sprintf("gomatrixserverlib: event not allowed: %s (%s)", e.Reason, e.Details)
}

func notAllowedf(reason, format string, args ...interface{}) error {
	return &NotAllowed{Reason: reason, Details: fmt.Sprintf(format, args...)}
}

// Allowed decides whether `event` is authorized against the candidate state
// `authEvents` resolves to, per §4.5. It is pure: given the same event and
// state it always returns the same verdict.
func Allowed(event Event, authEvents *AuthEvents) error {
	switch event.Type() {
	case "m.room.create":
		return authCreate(event)
	case "m.room.member":
		return authMember(event, authEvents)
	}

	create, err := authEvents.Create()
	if err != nil {
		return err
	}
	if create == nil {
		return &NotAllowed{Reason: "no_create_event"}
	}

	memberEv, err := authEvents.Member(event.Sender())
	if err != nil {
		return err
	}
	if !isJoined(memberEv) {
		return notAllowedf("sender_not_joined", "%s is not joined to the room", event.Sender())
	}

	plEv, err := authEvents.PowerLevels()
	if err != nil {
		return err
	}
	creatorID, _ := createContentCreator(create)
	pl := DefaultPowerLevelContent(creatorID)
	if plEv != nil {
		if pl, err = parsePowerLevelContent(plEv); err != nil {
			return err
		}
	}
	senderLevel := pl.UserLevel(event.Sender())

	switch event.Type() {
	case "m.room.power_levels":
		return authPowerLevelsChange(event, pl, senderLevel)
	case "m.room.redaction":
		return authRedaction(event, pl, senderLevel)
	default:
		required := pl.EventLevel(event.Type(), event.StateKey() != nil)
		if senderLevel < required {
			return notAllowedf("insufficient_power", "%s has power %d, needs %d to send %s", event.Sender(), senderLevel, required, event.Type())
		}
		return nil
	}
}

func createContentCreator(create *Event) (string, error) {
	var c struct {
		Creator string `json:"creator"`
	}
	if err := json.Unmarshal(create.Content(), &c); err != nil {
		return "", err
	}
	return c.Creator, nil
}

func authCreate(event Event) error {
	if event.PrevEventIDs() != nil && len(event.PrevEventIDs()) > 0 {
		return notAllowedf("create_not_first", "m.room.create must be the first event in the room")
	}
	_, senderDomain, err := SplitID('@', event.Sender())
	if err != nil {
		return err
	}
	creator, err := createContentCreator(&event)
	if err != nil {
		return notAllowedf("bad_create_content", "%s", err)
	}
	if creator == "" {
		return nil
	}
	_, creatorDomain, err := SplitID('@', creator)
	if err != nil {
		return notAllowedf("bad_creator", "%s", err)
	}
	if senderDomain != creatorDomain {
		return notAllowedf("creator_domain_mismatch", "sender domain %s != creator domain %s", senderDomain, creatorDomain)
	}
	return nil
}

func isJoined(ev *Event) bool {
	if ev == nil {
		return false
	}
	return membershipOf(ev) == "join"
}

func membershipOf(ev *Event) string {
	if ev == nil {
		return "leave"
	}
	var c struct {
		Membership string `json:"membership"`
	}
	_ = json.Unmarshal(ev.Content(), &c)
	if c.Membership == "" {
		return "leave"
	}
	return c.Membership
}

func authMember(event Event, authEvents *AuthEvents) error {
	if event.StateKey() == nil {
		return notAllowedf("missing_state_key", "m.room.member requires a state_key")
	}
	target := *event.StateKey()
	newMembership := membershipOf(&event)

	create, err := authEvents.Create()
	if err != nil {
		return err
	}
	if create == nil {
		return &NotAllowed{Reason: "no_create_event"}
	}

	targetPrev, err := authEvents.Member(target)
	if err != nil {
		return err
	}
	senderPrev, err := authEvents.Member(event.Sender())
	if err != nil {
		return err
	}

	plEv, err := authEvents.PowerLevels()
	if err != nil {
		return err
	}
	creatorID, _ := createContentCreator(create)
	pl := DefaultPowerLevelContent(creatorID)
	if plEv != nil {
		if pl, err = parsePowerLevelContent(plEv); err != nil {
			return err
		}
	}

	joinRulesEv, err := authEvents.JoinRules()
	if err != nil {
		return err
	}
	joinRule := "invite"
	if joinRulesEv != nil {
		var c struct {
			JoinRule string `json:"join_rule"`
		}
		_ = json.Unmarshal(joinRulesEv.Content(), &c)
		if c.JoinRule != "" {
			joinRule = c.JoinRule
		}
	}

	switch newMembership {
	case "join":
		if event.Sender() != target {
			return notAllowedf("join_sender_mismatch", "only %s may set their own join", target)
		}
		if membershipOf(targetPrev) == "ban" {
			return notAllowedf("banned", "%s is banned", target)
		}
		if membershipOf(targetPrev) == "join" {
			return nil // already joined; idempotent
		}
		if targetPrev == nil && creatorID == target {
			return nil // the room creator's own initial join
		}
		switch joinRule {
		case "public":
			return nil
		case "invite", "knock", "knock_restricted", "restricted":
			if membershipOf(targetPrev) == "invite" {
				return nil
			}
			if joinRule == "restricted" || joinRule == "knock_restricted" {
				var content struct {
					JoinAuthorisedViaUsersServer string `json:"join_authorised_via_users_server"`
				}
				_ = json.Unmarshal(event.Content(), &content)
				if content.JoinAuthorisedViaUsersServer != "" {
					authoriserPrev, err := authEvents.Member(content.JoinAuthorisedViaUsersServer)
					if err != nil {
						return err
					}
					if isJoined(authoriserPrev) && pl.UserLevel(content.JoinAuthorisedViaUsersServer) >= pl.Invite {
						return nil
					}
				}
				if joinRule == "knock_restricted" && membershipOf(targetPrev) == "knock" {
					return nil
				}
			}
			return notAllowedf("join_not_permitted", "join_rule %s does not permit %s to join without invite", joinRule, target)
		default:
			return notAllowedf("unknown_join_rule", "%s", joinRule)
		}

	case "invite":
		if !isJoined(senderPrev) {
			return notAllowedf("sender_not_joined", "%s must be joined to invite", event.Sender())
		}
		if membershipOf(targetPrev) == "join" || membershipOf(targetPrev) == "ban" {
			return notAllowedf("target_already_member_or_banned", "%s is already joined or banned", target)
		}
		if pl.UserLevel(event.Sender()) < pl.Invite {
			return notAllowedf("insufficient_power", "%s lacks invite power", event.Sender())
		}
		return nil

	case "leave":
		if event.Sender() == target {
			if membershipOf(targetPrev) == "join" || membershipOf(targetPrev) == "invite" || membershipOf(targetPrev) == "knock" {
				return nil
			}
			return notAllowedf("not_in_room", "%s cannot leave a room they are not in", target)
		}
		if !isJoined(senderPrev) {
			return notAllowedf("sender_not_joined", "%s must be joined to kick", event.Sender())
		}
		senderLevel := pl.UserLevel(event.Sender())
		targetLevel := pl.UserLevel(target)
		if senderLevel < pl.Kick {
			return notAllowedf("insufficient_power", "%s lacks kick power", event.Sender())
		}
		if senderLevel <= targetLevel {
			return notAllowedf("insufficient_power", "%s cannot kick equal/higher power user %s", event.Sender(), target)
		}
		return nil

	case "ban":
		if !isJoined(senderPrev) {
			return notAllowedf("sender_not_joined", "%s must be joined to ban", event.Sender())
		}
		senderLevel := pl.UserLevel(event.Sender())
		targetLevel := pl.UserLevel(target)
		if senderLevel < pl.Ban {
			return notAllowedf("insufficient_power", "%s lacks ban power", event.Sender())
		}
		if senderLevel <= targetLevel {
			return notAllowedf("insufficient_power", "%s cannot ban equal/higher power user %s", event.Sender(), target)
		}
		return nil

	case "knock":
		if event.Sender() != target {
			return notAllowedf("knock_sender_mismatch", "only %s may knock for themselves", target)
		}
		if joinRule != "knock" && joinRule != "knock_restricted" {
			return notAllowedf("knock_not_permitted", "join_rule %s does not permit knocking", joinRule)
		}
		if membershipOf(targetPrev) == "join" || membershipOf(targetPrev) == "ban" {
			return notAllowedf("already_member_or_banned", "%s is already joined or banned", target)
		}
		return nil

	default:
		return notAllowedf("unknown_membership", "%s", newMembership)
	}
}

func authPowerLevelsChange(event Event, oldLevels PowerLevelContent, senderLevel int64) error {
	var newLevels PowerLevelContent
	if err := json.Unmarshal(event.Content(), &newLevels); err != nil {
		return notAllowedf("bad_power_levels_content", "%s", err)
	}
	if senderLevel < oldLevels.EventLevel("m.room.power_levels", true) {
		return notAllowedf("insufficient_power", "sender cannot change power levels")
	}

	checks := []struct{ old, new_ int64 }{
		{oldLevels.Ban, newLevels.Ban},
		{oldLevels.Kick, newLevels.Kick},
		{oldLevels.Redact, newLevels.Redact},
		{oldLevels.Invite, newLevels.Invite},
		{oldLevels.EventsDefault, newLevels.EventsDefault},
		{oldLevels.StateDefault, newLevels.StateDefault},
		{oldLevels.UsersDefault, newLevels.UsersDefault},
	}
	for _, c := range checks {
		if c.old != c.new_ && (c.old > senderLevel || c.new_ > senderLevel) {
			return notAllowedf("cannot_raise_above_own_level", "cannot set a level above %d", senderLevel)
		}
	}
	allUsers := map[string]bool{}
	for u := range oldLevels.Users {
		allUsers[u] = true
	}
	for u := range newLevels.Users {
		allUsers[u] = true
	}
	for u := range allUsers {
		oldLvl := oldLevels.UserLevel(u)
		newLvl := newLevels.UserLevel(u)
		if oldLvl == newLvl {
			continue
		}
		if newLvl > senderLevel {
			return notAllowedf("cannot_raise_above_own_level", "cannot raise %s above own level %d", u, senderLevel)
		}
		if oldLvl >= senderLevel && u != event.Sender() {
			return notAllowedf("cannot_demote_peer_or_superior", "cannot change level of %s who is at or above own level", u)
		}
	}
	return nil
}

func authRedaction(event Event, pl PowerLevelContent, senderLevel int64) error {
	if senderLevel >= pl.Redact {
		return nil
	}
	// A sender below the redact level is refused even when redacting their
	// own event: comparing against the redacted event's sender needs the
	// event store, which this pure function doesn't have, and no caller
	// (helpers.CheckForSoftFail included) makes that comparison.
	return notAllowedf("insufficient_power", "%s lacks redact power", event.Sender())
}
