package protocol

import (
	"encoding/json"
	"strconv"
)

// Payload object keys touched by presence overrides.
const (
	KeyPlayerPresence  = "playerPresenceData"
	KeyMatchPresence   = "matchPresenceData"
	KeyPartyPresence   = "partyPresenceData"
	KeyPremierPresence = "premierPresenceData"
)

// QueuePlaceholder is the queue id the client uses while no queue is selected.
const QueuePlaceholder = "newmap"

// Provisioning flows derived from the queue id.
const (
	FlowMatchmaking = "Matchmaking"
	FlowInvalid     = "Invalid"
)

// PresenceOverrides is a sparse set of fields to overlay on a captured
// presence payload. Nil pointers and empty strings mean "leave untouched".
type PresenceOverrides struct {
	Show string `json:"show,omitempty"`

	CompetitiveTier     *uint64 `json:"competitiveTier,omitempty"`
	AccountLevel        *uint64 `json:"accountLevel,omitempty"`
	LeaderboardPosition *uint64 `json:"leaderboardPosition,omitempty"`
	PlayerCardID        string  `json:"playerCardId,omitempty"`
	PlayerTitleID       string  `json:"playerTitleId,omitempty"`

	SessionLoopState *string `json:"sessionLoopState,omitempty"`
	QueueID          string  `json:"queueId,omitempty"`

	PartySize                     *uint64 `json:"partySize,omitempty"`
	MaxPartySize                  *uint64 `json:"maxPartySize,omitempty"`
	PartyOwnerMatchScoreAllyTeam  *uint64 `json:"partyOwnerMatchScoreAllyTeam,omitempty"`
	PartyOwnerMatchScoreEnemyTeam *uint64 `json:"partyOwnerMatchScoreEnemyTeam,omitempty"`

	PremierDivision *uint64 `json:"premierDivision,omitempty"`
	PremierTag      string  `json:"premierTag,omitempty"`
	RosterName      string  `json:"rosterName,omitempty"`
}

// ShowOrDefault returns the requested show, defaulting to "chat".
func (o PresenceOverrides) ShowOrDefault() string {
	if o.Show == "" {
		return ShowChat
	}
	return o.Show
}

func (o PresenceOverrides) touchesMatch() bool {
	return o.SessionLoopState != nil || o.QueueID != ""
}

// ApplyOverrides returns a deep copy of template with the supplied overrides
// applied. Fields not named by o keep their template values.
func ApplyOverrides(template map[string]any, o PresenceOverrides) map[string]any {
	payload := ClonePayload(template)
	if payload == nil {
		payload = make(map[string]any)
	}

	if player, ok := Object(payload, KeyPlayerPresence); ok {
		setUint(player, "competitiveTier", o.CompetitiveTier)
		setUint(player, "accountLevel", o.AccountLevel)
		setUint(player, "leaderboardPosition", o.LeaderboardPosition)
		setString(player, "playerCardId", o.PlayerCardID)
		setString(player, "playerTitleId", o.PlayerTitleID)
	}

	if o.touchesMatch() {
		match, ok := Object(payload, KeyMatchPresence)
		if !ok {
			match = make(map[string]any)
			payload[KeyMatchPresence] = match
		}
		if o.SessionLoopState != nil {
			match["sessionLoopState"] = *o.SessionLoopState
		}
		if o.QueueID != "" {
			payload["queueId"] = o.QueueID
			match["queueId"] = o.QueueID
			match["provisioningFlow"] = provisioningFlow(o.QueueID)
		}
	}

	party, hasParty := Object(payload, KeyPartyPresence)
	mirror := func(key string, v *uint64) {
		if v == nil {
			return
		}
		payload[key] = number(*v)
		if hasParty {
			party[key] = number(*v)
		}
	}
	mirror("partySize", o.PartySize)
	mirror("maxPartySize", o.MaxPartySize)
	mirror("partyOwnerMatchScoreAllyTeam", o.PartyOwnerMatchScoreAllyTeam)
	mirror("partyOwnerMatchScoreEnemyTeam", o.PartyOwnerMatchScoreEnemyTeam)

	if premier, ok := Object(payload, KeyPremierPresence); ok {
		setUint(premier, "division", o.PremierDivision)
		setString(premier, "rosterTag", o.PremierTag)
		setString(premier, "rosterName", o.RosterName)
	}

	return payload
}

func provisioningFlow(queueID string) string {
	if queueID == "" || queueID == QueuePlaceholder {
		return FlowInvalid
	}
	return FlowMatchmaking
}

func number(v uint64) json.Number {
	return json.Number(strconv.FormatUint(v, 10))
}

func setUint(obj map[string]any, key string, v *uint64) {
	if v != nil {
		obj[key] = number(*v)
	}
}

func setString(obj map[string]any, key, v string) {
	if v != "" {
		obj[key] = v
	}
}
