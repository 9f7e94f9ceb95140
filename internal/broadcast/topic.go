package broadcast

import "strings"

type TopicKind string

const (
	TopicGlobal    TopicKind = "global"
	TopicTeam      TopicKind = "team"
	TopicChallenge TopicKind = "challenge"
	TopicAdmin     TopicKind = "admin"
)

// Topic names a broadcast channel. Its string form is also the websocket room id.
type Topic struct {
	Kind TopicKind `json:"kind"`
	ID   string    `json:"id,omitempty"`
}

func Global() Topic { return Topic{Kind: TopicGlobal} }

func Admin() Topic { return Topic{Kind: TopicAdmin} }

func Team(teamID string) Topic { return Topic{Kind: TopicTeam, ID: teamID} }

func Challenge(challengeID string) Topic { return Topic{Kind: TopicChallenge, ID: challengeID} }

func (t Topic) String() string {
	switch t.Kind {
	case TopicGlobal, TopicAdmin:
		return string(t.Kind)
	default:
		return string(t.Kind) + ":" + t.ID
	}
}

// ParseTopic is the inverse of Topic.String.
func ParseTopic(s string) (Topic, bool) {
	switch s {
	case string(TopicGlobal):
		return Global(), true
	case string(TopicAdmin):
		return Admin(), true
	}

	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 || parts[1] == "" {
		return Topic{}, false
	}

	switch TopicKind(parts[0]) {
	case TopicTeam:
		return Team(parts[1]), true
	case TopicChallenge:
		return Challenge(parts[1]), true
	default:
		return Topic{}, false
	}
}
