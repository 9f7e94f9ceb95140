package submission

type Status string

const (
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

type Reason string

const (
	ReasonChallengeUnavailable Reason = "challenge_unavailable"
	ReasonCompetitionNotActive Reason = "competition_not_active"
	ReasonTeamRequired         Reason = "team_required"
	ReasonChallengeLocked      Reason = "challenge_locked"
	ReasonAlreadySolved        Reason = "already_solved"
	ReasonAttemptLimitExceeded Reason = "attempt_limit_exceeded"
	ReasonIncorrectFlag        Reason = "incorrect_flag"
)

// Message is the user-facing text for a rejection.
func (r Reason) Message() string {
	switch r {
	case ReasonChallengeUnavailable:
		return "Challenge not available"
	case ReasonCompetitionNotActive:
		return "Competition is not active"
	case ReasonTeamRequired:
		return "You must be part of a team to participate"
	case ReasonChallengeLocked:
		return "Challenge is locked"
	case ReasonAlreadySolved:
		return "Challenge already solved"
	case ReasonAttemptLimitExceeded:
		return "Maximum attempts exceeded"
	case ReasonIncorrectFlag:
		return "Incorrect flag"
	default:
		return ""
	}
}

type Request struct {
	UserID      string
	Username    string
	TeamID      *string
	ChallengeID string
	Flag        string
	IPAddress   string
	UserAgent   string
}

func (r Request) hasTeam() bool {
	return r.TeamID != nil && *r.TeamID != ""
}

func (r Request) teamID() *string {
	if !r.hasTeam() {
		return nil
	}
	id := *r.TeamID
	return &id
}

// Result is the outcome of one Submit. Reason is set only when rejected.
// RemainingAttempts is nil when the challenge has no attempt cap.
type Result struct {
	Status            Status
	Reason            Reason
	Points            int
	FirstBlood        bool
	RemainingAttempts *int
	SubmissionID      string
}

func (r Result) Accepted() bool {
	return r.Status == StatusAccepted
}
