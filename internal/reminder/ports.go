package reminder

import "context"

// Payload is what the notification port delivers for one due reminder.
type Payload struct {
	Title          string
	MessageID      string
	MissingUserIDs []string
}

// NotificationPort delivers a reminder notice. Invoked once per due reminder
// per cycle; delivery is best-effort (see scheduler).
type NotificationPort interface {
	Send(ctx context.Context, guildID, channelID string, p Payload) error
}

// ReactionSource fetches the current reaction state of a message as
// emoji identifier → reacting user ids. Reads must be idempotent.
type ReactionSource interface {
	FetchReactions(ctx context.Context, channelID, messageID string) (map[string][]string, error)
}

// EligibilityResolver determines which users count toward "missing" for a
// channel (visibility rules live behind this port).
type EligibilityResolver interface {
	EligibleUsers(ctx context.Context, guildID, channelID string) (map[string]struct{}, error)
}
