package moderation

type State struct {
	Warnings int
	Muted    bool
}

type GuildStats struct {
	MessagesDeleted int
	WarningsGiven   int
	MutesApplied    int
}

// Stats is the operator view of a guild: the lifetime counters plus the
// number of members currently carrying warnings or a mute.
type Stats struct {
	GuildStats
	WarnedUsers int
	MutedUsers  int
}
