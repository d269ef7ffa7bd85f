package models

// Task is the kind of work a ledger entry records.
type Task string

const (
	TaskArchive           Task = "archive"
	TaskDatabaseInsertion Task = "databaseInsertion"
	TaskReaction          Task = "reaction"
)

// LedgerEntry is one line of Output/log.csv.
type LedgerEntry struct {
	Task        Task
	GuildID     string
	ChannelID   string
	TimestampMs int64
}
