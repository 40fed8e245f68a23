package models

import "time"

const (
	DefaultEventDuration = time.Hour
	MaxBlocksPerAppend   = 100
	MaxCodeBlockLength   = 2000
	MaxLabelBatch        = 100
	DefaultInboxMax      = 10
	ProcessedLabel       = "notiontaskcreated"
)
