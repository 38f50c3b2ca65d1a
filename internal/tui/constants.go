package tui

import "time"

const (
	// Timeouts and Intervals
	TickInterval         = time.Second
	NotificationDuration = 3 * time.Second

	// Input Dimensions
	InputWidth = 50

	// Data windows
	HistoryFetch    = 50
	DepthHistoryMax = 240
	ActivityMax     = 200
)
