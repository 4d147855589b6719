package service

import (
	"fmt"

	"github.com/MimeLyc/fetchbot/internal/errlog"
)

const (
	ProcessingNotice  = "Processing..."
	MaintenanceNotice = "The bot is being updated. Your request will be processed in a moment."
	URLReminder       = "Send me a link to a video or a song and I will download it for you."
	CancelledNotice   = "All jobs cancelled, %d queued request(s) discarded."

	maxNoticeLength = 4000
)

func userErrorText(err error) string {
	text := "An error occurred.\n\n" + errlog.Truncate(err.Error(), maxNoticeLength)
	if advice := Advice(err); advice != "" {
		text += "\n\n" + advice
	}
	return text
}

func adminErrorText(req Request, taskID string, err error) string {
	return fmt.Sprintf("Error in chat %d (user %d, %s)\n%s\n\n%s",
		req.ChatID, req.UserID, taskID, req.URL, errlog.Truncate(err.Error(), maxNoticeLength))
}
