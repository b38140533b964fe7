package formatter

import (
	"encoding/json"

	"github.com/go-telegram/bot/models"

	appmodels "github.com/mixelka/replybot/pkg/models"
)

// BuildStatusKeyboard creates the inline keyboard shown under a status message
func BuildStatusKeyboard(running bool) *models.InlineKeyboardMarkup {
	toggle := models.InlineKeyboardButton{
		Text:         "Pause",
		CallbackData: EncodeCallback(appmodels.CallbackData{Action: appmodels.CallbackPause}),
	}
	if !running {
		toggle = models.InlineKeyboardButton{
			Text:         "Resume",
			CallbackData: EncodeCallback(appmodels.CallbackData{Action: appmodels.CallbackResume}),
		}
	}

	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{
				{Text: "Run now", CallbackData: EncodeCallback(appmodels.CallbackData{Action: appmodels.CallbackRunNow})},
				{Text: "Promote rules", CallbackData: EncodeCallback(appmodels.CallbackData{Action: appmodels.CallbackPromote})},
			},
			{
				toggle,
				{Text: "Refresh", CallbackData: EncodeCallback(appmodels.CallbackData{Action: appmodels.CallbackRefresh})},
			},
		},
	}
}

// EncodeCallback encodes callback data to string
func EncodeCallback(data appmodels.CallbackData) string {
	b, _ := json.Marshal(data)
	return string(b)
}

// DecodeCallback decodes callback data from string
func DecodeCallback(data string) (appmodels.CallbackData, error) {
	var cb appmodels.CallbackData
	err := json.Unmarshal([]byte(data), &cb)
	return cb, err
}
