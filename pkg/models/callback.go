package models

// CallbackAction type of callback action
type CallbackAction string

const (
	CallbackRunNow  CallbackAction = "run"
	CallbackPromote CallbackAction = "promote"
	CallbackRefresh CallbackAction = "status"
	CallbackPause   CallbackAction = "pause"
	CallbackResume  CallbackAction = "resume"
)

// CallbackData structure for inline button callback
type CallbackData struct {
	Action CallbackAction `json:"a"`
}
