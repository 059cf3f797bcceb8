// Package interaction defines the request/response protocol entities used to
// pause agent execution for a human decision.
package interaction

import "github.com/Strob0t/TaskLoom/internal/domain/event"

// Kind classifies what the user is being asked for.
type Kind string

const (
	KindConfirm Kind = "confirm"
	KindSelect  Kind = "select"
	KindInput   Kind = "input"
)

// Well-known purposes. Purpose is free-form; these are the ones the kernel
// itself raises.
const (
	PurposeConfirmRiskyAction = "confirm_risky_action"
)

// Option IDs conventionally used by confirm interactions.
const (
	OptionApprove = "approve"
	OptionReject  = "reject"
)

// Request describes a question to put to the user.
type Request struct {
	Kind       Kind                      `json:"kind"`
	Purpose    string                    `json:"purpose"`
	Display    string                    `json:"display"`
	Options    []event.InteractionOption `json:"options,omitempty"`
	Validation string                    `json:"validation,omitempty"`
}

// Response carries the user's answer.
type Response struct {
	SelectedOptionID string `json:"selected_option_id,omitempty"`
	InputValue       string `json:"input_value,omitempty"`
	Comment          string `json:"comment,omitempty"`
	RespondedBy      string `json:"responded_by,omitempty"`
}

// Approved reports whether a confirm-style response selected the approve
// option.
func (r *Response) Approved() bool {
	return r != nil && r.SelectedOptionID == OptionApprove
}

// Interaction is the view of one open or answered question.
type Interaction struct {
	InteractionID string                    `json:"interaction_id"`
	TaskID        string                    `json:"task_id"`
	Kind          Kind                      `json:"kind"`
	Purpose       string                    `json:"purpose"`
	Display       string                    `json:"display"`
	Options       []event.InteractionOption `json:"options,omitempty"`
	Validation    string                    `json:"validation,omitempty"`
}

// ConfirmOptions returns the standard approve/reject option pair.
func ConfirmOptions() []event.InteractionOption {
	return []event.InteractionOption{
		{ID: OptionApprove, Label: "Approve"},
		{ID: OptionReject, Label: "Reject"},
	}
}
