package contracts

import "fmt"

// FeedbackChannel is where a feedback record came from.
type FeedbackChannel string

const (
	FeedbackChannelUI    FeedbackChannel = "ui"
	FeedbackChannelCLI   FeedbackChannel = "cli"
	FeedbackChannelAPI   FeedbackChannel = "api"
	FeedbackChannelOther FeedbackChannel = "other"
)

// FeedbackRecord is one line of the append-only user-feedback stream.
type FeedbackRecord struct {
	FeedbackID  string          `json:"feedback_id"`
	Timestamp   string          `json:"timestamp"`
	UserID      string          `json:"user_id"`
	SessionID   string          `json:"session_id"`
	Score       float64         `json:"score"`
	Comment     string          `json:"comment,omitempty"`
	Tags        []string        `json:"tags"`
	Channel     FeedbackChannel `json:"channel"`
	IntentID    string          `json:"intent_id,omitempty"`
	PlanID      string          `json:"plan_id,omitempty"`
	ExecutionID string          `json:"execution_id,omitempty"`
	Product     string          `json:"product,omitempty"`
	Module      string          `json:"module,omitempty"`
	Page        string          `json:"page,omitempty"`
	SceneID     string          `json:"scene_id,omitempty"`
}

// Validate checks score bounds and the channel enum. A score of 0 is a valid
// literal worst score, not "no opinion".
func (f *FeedbackRecord) Validate() error {
	if f.Score < 0 || f.Score > 5 {
		return fmt.Errorf("%w: feedback score %v out of range [0,5]", ErrConfig, f.Score)
	}
	switch f.Channel {
	case FeedbackChannelUI, FeedbackChannelCLI, FeedbackChannelAPI, FeedbackChannelOther:
	default:
		return fmt.Errorf("%w: unknown feedback channel %q", ErrConfig, f.Channel)
	}
	if f.UserID == "" || f.SessionID == "" {
		return fmt.Errorf("%w: feedback requires user_id and session_id", ErrConfig)
	}
	return nil
}
