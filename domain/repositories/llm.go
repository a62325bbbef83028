package repositories

import "context"

// DialogueModel abstracts the conversational language model upstream.
type DialogueModel interface {
	// Respond sends the persona prompt plus the user's text and returns
	// the model's reply with its emotion marker already parsed out.
	// When the upstream fails, the returned reply is never nil: it
	// carries the persona's apology text and a worried emotion so the
	// caller can still answer the user, alongside the error.
	Respond(ctx context.Context, userText string) (*DialogueReply, error)
}

// DialogueReply is the parsed outcome of one dialogue exchange.
type DialogueReply struct {
	// Text is the user-visible reply with the emotion marker stripped.
	Text string
	// Emotion is the parsed emotion value in [1,6], neutral when the
	// model omitted the marker.
	Emotion int
}
