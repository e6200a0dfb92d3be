package generator

import (
	"fmt"
	"strings"

	"github.com/ashureev/replybot/internal/reply"
)

// chatMessage is one OpenAI-style chat message.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// buildMessages renders the persona prompt followed by the recent exchanges
// and the new user text.
func buildMessages(botName string, req Request) []chatMessage {
	var sys strings.Builder
	fmt.Fprintf(&sys, "You are %s, replying to personal chat messages on your own phone. ", botName)
	sys.WriteString("Reply like a friendly human texting back: short (one to three sentences), casual, no lists, no markdown. ")
	sys.WriteString("Never say you are an AI, a bot, or a language model. ")
	if req.Language == reply.English {
		sys.WriteString("Reply in English.")
	} else {
		sys.WriteString("Reply in Hinglish (Hindi written in Latin script mixed with English), matching the sender's tone.")
	}
	if req.SenderName != "" {
		fmt.Fprintf(&sys, " You are talking to %s.", req.SenderName)
	}
	if req.PriorMessages > 0 {
		sys.WriteString(" You have chatted with this person before.")
	}

	msgs := make([]chatMessage, 0, 2+2*len(req.Exchanges))
	msgs = append(msgs, chatMessage{Role: "system", Content: sys.String()})
	for _, ex := range req.Exchanges {
		msgs = append(msgs,
			chatMessage{Role: "user", Content: ex.UserText},
			chatMessage{Role: "assistant", Content: ex.ReplyText},
		)
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: req.UserText})
	return msgs
}
