package transport

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Console writes deliveries to an io.Writer, one line per message. It
// stands in for a real chat transport when running the bot locally.
type Console struct {
	mu  sync.Mutex
	out io.Writer
}

func NewConsole(out io.Writer) *Console {
	return &Console{out: out}
}

func (c *Console) Deliver(_ context.Context, participantID, text string, suggestedReplies []string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	deliveryID := uuid.NewString()
	line := fmt.Sprintf("-> %s: %s", participantID, strings.ReplaceAll(text, "\n", " | "))
	if len(suggestedReplies) > 0 {
		line += fmt.Sprintf("  [%s]", strings.Join(suggestedReplies, " / "))
	}
	if _, err := fmt.Fprintln(c.out, line); err != nil {
		return "", err
	}
	return deliveryID, nil
}
