// Package sessions persists conversation transcripts so a run can be
// resumed later. The sqlite store is the durable backend; the memory store
// backs tests and keeps the conversation going when the database cannot be
// opened.
package sessions

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/praxis/pkg/models"
)

// ErrNotFound reports a session ID with no stored row.
var ErrNotFound = errors.New("session not found")

// Session is one stored conversation. Messages counts stored rows and is
// populated on reads.
type Session struct {
	ID        string
	Title     string
	Cwd       string
	Provider  string
	Model     string
	Messages  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ListOptions filters and pages session listings.
type ListOptions struct {
	// Cwd restricts the listing to sessions started in that directory.
	Cwd    string
	Limit  int
	Offset int
}

// Store is the transcript persistence interface.
type Store interface {
	Create(ctx context.Context, session *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	List(ctx context.Context, opts ListOptions) ([]*Session, error)
	Delete(ctx context.Context, id string) error

	AppendMessage(ctx context.Context, sessionID string, msg models.Message) error
	Transcript(ctx context.Context, sessionID string) ([]models.Message, error)

	// Prune drops the oldest sessions beyond keep and reports how many
	// were removed.
	Prune(ctx context.Context, keep int) (int, error)

	Close() error
}

// NewID returns a fresh session identifier.
func NewID() string {
	return uuid.NewString()
}

const maxTitleRunes = 80

// DeriveTitle condenses the opening prompt into a listing title: first line,
// collapsed whitespace, bounded length.
func DeriveTitle(prompt string) string {
	line := prompt
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = strings.Join(strings.Fields(line), " ")
	runes := []rune(line)
	if len(runes) > maxTitleRunes {
		line = string(runes[:maxTitleRunes-3]) + "..."
	}
	return line
}
