// Package mail defines the mailbox operations the automation core needs and
// the SMTP transport shared by providers that do not send through an API.
package mail

import (
	"context"
	"errors"

	"github.com/znz-systems/mailpilot/internal/models"
)

var ErrThreadNotFound = errors.New("thread not found")

// Client is a connected mailbox.
type Client interface {
	// ListRecentThreads returns up to limit threads, newest first.
	ListRecentThreads(ctx context.Context, limit int) ([]models.Thread, error)
	// GetThread returns ErrThreadNotFound when id does not exist.
	GetThread(ctx context.Context, id string) (*models.Thread, error)
	SendMessage(ctx context.Context, account *models.Account, threadID string, msg models.OutboundMessage) error
}

// ThreadLabeler is implemented by clients that can tag a thread after an
// automatic reply.
type ThreadLabeler interface {
	LabelThread(ctx context.Context, threadID, label string) error
}
