// Package mailbox is the inbound mail boundary. The pipeline only depends
// on Fetcher; how messages arrive (IMAP, webhook, test fixture) is an
// implementation detail behind it.
package mailbox

import (
	"context"
	"sync"

	"github.com/hunchbank/supportd/internal/models"
)

// Fetcher returns unread messages. Each call drains what has arrived since
// the previous call; implementations must not return the same message twice.
type Fetcher interface {
	FetchUnread(ctx context.Context) ([]models.EmailMessage, error)
}

// MemoryFetcher is a channel-free in-memory Fetcher for tests and local
// runs without a mail server.
type MemoryFetcher struct {
	mu     sync.Mutex
	queued []models.EmailMessage
}

// NewMemoryFetcher creates an empty fetcher.
func NewMemoryFetcher() *MemoryFetcher {
	return &MemoryFetcher{}
}

// Deliver queues a message for the next FetchUnread call.
func (m *MemoryFetcher) Deliver(msg models.EmailMessage) {
	m.mu.Lock()
	m.queued = append(m.queued, msg)
	m.mu.Unlock()
}

// FetchUnread returns and clears everything queued so far.
func (m *MemoryFetcher) FetchUnread(_ context.Context) ([]models.EmailMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.queued
	m.queued = nil
	return out, nil
}
