package mailbox

import "context"

// Mailbox is the blocking mailbox API the pipeline consumes. Indices are 1-based
// sequence numbers in the selected mailbox.
type Mailbox interface {
	Login(user, pass string) error
	SelectMailbox(name string) error
	Fetch(ctx context.Context, index int) ([]byte, error)
	TotalMessageCount(ctx context.Context) (int, error)
	Logout() error
}
