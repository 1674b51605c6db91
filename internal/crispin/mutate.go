package crispin

import (
	"context"
	"fmt"
	"time"

	imap "github.com/emersion/go-imap"
	idle "github.com/emersion/go-imap-idle"
	imapclient "github.com/emersion/go-imap/client"

	"github.com/mjansen/mailsync/internal/models"
)

func seqSetOf(uids []uint32) *imap.SeqSet {
	s := &imap.SeqSet{}
	for _, u := range uids {
		s.AddNum(u)
	}
	return s
}

// DeleteUIDs marks the given UIDs \Deleted and expunges them (§4.4
// `delete_uids`). Gmail accounts should prefer GmailClient's
// label-reconciling deletion helpers where applicable.
func (c *Client) DeleteUIDs(uids []uint32) error {
	if len(uids) == 0 {
		return nil
	}
	if err := c.storeFlags(uids, true, imap.DeletedFlag); err != nil {
		return err
	}
	if err := c.imapConn.Expunge(nil); err != nil {
		return &models.ImapProtocolError{Cause: fmt.Errorf("expunge: %w", err)}
	}
	return nil
}

// SetStarred adds or removes \Flagged on the given UIDs.
func (c *Client) SetStarred(uids []uint32, starred bool) error {
	return c.storeFlags(uids, starred, imap.FlaggedFlag)
}

// SetUnread adds or removes \Seen on the given UIDs. unread=true removes
// \Seen; unread=false adds it.
func (c *Client) SetUnread(uids []uint32, unread bool) error {
	return c.storeFlags(uids, !unread, imap.SeenFlag)
}

func (c *Client) storeFlags(uids []uint32, add bool, flag string) error {
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if !add {
		item = imap.FormatFlagsOp(imap.RemoveFlags, true)
	}
	if err := c.imapConn.UidStore(seqSetOf(uids), item, []interface{}{flag}, nil); err != nil {
		return &models.ImapProtocolError{Cause: fmt.Errorf("store flags: %w", err)}
	}
	return nil
}

// draftsRoleSelected is left to the Engine to enforce (it knows the
// Folder's role); SaveDraft assumes the caller has already selected a
// drafts-role folder, matching §4.4's "asserts the current folder is in
// the drafts role set".
func (c *Client) SaveDraft(ctx context.Context, folder string, body []byte, date time.Time) error {
	flags := []string{imap.DraftFlag, imap.SeenFlag}
	literal := imap.NewLiteral(body)
	if err := c.imapConn.Append(folder, flags, date, literal); err != nil {
		return &models.ImapProtocolError{Cause: fmt.Errorf("append draft: %w", err)}
	}
	return nil
}

// IdleEvent summarizes one untagged update observed during Idle: the
// Engine only needs to know that *something* changed (EXISTS/EXPUNGE/
// FETCH), not the decoded detail, to trigger an early poll pass.
type IdleEvent struct {
	Kind string // "exists", "expunge", "fetch"
}

// Idle enters IDLE and waits up to timeout for mailbox activity, always
// issuing DONE before returning (§4.4 `idle`). Any library error is
// propagated to the caller.
func (c *Client) Idle(ctx context.Context, timeout time.Duration) ([]IdleEvent, error) {
	updates := make(chan imapclient.Update, 16)
	c.imapConn.Updates = updates
	defer func() { c.imapConn.Updates = nil }()

	idler := idle.NewClient(c.imapConn)

	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- idler.IdleWithFallback(stop, timeout) }()

	var events []IdleEvent
	for {
		select {
		case <-ctx.Done():
			close(stop)
			<-done
			return events, nil

		case err := <-done:
			if err != nil {
				return events, &models.ImapAbortError{Cause: fmt.Errorf("idle: %w", err)}
			}
			return events, nil

		case update := <-updates:
			events = append(events, classifyIdleUpdate(update))
		}
	}
}

func classifyIdleUpdate(update imapclient.Update) IdleEvent {
	switch update.(type) {
	case *imapclient.MailboxUpdate:
		return IdleEvent{Kind: "exists"}
	case *imapclient.ExpungeUpdate:
		return IdleEvent{Kind: "expunge"}
	case *imapclient.MessageUpdate:
		return IdleEvent{Kind: "fetch"}
	default:
		return IdleEvent{Kind: "unknown"}
	}
}
