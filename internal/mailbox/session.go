// Package mailbox wraps a single authenticated IMAP connection behind the
// narrow surface the folder watchers need: folder listing, UID queries,
// IDLE waits, message fetches, and moves.
package mailbox

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/google/uuid"

	"github.com/jbroll/mailmap/internal/content"
	"github.com/jbroll/mailmap/internal/model"
)

// ErrNotFound reports that a UID no longer exists in the folder, usually
// because another client expunged it between search and fetch.
var ErrNotFound = errors.New("message not found")

// Options configures a Session.
type Options struct {
	Host     string
	Port     int
	Username string
	Password string

	// UseSSL selects implicit TLS; otherwise the connection is upgraded
	// with STARTTLS.
	UseSSL bool

	// ExcludeFolders are folder names (full path or last segment,
	// case-insensitive) dropped from ListFolders results.
	ExcludeFolders []string
}

// Session is one authenticated IMAP connection. Sessions are not safe for
// concurrent use; each folder watcher owns its own.
type Session struct {
	opts     Options
	client   *imapclient.Client
	notify   chan struct{}
	selected string
}

// Dial connects to the IMAP server and authenticates. The caller is
// responsible for calling Close on the returned session.
func Dial(_ context.Context, opts Options) (*Session, error) {
	s := &Session{
		opts:   opts,
		notify: make(chan struct{}, 1),
	}

	addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)
	clientOpts := &imapclient.Options{
		UnilateralDataHandler: &imapclient.UnilateralDataHandler{
			Mailbox: s.onMailboxUpdate,
		},
	}

	var client *imapclient.Client
	var err error
	if opts.UseSSL {
		client, err = imapclient.DialTLS(addr, clientOpts)
	} else {
		client, err = imapclient.DialStartTLS(addr, clientOpts)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}

	if err := client.Login(opts.Username, opts.Password).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, &AuthError{
			Host: opts.Host,
			Message: fmt.Sprintf(
				"authentication failed for %s: %v",
				opts.Username, err,
			),
		}
	}

	s.client = client
	return s, nil
}

// onMailboxUpdate runs on unilateral mailbox data from the server. A
// message-count update while idling is the new-mail push.
func (s *Session) onMailboxUpdate(data *imapclient.UnilateralDataMailbox) {
	if data.NumMessages == nil {
		return
	}
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Close logs out and releases the connection.
func (s *Session) Close() error {
	if s.client == nil {
		return nil
	}
	client := s.client
	s.client = nil

	if err := client.Logout().Wait(); err != nil {
		client.Close()
		return fmt.Errorf("logging out: %w", err)
	}
	return nil
}

// SupportsIdle reports whether the server advertises the IDLE extension.
func (s *Session) SupportsIdle() bool {
	return s.client.Caps().Has(imap.CapIdle)
}

// ListFolders returns the selectable folders on the server, sorted,
// with excluded names filtered out.
func (s *Session) ListFolders(ctx context.Context) ([]string, error) {
	mailboxes, err := s.client.List("", "*", nil).Collect()
	if err != nil {
		return nil, fmt.Errorf("listing folders: %w", err)
	}

	var folders []string
	for _, mbox := range mailboxes {
		if hasAttr(mbox.Attrs, imap.MailboxAttrNoSelect) {
			continue
		}
		if s.excluded(mbox.Mailbox) {
			continue
		}
		folders = append(folders, mbox.Mailbox)
	}

	sort.Strings(folders)
	return folders, nil
}

// Select opens the folder and returns the server's predicted next UID,
// used to prime the high-water mark on first contact with a folder.
func (s *Session) Select(ctx context.Context, folder string) (uint32, error) {
	data, err := s.client.Select(folder, nil).Wait()
	if err != nil {
		return 0, fmt.Errorf("selecting %s: %w", folder, err)
	}
	s.selected = folder
	return uint32(data.UIDNext), nil
}

// UIDsSince returns the UIDs in folder strictly greater than mark, in
// ascending order.
func (s *Session) UIDsSince(ctx context.Context, folder string, mark uint32) ([]uint32, error) {
	if err := s.ensureSelected(ctx, folder); err != nil {
		return nil, err
	}

	uidSet := imap.UIDSet{}
	uidSet.AddRange(imap.UID(mark)+1, 0)
	criteria := &imap.SearchCriteria{UID: []imap.UIDSet{uidSet}}

	searchData, err := s.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("searching %s above uid %d: %w", folder, mark, err)
	}

	var uids []uint32
	for _, uid := range searchData.AllUIDs() {
		// Some servers interpret an open range loosely; keep the contract
		// strict here.
		if uint32(uid) > mark {
			uids = append(uids, uint32(uid))
		}
	}

	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	return uids, nil
}

// Idle blocks until the server reports new activity on the selected folder
// or the timeout elapses. It reports true when woken by a server push.
func (s *Session) Idle(ctx context.Context, timeout time.Duration) (bool, error) {
	idleCmd, err := s.client.Idle()
	if err != nil {
		return false, fmt.Errorf("starting idle: %w", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	notified := false
	select {
	case <-s.notify:
		notified = true
	case <-timer.C:
	case <-ctx.Done():
		_ = idleCmd.Close()
		_ = idleCmd.Wait()
		return false, ctx.Err()
	}

	if err := idleCmd.Close(); err != nil {
		return notified, fmt.Errorf("ending idle: %w", err)
	}
	if err := idleCmd.Wait(); err != nil {
		return notified, fmt.Errorf("ending idle: %w", err)
	}
	return notified, nil
}

// FetchMessage fetches one message without marking it read, parses its MIME
// structure, and returns a cleaned Message ready for classification.
func (s *Session) FetchMessage(ctx context.Context, folder string, uid uint32) (*model.Message, error) {
	if err := s.ensureSelected(ctx, folder); err != nil {
		return nil, err
	}

	uidSet := imap.UIDSetNum(imap.UID(uid))
	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchOpts := &imap.FetchOptions{
		Envelope:    true,
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	}

	fetchCmd := s.client.Fetch(uidSet, fetchOpts)
	defer fetchCmd.Close()

	data := fetchCmd.Next()
	if data == nil {
		return nil, fmt.Errorf("uid %d in %s: %w", uid, folder, ErrNotFound)
	}

	buf, err := data.Collect()
	if err != nil {
		return nil, fmt.Errorf("collecting message uid %d: %w", uid, err)
	}

	msg := &model.Message{
		Folder: folder,
		UID:    uid,
	}

	if buf.Envelope != nil {
		msg.ID = buf.Envelope.MessageID
		msg.Subject = buf.Envelope.Subject
		if len(buf.Envelope.From) > 0 {
			from := buf.Envelope.From[0]
			if from.Name != "" {
				msg.From = fmt.Sprintf("%s <%s>", from.Name, from.Addr())
			} else {
				msg.From = from.Addr()
			}
		}
	}
	if msg.ID == "" {
		// Some messages arrive without a Message-ID header; fabricate a
		// stable-enough identifier so the store can still track them.
		msg.ID = fmt.Sprintf("<%s@mailmap.generated>", uuid.New().String())
	}

	if raw := buf.FindBodySection(bodySection); raw != nil {
		text, html, attachments := parseMIMEBody(raw)
		body := text
		if body == "" {
			body = html
		}
		msg.Body = content.Clean(body, content.DefaultBodyLimit)
		msg.Attachments = attachments
	}

	if err := fetchCmd.Close(); err != nil {
		return msg, fmt.Errorf("closing fetch: %w", err)
	}
	return msg, nil
}

// Move transfers the message to dest. Servers without MOVE support get the
// COPY, flag-deleted, expunge sequence instead.
func (s *Session) Move(ctx context.Context, folder string, uid uint32, dest string) error {
	if err := s.ensureSelected(ctx, folder); err != nil {
		return err
	}

	uidSet := imap.UIDSetNum(imap.UID(uid))

	if _, err := s.client.Move(uidSet, dest).Wait(); err == nil {
		return nil
	}

	if _, err := s.client.Copy(uidSet, dest).Wait(); err != nil {
		return fmt.Errorf("copying uid %d to %s: %w", uid, dest, err)
	}

	storeCmd := s.client.Store(uidSet, &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagDeleted},
	}, nil)
	if err := storeCmd.Close(); err != nil {
		return fmt.Errorf("flagging uid %d deleted: %w", uid, err)
	}

	if err := s.client.Expunge().Close(); err != nil {
		return fmt.Errorf("expunging %s: %w", folder, err)
	}
	return nil
}

// EnsureFolder creates the folder when the server does not already have it.
func (s *Session) EnsureFolder(ctx context.Context, name string) error {
	existing, err := s.client.List("", name, nil).Collect()
	if err != nil {
		return fmt.Errorf("checking folder %s: %w", name, err)
	}
	for _, mbox := range existing {
		if mbox.Mailbox == name {
			return nil
		}
	}

	if err := s.client.Create(name, nil).Wait(); err != nil {
		return fmt.Errorf("creating folder %s: %w", name, err)
	}
	return nil
}

func (s *Session) ensureSelected(ctx context.Context, folder string) error {
	if s.selected == folder {
		return nil
	}
	_, err := s.Select(ctx, folder)
	return err
}

func (s *Session) excluded(name string) bool {
	base := name
	if i := strings.LastIndexAny(name, "/."); i >= 0 {
		base = name[i+1:]
	}
	for _, ex := range s.opts.ExcludeFolders {
		if strings.EqualFold(name, ex) || strings.EqualFold(base, ex) {
			return true
		}
	}
	return false
}

func hasAttr(attrs []imap.MailboxAttr, want imap.MailboxAttr) bool {
	for _, a := range attrs {
		if a == want {
			return true
		}
	}
	return false
}
