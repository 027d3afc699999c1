package contracts

// IMAP session contract.
//
// Library: emersion/go-imap v2 (imapclient) + emersion/go-message for MIME.
//
// A Session is one authenticated connection. Dial prefers implicit TLS on
// the configured port and falls back to STARTTLS when use_ssl is false.
// Login failures are wrapped in an AuthError, which watchers treat as
// fatal: credentials do not fix themselves, so there is no reconnect loop
// around a rejected login.
//
// Operation mapping:
//
//	ListFolders    -> LIST "" "*", dropping \Noselect entries and any
//	                  folder matched by the exclusion list (exact name or
//	                  hierarchy prefix, case-insensitive; Spam/Trash/Junk
//	                  style folders plus user-configured names).
//	Select         -> SELECT, returning UIDNEXT for mark priming.
//	UIDsSince      -> UID SEARCH UID <mark+1>:*, results sorted ascending.
//	                  The server may echo a UID <= mark for an empty
//	                  range; callers filter against the mark again.
//	FetchMessage   -> UID FETCH with BODY.PEEK[] so observation never sets
//	                  \Seen. Envelope fields come from the parsed MIME
//	                  body, not from ENVELOPE, so header decoding is in
//	                  one place. A missing Message-ID yields a generated
//	                  placeholder (uuid) so dedup still has a key.
//	Idle           -> IDLE, returned as a handle the watcher closes when a
//	                  unilateral EXISTS/RECENT update for the watched
//	                  folder arrives or the refresh deadline passes.
//	Move           -> UID MOVE when the server advertises it, otherwise
//	                  UID COPY + UID STORE +FLAGS \Deleted + EXPUNGE.
//
// Watch strategy: the idle watcher holds one connection per folder and
// blocks in IDLE between drains. Servers that do not advertise IDLE get
// the poll watcher instead: short-lived sessions on a fixed interval, one
// connection shared across all watched folders per sweep. Both watchers
// share the same drain: UIDsSince, fetch each UID, enqueue, advance the
// mark. A fetch for a UID that vanished (expunged between search and
// fetch) is skipped and the mark still advances past it.
//
// Provider notes: Gmail and iCloud require app-specific passwords and
// advertise both IDLE and MOVE. Dovecot installations older than 2.2 lack
// MOVE, which is why the copy fallback stays.
