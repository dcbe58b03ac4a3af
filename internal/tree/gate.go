package tree

import (
	"sync"

	"github.com/google/uuid"

	"github.com/lotas/tabtree/internal/types"
)

// Kind names a class of self-initiated operation whose browser echo must
// not be handled as a foreign change.
type Kind int

const (
	KindMoving Kind = iota
	KindAlreadyMoved
	KindClosing
	KindFocus
	KindSilentFocus
	KindSubtreeMoving
	KindOpening
)

var kindNames = [...]string{"moving", "already-moved", "closing", "focus", "silent-focus", "subtree-moving", "opening"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Token names the log entries recorded for one operation.
type Token string

type logEntry struct {
	token Token
	kind  Kind
	tabID int
}

// Log is the per-window reconciliation log: a multiset of outstanding
// self-initiated operations keyed by kind and external tab id. Incoming
// browser events consume matching entries to tell echoes from foreign
// changes.
type Log struct {
	mu      sync.Mutex
	entries []logEntry
}

// Begin records one entry per tab id under a new token. With no ids a
// single window-wide entry is recorded.
func (l *Log) Begin(kind Kind, tabIDs ...int) Token {
	tok := Token(uuid.NewString())
	l.Extend(tok, kind, tabIDs...)
	return tok
}

// Extend records more entries under an existing token.
func (l *Log) Extend(tok Token, kind Kind, tabIDs ...int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(tabIDs) == 0 {
		l.entries = append(l.entries, logEntry{token: tok, kind: kind, tabID: types.NoTab})
		return
	}
	for _, id := range tabIDs {
		l.entries = append(l.entries, logEntry{token: tok, kind: kind, tabID: id})
	}
}

// Confirm consumes the oldest entry of kind for tabID. It reports whether
// one existed, i.e. whether the event is an echo.
func (l *Log) Confirm(kind Kind, tabID int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, e := range l.entries {
		if e.kind == kind && e.tabID == tabID {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Pending reports whether an entry of kind for tabID is outstanding.
func (l *Log) Pending(kind Kind, tabID int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.kind == kind && e.tabID == tabID {
			return true
		}
	}
	return false
}

// Count returns the number of outstanding entries of kind.
func (l *Log) Count(kind Kind) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.entries {
		if e.kind == kind {
			n++
		}
	}
	return n
}

// Cancel drops the entries of an operation whose browser call failed.
func (l *Log) Cancel(tok Token) {
	l.drop(func(e logEntry) bool { return e.token == tok })
}

// Settle drops whatever is left of a completed operation and returns how
// many entries were never confirmed.
func (l *Log) Settle(tok Token) int {
	return l.drop(func(e logEntry) bool { return e.token == tok })
}

// Forget drops every entry for a tab that no longer exists.
func (l *Log) Forget(tabID int) {
	l.drop(func(e logEntry) bool { return e.tabID == tabID })
}

func (l *Log) drop(match func(logEntry) bool) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	kept := l.entries[:0]
	n := 0
	for _, e := range l.entries {
		if match(e) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	l.entries = kept
	return n
}
