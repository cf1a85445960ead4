//go:build linux

package source

import (
	"context"
	"errors"
	"fmt"
	"os/user"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/sdjournal"

	"github.com/logsentinel/logsentinel/internal/types"
)

const journalWait = time.Second

// JournalBackend reads channels from the systemd journal. A channel is a
// unit name ("sshd.service") or a raw journal match ("SYSLOG_IDENTIFIER=sysmon").
type JournalBackend struct {
	users sync.Map // uid -> user name
}

// NewJournalBackend returns a backend over the local systemd journal.
func NewJournalBackend() *JournalBackend {
	return &JournalBackend{}
}

func journalMatch(channel string) string {
	if strings.Contains(channel, "=") {
		return channel
	}
	return "_SYSTEMD_UNIT=" + channel
}

func (b *JournalBackend) open(channel string) (*sdjournal.Journal, error) {
	j, err := sdjournal.NewJournal()
	if err != nil {
		return nil, classifyJournalErr(err)
	}
	if channel != "" {
		if err := j.AddMatch(journalMatch(channel)); err != nil {
			j.Close()
			return nil, classifyJournalErr(err)
		}
	}
	return j, nil
}

// Available implements ChannelBackend. A channel exists when the journal
// holds at least one entry for it.
func (b *JournalBackend) Available(channel string) bool {
	j, err := b.open(channel)
	if err != nil {
		return errors.Is(err, ErrPermission)
	}
	defer j.Close()
	if err := j.SeekHead(); err != nil {
		return errors.Is(classifyJournalErr(err), ErrPermission)
	}
	n, err := j.Next()
	if err != nil {
		return errors.Is(classifyJournalErr(err), ErrPermission)
	}
	return n > 0
}

// Probe implements ChannelBackend.
func (b *JournalBackend) Probe() error {
	j, err := b.open("")
	if err != nil {
		return err
	}
	defer j.Close()
	if err := j.SeekHead(); err != nil {
		return classifyJournalErr(err)
	}
	if _, err := j.Next(); err != nil {
		return classifyJournalErr(err)
	}
	return nil
}

// Subscribe implements ChannelBackend. Only entries appended after the
// call are returned.
func (b *JournalBackend) Subscribe(_ context.Context, channel string) (Subscription, error) {
	j, err := b.open(channel)
	if err != nil {
		return nil, err
	}
	if err := j.SeekTail(); err != nil {
		j.Close()
		return nil, classifyJournalErr(err)
	}
	// step back onto the last entry so Next yields the first new one
	if _, err := j.Previous(); err != nil {
		j.Close()
		return nil, classifyJournalErr(err)
	}
	return &journalSubscription{backend: b, channel: channel, j: j}, nil
}

type journalSubscription struct {
	backend *JournalBackend
	channel string
	j       *sdjournal.Journal
}

func (s *journalSubscription) Next(ctx context.Context) (types.RawRecord, error) {
	for {
		n, err := s.j.Next()
		if err != nil {
			return types.RawRecord{}, classifyJournalErr(err)
		}
		if n > 0 {
			entry, err := s.j.GetEntry()
			if err != nil {
				return types.RawRecord{}, classifyJournalErr(err)
			}
			return s.backend.convert(s.channel, entry), nil
		}
		if err := ctx.Err(); err != nil {
			return types.RawRecord{}, err
		}
		if s.j.Wait(journalWait) < 0 {
			return types.RawRecord{}, Transient(fmt.Errorf("journal wait on %s failed", s.channel))
		}
	}
}

func (s *journalSubscription) Close() error {
	return s.j.Close()
}

func (b *JournalBackend) convert(channel string, e *sdjournal.JournalEntry) types.RawRecord {
	rec := types.RawRecord{
		Channel:   channel,
		Sequence:  cursorSeq(e.Cursor),
		Timestamp: time.UnixMicro(int64(e.RealtimeTimestamp)),
		Fields:    make(map[string]string, len(e.Fields)),
	}
	for k, v := range e.Fields {
		switch k {
		case "MESSAGE":
			rec.Message = v
			rec.Payload = v
		case "SYSLOG_IDENTIFIER":
			rec.Provider = v
		case "PRIORITY":
			if p, err := strconv.Atoi(v); err == nil {
				rec.Level = priorityOrdinal(p)
			}
		case "_HOSTNAME":
			rec.Host = v
		case "_COMM":
			rec.Process = v
		case "_UID":
			rec.User = b.userName(v)
			rec.Fields[k] = v
		default:
			if !strings.HasPrefix(k, "__") {
				rec.Fields[k] = v
			}
		}
	}
	if rec.Provider == "" {
		rec.Provider = rec.Process
	}
	return rec
}

func (b *JournalBackend) userName(uid string) string {
	if v, ok := b.users.Load(uid); ok {
		return v.(string)
	}
	name := uid
	if u, err := user.LookupId(uid); err == nil {
		name = u.Username
	}
	b.users.Store(uid, name)
	return name
}

// priorityOrdinal maps a syslog priority (0 emerg .. 7 debug) onto the
// ordinal scale of types.LevelFromOrdinal.
func priorityOrdinal(p int) int {
	switch {
	case p <= 2:
		return 1
	case p == 3:
		return 2
	case p == 4:
		return 3
	case p <= 6:
		return 4
	default:
		return 5
	}
}

// cursorSeq extracts the hexadecimal i= sequence number from a journal cursor.
func cursorSeq(cursor string) uint64 {
	for _, part := range strings.Split(cursor, ";") {
		if v, ok := strings.CutPrefix(part, "i="); ok {
			n, _ := strconv.ParseUint(v, 16, 64)
			return n
		}
	}
	return 0
}

// sdjournal formats errno values into its errors, so match on text as well.
func classifyJournalErr(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM),
		strings.Contains(msg, "permission denied"), strings.Contains(msg, "operation not permitted"):
		return fmt.Errorf("%w: %v", ErrPermission, err)
	case errors.Is(err, syscall.EAGAIN), errors.Is(err, syscall.EINTR), errors.Is(err, syscall.EBUSY),
		strings.Contains(msg, "resource temporarily unavailable"), strings.Contains(msg, "interrupted system call"):
		return Transient(err)
	}
	return err
}
