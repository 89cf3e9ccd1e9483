package sandbox

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/gbvm/errors"
)

// Session is the conversation state a script runs on behalf of.
type Session struct {
	BotID        string         `json:"botId" cbor:"botId"`
	UserID       string         `json:"userId" cbor:"userId"`
	InstanceID   string         `json:"instanceId" cbor:"instanceId"`
	Username     string         `json:"username,omitempty" cbor:"username,omitempty"`
	Mobile       string         `json:"mobile,omitempty" cbor:"mobile,omitempty"`
	From         string         `json:"from,omitempty" cbor:"from,omitempty"`
	Locale       string         `json:"locale,omitempty" cbor:"locale,omitempty"`
	Headers      map[string]any `json:"headers,omitempty" cbor:"headers,omitempty"`
	Data         any            `json:"data,omitempty" cbor:"data,omitempty"`
	List         any            `json:"list,omitempty" cbor:"list,omitempty"`
	HTTPUsername string         `json:"httpUsername,omitempty" cbor:"httpUsername,omitempty"`
	HTTPPassword string         `json:"httpPs,omitempty" cbor:"httpPs,omitempty"`
	// Entities recognised in the user's message, exposed to the script as
	// top-level variables.
	Entities map[string]any `json:"entities,omitempty" cbor:"entities,omitempty"`
	// Debug sessions run on a dedicated pooled worker.
	Debug bool `json:"debug,omitempty" cbor:"debug,omitempty"`
}

// Invocation is one execution of a script. Remote calls made by the script
// carry PID so the server can route them back to the session.
type Invocation struct {
	PID int64  `json:"pid" cbor:"pid"`
	ID  string `json:"id" cbor:"id"`
	Session
}

var lastPID atomic.Int64

func init() {
	lastPID.Store(time.Now().UnixMilli())
}

// NewInvocation allocates a unique pid and a random id for s
func NewInvocation(s Session) *Invocation {
	return &Invocation{
		PID:     lastPID.Add(1),
		ID:      uuid.NewString(),
		Session: s,
	}
}

// Bindings are the values the assembled script reads from its session global.
func (inv *Invocation) Bindings() map[string]any {
	headers := inv.Headers
	if headers == nil {
		headers = map[string]any{}
	}
	data := inv.Data
	if data == nil {
		data = map[string]any{}
	}
	list := inv.List
	if list == nil {
		list = []any{}
	}
	return map[string]any{
		"pid":          inv.PID,
		"id":           inv.ID,
		"userId":       inv.UserID,
		"username":     inv.Username,
		"mobile":       inv.Mobile,
		"from":         inv.From,
		"locale":       inv.Locale,
		"headers":      headers,
		"data":         data,
		"list":         list,
		"httpUsername": inv.HTTPUsername,
		"httpPs":       inv.HTTPPassword,
	}
}

// Process is the table entry of a running invocation.
type Process struct {
	PID        int64
	BotID      string
	UserID     string
	InstanceID string
	Script     string
	StartedAt  time.Time
}

// ProcessTable maps the pids of running invocations to their sessions.
// An entry lives for exactly one Execute call.
type ProcessTable struct {
	mu    sync.RWMutex
	procs map[int64]Process
}

// NewProcessTable creates an empty table
func NewProcessTable() *ProcessTable {
	return &ProcessTable{procs: make(map[int64]Process)}
}

// Register adds inv under its pid
func (t *ProcessTable) Register(inv *Invocation, script string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, dup := t.procs[inv.PID]; dup {
		return errors.NewInvalidRequestError("pid %d already registered", inv.PID)
	}
	t.procs[inv.PID] = Process{
		PID:        inv.PID,
		BotID:      inv.BotID,
		UserID:     inv.UserID,
		InstanceID: inv.InstanceID,
		Script:     script,
		StartedAt:  time.Now(),
	}
	return nil
}

// Lookup returns the process registered under pid
func (t *ProcessTable) Lookup(pid int64) (Process, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.procs[pid]
	return p, ok
}

// Remove drops pid from the table
func (t *ProcessTable) Remove(pid int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.procs, pid)
}

// Len returns the number of running invocations
func (t *ProcessTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.procs)
}

// List returns the running invocations ordered by pid
func (t *ProcessTable) List() []Process {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Process, 0, len(t.procs))
	for _, p := range t.procs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out
}
