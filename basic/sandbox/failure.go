package sandbox

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/dlclark/regexp2"
	"github.com/dop251/goja"

	"github.com/teranos/gbvm/basic/loader"
	"github.com/teranos/gbvm/errors"
)

// FailurePrefix starts the message of every script runtime failure.
const FailurePrefix = "BASIC RUNTIME ERR:"

// Resource limits a pooled invocation can exceed.
const (
	LimitTime   = "time"
	LimitMemory = "memory"
	LimitCPU    = "cpu"
)

// Failure is the error returned for a script that failed while running.
// errors.Is matches it against errors.ErrScriptRuntime, and against
// errors.ErrResourceLimitExceeded when Limit is set.
type Failure struct {
	Script  string `json:"script" cbor:"script"`
	Message string `json:"message" cbor:"message"`
	Stack   string `json:"stack,omitempty" cbor:"stack,omitempty"`
	// Line is the authored source line, 0 when unknown.
	Line  int    `json:"line,omitempty" cbor:"line,omitempty"`
	Limit string `json:"limit,omitempty" cbor:"limit,omitempty"`
}

func (f *Failure) Error() string {
	var b strings.Builder
	b.WriteString(FailurePrefix)
	b.WriteString(" ")
	b.WriteString(f.Message)
	if f.Line > 0 {
		fmt.Fprintf(&b, " (%s line %d)", f.Script, f.Line)
	}
	if f.Stack != "" {
		b.WriteString("\n Stack: ")
		b.WriteString(f.Stack)
	}
	return b.String()
}

// Unwrap returns the failure class.
func (f *Failure) Unwrap() error {
	if f.Limit != "" {
		return errors.Wrap(errors.ErrResourceLimitExceeded, f.Limit)
	}
	return errors.ErrScriptRuntime
}

// IsResourceLimit reports whether err is a quota breach rather than a script bug
func IsResourceLimit(err error) bool {
	return err != nil && errors.Is(err, errors.ErrResourceLimitExceeded)
}

func limitFailure(script, limit string) *Failure {
	return &Failure{
		Script:  script,
		Message: fmt.Sprintf("resource limit exceeded: %s", limit),
		Limit:   limit,
	}
}

// asFailure converts any error surfaced by a backend into a Failure.
func asFailure(a *loader.Artifact, err error) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		return f
	}

	var exc *goja.Exception
	if errors.As(err, &exc) {
		return exceptionFailure(a, exc.Value(), exc.String())
	}

	var intr *goja.InterruptedError
	if errors.As(err, &intr) {
		msg := "script interrupted"
		if cause := intr.Unwrap(); cause != nil {
			msg += ": " + cause.Error()
		}
		return &Failure{Script: a.Name, Message: msg}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &Failure{Script: a.Name, Message: "script interrupted: " + err.Error()}
	}
	return &Failure{Script: a.Name, Message: err.Error()}
}

// exceptionFailure builds a failure from a thrown or rejected value.
func exceptionFailure(a *loader.Artifact, v goja.Value, fallbackStack string) *Failure {
	f := &Failure{Script: a.Name}
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		f.Message = "script failed"
	} else if obj, ok := v.(*goja.Object); ok {
		f.Message = propString(obj, "message")
		if name := propString(obj, "name"); name != "" && f.Message != "" {
			f.Message = name + ": " + f.Message
		}
		if f.Message == "" {
			f.Message = obj.String()
		}
		f.Stack = propString(obj, "stack")
	} else {
		f.Message = v.String()
	}
	if f.Stack == "" {
		f.Stack = fallbackStack
	}
	f.Line = mapLine(a, f.Stack)
	return f
}

func propString(obj *goja.Object, name string) string {
	v := obj.Get(name)
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	return v.String()
}

// mapLine finds the first position inside the assembled script in a stack
// trace and maps it back to the authored line.
func mapLine(a *loader.Artifact, stack string) int {
	if stack == "" || len(a.LineMap) == 0 {
		return 0
	}
	re := regexp2.MustCompile(regexp2.Escape(a.Name+loader.AssembledSuffix)+`:(\d+):\d+`, regexp2.None)
	m, err := re.FindStringMatch(stack)
	for err == nil && m != nil {
		line, convErr := strconv.Atoi(m.GroupByNumber(1).String())
		if convErr == nil {
			if src, ok := a.SourceLine(line); ok {
				return src
			}
		}
		m, err = re.FindNextMatch(m)
	}
	return 0
}
