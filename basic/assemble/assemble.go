// Package assemble wraps an intermediate script body in the envelope the
// sandbox executes: an async function expression that binds the remote
// façades, the session values and the helper functions every script may
// use, then runs the body.
package assemble

import (
	"fmt"
	"strconv"
)

// Globals the sandbox defines before running an assembled script.
const (
	// FacadesGlobal holds an object with the dialog, system and
	// webAutomation proxies.
	FacadesGlobal = "__facades"
	// SessionGlobal holds the invocation's session values.
	SessionGlobal = "__session"
)

// HeaderLines is the number of envelope lines before the first body line.
// Transpiler line maps are offset by it.
const HeaderLines = 28

// header must stay HeaderLines lines long.
const header = `(async () => {
const { dialog, system, webAutomation } = __facades;
const botId = %s;
const scriptName = %s;
const invocationId = __session.pid;
const pid = invocationId;
const id = __session.id;
const userId = __session.userId;
const username = __session.username;
const mobile = __session.mobile;
const from = __session.from;
const locale = __session.locale;
const ENTER = String.fromCharCode(13);
let headers = __session.headers || {};
let data = __session.data;
let list = __session.list;
let httpUsername = __session.httpUsername;
let httpPs = __session.httpPs;
let page = null;
let hrOn = null;
const ubound = (array) => array.length;
const isarray = (array) => Array.isArray(array);
const weekday = async (v) => await dialog.getWeekFromDate({invocationId, v});
const hour = async (v) => await dialog.getHourFromDate({invocationId, v});
const base64 = async (v) => await dialog.getCoded({invocationId, v});
const tolist = async (v) => await dialog.getToLst({invocationId, v});
const now = async (v) => await dialog.getNow({invocationId, v});
const today = async (v) => await dialog.getToday({invocationId, v});
`

const footer = `
})()`

// Bindings are the identifiers embedded in the envelope at assembly time.
type Bindings struct {
	BotID      string
	ScriptName string
}

// Assemble wraps body in the envelope. The result is a single expression
// evaluating to a promise of the body's return value. Output is a pure
// function of its inputs.
func Assemble(body string, b Bindings) string {
	return fmt.Sprintf(header, strconv.Quote(b.BotID), strconv.Quote(b.ScriptName)) + body + footer
}

// RemoteHelpers lists the dialog operations the envelope's helper
// functions call.
var RemoteHelpers = []string{
	"getWeekFromDate",
	"getHourFromDate",
	"getCoded",
	"getToLst",
	"getNow",
	"getToday",
}
