package keywords

import (
	"strconv"
	"strings"
)

// assignTo prefixes a pattern with "target =".
func assignTo(rest string) string {
	return `^\s*` + target + `\s*=\s*` + rest
}

// optionalAssign prefixes a pattern with an optional "target =".
func optionalAssign(rest string) string {
	return `^\s*(?:` + target + `\s*=\s*)?` + rest
}

// imperative builds a rule for "<verb> <args>" statements bound
// positionally to params.
func imperative(name, pattern string, f Facade, op string, params ...string) Rule {
	return Rule{
		Name:    name,
		Pattern: compile(pattern),
		Params:  params,
		Calls:   []Call{{f, op}},
		Build: func(g Groups) string {
			return call(f, op, BindParams(g.At(1), params)...)
		},
	}
}

// assignment builds a rule for "x = <verb> <args>" statements bound
// positionally to params.
func assignment(name, pattern string, f Facade, op string, params ...string) Rule {
	return Rule{
		Name:    name,
		Pattern: compile(pattern),
		Params:  params,
		Calls:   []Call{{f, op}},
		Build: func(g Groups) string {
			return assign(g.At(1), call(f, op, BindParams(g.At(2), params)...))
		},
	}
}

// withPage binds an argument list whose first parameter is the current
// browser page handle.
func withPage(name, pattern, op string, params ...string) Rule {
	return Rule{
		Name:    name,
		Pattern: compile(pattern),
		Params:  params,
		Calls:   []Call{{WebAutomation, op}},
		Build: func(g Groups) string {
			return call(WebAutomation, op, BindParams("page, "+g.At(1), params)...)
		},
	}
}

func dataRules() []Rule {
	return []Rule{
		{
			Name:    "find-contact",
			Pattern: compile(assignTo(`find\s+contact\s+(.*)`)),
			Calls:   []Call{{Dialog, "findContact"}},
			Build: func(g Groups) string {
				return assign(g.At(1), call(Dialog, "findContact", field("args", list(g.At(2)))))
			},
		},
		{
			Name:    "find-or-talk",
			Pattern: compile(assignTo(`find\s+(.*?)\s+or\s+talk\s+(.*)`)),
			Calls:   []Call{{System, "find"}, {Dialog, "talk"}},
			Build: func(g Groups) string {
				v := g.At(1)
				return strings.Join([]string{
					assign(v, call(System, "find", field("args", list(g.At(2))))),
					"if (!" + v + ") {",
					call(Dialog, "talk", field("text", quoteText(g.At(3)))),
					"return -1;",
					"}",
				}, "\n")
			},
		},
		{
			Name:    "call",
			Pattern: compile(`^\s*CALL\s+(.*)`),
			Build: func(g Groups) string {
				return "await " + strings.TrimSpace(g.At(1))
			},
		},
		{
			Name:    "find",
			Pattern: compile(assignTo(`find\s+(.*)`)),
			Calls:   []Call{{System, "find"}},
			Build: func(g Groups) string {
				return assign(g.At(1), call(System, "find", field("args", list(g.At(2)))))
			},
		},
		assignment("create-deal", assignTo(`create\s+deal\s+(.*)`), Dialog, "createDeal",
			"dealName", "contact", "company", "amount"),
		{
			Name:    "active-tasks",
			Pattern: compile(assignTo(`active\s+tasks\b`)),
			Calls:   []Call{{Dialog, "getActiveTasks"}},
			Build: func(g Groups) string {
				return assign(g.At(1), call(Dialog, "getActiveTasks"))
			},
		},
		{
			Name:    "append",
			Pattern: compile(assignTo(`append\s+(.*)`)),
			Calls:   []Call{{System, "append"}},
			Build: func(g Groups) string {
				return assign(g.At(1), call(System, "append", field("args", list(g.At(2)))))
			},
		},
		{
			Name:    "sort-by",
			Pattern: compile(assignTo(`sort\s+(\w+)\s+by\s+(.*)`)),
			Calls:   []Call{{System, "sortBy"}},
			Build: func(g Groups) string {
				return assign(g.At(1), call(System, "sortBy",
					field("array", g.At(2)),
					field("memberName", strconv.Quote(strings.TrimSpace(g.At(3)))),
				))
			},
		},
		{
			Name:    "see-text",
			Pattern: compile(`^\s*see\s+text\s+of\s+(\w+)\s+as\s+(\w+)`),
			Calls:   []Call{{System, "seeText"}},
			Build: func(g Groups) string {
				return assign(g.At(2), call(System, "seeText", field("url", g.At(1))))
			},
		},
		{
			Name:    "see-caption",
			Pattern: compile(`^\s*see\s+caption\s+of\s+(\w+)\s+as\s+(\w+)`),
			Calls:   []Call{{System, "seeCaption"}},
			Build: func(g Groups) string {
				return assign(g.At(2), call(System, "seeCaption", field("url", g.At(1))))
			},
		},
		{
			Name:    "wait",
			Pattern: compile(`^\s*wait\s+(\d+)`),
			Calls:   []Call{{System, "wait"}},
			Build: func(g Groups) string {
				return call(System, "wait", field("seconds", g.At(1)))
			},
		},
		{
			Name:    "get-stock",
			Pattern: compile(`^\s*get\s+stock\s+for\s+(.*)`),
			Calls:   []Call{{System, "getStock"}},
			Build: func(g Groups) string {
				return assign("stock", call(System, "getStock", field("symbol", g.At(1))))
			},
		},
		{
			Name:    "assign-get-param",
			Pattern: compile(assignTo(`get\s+param\s+(.*)`)),
			Calls:   []Call{{Dialog, "getUserParam"}},
			Build: func(g Groups) string {
				return assign(g.At(1), call(Dialog, "getUserParam", field("name", g.At(2))))
			},
		},
		{
			Name:    "get",
			Pattern: compile(assignTo(`get\s+(.*)`)),
			Calls: []Call{
				{System, "get"},
				{WebAutomation, "getBySelector"},
				{WebAutomation, "getByFrame"},
			},
			Build: buildGet,
		},
		{Name: "new-object", Pattern: compile(assignTo(`NEW\s+OBJECT\s*$`)), Build: func(g Groups) string {
			return g.At(1) + " = {}"
		}},
		{Name: "new-array", Pattern: compile(assignTo(`NEW\s+ARRAY\s*$`)), Build: func(g Groups) string {
			return g.At(1) + " = []"
		}},
	}
}

// buildGet picks the GET flavour by argument count: one argument is an
// HTTP download, two address a selector on a page, three a selector
// inside a frame.
func buildGet(g Groups) string {
	items := SplitParams(g.At(2))
	switch len(items) {
	case 2:
		return assign(g.At(1), call(WebAutomation, "getBySelector",
			field("handle", items[0]),
			field("selector", items[1]),
		))
	case 3:
		return assign(g.At(1), call(WebAutomation, "getByFrame",
			field("handle", items[0]),
			field("frameOrSelector", items[1]),
			field("selector", items[2]),
		))
	default:
		return assign(g.At(1), call(System, "get",
			field("url", strings.TrimSpace(g.At(2))),
			"headers", "httpUsername", "httpPs",
		))
	}
}

func sessionRules() []Rule {
	return []Rule{
		imperative("go-to", `^\s*go\s+to\s+(.*)`, Dialog, "gotoDialog", "fromOrDialogName", "dialogName"),
		{
			Name:    "set-language",
			Pattern: compile(`^\s*set\s+language\s+(.*)`),
			Calls:   []Call{{Dialog, "setLanguage"}},
			Build: func(g Groups) string {
				return call(Dialog, "setLanguage", field("language", g.At(1)))
			},
		},
		{
			Name:    "set-param",
			Pattern: compile(`^\s*set\s+param\s+(.*?)\s+as\s+(.*)`),
			Calls:   []Call{{Dialog, "setUserParam"}},
			Build: func(g Groups) string {
				return call(Dialog, "setUserParam", field("name", g.At(1)), field("value", g.At(2)))
			},
		},
		{
			Name:    "get-param",
			Pattern: compile(`^\s*get\s+param\s+(.*)`),
			Calls:   []Call{{Dialog, "getUserParam"}},
			Build: func(g Groups) string {
				return call(Dialog, "getUserParam", field("name", g.At(1)))
			},
		},
		{
			Name:    "set-header",
			Pattern: compile(`^\s*set\s+header\s+(.*?)\s+as\s+(.*)`),
			Build: func(g Groups) string {
				return "headers[" + strings.TrimSpace(g.At(1)) + "] = " + strings.TrimSpace(g.At(2))
			},
		},
		{
			Name:    "set-http-username",
			Pattern: compile(`^\s*set\s+http\s+username\s*=\s*(.*)`),
			Build: func(g Groups) string {
				return "httpUsername = " + strings.TrimSpace(g.At(1))
			},
		},
		{
			Name:    "set-http-password",
			Pattern: compile(`^\s*set\s+http\s+password\s*=\s*(.*)`),
			Build: func(g Groups) string {
				return "httpPs = " + strings.TrimSpace(g.At(1))
			},
		},
		assignment("datediff", optionalAssign(`datediff\s+(.*)`), Dialog, "dateDiff", "date1", "date2", "mode"),
		assignment("dateadd", optionalAssign(`dateadd\s+(.*)`), Dialog, "dateAdd", "date", "mode", "units"),
		{
			Name:    "set-max-lines",
			Pattern: compile(`^\s*set\s+max\s+lines\s+(.*)`),
			Calls:   []Call{{Dialog, "setMaxLines"}},
			Build: func(g Groups) string {
				return call(Dialog, "setMaxLines", field("count", g.At(1)))
			},
		},
		{
			Name:    "set-max-columns",
			Pattern: compile(`^\s*set\s+max\s+columns\s+(.*)`),
			Calls:   []Call{{Dialog, "setMaxColumns"}},
			Build: func(g Groups) string {
				return call(Dialog, "setMaxColumns", field("count", g.At(1)))
			},
		},
		switchRule("set-translator", `^\s*set\s+translator\s+(.*)`, "setTranslatorOn", "on"),
		switchRule("set-theme", `^\s*set\s+theme\s+(.*)`, "setTheme", "theme"),
		switchRule("set-whole-word", `^\s*set\s+whole\s+word\s+(.*)`, "setWholeWord", "on"),
	}
}

// switchRule passes a bare word argument as a lowercase string literal.
func switchRule(name, pattern, op, param string) Rule {
	return Rule{
		Name:    name,
		Pattern: compile(pattern),
		Calls:   []Call{{Dialog, op}},
		Build: func(g Groups) string {
			return call(Dialog, op, field(param, strconv.Quote(strings.ToLower(strings.TrimSpace(g.At(1))))))
		},
	}
}

func httpRules() []Rule {
	return []Rule{
		httpVerb("post", "postByHttp"),
		httpVerb("put", "putByHttp"),
		{
			Name:    "download",
			Pattern: compile(assignTo(`download\s+(.*)`)),
			Params:  []string{"selector", "folder"},
			Calls:   []Call{{System, "download"}},
			Build: func(g Groups) string {
				fields := append([]string{field("handle", "page")}, BindParams(g.At(2), []string{"selector", "folder"})...)
				return assign(g.At(1), call(System, "download", fields...))
			},
		},
		{
			Name:    "create-folder",
			Pattern: compile(assignTo(`create\s+folder\s+(.*)`)),
			Calls:   []Call{{System, "createFolder"}},
			Build: func(g Groups) string {
				return assign(g.At(1), call(System, "createFolder", field("name", g.At(2))))
			},
		},
		{
			Name:    "share-folder",
			Pattern: compile(`^\s*share\s+folder\s+(.*)`),
			Calls:   []Call{{System, "shareFolder"}},
			Build: func(g Groups) string {
				return call(System, "shareFolder", field("name", g.At(1)))
			},
		},
		{
			Name:    "create-bot-farm",
			Pattern: compile(`^\s*create\s+a\s+bot\s+farm\s+using\s+(.*)`),
			Calls:   []Call{{System, "createABotFarmUsing"}},
			Build: func(g Groups) string {
				return call(System, "createABotFarmUsing", field("args", list(g.At(1))))
			},
		},
	}
}

func httpVerb(verb, op string) Rule {
	params := []string{"url", "data"}
	return Rule{
		Name:    verb,
		Pattern: compile(assignTo(verb + `\s+(.*)`)),
		Params:  params,
		Calls:   []Call{{System, op}},
		Build: func(g Groups) string {
			fields := append(BindParams(g.At(2), params), "headers")
			return assign(g.At(1), call(System, op, fields...))
		},
	}
}

func conversationRules() []Rule {
	return []Rule{
		{
			Name:    "transfer-to",
			Pattern: compile(`^\s*transfer\s+to\s+(.*)`),
			Calls:   []Call{{Dialog, "transferTo"}},
			Build: func(g Groups) string {
				return call(Dialog, "transferTo", field("to", g.At(1)))
			},
		},
		{
			// Only outside quoted text, so "transfer" inside a message is left alone.
			Name:    "transfer",
			Pattern: compile(`^\s*(\btransfer\b)(?=(?:[^"]|"[^"]*")*$)`),
			Calls:   []Call{{Dialog, "transferTo"}},
			Build:   literal(call(Dialog, "transferTo")),
		},
		{
			Name:    "show-menu",
			Pattern: compile(`^\s*show\s+menu\b`),
			Calls:   []Call{{Dialog, "showMenu"}},
			Build:   literal(call(Dialog, "showMenu")),
		},
		imperative("talk-to", `^\s*talk\s+to\s+(.*)`, System, "talkTo", "mobile", "message"),
		{
			Name:    "talk",
			Pattern: compile(`^\s*talk\b\s*(.*)`),
			Calls:   []Call{{Dialog, "talk"}},
			Build: func(g Groups) string {
				return call(Dialog, "talk", field("text", quoteText(g.At(1))))
			},
		},
		imperative("send-sms-to", `^\s*send\s+sms\s+to\s+(.*)`, System, "sendSmsTo", "mobile", "message"),
		imperative("send-email", `^\s*send\s+e?mail\s+(.*)`, Dialog, "sendEmail", "to", "subject", "body"),
		imperative("send-file-to", `^\s*send\s+file\s+to\s+(.*)`, Dialog, "sendFileTo", "mobile", "filename", "caption"),
	}
}

func browserRules() []Rule {
	return []Rule{
		imperative("hover", `^\s*hover\s+(.*)`, WebAutomation, "hover", "handle", "selector"),
		withPage("click-link-text", `^\s*click\s+link\s+text\s+(.*)`, "linkByText", "handle", "text", "index"),
		withPage("click", `^\s*click\s+(.*)`, "click", "handle", "frameOrSelector", "selector"),
	}
}

func fileRules() []Rule {
	return []Rule{
		imperative("send-file", `^\s*send\s+file\s+(.*)`, Dialog, "sendFile", "filename", "caption"),
		imperative("copy", `^\s*copy\s+(.*)`, System, "copyFile", "src", "dst"),
		imperative("convert", `^\s*convert\s+(.*)`, System, "convert", "src", "dst"),
		assignment("chart", assignTo(`chart\s+(.*)`), Dialog, "chart", "type", "data", "legends", "transpose"),
		{
			Name:    "merge",
			Pattern: compile(`^\s*merge\s+(.*?)\s+with\s+(.*?)\s+by\s+(.*)`),
			Calls:   []Call{{System, "merge"}},
			Build: func(g Groups) string {
				return call(System, "merge", field("file", g.At(1)), field("data", g.At(2)), field("key1", g.At(3)))
			},
		},
		{
			Name:    "press",
			Pattern: compile(`^\s*press\s+(.*)`),
			Calls:   []Call{{WebAutomation, "pressKey"}},
			Build: func(g Groups) string {
				return call(WebAutomation, "pressKey", field("handle", "page"), field("char", g.At(1)))
			},
		},
		{
			Name:    "screenshot",
			Pattern: compile(`^\s*screenshot\s+(.*)`),
			Calls:   []Call{{WebAutomation, "screenshot"}},
			Build: func(g Groups) string {
				return call(WebAutomation, "screenshot", field("handle", "page"), field("selector", g.At(1)))
			},
		},
		{
			Name:    "tweet",
			Pattern: compile(`^\s*tweet\s+(.*)`),
			Calls:   []Call{{System, "tweet"}},
			Build: func(g Groups) string {
				return call(System, "tweet", field("text", g.At(1)))
			},
		},
		{
			Name:    "as-image",
			Pattern: compile(assignTo(`(.*?)\s+as\s+image\s*$`)),
			Calls:   []Call{{System, "asImage"}},
			Build: func(g Groups) string {
				return assign(g.At(1), call(System, "asImage", field("data", g.At(2))))
			},
		},
		{
			Name:    "as-pdf",
			Pattern: compile(assignTo(`(.*?)\s+as\s+pdf\s*$`)),
			Calls:   []Call{{System, "asPdf"}},
			Build: func(g Groups) string {
				return assign(g.At(1), call(System, "asPdf", field("data", g.At(2))))
			},
		},
		{
			Name:    "fill",
			Pattern: compile(assignTo(`fill\s+(.*?)\s+with\s+(.*)`)),
			Calls:   []Call{{System, "fill"}},
			Build: func(g Groups) string {
				return assign(g.At(1), call(System, "fill", field("templateName", g.At(2)), field("data", g.At(3))))
			},
		},
		{
			Name:    "save-as",
			Pattern: compile(`^\s*save\s+(.*?)\s+as\s+(.*)`),
			Calls:   []Call{{System, "saveFile"}},
			Build: func(g Groups) string {
				return call(System, "saveFile", field("file", g.At(2)), field("data", g.At(1)))
			},
		},
		{
			Name:    "save",
			Pattern: compile(`^\s*save\s+(.*)`),
			Calls:   []Call{{System, "save"}},
			Build: func(g Groups) string {
				return call(System, "save", field("args", list(g.At(1))))
			},
		},
		{
			Name:    "card",
			Pattern: compile(assignTo(`card\s+(.*)`)),
			Calls:   []Call{{Dialog, "card"}},
			Build: func(g Groups) string {
				return assign(g.At(1), call(Dialog, "card", field("args", list(g.At(2)))))
			},
		},
		imperative("set", `^\s*set\s+(.*)`, System, "set", "file", "address", "value"),
	}
}
