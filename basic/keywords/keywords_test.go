package keywords

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitParams(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"quoted comma kept", `a, "b,c", d`, []string{"a", `"b,c"`, "d"}},
		{"single", `"hello"`, []string{`"hello"`}},
		{"empty", "   ", nil},
		{"empty middle", "a,,b", []string{"a", "", "b"}},
		{"two quoted commas", `"x, y", "z,w"`, []string{`"x, y"`, `"z,w"`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitParams(tt.input))
		})
	}
}

func TestBindParams(t *testing.T) {
	names := []string{"to", "subject", "body"}

	assert.Equal(t, []string{`to: "a@b.com"`}, BindParams(`"a@b.com"`, names))
	assert.Equal(t,
		[]string{`to: x`, `subject: "Hi, there"`, `body: y`},
		BindParams(`x, "Hi, there", y, surplus`, names),
	)
	assert.Empty(t, BindParams("", names))
}

func TestConvertConditions(t *testing.T) {
	assert.Equal(t, "a === 1 && b !== 2", ConvertConditions("a = 1 and b <> 2"))
	assert.Equal(t, "x < 5 || done", ConvertConditions("x < 5 OR done"))
	assert.Equal(t, "a >= 1", ConvertConditions("a >= 1"))
}

// ruleCases pairs a source line with the rule expected to rewrite it and
// the exact replacement text.
var ruleCases = []struct {
	line string
	rule string
	want string
}{
	{`talk "Hello"`, "talk", `await dialog.talk({invocationId, text: "Hello"})`},
	{`TALK Hello world`, "talk", `await dialog.talk({invocationId, text: "Hello world"})`},
	{`idade = hear x as integer`, "hear-integer", `idade = x = await dialog.getHear({invocationId, kind: "integer"})`},
	{`hear nome as name`, "hear-name", `nome = await dialog.getHear({invocationId, kind: "name"})`},
	{`hear opt as "Yes", "No"`, "hear-menu", `opt = await dialog.getHear({invocationId, kind: "menu", args: ["Yes", "No"]})`},
	{`hear answer`, "hear", `answer = await dialog.getHear({invocationId})`},
	{`hear data as my sheet.xlsx`, "hear-sheet", `data = await dialog.getHear({invocationId, kind: "sheet", arg: "my sheet.xlsx"})`},
	{`x = get "https://example.com/api"`, "get", `x = await system.get({invocationId, url: "https://example.com/api", headers, httpUsername, httpPs})`},
	{`el = get page, "#title"`, "get", `el = await webAutomation.getBySelector({invocationId, handle: page, selector: "#title"})`},
	{`el = get page, "#frame", "#title"`, "get", `el = await webAutomation.getByFrame({invocationId, handle: page, frameOrSelector: "#frame", selector: "#title"})`},
	{`if a = 1 and b <> 2 then`, "if", `if (a === 1 && b !== 2) {`},
	{`else if a = 2 then`, "else-if", `} else if (a === 2) {`},
	{`else`, "else", `} else {`},
	{`END IF`, "end-if", `}`},
	{`for i = 1 to 10`, "for", `for (i = 1; i <= 10; i++) {`},
	{`for i = 10 to 1 step -2`, "for", `for (i = 10; i >= 1; i -= 2) {`},
	{`for each item in items`, "for-each", `for (item of items) {`},
	{`next i`, "next", `}`},
	{`do while x < 5 or done`, "do-while", `while (x < 5 || done) {`},
	{`loop`, "loop", `}`},
	{`exit for`, "exit-loop", `break;`},
	{`exit`, "exit", `return;`},
	{`select case opt`, "select-case", `{ const __selectCase = opt; if (false) {`},
	{`case 1, 2`, "case", `} else if (__selectCase === 1 || __selectCase === 2) {`},
	{`case else`, "case-else", `} else {`},
	{`end select`, "end-select", `} }`},
	{`function soma(a, b)`, "function", `soma = async (a, b) => {`},
	{`end function`, "end-function", `}`},
	{`x = SELECT * FROM clientes WHERE id = 1`, "select", `x = await system.executeSQL({invocationId, data: x, sql: "SELECT * FROM ? WHERE id = 1", tableName: "clientes"})`},
	{`transfer`, "transfer", `await dialog.transferTo({invocationId})`},
	{`transfer to "5511"`, "transfer-to", `await dialog.transferTo({invocationId, to: "5511"})`},
	{`send email "a@b.com", "Hi", "Body, with comma"`, "send-email", `await dialog.sendEmail({invocationId, to: "a@b.com", subject: "Hi", body: "Body, with comma"})`},
	{`send file to mobile, "f.pdf"`, "send-file-to", `await dialog.sendFileTo({invocationId, mobile: mobile, filename: "f.pdf"})`},
	{`send file "f.pdf", "caption"`, "send-file", `await dialog.sendFile({invocationId, filename: "f.pdf", caption: "caption"})`},
	{`click "#btn"`, "click", `await webAutomation.click({invocationId, handle: page, frameOrSelector: "#btn"})`},
	{`click link text "More", 2`, "click-link-text", `await webAutomation.linkByText({invocationId, handle: page, text: "More", index: 2})`},
	{`wait 5`, "wait", `await system.wait({invocationId, seconds: 5})`},
	{`x = NEW OBJECT`, "new-object", `x = {}`},
	{`x = new array`, "new-array", `x = []`},
	{`REM comment`, "rem", ``},
	{`' comment`, "quote-comment", ``},
	{`open "https://x.com" AS #s1`, "open", `page = await webAutomation.getPage({invocationId, sessionKind: "AS", sessionName: "s1", url: "https://x.com"})`},
	{`y = datediff d1, d2, "day"`, "datediff", `y = await dialog.dateDiff({invocationId, date1: d1, date2: d2, mode: "day"})`},
	{`dateadd d1, "day", 3`, "dateadd", `await dialog.dateAdd({invocationId, date: d1, mode: "day", units: 3})`},
	{`set theme Dark`, "set-theme", `await dialog.setTheme({invocationId, theme: "dark"})`},
	{`set translator ON`, "set-translator", `await dialog.setTranslatorOn({invocationId, on: "on"})`},
	{`set max lines 10`, "set-max-lines", `await dialog.setMaxLines({invocationId, count: 10})`},
	{`set language "pt"`, "set-language", `await dialog.setLanguage({invocationId, language: "pt"})`},
	{`set param color as "blue"`, "set-param", `await dialog.setUserParam({invocationId, name: color, value: "blue"})`},
	{`c = get param color`, "assign-get-param", `c = await dialog.getUserParam({invocationId, name: color})`},
	{`set header "Authorization" as token`, "set-header", `headers["Authorization"] = token`},
	{`set http username = "bob"`, "set-http-username", `httpUsername = "bob"`},
	{`save "file.xlsx" as "out.xlsx"`, "save-as", `await system.saveFile({invocationId, file: "out.xlsx", data: "file.xlsx"})`},
	{`save "data.xlsx", a, b`, "save", `await system.save({invocationId, args: ["data.xlsx", a, b]})`},
	{`set "data.xlsx", "A1", 10`, "set", `await system.set({invocationId, file: "data.xlsx", address: "A1", value: 10})`},
	{`r = post "https://api", body`, "post", `r = await system.postByHttp({invocationId, url: "https://api", data: body, headers})`},
	{`r = put "https://api", body`, "put", `r = await system.putByHttp({invocationId, url: "https://api", data: body, headers})`},
	{`f = download "#link", "reports"`, "download", `f = await system.download({invocationId, handle: page, selector: "#link", folder: "reports"})`},
	{`img = report as image`, "as-image", `img = await system.asImage({invocationId, data: report})`},
	{`doc = report as pdf`, "as-pdf", `doc = await system.asPdf({invocationId, data: report})`},
	{`doc = fill "template.docx" with data`, "fill", `doc = await system.fill({invocationId, templateName: "template.docx", data: data})`},
	{`merge "a.xlsx" with rows by "id"`, "merge", `await system.merge({invocationId, file: "a.xlsx", data: rows, key1: "id"})`},
	{`ch = chart "bar", data`, "chart", `ch = await dialog.chart({invocationId, type: "bar", data: data})`},
	{`d = create deal "Big", contact, "ACME", 1000`, "create-deal", `d = await dialog.createDeal({invocationId, dealName: "Big", contact: contact, company: "ACME", amount: 1000})`},
	{`t = active tasks`, "active-tasks", `t = await dialog.getActiveTasks({invocationId})`},
	{`list = sort list by name`, "sort-by", `list = await system.sortBy({invocationId, array: list, memberName: "name"})`},
	{`see text of url as txt`, "see-text", `txt = await system.seeText({invocationId, url: url})`},
	{`get stock for "PETR4"`, "get-stock", `stock = await system.getStock({invocationId, symbol: "PETR4"})`},
	{`go to "main"`, "go-to", `await dialog.gotoDialog({invocationId, fromOrDialogName: "main"})`},
	{`show menu`, "show-menu", `await dialog.showMenu({invocationId})`},
	{`talk to "5511", "hi"`, "talk-to", `await system.talkTo({invocationId, mobile: "5511", message: "hi"})`},
	{`send sms to "5511", "hi"`, "send-sms-to", `await system.sendSmsTo({invocationId, mobile: "5511", message: "hi"})`},
	{`press "Enter"`, "press", `await webAutomation.pressKey({invocationId, handle: page, char: "Enter"})`},
	{`screenshot "#chart"`, "screenshot", `await webAutomation.screenshot({invocationId, handle: page, selector: "#chart"})`},
	{`hover page, "#menu"`, "hover", `await webAutomation.hover({invocationId, handle: page, selector: "#menu"})`},
	{`tweet "hello"`, "tweet", `await system.tweet({invocationId, text: "hello"})`},
	{`copy "a.txt", "b.txt"`, "copy", `await system.copyFile({invocationId, src: "a.txt", dst: "b.txt"})`},
	{`convert "a.docx", "a.pdf"`, "convert", `await system.convert({invocationId, src: "a.docx", dst: "a.pdf"})`},
	{`f = create folder "reports"`, "create-folder", `f = await system.createFolder({invocationId, name: "reports"})`},
	{`share folder f`, "share-folder", `await system.shareFolder({invocationId, name: f})`},
	{`CALL helper()`, "call", `await helper()`},
	{`rows = find "clients.xlsx", "id=1"`, "find", `rows = await system.find({invocationId, args: ["clients.xlsx", "id=1"]})`},
	{`rows = append a, b`, "append", `rows = await system.append({invocationId, args: [a, b]})`},
	{`c = card doc, data`, "card", `c = await dialog.card({invocationId, args: [doc, data]})`},
	{`set hear on "5511"`, "set-hear-on", `hrOn = "5511"`},
}

func TestDefaultRules(t *testing.T) {
	table := Default()

	for _, tc := range ruleCases {
		t.Run(tc.line, func(t *testing.T) {
			out, rule, err := table.Apply(tc.line)
			require.NoError(t, err)
			require.NotNil(t, rule, "no rule matched")
			assert.Equal(t, tc.rule, rule.Name)
			assert.Equal(t, tc.want, out)
		})
	}
}

func TestRulesIdempotentOnOwnOutput(t *testing.T) {
	table := Default()

	for _, tc := range ruleCases {
		out, rule, err := table.Apply(tc.line)
		require.NoError(t, err)
		require.NotNil(t, rule, tc.line)

		for _, line := range strings.Split(out, "\n") {
			assert.False(t, rule.Matches(line), "rule %s matches its own output %q", rule.Name, line)
		}
	}
}

func TestFindOrTalkEmitsGuard(t *testing.T) {
	out, rule, err := Default().Apply(`c = find "clients.xlsx", "id=1" or talk "Not found"`)
	require.NoError(t, err)
	require.NotNil(t, rule)
	assert.Equal(t, "find-or-talk", rule.Name)

	want := strings.Join([]string{
		`c = await system.find({invocationId, args: ["clients.xlsx", "id=1"]})`,
		`if (!c) {`,
		`await dialog.talk({invocationId, text: "Not found"})`,
		`return -1;`,
		`}`,
	}, "\n")
	assert.Equal(t, want, out)
}

func TestPassThrough(t *testing.T) {
	table := Default()

	for _, line := range []string{
		`x = 1 + 2`,
		`total = price * qty`,
		`talkative = true`,
		`transfer "unclosed`,
		``,
	} {
		out, rule, err := table.Apply(line)
		require.NoError(t, err)
		assert.Nil(t, rule, line)
		assert.Equal(t, line, out)
	}
}

func TestTransferInsideQuotesNotRewritten(t *testing.T) {
	out, rule, err := Default().Apply(`talk "please transfer me"`)
	require.NoError(t, err)
	require.NotNil(t, rule)
	assert.Equal(t, "talk", rule.Name)
	assert.Contains(t, out, `text: "please transfer me"`)
}

func TestMatchKeepsTrailingText(t *testing.T) {
	// Only the matched portion is replaced.
	out, rule, err := Default().Apply(`hear n as integer  `)
	require.NoError(t, err)
	require.NotNil(t, rule)
	assert.Equal(t, `n = await dialog.getHear({invocationId, kind: "integer"})  `, out)
}

func TestTable(t *testing.T) {
	table := Default()
	assert.GreaterOrEqual(t, table.Len(), 90)

	rule, ok := table.Lookup("talk")
	require.True(t, ok)
	assert.Equal(t, []Call{{Dialog, "talk"}}, rule.Calls)

	_, ok = table.Lookup("missing")
	assert.False(t, ok)

	rules := table.Rules()
	rules[0].Name = "mutated"
	first := table.Rules()[0]
	assert.Equal(t, "rem", first.Name)

	_, err := NewTable(Rule{Name: "a", Pattern: compile("a"), Build: literal("")}, Rule{Name: "a", Pattern: compile("b"), Build: literal("")})
	assert.Error(t, err)

	_, err = NewTable(Rule{Name: "incomplete"})
	assert.Error(t, err)
}
