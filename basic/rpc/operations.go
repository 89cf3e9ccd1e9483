package rpc

import (
	"slices"

	"github.com/teranos/gbvm/basic/keywords"
)

// DialogOperations is the closed set of user-interaction operations.
var DialogOperations = []string{
	"getHear",
	"talk",
	"transferTo",
	"showMenu",
	"chart",
	"card",
	"sendEmail",
	"sendFile",
	"sendFileTo",
	"setLanguage",
	"setTheme",
	"setMaxLines",
	"setMaxColumns",
	"setTranslatorOn",
	"setWholeWord",
	"createDeal",
	"getActiveTasks",
	"findContact",
	"dateDiff",
	"dateAdd",
	"getUserParam",
	"setUserParam",
	"gotoDialog",
	"getWeekFromDate",
	"getHourFromDate",
	"getCoded",
	"getToLst",
	"getNow",
	"getToday",
}

// SystemOperations is the closed set of HTTP, file, query and utility operations.
var SystemOperations = []string{
	"executeSQL",
	"find",
	"append",
	"sortBy",
	"seeText",
	"seeCaption",
	"wait",
	"getStock",
	"get",
	"postByHttp",
	"putByHttp",
	"download",
	"createFolder",
	"shareFolder",
	"createABotFarmUsing",
	"talkTo",
	"sendSmsTo",
	"copyFile",
	"convert",
	"tweet",
	"asImage",
	"asPdf",
	"fill",
	"saveFile",
	"save",
	"set",
	"merge",
}

// WebAutomationOperations is the closed set of browser-page operations.
var WebAutomationOperations = []string{
	"getPage",
	"getBySelector",
	"getByFrame",
	"click",
	"linkByText",
	"hover",
	"pressKey",
	"screenshot",
}

// Operations returns the operation list of a façade, nil for an unknown one.
func Operations(f keywords.Facade) []string {
	switch f {
	case keywords.Dialog:
		return DialogOperations
	case keywords.System:
		return SystemOperations
	case keywords.WebAutomation:
		return WebAutomationOperations
	}
	return nil
}

// Known reports whether op belongs to façade f.
func Known(f keywords.Facade, op string) bool {
	return slices.Contains(Operations(f), op)
}

// Facades lists the façades in the order they are exposed to scripts.
var Facades = []keywords.Facade{keywords.Dialog, keywords.System, keywords.WebAutomation}
