package colorize

import (
	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/styles"
)

// ReportDark is the style used for JSON reports.
var ReportDark = styles.Register(chroma.MustNewStyle("dexaccess-dark", chroma.StyleEntries{
	chroma.Text:       "#D4D4D4",
	chroma.Background: "bg:#1e1e1e",

	chroma.NameTag:         "#9CDCFE", // object keys
	chroma.LiteralString:   "#CE9178",
	chroma.LiteralNumber:   "#FF5F87",
	chroma.KeywordConstant: "#569CD6", // true, false, null

	chroma.Punctuation: "#808080",
	chroma.Operator:    "#808080",
}))
