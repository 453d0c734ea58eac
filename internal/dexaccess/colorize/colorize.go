package colorize

import (
	"os"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

// Disabled reports whether DEXACCESS_NO_COLOR is set.
func Disabled() bool {
	return os.Getenv("DEXACCESS_NO_COLOR") != ""
}

func reportStyle() *chroma.Style {
	for _, name := range []string{ReportDark.Name, "dracula", "monokai"} {
		if style := styles.Get(name); style != nil {
			return style
		}
	}
	return styles.Fallback
}

func terminalFormatter() chroma.Formatter {
	for _, name := range []string{"terminal16m", "terminal256"} {
		if formatter := formatters.Get(name); formatter != nil {
			return formatter
		}
	}
	return formatters.Fallback
}

// JSON highlights a JSON document for the terminal. The input comes back
// unchanged when color is disabled or highlighting fails.
func JSON(doc string) string {
	return highlight("json", doc)
}

func highlight(language, code string) string {
	if Disabled() {
		return code
	}
	lexer := lexers.Get(language)
	if lexer == nil {
		return code
	}
	iterator, err := chroma.Coalesce(lexer).Tokenise(nil, code)
	if err != nil {
		return code
	}
	var buf strings.Builder
	if err := terminalFormatter().Format(&buf, reportStyle(), iterator); err != nil {
		return code
	}
	return buf.String()
}
