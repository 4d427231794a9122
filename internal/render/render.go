// Package render executes Go text/templates against arbitrary data, with
// the standard mugo function map (string/json/math/time helpers) available
// to every template. It backs the render_template action: a flow author
// who needs more than locale's {name} interpolation — loops, conditionals,
// arbitrary helper functions — reaches for a template string here instead.
package render

import (
	"bytes"
	"log/slog"

	"github.com/rytsh/mugo/fstore"
	_ "github.com/rytsh/mugo/fstore/registry"
	"github.com/rytsh/mugo/render"
	"github.com/rytsh/mugo/templatex"
)

// ExecuteWithData renders content as a Go template against data, with the
// standard mugo helper function map.
var ExecuteWithData = render.ExecuteWithData

// ExecuteWithFuncs renders content with the standard mugo function map plus
// extraFuncs, for callers that need to inject execution-scoped helpers.
func ExecuteWithFuncs(content string, data any, extraFuncs map[string]any) ([]byte, error) {
	tpl := templatex.New(
		templatex.WithAddFuncMapWithOpts(func(o templatex.Option) map[string]any {
			return fstore.FuncMap(
				fstore.WithLog(slog.Default()),
				fstore.WithTrust(true),
				fstore.WithExecuteTemplate(o.T),
			)
		}),
		templatex.WithAddFuncMap(extraFuncs),
	)

	var buf bytes.Buffer
	if err := tpl.Execute(
		templatex.WithIO(&buf),
		templatex.WithContent(content),
		templatex.WithData(data),
	); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
