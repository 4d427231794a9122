package spec_test

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/flowbotic/runtime/internal/spec"
)

// actionToMap re-exposes an Action's Fields (otherwise excluded from the
// default json.Marshal by their "-" tag) as a plain map, recursively
// unwrapping nested action lists the same way action_json.go produced
// them, so a parsed action tree can be golden-compared.
func actionToMap(a spec.Action) map[string]any {
	out := map[string]any{"action": a.Name}
	if a.When != "" {
		out["when"] = a.When
	}
	if a.ErrorHandler != "" {
		out["error_handler"] = a.ErrorHandler
	}
	for k, v := range a.Fields {
		out[k] = fieldToAny(v)
	}
	return out
}

func fieldToAny(v any) any {
	switch val := v.(type) {
	case spec.Action:
		return actionToMap(val)
	case []spec.Action:
		out := make([]any, len(val))
		for i, a := range val {
			out[i] = actionToMap(a)
		}
		return out
	case map[string][]spec.Action:
		out := make(map[string]any, len(val))
		for k, list := range val {
			items := make([]any, len(list))
			for i, a := range list {
				items[i] = actionToMap(a)
			}
			out[k] = items
		}
		return out
	default:
		return v
	}
}

func TestParse_ActionTreeGolden(t *testing.T) {
	raw := []byte(`
version: "1"
flows:
  - name: greet
    actions:
      - action: flow_if
        cond: is_adult
        then:
          - action: reply
            content: welcome
        else:
          - action: reply
            content: restricted
`)

	doc, err := spec.Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	flows := make([]any, len(doc.Flows))
	for i, f := range doc.Flows {
		actions := make([]any, len(f.Actions))
		for j, a := range f.Actions {
			actions[j] = actionToMap(a)
		}
		flows[i] = map[string]any{"name": f.Name, "actions": actions}
	}

	out, err := json.MarshalIndent(flows, "", "  ")
	if err != nil {
		t.Fatalf("MarshalIndent: %v", err)
	}
	out = append(out, '\n')

	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"), goldie.WithNameSuffix(".golden"))
	g.Assert(t, "action_tree", out)
}
