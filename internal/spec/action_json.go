package spec

import "encoding/json"

// UnmarshalJSON decodes an action object, pulling the "action",
// "when", and "error_handler" keys into their named fields and
// everything else into Fields. Any field value that is itself an action
// object, or a list of action objects, is recursively decoded into an
// Action/[]Action rather than left as a raw map — this is what lets
// GetActions (and flow_switch's map[string][]Action "cases" field) find
// fully-typed nested action lists instead of json-shaped maps.
func (a *Action) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if name, ok := raw["action"].(string); ok {
		a.Name = name
	}
	if when, ok := raw["when"].(string); ok {
		a.When = when
	}
	if eh, ok := raw["error_handler"].(string); ok {
		a.ErrorHandler = eh
	}
	delete(raw, "action")
	delete(raw, "when")
	delete(raw, "error_handler")

	fields := make(map[string]any, len(raw))
	for k, v := range raw {
		fields[k] = convertActionValue(v)
	}
	a.Fields = fields
	return nil
}

// convertActionValue walks a generically-decoded JSON value, converting
// any object shaped like an action ({"action": "...", ...}) into an
// Action, any list of such objects into []Action, and any map whose
// every value converts to []Action into map[string][]Action (the shape
// flow_switch's "cases" field needs).
func convertActionValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		if _, ok := val["action"]; ok {
			if act, ok := actionFromMap(val); ok {
				return act
			}
		}
		converted := make(map[string]any, len(val))
		allActionLists := len(val) > 0
		for k, vv := range val {
			cv := convertActionValue(vv)
			converted[k] = cv
			if _, ok := cv.([]Action); !ok {
				allActionLists = false
			}
		}
		if allActionLists {
			out := make(map[string][]Action, len(converted))
			for k, v := range converted {
				out[k] = v.([]Action)
			}
			return out
		}
		return converted

	case []any:
		actions := make([]Action, 0, len(val))
		isActionList := len(val) > 0
		for _, item := range val {
			m, ok := item.(map[string]any)
			if !ok {
				isActionList = false
				break
			}
			act, ok := actionFromMap(m)
			if !ok {
				isActionList = false
				break
			}
			actions = append(actions, act)
		}
		if isActionList {
			return actions
		}
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = convertActionValue(item)
		}
		return out

	default:
		return v
	}
}

func actionFromMap(m map[string]any) (Action, bool) {
	if _, ok := m["action"]; !ok {
		return Action{}, false
	}
	b, err := json.Marshal(m)
	if err != nil {
		return Action{}, false
	}
	var a Action
	if err := json.Unmarshal(b, &a); err != nil {
		return Action{}, false
	}
	return a, true
}
