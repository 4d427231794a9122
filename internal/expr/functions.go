package expr

import (
	"encoding/base64"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dop251/goja"
)

// registerFunctions installs the fixed, named function table on vm: ~70
// pure functions, none of which performs I/O. It only adds globals; the
// rest of the goja runtime (assignment, loops, eval, standard built-ins)
// is not removed or restricted.
// Grounded on the helper-registration pattern in
// github.com/rakunlabs/at's workflow/goja.go (registerGojaHelpers), with the
// HTTP/IO helpers removed — the expression sandbox must stay side-effect-free
// per spec.md §4.1, unlike the teacher's workflow script nodes.
func registerFunctions(vm *goja.Runtime) {
	set := func(name string, fn func(goja.FunctionCall) goja.Value) {
		_ = vm.Set(name, fn)
	}

	registerStringFunctions(vm, set)
	registerNumberFunctions(vm, set)
	registerArrayFunctions(vm, set)
	registerObjectFunctions(vm, set)
	registerDateFunctions(vm, set)
	registerTypeFunctions(vm, set)
	registerMiscFunctions(vm, set)
}

func arg(call goja.FunctionCall, i int) goja.Value {
	if i < len(call.Arguments) {
		return call.Arguments[i]
	}
	return goja.Undefined()
}

func argString(call goja.FunctionCall, i int) string {
	v := arg(call, i)
	if goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	return v.String()
}

func argFloat(call goja.FunctionCall, i int) float64 {
	v := arg(call, i)
	if goja.IsUndefined(v) || goja.IsNull(v) {
		return 0
	}
	return v.ToFloat()
}

func argInt(call goja.FunctionCall, i int) int {
	return int(argFloat(call, i))
}

// ─── string ops (≈18) ───

func registerStringFunctions(vm *goja.Runtime, set func(string, func(goja.FunctionCall) goja.Value)) {
	set("upperCase", func(c goja.FunctionCall) goja.Value { return vm.ToValue(strings.ToUpper(argString(c, 0))) })
	set("lowerCase", func(c goja.FunctionCall) goja.Value { return vm.ToValue(strings.ToLower(argString(c, 0))) })
	set("trim", func(c goja.FunctionCall) goja.Value { return vm.ToValue(strings.TrimSpace(argString(c, 0))) })
	set("trimStart", func(c goja.FunctionCall) goja.Value { return vm.ToValue(strings.TrimLeft(argString(c, 0), " \t\n\r")) })
	set("trimEnd", func(c goja.FunctionCall) goja.Value { return vm.ToValue(strings.TrimRight(argString(c, 0), " \t\n\r")) })
	set("split", func(c goja.FunctionCall) goja.Value {
		sep := argString(c, 1)
		parts := strings.Split(argString(c, 0), sep)
		out := make([]any, len(parts))
		for i, p := range parts {
			out[i] = p
		}
		return vm.ToValue(out)
	})
	set("join", func(c goja.FunctionCall) goja.Value {
		arr, _ := arg(c, 0).Export().([]any)
		sep := argString(c, 1)
		strs := make([]string, len(arr))
		for i, v := range arr {
			strs[i] = fmt.Sprintf("%v", v)
		}
		return vm.ToValue(strings.Join(strs, sep))
	})
	set("replace", func(c goja.FunctionCall) goja.Value {
		return vm.ToValue(strings.ReplaceAll(argString(c, 0), argString(c, 1), argString(c, 2)))
	})
	set("contains", func(c goja.FunctionCall) goja.Value { return vm.ToValue(strings.Contains(argString(c, 0), argString(c, 1))) })
	set("startsWith", func(c goja.FunctionCall) goja.Value { return vm.ToValue(strings.HasPrefix(argString(c, 0), argString(c, 1))) })
	set("endsWith", func(c goja.FunctionCall) goja.Value { return vm.ToValue(strings.HasSuffix(argString(c, 0), argString(c, 1))) })
	set("padStart", func(c goja.FunctionCall) goja.Value { return vm.ToValue(padString(argString(c, 0), argInt(c, 1), argStringDefault(c, 2, " "), true)) })
	set("padEnd", func(c goja.FunctionCall) goja.Value { return vm.ToValue(padString(argString(c, 0), argInt(c, 1), argStringDefault(c, 2, " "), false)) })
	set("slice", func(c goja.FunctionCall) goja.Value {
		s := argString(c, 0)
		start, end := clampRange(argInt(c, 1), argIntDefault(c, 2, len(s)), len(s))
		return vm.ToValue(s[start:end])
	})
	set("length", func(c goja.FunctionCall) goja.Value { return vm.ToValue(valueLength(arg(c, 0).Export())) })
	set("repeat", func(c goja.FunctionCall) goja.Value { return vm.ToValue(strings.Repeat(argString(c, 0), max(0, argInt(c, 1)))) })
	set("capitalize", func(c goja.FunctionCall) goja.Value { return vm.ToValue(capitalize(argString(c, 0))) })
	set("concat", func(c goja.FunctionCall) goja.Value {
		var b strings.Builder
		for _, a := range c.Arguments {
			b.WriteString(fmt.Sprintf("%v", a.Export()))
		}
		return vm.ToValue(b.String())
	})
	set("indexOf", func(c goja.FunctionCall) goja.Value { return vm.ToValue(strings.Index(argString(c, 0), argString(c, 1))) })
}

func argStringDefault(c goja.FunctionCall, i int, def string) string {
	if i >= len(c.Arguments) {
		return def
	}
	return argString(c, i)
}

func argIntDefault(c goja.FunctionCall, i int, def int) int {
	if i >= len(c.Arguments) {
		return def
	}
	return argInt(c, i)
}

func padString(s string, targetLen int, pad string, start bool) string {
	if pad == "" || len(s) >= targetLen {
		return s
	}
	need := targetLen - len(s)
	var b strings.Builder
	for b.Len() < need {
		b.WriteString(pad)
	}
	padding := b.String()[:need]
	if start {
		return padding + s
	}
	return s + padding
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func clampRange(start, end, length int) (int, int) {
	if start < 0 {
		start = max(0, length+start)
	}
	if end < 0 {
		end = max(0, length+end)
	}
	start = min(start, length)
	end = min(end, length)
	if end < start {
		end = start
	}
	return start, end
}

// ─── numeric ops (≈14) ───

func registerNumberFunctions(vm *goja.Runtime, set func(string, func(goja.FunctionCall) goja.Value)) {
	set("abs", func(c goja.FunctionCall) goja.Value { return vm.ToValue(math.Abs(argFloat(c, 0))) })
	set("round", func(c goja.FunctionCall) goja.Value { return vm.ToValue(math.Round(argFloat(c, 0))) })
	set("floor", func(c goja.FunctionCall) goja.Value { return vm.ToValue(math.Floor(argFloat(c, 0))) })
	set("ceil", func(c goja.FunctionCall) goja.Value { return vm.ToValue(math.Ceil(argFloat(c, 0))) })
	set("min", func(c goja.FunctionCall) goja.Value { return vm.ToValue(foldFloats(c, math.Inf(1), math.Min)) })
	set("max", func(c goja.FunctionCall) goja.Value { return vm.ToValue(foldFloats(c, math.Inf(-1), math.Max)) })
	set("pow", func(c goja.FunctionCall) goja.Value { return vm.ToValue(math.Pow(argFloat(c, 0), argFloat(c, 1))) })
	set("sqrt", func(c goja.FunctionCall) goja.Value { return vm.ToValue(math.Sqrt(argFloat(c, 0))) })
	set("toFixed", func(c goja.FunctionCall) goja.Value { return vm.ToValue(strconv.FormatFloat(argFloat(c, 0), 'f', argIntDefault(c, 1, 0), 64)) })
	set("parseNumber", func(c goja.FunctionCall) goja.Value {
		f, err := strconv.ParseFloat(strings.TrimSpace(argString(c, 0)), 64)
		if err != nil {
			return goja.NaN()
		}
		return vm.ToValue(f)
	})
	set("isNaN", func(c goja.FunctionCall) goja.Value { return vm.ToValue(math.IsNaN(argFloat(c, 0))) })
	set("clamp", func(c goja.FunctionCall) goja.Value {
		v, lo, hi := argFloat(c, 0), argFloat(c, 1), argFloat(c, 2)
		return vm.ToValue(math.Min(math.Max(v, lo), hi))
	})
	set("sum", func(c goja.FunctionCall) goja.Value {
		arr, _ := arg(c, 0).Export().([]any)
		var total float64
		for _, v := range arr {
			total += toFloat(v)
		}
		return vm.ToValue(total)
	})
	set("avg", func(c goja.FunctionCall) goja.Value {
		arr, _ := arg(c, 0).Export().([]any)
		if len(arr) == 0 {
			return vm.ToValue(0)
		}
		var total float64
		for _, v := range arr {
			total += toFloat(v)
		}
		return vm.ToValue(total / float64(len(arr)))
	})
}

func foldFloats(c goja.FunctionCall, init float64, fn func(a, b float64) float64) float64 {
	acc := init
	for _, a := range c.Arguments {
		acc = fn(acc, a.ToFloat())
	}
	return acc
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}

// ─── list ops (≈11) ───

func registerArrayFunctions(vm *goja.Runtime, set func(string, func(goja.FunctionCall) goja.Value)) {
	set("first", func(c goja.FunctionCall) goja.Value {
		arr, _ := arg(c, 0).Export().([]any)
		if len(arr) == 0 {
			return goja.Undefined()
		}
		return vm.ToValue(arr[0])
	})
	set("last", func(c goja.FunctionCall) goja.Value {
		arr, _ := arg(c, 0).Export().([]any)
		if len(arr) == 0 {
			return goja.Undefined()
		}
		return vm.ToValue(arr[len(arr)-1])
	})
	set("arrayLength", func(c goja.FunctionCall) goja.Value {
		arr, _ := arg(c, 0).Export().([]any)
		return vm.ToValue(len(arr))
	})
	set("includes", func(c goja.FunctionCall) goja.Value {
		arr, _ := arg(c, 0).Export().([]any)
		needle := arg(c, 1).Export()
		for _, v := range arr {
			if fmt.Sprintf("%v", v) == fmt.Sprintf("%v", needle) {
				return vm.ToValue(true)
			}
		}
		return vm.ToValue(false)
	})
	set("reverse", func(c goja.FunctionCall) goja.Value {
		arr, _ := arg(c, 0).Export().([]any)
		out := make([]any, len(arr))
		for i, v := range arr {
			out[len(arr)-1-i] = v
		}
		return vm.ToValue(out)
	})
	set("sortAsc", func(c goja.FunctionCall) goja.Value { return vm.ToValue(sortCopy(arg(c, 0).Export(), true)) })
	set("sortDesc", func(c goja.FunctionCall) goja.Value { return vm.ToValue(sortCopy(arg(c, 0).Export(), false)) })
	set("unique", func(c goja.FunctionCall) goja.Value {
		arr, _ := arg(c, 0).Export().([]any)
		seen := make(map[string]bool, len(arr))
		out := make([]any, 0, len(arr))
		for _, v := range arr {
			key := fmt.Sprintf("%v", v)
			if !seen[key] {
				seen[key] = true
				out = append(out, v)
			}
		}
		return vm.ToValue(out)
	})
	set("flatten", func(c goja.FunctionCall) goja.Value {
		arr, _ := arg(c, 0).Export().([]any)
		return vm.ToValue(flattenOnce(arr))
	})
	set("range", func(c goja.FunctionCall) goja.Value {
		start, end := argInt(c, 0), argInt(c, 1)
		if len(c.Arguments) == 1 {
			start, end = 0, start
		}
		out := make([]any, 0, max(0, end-start))
		for i := start; i < end; i++ {
			out = append(out, float64(i))
		}
		return vm.ToValue(out)
	})
	set("sliceArray", func(c goja.FunctionCall) goja.Value {
		arr, _ := arg(c, 0).Export().([]any)
		start, end := clampRange(argInt(c, 1), argIntDefault(c, 2, len(arr)), len(arr))
		return vm.ToValue(append([]any{}, arr[start:end]...))
	})
}

func sortCopy(v any, asc bool) []any {
	arr, _ := v.([]any)
	out := append([]any{}, arr...)
	sort.SliceStable(out, func(i, j int) bool {
		less := fmt.Sprintf("%v", out[i]) < fmt.Sprintf("%v", out[j])
		if asc {
			return less
		}
		return !less
	})
	return out
}

func flattenOnce(arr []any) []any {
	out := make([]any, 0, len(arr))
	for _, v := range arr {
		if inner, ok := v.([]any); ok {
			out = append(out, inner...)
			continue
		}
		out = append(out, v)
	}
	return out
}

func valueLength(v any) int {
	switch val := v.(type) {
	case string:
		return len(val)
	case []any:
		return len(val)
	case map[string]any:
		return len(val)
	}
	return 0
}

// ─── object ops (≈4) ───

func registerObjectFunctions(vm *goja.Runtime, set func(string, func(goja.FunctionCall) goja.Value)) {
	set("keys", func(c goja.FunctionCall) goja.Value {
		obj, _ := arg(c, 0).Export().(map[string]any)
		out := make([]any, 0, len(obj))
		for k := range obj {
			out = append(out, k)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].(string) < out[j].(string) })
		return vm.ToValue(out)
	})
	set("values", func(c goja.FunctionCall) goja.Value {
		obj, _ := arg(c, 0).Export().(map[string]any)
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]any, 0, len(obj))
		for _, k := range keys {
			out = append(out, obj[k])
		}
		return vm.ToValue(out)
	})
	set("has", func(c goja.FunctionCall) goja.Value {
		obj, _ := arg(c, 0).Export().(map[string]any)
		_, ok := obj[argString(c, 1)]
		return vm.ToValue(ok)
	})
	set("get", func(c goja.FunctionCall) goja.Value {
		obj, _ := arg(c, 0).Export().(map[string]any)
		if v, ok := obj[argString(c, 1)]; ok {
			return vm.ToValue(v)
		}
		return arg(c, 2)
	})
}

// ─── date/time ops (≈10) ───

func registerDateFunctions(vm *goja.Runtime, set func(string, func(goja.FunctionCall) goja.Value)) {
	set("now", func(c goja.FunctionCall) goja.Value { return vm.ToValue(float64(time.Now().UnixMilli())) })
	set("nowISO", func(c goja.FunctionCall) goja.Value { return vm.ToValue(time.Now().UTC().Format(time.RFC3339)) })
	set("formatDate", func(c goja.FunctionCall) goja.Value {
		ms := int64(argFloat(c, 0))
		layout := argStringDefault(c, 1, time.RFC3339)
		return vm.ToValue(time.UnixMilli(ms).UTC().Format(goLayout(layout)))
	})
	set("parseDate", func(c goja.FunctionCall) goja.Value {
		t, err := time.Parse(time.RFC3339, argString(c, 0))
		if err != nil {
			return goja.NaN()
		}
		return vm.ToValue(float64(t.UnixMilli()))
	})
	set("addSeconds", func(c goja.FunctionCall) goja.Value { return vm.ToValue(argFloat(c, 0) + argFloat(c, 1)*1000) })
	set("addMinutes", func(c goja.FunctionCall) goja.Value { return vm.ToValue(argFloat(c, 0) + argFloat(c, 1)*60000) })
	set("addHours", func(c goja.FunctionCall) goja.Value { return vm.ToValue(argFloat(c, 0) + argFloat(c, 1)*3600000) })
	set("daysBetween", func(c goja.FunctionCall) goja.Value {
		diff := argFloat(c, 1) - argFloat(c, 0)
		return vm.ToValue(diff / 86400000)
	})
	set("dayOfWeek", func(c goja.FunctionCall) goja.Value {
		ms := int64(argFloat(c, 0))
		return vm.ToValue(int(time.UnixMilli(ms).UTC().Weekday()))
	})
}

// goLayout maps a handful of common strftime-ish tokens to Go reference-time
// layouts; unknown layouts pass through unchanged (callers may already use
// Go's native layout string).
func goLayout(layout string) string {
	switch layout {
	case "date":
		return "2006-01-02"
	case "time":
		return "15:04:05"
	case "datetime":
		return "2006-01-02 15:04:05"
	default:
		return layout
	}
}

// ─── type checks (≈10) ───

func registerTypeFunctions(vm *goja.Runtime, set func(string, func(goja.FunctionCall) goja.Value)) {
	set("typeOf", func(c goja.FunctionCall) goja.Value { return vm.ToValue(typeName(arg(c, 0).Export())) })
	set("isString", func(c goja.FunctionCall) goja.Value { _, ok := arg(c, 0).Export().(string); return vm.ToValue(ok) })
	set("isNumber", func(c goja.FunctionCall) goja.Value {
		switch arg(c, 0).Export().(type) {
		case float64, int64:
			return vm.ToValue(true)
		}
		return vm.ToValue(false)
	})
	set("isBool", func(c goja.FunctionCall) goja.Value { _, ok := arg(c, 0).Export().(bool); return vm.ToValue(ok) })
	set("isArray", func(c goja.FunctionCall) goja.Value { _, ok := arg(c, 0).Export().([]any); return vm.ToValue(ok) })
	set("isObject", func(c goja.FunctionCall) goja.Value { _, ok := arg(c, 0).Export().(map[string]any); return vm.ToValue(ok) })
	set("isNull", func(c goja.FunctionCall) goja.Value { return vm.ToValue(goja.IsNull(arg(c, 0)) || goja.IsUndefined(arg(c, 0))) })
	set("toString", func(c goja.FunctionCall) goja.Value { return vm.ToValue(fmt.Sprintf("%v", arg(c, 0).Export())) })
	set("toNumber", func(c goja.FunctionCall) goja.Value { return vm.ToValue(argFloat(c, 0)) })
	set("toBool", func(c goja.FunctionCall) goja.Value { return vm.ToValue(arg(c, 0).ToBoolean()) })
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "bool"
	case float64, int, int64:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return "unknown"
	}
}

// ─── randomness + misc (≈6) ───

func registerMiscFunctions(vm *goja.Runtime, set func(string, func(goja.FunctionCall) goja.Value)) {
	set("random", func(c goja.FunctionCall) goja.Value {
		if len(c.Arguments) >= 2 {
			lo, hi := argFloat(c, 0), argFloat(c, 1)
			return vm.ToValue(lo + rand.Float64()*(hi-lo))
		}
		return vm.ToValue(rand.Float64())
	})
	set("randomInt", func(c goja.FunctionCall) goja.Value {
		lo, hi := argInt(c, 0), argInt(c, 1)
		if hi <= lo {
			return vm.ToValue(lo)
		}
		return vm.ToValue(lo + rand.IntN(hi-lo+1))
	})
	set("randomChoice", func(c goja.FunctionCall) goja.Value {
		arr, _ := arg(c, 0).Export().([]any)
		if len(arr) == 0 {
			return goja.Undefined()
		}
		return vm.ToValue(arr[rand.IntN(len(arr))])
	})
	set("uuid", func(c goja.FunctionCall) goja.Value { return vm.ToValue(randomULIDLike()) })
	set("base64Encode", func(c goja.FunctionCall) goja.Value { return vm.ToValue(base64.StdEncoding.EncodeToString([]byte(argString(c, 0)))) })
	set("base64Decode", func(c goja.FunctionCall) goja.Value {
		data, err := base64.StdEncoding.DecodeString(argString(c, 0))
		if err != nil {
			return vm.ToValue("")
		}
		return vm.ToValue(string(data))
	})
	set("coalesce", func(c goja.FunctionCall) goja.Value {
		for _, a := range c.Arguments {
			if !goja.IsUndefined(a) && !goja.IsNull(a) {
				return a
			}
		}
		return goja.Undefined()
	})
}

// randomULIDLike produces a random hex token; full ULID generation with a
// monotonic clock lives in the runtime (oklog/ulid), not the sandbox, which
// must stay free of shared mutable state.
func randomULIDLike() string {
	const hex = "0123456789abcdef"
	b := make([]byte, 26)
	for i := range b {
		b[i] = hex[rand.IntN(len(hex))]
	}
	return string(b)
}
