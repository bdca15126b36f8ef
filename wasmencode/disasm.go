package wasmencode

import (
	"fmt"
	"strings"
)

// Disassemble renders a WAT-ish signature listing of m's imports and
// functions — not a full text-format decompilation, just enough to see what
// got generated when wasm_dump is set (spec §13.2's supplemented feature).
func (m *Module) Disassemble() string {
	var b strings.Builder
	for _, imp := range m.Imports {
		fmt.Fprintf(&b, "(import %q %q (func %s))\n", imp.Module, imp.Name, sigText(imp.Type))
	}
	for _, f := range m.Funcs {
		name := f.Name
		if name == "" {
			name = "anon"
		}
		fmt.Fprintf(&b, "(func $%s %s)\n", name, sigText(f.Type))
	}
	return b.String()
}

func sigText(t FuncType) string {
	var parts []string
	if len(t.Params) > 0 {
		parts = append(parts, "(param "+typesText(t.Params)+")")
	}
	if len(t.Results) > 0 {
		parts = append(parts, "(result "+typesText(t.Results)+")")
	}
	return strings.Join(parts, " ")
}

func typesText(ts []ValueType) string {
	names := make([]string, len(ts))
	for i, t := range ts {
		names[i] = valueTypeName(t)
	}
	return strings.Join(names, " ")
}

func valueTypeName(t ValueType) string {
	switch t {
	case ValueTypeI32:
		return "i32"
	case ValueTypeI64:
		return "i64"
	case ValueTypeF32:
		return "f32"
	case ValueTypeF64:
		return "f64"
	default:
		return "?"
	}
}
