package lua

import (
	"math"

	"github.com/stonexwx/simple-redis/protocol"
	lua "github.com/yuin/gopher-lua"
)

// toFrame converts a script return value into a reply:
//
//	number          integer (truncated)
//	string          bulk string
//	true            integer 1
//	false, nil      null bulk string
//	{ok=s}          simple string
//	{err=s}         simple error
//	{double=n}      double
//	{map=t}         map
//	{set=t}         set of the keys of t whose value is truthy
//	other tables    array of t[1], t[2], ... up to the first nil
func toFrame(lv lua.LValue, depth int) protocol.Frame {
	if depth > maxReplyDepth {
		return protocol.SimpleError("ERR reached lua stack limit")
	}

	switch v := lv.(type) {
	case lua.LNumber:
		return protocol.Integer(truncate(float64(v)))
	case lua.LString:
		return protocol.BulkString(string(v))
	case lua.LBool:
		if v {
			return protocol.Integer(1)
		}
		return protocol.NullBulkString()
	case *lua.LTable:
		return tableToFrame(v, depth)
	}
	return protocol.NullBulkString()
}

func tableToFrame(t *lua.LTable, depth int) protocol.Frame {
	if msg, ok := t.RawGetString("err").(lua.LString); ok {
		return protocol.SimpleError(protocol.SanitizeText(string(msg)))
	}
	if msg, ok := t.RawGetString("ok").(lua.LString); ok {
		return protocol.SimpleString(protocol.SanitizeText(string(msg)))
	}
	if n, ok := t.RawGetString("double").(lua.LNumber); ok {
		return protocol.Double(float64(n))
	}
	if m, ok := t.RawGetString("map").(*lua.LTable); ok {
		entries := make([]protocol.MapEntry, 0)
		m.ForEach(func(k, v lua.LValue) {
			key, ok := keyText(k)
			if !ok {
				return
			}
			entries = append(entries, protocol.MapEntry{Key: key, Value: toFrame(v, depth+1)})
		})
		return protocol.MapOf(entries...)
	}
	if s, ok := t.RawGetString("set").(*lua.LTable); ok {
		members := make([]protocol.Frame, 0)
		s.ForEach(func(k, v lua.LValue) {
			if lua.LVAsBool(v) {
				members = append(members, toFrame(k, depth+1))
			}
		})
		return protocol.Set(members...)
	}

	items := make([]protocol.Frame, 0, t.Len())
	for i := 1; ; i++ {
		v := t.RawGetInt(i)
		if v == lua.LNil {
			break
		}
		items = append(items, toFrame(v, depth+1))
	}
	return protocol.Array(items...)
}

func keyText(k lua.LValue) (string, bool) {
	switch k := k.(type) {
	case lua.LString:
		return protocol.SanitizeText(string(k)), true
	case lua.LNumber:
		return k.String(), true
	}
	return "", false
}

func truncate(f float64) int64 {
	switch {
	case math.IsNaN(f):
		return 0
	case f >= math.MaxInt64:
		return math.MaxInt64
	case f <= math.MinInt64:
		return math.MinInt64
	}
	return int64(f)
}

// toLua converts a command reply into the value seen by the script.
// Error replies never get here: redis.call raises them and redis.pcall
// returns them as {err=...} tables.
func toLua(L *lua.LState, f protocol.Frame) lua.LValue {
	switch f.Kind() {
	case protocol.KindInteger:
		return lua.LNumber(f.Int())
	case protocol.KindBulkString:
		return lua.LString(f.Text())
	case protocol.KindSimpleString:
		t := L.NewTable()
		t.RawSetString("ok", lua.LString(f.Text()))
		return t
	case protocol.KindSimpleError:
		return errorTable(L, f.Text())
	case protocol.KindBoolean:
		return lua.LBool(f.Bool())
	case protocol.KindDouble:
		t := L.NewTable()
		t.RawSetString("double", lua.LNumber(f.Float()))
		return t
	case protocol.KindArray:
		t := L.CreateTable(f.Len(), 0)
		for i, item := range f.Items() {
			t.RawSetInt(i+1, toLua(L, item))
		}
		return t
	case protocol.KindMap:
		m := L.CreateTable(0, f.Len())
		for _, e := range f.Entries() {
			m.RawSetString(e.Key, toLua(L, e.Value))
		}
		t := L.NewTable()
		t.RawSetString("map", m)
		return t
	case protocol.KindSet:
		s := L.CreateTable(0, f.Len())
		for _, member := range f.Items() {
			s.RawSet(toLua(L, member), lua.LTrue)
		}
		t := L.NewTable()
		t.RawSetString("set", s)
		return t
	}
	return lua.LFalse
}
