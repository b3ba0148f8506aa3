package lua

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/stonexwx/simple-redis/protocol"
	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
)

// maxReplyDepth bounds the nesting of tables converted into replies
const maxReplyDepth = 64

// ErrNoScript is returned by EvalSHA for an unknown digest
var ErrNoScript = errors.New("NOSCRIPT No matching script. Please use EVAL.")

// ScriptError reports a script that failed to compile or raised an error
type ScriptError struct {
	SHA     string
	Compile bool
	Err     error
}

// Error implements the error interface
func (e *ScriptError) Error() string {
	phase := "running"
	if e.Compile {
		phase = "compiling"
	}
	return fmt.Sprintf("Error %s script (call to f_%s): %v", phase, e.SHA, e.Err)
}

// Unwrap returns the underlying Lua error
func (e *ScriptError) Unwrap() error {
	return e.Err
}

// Caller executes one command on behalf of a script and returns its reply.
// Error replies are reported as SimpleError frames.
type Caller interface {
	Call(args [][]byte) protocol.Frame
}

// CallerFunc adapts a function to the Caller interface
type CallerFunc func(args [][]byte) protocol.Frame

// Call implements Caller
func (f CallerFunc) Call(args [][]byte) protocol.Frame {
	return f(args)
}

// Engine provides Redis-compatible Lua script execution
type Engine struct {
	caller  Caller
	scripts sync.Map // SHA1 hex -> *lua.FunctionProto
}

// NewEngine creates a new Lua execution engine whose redis.call and
// redis.pcall run commands through caller
func NewEngine(caller Caller) *Engine {
	return &Engine{
		caller: caller,
	}
}

// Eval executes a Lua script with the given keys and arguments. The script
// is cached so that EvalSHA can run it later.
//
// A script that raises an error reply ({err=...}, redis.error_reply or a
// failing redis.call) yields a SimpleError frame and a nil error. Compile
// and runtime errors of the script itself are returned as *ScriptError.
// The script is aborted once ctx is done; the returned *ScriptError then
// wraps ctx.Err().
func (e *Engine) Eval(ctx context.Context, script string, keys, args []string) (protocol.Frame, error) {
	sha, proto, err := e.compile(script)
	if err != nil {
		return protocol.Frame{}, err
	}
	return e.run(ctx, sha, proto, keys, args)
}

// EvalSHA executes a previously loaded script by its SHA1 hash
func (e *Engine) EvalSHA(ctx context.Context, sha string, keys, args []string) (protocol.Frame, error) {
	sha = strings.ToLower(sha)
	proto, exists := e.scripts.Load(sha)
	if !exists {
		return protocol.Frame{}, ErrNoScript
	}
	return e.run(ctx, sha, proto.(*lua.FunctionProto), keys, args)
}

// LoadScript compiles and caches a script and returns its SHA1 hash
func (e *Engine) LoadScript(script string) (string, error) {
	sha, _, err := e.compile(script)
	return sha, err
}

// ScriptExists checks if scripts with given SHA1 hashes exist
func (e *Engine) ScriptExists(hashes []string) []bool {
	results := make([]bool, len(hashes))
	for i, hash := range hashes {
		_, results[i] = e.scripts.Load(strings.ToLower(hash))
	}
	return results
}

// ScriptFlush removes all cached scripts
func (e *Engine) ScriptFlush() {
	e.scripts.Range(func(key, _ interface{}) bool {
		e.scripts.Delete(key)
		return true
	})
}

// SHA1Hex returns the digest under which script is cached
func SHA1Hex(script string) string {
	sum := sha1.Sum([]byte(script))
	return hex.EncodeToString(sum[:])
}

func (e *Engine) compile(script string) (string, *lua.FunctionProto, error) {
	sha := SHA1Hex(script)
	if proto, ok := e.scripts.Load(sha); ok {
		return sha, proto.(*lua.FunctionProto), nil
	}

	chunk, err := parse.Parse(strings.NewReader(script), "user_script")
	if err != nil {
		return sha, nil, &ScriptError{SHA: sha, Compile: true, Err: err}
	}
	proto, err := lua.Compile(chunk, "user_script")
	if err != nil {
		return sha, nil, &ScriptError{SHA: sha, Compile: true, Err: err}
	}

	e.scripts.Store(sha, proto)
	return sha, proto, nil
}

func (e *Engine) run(ctx context.Context, sha string, proto *lua.FunctionProto, keys, args []string) (protocol.Frame, error) {
	if err := ctx.Err(); err != nil {
		return protocol.Frame{}, &ScriptError{SHA: sha, Err: err}
	}

	L := newState()
	defer L.Close()
	L.SetContext(ctx)

	e.setupRedisAPI(L, keys, args)

	L.Push(L.NewFunctionFromProto(proto))
	if err := L.PCall(0, 1, nil); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return protocol.Frame{}, &ScriptError{SHA: sha, Err: ctxErr}
		}
		var apiErr *lua.ApiError
		if errors.As(err, &apiErr) {
			if reply, ok := errorReply(apiErr.Object); ok {
				return reply, nil
			}
		}
		return protocol.Frame{}, &ScriptError{SHA: sha, Err: err}
	}

	return toFrame(L.Get(-1), 0), nil
}

// newState opens a state with the libraries scripts may use: base, table,
// string and math. File access from the base library is removed.
func newState() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, lib := range []struct {
		name string
		open lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.open))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
	for _, name := range []string{"dofile", "loadfile", "require", "module"} {
		L.SetGlobal(name, lua.LNil)
	}
	return L
}

// setupRedisAPI configures the Lua state with Redis-compatible functions
func (e *Engine) setupRedisAPI(L *lua.LState, keys, args []string) {
	keysTable := L.CreateTable(len(keys), 0)
	for i, key := range keys {
		keysTable.RawSetInt(i+1, lua.LString(key))
	}
	L.SetGlobal("KEYS", keysTable)

	argvTable := L.CreateTable(len(args), 0)
	for i, arg := range args {
		argvTable.RawSetInt(i+1, lua.LString(arg))
	}
	L.SetGlobal("ARGV", argvTable)

	redisTable := L.NewTable()
	L.SetFuncs(redisTable, map[string]lua.LGFunction{
		"call":         e.redisCall,
		"pcall":        e.redisPCall,
		"status_reply": statusReply,
		"error_reply":  errorReplyFunc,
		"sha1hex":      sha1Hex,
	})
	L.SetGlobal("redis", redisTable)
}

// redisCall implements redis.call(). An error reply is raised as an
// {err=...} table so that it reaches the client unchanged.
func (e *Engine) redisCall(L *lua.LState) int {
	reply, err := e.executeRedisCommand(L)
	if err != nil {
		L.Error(errorTable(L, "ERR "+err.Error()), 0)
		return 0
	}
	if reply.IsError() {
		L.Error(errorTable(L, reply.Text()), 0)
		return 0
	}
	L.Push(toLua(L, reply))
	return 1
}

// redisPCall implements redis.pcall(): error replies are returned as
// {err=...} tables
func (e *Engine) redisPCall(L *lua.LState) int {
	reply, err := e.executeRedisCommand(L)
	if err != nil {
		L.Push(errorTable(L, "ERR "+err.Error()))
		return 1
	}
	if reply.IsError() {
		L.Push(errorTable(L, reply.Text()))
		return 1
	}
	L.Push(toLua(L, reply))
	return 1
}

// executeRedisCommand collects the call arguments and runs the command
func (e *Engine) executeRedisCommand(L *lua.LState) (protocol.Frame, error) {
	argc := L.GetTop()
	if argc == 0 {
		return protocol.Frame{}, errors.New("Please specify at least one argument for this redis lib call")
	}

	args := make([][]byte, argc)
	for i := 1; i <= argc; i++ {
		switch v := L.Get(i).(type) {
		case lua.LString:
			args[i-1] = []byte(v)
		case lua.LNumber:
			args[i-1] = []byte(v.String())
		default:
			return protocol.Frame{}, errors.New("Lua redis lib command arguments must be strings or integers")
		}
	}

	return e.caller.Call(args), nil
}

func statusReply(L *lua.LState) int {
	t := L.NewTable()
	t.RawSetString("ok", lua.LString(L.CheckString(1)))
	L.Push(t)
	return 1
}

func errorReplyFunc(L *lua.LState) int {
	L.Push(errorTable(L, L.CheckString(1)))
	return 1
}

func sha1Hex(L *lua.LState) int {
	L.Push(lua.LString(SHA1Hex(L.CheckString(1))))
	return 1
}

func errorTable(L *lua.LState, msg string) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("err", lua.LString(msg))
	return t
}

// errorReply recognises an {err=...} table raised by a script
func errorReply(lv lua.LValue) (protocol.Frame, bool) {
	t, ok := lv.(*lua.LTable)
	if !ok {
		return protocol.Frame{}, false
	}
	msg, ok := t.RawGetString("err").(lua.LString)
	if !ok {
		return protocol.Frame{}, false
	}
	return protocol.SimpleError(protocol.SanitizeText(string(msg))), true
}
