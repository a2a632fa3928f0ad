// Package script implements Synap's sandboxed scripting bridge: a SHA-1
// keyed script cache and a gopher-lua interpreter wired to a minimal
// "redis.call" bridge into the data stores, bounded by a timeout.
package script

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/hivellm/synap/internal/errs"
	"github.com/hivellm/synap/pkg/log"
)

// Bridge is the minimal "redis.call" surface a script can reach. Command
// names are case-insensitive; implementations should lower-case before
// dispatch. The interpreter layer has already converted Lua values to bytes
// before calling Bridge.
type Bridge interface {
	Call(command string, args [][]byte) (interface{}, error)
}

// Cache stores immutable script source keyed by its SHA-1 hex digest.
type Cache struct {
	mu      sync.RWMutex
	scripts map[string][]byte
}

func newCache() *Cache { return &Cache{scripts: make(map[string][]byte)} }

// Load stores source and returns its SHA-1 digest, idempotently.
func (c *Cache) Load(source []byte) string {
	sum := sha1.Sum(source)
	sha := hex.EncodeToString(sum[:])
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.scripts[sha]; !ok {
		c.scripts[sha] = append([]byte(nil), source...)
	}
	return sha
}

// Exists reports, per requested sha, whether it is cached.
func (c *Cache) Exists(shas []string) []bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]bool, len(shas))
	for i, sha := range shas {
		_, out[i] = c.scripts[sha]
	}
	return out
}

// Flush clears every cached script.
func (c *Cache) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scripts = make(map[string][]byte)
}

func (c *Cache) get(sha string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	src, ok := c.scripts[sha]
	return src, ok
}

// Stats is a point-in-time snapshot of the script cache.
type Stats struct {
	CachedScripts int
}

func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{CachedScripts: len(c.scripts)}
}

// Engine evaluates cached scripts against a Bridge under a bounded timeout.
type Engine struct {
	cache          *Cache
	bridge         Bridge
	defaultTimeout time.Duration

	mu      sync.Mutex
	cancels map[string]context.CancelFunc // running-script-id -> cancel
}

var logger = log.WithComponent("script")

// New builds an Engine. defaultTimeout is used when Eval/EvalSha is called
// with timeout <= 0, and itself defaults to 5s if zero or negative.
func New(bridge Bridge, defaultTimeout time.Duration) *Engine {
	if defaultTimeout <= 0 {
		defaultTimeout = 5 * time.Second
	}
	return &Engine{cache: newCache(), bridge: bridge, defaultTimeout: defaultTimeout, cancels: make(map[string]context.CancelFunc)}
}

// Cache exposes the engine's script cache for load/exists/flush callers.
func (e *Engine) Cache() *Cache { return e.cache }

// Eval is load-then-evalsha.
func (e *Engine) Eval(source string, keys, args []string, timeout time.Duration) (interface{}, error) {
	sha := e.cache.Load([]byte(source))
	return e.EvalSha(sha, keys, args, timeout)
}

// EvalSha runs the cached script identified by sha under timeout (or the
// engine default), with KEYS/ARGV installed and a sandboxed "redis.call"
// bridge. Runtime/syntax errors surface as errs.InvalidRequest; a timeout
// surfaces as errs.Timeout.
func (e *Engine) EvalSha(sha string, keys, args []string, timeout time.Duration) (interface{}, error) {
	source, ok := e.cache.get(sha)
	if !ok {
		return nil, errs.New(errs.InvalidRequest, "NOSCRIPT %s", sha)
	}
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}

	runID := sha + "/" + strconv.FormatInt(time.Now().UnixNano(), 10)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	e.mu.Lock()
	e.cancels[runID] = cancel
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.cancels, runID)
		e.mu.Unlock()
		cancel()
	}()

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()
	L.SetContext(ctx)
	openSandboxedLibs(L)
	stripForbiddenGlobals(L)
	installKeysAndArgv(L, keys, args)
	installRedisBridge(L, e.bridge)

	if err := L.DoString(string(source)); err != nil {
		if ctx.Err() != nil {
			logger.Debug().Str("sha", sha).Dur("timeout", timeout).Msg("script timed out")
			return nil, errs.New(errs.Timeout, "script exceeded timeout %s", timeout)
		}
		logger.Debug().Str("sha", sha).Err(err).Msg("script runtime error")
		return nil, errs.New(errs.InvalidRequest, "%s", err.Error())
	}

	ret := L.Get(-1)
	L.Pop(1)
	return luaToJSON(ret), nil
}

// Kill cancels every currently-running script invocation (best-effort,
// cooperative: gopher-lua checks the context between instructions).
func (e *Engine) Kill() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, cancel := range e.cancels {
		cancel()
		delete(e.cancels, id)
	}
}

// openSandboxedLibs opens only the libraries a script is allowed to touch:
// base (minus the forbidden functions stripped next), table, string, math.
func openSandboxedLibs(L *lua.LState) {
	for _, pair := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(pair.fn))
		L.Push(lua.LString(pair.name))
		L.Call(1, 0)
	}
}

// stripForbiddenGlobals removes every interpreter facility that touches the
// host filesystem, loads additional code, or manipulates the interpreter
// itself.
func stripForbiddenGlobals(L *lua.LState) {
	for _, name := range []string{"load", "loadstring", "dofile", "loadfile", "require", "collectgarbage", "os", "io", "debug", "package"} {
		L.SetGlobal(name, lua.LNil)
	}
	if strTable, ok := L.GetGlobal("string").(*lua.LTable); ok {
		strTable.RawSetString("dump", lua.LNil)
	}
}

// installKeysAndArgv populates the index-1-based KEYS and ARGV sequences.
func installKeysAndArgv(L *lua.LState, keys, args []string) {
	L.SetGlobal("KEYS", stringsToTable(L, keys))
	L.SetGlobal("ARGV", stringsToTable(L, args))
}

func stringsToTable(L *lua.LState, values []string) *lua.LTable {
	t := L.NewTable()
	for i, v := range values {
		t.RawSetInt(i+1, lua.LString(v))
	}
	return t
}

// installRedisBridge exposes redis.call(command, ...args), converting Lua
// arguments to bytes and translating the bridge's result back into a Lua
// value.
func installRedisBridge(L *lua.LState, bridge Bridge) {
	redisTable := L.NewTable()
	redisTable.RawSetString("call", L.NewFunction(func(L *lua.LState) int {
		n := L.GetTop()
		if n < 1 {
			L.RaiseError("redis.call requires a command name")
			return 0
		}
		command := L.CheckString(1)
		args := make([][]byte, 0, n-1)
		for i := 2; i <= n; i++ {
			args = append(args, coerceArg(L.Get(i)))
		}
		result, err := bridge.Call(command, args)
		if err != nil {
			L.RaiseError("%s", err.Error())
			return 0
		}
		L.Push(goToLua(L, result))
		return 1
	}))
	L.SetGlobal("redis", redisTable)
}

// coerceArg converts a Lua argument to bytes: string direct, number as a
// decimal string, boolean as "1"/"0", nil as empty bytes.
func coerceArg(v lua.LValue) []byte {
	switch lv := v.(type) {
	case lua.LString:
		return []byte(string(lv))
	case lua.LNumber:
		return []byte(lv.String())
	case lua.LBool:
		if bool(lv) {
			return []byte("1")
		}
		return []byte("0")
	default:
		return []byte{}
	}
}

// goToLua converts a bridge result (string, []byte, int64, float64, bool,
// nil, or []interface{}) into the matching Lua value.
func goToLua(L *lua.LState, v interface{}) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case []byte:
		return lua.LString(string(val))
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case []interface{}:
		t := L.NewTable()
		for i, e := range val {
			t.RawSetInt(i+1, goToLua(L, e))
		}
		return t
	default:
		return lua.LString(fmt.Sprintf("%v", val))
	}
}

// luaToJSON converts an interpreter return value to a JSON-representable Go
// value: nil->null, bool->bool, number->int or float, string->string, a
// table with only positive-integer keys->array (sparse entries null-filled
// up to max index), otherwise->object.
func luaToJSON(v lua.LValue) interface{} {
	switch v.Type() {
	case lua.LTNil:
		return nil
	case lua.LTBool:
		return bool(v.(lua.LBool))
	case lua.LTNumber:
		f := float64(v.(lua.LNumber))
		if f == float64(int64(f)) {
			return int64(f)
		}
		return f
	case lua.LTString:
		return string(v.(lua.LString))
	case lua.LTTable:
		return luaTableToJSON(v.(*lua.LTable))
	default:
		return nil
	}
}

func luaTableToJSON(t *lua.LTable) interface{} {
	maxIdx := 0
	isArray := true
	t.ForEach(func(k, _ lua.LValue) {
		if n, ok := k.(lua.LNumber); ok && float64(n) == float64(int(n)) && int(n) >= 1 {
			if int(n) > maxIdx {
				maxIdx = int(n)
			}
			return
		}
		isArray = false
	})
	if isArray && maxIdx > 0 {
		arr := make([]interface{}, maxIdx)
		for i := 1; i <= maxIdx; i++ {
			arr[i-1] = luaToJSON(t.RawGetInt(i))
		}
		return arr
	}

	obj := make(map[string]interface{})
	t.ForEach(func(k, val lua.LValue) {
		obj[k.String()] = luaToJSON(val)
	})
	return obj
}
