package script

import (
	"fmt"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBridge is an in-memory string store standing in for the real data
// stores, exercising only the bridge-call contract this package depends on.
type fakeBridge struct {
	data map[string]string
}

func newFakeBridge() *fakeBridge { return &fakeBridge{data: make(map[string]string)} }

func (b *fakeBridge) Call(command string, args [][]byte) (interface{}, error) {
	switch strings.ToLower(command) {
	case "set":
		b.data[string(args[0])] = string(args[1])
		return true, nil
	case "get":
		v, ok := b.data[string(args[0])]
		if !ok {
			return nil, nil
		}
		return v, nil
	case "incr":
		cur, _ := strconv.Atoi(b.data[string(args[0])])
		cur++
		b.data[string(args[0])] = strconv.Itoa(cur)
		return int64(cur), nil
	default:
		return nil, fmt.Errorf("unsupported command %q", command)
	}
}

func TestEvalSetGet(t *testing.T) {
	b := newFakeBridge()
	e := New(b, time.Second)

	result, err := e.Eval(`
		redis.call("set", KEYS[1], ARGV[1])
		return redis.call("get", KEYS[1])
	`, []string{"k"}, []string{"v"}, 0)
	require.NoError(t, err)
	assert.Equal(t, "v", result)
}

func TestEvalShaCachesAndNoScriptErrors(t *testing.T) {
	b := newFakeBridge()
	e := New(b, time.Second)

	sha := e.Cache().Load([]byte(`return 1`))
	result, err := e.EvalSha(sha, nil, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), result)

	_, err = e.EvalSha("deadbeef", nil, nil, 0)
	assert.Error(t, err)
}

func TestEvalReturnsTableAsArray(t *testing.T) {
	b := newFakeBridge()
	e := New(b, time.Second)
	result, err := e.Eval(`return {1, 2, 3}`, nil, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int64(1), int64(2), int64(3)}, result)
}

func TestEvalTimeout(t *testing.T) {
	b := newFakeBridge()
	e := New(b, time.Second)
	_, err := e.Eval(`while true do end`, nil, nil, 20*time.Millisecond)
	assert.Error(t, err)
}

func TestEvalRejectsForbiddenGlobal(t *testing.T) {
	b := newFakeBridge()
	e := New(b, time.Second)
	_, err := e.Eval(`return os.time()`, nil, nil, 0)
	assert.Error(t, err)
}

func TestEvalRejectsEveryForbiddenGlobal(t *testing.T) {
	cases := []struct {
		name   string
		source string
	}{
		{"load", `return load("return 1")`},
		{"require", `return require("os")`},
		{"os", `return os.time()`},
		{"io", `return io.open("/etc/passwd")`},
		{"debug", `return debug.getinfo(1)`},
		{"package", `return package.path`},
		{"collectgarbage", `return collectgarbage("count")`},
		{"string.dump", `return string.dump(function() end)`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := newFakeBridge()
			e := New(b, time.Second)
			_, err := e.Eval(tc.source, nil, nil, 0)
			assert.Error(t, err)
		})
	}
}

func TestEvalUnknownBridgeCommandErrors(t *testing.T) {
	b := newFakeBridge()
	e := New(b, time.Second)
	_, err := e.Eval(`return redis.call("flushall")`, nil, nil, 0)
	assert.Error(t, err)
}

func TestCacheExistsAndFlush(t *testing.T) {
	e := New(newFakeBridge(), time.Second)
	sha := e.Cache().Load([]byte(`return 1`))
	assert.Equal(t, []bool{true, false}, e.Cache().Exists([]string{sha, "missing"}))

	e.Cache().Flush()
	assert.Equal(t, []bool{false}, e.Cache().Exists([]string{sha}))
}
