// Completion: 90% - Lua scenario runner, scopes and generation exposed
package scenario

import (
	"fmt"
	"strings"

	"github.com/xyproto/instgen/internal/engine"
	lua "github.com/yuin/gopher-lua"
)

// Scenario scripts
//
// A scenario is a Lua script that drives one Machine. The globals it sees:
//
//	arch, cores                                  configuration, read-only
//	core()                                       current core number
//	switch_core(n)                               make core n current
//	generate(count [, query, src, dest, comment]) number of lines emitted
//	acquire([class, width])                      random register, not reserved
//	acquire_and_reserve([class, width])          random register, reserved
//	register(name)                               named register
//	reserve(reg), free(reg)
//	allocate(size [, align, type, sharing])      region in the current core
//	allocate_in(block, size [, align])           sub-region of a block
//	release(region)
//	label(name)                                  branch target operand
//	loop(count, direction [, counter], fn)
//	segment(fn)
//	trigger(pattern, fn)
//
// Operands passed to generate are registers, regions, labels, numbers
// (immediates) or strings (register names).

const (
	registerType = "register"
	regionType   = "region"
	labelType    = "label"
)

type labelRef string

// Runner executes scenario scripts against a machine
type Runner struct {
	machine *engine.Machine
	L       *lua.LState
	failure error // last engine error raised into Lua
}

// NewRunner creates a Lua state with the scenario API installed
func NewRunner(m *engine.Machine) *Runner {
	r := &Runner{machine: m, L: lua.NewState()}
	r.install()
	return r
}

// Close releases the Lua state
func (r *Runner) Close() {
	r.L.Close()
}

// RunFile executes a scenario file
func (r *Runner) RunFile(path string) error {
	r.failure = nil
	return r.wrap(path, r.L.DoFile(path))
}

// RunString executes scenario source; name is used in error messages
func (r *Runner) RunString(name, src string) error {
	r.failure = nil
	return r.wrap(name, r.L.DoString(src))
}

// wrap keeps the engine error reachable through errors.Is
func (r *Runner) wrap(name string, err error) error {
	if err == nil {
		return nil
	}
	if r.failure != nil {
		return fmt.Errorf("scenario %s: %w", name, r.failure)
	}
	return fmt.Errorf("scenario %s: %v", name, err)
}

func (r *Runner) install() {
	L := r.L
	for _, name := range []string{registerType, regionType, labelType} {
		mt := L.NewTypeMetatable(name)
		L.SetField(mt, "__tostring", L.NewFunction(describe))
	}

	cfg := r.machine.Config()
	L.SetGlobal("arch", lua.LString(cfg.Arch.String()))
	L.SetGlobal("cores", lua.LNumber(cfg.Cores))

	funcs := map[string]lua.LGFunction{
		"core":                r.core,
		"switch_core":         r.switchCore,
		"generate":            r.generate,
		"acquire":             r.acquire,
		"acquire_and_reserve": r.acquireAndReserve,
		"register":            r.register,
		"reserve":             r.reserve,
		"free":                r.free,
		"allocate":            r.allocate,
		"allocate_in":         r.allocateIn,
		"release":             r.release,
		"label":               r.label,
		"loop":                r.loop,
		"segment":             r.segment,
		"trigger":             r.trigger,
	}
	for name, fn := range funcs {
		L.SetGlobal(name, L.NewFunction(fn))
	}
}

func describe(L *lua.LState) int {
	ud := L.CheckUserData(1)
	L.Push(lua.LString(fmt.Sprint(ud.Value)))
	return 1
}

// fail records err and raises it as a Lua error
func (r *Runner) fail(err error) int {
	r.failure = err
	r.L.RaiseError("%s", err.Error())
	return 0
}

func (r *Runner) ctx() *engine.Context {
	return r.machine.Current()
}

func (r *Runner) wrapValue(typ string, v any) lua.LValue {
	ud := r.L.NewUserData()
	ud.Value = v
	ud.Metatable = r.L.GetTypeMetatable(typ)
	return ud
}

func (r *Runner) checkRegister(n int) *engine.Resource {
	switch v := r.L.Get(n).(type) {
	case lua.LString:
		res, err := r.ctx().Pool.Lookup(string(v))
		if err != nil {
			r.fail(err)
		}
		return res
	case *lua.LUserData:
		if res, ok := v.Value.(*engine.Resource); ok {
			return res
		}
	}
	r.L.ArgError(n, "register expected")
	return nil
}

func (r *Runner) checkRegion(n int) *engine.Region {
	ud := r.L.CheckUserData(n)
	region, ok := ud.Value.(*engine.Region)
	if !ok {
		r.L.ArgError(n, "region expected")
	}
	return region
}

// operand converts an optional generate argument
func (r *Runner) operand(n int) *engine.Operand {
	switch v := r.L.Get(n).(type) {
	case *lua.LNilType:
		return nil
	case lua.LNumber:
		return engine.Imm(int64(v))
	case lua.LString:
		return engine.Reg(r.checkRegister(n))
	case *lua.LUserData:
		switch val := v.Value.(type) {
		case *engine.Resource:
			return engine.Reg(val)
		case *engine.Region:
			return engine.Mem(val)
		case labelRef:
			return engine.Label(string(val))
		}
	}
	r.L.ArgError(n, "register, region, label or number expected")
	return nil
}

func (r *Runner) core(L *lua.LState) int {
	L.Push(lua.LNumber(r.ctx().Core))
	return 1
}

func (r *Runner) switchCore(L *lua.LState) int {
	if _, err := r.machine.Switch(L.CheckInt(1)); err != nil {
		return r.fail(err)
	}
	return 0
}

func (r *Runner) generate(L *lua.LState) int {
	count := L.CheckInt(1)
	query := L.OptString(2, "")
	src, dest := r.operand(3), r.operand(4)
	comment := L.OptString(5, "")

	out, err := r.ctx().GenerateQuery(count, query, src, dest, comment)
	if err != nil {
		return r.fail(err)
	}
	L.Push(lua.LNumber(len(out)))
	return 1
}

func (r *Runner) selector(L *lua.LState) engine.Selector {
	name := L.OptString(1, "gpr")
	class, ok := parseClass(name)
	if !ok {
		L.ArgError(1, fmt.Sprintf("unknown register class %q", name))
	}
	return engine.Selector{Class: class, Width: L.OptInt(2, 0)}
}

func (r *Runner) acquire(L *lua.LState) int {
	res, err := r.ctx().Pool.Acquire(r.selector(L))
	if err != nil {
		return r.fail(err)
	}
	L.Push(r.wrapValue(registerType, res))
	return 1
}

func (r *Runner) acquireAndReserve(L *lua.LState) int {
	res, err := r.ctx().Pool.AcquireAndReserve(r.selector(L))
	if err != nil {
		return r.fail(err)
	}
	L.Push(r.wrapValue(registerType, res))
	return 1
}

func (r *Runner) register(L *lua.LState) int {
	res, err := r.ctx().Pool.Lookup(L.CheckString(1))
	if err != nil {
		return r.fail(err)
	}
	L.Push(r.wrapValue(registerType, res))
	return 1
}

func (r *Runner) reserve(L *lua.LState) int {
	r.ctx().Pool.Reserve(r.checkRegister(1))
	return 0
}

func (r *Runner) free(L *lua.LState) int {
	r.ctx().Pool.Free(r.checkRegister(1))
	return 0
}

// checkSize reads a positive byte count, or the default when absent
func checkSize(L *lua.LState, n, def int) uint64 {
	v := L.OptInt(n, def)
	if v <= 0 {
		L.ArgError(n, fmt.Sprintf("positive byte count expected, got %d", v))
	}
	return uint64(v)
}

func (r *Runner) allocate(L *lua.LState) int {
	L.CheckInt(1)
	req := engine.AllocRequest{
		Size:  checkSize(L, 1, 0),
		Align: checkSize(L, 2, 1),
	}
	if name := L.OptString(3, "data"); name != "" {
		typ, ok := parseMemoryType(name)
		if !ok {
			L.ArgError(3, fmt.Sprintf("unknown memory type %q", name))
		}
		req.Type = typ
	}
	if name := L.OptString(4, "private"); name != "" {
		sharing, ok := parseSharing(name)
		if !ok {
			L.ArgError(4, fmt.Sprintf("unknown sharing %q", name))
		}
		req.Sharing = sharing
	}
	region, err := r.ctx().Memory.Allocate(req)
	if err != nil {
		return r.fail(err)
	}
	L.Push(r.wrapValue(regionType, region))
	return 1
}

func (r *Runner) allocateIn(L *lua.LState) int {
	block := r.checkRegion(1)
	L.CheckInt(2)
	region, err := r.ctx().Memory.Allocate(engine.AllocRequest{
		Size:   checkSize(L, 2, 0),
		Align:  checkSize(L, 3, 1),
		Parent: block,
	})
	if err != nil {
		return r.fail(err)
	}
	L.Push(r.wrapValue(regionType, region))
	return 1
}

func (r *Runner) release(L *lua.LState) int {
	r.ctx().Memory.Release(r.checkRegion(1))
	return 0
}

func (r *Runner) label(L *lua.LState) int {
	L.Push(r.wrapValue(labelType, labelRef(L.CheckString(1))))
	return 1
}

// within runs fn as the body of scope s in the current context
func (r *Runner) within(s engine.Scope, fn *lua.LFunction) int {
	ctx := r.ctx()
	err := ctx.Within(s, func() error {
		return r.L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true})
	})
	if err != nil {
		if r.failure == nil {
			r.failure = err
		}
		r.L.RaiseError("%s", err.Error())
	}
	return 0
}

func (r *Runner) loop(L *lua.LState) int {
	count := int64(L.CheckInt(1))
	dir, err := engine.ParseDirection(L.CheckString(2))
	if err != nil {
		L.ArgError(2, err.Error())
	}
	var counter *engine.Resource
	fnArg := 3
	if L.GetTop() >= 4 {
		counter = r.checkRegister(3)
		fnArg = 4
	}
	fn := L.CheckFunction(fnArg)

	loop, err := r.ctx().NewLoop(count, dir, counter)
	if err != nil {
		return r.fail(err)
	}
	return r.within(loop, fn)
}

func (r *Runner) segment(L *lua.LState) int {
	fn := L.CheckFunction(1)
	return r.within(r.ctx().NewBranchToSegment(), fn)
}

func (r *Runner) trigger(L *lua.LState) int {
	pattern := int64(L.CheckNumber(1))
	fn := L.CheckFunction(2)
	return r.within(r.ctx().NewEventTrigger(pattern), fn)
}

func parseClass(s string) (engine.ResourceClass, bool) {
	for _, c := range []engine.ResourceClass{engine.ClassGPR, engine.ClassVector, engine.ClassPredicate, engine.ClassFloat} {
		if c.String() == strings.ToLower(s) {
			return c, true
		}
	}
	return 0, false
}

func parseMemoryType(s string) (engine.MemoryType, bool) {
	for t := engine.MemData; t <= engine.MemStack; t++ {
		if t.String() == strings.ToLower(s) {
			return t, true
		}
	}
	return 0, false
}

func parseSharing(s string) (engine.Sharing, bool) {
	for sh := engine.SharingPrivate; sh <= engine.SharingCrossCore; sh++ {
		if sh.String() == strings.ToLower(s) {
			return sh, true
		}
	}
	return 0, false
}
