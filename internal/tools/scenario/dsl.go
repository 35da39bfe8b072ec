// Package scenario executes Lua scripts against a running users registry.
// Scripts build a Scenario value describing registry calls and expectations;
// the runner replays the steps over HTTP, minting a grant per call.
package scenario

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/Shopify/go-lua"
)

const scenarioTypeName = "scenario"

// Scenario is an ordered list of registry steps produced by a Lua script.
type Scenario struct {
	Name  string
	Steps []Step
}

// Step is a single scripted action with its arguments.
type Step struct {
	Kind string
	Args map[string]any
}

// LoadScenarioFromFile evaluates a Lua script and returns the Scenario it
// builds. The script must return the Scenario userdata.
func LoadScenarioFromFile(path string) (*Scenario, error) {
	state := lua.NewState()
	lua.OpenLibraries(state)

	registerScenarioType(state)
	registerScenarioConstructor(state)

	if err := lua.LoadFile(state, path, ""); err != nil {
		return nil, fmt.Errorf("load lua: %w", err)
	}
	if err := state.ProtectedCall(0, 1, 0); err != nil {
		return nil, fmt.Errorf("run lua: %w", err)
	}

	if state.TypeOf(-1) != lua.TypeUserData {
		state.Pop(1)
		return nil, fmt.Errorf("scenario script must return Scenario")
	}
	ud := state.ToUserData(-1)
	state.Pop(1)
	scenario, ok := ud.(*Scenario)
	if !ok || scenario == nil {
		return nil, fmt.Errorf("scenario script returned invalid Scenario")
	}
	if strings.TrimSpace(scenario.Name) == "" {
		scenario.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return scenario, nil
}

func registerScenarioType(state *lua.State) {
	lua.NewMetaTable(state, scenarioTypeName)
	state.NewTable()
	lua.SetFunctions(state, scenarioMethods, 0)
	state.SetField(-2, "__index")
	state.Pop(1)
}

func registerScenarioConstructor(state *lua.State) {
	state.NewTable()
	lua.SetFunctions(state, scenarioConstructor, 0)
	state.SetGlobal("Scenario")
}

var scenarioConstructor = []lua.RegistryFunction{
	{Name: "new", Function: scenarioNew},
}

func scenarioNew(state *lua.State) int {
	name := lua.OptString(state, 1, "")
	scenario := &Scenario{Name: name}
	state.PushUserData(scenario)
	lua.SetMetaTableNamed(state, scenarioTypeName)
	return 1
}

var scenarioMethods = []lua.RegistryFunction{
	{Name: "as", Function: scenarioAs},
	{Name: "init", Function: scenarioInit},
	{Name: "transfer_admin", Function: scenarioTransferAdmin},
	{Name: "set_authority", Function: scenarioSetAuthority},
	{Name: "add_curator", Function: scenarioAddCurator},
	{Name: "remove_curator", Function: scenarioRemoveCurator},
	{Name: "add_validator", Function: scenarioAddValidator},
	{Name: "remove_validator", Function: scenarioRemoveValidator},
	{Name: "curate", Function: scenarioCurate},
	{Name: "validate", Function: scenarioValidate},
	{Name: "upgrade", Function: scenarioUpgrade},
	{Name: "view_user", Function: scenarioViewUser},
	{Name: "view_users", Function: scenarioViewUsers},
	{Name: "view_admin", Function: scenarioViewAdmin},
	{Name: "expect_error", Function: scenarioExpectError},
}

func scenarioAs(state *lua.State) int {
	scenario := checkScenario(state)
	origin := lua.CheckString(state, 2)
	data := map[string]any{"origin": origin}
	for key, value := range optionalTable(state, 3) {
		data[key] = value
	}
	appendStep(scenario, "as", data)
	return 0
}

func scenarioInit(state *lua.State) int {
	scenario := checkScenario(state)
	appendStep(scenario, "init", nil)
	return 0
}

func scenarioTransferAdmin(state *lua.State) int {
	scenario := checkScenario(state)
	admin := lua.CheckString(state, 2)
	appendStep(scenario, "transfer_admin", map[string]any{"admin": admin})
	return 0
}

func scenarioSetAuthority(state *lua.State) int {
	scenario := checkScenario(state)
	kind := lua.CheckString(state, 2)
	id := lua.CheckString(state, 3)
	appendStep(scenario, "set_authority", map[string]any{"kind": kind, "id": id})
	return 0
}

func scenarioAddCurator(state *lua.State) int {
	return appendAddrStep(state, "add_curator")
}

func scenarioRemoveCurator(state *lua.State) int {
	return appendAddrStep(state, "remove_curator")
}

func scenarioAddValidator(state *lua.State) int {
	return appendAddrStep(state, "add_validator")
}

func scenarioRemoveValidator(state *lua.State) int {
	return appendAddrStep(state, "remove_validator")
}

func appendAddrStep(state *lua.State, kind string) int {
	scenario := checkScenario(state)
	addr := lua.CheckString(state, 2)
	appendStep(scenario, kind, map[string]any{"addr": addr})
	return 0
}

func scenarioCurate(state *lua.State) int {
	return appendProjectStep(state, "curate")
}

func scenarioValidate(state *lua.State) int {
	return appendProjectStep(state, "validate")
}

func appendProjectStep(state *lua.State, kind string) int {
	scenario := checkScenario(state)
	addr := lua.CheckString(state, 2)
	project := lua.CheckString(state, 3)
	appendStep(scenario, kind, map[string]any{"addr": addr, "project": project})
	return 0
}

func scenarioUpgrade(state *lua.State) int {
	scenario := checkScenario(state)
	lua.CheckType(state, 2, lua.TypeTable)
	data := tableToMap(state, 2)
	if ref, _ := data["ref"].(string); ref == "" {
		lua.Errorf(state, "upgrade ref is required")
		return 0
	}
	appendStep(scenario, "upgrade", data)
	return 0
}

func scenarioViewUser(state *lua.State) int {
	scenario := checkScenario(state)
	addr := lua.CheckString(state, 2)
	data := map[string]any{"addr": addr}
	for key, value := range optionalTable(state, 3) {
		data[key] = value
	}
	appendStep(scenario, "view_user", data)
	return 0
}

func scenarioViewUsers(state *lua.State) int {
	scenario := checkScenario(state)
	appendStep(scenario, "view_users", optionalTable(state, 2))
	return 0
}

func scenarioViewAdmin(state *lua.State) int {
	scenario := checkScenario(state)
	appendStep(scenario, "view_admin", optionalTable(state, 2))
	return 0
}

func scenarioExpectError(state *lua.State) int {
	scenario := checkScenario(state)
	code := lua.CheckString(state, 2)
	data := map[string]any{"code": code}
	for key, value := range optionalTable(state, 3) {
		data[key] = value
	}
	appendStep(scenario, "expect_error", data)
	return 0
}

func checkScenario(state *lua.State) *Scenario {
	ud := lua.CheckUserData(state, 1, scenarioTypeName)
	if scenario, ok := ud.(*Scenario); ok && scenario != nil {
		return scenario
	}
	lua.ArgumentError(state, 1, "scenario expected")
	return nil
}

func appendStep(scenario *Scenario, kind string, data map[string]any) int {
	if scenario == nil {
		return -1
	}
	if data == nil {
		data = map[string]any{}
	}
	scenario.Steps = append(scenario.Steps, Step{Kind: kind, Args: data})
	return len(scenario.Steps) - 1
}

func optionalTable(state *lua.State, index int) map[string]any {
	if state.IsNoneOrNil(index) || state.TypeOf(index) != lua.TypeTable {
		return map[string]any{}
	}
	return tableToMap(state, index)
}

func tableToMap(state *lua.State, index int) map[string]any {
	output := map[string]any{}
	if state.TypeOf(index) != lua.TypeTable {
		return output
	}

	index = state.AbsIndex(index)
	state.PushNil()
	for state.Next(index) {
		if state.TypeOf(-2) == lua.TypeString {
			key, _ := state.ToString(-2)
			output[key] = luaToGo(state, -1)
		}
		state.Pop(1)
	}
	return output
}

func luaToGo(state *lua.State, index int) any {
	switch state.TypeOf(index) {
	case lua.TypeString:
		value, _ := state.ToString(index)
		return value
	case lua.TypeNumber:
		value, _ := state.ToNumber(index)
		return normalizeNumber(value)
	case lua.TypeBoolean:
		return state.ToBoolean(index)
	case lua.TypeTable:
		return tableToGo(state, index)
	case lua.TypeUserData:
		return state.ToUserData(index)
	default:
		return nil
	}
}

// tableToGo converts a Lua table to a Go slice when it is a dense
// 1-based array, and to a string-keyed map otherwise.
func tableToGo(state *lua.State, index int) any {
	if state.TypeOf(index) != lua.TypeTable {
		return nil
	}

	index = state.AbsIndex(index)
	isArray := true
	maxIndex := 0
	count := 0
	state.PushNil()
	for state.Next(index) {
		if isArray {
			if state.TypeOf(-2) != lua.TypeNumber {
				isArray = false
			} else if idx, ok := state.ToInteger(-2); ok && idx > 0 {
				count++
				if idx > maxIndex {
					maxIndex = idx
				}
			} else {
				isArray = false
			}
		}
		state.Pop(1)
	}

	if isArray && count > 0 && maxIndex == count {
		result := make([]any, 0, maxIndex)
		for i := 1; i <= maxIndex; i++ {
			state.RawGetInt(index, i)
			result = append(result, luaToGo(state, -1))
			state.Pop(1)
		}
		return result
	}

	return tableToMap(state, index)
}

func normalizeNumber(value float64) any {
	if math.Mod(value, 1) == 0 {
		return int(value)
	}
	return value
}
