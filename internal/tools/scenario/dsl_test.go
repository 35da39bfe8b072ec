package scenario

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestScenarioScriptBuildsSteps(t *testing.T) {
	path := writeScenarioFixture(t, `-- Bootstrap
local scene = Scenario.new("bootstrap")
scene:as("acc-owner")
scene:init()
scene:add_curator("acc-carol")

-- Authority acts for the curator
scene:as("acc-carol", {sender_kind = "service", sender_id = "svc-projects"})
scene:curate("acc-carol", "proj-epsilon")

return scene
`)

	scenario, err := LoadScenarioFromFile(path)
	if err != nil {
		t.Fatalf("load scenario: %v", err)
	}
	if scenario.Name != "bootstrap" {
		t.Fatalf("name = %q, want bootstrap", scenario.Name)
	}
	if len(scenario.Steps) != 5 {
		t.Fatalf("steps = %d, want %d", len(scenario.Steps), 5)
	}

	first := scenario.Steps[0]
	if first.Kind != "as" {
		t.Fatalf("step kind = %q, want %q", first.Kind, "as")
	}
	if first.Args["origin"] != "acc-owner" {
		t.Fatalf("origin = %v, want acc-owner", first.Args["origin"])
	}

	if scenario.Steps[1].Kind != "init" {
		t.Fatalf("step kind = %q, want %q", scenario.Steps[1].Kind, "init")
	}

	curator := scenario.Steps[2]
	if curator.Kind != "add_curator" {
		t.Fatalf("step kind = %q, want %q", curator.Kind, "add_curator")
	}
	if curator.Args["addr"] != "acc-carol" {
		t.Fatalf("addr = %v, want acc-carol", curator.Args["addr"])
	}

	authority := scenario.Steps[3]
	if authority.Args["sender_kind"] != "service" {
		t.Fatalf("sender_kind = %v, want service", authority.Args["sender_kind"])
	}
	if authority.Args["sender_id"] != "svc-projects" {
		t.Fatalf("sender_id = %v, want svc-projects", authority.Args["sender_id"])
	}

	curate := scenario.Steps[4]
	if curate.Kind != "curate" {
		t.Fatalf("step kind = %q, want %q", curate.Kind, "curate")
	}
	if curate.Args["addr"] != "acc-carol" {
		t.Fatalf("addr = %v, want acc-carol", curate.Args["addr"])
	}
	if curate.Args["project"] != "proj-epsilon" {
		t.Fatalf("project = %v, want proj-epsilon", curate.Args["project"])
	}
}

func TestScenarioViewUserExpectations(t *testing.T) {
	path := writeScenarioFixture(t, `local scene = Scenario.new("views")
scene:view_user("acc-carol", {
	expect_curator = true,
	expect_validator = false,
	expect_curated = {"proj-alpha", "proj-beta"},
})
scene:view_users({expect_count = 2})
scene:view_admin({expect_admin = "acc-owner", expect_authority_kind = "service"})

return scene
`)

	scenario, err := LoadScenarioFromFile(path)
	if err != nil {
		t.Fatalf("load scenario: %v", err)
	}
	if len(scenario.Steps) != 3 {
		t.Fatalf("steps = %d, want %d", len(scenario.Steps), 3)
	}

	view := scenario.Steps[0]
	if view.Args["expect_curator"] != true {
		t.Fatalf("expect_curator = %v, want true", view.Args["expect_curator"])
	}
	if view.Args["expect_validator"] != false {
		t.Fatalf("expect_validator = %v, want false", view.Args["expect_validator"])
	}
	curated, ok := view.Args["expect_curated"].([]any)
	if !ok {
		t.Fatalf("expect_curated = %T, want list", view.Args["expect_curated"])
	}
	if len(curated) != 2 || curated[0] != "proj-alpha" || curated[1] != "proj-beta" {
		t.Fatalf("expect_curated = %v, want [proj-alpha proj-beta]", curated)
	}

	if scenario.Steps[1].Args["expect_count"] != 2 {
		t.Fatalf("expect_count = %v, want 2", scenario.Steps[1].Args["expect_count"])
	}
	if scenario.Steps[2].Args["expect_admin"] != "acc-owner" {
		t.Fatalf("expect_admin = %v, want acc-owner", scenario.Steps[2].Args["expect_admin"])
	}
}

func TestScenarioExpectErrorPrecedesCall(t *testing.T) {
	path := writeScenarioFixture(t, `local scene = Scenario.new("denied")
scene:as("acc-mallory")
scene:expect_error("INVALID_CALLER")
scene:remove_curator("acc-carol")

return scene
`)

	scenario, err := LoadScenarioFromFile(path)
	if err != nil {
		t.Fatalf("load scenario: %v", err)
	}
	if len(scenario.Steps) != 3 {
		t.Fatalf("steps = %d, want %d", len(scenario.Steps), 3)
	}

	expect := scenario.Steps[1]
	if expect.Kind != "expect_error" {
		t.Fatalf("step kind = %q, want %q", expect.Kind, "expect_error")
	}
	if expect.Args["code"] != "INVALID_CALLER" {
		t.Fatalf("code = %v, want INVALID_CALLER", expect.Args["code"])
	}
	if scenario.Steps[2].Kind != "remove_curator" {
		t.Fatalf("step kind = %q, want %q", scenario.Steps[2].Kind, "remove_curator")
	}
}

func TestScenarioUpgradeStep(t *testing.T) {
	path := writeScenarioFixture(t, `local scene = Scenario.new("upgrade")
scene:as("acc-owner")
scene:upgrade({ref = "ref-v2", migrate_entrypoint = "add_curator", migrate_params = {addr = "acc-dave"}})

return scene
`)

	scenario, err := LoadScenarioFromFile(path)
	if err != nil {
		t.Fatalf("load scenario: %v", err)
	}

	upgrade := scenario.Steps[1]
	if upgrade.Kind != "upgrade" {
		t.Fatalf("step kind = %q, want %q", upgrade.Kind, "upgrade")
	}
	if upgrade.Args["ref"] != "ref-v2" {
		t.Fatalf("ref = %v, want ref-v2", upgrade.Args["ref"])
	}
	if upgrade.Args["migrate_entrypoint"] != "add_curator" {
		t.Fatalf("migrate_entrypoint = %v, want add_curator", upgrade.Args["migrate_entrypoint"])
	}
	params, ok := upgrade.Args["migrate_params"].(map[string]any)
	if !ok {
		t.Fatalf("migrate_params = %T, want table", upgrade.Args["migrate_params"])
	}
	if params["addr"] != "acc-dave" {
		t.Fatalf("migrate addr = %v, want acc-dave", params["addr"])
	}
}

func TestScenarioUpgradeRequiresRef(t *testing.T) {
	path := writeScenarioFixture(t, `local scene = Scenario.new("missing_ref")
scene:upgrade({migrate_entrypoint = "add_curator"})

return scene
`)

	_, err := LoadScenarioFromFile(path)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "upgrade ref is required") {
		t.Fatalf("error = %q, want upgrade ref is required", err.Error())
	}
}

func TestScenarioNameFallsBackToFileName(t *testing.T) {
	path := writeScenarioFixture(t, `local scene = Scenario.new()
scene:init()

return scene
`)

	scenario, err := LoadScenarioFromFile(path)
	if err != nil {
		t.Fatalf("load scenario: %v", err)
	}
	if scenario.Name != "scenario" {
		t.Fatalf("name = %q, want scenario", scenario.Name)
	}
}

func TestLoadScenarioRejectsNonScenarioReturn(t *testing.T) {
	path := writeScenarioFixture(t, `return 42`)

	_, err := LoadScenarioFromFile(path)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "must return Scenario") {
		t.Fatalf("error = %q, want must return Scenario", err.Error())
	}
}

func writeScenarioFixture(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "scenario.lua")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write scenario: %v", err)
	}
	return path
}
