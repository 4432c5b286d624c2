package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liamcoop/txrules/rules"
)

// execute runs rulectl with args and returns stdout and the error.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"validate", "eval", "seed"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestInvalidFormat(t *testing.T) {
	path := writeFile(t, "rule.json", `{}`)
	_, err := execute(t, "--format", "xml", "validate", path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestValidateCommand(t *testing.T) {
	good := writeFile(t, "good.json", `{"name":"Groceries","condition":{"operator":"merchant_contains","value":"whole foods"},"action":{"type":"set_category","category_id":12}}`)
	bad := writeFile(t, "bad.json", `{"name":"","condition":{"operator":"amount_gt"},"action":{"type":"nope"}}`)
	sample := writeFile(t, "tx.json", `{"description":"Whole Foods Market","amount":"12.00","transaction_date":"2024-03-15"}`)

	out, err := execute(t, "validate", good, "--sample", sample)
	require.NoError(t, err)
	assert.Contains(t, out, "rule is valid")
	assert.Contains(t, out, "matched=true")

	out, err = execute(t, "--format", "json", "validate", bad)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var res rules.ValidationResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.False(t, res.Valid)
	assert.Len(t, res.Errors, 3)

	_, err = execute(t, "validate", filepath.Join(t.TempDir(), "missing.json"))
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestEvalCommand(t *testing.T) {
	rulesFile := writeFile(t, "rules.json", `[
		{"name":"tag","condition":{"operator":"amount_gte","value":0},"action":{"type":"set_tags","tags":["seen"]},"priority":5},
		{"name":"stop","condition":{"operator":"merchant_contains","value":"amazon"},"action":{"type":"stop_processing"},"priority":15},
		{"id":9,"name":"off","is_active":false,"condition":{"operator":"amount_gte","value":0},"action":{"type":"set_category","category_id":1},"priority":99}
	]`)
	amazon := writeFile(t, "amazon.json", `{"description":"AMAZON MKTPLACE","amount":19.99}`)
	cafe := writeFile(t, "cafe.json", `{"description":"Blue Bottle","amount":4.50}`)

	out, err := execute(t, "--format", "json", "eval", "--rules", rulesFile, "--tx", amazon)
	require.NoError(t, err)
	var res rules.EvaluationResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Len(t, res.Trace, 1)
	assert.Equal(t, "stop", res.Trace[0].RuleName)
	assert.True(t, res.Halted)

	out, err = execute(t, "eval", "--rules", rulesFile, "--tx", cafe)
	require.NoError(t, err)
	assert.Contains(t, out, `rule 1 "tag"`)
	assert.Contains(t, out, "tags: [seen]")
	assert.NotContains(t, out, "category_id")
}

func TestEvalRequiresFlags(t *testing.T) {
	_, err := execute(t, "eval")
	assert.Error(t, err)
}

const seedPack = `
rules:
  - name: Groceries
    priority: 10
    condition:
      operator: merchant_regex
      value: "(whole foods|kroger)"
    action:
      type: set_category
      category_id: 12
  - name: Subscriptions
    condition:
      operator: is_recurring
      value: true
    action:
      type: set_tags
      tags: [subscription]
`

func TestSeedDryRun(t *testing.T) {
	pack := writeFile(t, "pack.yaml", seedPack)

	out, err := execute(t, "seed", "--file", pack, "--user", "3", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "validated 2 rules for user 3")
	assert.Contains(t, out, "Groceries (priority 10)")

	broken := writeFile(t, "broken.yaml", `
rules:
  - name: Broken
    condition:
      operator: merchant_regex
      value: "[invalid("
    action:
      type: stop_processing
`)
	_, err = execute(t, "seed", "--file", broken, "--user", "3", "--dry-run")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "rules[0].condition.value")

	_, err = execute(t, "seed", "--file", pack, "--user", "0", "--dry-run")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
