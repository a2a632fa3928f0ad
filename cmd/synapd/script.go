package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hivellm/synap/internal/engine"
	"github.com/hivellm/synap/pkg/config"
)

var scriptCmd = &cobra.Command{
	Use:   "script",
	Short: "Local smoke-test helpers for the sandboxed script engine",
}

var scriptEvalCmd = &cobra.Command{
	Use:   "eval <file.lua>",
	Short: "Evaluate a Lua script against a fresh in-process engine",
	Args:  cobra.ExactArgs(1),
	RunE:  runScriptEval,
}

func init() {
	scriptEvalCmd.Flags().StringSlice("key", nil, "KEYS[] entry (repeatable)")
	scriptEvalCmd.Flags().StringSlice("arg", nil, "ARGV[] entry (repeatable)")
	scriptCmd.AddCommand(scriptEvalCmd)
}

// runScriptEval boots a throwaway in-process engine (memory sink, default
// shard count) purely to exercise a script — there is no server to talk to
// since the HTTP/JSON envelope transport is an external collaborator.
func runScriptEval(cmd *cobra.Command, args []string) error {
	source, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read script: %w", err)
	}

	keys, _ := cmd.Flags().GetStringSlice("key")
	argv, _ := cmd.Flags().GetStringSlice("arg")

	cfg := config.Default()
	eng, err := engine.New(cfg, "")
	if err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	defer eng.Shutdown()

	result, err := eng.Script.Eval(string(source), keys, argv, 0)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
