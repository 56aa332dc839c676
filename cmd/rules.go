package cmd

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/gridsync/gridsync/internal/gateway"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	ruleOperator string
	ruleReason   string
	ruleInactive bool
)

// rulesCmd represents the rules command
var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage priority rules",
	Long: `Priority rules override the pay-group priority of rows whose column matches.
Rules apply to every dataset, in the order they were saved; the last match wins.

Examples:
  gridsync rules list
  gridsync rules add Vendor Acme High --reason "key account"
  gridsync rules add Total 10000 High --op greater_eq
  gridsync rules disable Vendor Acme`,
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List priority rules in the order they apply",
	Args:  cobra.NoArgs,
	RunE:  runRulesList,
}

var rulesAddCmd = &cobra.Command{
	Use:   "add <column> <value> <High|Medium|Low>",
	Short: "Add or replace a priority rule",
	Args:  cobra.ExactArgs(3),
	RunE:  runRulesAdd,
}

var rulesDeleteCmd = &cobra.Command{
	Use:   "delete <column> <value>",
	Short: "Delete a priority rule",
	Args:  cobra.ExactArgs(2),
	RunE:  runRulesDelete,
}

var rulesEnableCmd = &cobra.Command{
	Use:   "enable <column> <value>",
	Short: "Activate a priority rule",
	Args:  cobra.ExactArgs(2),
	RunE:  runRulesToggle(true),
}

var rulesDisableCmd = &cobra.Command{
	Use:   "disable <column> <value>",
	Short: "Deactivate a priority rule without deleting it",
	Args:  cobra.ExactArgs(2),
	RunE:  runRulesToggle(false),
}

// listsCmd represents the lists command
var listsCmd = &cobra.Command{
	Use:   "lists",
	Short: "Manage autocomplete lists",
	Long: `Autocomplete lists add suggestions to a column's value completion in every
dataset, next to the values the dataset already holds.

The file given to "lists set" maps column names to values:

  lists:
    Vendor: [Acme, Globex]
    Pay Group: [SCF, Domestic]`,
}

var listsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the saved autocomplete lists",
	Args:  cobra.NoArgs,
	RunE:  runListsShow,
}

var listsSetCmd = &cobra.Command{
	Use:   "set <file.yaml>",
	Short: "Replace the autocomplete lists with the contents of a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE:  runListsSet,
}

func init() {
	rootCmd.AddCommand(rulesCmd)
	rootCmd.AddCommand(listsCmd)
	rulesCmd.AddCommand(rulesListCmd, rulesAddCmd, rulesDeleteCmd, rulesEnableCmd, rulesDisableCmd)
	listsCmd.AddCommand(listsShowCmd, listsSetCmd)

	for _, c := range []*cobra.Command{rulesAddCmd, rulesDeleteCmd, rulesEnableCmd, rulesDisableCmd} {
		c.Flags().StringVar(&ruleOperator, "op", gateway.OpEquals,
			"Comparison: equals, not_equals, contains, greater, greater_eq, less, less_eq")
	}
	rulesAddCmd.Flags().StringVar(&ruleReason, "reason", "", "Why the rule exists")
	rulesAddCmd.Flags().BoolVar(&ruleInactive, "inactive", false, "Save the rule disabled")
}

func runRulesList(cmd *cobra.Command, args []string) error {
	res, err := newClient(GetConfig()).Rules(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list rules: %w", err)
	}
	printRules(cmd.OutOrStdout(), res)
	return nil
}

func runRulesAdd(cmd *cobra.Command, args []string) error {
	active := !ruleInactive
	rule := gateway.PriorityRule{
		Column:   args[0],
		Operator: ruleOperator,
		Value:    args[1],
		Priority: normalizePriority(args[2]),
		Reason:   ruleReason,
		Active:   &active,
	}
	res, err := newClient(GetConfig()).SaveRule(cmd.Context(), rule)
	if err != nil {
		return fmt.Errorf("failed to save rule: %w", err)
	}
	printRules(cmd.OutOrStdout(), res)
	return nil
}

func runRulesDelete(cmd *cobra.Command, args []string) error {
	key := gateway.RuleKey{Column: args[0], Operator: ruleOperator, Value: args[1]}
	res, err := newClient(GetConfig()).DeleteRule(cmd.Context(), key)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	printRules(cmd.OutOrStdout(), res)
	return nil
}

func runRulesToggle(active bool) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		key := gateway.RuleKey{Column: args[0], Operator: ruleOperator, Value: args[1], Active: active}
		res, err := newClient(GetConfig()).ToggleRule(cmd.Context(), key)
		if err != nil {
			return fmt.Errorf("failed to change rule: %w", err)
		}
		printRules(cmd.OutOrStdout(), res)
		return nil
	}
}

// normalizePriority accepts any capitalization of High, Medium and Low.
func normalizePriority(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func printRules(w io.Writer, res *gateway.RulesResult) {
	if len(res.Affected) > 0 {
		fmt.Fprintf(w, "Reprioritized %d datasets.\n\n", len(res.Affected))
	}
	if len(res.Rules) == 0 {
		fmt.Fprintln(w, "No priority rules.")
		return
	}

	fmt.Fprintf(w, "%d priority rules (last match wins):\n\n", len(res.Rules))
	for i, r := range res.Rules {
		state := "active"
		if r.Active != nil && !*r.Active {
			state = "disabled"
		}
		line := fmt.Sprintf("%d. %s %s %q -> %s (%s)", i+1, r.Column, r.Operator, r.Value, r.Priority, state)
		if r.Reason != "" {
			line += "  " + r.Reason
		}
		fmt.Fprintln(w, line)
	}
}

func runListsShow(cmd *cobra.Command, args []string) error {
	lists, err := newClient(GetConfig()).AutocompleteLists(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to get autocomplete lists: %w", err)
	}
	printLists(cmd.OutOrStdout(), lists)
	return nil
}

func runListsSet(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", args[0], err)
	}
	var doc gateway.AutocompleteLists
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse %s: %w", args[0], err)
	}

	client := newClient(GetConfig())
	if err := client.SaveAutocompleteLists(cmd.Context(), doc.Lists); err != nil {
		return fmt.Errorf("failed to save autocomplete lists: %w", err)
	}
	lists, err := client.AutocompleteLists(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to get autocomplete lists: %w", err)
	}
	printLists(cmd.OutOrStdout(), lists)
	return nil
}

func printLists(w io.Writer, lists map[string][]string) {
	if len(lists) == 0 {
		fmt.Fprintln(w, "No autocomplete lists.")
		return
	}
	names := make([]string, 0, len(lists))
	for name := range lists {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "%s: %s\n", name, strings.Join(lists[name], ", "))
	}
}
