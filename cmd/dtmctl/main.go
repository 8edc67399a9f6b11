// Command dtmctl is an operator tool for a running dtmd instance: it
// reads history state through dtmapi's introspection surface and asks
// for interactive confirmation of an UNDO, then only reports what it
// would do: dtmapi has no write endpoint, so no UNDO is sent.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var apiAddr string

var rootCmd = &cobra.Command{
	Use:   "dtmctl",
	Short: "Operator CLI for a running dtmd instance",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", "http://localhost:7778", "dtmd introspection API base URL")
	rootCmd.AddCommand(historyCmd, undoCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type apiResponse struct {
	Status string          `json:"status"`
	Error  string          `json:"error"`
	Data   json.RawMessage `json:"data"`
}

func getJSON(path string, out interface{}) error {
	resp, err := http.Get(strings.TrimRight(apiAddr, "/") + path)
	if err != nil {
		return fmt.Errorf("dtmctl: request %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("dtmctl: read response: %w", err)
	}

	var env apiResponse
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("dtmctl: decode response: %w", err)
	}
	if env.Status != "ok" {
		return fmt.Errorf("dtmctl: %s", env.Error)
	}
	return json.Unmarshal(env.Data, out)
}

var historyCmd = &cobra.Command{
	Use:   "history [kind] [id]",
	Short: "Show one history's ups",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, id := args[0], args[1]

		var ups []struct {
			Ver     uint64 `json:"ver"`
			OrigVer uint64 `json:"orig_ver"`
			State   string `json:"state"`
			Unknown bool   `json:"unknown"`
		}
		if err := getJSON(fmt.Sprintf("/histories/%s/%s/ups", kind, id), &ups); err != nil {
			return err
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"ver", "orig_ver", "state", "unknown"})
		for _, u := range ups {
			table.Append([]string{
				fmt.Sprintf("%d", u.Ver),
				fmt.Sprintf("%d", u.OrigVer),
				u.State,
				fmt.Sprintf("%v", u.Unknown),
			})
		}
		table.Render()
		return nil
	},
}

var undoCmd = &cobra.Command{
	Use:   "undo [kind] [id] [upto]",
	Short: "Confirm an UNDO of a history from upto onward and report it (nothing is sent)",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, id, upto := args[0], args[1], args[2]

		prompt := promptui.Prompt{
			Label: fmt.Sprintf("Undo %s/%s from version %s onward (type 'yes' to confirm)", kind, id, upto),
			Validate: func(input string) error {
				if input != "yes" {
					return fmt.Errorf("type 'yes' to confirm")
				}
				return nil
			},
		}
		if _, err := prompt.Run(); err != nil {
			if err == promptui.ErrInterrupt {
				return fmt.Errorf("aborted")
			}
			return err
		}

		// dtmapi is intentionally read-only: a real UNDO has to be driven
		// through the owning dtmd process's own DTM instance, not this
		// HTTP surface. This command is the confirmation UX a future
		// write endpoint would sit behind.
		fmt.Printf("confirmed at %s: would UNDO %s/%s from %s (no write endpoint wired yet)\n",
			time.Now().UTC().Format(time.RFC3339), kind, id, upto)
		return nil
	},
}
