// Command ragchat runs the retrieval-augmented chat server and its CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "ragchat",
	Short: "Chat with a local model grounded in conversation memory and web search",
	Long: `ragchat answers questions with a local Ollama model. Each conversation keeps a
small vector memory of recent questions, uploaded documents and web search
results, and every turn is grounded in the entries nearest to the question.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if v, _ := cmd.Flags().GetBool("no-color"); v {
			noColor = true
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the ragchat version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "ragchat %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().Bool("no-color", false, "disable colored output")
	rootCmd.AddCommand(
		serveCmd,
		stopCmd,
		statusCmd,
		mcpCmd,
		chatCmd,
		askCmd,
		searchCmd,
		uploadCmd,
		documentCmd,
		conversationsCmd,
		configCmd,
		versionCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
