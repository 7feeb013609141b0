package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/kalambet/ragchat/internal/api"
	"github.com/kalambet/ragchat/internal/config"
	"github.com/kalambet/ragchat/internal/failure"
	"github.com/kalambet/ragchat/internal/search"
)

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat <message>",
	Short: "Send a message to the running server",
	Long: `Send a message to the running server and print the reply.

Examples:
  ragchat chat "what is new in Go 1.25?"
  ragchat chat --conversation 3f2a... "and what about generics?"
  ragchat chat --file ./paper.pdf "summarize this paper"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		convID, _ := cmd.Flags().GetString("conversation")
		file, _ := cmd.Flags().GetString("file")
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := sendChat(cmd.Context(), client, strings.Join(args, " "), convID, file)
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(cmd.OutOrStdout(), resp)
		}
		printTurn(cmd.OutOrStdout(), resp.ModelResponse.Content, resp.Succeeded, string(resp.ErrorKind), resp.Warnings)
		if convID == "" {
			printStatus("Conversation", "%s", resp.ConversationID)
		}
		return nil
	},
}

func init() {
	chatCmd.Flags().String("conversation", "", "conversation to continue (default: start a new one)")
	chatCmd.Flags().String("file", "", "pdf or docx document to attach")
	chatCmd.Flags().Bool("json", false, "print the raw turn response")
}

// sendChat posts one turn. Turns with a file go as multipart/form-data,
// others as JSON.
func sendChat(ctx context.Context, client *apiClient, message, convID, file string) (api.TurnResponse, error) {
	var resp api.TurnResponse
	if strings.TrimSpace(message) == "" {
		return resp, fmt.Errorf("message is required")
	}

	fields := map[string]string{
		"message":         message,
		"conversation_id": convID,
	}
	var (
		r   *http.Response
		err error
	)
	if file != "" {
		r, err = client.postFile(ctx, "/v1/chat", fields, file)
	} else {
		r, err = client.post(ctx, "/v1/chat", fields)
	}
	if err != nil {
		return resp, err
	}
	err = decodeJSON(r, &resp)
	return resp, err
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <message>",
	Short: "Run one turn in-process, without a server",
	Long: `Run one chat turn in-process against the configured Ollama and SearXNG,
storing the transcript in the local database like the server does.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		convID, _ := cmd.Flags().GetString("conversation")
		file, _ := cmd.Flags().GetString("file")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		setupLogging(cfg, os.Stderr)

		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.close()

		req := api.TurnRequest{ConversationID: convID, Message: strings.Join(args, " ")}
		if file != "" {
			f, err := os.Open(file)
			if err != nil {
				return fmt.Errorf("opening file: %w", err)
			}
			defer f.Close()
			req.File = &api.Upload{Name: file, Body: f}
		}

		resp, err := a.service.Turn(cmd.Context(), req)
		if err != nil {
			return err
		}
		printTurn(cmd.OutOrStdout(), resp.ModelResponse.Content, resp.Succeeded, string(resp.ErrorKind), resp.Warnings)
		printStatus("Conversation", "%s", resp.ConversationID)
		return nil
	},
}

func init() {
	askCmd.Flags().String("conversation", "", "conversation to continue (default: start a new one)")
	askCmd.Flags().String("file", "", "pdf or docx document to attach")
}

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Run a web search through SearXNG",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		lang, _ := cmd.Flags().GetString("lang")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		client := search.New(search.Config{
			BaseURL:  cfg.Search.BaseURL,
			Language: cfg.Search.Language,
			Timeout:  cfg.Search.Timeout,
		})
		return runSearch(cmd.Context(), cmd.OutOrStdout(), client, strings.Join(args, " "), lang)
	},
}

func init() {
	searchCmd.Flags().String("lang", "", "result language (default: search.language)")
}

// runSearch prints the numbered results. A failed search prints its
// synthetic result and returns an error naming the failure kind.
func runSearch(ctx context.Context, w io.Writer, client *search.Client, query, lang string) error {
	results, kind := client.Search(ctx, query, lang)
	for i, r := range results {
		fmt.Fprintf(w, "%s %s\n", colorize(colorBold, fmt.Sprintf("%d.", i+1)), r.Title)
		if r.URL != "" {
			fmt.Fprintf(w, "   %s\n", colorize(colorCyan, r.URL))
		}
		if r.Content != "" {
			fmt.Fprintf(w, "   %s\n", r.Content)
		}
	}
	if kind != failure.None {
		return fmt.Errorf("search failed: %s", kind)
	}
	if len(results) == 0 {
		fmt.Fprintln(w, "No results found.")
	}
	return nil
}

// --- documents ---

var uploadCmd = &cobra.Command{
	Use:   "upload <conversation-id> <file>",
	Short: "Queue a document for ingestion into a conversation's memory",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.postFile(cmd.Context(), "/v1/conversations/"+url.PathEscape(args[0])+"/documents", nil, args[1])
		if err != nil {
			return err
		}
		var doc api.DocumentResponse
		if err := decodeJSON(resp, &doc); err != nil {
			return err
		}
		printSuccess("Queued document %s (%s)", doc.ID, doc.Filename)
		return nil
	},
}

var documentCmd = &cobra.Command{
	Use:   "document <id>",
	Short: "Show the ingestion status of an uploaded document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/v1/documents/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var doc map[string]any
		if err := decodeJSON(resp, &doc); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), doc)
	},
}

// --- conversations ---

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"conv"},
	Short:   "Manage conversations",
}

type conversationSummary struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	LastActivity string `json:"last_activity"`
	MessageCount int    `json:"message_count"`
}

var conversationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent conversations",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return listConversations(cmd.Context(), cmd.OutOrStdout(), client, limit)
	},
}

func listConversations(ctx context.Context, w io.Writer, client *apiClient, limit int) error {
	resp, err := client.get(ctx, fmt.Sprintf("/v1/conversations?limit=%d", limit))
	if err != nil {
		return err
	}
	var convs []conversationSummary
	if err := decodeJSON(resp, &convs); err != nil {
		return err
	}

	if len(convs) == 0 {
		fmt.Fprintln(w, "No conversations found.")
		return nil
	}
	for _, c := range convs {
		title := c.Title
		if utf8.RuneCountInString(title) > 60 {
			title = string([]rune(title)[:60]) + "..."
		}
		fmt.Fprintf(w, "%s  %s  %3d  %s\n",
			colorize(colorCyan, shortID(c.ID)),
			c.LastActivity,
			c.MessageCount,
			title,
		)
	}
	return nil
}

var conversationsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a conversation transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return showConversation(cmd.Context(), cmd.OutOrStdout(), client, args[0])
	},
}

func showConversation(ctx context.Context, w io.Writer, client *apiClient, id string) error {
	resp, err := client.get(ctx, "/v1/conversations/"+url.PathEscape(id))
	if err != nil {
		return err
	}
	var msgs []api.MessageView
	if err := decodeJSON(resp, &msgs); err != nil {
		return err
	}

	for _, m := range msgs {
		who := colorize(colorGreen, "model")
		if m.IsUser {
			who = colorize(colorBold, "you")
		}
		fmt.Fprintf(w, "%s [%s]\n", who, m.CreatedAt.Format("2006-01-02 15:04:05"))
		if m.FilePath != "" {
			fmt.Fprintf(w, "  (file: %s)\n", m.FilePath)
		}
		if m.ErrorKind != "" {
			fmt.Fprintf(w, "  %s\n", colorize(colorRed, m.ErrorKind))
		}
		fmt.Fprintf(w, "%s\n\n", m.Content)
	}
	return nil
}

var conversationsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a conversation and its memory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/v1/conversations/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Deleted conversation %s", args[0])
		return nil
	},
}

func init() {
	conversationsListCmd.Flags().Int("limit", 20, "maximum number of conversations to list")
	conversationsCmd.AddCommand(conversationsListCmd)
	conversationsCmd.AddCommand(conversationsShowCmd)
	conversationsCmd.AddCommand(conversationsDeleteCmd)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Reset a configuration value to its default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the configuration file path",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), config.FilePath())
	},
}

func init() {
	configSetCmd.Long = "Set a configuration value.\n\nValid keys:\n  " + strings.Join(config.ValidKeys(), "\n  ")
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
	configCmd.AddCommand(configPathCmd)
}
