package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	helpline "github.com/helpline-chat/helpline-go"
)

// ============================================================================
// Flag variables
// ============================================================================

var (
	// conversations
	conversationsPage  int
	conversationsLimit int
	conversationsJSON  bool

	// history
	historyJSON bool

	// send
	sendJSON bool

	// create
	createJSON bool
)

// ============================================================================
// conversations
// ============================================================================

var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "List your support conversations",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng := getEngine()
		defer eng.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := eng.RefreshConversations(ctx, conversationsPage, conversationsLimit); err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		conversations := eng.Conversations()
		if conversationsJSON {
			b, _ := json.MarshalIndent(conversations, "", "  ")
			fmt.Println(string(b))
			return nil
		}

		if len(conversations) == 0 {
			fmt.Println("No conversations found.")
			return nil
		}

		for _, c := range conversations {
			unread := ""
			if c.UserUnreadCount > 0 {
				unread = fmt.Sprintf(" (%d unread)", c.UserUnreadCount)
			}
			preview := ""
			if c.LastMessage != nil {
				preview = ": " + truncate(c.LastMessage.Content, 60)
			}
			fmt.Printf("  %s%s%s\n", c.ID, unread, preview)
		}
		return nil
	},
}

// ============================================================================
// create
// ============================================================================

var createCmd = &cobra.Command{
	Use:   "create [message]",
	Short: "Start a new support conversation",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		content := ""
		if len(args) == 1 {
			content = args[0]
		}

		eng := getEngine()
		defer eng.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		c, err := eng.CreateConversation(ctx, content)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if createJSON {
			b, _ := json.MarshalIndent(c, "", "  ")
			fmt.Println(string(b))
			return nil
		}

		fmt.Printf("Conversation created: %s\n", c.ID)
		return nil
	},
}

// ============================================================================
// send
// ============================================================================

var sendCmd = &cobra.Command{
	Use:   "send <conversation-id> <message>",
	Short: "Send a message to a conversation",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		conversationID, content := args[0], args[1]

		eng := getEngine()
		defer eng.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		m, err := eng.SendMessage(ctx, conversationID, content)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if sendJSON {
			b, _ := json.MarshalIndent(m, "", "  ")
			fmt.Println(string(b))
			return nil
		}

		fmt.Printf("Message sent to conversation %s\n", conversationID)
		fmt.Printf("  Message ID: %s\n", m.ID)
		fmt.Printf("  Content:    %s\n", m.Content)
		return nil
	},
}

// ============================================================================
// history
// ============================================================================

var historyCmd = &cobra.Command{
	Use:   "history <conversation-id>",
	Short: "Show the message history of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conversationID := args[0]

		eng := getEngine()
		defer eng.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := eng.JoinConversation(ctx, conversationID); err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		messages := eng.Messages()
		if historyJSON {
			b, _ := json.MarshalIndent(messages, "", "  ")
			fmt.Println(string(b))
			return nil
		}

		if len(messages) == 0 {
			fmt.Println("No messages found.")
			return nil
		}

		for _, m := range messages {
			printMessage(m)
		}
		return nil
	},
}

// ============================================================================
// read
// ============================================================================

var readCmd = &cobra.Command{
	Use:   "read <conversation-id>",
	Short: "Mark a whole conversation as read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conversationID := args[0]

		eng := getEngine()
		defer eng.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := eng.MarkAllRead(ctx, conversationID); err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		fmt.Printf("Conversation %s marked as read.\n", conversationID)
		return nil
	},
}

// ============================================================================
// watch
// ============================================================================

var watchCmd = &cobra.Command{
	Use:   "watch <conversation-id>",
	Short: "Follow a conversation live",
	Long:  "Join a conversation and print its history plus every incoming message until interrupted.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conversationID := args[0]

		eng := getEngine()
		defer eng.Close()
		eng.SetChatVisible(true)

		var mu sync.Mutex
		printed := 0
		eng.OnChange(func() {
			mu.Lock()
			defer mu.Unlock()
			messages := eng.Messages()
			for ; printed < len(messages); printed++ {
				printMessage(messages[printed])
			}
		})

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		if err := eng.JoinConversation(ctx, conversationID); err != nil {
			cancel()
			return fmt.Errorf("request failed: %w", err)
		}
		cancel()

		fmt.Fprintln(os.Stderr, "Watching... press Ctrl-C to stop.")
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		return nil
	},
}

// ============================================================================
// Helpers
// ============================================================================

func printMessage(m helpline.Message) {
	sender := m.SenderName
	if sender == "" {
		sender = string(m.SenderRole)
	}
	fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Format(time.RFC3339), sender, m.Content)
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// ============================================================================
// Registration
// ============================================================================

func init() {
	conversationsCmd.Flags().IntVar(&conversationsPage, "page", 1, "Page number")
	conversationsCmd.Flags().IntVarP(&conversationsLimit, "limit", "n", 20, "Conversations per page")
	conversationsCmd.Flags().BoolVar(&conversationsJSON, "json", false, "Output raw JSON")

	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Output raw JSON")
	sendCmd.Flags().BoolVar(&sendJSON, "json", false, "Output raw JSON")
	createCmd.Flags().BoolVar(&createJSON, "json", false, "Output raw JSON")

	rootCmd.AddCommand(conversationsCmd)
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(watchCmd)
}
