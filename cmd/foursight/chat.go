package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"foursight.local/orchestrator/internal/client"
	"foursight.local/orchestrator/internal/ids"
	"foursight.local/orchestrator/internal/types"
)

var (
	chatSessionID  string
	chatShowEvents bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the orchestrator from the terminal",
	Long: `Open a chat on a session. Lines you type are sent as messages.

  /answer <framework> <text>   answer a specific framework's question
  /select <id,id,...>          confirm a framework selection
  /quit                        leave the chat`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatSessionID, "session", "", "session id to resume (default: a new session)")
	chatCmd.Flags().BoolVar(&chatShowEvents, "events", false, "print workflow events as they arrive")
}

func runChat(cmd *cobra.Command, _ []string) error {
	cfg, err := clientConfig()
	if err != nil {
		return err
	}
	sessionID := strings.TrimSpace(chatSessionID)
	if sessionID == "" {
		sessionID = ids.New()
	}
	wsURL, err := cfg.WebSocketURL("")
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	chat, err := client.NewChat(wsURL, sessionID)
	if err != nil {
		return err
	}
	if err := chat.Connect(ctx); err != nil {
		return err
	}
	defer chat.Close()

	out := cmd.OutOrStdout()
	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	fmt.Fprintf(out, "session %s\n", sessionID)
	if interactive {
		fmt.Fprintln(out, "Describe the decision you're facing.")
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(cmd.InOrStdin())
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		if interactive {
			fmt.Fprint(out, "> ")
		}
		var line string
		select {
		case <-ctx.Done():
			return nil
		case <-chat.Done():
			return fmt.Errorf("connection closed")
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(l)
		}
		if line == "" {
			continue
		}

		frame, quit, err := parseChatLine(line)
		if quit {
			return nil
		}
		if err != nil {
			fmt.Fprintln(out, err)
			continue
		}
		if err := chat.Send(ctx, frame); err != nil {
			return err
		}
		if err := awaitReply(ctx, chat, out); err != nil {
			return err
		}
	}
}

// parseChatLine turns one input line into a chat frame.
func parseChatLine(line string) (types.ChatFrame, bool, error) {
	if !strings.HasPrefix(line, "/") {
		return types.ChatFrame{Action: types.ChatActionMessage, Text: line}, false, nil
	}
	command, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	switch strings.ToLower(command) {
	case "/quit", "/exit":
		return types.ChatFrame{}, true, nil
	case "/answer":
		target, answer, _ := strings.Cut(rest, " ")
		answer = strings.TrimSpace(answer)
		if target == "" || answer == "" {
			return types.ChatFrame{}, false, fmt.Errorf("usage: /answer <framework> <text>")
		}
		return types.ChatFrame{Action: types.ChatActionAnswer, TargetAgentName: target, Answer: answer}, false, nil
	case "/select":
		frameworks := strings.FieldsFunc(rest, func(r rune) bool { return r == ',' || r == ' ' })
		if len(frameworks) == 0 {
			return types.ChatFrame{}, false, fmt.Errorf("usage: /select <id,id,...>")
		}
		return types.ChatFrame{Action: types.ChatActionSelect, Frameworks: frameworks}, false, nil
	default:
		return types.ChatFrame{}, false, fmt.Errorf("unknown command %s", command)
	}
}

// awaitReply prints frames until the reply or error for the last request.
func awaitReply(ctx context.Context, chat *client.Chat, out io.Writer) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-chat.Done():
			return fmt.Errorf("connection closed")
		case err := <-chat.Errors():
			return err
		case frame := <-chat.Frames():
			switch frame.Action {
			case types.ChatActionEvent:
				if chatShowEvents && frame.Event != nil {
					fmt.Fprintf(out, "  [%s phase=%s]\n", frame.Event.EventType, frame.Event.Phase)
				}
			case types.ChatActionError:
				if frame.Error != nil {
					fmt.Fprintf(out, "error: %s\n", errorMessage(*frame.Error))
				}
				return nil
			case types.ChatActionReply:
				if frame.Reply != nil {
					fmt.Fprintln(out, formatReply(*frame.Reply))
				}
				return nil
			}
		}
	}
}

func errorMessage(body types.ErrorResponse) string {
	if body.Message != "" {
		return body.Message
	}
	return body.Error
}

func formatReply(reply types.Reply) string {
	text := strings.TrimSpace(reply.Message)
	if text == "" && reply.Recommendation != "" {
		text = reply.Recommendation
	}
	return text
}
