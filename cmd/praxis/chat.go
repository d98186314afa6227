package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/haasonsaas/praxis/internal/permissions"
	"github.com/haasonsaas/praxis/internal/sessions"
	"github.com/haasonsaas/praxis/pkg/models"
)

// buildChatCmd creates the "chat" command: the interactive REPL.
func buildChatCmd() *cobra.Command {
	var (
		configPath      string
		model           string
		provider        string
		resume          string
		skipPermissions bool
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, engineOptions{
				configPath:      configPath,
				provider:        provider,
				model:           model,
				skipPermissions: skipPermissions,
			}, resume)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file (default ~/.praxis/config.yaml)")
	cmd.Flags().StringVar(&model, "model", "", "Model ID override")
	cmd.Flags().StringVar(&provider, "provider", "", "Provider override (anthropic, bedrock, openai)")
	cmd.Flags().StringVar(&resume, "resume", "", "Session ID to resume")
	cmd.Flags().BoolVar(&skipPermissions, "dangerously-skip-permissions", false, "Run every tool without permission checks")
	return cmd
}

// buildAskCmd creates the "ask" command: one prompt, one answer.
func buildAskCmd() *cobra.Command {
	var (
		configPath      string
		model           string
		provider        string
		skipPermissions bool
	)
	cmd := &cobra.Command{
		Use:   "ask [prompt...]",
		Short: "Ask a single question and exit",
		Long: `Ask runs one conversation turn (including any tool use) and exits.
The prompt comes from the arguments, or from stdin when piped.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd, engineOptions{
				configPath:      configPath,
				provider:        provider,
				model:           model,
				skipPermissions: skipPermissions,
			}, args)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file (default ~/.praxis/config.yaml)")
	cmd.Flags().StringVar(&model, "model", "", "Model ID override")
	cmd.Flags().StringVar(&provider, "provider", "", "Provider override (anthropic, bedrock, openai)")
	cmd.Flags().BoolVar(&skipPermissions, "dangerously-skip-permissions", false, "Run every tool without permission checks")
	return cmd
}

func runChat(cmd *cobra.Command, opts engineOptions, resume string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	reader := bufio.NewReader(cmd.InOrStdin())

	var prompter permissions.Prompter
	if term.IsTerminal(int(os.Stdin.Fd())) {
		prompter = &terminalPrompter{in: reader, out: out}
	}

	eng, err := newEngine(ctx, opts, prompter)
	if err != nil {
		return err
	}
	defer eng.Close()

	p := &printer{out: out}
	fmt.Fprintln(out, dimStyle.Render(fmt.Sprintf("praxis %s · %s · %s", version, eng.model, eng.workDir)))
	if eng.skipPerms {
		fmt.Fprintln(out, warnStyle.Render("permission checks are disabled"))
	}
	fmt.Fprintln(out, dimStyle.Render(`ctrl-c interrupts a turn, "exit" or ctrl-d quits`))

	var sessionID string
	var transcript []models.Message
	if resume != "" {
		sess, err := eng.store.Get(ctx, resume)
		if err != nil {
			return fmt.Errorf("resume session: %w", err)
		}
		transcript, err = eng.store.Transcript(ctx, sess.ID)
		if err != nil {
			return fmt.Errorf("load transcript: %w", err)
		}
		sessionID = sess.ID
		fmt.Fprintln(out, dimStyle.Render(fmt.Sprintf("resumed %s (%d messages)", sess.ID, len(transcript))))
	}

	for {
		fmt.Fprint(out, promptStyle.Render("> "))
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(out)
				break
			}
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}

		if sessionID == "" {
			sessionID = createSession(ctx, eng, line)
		}
		userMsg := models.NewUserTextMessage(line)
		transcript = append(transcript, userMsg)
		persistMessage(ctx, eng, sessionID, userMsg)

		transcript = runTurn(ctx, eng, p, sessionID, transcript)
	}

	p.Summary(eng.tracker.Summarize())
	return nil
}

func runAsk(cmd *cobra.Command, opts engineOptions, args []string) error {
	ctx := cmd.Context()

	prompt := strings.TrimSpace(strings.Join(args, " "))
	if prompt == "" {
		if term.IsTerminal(int(os.Stdin.Fd())) {
			return errors.New(`prompt required: praxis ask "..."`)
		}
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("read prompt: %w", err)
		}
		prompt = strings.TrimSpace(string(data))
		if prompt == "" {
			return errors.New("empty prompt on stdin")
		}
	}

	// Permission prompts go to stderr so stdout stays the answer.
	var prompter permissions.Prompter
	if term.IsTerminal(int(os.Stdin.Fd())) {
		prompter = &terminalPrompter{in: bufio.NewReader(cmd.InOrStdin()), out: cmd.ErrOrStderr()}
	}

	eng, err := newEngine(ctx, opts, prompter)
	if err != nil {
		return err
	}
	defer eng.Close()

	p := &printer{out: cmd.OutOrStdout()}
	sessionID := createSession(ctx, eng, prompt)
	userMsg := models.NewUserTextMessage(prompt)
	persistMessage(ctx, eng, sessionID, userMsg)

	transcript := runTurn(ctx, eng, p, sessionID, []models.Message{userMsg})

	for i := len(transcript) - 1; i >= 0; i-- {
		if m, ok := transcript[i].(*models.AssistantMessage); ok {
			if m.IsAPIError {
				return errors.New("model request failed")
			}
			break
		}
	}
	return nil
}

// runTurn streams one query to completion: every engine message is rendered,
// and everything but progress snapshots is appended to the transcript and
// persisted. Ctrl-c cancels the turn, not the process.
func runTurn(ctx context.Context, eng *engine, p *printer, sessionID string, transcript []models.Message) []models.Message {
	turnCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	for msg := range eng.loop.Query(turnCtx, transcript, eng.queryOptions(turnCtx)) {
		p.Message(msg)
		switch msg.(type) {
		case *models.AssistantMessage, *models.UserMessage:
			transcript = append(transcript, msg)
			// The parent context persists interrupted turns too.
			persistMessage(ctx, eng, sessionID, msg)
		}
	}
	return transcript
}

// createSession records a new session. Failures degrade to an unpersisted
// conversation.
func createSession(ctx context.Context, eng *engine, firstPrompt string) string {
	sess := &sessions.Session{
		Title:    sessions.DeriveTitle(firstPrompt),
		Cwd:      eng.workDir,
		Provider: eng.cfg.Provider.Name,
		Model:    eng.model,
	}
	if err := eng.store.Create(ctx, sess); err != nil {
		eng.log.Warn(ctx, "session create failed, transcript will not persist", "error", err)
		return ""
	}
	return sess.ID
}

func persistMessage(ctx context.Context, eng *engine, sessionID string, msg models.Message) {
	if sessionID == "" {
		return
	}
	if err := eng.store.AppendMessage(ctx, sessionID, msg); err != nil {
		eng.log.Warn(ctx, "transcript append failed", "session_id", sessionID, "error", err)
	}
}
