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
	"time"

	"github.com/spf13/cobra"

	"github.com/aschepis/backscratcher/llmrt/calllog"
	"github.com/aschepis/backscratcher/llmrt/llm"
	"github.com/aschepis/backscratcher/llmrt/runtime"
)

type chatFlags struct {
	stream         bool
	provider       string
	model          string
	system         string
	maxTokens      int
	conversationID string
	noTools        bool
}

func chatCmd(global *globalFlags) *cobra.Command {
	flags := &chatFlags{}
	cmd := &cobra.Command{
		Use:   "chat [prompt]",
		Short: "Send a prompt to the active provider",
		Long: `Send a prompt to the active provider and print the answer.

Without --stream, function calls requested by the model are executed and their
results fed back until the model answers. The prompt is read from stdin when no
argument is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := readPrompt(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(ctx, global, appOptions{connectMCP: !flags.stream && !flags.noTools})
			if err != nil {
				return err
			}
			defer a.close()

			if flags.provider != "" {
				if err := a.rt.Providers().SetActive(flags.provider); err != nil {
					return err
				}
			}

			opts := llm.DefaultChatOptions().WithModel(flags.model)
			if flags.maxTokens > 0 {
				opts.MaxTokens = flags.maxTokens
			}

			var msgs []llm.Message
			if flags.system != "" {
				msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: flags.system})
			}
			msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: prompt})

			out := cmd.OutOrStdout()
			if flags.stream {
				return streamChat(calllog.WithConversation(ctx, flags.conversationID), a.rt, msgs, opts, out)
			}
			return converse(ctx, a, flags, msgs, opts, out)
		},
	}
	cmd.Flags().BoolVar(&flags.stream, "stream", false, "Stream tokens as they arrive (no function calling)")
	cmd.Flags().StringVarP(&flags.provider, "provider", "p", "", "Provider to use instead of the configured active one")
	cmd.Flags().StringVarP(&flags.model, "model", "m", "", "Model to use instead of the provider default")
	cmd.Flags().StringVarP(&flags.system, "system", "s", "", "System prompt")
	cmd.Flags().IntVar(&flags.maxTokens, "max-tokens", 0, "Maximum tokens to generate")
	cmd.Flags().StringVar(&flags.conversationID, "conversation", "", "Conversation ID to log the calls under")
	cmd.Flags().BoolVar(&flags.noTools, "no-tools", false, "Do not offer functions to the model")
	return cmd
}

func readPrompt(in io.Reader, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	data, err := io.ReadAll(bufio.NewReader(in))
	if err != nil {
		return "", fmt.Errorf("failed to read prompt: %w", err)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", fmt.Errorf("prompt is empty")
	}
	return prompt, nil
}

func converse(ctx context.Context, a *app, flags *chatFlags, msgs []llm.Message, opts *llm.ChatOptions, out io.Writer) error {
	if flags.noTools {
		a.rt.Functions().Clear()
	}
	conv, err := a.rt.Converse(ctx, flags.conversationID, msgs, opts)
	if err != nil {
		return err
	}
	for _, exec := range conv.ToolExecutions {
		status := "ok"
		switch {
		case exec.Err != nil:
			status = "error: " + exec.Err.Error()
		case exec.Result.FromCache:
			status = "cached"
		}
		fmt.Fprintf(os.Stderr, "[tool] %s (%s, %s)\n", exec.Name, status, exec.Duration.Round(time.Millisecond))
	}
	fmt.Fprintln(out, conv.Response.Content)
	a.logger.Info().
		Str("conversationId", conv.ID).
		Int("rounds", conv.Rounds).
		Int("totalTokens", conv.Usage.TotalTokens).
		Msg("Conversation finished")
	return nil
}

func streamChat(ctx context.Context, rt *runtime.Runtime, msgs []llm.Message, opts *llm.ChatOptions, out io.Writer) error {
	done := make(chan error, 1)
	listener := llm.ChatListenerFuncs{
		TokenFunc: func(tok string) {
			fmt.Fprint(out, tok)
		},
		CompleteFunc: func(*llm.ChatResponse) {
			fmt.Fprintln(out)
			done <- nil
		},
		ErrorFunc: func(err error) {
			done <- err
		},
	}
	if err := rt.ChatStream(ctx, msgs, opts, listener); err != nil {
		return err
	}
	return <-done
}
