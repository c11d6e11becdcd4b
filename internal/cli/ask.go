package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/suPer8Hu/genbi-gateway/internal/app"
	"github.com/suPer8Hu/genbi-gateway/internal/chat"
	"github.com/suPer8Hu/genbi-gateway/internal/wsconn"
)

func newAskCmd(rt *runtime) *cobra.Command {
	var (
		timeout time.Duration
		profile string
		rawJSON bool
	)

	cmd := &cobra.Command{
		Use:   "ask <query>",
		Short: "Ask one question and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := rt.cfg
			if profile != "" {
				cfg.ProfileName = profile
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			g, err := wire(ctx, cfg, rt.logger, wireOptions{})
			if err != nil {
				return err
			}
			defer g.Close()

			events, unsubscribe := g.app.Bus.Subscribe(64)
			defer unsubscribe()

			go func() { _ = g.conn.Run(ctx) }()

			if err := waitOpen(ctx, g.conn, events); err != nil {
				return err
			}

			turn, err := g.dispatcher.Dispatch(ctx, app.DispatchRequest{Query: strings.Join(args, " ")})
			if err != nil {
				return err
			}
			return printUntilAnswer(ctx, cmd, events, turn.SessionID, rawJSON)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "Give up waiting for the answer after this long")
	cmd.Flags().StringVar(&profile, "profile", "", "Data profile (overrides PROFILE_NAME)")
	cmd.Flags().BoolVar(&rawJSON, "json", false, "Print the raw answer JSON")
	return cmd
}

func waitOpen(ctx context.Context, conn *wsconn.Conn, events <-chan app.Event) error {
	for conn.State() != wsconn.StateOpen {
		select {
		case <-ctx.Done():
			return fmt.Errorf("connect: %w", ctx.Err())
		case e := <-events:
			if e.Type == app.EventConnection && e.Data == wsconn.StateGaveUp.String() {
				return wsconn.ErrGaveUp
			}
		case <-time.After(50 * time.Millisecond):
		}
	}
	return nil
}

func printUntilAnswer(ctx context.Context, cmd *cobra.Command, events <-chan app.Event, sessionID string, rawJSON bool) error {
	out := cmd.OutOrStdout()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for answer: %w", ctx.Err())
		case e := <-events:
			switch e.Type {
			case app.EventStatus:
				if m, ok := e.Data.(chat.StatusMessage); ok && m.SessionID == sessionID {
					fmt.Fprintf(out, "... %s %s\n", m.Status, m.Text)
				}
			case app.EventAnswer:
				if e.SessionID != sessionID {
					continue
				}
				a, _ := e.Data.(chat.AnswerPayload)
				if rawJSON {
					b, err := a.MarshalJSON()
					if err != nil {
						return err
					}
					fmt.Fprintln(out, string(b))
					return nil
				}
				fmt.Fprintln(out, a.Summary())
				for _, q := range a.SuggestedQuestions {
					fmt.Fprintf(out, "  ? %s\n", q)
				}
				return nil
			case app.EventUnauthorized:
				return errors.New("backend rejected credentials")
			case app.EventToast:
				fmt.Fprintf(cmd.ErrOrStderr(), "! %v\n", e.Data)
			}
		}
	}
}
