package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"Rectify/internal/app"
	"Rectify/internal/apperr"
	"Rectify/internal/questionnaire"
	"Rectify/internal/session"
)

var interviewChart string

var interviewCmd = &cobra.Command{
	Use:   "interview",
	Short: "Run a questionnaire interactively on the terminal",
	RunE:  runInterviewCmd,
}

func init() {
	interviewCmd.Flags().StringVar(&interviewChart, "chart", "", "chart id")
	_ = interviewCmd.MarkFlagRequired("chart")
}

func runInterviewCmd(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		return interview(ctx, a.Questionnaire, interviewChart, cmd.InOrStdin(), cmd.OutOrStdout())
	})
}

// interview asks questions until the session is ready to complete, the user
// types /done or input ends. Leaving early keeps the session for later.
func interview(ctx context.Context, svc *questionnaire.Service, chartID string, in io.Reader, out io.Writer) error {
	sess, err := svc.Start(ctx, chartID)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "=== Birth Time Rectification ===")
	fmt.Fprintf(out, "Session: %s\n", sess.ID)
	fmt.Fprintln(out, "Type /done to finish early, /status for progress, /quit to leave")
	fmt.Fprintln(out)

	scanner := bufio.NewScanner(in)
	var pending *session.Question

	for {
		if pending == nil {
			q, err := svc.Next(ctx, sess.ID)
			switch {
			case apperr.Fatal(err):
				return err
			case err != nil:
				fmt.Fprintf(out, "Error: %v\nPress enter to try again.\n", err)
			default:
				pending = &q
				printQuestion(out, q)
			}
		}

		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			switch input {
			case "/quit":
				fmt.Fprintf(out, "Session saved: %s\n", sess.ID)
				return nil
			case "/status":
				if err := printStatus(ctx, svc, sess.ID, out); err != nil {
					return err
				}
			case "/done":
				done, err := finish(ctx, svc, sess.ID, out)
				if done || err != nil {
					return err
				}
			default:
				fmt.Fprintf(out, "Unknown command: %s\n", input)
			}
			continue
		}

		if pending == nil {
			continue
		}
		res, err := svc.Answer(ctx, sess.ID, questionnaire.AnswerInput{
			QuestionID: pending.ID,
			Text:       resolveOption(*pending, input),
		})
		if err != nil {
			if apperr.Fatal(err) {
				return err
			}
			fmt.Fprintf(out, "Error: %v\n", err)
			continue
		}
		pending = nil

		fmt.Fprintf(out, "Confidence: %.1f%%", res.Confidence)
		if res.TimeWindow != nil {
			fmt.Fprintf(out, "  window %s-%s", res.TimeWindow.Start, res.TimeWindow.End)
		}
		fmt.Fprintln(out)
		fmt.Fprintln(out)

		if res.ReadyToComplete {
			_, err := finish(ctx, svc, sess.ID, out)
			return err
		}
	}

	fmt.Fprintf(out, "\nSession saved: %s\n", sess.ID)
	return nil
}

// finish completes the session. It reports false without error when more
// answers are needed.
func finish(ctx context.Context, svc *questionnaire.Service, id string, out io.Writer) (bool, error) {
	res, err := svc.Complete(ctx, id)
	if errors.Is(err, apperr.ErrNotEnoughAnswers) {
		fmt.Fprintf(out, "%v\n", err)
		return false, nil
	}
	if err != nil {
		return false, err
	}

	fmt.Fprintf(out, "Rectified time: %s (recorded %s, adjustment %+d min)\n",
		res.RectifiedTime, res.OriginalTime, res.BestOffsetMinutes)
	fmt.Fprintf(out, "Confidence: %.1f%%\n", res.Confidence)
	return true, printJSON(out, res)
}

func printStatus(ctx context.Context, svc *questionnaire.Service, id string, out io.Writer) error {
	sess, err := svc.Get(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Answered: %d  Confidence: %.1f%%", len(sess.Answers), sess.Confidence)
	if sess.TimeWindow != nil {
		fmt.Fprintf(out, "  window %s-%s", sess.TimeWindow.Start, sess.TimeWindow.End)
	}
	fmt.Fprintln(out)
	return nil
}

func printQuestion(out io.Writer, q session.Question) {
	fmt.Fprintf(out, "[%s] %s\n", q.Category, q.Text)
	for i, o := range q.Options {
		fmt.Fprintf(out, "  %d) %s\n", i+1, o.Text)
	}
}

// resolveOption maps an option number or id to its text
func resolveOption(q session.Question, input string) string {
	if n, err := strconv.Atoi(input); err == nil && n >= 1 && n <= len(q.Options) {
		return q.Options[n-1].Text
	}
	for _, o := range q.Options {
		if strings.EqualFold(o.ID, input) {
			return o.Text
		}
	}
	return input
}
