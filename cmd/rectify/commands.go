package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"Rectify/internal/app"
	"Rectify/internal/questionnaire"
)

var (
	chartID    string
	sessionID  string
	questionID string
	answerText string
	quality    float64
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Create a session, optionally bound to a chart",
	RunE:  runStart,
}

var attachCmd = &cobra.Command{
	Use:   "attach",
	Short: "Bind a chart to an existing session",
	RunE:  runAttach,
}

var nextCmd = &cobra.Command{
	Use:   "next",
	Short: "Generate the next question of a session",
	RunE:  runNext,
}

var answerCmd = &cobra.Command{
	Use:   "answer",
	Short: "Record an answer to an issued question",
	RunE:  runAnswer,
}

var completeCmd = &cobra.Command{
	Use:   "complete",
	Short: "Score candidate offsets and print the rectified time",
	RunE:  runComplete,
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the full state of a session",
	RunE:  runShow,
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List stored sessions",
	RunE:  runSessions,
}

var transcriptCmd = &cobra.Command{
	Use:   "transcript",
	Short: "Print the recorded question and answer pairs of a session",
	RunE:  runTranscript,
}

func init() {
	startCmd.Flags().StringVar(&chartID, "chart", "", "chart id")

	attachCmd.Flags().StringVar(&sessionID, "session", "", "session id")
	attachCmd.Flags().StringVar(&chartID, "chart", "", "chart id")
	_ = attachCmd.MarkFlagRequired("session")
	_ = attachCmd.MarkFlagRequired("chart")

	answerCmd.Flags().StringVar(&sessionID, "session", "", "session id")
	answerCmd.Flags().StringVar(&questionID, "question", "", "question id")
	answerCmd.Flags().StringVar(&answerText, "text", "", "answer text")
	answerCmd.Flags().Float64Var(&quality, "quality", 0, "answer quality between 0 and 1")
	_ = answerCmd.MarkFlagRequired("session")
	_ = answerCmd.MarkFlagRequired("question")
	_ = answerCmd.MarkFlagRequired("text")

	for _, c := range []*cobra.Command{nextCmd, completeCmd, showCmd, transcriptCmd} {
		c.Flags().StringVar(&sessionID, "session", "", "session id")
		_ = c.MarkFlagRequired("session")
	}

	rootCmd.AddCommand(startCmd, attachCmd, nextCmd, answerCmd, completeCmd, showCmd, sessionsCmd, transcriptCmd, interviewCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		sess, err := a.Questionnaire.Start(ctx, chartID)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), sess)
	})
}

func runAttach(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		sess, err := a.Questionnaire.AttachChart(ctx, sessionID, chartID)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), sess)
	})
}

func runNext(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		q, err := a.Questionnaire.Next(ctx, sessionID)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), q)
	})
}

func runAnswer(cmd *cobra.Command, args []string) error {
	in := questionnaire.AnswerInput{QuestionID: questionID, Text: answerText}
	if cmd.Flags().Changed("quality") {
		if quality < 0 || quality > 1 {
			return fmt.Errorf("quality must be between 0 and 1")
		}
		q := quality
		in.Quality = &q
	}
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		res, err := a.Questionnaire.Answer(ctx, sessionID, in)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	})
}

func runComplete(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		res, err := a.Questionnaire.Complete(ctx, sessionID)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	})
}

func runShow(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		sess, err := a.Questionnaire.Get(ctx, sessionID)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), sess)
	})
}

func runSessions(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		list, err := a.Sessions.List(ctx)
		if err != nil {
			return fmt.Errorf("failed to list sessions: %w", err)
		}
		return printJSON(cmd.OutOrStdout(), list)
	})
}

func runTranscript(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		if a.Transcripts == nil {
			return fmt.Errorf("transcripts require a session database")
		}
		rows, err := a.Transcripts.Transcript(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("failed to read transcript: %w", err)
		}
		return printJSON(cmd.OutOrStdout(), rows)
	})
}
