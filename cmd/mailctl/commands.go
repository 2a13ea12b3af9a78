package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"lessonplan/backend/internal/config"
	"lessonplan/backend/internal/domain"
	"lessonplan/backend/internal/storage/filesystem"
)

// newRootCmd 构建 mailctl 命令树
//
// 命令直接操作持久化目录，服务运行时恢复的死信要等下次启动加载存储后才会发送。
func newRootCmd() *cobra.Command {
	var storagePath string

	openStore := func() (*filesystem.MessageStore, error) {
		path := storagePath
		if path == "" {
			cfg, err := config.Load()
			if err != nil {
				return nil, fmt.Errorf("failed to load config: %w", err)
			}
			path = cfg.Email.StoragePath
		}
		return filesystem.NewMessageStore(path)
	}

	rootCmd := &cobra.Command{
		Use:           "mailctl",
		Short:         "Email queue operator tool",
		Long:          "Inspects the durable email queue and manages dead-lettered messages",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&storagePath, "path", "", "email storage root (default: LESSONPLAN_EMAIL_STORAGE_PATH)")

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show queued and dead-lettered message counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			stats, err := store.Stats()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "storage:      %s\n", store.BasePath())
			fmt.Fprintf(out, "queued:       %d (%d bytes)\n", stats.Queued, stats.QueueBytes)
			fmt.Fprintf(out, "dead-letter:  %d (%d bytes)\n", stats.DeadLettered, stats.DeadLetterBytes)
			return nil
		},
	}

	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "List messages waiting to be sent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			ids, err := store.ListIDs()
			if err != nil {
				return err
			}
			return printMessages(cmd.OutOrStdout(), ids, store.Read)
		},
	}

	deadLetterCmd := &cobra.Command{
		Use:   "deadletter",
		Short: "Manage messages that exhausted their retries",
	}

	deadLetterListCmd := &cobra.Command{
		Use:   "list",
		Short: "List dead-lettered messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			ids, err := store.ListDeadLetterIDs()
			if err != nil {
				return err
			}
			return printMessages(cmd.OutOrStdout(), ids, store.ReadDeadLetter)
		},
	}

	deadLetterShowCmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Print a dead-lettered message as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			msg, err := store.ReadDeadLetter(args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), messageView(msg))
		},
	}

	deadLetterRequeueCmd := &cobra.Command{
		Use:   "requeue <id>",
		Short: "Move a dead-lettered message back to the queue with its retry count reset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			msg, err := store.RestoreDeadLetter(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ message %s requeued; it is sent after the next server start\n", msg.ID)
			return nil
		},
	}

	deadLetterCmd.AddCommand(deadLetterListCmd, deadLetterShowCmd, deadLetterRequeueCmd)
	rootCmd.AddCommand(statsCmd, queueCmd, deadLetterCmd)
	return rootCmd
}

type attachmentView struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        int    `json:"size"`
}

type messageDetail struct {
	*domain.EmailMessage
	Attachments []attachmentView `json:"attachments,omitempty"`
}

// messageView 附件只输出名称和大小
func messageView(msg *domain.EmailMessage) messageDetail {
	view := messageDetail{EmailMessage: msg}
	for _, a := range msg.Attachments {
		view.Attachments = append(view.Attachments, attachmentView{
			Filename:    a.Filename,
			ContentType: a.ContentType,
			Size:        len(a.Content),
		})
	}
	return view
}

func printJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printMessages 按创建时间输出摘要表，无法读取的记录单独标出
func printMessages(out io.Writer, ids []string, read func(id string) (*domain.EmailMessage, error)) error {
	messages := make([]*domain.EmailMessage, 0, len(ids))
	var unreadable []string
	for _, id := range ids {
		msg, err := read(id)
		if err != nil {
			unreadable = append(unreadable, id)
			continue
		}
		messages = append(messages, msg)
	}
	sort.Slice(messages, func(i, j int) bool { return messages[i].CreatedAt.Before(messages[j].CreatedAt) })

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCREATED\tPRIORITY\tRETRIES\tTO\tSUBJECT\tLAST ERROR")
	for _, msg := range messages {
		to := ""
		if len(msg.To) > 0 {
			to = msg.To[0]
			if len(msg.To) > 1 {
				to += fmt.Sprintf(" (+%d)", len(msg.To)-1)
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			msg.ID,
			msg.CreatedAt.Local().Format(time.DateTime),
			msg.Priority,
			msg.RetryCount,
			to,
			truncate(msg.Subject, 40),
			truncate(msg.LastError, 60),
		)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	for _, id := range unreadable {
		fmt.Fprintf(out, "! %s: unreadable record\n", id)
	}
	fmt.Fprintf(out, "%d message(s)\n", len(messages))
	return nil
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}
