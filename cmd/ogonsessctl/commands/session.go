package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func sessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect and manage sessions",
	}

	cmd.AddCommand(sessionListCmd())
	cmd.AddCommand(sessionShowCmd())
	cmd.AddCommand(sessionDisconnectCmd())
	cmd.AddCommand(sessionLogoffCmd())
	cmd.AddCommand(sessionMessageCmd())
	cmd.AddCommand(sessionVChannelCmd())

	return cmd
}

func sessionListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var sessions []sessionInfo
			if err := client.get(cmd.Context(), "/sessions", &sessions); err != nil {
				return fmt.Errorf("list sessions: %w", err)
			}
			out, err := formatSessions(sessions, outputFormat)
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		},
	}
}

func sessionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show details of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var info sessionInfo
			if err := client.get(cmd.Context(), "/sessions/"+args[0], &info); err != nil {
				return fmt.Errorf("query session information: %w", err)
			}
			out, err := formatSession(info, outputFormat)
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		},
	}
}

func sessionDisconnectCmd() *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "disconnect <session-id>",
		Short: "Disconnect a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client.post(cmd.Context(), "/sessions/"+args[0]+"/disconnect", waitRequest{Wait: wait}, nil); err != nil {
				return fmt.Errorf("disconnect session: %w", err)
			}
			fmt.Println("disconnected")
			return nil
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "block until the disconnect has been applied")
	return cmd
}

func sessionLogoffCmd() *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "logoff <session-id>",
		Short: "Log off a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client.post(cmd.Context(), "/sessions/"+args[0]+"/logoff", waitRequest{Wait: wait}, nil); err != nil {
				return fmt.Errorf("logoff session: %w", err)
			}
			fmt.Println("logged off")
			return nil
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "block until the session has fully torn down")
	return cmd
}

type waitRequest struct {
	Wait bool `json:"wait"`
}

func sessionMessageCmd() *cobra.Command {
	var style uint32
	var timeoutSeconds uint32
	cmd := &cobra.Command{
		Use:   "message <session-id> <text>",
		Short: "Send a message box to a session and print the button the user pressed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := sendMessageRequest{Text: args[1], Style: style, TimeoutSeconds: timeoutSeconds}
			var resp struct {
				ButtonID uint32 `json:"buttonId"`
			}
			if err := client.post(cmd.Context(), "/sessions/"+args[0]+"/message", req, &resp); err != nil {
				return fmt.Errorf("send message: %w", err)
			}
			fmt.Printf("buttonId=%d\n", resp.ButtonID)
			return nil
		},
	}
	cmd.Flags().Uint32Var(&style, "style", 0, "message box style flags")
	cmd.Flags().Uint32Var(&timeoutSeconds, "timeout", 0, "seconds to wait for a response (0 = no timeout)")
	return cmd
}

type sendMessageRequest struct {
	Text           string `json:"text"`
	Style          uint32 `json:"style"`
	TimeoutSeconds uint32 `json:"timeoutSeconds"`
}

func sessionVChannelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vchannel",
		Short: "Open or close a virtual channel on a session",
	}
	cmd.AddCommand(sessionVChannelOpenCmd())
	cmd.AddCommand(sessionVChannelCloseCmd())
	return cmd
}

func sessionVChannelOpenCmd() *cobra.Command {
	var dynamic bool
	cmd := &cobra.Command{
		Use:   "open <session-id> <channel-name>",
		Short: "Open a virtual channel",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := vchannelOpenRequest{Name: args[1], Dynamic: dynamic}
			var resp struct {
				PipeName string `json:"pipeName"`
				Instance uint32 `json:"instance"`
			}
			if err := client.post(cmd.Context(), "/sessions/"+args[0]+"/vchannel/open", req, &resp); err != nil {
				return fmt.Errorf("open virtual channel: %w", err)
			}
			fmt.Printf("pipeName=%s instance=%d\n", resp.PipeName, resp.Instance)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dynamic, "dynamic", false, "open as a dynamic virtual channel")
	return cmd
}

type vchannelOpenRequest struct {
	Name    string `json:"name"`
	Dynamic bool   `json:"dynamic"`
}

func sessionVChannelCloseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "close <session-id> <instance>",
		Short: "Close a virtual channel by instance id",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			instance, err := strconv.ParseUint(args[1], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid instance id %q: %w", args[1], err)
			}
			req := struct {
				Instance uint32 `json:"instance"`
			}{Instance: uint32(instance)}
			var resp struct {
				Closed bool `json:"closed"`
			}
			if err := client.post(cmd.Context(), "/sessions/"+args[0]+"/vchannel/close", req, &resp); err != nil {
				return fmt.Errorf("close virtual channel: %w", err)
			}
			fmt.Printf("closed=%v\n", resp.Closed)
			return nil
		},
	}
}
