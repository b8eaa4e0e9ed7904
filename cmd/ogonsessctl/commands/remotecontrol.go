package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func remoteControlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remote-control",
		Short: "Start or stop shadowing one session from another",
	}
	cmd.AddCommand(remoteControlStartCmd())
	cmd.AddCommand(remoteControlStopCmd())
	return cmd
}

func remoteControlStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start <viewer-session-id> <target-session-id>",
		Short: "Start a remote control (shadow) session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := parseRemoteControlArgs(args)
			if err != nil {
				return err
			}
			if err := client.post(cmd.Context(), "/remote-control/start", req, nil); err != nil {
				return fmt.Errorf("start remote control session: %w", err)
			}
			fmt.Println("started")
			return nil
		},
	}
}

func remoteControlStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <viewer-session-id> <target-session-id>",
		Short: "Stop a remote control (shadow) session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := parseRemoteControlArgs(args)
			if err != nil {
				return err
			}
			if err := client.post(cmd.Context(), "/remote-control/stop", req, nil); err != nil {
				return fmt.Errorf("stop remote control session: %w", err)
			}
			fmt.Println("stopped")
			return nil
		},
	}
}

type remoteControlRequest struct {
	ViewerSessionID uint32 `json:"viewerSessionId"`
	TargetSessionID uint32 `json:"targetSessionId"`
}

func parseRemoteControlArgs(args []string) (remoteControlRequest, error) {
	viewer, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return remoteControlRequest{}, fmt.Errorf("invalid viewer session id %q: %w", args[0], err)
	}
	target, err := strconv.ParseUint(args[1], 10, 32)
	if err != nil {
		return remoteControlRequest{}, fmt.Errorf("invalid target session id %q: %w", args[1], err)
	}
	return remoteControlRequest{ViewerSessionID: uint32(viewer), TargetSessionID: uint32(target)}, nil
}
