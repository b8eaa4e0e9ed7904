package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func connectionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connection",
		Short: "Log a connection on or off administratively",
	}
	cmd.AddCommand(connectionLogonCmd())
	cmd.AddCommand(connectionLogoffCmd())
	return cmd
}

func connectionLogonCmd() *cobra.Command {
	var domain, hostname, address string
	var width, height, colorDepth int
	cmd := &cobra.Command{
		Use:   "logon <connection-id> <user>",
		Short: "Administratively log a connection on as user, bypassing the wire LogonUser flow",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := logonConnectionRequest{
				User:       args[1],
				Domain:     domain,
				Width:      width,
				Height:     height,
				ColorDepth: colorDepth,
				Hostname:   hostname,
				Address:    address,
			}
			var resp struct {
				PipeName  string `json:"pipeName"`
				SessionID uint32 `json:"sessionId"`
			}
			if err := client.post(cmd.Context(), "/connections/"+args[0]+"/logon", req, &resp); err != nil {
				return fmt.Errorf("logon connection: %w", err)
			}
			fmt.Printf("sessionId=%d pipeName=%s\n", resp.SessionID, resp.PipeName)
			return nil
		},
	}
	cmd.Flags().StringVar(&domain, "domain", "", "user domain")
	cmd.Flags().StringVar(&hostname, "hostname", "", "client hostname")
	cmd.Flags().StringVar(&address, "address", "", "client address")
	cmd.Flags().IntVar(&width, "width", 1280, "display width")
	cmd.Flags().IntVar(&height, "height", 800, "display height")
	cmd.Flags().IntVar(&colorDepth, "color-depth", 24, "display color depth")
	return cmd
}

type logonConnectionRequest struct {
	User       string `json:"user"`
	Domain     string `json:"domain"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	ColorDepth int    `json:"colorDepth"`
	Hostname   string `json:"hostname"`
	Address    string `json:"address"`
}

func connectionLogoffCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logoff <connection-id>",
		Short: "Log off whatever session a connection is bound to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client.post(cmd.Context(), "/connections/"+args[0]+"/logoff", nil, nil); err != nil {
				return fmt.Errorf("logoff connection: %w", err)
			}
			fmt.Println("logged off")
			return nil
		},
	}
}
