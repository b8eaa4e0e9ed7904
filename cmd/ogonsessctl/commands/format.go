package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"
)

const (
	formatJSON  = "json"
	formatTable = "table"
)

// errUnsupportedFormat is returned when the requested output format is not supported.
var errUnsupportedFormat = errors.New("unsupported output format")

// sessionInfo mirrors internal/otsapi.SessionInfo's JSON shape.
type sessionInfo struct {
	ID             uint32    `json:"ID"`
	State          string    `json:"State"`
	User           string    `json:"User"`
	Domain         string    `json:"Domain"`
	ClientHost     string    `json:"ClientHost"`
	ClientAddr     string    `json:"ClientAddr"`
	PermissionMask uint32    `json:"PermissionMask"`
	ConnectTime    time.Time `json:"ConnectTime"`
	DisconnectTime time.Time `json:"DisconnectTime"`
	LogonTime      time.Time `json:"LogonTime"`
}

func formatSessions(sessions []sessionInfo, format string) (string, error) {
	switch format {
	case formatJSON:
		return formatJSONIndent(sessions)
	case formatTable, "":
		return formatSessionsTable(sessions), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatSession(s sessionInfo, format string) (string, error) {
	switch format {
	case formatJSON:
		return formatJSONIndent(s)
	case formatTable, "":
		return formatSessionDetail(s), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatJSONIndent(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal to JSON: %w", err)
	}
	return string(data) + "\n", nil
}

func formatSessionsTable(sessions []sessionInfo) string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATE\tUSER\tDOMAIN\tCLIENT-HOST\tPERM")
	for _, s := range sessions {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t0x%x\n",
			s.ID, s.State, s.User, s.Domain, s.ClientHost, s.PermissionMask)
	}
	w.Flush() //nolint:errcheck // tabwriter flush into a strings.Builder never fails
	return buf.String()
}

func formatSessionDetail(s sessionInfo) string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID:\t%d\n", s.ID)
	fmt.Fprintf(w, "State:\t%s\n", s.State)
	fmt.Fprintf(w, "User:\t%s\n", s.User)
	fmt.Fprintf(w, "Domain:\t%s\n", s.Domain)
	fmt.Fprintf(w, "Client Host:\t%s\n", s.ClientHost)
	fmt.Fprintf(w, "Client Address:\t%s\n", s.ClientAddr)
	fmt.Fprintf(w, "Permission Mask:\t0x%x\n", s.PermissionMask)
	if !s.ConnectTime.IsZero() {
		fmt.Fprintf(w, "Connect Time:\t%s\n", s.ConnectTime.Format(time.RFC3339))
	}
	if !s.DisconnectTime.IsZero() {
		fmt.Fprintf(w, "Disconnect Time:\t%s\n", s.DisconnectTime.Format(time.RFC3339))
	}
	if !s.LogonTime.IsZero() {
		fmt.Fprintf(w, "Logon Time:\t%s\n", s.LogonTime.Format(time.RFC3339))
	}
	w.Flush() //nolint:errcheck // tabwriter flush into a strings.Builder never fails
	return buf.String()
}
