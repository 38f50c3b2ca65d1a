package cmd

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/spindle-dl/spindle/internal/config"
	"github.com/spindle-dl/spindle/internal/core"
	"github.com/spindle-dl/spindle/internal/tui"
)

var connectCmd = &cobra.Command{
	Use:   "connect [host:port]",
	Short: "Attach the dashboard to a running spindle daemon",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var target string
		if len(args) > 0 {
			target = args[0]
		} else if host := resolveHostTarget(); host != "" {
			target = host
		} else {
			// Auto-discovery from the local port file.
			port := readActivePort()
			if port > 0 {
				target = fmt.Sprintf("127.0.0.1:%d", port)
			} else {
				fmt.Println("No active spindle daemon found locally.")
				fmt.Println("Usage: spindle connect <host:port>")
				os.Exit(1)
			}
		}

		insecureHTTP, _ := cmd.Flags().GetBool("insecure-http")
		baseURL, err := resolveConnectBaseURL(target, insecureHTTP)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}

		token, err := resolveTokenForTarget(target)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}

		svc := core.NewRemoteService(baseURL, token)
		if err := svc.Ping(); err != nil {
			fmt.Printf("Failed to connect to %s: %v\n", baseURL, err)
			os.Exit(1)
		}

		stream, cleanup, err := svc.Events(context.Background())
		if err != nil {
			fmt.Printf("Failed to subscribe to %s: %v\n", baseURL, err)
			os.Exit(1)
		}
		defer cleanup()

		settings, err := config.LoadSettings()
		if err != nil {
			settings = config.DefaultSettings()
		}

		m := tui.InitialRootModel(svc, Version, stream, settings, true)
		p := tea.NewProgram(m, tea.WithAltScreen())
		if _, err := p.Run(); err != nil {
			fmt.Printf("Error running program: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(connectCmd)
	connectCmd.Flags().Bool("insecure-http", false, "Allow plain HTTP for non-loopback hosts")
}

// resolveConnectBaseURL turns a user-supplied target into a base URL.
// Bare host:port defaults to https, except loopback which stays on
// plain http. Explicit http:// to a remote host is refused unless
// allowInsecureHTTP is set, since the token would cross the wire in
// the clear.
func resolveConnectBaseURL(target string, allowInsecureHTTP bool) (string, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return "", fmt.Errorf("empty target")
	}

	if strings.Contains(target, "://") {
		u, err := url.Parse(target)
		if err != nil {
			return "", fmt.Errorf("invalid target %q: %w", target, err)
		}
		switch u.Scheme {
		case "https":
			return strings.TrimRight(target, "/"), nil
		case "http":
			if isLoopbackHost(u.Hostname()) || allowInsecureHTTP {
				return strings.TrimRight(target, "/"), nil
			}
			return "", fmt.Errorf("refusing plain http to non-loopback host %q; use https or pass --insecure-http", u.Hostname())
		default:
			return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
		}
	}

	if isLoopbackHost(hostnameFromTarget(target)) {
		return "http://" + target, nil
	}
	if allowInsecureHTTP {
		return "http://" + target, nil
	}
	return "https://" + target, nil
}

func hostnameFromTarget(target string) string {
	if host, _, err := net.SplitHostPort(target); err == nil {
		return host
	}
	return target
}

func isLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
