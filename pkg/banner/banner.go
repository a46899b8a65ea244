// Package banner prints the startup banner cmd/ifproxy shows before it
// starts accepting connections.
package banner

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/paulGUZU/ifproxy/pkg/config"
)

const art = `
██╗███████╗██████╗ ██████╗  ██████╗ ██╗  ██╗██╗   ██╗
██║██╔════╝██╔══██╗██╔══██╗██╔═══██╗╚██╗██╔╝╚██╗ ██╔╝
██║█████╗  ██████╔╝██████╔╝██║   ██║ ╚███╔╝  ╚████╔╝
██║██╔══╝  ██╔═══╝ ██╔══██╗██║   ██║ ██╔██╗   ╚██╔╝
██║██║     ██║     ██║  ██║╚██████╔╝██╔╝ ██╗   ██║
╚═╝╚═╝     ╚═╝     ╚═╝  ╚═╝ ╚═════╝ ╚═╝  ╚═╝   ╚═╝
`

// Print writes the ASCII-art banner.
func Print() {
	c := color.New(color.FgCyan, color.Bold)
	c.Println(art)
	fmt.Printf("   Interface-bound forward proxy\n")
	fmt.Printf("   Start Time: %s\n", time.Now().Format(time.RFC1123))
	fmt.Println(strings.Repeat("-", 50))
}

// PrintStartup prints the resolved configuration once both listeners are
// about to start accepting.
func PrintStartup(cfg *config.Config) {
	Print()
	color.Green("✓ Proxy Started Successfully")
	fmt.Printf("   • Interface:     %s\n", cfg.Iface)
	fmt.Printf("   • HTTP Listen:   %s\n", cfg.HTTPListen)
	if cfg.SOCKS5Enabled {
		authState := "no-auth"
		if cfg.HasSOCKS5Auth() {
			authState = "user/pass"
		}
		fmt.Printf("   • SOCKS5 Listen: %s (%s)\n", cfg.SOCKS5Listen, authState)
	} else {
		fmt.Printf("   • SOCKS5:        disabled\n")
	}
	fmt.Printf("   • Max Conns:     %d\n", cfg.MaxConns)
	fmt.Println(strings.Repeat("-", 50))
}
