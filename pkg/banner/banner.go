package banner

import (
	"fmt"

	"parley/pkg/config"
)

const banner = `
██████╗  █████╗ ██████╗ ██╗     ███████╗██╗   ██╗
██╔══██╗██╔══██╗██╔══██╗██║     ██╔════╝╚██╗ ██╔╝
██████╔╝███████║██████╔╝██║     █████╗   ╚████╔╝
██╔═══╝ ██╔══██║██╔══██╗██║     ██╔══╝    ╚██╔╝
██║     ██║  ██║██║  ██║███████╗███████╗   ██║
╚═╝     ╚═╝  ╚═╝╚═╝  ╚═╝╚══════╝╚══════╝   ╚═╝
`

// Print shows the startup banner with the effective runtime settings.
func Print(cfg *config.Config, version string) {
	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	if cfg.Server.UnixSocket != "" {
		fmt.Printf("Listen:   unix:%s\n", cfg.Server.UnixSocket)
	} else {
		fmt.Printf("Listen:   %s\n", cfg.Addr())
	}
	if cfg.Storage.DBPath != "" {
		fmt.Printf("DB Path:  %s\n", cfg.Storage.DBPath)
	} else {
		fmt.Println("DB Path:  in-memory (state is lost on restart; use --db for persistence)")
	}
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}

	fmt.Println("\n== Endpoints ==================================================")
	fmt.Println("GET /ws       - chat protocol (websocket, CBOR frames)")
	fmt.Println("GET /healthz  - liveness probe")
	fmt.Println("GET /metrics  - Prometheus metrics")
	if cfg.Server.StaticDir != "" {
		fmt.Printf("GET /         - static files from %s\n", cfg.Server.StaticDir)
	}

	fmt.Println("\n== Logs: =================================================")
}
