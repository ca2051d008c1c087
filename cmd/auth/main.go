// Command auth serves the portal's session API.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/edportal/sessionauth/internal/auth/app"
)

func main() {
	configFile := flag.String("config", "", "YAML config file (overrides AUTH_CONFIG_FILE)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(app.BuildVersion)
		return
	}
	if *configFile != "" {
		if err := os.Setenv("AUTH_CONFIG_FILE", *configFile); err != nil {
			fatal("failed to set config file", err)
		}
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		fatal("failed to load configuration", err)
	}

	application, err := app.New(cfg)
	if err != nil {
		fatal("failed to initialize application", err)
	}

	if err := application.Run(); err != nil {
		fatal("application error", err)
	}
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}
