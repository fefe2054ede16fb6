package frontend

import (
	"github.com/jghoshh/habittree/backend/config"
	"github.com/jghoshh/habittree/frontend/client"
	"github.com/jghoshh/habittree/frontend/cmd"
)

// RunFrontend starts the interactive shell against the server at cfg.ServerURL.
func RunFrontend(cfg *config.Config) {
	api := client.New(cfg.ServerURL, cfg.KeyringService)
	cmd.NewShell(api).Run()
}
