package token

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/stephnangue/profilebridge/auth/token"
	"github.com/stephnangue/profilebridge/cmd/helpers"
)

var TokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage the api token shared with the browser extension",
	Long: `
The token command groups subcommands for the api token. The server creates
the token on first start and stores it in the token file; the browser
extension sends it with every request.

Examples:

  Show the token, masked:

    $ profilebridge token show

  Copy the token to the clipboard for pasting into the extension:

    $ profilebridge token copy

  Replace the token:

    $ profilebridge token rotate
`,
}

func init() {
	TokenCmd.AddCommand(ShowCmd)
	TokenCmd.AddCommand(CopyCmd)
	TokenCmd.AddCommand(RotateCmd)
}

func manager() (*token.Manager, error) {
	conf, err := helpers.LoadConfig()
	if err != nil {
		return nil, err
	}
	return token.NewManager(token.ManagerConfig{
		Path:   conf.Auth.TokenFile,
		Logger: helpers.Logger(),
	}), nil
}

func load() (*token.Manager, string, error) {
	m, err := manager()
	if err != nil {
		return nil, "", err
	}
	tok, err := m.Load()
	if errors.Is(err, token.ErrNoToken) {
		return nil, "", fmt.Errorf("no api token at %s, start the server to create one", m.Path())
	}
	if err != nil {
		return nil, "", err
	}
	return m, tok, nil
}
