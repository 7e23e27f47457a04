package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type GlobalOptions struct {
	ConfigFile string
	ServerUrl  string
}

func DefaultGlobalOptions() GlobalOptions {
	return GlobalOptions{
		ServerUrl: "http://localhost:8000",
	}
}

func (o *GlobalOptions) Bind(fs *pflag.FlagSet) {
	fs.StringVarP(&o.ConfigFile, "config", "c", o.ConfigFile, "Path to configuration file")
	fs.StringVarP(&o.ServerUrl, "server-url", "u", o.ServerUrl, "Address of the server")
}

func (o *GlobalOptions) Complete(cmd *cobra.Command, args []string) error {
	return nil
}

func (o *GlobalOptions) Validate(args []string) error {
	return nil
}
