package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/alecthomas/kong"

	"github.com/seoulengine/moriarty/internal/kongutil"
	"github.com/seoulengine/moriarty/pkg/kongini"
)

const (
	appConfigDir  = "moriartyd"
	appConfigFile = "config.ini"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
	builtBy = "unknown"
)

type app struct {
	ServerApp serverApp `cmd:"" name:"server" help:"Run the content server."`

	Version kong.VersionFlag `help:"Show application version info."`
	Config  kong.ConfigFlag  `help:"Load configuration from file." env:"MORIARTY_CONFIG_FILE"`
}

func main() {
	var app app
	k := kong.Must(&app,
		kong.Name("moriartyd"),
		kong.Description("Development-time content server: remote file access, hot reload and cook-on-demand for game clients."),
		kong.Configuration(kongini.Loader, configLocations()...),
		kong.Vars{
			"version": fmt.Sprintf("%s (commit '%s' at '%s' build by '%s')", version, commit, date, builtBy),
		},
		kong.UsageOnError(),
		kongutil.BinSizeMapper,
	)
	ctx, err := k.Parse(os.Args[1:])
	k.FatalIfErrorf(err)
	k.FatalIfErrorf(ctx.Run())
}

func configLocations() []string {
	var ret []string
	userConfigDir, err := os.UserConfigDir()
	if err == nil {
		ret = append(ret, filepath.Join(userConfigDir, appConfigDir, appConfigFile))
	}

	ret = append(ret, appConfigFile) // search in current workdir
	return ret
}
