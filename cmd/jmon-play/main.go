package main

import (
	"github.com/GiGurra/boa/pkg/boa"
	"github.com/jmonlabs/jmon-daw-sub001/cmd"
	"github.com/jmonlabs/jmon-daw-sub001/version"
	"github.com/spf13/cobra"
)

func main() {
	boa.CmdT[boa.NoParams]{
		Use:     "jmon-play",
		Short:   "Play and inspect jmon songs",
		Version: version.VersionOrHash,
		SubCmds: []*cobra.Command{
			cmd.PlayCmd(),
			cmd.EventsCmd(),
			cmd.CheckCmd(),
		},
	}.Run()
}
