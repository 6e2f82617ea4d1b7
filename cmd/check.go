package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/GiGurra/boa/pkg/boa"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/jmonlabs/jmon-daw-sub001/clock"
	"github.com/jmonlabs/jmon-daw-sub001/transport"
	"github.com/spf13/cobra"
)

type CheckParams struct {
	File  string  `pos:"true" help:"Song file, JSON or YAML."`
	Tempo float64 `optional:"true" help:"Tempo in BPM overriding the tempo of the song; 0 keeps it." default:"0"`
}

func CheckCmd() *cobra.Command {
	return boa.CmdT[CheckParams]{
		Use:         "check",
		Short:       "Report the warnings of a song without playing it",
		ParamEnrich: defaultParamEnricher(),
		RunFunc: func(params *CheckParams, cmd *cobra.Command, args []string) {
			if err := runCheck(params, os.Stdout); err != nil {
				fmt.Fprintf(os.Stderr, "check: %v\n", err)
				os.Exit(1)
			}
		},
	}.ToCobra()
}

// runCheck prints the warnings of the song. Only songs that cannot be loaded
// at all are errors.
func runCheck(params *CheckParams, stdout io.Writer) error {
	song, err := readSongFile(params.File)
	if err != nil {
		return err
	}
	if params.Tempo > 0 {
		song.Tempo = params.Tempo
	}
	tr := transport.New(clock.NewManual(), transport.WithLogger(slog.New(slog.DiscardHandler)))
	defer tr.Close()
	warnings, err := tr.Load(song)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%d sequences, %.3f s at %g BPM, %d warnings\n", len(song.Sequences), tr.Duration(), tr.Tempo(), len(warnings))
	if len(warnings) == 0 {
		return nil
	}
	t := table.NewWriter()
	t.SetOutputMirror(stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"#", "Kind", "Warning"})
	for i, w := range warnings {
		kind := warningKind(w)
		color := text.FgYellow
		if kind == "graph" {
			color = text.FgHiRed
		}
		t.AppendRow(table.Row{i + 1, color.Sprint(kind), w.String()})
	}
	t.Render()
	return nil
}
