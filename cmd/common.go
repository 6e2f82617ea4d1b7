package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/GiGurra/boa/pkg/boa"
	jmon "github.com/jmonlabs/jmon-daw-sub001"
	"github.com/jmonlabs/jmon-daw-sub001/graph"
	"github.com/jmonlabs/jmon-daw-sub001/transport"
)

func defaultParamEnricher() boa.ParamEnricher {
	return boa.ParamEnricherCombine(
		boa.ParamEnricherBool,
		boa.ParamEnricherName,
		boa.ParamEnricherShort,
	)
}

func readSongFile(path string) (jmon.Song, error) {
	f, err := os.Open(path)
	if err != nil {
		return jmon.Song{}, fmt.Errorf("could not open song: %w", err)
	}
	defer f.Close()
	song, err := jmon.ReadSong(f)
	if err != nil {
		return jmon.Song{}, fmt.Errorf("could not read %v: %w", path, err)
	}
	return song, nil
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func warningKind(w transport.Warning) string {
	switch w.(type) {
	case jmon.PolyphonyWarning:
		return "polyphony"
	case graph.BuildWarning:
		return "graph"
	case transport.ParseWarning:
		return "parse"
	}
	return "other"
}
